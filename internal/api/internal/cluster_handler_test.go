package internalapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/internal/api/middleware"
	"github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/internal/model"
	"github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/internal/peer"
	"github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/internal/service"
	jwtutil "github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/pkg/jwt"
)

var clusterSecret = []byte("cluster-secret")

type stubPackages struct {
	cancelErr error
	applied   *model.Package
}

func (s *stubPackages) Add(_ context.Context, req *model.Package) (*model.Package, error) {
	return req, nil
}

func (s *stubPackages) Cancel(context.Context, uuid.UUID) error { return s.cancelErr }

func (s *stubPackages) Remove(context.Context, uuid.UUID) error { return nil }

func (s *stubPackages) DisableExpirePackage(context.Context) ([]*model.Package, error) {
	return nil, nil
}

func (s *stubPackages) ApplySnapshot(_ context.Context, snapshot *model.Package) (*model.Package, error) {
	s.applied = snapshot
	return snapshot, nil
}

func (s *stubPackages) GetAllByUsername(context.Context, string) ([]*model.Package, error) {
	return nil, nil
}

type stubUsers struct {
	applied *model.User
}

func (s *stubUsers) ApplyUser(_ context.Context, user *model.User) error {
	s.applied = user
	return nil
}

func (s *stubUsers) ApplyPassword(context.Context, uuid.UUID, string) error { return nil }

func (s *stubUsers) ApplyStatus(context.Context, uuid.UUID, bool) error { return nil }

type stubServers struct{}

func (stubServers) LocalInterfaces(context.Context) ([]model.NetworkInterface, error) {
	return []model.NetworkInterface{{Name: "eth0"}}, nil
}

type stubIPs struct{}

func (stubIPs) GenerateLocal(_ context.Context, req service.GenerateIPRequest) (*model.Job, error) {
	return &model.Job{Data: req.CIDR()}, nil
}

func (stubIPs) DeleteLocal(context.Context, string) (*model.Job, error) {
	return &model.Job{}, nil
}

func newClusterRouter(packages *stubPackages, users *stubUsers) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	group := router.Group(peer.RoutePrefix, middleware.PeerAuth(clusterSecret))
	RegisterClusterRoutes(group, NewClusterHandler(packages, users, stubServers{}, stubIPs{}))
	return router
}

func peerRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	token, err := jwtutil.GeneratePeerToken(jwtutil.NewPeerClaims("10.0.0.2", time.Minute), clusterSecret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestClusterRoutes_RejectUnsignedRequests(t *testing.T) {
	router := newClusterRouter(&stubPackages{}, &stubUsers{})

	req := httptest.NewRequest(http.MethodGet, peer.RoutePrefix+peer.PathServerInterfaces, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestClusterAddUser_KeepsHash(t *testing.T) {
	users := &stubUsers{}
	router := newClusterRouter(&stubPackages{}, users)
	payload := peer.UserPayload{ID: uuid.New(), Username: "alice", PasswordHash: "$2a$10$hash", IsEnable: true}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, peerRequest(t, http.MethodPost, peer.RoutePrefix+peer.PathUsers, payload))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}
	if users.applied == nil || users.applied.PasswordHash != payload.PasswordHash || users.applied.ID != payload.ID {
		t.Fatalf("unexpected applied user: %+v", users.applied)
	}
}

func TestClusterCancelPackage_MapsConflict(t *testing.T) {
	router := newClusterRouter(&stubPackages{cancelErr: service.ErrConflict}, &stubUsers{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, peerRequest(t, http.MethodPost, peer.RoutePrefix+peer.PathPackages+"/"+uuid.NewString()+"/cancel", nil))

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestClusterSyncPackage_RequiresMatchingID(t *testing.T) {
	packages := &stubPackages{}
	router := newClusterRouter(packages, &stubUsers{})
	snapshot := &model.Package{ID: uuid.New(), Status: model.PackageStatusExpire}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, peerRequest(t, http.MethodPut, peer.RoutePrefix+peer.PathPackages+"/"+uuid.NewString()+"/sync", snapshot))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for mismatched id, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, peerRequest(t, http.MethodPut, peer.RoutePrefix+peer.PathPackages+"/"+snapshot.ID.String()+"/sync", snapshot))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}
	if packages.applied == nil || packages.applied.Status != model.PackageStatusExpire {
		t.Fatalf("unexpected applied snapshot: %+v", packages.applied)
	}
}
