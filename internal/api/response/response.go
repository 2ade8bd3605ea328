package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/internal/service"
)

const (
	CodeSuccess = 0
)

const (
	ErrUnauthorized = 10001
	ErrTokenExpired = 10002
	ErrForbidden    = 10003
	ErrRateLimited  = 10004
)

const (
	ErrInvalidInput = 20001
	ErrNotFound     = 20002
	ErrConflict     = 20003
)

const (
	ErrCapacityExhausted = 30001
)

const (
	ErrReplicationFailed = 40001
	ErrPeerFailed        = 40002
)

const (
	ErrInternal = 99999
)

type Response struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

func Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

func Fail(c *gin.Context, httpStatus, appCode int, message string) {
	c.JSON(httpStatus, Response{
		Code:    appCode,
		Message: message,
	})
}

// FromError writes the envelope for a service error kind.
func FromError(c *gin.Context, err error) {
	var peerErr *service.PeerError
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		Fail(c, http.StatusBadRequest, ErrInvalidInput, err.Error())
	case errors.Is(err, service.ErrNotFound):
		Fail(c, http.StatusNotFound, ErrNotFound, err.Error())
	case errors.Is(err, service.ErrConflict):
		Fail(c, http.StatusConflict, ErrConflict, err.Error())
	case errors.Is(err, service.ErrCapacityExhausted):
		Fail(c, http.StatusUnprocessableEntity, ErrCapacityExhausted, err.Error())
	case errors.Is(err, service.ErrReplicationFailed):
		Fail(c, http.StatusBadGateway, ErrReplicationFailed, err.Error())
	case errors.As(err, &peerErr):
		Fail(c, http.StatusBadGateway, ErrPeerFailed, err.Error())
	default:
		Fail(c, http.StatusInternalServerError, ErrInternal, "internal server error")
	}
}
