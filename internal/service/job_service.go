package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/internal/metrics"
	"github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/internal/model"
	"github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/internal/netutil"
	"github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/internal/repository"
)

// IPProvisioner binds addresses to host interfaces and returns the ones that
// are bound afterwards.
type IPProvisioner interface {
	Add(ctx context.Context, addresses []*model.IPAddress) ([]*model.IPAddress, error)
}

// ConfigWriter regenerates the proxy outgoing-address configuration.
type ConfigWriter interface {
	Add(ctx context.Context, addresses []*model.IPAddress) error
}

// JobService admits provisioning and regeneration jobs and runs them in the
// background. Callers learn the outcome from the persisted job record.
type JobService struct {
	jobs        repository.JobRepository
	ips         repository.IPRepository
	inspector   netutil.Inspector
	provisioner IPProvisioner
	writer      ConfigWriter
	logger      *zap.Logger
	now         func() time.Time

	wg sync.WaitGroup
}

func NewJobService(
	jobs repository.JobRepository,
	ips repository.IPRepository,
	inspector netutil.Inspector,
	provisioner IPProvisioner,
	writer ConfigWriter,
	logger *zap.Logger,
) *JobService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JobService{
		jobs:        jobs,
		ips:         ips,
		inspector:   inspector,
		provisioner: provisioner,
		writer:      writer,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Add persists a provisioning job for cidr as processing and returns it
// before the pipeline runs.
func (s *JobService) Add(ctx context.Context, cidr string) (*model.Job, error) {
	normalized, err := NormalizeCIDR(cidr)
	if err != nil {
		return nil, err
	}
	size, err := netutil.CIDRSize(normalized)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	job := &model.Job{
		ID:          uuid.New(),
		Kind:        model.JobKindProvision,
		Data:        normalized,
		Status:      model.JobStatusProcessing,
		TotalRecord: size,
		InsertDate:  s.now(),
	}
	if err := s.jobs.Add(ctx, job); err != nil {
		return nil, infraError("insert job", err)
	}

	s.schedule(*job, s.runProvision)
	return job, nil
}

// Reload persists a regeneration job and returns it before it runs.
func (s *JobService) Reload(ctx context.Context) (*model.Job, error) {
	job := &model.Job{
		ID:         uuid.New(),
		Kind:       model.JobKindRegenerate,
		Status:     model.JobStatusProcessing,
		InsertDate: s.now(),
	}
	if err := s.jobs.Add(ctx, job); err != nil {
		return nil, infraError("insert job", err)
	}

	s.schedule(*job, s.runRegenerate)
	return job, nil
}

func (s *JobService) GetByID(ctx context.Context, id uuid.UUID) (*model.Job, error) {
	job, err := s.jobs.GetByID(ctx, id)
	if err != nil {
		return nil, storeError("get job", err)
	}
	return job, nil
}

// Wait blocks until every admitted job has finished.
func (s *JobService) Wait() {
	s.wg.Wait()
}

func (s *JobService) schedule(job model.Job, run func(context.Context, *model.Job) bool) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx := context.Background()
		started := time.Now()
		ok := false
		defer func() {
			if recovered := recover(); recovered != nil {
				s.logger.Error("job pipeline panic",
					zap.String("job_id", job.ID.String()),
					zap.Any("panic", recovered),
				)
				job.TotalRecordError = job.TotalRecord - job.TotalRecordAdd - job.TotalRecordExist
				ok = false
			}
			s.finalize(ctx, &job, ok, time.Since(started))
		}()

		ok = run(ctx, &job)
	}()
}

// runProvision executes the provisioning stages. It returns false as soon as
// a stage fails; the remaining stages are skipped.
func (s *JobService) runProvision(ctx context.Context, job *model.Job) bool {
	log := s.logger.With(zap.String("job_id", job.ID.String()), zap.String("cidr", job.Data))

	candidates, err := s.ips.GetByIPMask(ctx, job.Data)
	if err != nil {
		log.Error("job candidate lookup failed", zap.Error(err))
		job.TotalRecordError = job.TotalRecord
		return false
	}
	job.TotalRecord = len(candidates)

	local, err := s.inspector.LocalAddresses(ctx)
	if err != nil {
		log.Error("job local address lookup failed", zap.Error(err))
		job.TotalRecordError = job.TotalRecord
		return false
	}

	pending := make([]*model.IPAddress, 0, len(candidates))
	for _, item := range candidates {
		if _, bound := local[item.IP]; bound {
			job.TotalRecordExist++
			continue
		}
		pending = append(pending, item)
	}

	if len(pending) > 0 {
		added, err := s.provisioner.Add(ctx, pending)
		if err != nil {
			log.Error("job os provisioning interrupted", zap.Error(err))
		}
		addedCount := len(added)
		if addedCount > len(pending) {
			addedCount = len(pending)
		}
		job.TotalRecordAdd = addedCount
		job.TotalRecordError = len(pending) - addedCount

		if addedCount == 0 {
			log.Error("job os provisioning added no address", zap.Int("attempted", len(pending)))
			return false
		}
	}

	if err := s.ips.ActiveIPMask(ctx, job.Data); err != nil {
		log.Error("job range activation failed", zap.Error(err))
		return false
	}

	if err := s.regenerate(ctx); err != nil {
		log.Error("job config regeneration failed", zap.Error(err))
		return false
	}
	return true
}

func (s *JobService) runRegenerate(ctx context.Context, job *model.Job) bool {
	if err := s.regenerate(ctx); err != nil {
		s.logger.Error("regeneration job failed", zap.String("job_id", job.ID.String()), zap.Error(err))
		return false
	}
	return true
}

// regenerate writes the active inventory bound to this host's interfaces.
func (s *JobService) regenerate(ctx context.Context) error {
	inventory, err := s.ips.GetAll(ctx)
	if err != nil {
		return infraError("fetch active inventory", err)
	}
	local, err := s.inspector.LocalAddresses(ctx)
	if err != nil {
		return infraError("list local addresses", err)
	}

	seen := make(map[string]struct{}, len(inventory))
	bound := make([]*model.IPAddress, 0, len(inventory))
	for _, item := range inventory {
		if item == nil {
			continue
		}
		if _, ok := local[item.IP]; !ok {
			continue
		}
		key := fmt.Sprintf("%s:%d", item.IP, item.Port)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		bound = append(bound, item)
	}

	if err := s.writer.Add(ctx, bound); err != nil {
		return infraError("write proxy config", err)
	}
	return nil
}

func (s *JobService) finalize(ctx context.Context, job *model.Job, ok bool, elapsed time.Duration) {
	job.Status = model.JobStatusSuccess
	if !ok {
		job.Status = model.JobStatusFail
	}

	if err := s.jobs.Update(ctx, job); err != nil {
		s.logger.Error("persist job result failed",
			zap.String("job_id", job.ID.String()),
			zap.String("status", string(job.Status)),
			zap.Error(err),
		)
	}
	metrics.RecordJob(string(job.Kind), string(job.Status), elapsed)

	s.logger.Info("job finished",
		zap.String("job_id", job.ID.String()),
		zap.String("kind", string(job.Kind)),
		zap.String("status", string(job.Status)),
		zap.Int("total", job.TotalRecord),
		zap.Int("added", job.TotalRecordAdd),
		zap.Int("exist", job.TotalRecordExist),
		zap.Int("error", job.TotalRecordError),
		zap.Duration("elapsed", elapsed),
	)
}
