package generation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/randari3d/randari3d-api/internal/pkg/provider"
)

// CreditLedger is the slice of the ledger service the orchestrator needs.
type CreditLedger interface {
	Debit(ctx context.Context, userID uuid.UUID, amount int, jobID uuid.UUID) (int, error)
	Refund(ctx context.Context, userID uuid.UUID, amount int, jobID uuid.UUID) error
}

// GatewayResolver resolves a vendor name to its gateway.
type GatewayResolver interface {
	Get(name string) (provider.Gateway, error)
}

// JobStore is the persistence contract for generation jobs.
type JobStore interface {
	Create(ctx context.Context, job *Job) error
	SetStatus(ctx context.Context, id uuid.UUID, status Status) error
	MarkDispatched(ctx context.Context, id uuid.UUID, vendorTaskID string) error
	Complete(ctx context.Context, id uuid.UUID, modelURL, videoURL, thumbnailURL string, processingSeconds int) error
	Fail(ctx context.Context, id uuid.UUID, errorMessage string) (bool, error)
	GetByIDForUser(ctx context.Context, id, userID uuid.UUID) (*Job, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]Job, error)
	CountByUser(ctx context.Context, userID uuid.UUID) (int, error)
	ListStale(ctx context.Context, cutoff time.Time) ([]Job, error)
}

// Archiver copies vendor-hosted assets into durable storage. Optional.
type Archiver interface {
	Archive(ctx context.Context, jobID, modelURL, videoURL, thumbnailURL, sourceImageURL string) (model, video, thumbnail string)
}

const progressTTL = time.Hour

// Service orchestrates a generation: reserve credits, dispatch to the vendor,
// poll to a terminal state, and release assets or refund.
type Service struct {
	store    JobStore
	ledger   CreditLedger
	gateways GatewayResolver
	archiver Archiver      // nil disables archiving
	cache    *redis.Client // nil disables progress snapshots
}

func NewService(store JobStore, ledger CreditLedger, gateways GatewayResolver, archiver Archiver, cache *redis.Client) *Service {
	return &Service{
		store:    store,
		ledger:   ledger,
		gateways: gateways,
		archiver: archiver,
		cache:    cache,
	}
}

// Generate runs one generation end to end and returns the finished job. The
// debit happens before dispatch; every failure after the debit refunds the
// job's frozen cost exactly once.
func (s *Service) Generate(ctx context.Context, userID uuid.UUID, req GenerateRequest) (*Job, int, error) {
	req.Normalize()

	gw, err := s.gateways.Get(req.Provider)
	if err != nil {
		return nil, 0, err
	}

	quality := provider.Quality(req.Quality)
	job := &Job{
		ID:             uuid.New(),
		UserID:         userID,
		SourceImageURL: req.ImageURL,
		Prompt:         req.Prompt,
		Quality:        req.Quality,
		Provider:       gw.Name(),
		CreditsCost:    gw.Cost(quality),
		Status:         StatusCreated,
	}
	if err := s.store.Create(ctx, job); err != nil {
		return nil, 0, err
	}

	remaining, err := s.ledger.Debit(ctx, userID, job.CreditsCost, job.ID)
	if err != nil {
		// No debit happened, so no refund. The job records why it never ran.
		s.failJob(ctx, job, "credit reservation failed: "+err.Error())
		return nil, 0, err
	}
	job.Status = StatusReserved
	if err := s.store.SetStatus(ctx, job.ID, StatusReserved); err != nil {
		log.Error().Err(err).Str("job_id", job.ID.String()).Msg("Failed to persist reserved status")
	}

	started := time.Now()

	handle, err := gw.Submit(ctx, job.SourceImageURL, job.Prompt, quality)
	if err != nil {
		s.failAndRefund(ctx, job, submitFailureMessage(err))
		return nil, 0, fmt.Errorf("dispatch to %s failed: %w", gw.Name(), err)
	}

	job.Status = StatusDispatched
	job.VendorTaskID = handle.TaskID
	if err := s.store.MarkDispatched(ctx, job.ID, handle.TaskID); err != nil {
		log.Error().Err(err).Str("job_id", job.ID.String()).Msg("Failed to persist dispatched status")
	}

	log.Info().
		Str("job_id", job.ID.String()).
		Str("provider", gw.Name()).
		Str("vendor_task_id", handle.TaskID).
		Int("credits_cost", job.CreditsCost).
		Msg("Generation dispatched")

	if err := s.poll(ctx, job, gw, started); err != nil {
		return nil, 0, err
	}

	return job, remaining, nil
}

// poll drives the job to a terminal state. It runs on a context detached from
// the caller so a dropped HTTP connection never strands a dispatched job
// without a verdict.
func (s *Service) poll(ctx context.Context, job *Job, gw provider.Gateway, started time.Time) error {
	ctx = context.WithoutCancel(ctx)

	job.Status = StatusPolling
	if err := s.store.SetStatus(ctx, job.ID, StatusPolling); err != nil {
		log.Error().Err(err).Str("job_id", job.ID.String()).Msg("Failed to persist polling status")
	}

	spec := gw.PollSpec()
	ticker := time.NewTicker(spec.Interval)
	defer ticker.Stop()

	for attempt := 1; attempt <= spec.MaxAttempts; attempt++ {
		<-ticker.C

		status, err := gw.Poll(ctx, job.VendorTaskID)
		if err != nil {
			// Transient poll failures consume the attempt budget but do not
			// fail the job.
			log.Warn().Err(err).
				Str("job_id", job.ID.String()).
				Int("attempt", attempt).
				Msg("Poll attempt failed")
			continue
		}

		s.snapshotProgress(ctx, job.ID, status.Progress)

		switch status.State {
		case provider.StateCompleted:
			s.complete(ctx, job, status, started)
			return nil
		case provider.StateFailed:
			msg := status.ErrorMessage
			if msg == "" {
				msg = "vendor reported failure"
			}
			s.failAndRefund(ctx, job, msg)
			return fmt.Errorf("%w: %s", ErrGenerationFailed, msg)
		}
	}

	s.failAndRefund(ctx, job, ErrPollTimeout.Error())
	return ErrPollTimeout
}

func (s *Service) complete(ctx context.Context, job *Job, status provider.Status, started time.Time) {
	model, video, thumb := status.ModelURL, status.VideoURL, status.ThumbnailURL
	if s.archiver != nil {
		model, video, thumb = s.archiver.Archive(ctx, job.ID.String(), model, video, thumb, job.SourceImageURL)
	}

	seconds := int(time.Since(started).Seconds())
	if err := s.store.Complete(ctx, job.ID, model, video, thumb, seconds); err != nil {
		log.Error().Err(err).Str("job_id", job.ID.String()).Msg("Failed to persist completed job")
	}

	now := time.Now()
	job.Status = StatusCompleted
	job.ModelURL = model
	job.VideoURL = video
	job.ThumbnailURL = thumb
	job.ProcessingSeconds = seconds
	job.CompletedAt = &now

	log.Info().
		Str("job_id", job.ID.String()).
		Str("provider", job.Provider).
		Int("processing_seconds", seconds).
		Msg("Generation completed")
}

func (s *Service) failJob(ctx context.Context, job *Job, reason string) {
	if _, err := s.store.Fail(ctx, job.ID, reason); err != nil {
		log.Error().Err(err).Str("job_id", job.ID.String()).Msg("Failed to persist failed job")
	}
	job.Status = StatusFailed
	job.ErrorMessage = reason
}

// failAndRefund is the compensation step: mark failed, then return the frozen
// cost. Refund errors are logged, not propagated; the idempotent refund lets
// the reaper retry later.
func (s *Service) failAndRefund(ctx context.Context, job *Job, reason string) {
	s.failJob(ctx, job, reason)

	if err := s.ledger.Refund(ctx, job.UserID, job.CreditsCost, job.ID); err != nil {
		log.Error().Err(err).
			Str("job_id", job.ID.String()).
			Int("amount", job.CreditsCost).
			Msg("Refund failed, reaper will retry")
		return
	}

	log.Info().
		Str("job_id", job.ID.String()).
		Str("reason", reason).
		Int("refunded", job.CreditsCost).
		Msg("Generation failed, credits refunded")
}

func (s *Service) snapshotProgress(ctx context.Context, jobID uuid.UUID, progress int) {
	if s.cache == nil {
		return
	}
	key := "generation:progress:" + jobID.String()
	if err := s.cache.Set(ctx, key, progress, progressTTL).Err(); err != nil {
		log.Debug().Err(err).Str("job_id", jobID.String()).Msg("Progress snapshot failed")
	}
}

// Progress returns the last cached vendor progress for an open job, or -1
// when no snapshot exists.
func (s *Service) Progress(ctx context.Context, jobID uuid.UUID) int {
	if s.cache == nil {
		return -1
	}
	progress, err := s.cache.Get(ctx, "generation:progress:"+jobID.String()).Int()
	if err != nil {
		return -1
	}
	return progress
}

// Get returns one of the caller's jobs.
func (s *Service) Get(ctx context.Context, userID, jobID uuid.UUID) (*Job, error) {
	return s.store.GetByIDForUser(ctx, jobID, userID)
}

// History returns the caller's jobs newest first, with the total count for
// pagination.
func (s *Service) History(ctx context.Context, userID uuid.UUID, page, limit int) ([]Job, int, error) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	jobs, err := s.store.ListByUser(ctx, userID, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.store.CountByUser(ctx, userID)
	if err != nil {
		return nil, 0, err
	}
	return jobs, total, nil
}

func submitFailureMessage(err error) string {
	var rejected *provider.RejectedError
	if errors.As(err, &rejected) {
		return fmt.Sprintf("provider rejected request: %s", rejected.Reason)
	}
	if errors.Is(err, provider.ErrUnavailable) {
		return "provider unavailable"
	}
	return err.Error()
}
