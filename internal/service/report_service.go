package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/lenteraid/transparency-api/internal/dto"
	"github.com/lenteraid/transparency-api/internal/models"
	"github.com/lenteraid/transparency-api/internal/repository"
	appErrors "github.com/lenteraid/transparency-api/pkg/errors"
	"github.com/lenteraid/transparency-api/pkg/jobs"
)

type reportJobStore interface {
	Create(ctx context.Context, job *models.ReportJob) error
	GetByID(ctx context.Context, id string) (*models.ReportJob, error)
	List(ctx context.Context, filter models.ReportJobFilter) ([]models.ReportJob, int, error)
	UpdateFrom(ctx context.Context, id string, expected models.ReportStatus, params repository.UpdateReportJobParams) error
	Claim(ctx context.Context, id string) error
	ResetForRetry(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	ListPending(ctx context.Context, limit int) ([]models.ReportJob, error)
	ListCompletedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.ReportJob, error)
}

type exportGenerator interface {
	Generate(ctx context.Context, job *models.ReportJob) (*ExportResult, error)
}

// ReportServiceConfig governs recovery and output cleanup.
type ReportServiceConfig struct {
	ResultTTL       time.Duration
	CleanupInterval time.Duration
}

// ReportDownload aggregates resolved download data.
type ReportDownload struct {
	File      *os.File
	Filename  string
	Format    models.ReportFormat
	ExpiresAt time.Time
}

// ReportService orchestrates report job lifecycle management. The job status
// column is the single source of truth; every mutation goes through the
// transition table.
type ReportService struct {
	repo     reportJobStore
	queue    jobs.Publisher
	exporter *ExportService
	logger   *zap.Logger
	cfg      ReportServiceConfig
}

// NewReportService constructs the report service.
func NewReportService(repo reportJobStore, queue jobs.Publisher, exporter *ExportService, logger *zap.Logger, cfg ReportServiceConfig) *ReportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	return &ReportService{
		repo:     repo,
		queue:    queue,
		exporter: exporter,
		logger:   logger,
		cfg:      cfg,
	}
}

// CreateJob validates the request, persists a pending job, and publishes it.
// A publish failure leaves the job pending; the enqueue endpoint or boot
// recovery replays it.
func (s *ReportService) CreateJob(ctx context.Context, req dto.CreateReportRequest, actorID string) (*dto.ReportJobResponse, error) {
	if err := validateReportRequest(req); err != nil {
		return nil, err
	}
	job := &models.ReportJob{
		Type:        req.Type,
		Filters:     req.Filters,
		Format:      req.Format,
		Status:      models.ReportStatusPending,
		RequestedBy: actorID,
	}
	if err := s.repo.Create(ctx, job); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create report job")
	}
	if err := s.publish(ctx, job); err != nil {
		s.logger.Sugar().Warnw("publish after create failed, job stays pending", "job_id", job.ID, "error", err)
	}
	return dto.FromReportJob(job), nil
}

// Enqueue publishes a job reference and resolves its status to pending.
// Idempotent for pending jobs; resets a failed job, clearing error and output
// in one statement. Processing and completed jobs are rejected with an
// InvalidTransition. The publish happens before any status mutation so a
// queue failure leaves the record untouched.
func (s *ReportService) Enqueue(ctx context.Context, id string) (*dto.ReportJobResponse, error) {
	job, err := s.loadJob(ctx, id)
	if err != nil {
		return nil, err
	}

	switch job.Status {
	case models.ReportStatusPending, models.ReportStatusFailed:
	default:
		return nil, appErrors.Transition(string(job.Status), string(models.ReportStatusPending))
	}

	if err := s.publish(ctx, job); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrQueueUnavailable.Code, appErrors.ErrQueueUnavailable.Status, appErrors.ErrQueueUnavailable.Message)
	}

	if err := s.repo.ResetForRetry(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Raced with a worker claim after the publish; the message is
			// already in flight and the claim owns the record now.
			return s.response(ctx, id)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reset report job")
	}
	return s.response(ctx, id)
}

// Get returns a single job.
func (s *ReportService) Get(ctx context.Context, id string) (*dto.ReportJobResponse, error) {
	job, err := s.loadJob(ctx, id)
	if err != nil {
		return nil, err
	}
	return dto.FromReportJob(job), nil
}

// List returns jobs matching the filter with total count.
func (s *ReportService) List(ctx context.Context, filter models.ReportJobFilter) ([]dto.ReportJobResponse, int, error) {
	jobs, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list report jobs")
	}
	out := make([]dto.ReportJobResponse, 0, len(jobs))
	for i := range jobs {
		out = append(out, *dto.FromReportJob(&jobs[i]))
	}
	return out, total, nil
}

// Delete removes a job and its stored output. Processing jobs refuse
// deletion so in-flight work is never orphaned.
func (s *ReportService) Delete(ctx context.Context, id string) error {
	job, err := s.loadJob(ctx, id)
	if err != nil {
		return err
	}
	if !job.Deletable() {
		return appErrors.Transition(string(job.Status), "deleted")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// The job moved to processing (or vanished) between the load and
			// the conditional delete; re-resolve which.
			if _, loadErr := s.loadJob(ctx, id); loadErr != nil {
				return loadErr
			}
			return appErrors.Transition(string(models.ReportStatusProcessing), "deleted")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete report job")
	}
	if job.OutputKey != nil && *job.OutputKey != "" {
		if err := s.exporter.Delete(*job.OutputKey); err != nil {
			s.logger.Sugar().Warnw("failed to remove report output", "job_id", id, "error", err)
		}
	}
	return nil
}

// UpdateFromWorker applies the restricted worker update surface: status plus
// output or error fields, guarded by the transition table.
func (s *ReportService) UpdateFromWorker(ctx context.Context, id string, req dto.WorkerUpdateRequest) (*dto.ReportJobResponse, error) {
	if !req.Status.Valid() {
		var fields appErrors.FieldErrors
		fields.Invalid("status", fmt.Sprintf("unknown status %q", req.Status))
		return nil, fields.Err()
	}
	job, err := s.loadJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if !job.Status.CanTransitionTo(req.Status) {
		return nil, appErrors.Transition(string(job.Status), string(req.Status))
	}

	params, err := workerUpdateParams(req)
	if err != nil {
		return nil, err
	}
	if err := s.repo.UpdateFrom(ctx, id, job.Status, params); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			current, loadErr := s.loadJob(ctx, id)
			if loadErr != nil {
				return nil, loadErr
			}
			return nil, appErrors.Transition(string(current.Status), string(req.Status))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update report job")
	}
	return s.response(ctx, id)
}

// ResolveDownload validates a signed token and opens the stored export file.
func (s *ReportService) ResolveDownload(ctx context.Context, token string) (*ReportDownload, error) {
	jobID, relPath, expiresAt, err := s.exporter.ParseToken(token, false)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid or expired download token")
	}
	job, err := s.loadJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != models.ReportStatusCompleted {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "report not ready")
	}
	if job.OutputKey == nil || *job.OutputKey != relPath {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "token mismatch")
	}
	file, err := s.exporter.Open(relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open report file")
	}
	return &ReportDownload{
		File:      file,
		Filename:  filepath.Base(relPath),
		Format:    job.Format,
		ExpiresAt: expiresAt,
	}, nil
}

// RecoverPendingJobs republishes pending jobs after a process restart so a
// lost enqueue does not strand work.
func (s *ReportService) RecoverPendingJobs(ctx context.Context) {
	pending, err := s.repo.ListPending(ctx, 50)
	if err != nil {
		s.logger.Sugar().Warnw("failed to recover pending report jobs", "error", err)
		return
	}
	for i := range pending {
		if err := s.publish(ctx, &pending[i]); err != nil {
			s.logger.Sugar().Warnw("failed to republish pending job", "job_id", pending[i].ID, "error", err)
		}
	}
}

// StartCleanup boots a goroutine that purges expired outputs periodically.
func (s *ReportService) StartCleanup(ctx context.Context) {
	if s.cfg.CleanupInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.cleanupExpired(ctx)
			}
		}
	}()
}

func (s *ReportService) cleanupExpired(ctx context.Context) {
	cutoff := time.Now().Add(-s.cfg.ResultTTL)
	for {
		expired, err := s.repo.ListCompletedBefore(ctx, cutoff, 100)
		if err != nil {
			s.logger.Sugar().Warnw("cleanup list failed", "error", err)
			return
		}
		if len(expired) == 0 {
			break
		}
		for _, job := range expired {
			if job.OutputKey == nil || *job.OutputKey == "" {
				continue
			}
			if err := s.exporter.Delete(*job.OutputKey); err != nil {
				s.logger.Sugar().Warnw("cleanup delete failed", "job_id", job.ID, "error", err)
			}
		}
		if len(expired) < 100 {
			break
		}
	}
	if _, err := s.exporter.Cleanup(s.cfg.ResultTTL); err != nil {
		s.logger.Sugar().Warnw("filesystem cleanup failed", "error", err)
	}
}

func (s *ReportService) publish(ctx context.Context, job *models.ReportJob) error {
	if s.queue == nil {
		return fmt.Errorf("queue not configured")
	}
	return s.queue.Publish(ctx, jobs.Message{JobID: job.ID, Type: string(job.Type)})
}

func (s *ReportService) loadJob(ctx context.Context, id string) (*models.ReportJob, error) {
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load report job")
	}
	return job, nil
}

func (s *ReportService) response(ctx context.Context, id string) (*dto.ReportJobResponse, error) {
	job, err := s.loadJob(ctx, id)
	if err != nil {
		return nil, err
	}
	return dto.FromReportJob(job), nil
}

// workerUpdateParams maps the worker request onto the conditional update,
// enforcing the per-status field guards: completed requires output and
// clears the error, failed requires an error and clears the output, pending
// clears both so a retried job carries no stale failure state.
func workerUpdateParams(req dto.WorkerUpdateRequest) (repository.UpdateReportJobParams, error) {
	var fields appErrors.FieldErrors
	empty := ""
	params := repository.UpdateReportJobParams{Status: &req.Status}

	switch req.Status {
	case models.ReportStatusCompleted:
		if req.OutputLocation == nil || *req.OutputLocation == "" {
			fields.Required("output_location")
		}
		params.OutputLocation = req.OutputLocation
		params.OutputKey = req.OutputKey
		params.ErrorMessage = &empty
	case models.ReportStatusFailed:
		if req.ErrorMessage == nil || *req.ErrorMessage == "" {
			fields.Required("error_message")
		}
		params.ErrorMessage = req.ErrorMessage
		params.OutputLocation = &empty
		params.OutputKey = &empty
	case models.ReportStatusPending:
		if req.OutputLocation != nil {
			fields.Forbidden("output_location", fmt.Sprintf("for status %s", req.Status))
		}
		if req.ErrorMessage != nil {
			fields.Forbidden("error_message", fmt.Sprintf("for status %s", req.Status))
		}
		// Pending is only reachable here as a retry of a failed job; the
		// previous failure message and any partial output go with it.
		params.ErrorMessage = &empty
		params.OutputLocation = &empty
		params.OutputKey = &empty
	case models.ReportStatusProcessing:
		if req.OutputLocation != nil {
			fields.Forbidden("output_location", fmt.Sprintf("for status %s", req.Status))
		}
		if req.ErrorMessage != nil {
			fields.Forbidden("error_message", fmt.Sprintf("for status %s", req.Status))
		}
	}
	if err := fields.Err(); err != nil {
		return repository.UpdateReportJobParams{}, err
	}
	return params, nil
}

// validateReportRequest accumulates every violation so the caller sees all
// problems at once.
func validateReportRequest(req dto.CreateReportRequest) error {
	var fields appErrors.FieldErrors

	if req.Type == "" {
		fields.Required("type")
	} else if !models.ValidReportType(req.Type) {
		fields.Invalid("type", fmt.Sprintf("unsupported report type %q", req.Type))
	}
	if req.Format == "" {
		fields.Required("format")
	} else if !models.ValidReportFormat(req.Format) {
		fields.Invalid("format", fmt.Sprintf("unsupported report format %q", req.Format))
	}

	for _, key := range models.RequiredFilters(req.Type) {
		if req.Filters[key] == "" {
			fields.Required("filters." + key)
		}
	}
	for _, key := range []string{models.FilterStartDate, models.FilterEndDate} {
		if raw, ok := req.Filters[key]; ok && raw != "" {
			if _, err := time.Parse("2006-01-02", raw); err != nil {
				fields.Invalid("filters."+key, fmt.Sprintf("%s must be a YYYY-MM-DD date", key))
			}
		}
	}
	if start, end := req.Filters[models.FilterStartDate], req.Filters[models.FilterEndDate]; start != "" && end != "" && end < start {
		fields.Invalid("filters."+models.FilterEndDate, "end_date must not precede start_date")
	}

	return fields.Err()
}

// ReportWorker bridges queue messages to the export pipeline. Claiming is a
// single conditional update, so at-least-once delivery never reprocesses a
// job two workers both believe they own.
type ReportWorker struct {
	repo       reportJobStore
	exporter   exportGenerator
	logger     *zap.Logger
	metrics    *MetricsService
	maxRetries int
}

// NewReportWorker constructs a worker.
func NewReportWorker(repo reportJobStore, exporter exportGenerator, maxRetries int, logger *zap.Logger) *ReportWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &ReportWorker{
		repo:       repo,
		exporter:   exporter,
		logger:     logger,
		maxRetries: maxRetries,
	}
}

// WithMetrics attaches job counters and generation timing.
func (w *ReportWorker) WithMetrics(m *MetricsService) *ReportWorker {
	w.metrics = m
	return w
}

// Handle processes one queue message.
func (w *ReportWorker) Handle(ctx context.Context, msg jobs.Message) error {
	if err := w.repo.Claim(ctx, msg.JobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return w.resolveLostClaim(ctx, msg)
		}
		return err
	}

	job, err := w.repo.GetByID(ctx, msg.JobID)
	if err != nil {
		return err
	}

	started := time.Now()
	result, err := w.exporter.Generate(ctx, job)
	if err != nil {
		return w.markFailed(ctx, msg, job, err)
	}
	w.metrics.ObserveReportGeneration(time.Since(started))
	w.metrics.RecordReportJob(string(job.Type), string(models.ReportStatusCompleted))

	completed := models.ReportStatusCompleted
	clear := ""
	if err := w.repo.UpdateFrom(ctx, msg.JobID, models.ReportStatusProcessing, repository.UpdateReportJobParams{
		Status:         &completed,
		OutputLocation: &result.URL,
		OutputKey:      &result.RelativePath,
		ErrorMessage:   &clear,
	}); err != nil {
		w.logger.Sugar().Warnw("failed to mark job completed", "job_id", msg.JobID, "error", err)
		return err
	}
	return nil
}

// resolveLostClaim decides what a failed claim means. A completed or
// processing job makes the delivery a duplicate (no-op); a failed or still
// pending job means the message raced an enqueue reset, so the delivery is
// retried after the reset lands.
func (w *ReportWorker) resolveLostClaim(ctx context.Context, msg jobs.Message) error {
	job, err := w.repo.GetByID(ctx, msg.JobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			w.logger.Sugar().Infow("dropping message for deleted job", "job_id", msg.JobID)
			return nil
		}
		return err
	}
	switch job.Status {
	case models.ReportStatusProcessing, models.ReportStatusCompleted:
		return nil
	default:
		return fmt.Errorf("job %s not claimable in status %s", msg.JobID, job.Status)
	}
}

// markFailed records the failure message. When attempts remain the job is
// reset to pending through the retry edge and the error is surfaced so the
// queue redelivers. The failure counter only moves once the job stops
// retrying; transient attempts are visible through the retry log instead.
func (w *ReportWorker) markFailed(ctx context.Context, msg jobs.Message, job *models.ReportJob, cause error) error {
	failed := models.ReportStatusFailed
	message := cause.Error()
	clear := ""
	if err := w.repo.UpdateFrom(ctx, msg.JobID, models.ReportStatusProcessing, repository.UpdateReportJobParams{
		Status:         &failed,
		ErrorMessage:   &message,
		OutputLocation: &clear,
		OutputKey:      &clear,
	}); err != nil {
		w.logger.Sugar().Warnw("failed to mark job failed", "job_id", msg.JobID, "error", err)
		return cause
	}
	if msg.Attempt >= w.maxRetries {
		w.metrics.RecordReportJob(string(job.Type), string(models.ReportStatusFailed))
		w.logger.Sugar().Errorw("report job failed permanently", "job_id", msg.JobID, "attempt", msg.Attempt, "error", cause)
		return nil
	}
	if err := w.repo.ResetForRetry(ctx, msg.JobID); err != nil {
		w.metrics.RecordReportJob(string(job.Type), string(models.ReportStatusFailed))
		w.logger.Sugar().Warnw("failed to reset job for retry", "job_id", msg.JobID, "error", err)
		return nil
	}
	return cause
}
