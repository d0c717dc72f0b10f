package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/tripmarket/marketplace-backend/internal/config"
	"github.com/tripmarket/marketplace-backend/internal/models"
)

// Job names, also used by the admin trigger endpoints
const (
	JobEscrowRelease    = "escrow-release"
	JobCompleteBookings = "complete-bookings"
	JobPayoutBatch      = "payout-batch"
	JobResumeStalled    = "resume-stalled"
	JobReplayEvents     = "replay-events"
)

// jobTimeout bounds a single scheduled run
const jobTimeout = 10 * time.Minute

type jobRun struct {
	LastRun      time.Time     `json:"last_run"`
	LastDuration time.Duration `json:"last_duration"`
	LastError    string        `json:"last_error,omitempty"`
	LastResult   interface{}   `json:"last_result,omitempty"`
}

// CronService manages scheduled background jobs. Every job is a function of
// the current time and persisted state, so it can also be run ad hoc.
type CronService struct {
	cron       *cron.Cron
	escrow     *EscrowService
	bookings   *BookingService
	payouts    *PayoutService
	reconciler *ReconcilerService
	config     config.JobsConfig
	payout     config.PayoutConfig
	logger     *logrus.Logger
	now        func() time.Time

	mu      sync.Mutex
	entries map[string]cron.EntryID
	runs    map[string]*jobRun
}

// NewCronService creates a new CronService
func NewCronService(
	escrow *EscrowService,
	bookings *BookingService,
	payouts *PayoutService,
	reconciler *ReconcilerService,
	jobs config.JobsConfig,
	payout config.PayoutConfig,
	logger *logrus.Logger,
) *CronService {
	l := cron.PrintfLogger(logger)
	c := cron.New(
		cron.WithSeconds(),
		cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l)),
	)

	return &CronService{
		cron:       c,
		escrow:     escrow,
		bookings:   bookings,
		payouts:    payouts,
		reconciler: reconciler,
		config:     jobs,
		payout:     payout,
		logger:     logger,
		now:        time.Now,
		entries:    make(map[string]cron.EntryID),
		runs:       make(map[string]*jobRun),
	}
}

// Start schedules all jobs and starts the scheduler.
// Cron format: second minute hour day month weekday
func (s *CronService) Start() error {
	s.logger.Info("Starting cron service...")

	schedule := []struct {
		name string
		spec string
		run  func()
	}{
		{JobEscrowRelease, s.config.EscrowReleaseSpec, func() { s.scheduled(JobEscrowRelease, s.releaseEscrow) }},
		{JobCompleteBookings, s.config.CompleteBookingsSpec, func() { s.scheduled(JobCompleteBookings, s.completeBookings) }},
		{JobPayoutBatch, s.config.PayoutBatchSpec, func() { s.scheduled(JobPayoutBatch, s.runScheduledPayouts) }},
		{JobResumeStalled, s.config.ResumeStalledSpec, func() { s.scheduled(JobResumeStalled, s.resumeStalled) }},
		{JobReplayEvents, s.config.ReplayEventsSpec, func() { s.scheduled(JobReplayEvents, s.replayEvents) }},
	}

	for _, job := range schedule {
		if job.spec == "" {
			s.logger.WithField("job", job.name).Info("Job has no schedule, skipping")
			continue
		}
		id, err := s.cron.AddFunc(job.spec, job.run)
		if err != nil {
			return fmt.Errorf("failed to schedule %s job: %w", job.name, err)
		}
		s.mu.Lock()
		s.entries[job.name] = id
		s.mu.Unlock()
		s.logger.WithFields(logrus.Fields{"job": job.name, "spec": job.spec}).Info("Scheduled job")
	}

	s.cron.Start()
	s.logger.Info("Cron service started")
	return nil
}

// Stop stops the scheduler and waits for running jobs
func (s *CronService) Stop() {
	s.logger.Info("Stopping cron service...")
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Cron service stopped")
}

// scheduled runs a job from the scheduler with its own deadline
func (s *CronService) scheduled(name string, job func(ctx context.Context, now time.Time) (interface{}, error)) {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	_, _ = s.run(ctx, name, job)
}

// run executes a job and records its outcome
func (s *CronService) run(ctx context.Context, name string, job func(ctx context.Context, now time.Time) (interface{}, error)) (interface{}, error) {
	start := s.now()
	log := s.logger.WithField("job", name)
	log.Debug("Job started")

	result, err := job(ctx, start)
	duration := time.Since(start)

	record := &jobRun{LastRun: start, LastDuration: duration, LastResult: result}
	if err != nil {
		record.LastError = err.Error()
		log.WithError(err).WithField("duration", duration.String()).Error("Job failed")
	} else {
		log.WithFields(logrus.Fields{"duration": duration.String(), "result": result}).Info("Job finished")
	}

	s.mu.Lock()
	s.runs[name] = record
	s.mu.Unlock()
	return result, err
}

func (s *CronService) releaseEscrow(ctx context.Context, now time.Time) (interface{}, error) {
	return s.escrow.ReleaseDue(ctx, now)
}

func (s *CronService) completeBookings(ctx context.Context, now time.Time) (interface{}, error) {
	return s.bookings.CompleteDue(ctx, now)
}

func (s *CronService) runScheduledPayouts(ctx context.Context, now time.Time) (interface{}, error) {
	return s.payouts.RunScheduled(ctx, now)
}

func (s *CronService) resumeStalled(ctx context.Context, now time.Time) (interface{}, error) {
	return s.payouts.ResumeStalled(ctx, now.Add(-s.payout.StalledAfter))
}

func (s *CronService) replayEvents(ctx context.Context, _ time.Time) (interface{}, error) {
	return s.reconciler.ReplayFailed(ctx)
}

// RunEscrowReleaseNow releases due escrow immediately
func (s *CronService) RunEscrowReleaseNow(ctx context.Context) (int64, error) {
	res, err := s.run(ctx, JobEscrowRelease, s.releaseEscrow)
	n, _ := res.(int64)
	return n, err
}

// RunCompleteBookingsNow completes ended bookings immediately
func (s *CronService) RunCompleteBookingsNow(ctx context.Context) (int, error) {
	res, err := s.run(ctx, JobCompleteBookings, s.completeBookings)
	n, _ := res.(int)
	return n, err
}

// RunPayoutBatchNow runs one payout batch for tag immediately
func (s *CronService) RunPayoutBatchNow(ctx context.Context, tag models.ScheduleTag) (*models.PayoutBatchResult, error) {
	res, err := s.run(ctx, JobPayoutBatch, func(ctx context.Context, _ time.Time) (interface{}, error) {
		return s.payouts.RunPayoutBatch(ctx, tag)
	})
	batch, _ := res.(*models.PayoutBatchResult)
	return batch, err
}

// RunResumeStalledNow resubmits stalled payouts immediately
func (s *CronService) RunResumeStalledNow(ctx context.Context) (int, error) {
	res, err := s.run(ctx, JobResumeStalled, s.resumeStalled)
	n, _ := res.(int)
	return n, err
}

// RunReplayEventsNow replays failed gateway events immediately
func (s *CronService) RunReplayEventsNow(ctx context.Context) (int, error) {
	res, err := s.run(ctx, JobReplayEvents, s.replayEvents)
	n, _ := res.(int)
	return n, err
}

// GetJobStatus returns the schedule and last outcome of every job
func (s *CronService) GetJobStatus() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := []string{JobEscrowRelease, JobCompleteBookings, JobPayoutBatch, JobResumeStalled, JobReplayEvents}
	jobs := make([]map[string]interface{}, 0, len(names))
	for _, name := range names {
		job := map[string]interface{}{"name": name}
		if id, ok := s.entries[name]; ok {
			entry := s.cron.Entry(id)
			job["next_run"] = entry.Next
			job["prev_run"] = entry.Prev
		}
		if run, ok := s.runs[name]; ok {
			job["last_run"] = run
		}
		jobs = append(jobs, job)
	}

	return map[string]interface{}{
		"running":   len(s.entries) > 0,
		"job_count": len(s.entries),
		"jobs":      jobs,
	}
}
