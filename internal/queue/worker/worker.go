package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/taskhubio/taskhub/internal/domain/job"
	"github.com/taskhubio/taskhub/internal/jobs"
	"github.com/taskhubio/taskhub/internal/notifications"
	"github.com/taskhubio/taskhub/internal/observability"
)

type JobsRepository interface {
	ClaimNext(ctx context.Context, workerID string) (job.Job, error)
	MarkDone(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, errMsg string) error
	Reschedule(ctx context.Context, id string, runAt time.Time, errMsg string) error
	RequeueStaleProcessing(ctx context.Context, lockTTL time.Duration) (int64, error)
}

type TaskCounter interface {
	CountOpenByOwner(ctx context.Context, ownerID string) (int, error)
}

type Config struct {
	PollInterval  time.Duration
	WorkerID      string
	Concurrency   int
	ShutdownGrace time.Duration
	LockTTL       time.Duration
	JobTimeout    time.Duration
}

type Worker struct {
	cfg      Config
	repo     JobsRepository
	tasks    TaskCounter
	notifier notifications.Notifier
	log      *slog.Logger
	prom     *observability.Prom

	readyMu sync.RWMutex
	ready   bool
}

func New(cfg Config, repo JobsRepository, tasks TaskCounter, notifier notifications.Notifier, log *slog.Logger, prom *observability.Prom) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 200 * time.Millisecond
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 60 * time.Second
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 30 * time.Second
	}

	return &Worker{
		cfg:      cfg,
		repo:     repo,
		tasks:    tasks,
		notifier: notifier,
		log:      log,
		prom:     prom,
	}
}

// Run spins up the claim loops plus a janitor for stale locks, and blocks
// until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.setReady(true)
	defer w.setReady(false)

	var wg sync.WaitGroup

	for i := 0; i < w.cfg.Concurrency; i++ {
		wg.Add(1)

		go func(slot int) {
			defer wg.Done()
			w.claimLoop(ctx, slot)
		}(i)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		w.janitorLoop(ctx)
	}()

	<-ctx.Done()
	w.setReady(false)

	done := make(chan struct{})

	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(w.cfg.ShutdownGrace):
		return errors.New("worker shutdown grace period exceeded")
	}
}

func (w *Worker) claimLoop(ctx context.Context, slot int) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// drain whatever is ready before going back to sleep
			for {
				processed, err := w.ProcessOne(ctx)

				if err != nil {
					w.log.Error("process job failed", "err", err, "slot", slot)
					break
				}

				if !processed {
					break
				}
			}
		}
	}
}

func (w *Worker) janitorLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.LockTTL / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := w.repo.RequeueStaleProcessing(ctx, w.cfg.LockTTL)

			if err != nil {
				if ctx.Err() == nil {
					w.log.Error("requeue stale jobs failed", "err", err)
				}
				continue
			}

			if n > 0 {
				w.log.Warn("requeued stale jobs", "count", n)
			}
		}
	}
}

// ProcessOne claims and executes at most one job. It reports whether a job
// was claimed; job-level failures are handled internally and never bubble up.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	claimCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	j, err := w.repo.ClaimNext(claimCtx, w.cfg.WorkerID)
	cancel()

	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			return false, nil
		}

		return false, err
	}

	if w.prom != nil {
		w.prom.JobsInFlight.Inc()
	}

	start := time.Now()
	execErr := w.execute(ctx, j)

	result := "done"
	if execErr != nil {
		result = w.handleFailure(ctx, j, execErr)
	} else if err := w.repo.MarkDone(ctx, j.ID); err != nil {
		_ = w.repo.MarkFailed(ctx, j.ID, "mark_done_failed: "+err.Error())
		result = "failed"
	}

	if w.prom != nil {
		w.prom.JobsInFlight.Dec()
		w.prom.JobResults.WithLabelValues(j.Type, result).Inc()
		w.prom.JobDuration.WithLabelValues(j.Type, result).Observe(time.Since(start).Seconds())
	}

	return true, nil
}

func (w *Worker) execute(ctx context.Context, j job.Job) error {
	execCtx, cancel := context.WithTimeout(ctx, w.cfg.JobTimeout)
	defer cancel()

	payload, err := jobs.DecodePayload(j)

	if err != nil {
		return err
	}

	switch p := payload.(type) {
	case jobs.UserWelcomePayload:
		return w.notifier.SendWelcome(execCtx, notifications.SendWelcomeInput{
			Email:  p.Email,
			UserID: p.UserID,
		})

	case jobs.TaskDigestPayload:
		open, err := w.tasks.CountOpenByOwner(execCtx, p.UserID)

		if err != nil {
			return fmt.Errorf("count open tasks: %w", err)
		}

		return w.notifier.SendTaskDigest(execCtx, notifications.SendTaskDigestInput{
			Email:     p.Email,
			UserID:    p.UserID,
			OpenTasks: open,
		})

	default:
		return jobs.ErrInvalidJobType
	}
}

// handleFailure retries with backoff while attempts remain; permanent
// payload errors and exhausted jobs dead-letter via MarkFailed.
func (w *Worker) handleFailure(ctx context.Context, j job.Job, execErr error) string {
	permanent := errors.Is(execErr, jobs.ErrInvalidJobType) || errors.Is(execErr, jobs.ErrInvalidJobPayload)

	if permanent || j.Attempts+1 >= j.MaxAttempts {
		if err := w.repo.MarkFailed(ctx, j.ID, execErr.Error()); err != nil {
			w.log.Error("mark failed errored", "err", err, "job_id", j.ID)
		}

		w.log.Error("job dead-lettered", "job_id", j.ID, "type", j.Type, "attempts", j.Attempts+1, "err", execErr)
		return "failed"
	}

	runAt := time.Now().UTC().Add(ExponentialBackoff(j.Attempts))

	if err := w.repo.Reschedule(ctx, j.ID, runAt, execErr.Error()); err != nil {
		w.log.Error("reschedule errored", "err", err, "job_id", j.ID)
		return "failed"
	}

	w.log.Warn("job rescheduled", "job_id", j.ID, "type", j.Type, "attempt", j.Attempts+1, "run_at", runAt, "err", execErr)
	return "retry"
}

func (w *Worker) setReady(v bool) {
	w.readyMu.Lock()
	w.ready = v
	w.readyMu.Unlock()
}
