package worker_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/taskhubio/taskhub/internal/domain/job"
	"github.com/taskhubio/taskhub/internal/jobs"
	"github.com/taskhubio/taskhub/internal/notifications"
	"github.com/taskhubio/taskhub/internal/queue/worker"
)

type fakeJobsRepo struct {
	claimFn      func(ctx context.Context, workerID string) (job.Job, error)
	done         []string
	failed       map[string]string
	rescheduled  map[string]time.Time
	requeueCalls int
}

func newFakeJobsRepo() *fakeJobsRepo {
	return &fakeJobsRepo{
		failed:      make(map[string]string),
		rescheduled: make(map[string]time.Time),
	}
}

func (f *fakeJobsRepo) ClaimNext(ctx context.Context, workerID string) (job.Job, error) {
	if f.claimFn != nil {
		return f.claimFn(ctx, workerID)
	}
	return job.Job{}, job.ErrJobNotFound
}

func (f *fakeJobsRepo) MarkDone(ctx context.Context, id string) error {
	f.done = append(f.done, id)
	return nil
}

func (f *fakeJobsRepo) MarkFailed(ctx context.Context, id string, errMsg string) error {
	f.failed[id] = errMsg
	return nil
}

func (f *fakeJobsRepo) Reschedule(ctx context.Context, id string, runAt time.Time, errMsg string) error {
	f.rescheduled[id] = runAt
	return nil
}

func (f *fakeJobsRepo) RequeueStaleProcessing(ctx context.Context, lockTTL time.Duration) (int64, error) {
	f.requeueCalls++
	return 0, nil
}

type fakeTaskCounter struct {
	open int
	err  error
}

func (f *fakeTaskCounter) CountOpenByOwner(ctx context.Context, ownerID string) (int, error) {
	return f.open, f.err
}

type recordingNotifier struct {
	welcomes []notifications.SendWelcomeInput
	digests  []notifications.SendTaskDigestInput
	err      error
}

func (n *recordingNotifier) SendWelcome(ctx context.Context, in notifications.SendWelcomeInput) error {
	n.welcomes = append(n.welcomes, in)
	return n.err
}

func (n *recordingNotifier) SendTaskDigest(ctx context.Context, in notifications.SendTaskDigestInput) error {
	n.digests = append(n.digests, in)
	return n.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func welcomeJob(t *testing.T, attempts, maxAttempts int) job.Job {
	t.Helper()

	raw, err := jobs.UserWelcomePayload{UserID: "user-1", Email: "a@x.com", RequestedAt: time.Now().UTC()}.JSON()
	if err != nil {
		t.Fatalf("payload JSON: %v", err)
	}

	j := job.New(job.CreateRequest{Type: jobs.TypeUserWelcome, Payload: raw, MaxAttempts: maxAttempts})
	j.Attempts = attempts
	return j
}

func TestProcessOneNoJob(t *testing.T) {
	repo := newFakeJobsRepo()

	w := worker.New(worker.Config{WorkerID: "w1"}, repo, &fakeTaskCounter{}, &recordingNotifier{}, testLogger(), nil)

	processed, err := w.ProcessOne(context.Background())
	if err != nil {
		t.Fatalf("ProcessOne returned error: %v", err)
	}

	if processed {
		t.Fatalf("nothing to claim, processed should be false")
	}
}

func TestProcessOneWelcomeSuccess(t *testing.T) {
	repo := newFakeJobsRepo()
	j := welcomeJob(t, 0, 5)
	repo.claimFn = func(ctx context.Context, workerID string) (job.Job, error) {
		repo.claimFn = nil // only one job available
		return j, nil
	}

	notifier := &recordingNotifier{}

	w := worker.New(worker.Config{WorkerID: "w1"}, repo, &fakeTaskCounter{}, notifier, testLogger(), nil)

	processed, err := w.ProcessOne(context.Background())
	if err != nil {
		t.Fatalf("ProcessOne returned error: %v", err)
	}
	if !processed {
		t.Fatalf("expected a job to be processed")
	}

	if len(notifier.welcomes) != 1 || notifier.welcomes[0].Email != "a@x.com" {
		t.Fatalf("welcome not delivered: %+v", notifier.welcomes)
	}

	if len(repo.done) != 1 || repo.done[0] != j.ID {
		t.Fatalf("job not marked done: %+v", repo.done)
	}
}

func TestProcessOneFailureReschedules(t *testing.T) {
	repo := newFakeJobsRepo()
	j := welcomeJob(t, 0, 5)
	repo.claimFn = func(ctx context.Context, workerID string) (job.Job, error) {
		return j, nil
	}

	notifier := &recordingNotifier{err: errors.New("provider down")}

	w := worker.New(worker.Config{WorkerID: "w1"}, repo, &fakeTaskCounter{}, notifier, testLogger(), nil)

	if _, err := w.ProcessOne(context.Background()); err != nil {
		t.Fatalf("job failures must not bubble up: %v", err)
	}

	runAt, ok := repo.rescheduled[j.ID]
	if !ok {
		t.Fatalf("expected job to be rescheduled")
	}

	if !runAt.After(time.Now().UTC()) {
		t.Fatalf("reschedule time %v should be in the future", runAt)
	}

	if len(repo.done) != 0 {
		t.Fatalf("failed job must not be marked done")
	}
}

func TestProcessOneExhaustedDeadLetters(t *testing.T) {
	repo := newFakeJobsRepo()
	j := welcomeJob(t, 4, 5) // one attempt left
	repo.claimFn = func(ctx context.Context, workerID string) (job.Job, error) {
		return j, nil
	}

	notifier := &recordingNotifier{err: errors.New("provider down")}

	w := worker.New(worker.Config{WorkerID: "w1"}, repo, &fakeTaskCounter{}, notifier, testLogger(), nil)

	if _, err := w.ProcessOne(context.Background()); err != nil {
		t.Fatalf("job failures must not bubble up: %v", err)
	}

	if _, ok := repo.failed[j.ID]; !ok {
		t.Fatalf("exhausted job must be marked failed")
	}

	if _, ok := repo.rescheduled[j.ID]; ok {
		t.Fatalf("exhausted job must not be rescheduled")
	}
}

func TestProcessOneBadPayloadDeadLettersImmediately(t *testing.T) {
	repo := newFakeJobsRepo()
	j := job.New(job.CreateRequest{Type: jobs.TypeTaskDigest, Payload: []byte(`{"userId":""}`), MaxAttempts: 10})
	repo.claimFn = func(ctx context.Context, workerID string) (job.Job, error) {
		return j, nil
	}

	w := worker.New(worker.Config{WorkerID: "w1"}, repo, &fakeTaskCounter{}, &recordingNotifier{}, testLogger(), nil)

	if _, err := w.ProcessOne(context.Background()); err != nil {
		t.Fatalf("job failures must not bubble up: %v", err)
	}

	if _, ok := repo.failed[j.ID]; !ok {
		t.Fatalf("undecodable payload must dead-letter without retries")
	}
}

func TestProcessOneDigestCountsOpenTasks(t *testing.T) {
	repo := newFakeJobsRepo()

	raw, err := jobs.TaskDigestPayload{UserID: "user-1", Email: "a@x.com", RequestedAt: time.Now().UTC()}.JSON()
	if err != nil {
		t.Fatalf("payload JSON: %v", err)
	}

	j := job.New(job.CreateRequest{Type: jobs.TypeTaskDigest, Payload: raw, MaxAttempts: 5})
	repo.claimFn = func(ctx context.Context, workerID string) (job.Job, error) {
		repo.claimFn = nil
		return j, nil
	}

	notifier := &recordingNotifier{}

	w := worker.New(worker.Config{WorkerID: "w1"}, repo, &fakeTaskCounter{open: 7}, notifier, testLogger(), nil)

	if _, err := w.ProcessOne(context.Background()); err != nil {
		t.Fatalf("ProcessOne returned error: %v", err)
	}

	if len(notifier.digests) != 1 || notifier.digests[0].OpenTasks != 7 {
		t.Fatalf("digest not delivered with open-task count: %+v", notifier.digests)
	}
}
