package notifications_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/taskhubio/taskhub/internal/notifications"
)

type fakeNotifier struct {
	err   error
	calls int
}

func (f *fakeNotifier) SendWelcome(ctx context.Context, in notifications.SendWelcomeInput) error {
	f.calls++
	return f.err
}

func (f *fakeNotifier) SendTaskDigest(ctx context.Context, in notifications.SendTaskDigestInput) error {
	f.calls++
	return f.err
}

func TestProtectedNotifierOpensAfterThreshold(t *testing.T) {
	inner := &fakeNotifier{err: errors.New("provider down")}

	n := notifications.NewProtectedNotifier(inner, notifications.ProtectedNotifierConfig{
		FailureThreshold: 2,
		Cooldown:         time.Hour,
	})

	in := notifications.SendWelcomeInput{Email: "a@x.com", UserID: "user-1"}

	// two real failures open the circuit
	for i := 0; i < 2; i++ {
		if err := n.SendWelcome(context.Background(), in); err == nil {
			t.Fatalf("expected provider error on call %d", i)
		}
	}

	err := n.SendWelcome(context.Background(), in)
	if !errors.Is(err, notifications.ErrCircuitOpen) {
		t.Fatalf("got %v, want ErrCircuitOpen", err)
	}

	if inner.calls != 2 {
		t.Fatalf("inner notifier called %d times after circuit opened, want 2", inner.calls)
	}
}

func TestProtectedNotifierHalfOpenRecovery(t *testing.T) {
	inner := &fakeNotifier{err: errors.New("provider down")}

	n := notifications.NewProtectedNotifier(inner, notifications.ProtectedNotifierConfig{
		FailureThreshold: 1,
		Cooldown:         10 * time.Millisecond,
	})

	in := notifications.SendTaskDigestInput{Email: "a@x.com", UserID: "user-1", OpenTasks: 3}

	if err := n.SendTaskDigest(context.Background(), in); err == nil {
		t.Fatalf("expected first call to fail")
	}

	// circuit open: fail fast
	if err := n.SendTaskDigest(context.Background(), in); !errors.Is(err, notifications.ErrCircuitOpen) {
		t.Fatalf("got %v, want ErrCircuitOpen", err)
	}

	// provider recovers, cooldown elapses, half-open probe succeeds
	inner.err = nil
	time.Sleep(20 * time.Millisecond)

	if err := n.SendTaskDigest(context.Background(), in); err != nil {
		t.Fatalf("half-open probe should pass through: %v", err)
	}

	// circuit closed again
	if err := n.SendTaskDigest(context.Background(), in); err != nil {
		t.Fatalf("closed circuit should pass through: %v", err)
	}
}
