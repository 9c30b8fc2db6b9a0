package notifications

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"
)

// LogNotifier is the default delivery backend: it writes the notification to
// the process log. A real provider slots in behind the same interface.
type LogNotifier struct{}

func NewLogNotifier() *LogNotifier { return &LogNotifier{} }

func (n *LogNotifier) SendWelcome(ctx context.Context, in SendWelcomeInput) error {
	if err := simulateProvider(ctx); err != nil {
		return err
	}

	log.Printf("notification.welcome email=%s user=%s", in.Email, in.UserID)
	return nil
}

func (n *LogNotifier) SendTaskDigest(ctx context.Context, in SendTaskDigestInput) error {
	if err := simulateProvider(ctx); err != nil {
		return err
	}

	log.Printf("notification.task_digest email=%s user=%s open_tasks=%d", in.Email, in.UserID, in.OpenTasks)
	return nil
}

func simulateProvider(ctx context.Context) error {
	// Optional: simulate slow provider
	if msStr := os.Getenv("NOTIFIER_SLEEP_MS"); msStr != "" {
		ms, _ := strconv.Atoi(msStr)
		if ms > 0 {
			select {
			case <-time.After(time.Duration(ms) * time.Millisecond):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	// Optional: simulate provider outage
	if os.Getenv("NOTIFIER_FAIL") == "1" {
		return fmt.Errorf("provider down (simulated)")
	}

	return nil
}
