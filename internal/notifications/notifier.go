package notifications

import "context"

type SendWelcomeInput struct {
	Email  string
	UserID string
}

type SendTaskDigestInput struct {
	Email     string
	UserID    string
	OpenTasks int
}

type Notifier interface {
	SendWelcome(ctx context.Context, input SendWelcomeInput) error
	SendTaskDigest(ctx context.Context, input SendTaskDigestInput) error
}
