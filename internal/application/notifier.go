package application

import "context"

// Notifier pushes notable events (a recognized user, a failed command) to the owner's phone.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

type NoopNotifier struct{}

func (n *NoopNotifier) Notify(_ context.Context, _ string) error {
	return nil
}
