package domain

import "context"

// Notifier receives one call per newly created fraud flag.
// Implementations are fire-and-forget: delivery failures are theirs to log.
type Notifier interface {
	Notify(ctx context.Context, flag FraudFlag)
}
