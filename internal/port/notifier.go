package port

import (
	"context"

	"github.com/rl1809/apparatus-check/internal/core/domain"
)

type LockNotifier interface {
	// Notify delivers a lock event without blocking; undeliverable events are dropped
	Notify(ctx context.Context, event domain.LockEvent)
}
