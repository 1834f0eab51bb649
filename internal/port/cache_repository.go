package port

import "context"

// VerificationGuard is a fast-path cache of (check, target) pairs that are
// already recorded. Storage uniqueness stays authoritative.
type VerificationGuard interface {
	// IsVerified reports whether the pair was marked as recorded
	IsVerified(ctx context.Context, checkID, targetKey string) (bool, error)

	// MarkVerified records the pair after a successful commit
	MarkVerified(ctx context.Context, checkID, targetKey string) error

	// ForgetCheck drops every mark of a closed check
	ForgetCheck(ctx context.Context, checkID string) error
}
