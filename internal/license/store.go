package license

import (
	"context"
	"errors"
)

// Store outcomes. These are expected results, not failures, and are never
// retried.
var (
	ErrNotFound        = errors.New("license not found")
	ErrConflict        = errors.New("license key already exists")
	ErrConditionFailed = errors.New("update condition not met")
)

// Store persists licenses keyed by license key.
type Store interface {
	// FindByKey returns ErrNotFound when no row exists.
	FindByKey(ctx context.Context, key string) (*License, error)
	// FindAllByOwner returns every license claimed by owner, possibly none.
	FindAllByOwner(ctx context.Context, owner string) ([]*License, error)
	// InsertIfAbsent returns ErrConflict when the key is taken.
	InsertIfAbsent(ctx context.Context, l *License) error
	// UpdateConditional applies m only if pred holds for the stored row,
	// atomically. It returns ErrConditionFailed or ErrNotFound otherwise.
	UpdateConditional(ctx context.Context, key string, m Mutation, pred Predicate) error
	// UpdateUnconditional applies m. It returns ErrNotFound for a missing key.
	UpdateUnconditional(ctx context.Context, key string, m Mutation) error
}

// Pinger is implemented by stores that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// IsOutcome reports whether err is one of the expected store outcomes.
func IsOutcome(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) || errors.Is(err, ErrConditionFailed)
}
