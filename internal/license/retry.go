package license

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	licenseErrors "licensed/internal/errors"
	"licensed/internal/infrastructure"
)

// RetryPolicy bounds retries of transient store failures.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy retries three times within roughly a quarter second.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     time.Second,
	}
}

// RetryingStore retries transient failures of the wrapped Store with
// exponential backoff. Expected outcomes (ErrNotFound, ErrConflict,
// ErrConditionFailed) and context errors pass through untouched. When
// retries run out the error wraps ErrStoreUnavailable.
type RetryingStore struct {
	next    Store
	policy  RetryPolicy
	logger  *slog.Logger
	metrics *Metrics
}

// RetryOption configures a RetryingStore
type RetryOption func(*RetryingStore)

// WithRetryMetrics counts retries on m.
func WithRetryMetrics(m *Metrics) RetryOption {
	return func(s *RetryingStore) { s.metrics = m }
}

// NewRetryingStore wraps next
func NewRetryingStore(next Store, policy RetryPolicy, logger *slog.Logger, opts ...RetryOption) *RetryingStore {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	s := &RetryingStore{
		next:   next,
		policy: policy,
		logger: infrastructure.WithComponent(logger, "license_store"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Unwrap returns the wrapped store.
func (s *RetryingStore) Unwrap() Store {
	return s.next
}

func (s *RetryingStore) FindByKey(ctx context.Context, key string) (*License, error) {
	var lic *License
	err := s.do(ctx, "find_by_key", func() error {
		var err error
		lic, err = s.next.FindByKey(ctx, key)
		return err
	})
	return lic, err
}

func (s *RetryingStore) FindAllByOwner(ctx context.Context, owner string) ([]*License, error) {
	var out []*License
	err := s.do(ctx, "find_all_by_owner", func() error {
		var err error
		out, err = s.next.FindAllByOwner(ctx, owner)
		return err
	})
	return out, err
}

func (s *RetryingStore) InsertIfAbsent(ctx context.Context, l *License) error {
	return s.do(ctx, "insert_if_absent", func() error {
		return s.next.InsertIfAbsent(ctx, l)
	})
}

func (s *RetryingStore) UpdateConditional(ctx context.Context, key string, m Mutation, pred Predicate) error {
	return s.do(ctx, "update_conditional", func() error {
		return s.next.UpdateConditional(ctx, key, m, pred)
	})
}

func (s *RetryingStore) UpdateUnconditional(ctx context.Context, key string, m Mutation) error {
	return s.do(ctx, "update_unconditional", func() error {
		return s.next.UpdateUnconditional(ctx, key, m)
	})
}

// Ping checks the wrapped store once, without retries.
func (s *RetryingStore) Ping(ctx context.Context) error {
	if p, ok := s.next.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

func (s *RetryingStore) do(ctx context.Context, op string, fn func() error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = s.policy.InitialInterval
	eb.MaxInterval = s.policy.MaxInterval
	eb.MaxElapsedTime = 0

	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(s.policy.MaxAttempts-1)), ctx)

	err := backoff.RetryNotify(func() error {
		err := fn()
		if err == nil || IsOutcome(err) || isContextErr(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b, func(err error, wait time.Duration) {
		s.logger.WarnContext(ctx, "transient store failure, retrying",
			slog.String("operation", op),
			slog.String("error", err.Error()),
			slog.Duration("backoff", wait))
		s.metrics.recordStoreRetry(ctx, op)
	})

	if err == nil || IsOutcome(err) || isContextErr(err) {
		return err
	}

	s.logger.ErrorContext(ctx, "store unavailable after retries",
		slog.String("operation", op),
		slog.Int("attempts", s.policy.MaxAttempts),
		slog.String("error", err.Error()))
	return fmt.Errorf("%w: %s: %v", licenseErrors.ErrStoreUnavailable, op, err)
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

var _ Store = (*RetryingStore)(nil)
