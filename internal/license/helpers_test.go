package license_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"licensed/internal/infrastructure"
	"licensed/internal/license"
	"licensed/internal/store/memory"
)

var errTransient = errors.New("connection reset by peer")

var testLogger = infrastructure.NewDiscardLogger()

// fixedClock returns a clock that advances one second per call.
func fixedClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	now := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

// countingStore counts successful writes against the wrapped store.
type countingStore struct {
	license.Store
	inserts      atomic.Int32
	conditionals atomic.Int32
	updates      atomic.Int32
}

func newCountingStore() *countingStore {
	return &countingStore{Store: memory.New()}
}

func (s *countingStore) writes() int32 {
	return s.inserts.Load() + s.conditionals.Load() + s.updates.Load()
}

func (s *countingStore) InsertIfAbsent(ctx context.Context, l *license.License) error {
	err := s.Store.InsertIfAbsent(ctx, l)
	if err == nil {
		s.inserts.Add(1)
	}
	return err
}

func (s *countingStore) UpdateConditional(ctx context.Context, key string, m license.Mutation, p license.Predicate) error {
	err := s.Store.UpdateConditional(ctx, key, m, p)
	if err == nil {
		s.conditionals.Add(1)
	}
	return err
}

func (s *countingStore) UpdateUnconditional(ctx context.Context, key string, m license.Mutation) error {
	err := s.Store.UpdateUnconditional(ctx, key, m)
	if err == nil {
		s.updates.Add(1)
	}
	return err
}

// interleavingStore runs hook once, right before the first call of the
// named operation reaches the wrapped store.
type interleavingStore struct {
	license.Store
	op   string
	hook func()
	once sync.Once
}

func (s *interleavingStore) before(op string) {
	if op == s.op {
		s.once.Do(s.hook)
	}
}

func (s *interleavingStore) InsertIfAbsent(ctx context.Context, l *license.License) error {
	s.before("insert")
	return s.Store.InsertIfAbsent(ctx, l)
}

func (s *interleavingStore) UpdateConditional(ctx context.Context, key string, m license.Mutation, p license.Predicate) error {
	s.before("conditional")
	return s.Store.UpdateConditional(ctx, key, m, p)
}

// alwaysRacingStore reports a failed condition on every conditional write.
type alwaysRacingStore struct {
	license.Store
	calls atomic.Int32
}

func (s *alwaysRacingStore) UpdateConditional(context.Context, string, license.Mutation, license.Predicate) error {
	s.calls.Add(1)
	return license.ErrConditionFailed
}

// flakyStore fails the first n calls of every method with errTransient.
type flakyStore struct {
	license.Store
	failures atomic.Int32
	limit    int32
	calls    atomic.Int32
}

func newFlakyStore(next license.Store, n int32) *flakyStore {
	return &flakyStore{Store: next, limit: n}
}

func (s *flakyStore) fail() error {
	s.calls.Add(1)
	if s.failures.Add(1) <= s.limit {
		return errTransient
	}
	return nil
}

func (s *flakyStore) FindByKey(ctx context.Context, key string) (*license.License, error) {
	if err := s.fail(); err != nil {
		return nil, err
	}
	return s.Store.FindByKey(ctx, key)
}

func (s *flakyStore) FindAllByOwner(ctx context.Context, owner string) ([]*license.License, error) {
	if err := s.fail(); err != nil {
		return nil, err
	}
	return s.Store.FindAllByOwner(ctx, owner)
}

func (s *flakyStore) InsertIfAbsent(ctx context.Context, l *license.License) error {
	if err := s.fail(); err != nil {
		return err
	}
	return s.Store.InsertIfAbsent(ctx, l)
}

func (s *flakyStore) UpdateConditional(ctx context.Context, key string, m license.Mutation, p license.Predicate) error {
	if err := s.fail(); err != nil {
		return err
	}
	return s.Store.UpdateConditional(ctx, key, m, p)
}

func (s *flakyStore) UpdateUnconditional(ctx context.Context, key string, m license.Mutation) error {
	if err := s.fail(); err != nil {
		return err
	}
	return s.Store.UpdateUnconditional(ctx, key, m)
}

// fastRetry keeps retry tests quick.
var fastRetry = license.RetryPolicy{
	MaxAttempts:     3,
	InitialInterval: time.Millisecond,
	MaxInterval:     2 * time.Millisecond,
}

func seed(store license.Store, key string, tier license.Tier, owner string) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	lic := &license.License{
		Key:        key,
		Tier:       tier,
		Provenance: license.Provenance{SourceOrderID: "seed-" + key},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := store.InsertIfAbsent(context.Background(), lic); err != nil {
		panic(err)
	}
	if owner != "" {
		err := store.UpdateConditional(context.Background(), key, license.Mutation{
			Claim: &license.Claim{Owner: owner, ActivatedAt: now},
		}, license.Predicate{Unclaimed: true})
		if err != nil {
			panic(err)
		}
	}
}
