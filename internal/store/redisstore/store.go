// Package redisstore keeps licenses in Redis. Each license is a JSON
// document under <prefix>:license:<key>; a set per owner indexes claimed
// keys. Writes use WATCH/MULTI so claims stay atomic across instances.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"

	"licensed/internal/license"
)

// DefaultPrefix namespaces keys when none is configured.
const DefaultPrefix = "licensed"

// maxTxRetries bounds optimistic transaction retries when a watched key
// changes between read and write.
const maxTxRetries = 8

// Store implements license.Store on Redis.
type Store struct {
	client redis.UniversalClient
	prefix string
}

// Connect builds a client from a redis:// URL or a bare host:port.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	var client *redis.Client
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: redisURL})
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// New wraps client. An empty prefix falls back to DefaultPrefix.
func New(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{client: client, prefix: prefix}
}

func (s *Store) licenseKey(key string) string {
	return s.prefix + ":license:" + key
}

func (s *Store) ownerKey(owner string) string {
	return s.prefix + ":owner:" + owner
}

func (s *Store) FindByKey(ctx context.Context, key string) (*license.License, error) {
	data, err := s.client.Get(ctx, s.licenseKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, license.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return decode(data)
}

func (s *Store) FindAllByOwner(ctx context.Context, owner string) ([]*license.License, error) {
	keys, err := s.client.SMembers(ctx, s.ownerKey(owner)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	redisKeys := make([]string, len(keys))
	for i, k := range keys {
		redisKeys[i] = s.licenseKey(k)
	}
	values, err := s.client.MGet(ctx, redisKeys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget: %w", err)
	}

	out := make([]*license.License, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		lic, err := decode([]byte(raw))
		if err != nil {
			return nil, err
		}
		// The index is written in the same transaction as the claim, but
		// filter anyway in case a row was edited by hand.
		if lic.Owner == owner {
			out = append(out, lic)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) InsertIfAbsent(ctx context.Context, l *license.License) error {
	data, err := encode(l)
	if err != nil {
		return err
	}
	k := s.licenseKey(l.Key)

	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, k).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return license.ErrConflict
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, k, data, 0)
			if l.Owner != "" {
				p.SAdd(ctx, s.ownerKey(l.Owner), l.Key)
			}
			return nil
		})
		return err
	}, k)

	switch {
	case err == nil, errors.Is(err, license.ErrConflict):
		return err
	case errors.Is(err, redis.TxFailedErr):
		// Someone wrote the key between EXISTS and EXEC.
		return license.ErrConflict
	default:
		return fmt.Errorf("redis insert: %w", err)
	}
}

func (s *Store) UpdateConditional(ctx context.Context, key string, m license.Mutation, pred license.Predicate) error {
	return s.update(ctx, key, m, &pred)
}

func (s *Store) UpdateUnconditional(ctx context.Context, key string, m license.Mutation) error {
	return s.update(ctx, key, m, nil)
}

func (s *Store) update(ctx context.Context, key string, m license.Mutation, pred *license.Predicate) error {
	k := s.licenseKey(key)

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, k).Bytes()
		if errors.Is(err, redis.Nil) {
			return license.ErrNotFound
		}
		if err != nil {
			return err
		}
		lic, err := decode(data)
		if err != nil {
			return err
		}
		if pred != nil && !pred.Holds(lic) {
			return license.ErrConditionFailed
		}

		m.Apply(lic)
		updated, err := encode(lic)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, k, updated, 0)
			if m.Claim != nil {
				p.SAdd(ctx, s.ownerKey(m.Claim.Owner), key)
			}
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txf, k)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, redis.TxFailedErr):
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			continue
		case license.IsOutcome(err):
			return err
		default:
			return fmt.Errorf("redis update: %w", err)
		}
	}

	if pred != nil {
		return license.ErrConditionFailed
	}
	return fmt.Errorf("redis update: %w", redis.TxFailedErr)
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

var _ license.Store = (*Store)(nil)
