// Package postgres persists licenses in PostgreSQL through GORM. The
// claim is a single UPDATE guarded by "owner IS NULL", which Postgres
// serializes on the row lock, so concurrent activations cannot both win.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"licensed/internal/license"
)

// Options tunes the connection pool.
type Options struct {
	MaxConns        int
	ConnMaxLifetime time.Duration
}

// Connect opens and pings a GORM connection pool.
func Connect(ctx context.Context, databaseURL string, opts Options, logger *slog.Logger) (*gorm.DB, error) {
	logger.InfoContext(ctx, "postgres connect started", slog.String("operation", "connect"))

	db, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{
		PrepareStmt:    true,
		TranslateError: true,
		Logger:         gormlogger.Discard,
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("gorm sql db: %w", err)
	}
	if opts.MaxConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxConns)
		sqlDB.SetMaxIdleConns(max(opts.MaxConns/2, 1))
	}
	if opts.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}
	sqlDB.SetConnMaxIdleTime(15 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	logger.InfoContext(ctx, "postgres connect completed", slog.String("operation", "connect"))
	return db, nil
}

// Store implements license.Store on a licenses table.
type Store struct {
	db *gorm.DB
}

// New wraps db
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) FindByKey(ctx context.Context, key string) (*license.License, error) {
	var m licenseModel
	err := s.db.WithContext(ctx).Where("license_key = ?", key).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, license.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select license: %w", err)
	}
	return m.toLicense()
}

func (s *Store) FindAllByOwner(ctx context.Context, owner string) ([]*license.License, error) {
	var rows []licenseModel
	err := s.db.WithContext(ctx).
		Where("owner = ?", owner).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("select licenses by owner: %w", err)
	}

	out := make([]*license.License, 0, len(rows))
	for _, row := range rows {
		lic, err := row.toLicense()
		if err != nil {
			return nil, err
		}
		out = append(out, lic)
	}
	return out, nil
}

func (s *Store) InsertIfAbsent(ctx context.Context, l *license.License) error {
	m, err := toModel(l)
	if err != nil {
		return err
	}

	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "license_key"}}, DoNothing: true}).
		Create(&m)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return license.ErrConflict
		}
		return fmt.Errorf("insert license: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return license.ErrConflict
	}
	return nil
}

func (s *Store) UpdateConditional(ctx context.Context, key string, m license.Mutation, pred license.Predicate) error {
	cols, err := mutationColumns(m)
	if err != nil {
		return err
	}

	q := s.db.WithContext(ctx).Model(&licenseModel{}).Where("license_key = ?", key)
	if pred.Unclaimed {
		q = q.Where("owner IS NULL")
	}
	res := q.Updates(cols)
	if res.Error != nil {
		return fmt.Errorf("conditional update license: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	// Nothing matched: tell a missing row from a failed predicate.
	if _, err := s.FindByKey(ctx, key); err != nil {
		return err
	}
	return license.ErrConditionFailed
}

func (s *Store) UpdateUnconditional(ctx context.Context, key string, m license.Mutation) error {
	cols, err := mutationColumns(m)
	if err != nil {
		return err
	}

	res := s.db.WithContext(ctx).Model(&licenseModel{}).Where("license_key = ?", key).Updates(cols)
	if res.Error != nil {
		return fmt.Errorf("update license: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return license.ErrNotFound
	}
	return nil
}

// Ping checks the pool.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// DB exposes the connection pool for migrations.
func (s *Store) DB() *gorm.DB { return s.db }

// Close releases the pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var _ license.Store = (*Store)(nil)
