// Package storage is the PostgreSQL persistence layer for jobs, documents and AI runs.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/cuongbtq/docflow/shared/postgresql"
	"github.com/jmoiron/sqlx"
)

// Options tunes store behavior
type Options struct {
	// RetryDelay is how long a failed job waits before it can be leased again
	RetryDelay time.Duration
}

// Storage handles all database operations
type Storage struct {
	db         *sqlx.DB
	logger     *slog.Logger
	retryDelay time.Duration
	now        func() time.Time
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger, opts *Options) *Storage {
	s := &Storage{
		db:     db,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
	if opts != nil {
		s.retryDelay = opts.RetryDelay
	}
	return s
}

type txKey struct{}

// WithinTx runs fn in a transaction. Store calls made with the ctx passed to
// fn join that transaction. Nested calls reuse the outer transaction.
func (s *Storage) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return fn(ctx)
	}
	return postgresql.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

// conn returns the transaction bound to ctx, or the pool
func (s *Storage) conn(ctx context.Context) sqlx.ExtContext {
	if tx, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return tx
	}
	return s.db
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
