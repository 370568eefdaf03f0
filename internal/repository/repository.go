package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

var (
	// ErrNotFound is returned when a record is absent or outside the
	// caller's scope.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when a unique field is already taken.
	ErrDuplicate = errors.New("record already exists")
)

// Locker serializes work on a single resource key.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}
