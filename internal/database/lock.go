package database

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

var ErrLockTimeout = errors.New("could not obtain migrations lock in time")

// Locker serializes concurrent migrators on one database
type Locker interface {
	Lock(ctx context.Context, conn sqlx.QueryerContext) error
	Unlock(ctx context.Context, conn sqlx.QueryerContext) error
}

type NullLocker struct{}

func (NullLocker) Lock(context.Context, sqlx.QueryerContext) error {
	return nil
}

func (NullLocker) Unlock(context.Context, sqlx.QueryerContext) error {
	return nil
}
