package database

import (
	"context"

	"github.com/denismitr/shift/migration"
)

type (
	// Tx is the transactional boundary of one batch. Unit statements and
	// bookkeeping changes share it.
	Tx interface {
		migration.Executor
		Record(ctx context.Context, d *migration.Descriptor) error
		Remove(ctx context.Context, v migration.Version) error
	}

	// Repository is the installed version set
	Repository interface {
		EnsureInitialized(ctx context.Context) error
		ReadVersions(ctx context.Context) (migration.Versions, error)
		InTransaction(ctx context.Context, f func(tx Tx) error) error
	}

	// Schema enumerates and drops application tables. The bookkeeping
	// table is never part of the result.
	Schema interface {
		DatabaseName(ctx context.Context) (string, error)
		ShowTables(ctx context.Context) ([]string, error)
		ShowCreateTable(ctx context.Context, table string) (string, error)
		DropTable(ctx context.Context, table string) error
	}

	Gateway interface {
		Repository
		Schema

		Tokens() migration.TokenTable
		ErrorCode(err error) string

		Lock(ctx context.Context) error
		Unlock(ctx context.Context) error
		Close() error
	}
)
