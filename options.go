package shift

import (
	"github.com/denismitr/shift/internal/snapshot"
	"github.com/denismitr/shift/migration"
)

type OptionFunc func(*Migrator) error

// WithRegistry makes units written in Go discoverable by every source
func WithRegistry(r *migration.Registry) OptionFunc {
	return func(m *Migrator) error {
		m.registry = r
		return nil
	}
}

// WithSnapshotPath overrides where the schema snapshot is written,
// by default it is schema.txt inside the migrations folder
func WithSnapshotPath(path string) OptionFunc {
	return func(m *Migrator) error {
		m.snapshotPath = path
		return nil
	}
}

func WithoutSnapshot() OptionFunc {
	return WithSnapshotPath(snapshot.Disabled)
}
