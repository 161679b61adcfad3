package shift

import (
	"io/fs"
	"path"
	"path/filepath"

	"github.com/denismitr/shift/internal/catalog"
	"github.com/denismitr/shift/internal/snapshot"
	"github.com/denismitr/shift/migration"
	"github.com/pkg/errors"
)

type (
	sourceConfig struct {
		snapshotFile string
	}

	SourceConfigurator func(sc *sourceConfig)
)

// UseLocalFolderSource reads migration files from folder, the schema
// snapshot goes into the same folder unless configured otherwise
func UseLocalFolderSource(folder string, configurators ...SourceConfigurator) OptionFunc {
	var sc sourceConfig
	sc.snapshotFile = snapshot.DefaultFileName
	for _, c := range configurators {
		c(&sc)
	}

	return func(m *Migrator) error {
		m.sourceFn = localFolderSource(folder)
		if m.snapshotPath == "" && sc.snapshotFile != snapshot.DefaultFileName {
			m.snapshotPath = snapshotIn(folder, sc.snapshotFile)
		}
		return nil
	}
}

// UseFSSource reads migration files from the root directory of any file
// system, e.g. an embed.FS holding migrations/*.sql. There is no default
// snapshot path for it.
func UseFSSource(fsys fs.FS, root string) OptionFunc {
	return func(m *Migrator) error {
		if fsys == nil {
			return migration.ErrMissingSource
		}

		dir, rooted := path.Clean(root), fsys
		if dir != "." {
			sub, err := fs.Sub(fsys, dir)
			if err != nil {
				return errors.Wrapf(err, "invalid migrations root [%s]", root)
			}
			rooted = sub
		}

		m.sourceFn = func(m *Migrator) catalog.Discoverer {
			return catalog.NewFSCatalog(rooted, dir, m.registry, m.lg)
		}
		return nil
	}
}

// UseInMemorySource serves only units registered in Go code
func UseInMemorySource(r *migration.Registry) OptionFunc {
	return func(m *Migrator) error {
		if r == nil {
			return migration.ErrMissingSource
		}

		m.registry = r
		m.sourceFn = func(m *Migrator) catalog.Discoverer {
			return catalog.NewInMemoryCatalog(m.registry, m.lg)
		}
		return nil
	}
}

func WithSnapshotFile(name string) SourceConfigurator {
	return func(sc *sourceConfig) {
		sc.snapshotFile = name
	}
}

func localFolderSource(folder string) func(m *Migrator) catalog.Discoverer {
	return func(m *Migrator) catalog.Discoverer {
		lc := catalog.NewLocalFSCatalog(folder, m.registry, m.lg)
		m.folder = lc.Folder()
		return lc
	}
}

func snapshotIn(folder, file string) string {
	if file == snapshot.Disabled {
		return snapshot.Disabled
	}

	return filepath.Join(folder, file)
}
