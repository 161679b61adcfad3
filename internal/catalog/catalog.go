package catalog

import (
	"context"
	"io/fs"
	"path"
	"regexp"
	"strings"

	"github.com/denismitr/shift/internal/logger"
	"github.com/denismitr/shift/migration"
	"github.com/pkg/errors"
)

const DefaultMigrationsFolder = "./migrations"

const registryLocation = "registry"

// <14 digit version>_<descriptive name>.<ext>
var fileNameRegexp = regexp.MustCompile(`^(?P<version>\d{14})_(?P<name>[A-Za-z0-9][\w-]*)\.(?P<ext>\w+)$`)

var ErrNotAMigrationFile = errors.New("not a migration file")

// Discoverer builds the version to descriptor mapping on every call
type Discoverer interface {
	Discover(ctx context.Context) (map[migration.Version]*migration.Descriptor, error)
}

// Catalog discovers migration units in a file system and an optional
// registry of units written in Go
type Catalog struct {
	fsys     fs.FS
	root     string
	registry *migration.Registry
	lg       logger.Logger
}

var _ Discoverer = (*Catalog)(nil)

// NewFSCatalog reads migrations from the top level of fsys, which is
// already rooted at the migrations directory. Root names it in errors.
func NewFSCatalog(fsys fs.FS, root string, registry *migration.Registry, lg logger.Logger) *Catalog {
	if lg == nil {
		lg = logger.NullLogger{}
	}

	return &Catalog{fsys: fsys, root: root, registry: registry, lg: lg}
}

// NewInMemoryCatalog serves only the units of the registry
func NewInMemoryCatalog(registry *migration.Registry, lg logger.Logger) *Catalog {
	return NewFSCatalog(nil, registryLocation, registry, lg)
}

func (c *Catalog) Root() string {
	return c.root
}

func (c *Catalog) Discover(ctx context.Context) (map[migration.Version]*migration.Descriptor, error) {
	result := make(map[migration.Version]*migration.Descriptor)
	fromGoFiles := make(map[migration.Version]bool)

	if c.fsys != nil {
		entries, err := fs.ReadDir(c.fsys, ".")
		if err != nil {
			return nil, &migration.DiscoveryError{Path: c.root, Err: err}
		}

		for _, entry := range entries {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			if entry.IsDir() {
				continue
			}

			d, err := c.describe(entry.Name())
			if err != nil {
				if errors.Is(err, ErrNotAMigrationFile) {
					continue
				}

				return nil, &migration.DiscoveryError{Path: c.location(entry.Name()), Err: err}
			}

			if existing, ok := result[d.Version]; ok {
				return nil, &migration.DiscoveryError{
					Path: c.location(entry.Name()),
					Err:  errors.Wrapf(migration.ErrDuplicateVersion, "%s is also used by %s", d.Version, existing.Location),
				}
			}

			result[d.Version] = d
			if d.Kind == migration.GoKind {
				fromGoFiles[d.Version] = true
			}
		}
	}

	if c.registry == nil {
		return result, nil
	}

	for _, v := range c.registry.Versions() {
		if fromGoFiles[v] {
			continue
		}

		if existing, ok := result[v]; ok {
			return nil, &migration.DiscoveryError{
				Path: registryLocation,
				Err:  errors.Wrapf(migration.ErrDuplicateVersion, "%s is also used by %s", v, existing.Location),
			}
		}

		factory, name, _ := c.registry.Lookup(v)
		result[v] = migration.NewDescriptor(v, migration.DisplayName(name), registryLocation, migration.GoKind, factory)
	}

	return result, nil
}

// describe turns one file into a descriptor or returns ErrNotAMigrationFile
func (c *Catalog) describe(fileName string) (*migration.Descriptor, error) {
	version, name, ext, ok := ParseFileName(fileName)
	if !ok {
		return nil, ErrNotAMigrationFile
	}

	location := c.location(fileName)

	switch strings.ToLower(ext) {
	case "sql":
		contents, err := fs.ReadFile(c.fsys, fileName)
		if err != nil {
			return nil, errors.Wrapf(err, "could not read migration file %s", fileName)
		}

		unit, err := ParseSQL(string(contents))
		if err != nil {
			return nil, errors.Wrapf(err, "could not parse migration file %s", fileName)
		}

		return migration.NewDescriptor(version, name, location, migration.SQLKind, unit.factory()), nil
	case "yml", "yaml":
		contents, err := fs.ReadFile(c.fsys, fileName)
		if err != nil {
			return nil, errors.Wrapf(err, "could not read migration file %s", fileName)
		}

		unit, err := ParseYAML(contents)
		if err != nil {
			return nil, errors.Wrapf(err, "could not parse migration file %s", fileName)
		}

		return migration.NewDescriptor(version, name, location, migration.YAMLKind, unit.factory()), nil
	case "go":
		if c.registry == nil {
			return nil, errors.Wrapf(migration.ErrUnregisteredUnit, "%s (no registry configured)", version)
		}

		factory, _, ok := c.registry.Lookup(version)
		if !ok {
			return nil, errors.Wrapf(migration.ErrUnregisteredUnit, "%s", version)
		}

		return migration.NewDescriptor(version, name, location, migration.GoKind, factory), nil
	default:
		c.lg.Debugf("skipping %s: unsupported migration extension [%s]", location, ext)
		return nil, ErrNotAMigrationFile
	}
}

func (c *Catalog) location(fileName string) string {
	if c.root == "" {
		return fileName
	}

	return path.Join(c.root, fileName)
}

// ParseFileName splits a migration file name into version, display name and extension
func ParseFileName(fileName string) (migration.Version, string, string, bool) {
	matches := fileNameRegexp.FindStringSubmatch(path.Base(fileName))
	if len(matches) != 4 {
		return "", "", "", false
	}

	return migration.Version(matches[1]), migration.DisplayName(matches[2]), matches[3], true
}
