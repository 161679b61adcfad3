package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/denismitr/shift/internal/logger"
	"github.com/denismitr/shift/migration"
	"github.com/pkg/errors"
)

var ErrAlreadyExists = errors.New("migration file already exists")

const sqlStub = `-- +migrate Up

-- +migrate Down
`

const yamlStub = `up: []
down: []
`

const goStub = `package migrations

import (
	"github.com/denismitr/shift/migration"
)

// Registry is declared once for the package and passed to shift.WithRegistry:
//
//	var Registry = migration.NewRegistry()

// %[1]s answers migration.ErrNotImplemented through the embedded
// migration.Base until Up and Down are written, e.g.
//
//	func (%[1]s) Up(ctx context.Context, s *migration.Session) error {
//		return s.Exec(ctx, "CREATE TABLE ...")
//	}
type %[1]s struct {
	migration.Base
}

func init() {
	Registry.MustRegister("%[2]s", "%[3]s", func() (migration.Unit, error) {
		return %[1]s{}, nil
	})
}
`

// LocalFileCatalog is a Catalog over a folder of the local file system
type LocalFileCatalog struct {
	*Catalog
	folder string
}

func NewLocalFSCatalog(folder string, registry *migration.Registry, lg logger.Logger) *LocalFileCatalog {
	return &LocalFileCatalog{
		Catalog: NewFSCatalog(os.DirFS(folder), folder, registry, lg),
		folder:  folder,
	}
}

func (lfc *LocalFileCatalog) Folder() string {
	return lfc.folder
}

func (lfc *LocalFileCatalog) IsValid() bool {
	info, err := os.Stat(lfc.folder)
	if os.IsNotExist(err) {
		return false
	}

	return err == nil && info.IsDir()
}

// AlreadyExists checks every supported extension, not only the requested kind
func (lfc *LocalFileCatalog) AlreadyExists(v migration.Version, name string) bool {
	key := migration.CreateKeyFromVersionAndName(v, name)
	for _, ext := range []string{"sql", "yml", "yaml", "go"} {
		info, err := os.Stat(filepath.Join(lfc.folder, key+"."+ext))
		if err == nil && !info.IsDir() {
			return true
		}
	}

	return false
}

// Create writes an empty migration stub of the given kind and returns its descriptor
func (lfc *LocalFileCatalog) Create(v migration.Version, name string, kind migration.Kind) (*migration.Descriptor, error) {
	if _, err := migration.ParseVersion(v.String()); err != nil {
		return nil, err
	}

	if strings.TrimSpace(name) == "" {
		return nil, errors.New("migration name must not be empty")
	}

	if lfc.AlreadyExists(v, name) {
		return nil, errors.Wrapf(ErrAlreadyExists, "%s", migration.CreateKeyFromVersionAndName(v, name))
	}

	key := migration.CreateKeyFromVersionAndName(v, name)

	var ext, contents string
	switch kind {
	case migration.SQLKind, "":
		kind = migration.SQLKind
		ext, contents = "sql", sqlStub
	case migration.YAMLKind:
		ext, contents = "yml", yamlStub
	case migration.GoKind:
		ext, contents = "go", fmt.Sprintf(goStub, goTypeName(key), v, name)
	default:
		return nil, errors.Errorf("unsupported migration kind [%s]", kind)
	}

	if err := os.MkdirAll(lfc.folder, 0755); err != nil {
		return nil, errors.Wrapf(err, "could not create folder [%s]", lfc.folder)
	}

	filename := filepath.Join(lfc.folder, key+"."+ext)
	f, err := os.OpenFile(filename, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "could not create file [%s]", filename)
	}

	if _, err := f.WriteString(contents); err != nil {
		_ = f.Close()
		return nil, errors.Wrapf(err, "could not write file [%s]", filename)
	}

	if err := f.Close(); err != nil {
		return nil, errors.Wrapf(err, "could not close file %s", filename)
	}

	_, displayName, _, _ := ParseFileName(filename)

	return migration.NewDescriptor(v, displayName, filename, kind, nil), nil
}

func goTypeName(key string) string {
	var b strings.Builder
	b.WriteString("migration")
	for _, part := range strings.FieldsFunc(key, func(r rune) bool { return r == '_' || r == '-' }) {
		b.WriteString(strings.ToUpper(part[:1]))
		b.WriteString(part[1:])
	}
	return b.String()
}
