package snapshot

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/denismitr/shift/internal/logger"
	"github.com/pkg/errors"
)

const DefaultFileName = "schema.txt"

// Disabled is accepted wherever a snapshot path is configured
const Disabled = "-"

// Source is the part of a database gateway the writer needs.
// ShowTables must already exclude the migrations table.
type Source interface {
	DatabaseName(ctx context.Context) (string, error)
	ShowTables(ctx context.Context) ([]string, error)
	ShowCreateTable(ctx context.Context, table string) (string, error)
}

type Writer struct {
	source Source
	path   string
	lg     logger.Logger
	clock  func() time.Time
}

func NewWriter(source Source, path string, lg logger.Logger) *Writer {
	if lg == nil {
		lg = logger.NullLogger{}
	}

	return &Writer{source: source, path: path, lg: lg, clock: time.Now}
}

// DefaultPath places the snapshot next to the migrations
func DefaultPath(migrationsFolder string) string {
	return filepath.Join(migrationsFolder, DefaultFileName)
}

func (w *Writer) Path() string {
	return w.path
}

func (w *Writer) Enabled() bool {
	return w.path != "" && w.path != Disabled
}

// Write dumps every table definition and replaces the file at Path atomically
func (w *Writer) Write(ctx context.Context) error {
	if !w.Enabled() {
		return nil
	}

	contents, err := w.Render(ctx)
	if err != nil {
		return err
	}

	if err := writeFile(w.path, contents); err != nil {
		return err
	}

	w.lg.Debugf("schema snapshot written to %s", w.path)

	return nil
}

// Render builds the snapshot text without touching the file system
func (w *Writer) Render(ctx context.Context) ([]byte, error) {
	dbName, err := w.source.DatabaseName(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "could not resolve database name")
	}

	tables, err := w.source.ShowTables(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "could not list tables")
	}

	var b bytes.Buffer
	fmt.Fprintf(&b, "-- Schema snapshot of database: %s\n", dbName)
	fmt.Fprintf(&b, "-- Generated at: %s\n", w.clock().UTC().Format(time.RFC3339))
	b.WriteString("-- Do not edit, this file is regenerated after every migration\n\n")

	for _, table := range tables {
		stmt, err := w.source.ShowCreateTable(ctx, table)
		if err != nil {
			return nil, errors.Wrapf(err, "could not dump table %s", table)
		}

		b.WriteString(strings.TrimRight(strings.TrimSpace(stmt), ";"))
		b.WriteString(";\n\n")
	}

	fmt.Fprintf(&b, "-- %d tables\n", len(tables))

	return b.Bytes(), nil
}

func writeFile(path string, contents []byte) error {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, ".schema-*.tmp")
	if err != nil {
		return errors.Wrapf(err, "could not create temp file in %s", dir)
	}

	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(contents); err != nil {
		_ = tmp.Close()
		return errors.Wrapf(err, "could not write snapshot %s", tmpName)
	}

	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "could not close snapshot %s", tmpName)
	}

	if err := os.Chmod(tmpName, 0644); err != nil {
		return errors.Wrapf(err, "could not chmod snapshot %s", tmpName)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return errors.Wrapf(err, "could not move snapshot to %s", path)
	}

	return nil
}
