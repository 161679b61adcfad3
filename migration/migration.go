package migration

import (
	"bytes"
	"context"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/pkg/errors"
)

type (
	Direction string

	// Kind tells where the behavior of a unit comes from
	Kind string

	// Unit is the up and down behavior bound to exactly one version
	Unit interface {
		Up(ctx context.Context, s *Session) error
		Down(ctx context.Context, s *Session) error
	}

	// Factory resolves a fresh unit for a descriptor
	Factory func() (Unit, error)

	// Descriptor is produced by the catalog and never changes afterwards
	Descriptor struct {
		Version  Version
		Name     string
		Location string
		Kind     Kind
		factory  Factory
	}

	Descriptors []*Descriptor
)

const (
	Up   Direction = "up"
	Down Direction = "down"

	SQLKind  Kind = "sql"
	YAMLKind Kind = "yaml"
	GoKind   Kind = "go"
)

// Base supplies default bodies for both directions. Embed it and
// override the directions the unit supports.
type Base struct{}

func (Base) Up(context.Context, *Session) error {
	return ErrNotImplemented
}

func (Base) Down(context.Context, *Session) error {
	return ErrNotImplemented
}

// Irreversible is embedded instead of Base by units whose down
// direction must never run
type Irreversible struct{}

func (Irreversible) Up(context.Context, *Session) error {
	return ErrNotImplemented
}

func (Irreversible) Down(context.Context, *Session) error {
	return ErrUnrevertable
}

// UnitFunc adapts plain functions to a Unit, a nil function is not implemented
type UnitFunc struct {
	UpFunc   func(ctx context.Context, s *Session) error
	DownFunc func(ctx context.Context, s *Session) error
}

func (u UnitFunc) Up(ctx context.Context, s *Session) error {
	if u.UpFunc == nil {
		return ErrNotImplemented
	}

	return u.UpFunc(ctx, s)
}

func (u UnitFunc) Down(ctx context.Context, s *Session) error {
	if u.DownFunc == nil {
		return ErrNotImplemented
	}

	return u.DownFunc(ctx, s)
}

func NewDescriptor(v Version, name, location string, kind Kind, f Factory) *Descriptor {
	return &Descriptor{
		Version:  v,
		Name:     name,
		Location: location,
		Kind:     kind,
		factory:  f,
	}
}

// Unit resolves the executable behavior of the descriptor
func (d *Descriptor) Unit() (Unit, error) {
	if d.factory == nil {
		return nil, errors.Wrapf(ErrUnregisteredUnit, "%s", d.Version)
	}

	return d.factory()
}

func (d *Descriptor) Key() string {
	return CreateKeyFromVersionAndName(d.Version, d.Name)
}

func (ds Descriptors) Len() int {
	return len(ds)
}

func (ds Descriptors) Less(i, j int) bool {
	return ds[i].Version < ds[j].Version
}

func (ds Descriptors) Swap(i, j int) {
	ds[i], ds[j] = ds[j], ds[i]
}

func (ds Descriptors) Versions() Versions {
	result := make(Versions, 0, len(ds))
	for i := range ds {
		result = append(result, ds[i].Version)
	}
	return result
}

// SortDescriptors turns the catalog mapping into an ascending list
func SortDescriptors(m map[Version]*Descriptor) Descriptors {
	result := make(Descriptors, 0, len(m))
	for _, d := range m {
		result = append(result, d)
	}

	sort.Sort(result)

	return result
}

// Registry holds units written in Go, keyed by their version.
// It is passed to the catalog explicitly.
type Registry struct {
	mu      sync.RWMutex
	entries map[Version]registryEntry
}

type registryEntry struct {
	name    string
	factory Factory
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[Version]registryEntry)}
}

// Register binds a unit factory to a version
func (r *Registry) Register(version, name string, f Factory) error {
	v, err := ParseVersion(version)
	if err != nil {
		return err
	}

	if f == nil {
		return errors.Errorf("nil factory for migration version %s", v)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[v]; ok {
		return errors.Wrapf(ErrDuplicateVersion, "%s is already registered", v)
	}

	r.entries[v] = registryEntry{name: name, factory: f}

	return nil
}

// MustRegister is Register for package level setup code
func (r *Registry) MustRegister(version, name string, f Factory) {
	if err := r.Register(version, name, f); err != nil {
		panic(err)
	}
}

func (r *Registry) Lookup(v Version) (Factory, string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[v]
	return e.factory, e.name, ok
}

func (r *Registry) Versions() Versions {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(Versions, 0, len(r.entries))
	for v := range r.entries {
		result = append(result, v)
	}

	sort.Sort(result)

	return result
}

func CreateKeyFromVersionAndName(v Version, name string) string {
	var result bytes.Buffer
	result.WriteString(v.String())
	result.WriteString("_")
	result.WriteString(strings.Replace(strings.ToLower(strings.TrimSpace(name)), " ", "_", -1))
	return result.String()
}

// DisplayName turns the descriptive part of a file name into a readable name
func DisplayName(s string) string {
	s = strings.Replace(s, "_", " ", -1)
	s = strings.Replace(s, "-", " ", -1)

	r := []rune(strings.TrimSpace(s))
	if len(r) == 0 {
		return ""
	}

	return string(unicode.ToUpper(r[0])) + string(r[1:])
}
