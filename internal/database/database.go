package database

import (
	"sort"

	"github.com/denismitr/shift/migration"
	"github.com/pkg/errors"
)

var ErrResetIsNotScheduled = errors.New("reset target is not scheduled as a batch")

const DefaultMigrationsTable = "schema_migrations"

type (
	// Step is one direction call of one unit inside a batch
	Step struct {
		Descriptor *migration.Descriptor
		Direction  migration.Direction
	}

	// Batch is computed once per migrate call: all downs first, then all ups
	Batch struct {
		Target migration.Target
		Steps  []Step
	}
)

func (b Batch) Empty() bool {
	return len(b.Steps) == 0
}

func (b Batch) Downs() []Step {
	return b.filter(migration.Down)
}

func (b Batch) Ups() []Step {
	return b.filter(migration.Up)
}

func (b Batch) filter(dir migration.Direction) []Step {
	var result []Step
	for _, s := range b.Steps {
		if s.Direction == dir {
			result = append(result, s)
		}
	}
	return result
}

// Schedule computes the ordered batch that moves the installed versions to the target.
// Installed versions greater than the target are reverted in descending order,
// then available versions not yet installed and allowed by the target are
// applied in ascending order. Latest never reverts anything.
func Schedule(
	available map[migration.Version]*migration.Descriptor,
	installed migration.Versions,
	target migration.Target,
) (Batch, error) {
	batch := Batch{Target: target}

	if target.IsReset() {
		return batch, ErrResetIsNotScheduled
	}

	if v, ok := target.Version(); ok {
		downs := make(migration.Versions, 0)
		for _, iv := range installed {
			if iv > v {
				downs = append(downs, iv)
			}
		}

		sort.Sort(sort.Reverse(downs))

		for _, dv := range downs {
			d, ok := available[dv]
			if !ok {
				return Batch{}, &migration.DiscoveryError{
					Path: dv.String(),
					Err:  errors.Wrapf(migration.ErrMissingSource, "installed version %s cannot be reverted", dv),
				}
			}

			batch.Steps = append(batch.Steps, Step{Descriptor: d, Direction: migration.Down})
		}
	}

	for _, d := range Missing(available, installed) {
		if !target.Allows(d.Version) {
			continue
		}

		batch.Steps = append(batch.Steps, Step{Descriptor: d, Direction: migration.Up})
	}

	return batch, nil
}

// Missing lists the available descriptors that are not installed, ascending
func Missing(available map[migration.Version]*migration.Descriptor, installed migration.Versions) migration.Descriptors {
	result := make(migration.Descriptors, 0)
	for _, d := range migration.SortDescriptors(available) {
		if installed.Contains(d.Version) {
			continue
		}

		result = append(result, d)
	}

	return result
}
