package migration

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
)

type OutcomeKind uint8

const (
	Success OutcomeKind = iota
	NotImplemented
	Unrevertable
	ExecutionFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case Success:
		return "success"
	case NotImplemented:
		return "not implemented"
	case Unrevertable:
		return "unrevertable"
	default:
		return "execution failed"
	}
}

// Outcome reports one direction call of one unit
type Outcome struct {
	Version      Version
	Name         string
	Direction    Direction
	Kind         OutcomeKind
	Elapsed      time.Duration
	RowsAffected int64
	Err          error
}

func (o Outcome) Failed() bool {
	return o.Kind != Success
}

func (o Outcome) String() string {
	if o.Failed() {
		return fmt.Sprintf("%s %s %s: %s", o.Direction, o.Version, o.Name, o.Kind)
	}

	return fmt.Sprintf("%s %s %s: %.4fs", o.Direction, o.Version, o.Name, o.Elapsed.Seconds())
}

// Run resolves the unit of d and calls the requested direction inside s
func Run(ctx context.Context, d *Descriptor, dir Direction, s *Session) Outcome {
	o := Outcome{Version: d.Version, Name: d.Name, Direction: dir}

	s.lg.Infof("== %s %s: %s ==", d.Version, d.Name, directionVerb(dir))
	s.bind(d.Version)
	started := time.Now()

	unit, err := d.Unit()
	if err == nil {
		switch dir {
		case Up:
			err = unit.Up(ctx, s)
		case Down:
			err = unit.Down(ctx, s)
		default:
			err = errors.Errorf("unknown migration direction [%s]", dir)
		}
	}

	o.Elapsed = time.Since(started)
	o.RowsAffected = s.RowsAffected()

	if err != nil {
		o.Kind = Classify(err)
		o.Err = errors.Wrapf(err, "%s %s of %s", dir, d.Version, d.Location)
		return o
	}

	s.lg.Successf("== %s %s: %s (%.4fs) ==", d.Version, d.Name, directionDone(dir), o.Elapsed.Seconds())

	return o
}

// Classify maps an error returned by a unit body to an outcome kind
func Classify(err error) OutcomeKind {
	switch {
	case err == nil:
		return Success
	case errors.Is(err, ErrNotImplemented):
		return NotImplemented
	case errors.Is(err, ErrUnrevertable):
		return Unrevertable
	default:
		return ExecutionFailed
	}
}

func directionVerb(dir Direction) string {
	if dir == Down {
		return "reverting"
	}

	return "migrating"
}

func directionDone(dir Direction) string {
	if dir == Down {
		return "reverted"
	}

	return "migrated"
}
