package logger

import (
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPrinter struct {
	lines []string
}

func (p *recordingPrinter) Output(_ int, s string) error {
	p.lines = append(p.lines, s)
	return nil
}

func TestBWLogger(t *testing.T) {
	t.Run("debug and sql are suppressed until verbose", func(t *testing.T) {
		p := &recordingPrinter{}
		lg := NewBWLogger(p, false, false)

		lg.Debugf("hidden %d", 1)
		lg.SQL("SELECT 1")
		assert.Empty(t, p.lines)

		lg.SetVerbose(true)
		lg.Debugf("shown %d", 2)
		lg.SQL("SELECT ?", 3)

		require.Len(t, p.lines, 2)
		assert.Equal(t, "Shift debug: shown 2", p.lines[0])
		assert.Equal(t, "Shift running sql: SELECT ?\nquery parameters: {3}", p.lines[1])
	})

	t.Run("info, success, warnings and errors are always printed", func(t *testing.T) {
		p := &recordingPrinter{}
		lg := NewBWLogger(p, false, false)

		lg.Infof("migrating %s", "20200101000000")
		lg.Successf("done")
		lg.Warnf("snapshot skipped")
		lg.Error(errors.New("boom"))

		assert.Equal(t, []string{
			"Shift: migrating 20200101000000",
			"Shift: done",
			"Shift warning: snapshot skipped",
			"Shift error: boom",
		}, p.lines)
	})
}

func TestColoredLogger(t *testing.T) {
	p := &recordingPrinter{}
	lg := NewColorLogger(p, true, false)

	lg.SQL("DROP TABLE foo")
	lg.Debugf("hidden")
	lg.Error(errors.New("failed"))

	require.Len(t, p.lines, 2)
	assert.True(t, strings.Contains(p.lines[0], "DROP TABLE foo"))
	assert.True(t, strings.Contains(p.lines[1], "Shift error: failed"))
}
