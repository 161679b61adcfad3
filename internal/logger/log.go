package logger

import (
	"bytes"
	"fmt"
	"sync/atomic"

	"github.com/logrusorgru/aurora/v3"
)

type Printer interface {
	Output(calldepth int, s string) error
}

type Logger interface {
	Successf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Debugf(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Error(err error)
	SQL(query string, args ...interface{})
	SetVerbose(verbose bool)
}

type ColoredLogger struct {
	printer Printer
	debug   atomic.Bool
	sql     atomic.Bool
}

type BWLogger struct {
	printer Printer
	debug   atomic.Bool
	sql     atomic.Bool
}

var _ Logger = (*ColoredLogger)(nil)
var _ Logger = (*BWLogger)(nil)

func NewColorLogger(p Printer, sql, debug bool) *ColoredLogger {
	cl := &ColoredLogger{printer: p}
	cl.sql.Store(sql)
	cl.debug.Store(debug)
	return cl
}

func NewBWLogger(p Printer, sql, debug bool) *BWLogger {
	bwl := &BWLogger{printer: p}
	bwl.sql.Store(sql)
	bwl.debug.Store(debug)
	return bwl
}

func (cl *ColoredLogger) SetVerbose(verbose bool) {
	cl.debug.Store(verbose)
	cl.sql.Store(verbose)
}

func (cl *ColoredLogger) Debugf(format string, args ...interface{}) {
	if cl.debug.Load() {
		msg := fmt.Sprintf("Shift debug: "+format, args...)
		_ = cl.printer.Output(2, aurora.Yellow(msg).String())
	}
}

func (cl *ColoredLogger) Infof(format string, args ...interface{}) {
	msg := fmt.Sprintf("Shift: "+format, args...)
	_ = cl.printer.Output(2, aurora.Cyan(msg).String())
}

func (cl *ColoredLogger) Successf(format string, args ...interface{}) {
	msg := fmt.Sprintf("Shift: "+format, args...)
	_ = cl.printer.Output(2, aurora.Green(msg).String())
}

func (cl *ColoredLogger) Warnf(format string, args ...interface{}) {
	msg := fmt.Sprintf("Shift warning: "+format, args...)
	_ = cl.printer.Output(2, aurora.Magenta(msg).String())
}

func (cl *ColoredLogger) Error(err error) {
	msg := fmt.Sprintf("Shift error: %s", err.Error())
	_ = cl.printer.Output(2, aurora.Red(msg).String())
}

func (cl *ColoredLogger) SQL(query string, args ...interface{}) {
	if cl.sql.Load() {
		_ = cl.printer.Output(2, aurora.Gray(15, formatSQL(query, args...)).String())
	}
}

func (bwl *BWLogger) SetVerbose(verbose bool) {
	bwl.debug.Store(verbose)
	bwl.sql.Store(verbose)
}

func (bwl *BWLogger) Debugf(format string, args ...interface{}) {
	if bwl.debug.Load() {
		_ = bwl.printer.Output(2, fmt.Sprintf("Shift debug: "+format, args...))
	}
}

func (bwl *BWLogger) Infof(format string, args ...interface{}) {
	_ = bwl.printer.Output(2, fmt.Sprintf("Shift: "+format, args...))
}

func (bwl *BWLogger) Successf(format string, args ...interface{}) {
	_ = bwl.printer.Output(2, fmt.Sprintf("Shift: "+format, args...))
}

func (bwl *BWLogger) Warnf(format string, args ...interface{}) {
	_ = bwl.printer.Output(2, fmt.Sprintf("Shift warning: "+format, args...))
}

func (bwl *BWLogger) Error(err error) {
	_ = bwl.printer.Output(2, fmt.Sprintf("Shift error: %s", err.Error()))
}

func (bwl *BWLogger) SQL(query string, args ...interface{}) {
	if bwl.sql.Load() {
		_ = bwl.printer.Output(2, formatSQL(query, args...))
	}
}

func formatSQL(query string, args ...interface{}) string {
	var buf bytes.Buffer
	buf.WriteString("Shift running sql: ")
	buf.WriteString(query)

	if len(args) == 0 {
		return buf.String()
	}

	buf.WriteString("\nquery parameters: ")

	for i := range args {
		if i+1 < len(args) {
			buf.WriteString(fmt.Sprintf("{%#v}, ", args[i]))
		} else {
			buf.WriteString(fmt.Sprintf("{%#v}", args[i]))
		}
	}

	return buf.String()
}
