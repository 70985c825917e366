package kcore

import (
	"github.com/sirupsen/logrus"
)

// StdLogger is the interface that all of kcore's internal logging goes
// through. It matches the subset of *log.Logger that sarama-style clients
// have historically depended on, so any existing logger (including
// log.Default()) can be dropped in without an adapter.
type StdLogger interface {
	Print(v ...interface{})
	Printf(format string, v ...interface{})
	Println(v ...interface{})
}

// Logger is the logging instance used by every component in this package.
// It is a package-level variable, following the teacher's convention,
// so a host application can redirect kcore's log output without plumbing
// a logger through every constructor. It is safe to reassign before any
// ClientCore is created; reassigning concurrently with use is not.
var Logger StdLogger = newLogrusAdapter()

// logrusAdapter backs the default Logger with logrus instead of the
// standard library's log.Logger, giving kcore structured-logging-friendly
// output (level, timestamp, and field support) out of the box while
// keeping the StdLogger seam intact for callers who want something else.
type logrusAdapter struct {
	entry *logrus.Entry
}

func newLogrusAdapter() *logrusAdapter {
	l := logrus.New()
	return &logrusAdapter{entry: l.WithField("component", "kcore")}
}

func (a *logrusAdapter) Print(v ...interface{}) {
	a.entry.Print(v...)
}

func (a *logrusAdapter) Printf(format string, v ...interface{}) {
	a.entry.Printf(format, v...)
}

func (a *logrusAdapter) Println(v ...interface{}) {
	a.entry.Println(v...)
}
