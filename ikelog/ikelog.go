// Package ikelog is a glog-style convenience facade over go-kit/log +
// level, so the rest of the daemon can write Infof/Warningf/V(n).Infof
// call sites the way a glog-style logger would, while the actual sink is
// the structured go-kit logger the rest of the daemon shares.
package ikelog

import (
	"fmt"
	"os"
	"sync/atomic"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// Base is the process-wide structured sink every helper in this package
// (and crypto.CipherSuite's explicit-logger methods) writes through.
var Base log.Logger = log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))

var verbosity int32

// SetVerbosity sets the threshold V(n) checks against; 0 disables all
// V-gated logging.
func SetVerbosity(n int32) { atomic.StoreInt32(&verbosity, n) }

func Info(args ...interface{}) {
	level.Info(Base).Log("msg", fmt.Sprint(args...))
}

func Infof(format string, args ...interface{}) {
	level.Info(Base).Log("msg", fmt.Sprintf(format, args...))
}

func Infoln(args ...interface{}) {
	level.Info(Base).Log("msg", fmt.Sprintln(args...))
}

func Warning(args ...interface{}) {
	level.Warn(Base).Log("msg", fmt.Sprint(args...))
}

func Warningf(format string, args ...interface{}) {
	level.Warn(Base).Log("msg", fmt.Sprintf(format, args...))
}

func Warningln(args ...interface{}) {
	level.Warn(Base).Log("msg", fmt.Sprintln(args...))
}

func Error(args ...interface{}) {
	level.Error(Base).Log("msg", fmt.Sprint(args...))
}

func Errorf(format string, args ...interface{}) {
	level.Error(Base).Log("msg", fmt.Sprintf(format, args...))
}

// Level gates a log line on the process verbosity, mirroring the
// glog-style log.V(n).Infof(...) call pattern.
type Level struct {
	n int32
}

// V returns a Level gate checked against the current verbosity.
func V(n int32) Level { return Level{n: n} }

func (l Level) enabled() bool { return l.n <= atomic.LoadInt32(&verbosity) }

func (l Level) Infof(format string, args ...interface{}) {
	if l.enabled() {
		level.Debug(Base).Log("msg", fmt.Sprintf(format, args...))
	}
}

func (l Level) Info(args ...interface{}) {
	if l.enabled() {
		level.Debug(Base).Log("msg", fmt.Sprint(args...))
	}
}

// Logger is a glog-style child logger carrying a fixed set of keyvals
// (typically an SPI pair tag), so a Session can log Infof/Warningf call
// sites without rebuilding its tag prefix each time.
type Logger struct {
	base log.Logger
}

// With returns a child logger with tag keyvals attached to every line it
// emits, for a Session to stamp its SPI pair onto every message without
// every call site building the prefix by hand.
func With(keyvals ...interface{}) Logger {
	return Logger{base: log.With(Base, keyvals...)}
}

func (l Logger) Info(args ...interface{}) {
	level.Info(l.base).Log("msg", fmt.Sprint(args...))
}

func (l Logger) Infof(format string, args ...interface{}) {
	level.Info(l.base).Log("msg", fmt.Sprintf(format, args...))
}

func (l Logger) Warning(args ...interface{}) {
	level.Warn(l.base).Log("msg", fmt.Sprint(args...))
}

func (l Logger) Warningf(format string, args ...interface{}) {
	level.Warn(l.base).Log("msg", fmt.Sprintf(format, args...))
}

func (l Logger) Error(args ...interface{}) {
	level.Error(l.base).Log("msg", fmt.Sprint(args...))
}

func (l Logger) Errorf(format string, args ...interface{}) {
	level.Error(l.base).Log("msg", fmt.Sprintf(format, args...))
}
