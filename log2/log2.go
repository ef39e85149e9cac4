// Package log2 is a thin leveled wrapper around stdlib log:
// - level filtering, e.g. debug messages visible in tests only
// - safe concurrent change of log level
// - nil *Log is valid and silent, convenient for optional logging
//
// Primary goal was to run parallel tests and log into t.Logf() safely.
package log2

import (
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"math"
	"os"
	"sync/atomic"
	"testing"
)

const (
	// type specified here helped against accidentally passing flags as level
	Lmicroseconds     int = log.Lmicroseconds
	Lshortfile        int = log.Lshortfile
	LStdFlags         int = log.Ltime | Lshortfile
	LInteractiveFlags int = log.Ltime | Lshortfile | Lmicroseconds
	LServiceFlags     int = Lshortfile
	LTestFlags        int = Lshortfile | Lmicroseconds
)

type Level int32

const (
	LError = iota
	LInfo
	LDebug
	LAll = math.MaxInt32
)

type FmtFunc func(format string, args ...interface{})

type FmtFuncWriter struct{ FmtFunc }

type Log struct {
	l       *log.Logger
	level   Level
	w       io.Writer
	fatalf  FmtFunc
	onError func(error)
}

func NewStderr(level Level) *Log { return NewWriter(os.Stderr, level) }

func NewWriter(w io.Writer, level Level) *Log {
	if w == ioutil.Discard {
		return nil
	}
	return &Log{
		l:     log.New(w, "", LStdFlags),
		level: level,
		w:     w,
	}
}

func NewFunc(f FmtFunc, level Level) *Log { return NewWriter(FmtFuncWriter{f}, level) }

func (ffw FmtFuncWriter) Write(b []byte) (int, error) {
	ffw.FmtFunc(string(b))
	return len(b), nil
}

func NewTest(t testing.TB, level Level) *Log {
	self := NewFunc(t.Logf, level)
	self.fatalf = t.Fatalf
	return self
}

func (self *Log) Clone(level Level) *Log {
	if self == nil {
		return nil
	}
	l := NewWriter(self.w, level)
	l.SetFlags(self.l.Flags())
	return l
}

func (self *Log) SetLevel(l Level) {
	if self == nil {
		return
	}
	atomic.StoreInt32((*int32)(&self.level), int32(l))
}

func (self *Log) SetFlags(f int) {
	if self == nil {
		return
	}
	self.l.SetFlags(f)
}

func (self *Log) SetPrefix(prefix string) {
	if self == nil {
		return
	}
	self.l.SetPrefix(prefix)
}

// SetErrorFunc registers a hook receiving each Error/Errorf value.
// Not safe against concurrent logging.
func (self *Log) SetErrorFunc(f func(error)) {
	if self == nil {
		return
	}
	self.onError = f
}

func (self *Log) Enabled(level Level) bool {
	if self == nil {
		return false
	}
	return atomic.LoadInt32((*int32)(&self.level)) >= int32(level)
}

func (self *Log) Log(level Level, s string) {
	if self.Enabled(level) {
		_ = self.l.Output(3, s)
	}
}

func (self *Log) Logf(level Level, format string, args ...interface{}) {
	if self.Enabled(level) {
		_ = self.l.Output(3, fmt.Sprintf(format, args...))
	}
}

func (self *Log) Error(args ...interface{}) {
	if self == nil {
		return
	}
	if self.onError != nil {
		self.onError(argsError(args...))
	}
	self.Log(LError, "error: "+fmt.Sprint(args...))
}

func (self *Log) Errorf(format string, args ...interface{}) {
	if self == nil {
		return
	}
	if self.onError != nil {
		self.onError(fmt.Errorf(format, args...))
	}
	self.Logf(LError, "error: "+format, args...)
}

func (self *Log) Info(args ...interface{}) {
	self.Log(LInfo, fmt.Sprint(args...))
}

func (self *Log) Infof(format string, args ...interface{}) {
	self.Logf(LInfo, format, args...)
}

func (self *Log) Debug(args ...interface{}) {
	self.Log(LDebug, "debug: "+fmt.Sprint(args...))
}

func (self *Log) Debugf(format string, args ...interface{}) {
	self.Logf(LDebug, "debug: "+format, args...)
}

func (self *Log) Fatalf(format string, args ...interface{}) {
	if self == nil {
		os.Exit(1)
	}
	if self.fatalf != nil {
		self.fatalf(format, args...)
	} else {
		self.Logf(LError, "fatal: "+format, args...)
		os.Exit(1)
	}
}

func (self *Log) Fatal(args ...interface{}) {
	if self == nil {
		os.Exit(1)
	}
	s := fmt.Sprint(args...)
	if self.fatalf != nil {
		self.fatalf(s)
	} else {
		self.Logf(LError, "fatal: "+s)
		os.Exit(1)
	}
}

func argsError(args ...interface{}) error {
	if len(args) == 1 {
		if e, ok := args[0].(error); ok {
			return e
		}
	}
	return fmt.Errorf(fmt.Sprint(args...))
}
