// Package log is the logging subsystem for nostrmail: leveled printers
// with code location suffixes and an error-check shortcut that lets call
// sites test and report an error in one expression.
package log

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/gookit/color"
)

var l = GetStd()

func GetStd() (ll *Log) {
	ll, _ = New(os.Stderr)
	return
}

func init() {
	switch strings.ToUpper(os.Getenv("NOSTRMAIL_LOG")) {
	case "TRACE":
		SetLogLevel(Trace)
		l.T.Ln("printing logs at this level and lower")
	case "DEBUG", "1", "TRUE", "ON":
		SetLogLevel(Debug)
		l.D.Ln("printing logs at this level and lower")
	case "INFO":
		SetLogLevel(Info)
	case "WARN":
		SetLogLevel(Warn)
	case "ERROR":
		SetLogLevel(Error)
	case "FATAL":
		SetLogLevel(Fatal)
	case "0", "OFF", "FALSE":
		SetLogLevel(Off)
	default:
		SetLogLevel(Info)
	}
}

const (
	Off = iota
	Fatal
	Error
	Warn
	Info
	Debug
	Trace
)

type (
	// Ln prints lists of interfaces with spaces in between
	Ln func(a ...interface{})
	// F prints like fmt.Printf surrounded by log details
	F func(format string, a ...interface{})
	// S prints a spew.Sdump for an interface slice
	S func(a ...interface{})
	// C accepts a function so that the extra computation can be avoided
	// if it is not being viewed
	C func(closure func() string)
	// Chk prints if there is an error and returns true if it was non-nil
	Chk func(e error) bool
	// Err constructs an error via fmt.Errorf and returns it after
	// printing it to the log
	Err          func(format string, a ...interface{}) error
	LevelPrinter struct {
		Ln
		F
		S
		C
		Chk
		Err
	}
	LevelSpec struct {
		ID        int
		Name      string
		Colorizer func(a ...interface{}) string
	}
)

var (
	currentLevel atomic.Int32
	// LevelSpecs specifies the id, string name and color-printing function
	LevelSpecs = []LevelSpec{
		{Off, "   ", color.Bit24(0, 0, 0, false).Sprint},
		{Fatal, "FTL", color.Bit24(128, 0, 0, false).Sprint},
		{Error, "ERR", color.Bit24(255, 0, 0, false).Sprint},
		{Warn, "WRN", color.Bit24(0, 255, 0, false).Sprint},
		{Info, "INF", color.Bit24(255, 255, 0, false).Sprint},
		{Debug, "DBG", color.Bit24(0, 125, 255, false).Sprint},
		{Trace, "TRC", color.Bit24(125, 0, 255, false).Sprint},
	}
)

// Log is a set of log printers for the various levels.
type Log struct {
	F, E, W, I, D, T LevelPrinter
}

// Check is the set of error-check shortcuts for each level.
type Check struct {
	F, E, W, I, D, T Chk
}

// Fail prints the error at Error level if e is non-nil and reports
// whether it was.
func (l *Log) Fail(e error) bool { return l.E.Chk(e) }

func JoinStrings(a ...any) (s string) {
	for i := range a {
		s += fmt.Sprint(a[i])
		if i < len(a)-1 {
			s += " "
		}
	}
	return
}

func GetPrinter(lvl int32, writer io.Writer) LevelPrinter {
	emit := func(text string) {
		if lvl > currentLevel.Load() {
			return
		}
		fmt.Fprintf(writer,
			"%s %s %s %s\n",
			timeStamp(),
			LevelSpecs[lvl].Colorizer(LevelSpecs[lvl].Name),
			text,
			GetLoc(3),
		)
	}
	return LevelPrinter{
		Ln: func(a ...interface{}) {
			emit(JoinStrings(a...))
		},
		F: func(format string, a ...interface{}) {
			emit(fmt.Sprintf(format, a...))
		},
		S: func(a ...interface{}) {
			emit(spew.Sdump(a...))
		},
		C: func(closure func() string) {
			emit(closure())
		},
		Chk: func(e error) bool {
			if e != nil {
				emit(e.Error())
				return true
			}
			return false
		},
		Err: func(format string, a ...interface{}) error {
			emit(fmt.Sprintf(format, a...))
			return fmt.Errorf(format, a...)
		},
	}
}

func New(writer io.Writer) (l *Log, c *Check) {
	l = &Log{
		F: GetPrinter(Fatal, writer),
		E: GetPrinter(Error, writer),
		W: GetPrinter(Warn, writer),
		I: GetPrinter(Info, writer),
		D: GetPrinter(Debug, writer),
		T: GetPrinter(Trace, writer),
	}
	c = &Check{
		F: l.F.Chk,
		E: l.E.Chk,
		W: l.W.Chk,
		I: l.I.Chk,
		D: l.D.Chk,
		T: l.T.Chk,
	}
	return
}

func SetLogLevel(l int) {
	currentLevel.Store(int32(l))
}

func GetLogLevel() (l int) {
	return int(currentLevel.Load())
}

func timeStamp() string {
	return time.Now().Format("150405.000000")
}

func GetLoc(skip int) (output string) {
	_, file, line, _ := runtime.Caller(skip)
	output = color.Bit24(0, 128, 255, false).Sprint(file, ":", line)
	return
}
