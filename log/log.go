// Package log is a thin wrapper around log15 that exposes the leveled,
// key/value logging interface used throughout the repository.
package log

import (
	"io"

	log15 "github.com/inconshreveable/log15"
)

type (
	Lvl     = log15.Lvl
	Logger  = log15.Logger
	Handler = log15.Handler
	Format  = log15.Format
)

const (
	LvlCrit  = log15.LvlCrit
	LvlError = log15.LvlError
	LvlWarn  = log15.LvlWarn
	LvlInfo  = log15.LvlInfo
	LvlDebug = log15.LvlDebug
)

// Root returns the process-wide root logger.
func Root() Logger {
	return log15.Root()
}

// New returns a logger with the given context attached to every record.
func New(ctx ...interface{}) Logger {
	return log15.New(ctx...)
}

func Crit(msg string, ctx ...interface{}) { log15.Crit(msg, ctx...) }
func Error(msg string, ctx ...interface{}) { log15.Error(msg, ctx...) }
func Warn(msg string, ctx ...interface{}) { log15.Warn(msg, ctx...) }
func Info(msg string, ctx ...interface{}) { log15.Info(msg, ctx...) }
func Debug(msg string, ctx ...interface{}) { log15.Debug(msg, ctx...) }

func LogfmtFormat() Format {
	return log15.LogfmtFormat()
}

func FileHandler(path string, fmtr Format) (Handler, error) {
	return log15.FileHandler(path, fmtr)
}

func StreamHandler(wr io.Writer, fmtr Format) Handler {
	return log15.StreamHandler(wr, fmtr)
}

func LvlFilterHandler(maxLvl Lvl, h Handler) Handler {
	return log15.LvlFilterHandler(maxLvl, h)
}

func DiscardHandler() Handler {
	return log15.DiscardHandler()
}
