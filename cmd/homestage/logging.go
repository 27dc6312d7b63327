//go:build linux

package main

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Verbosity holds the global logging flags.
type Verbosity struct {
	Debug   bool
	Verbose bool
	Quiet   bool
	Silent  bool
}

// Level maps the flags to a logrus level. Silent wins over quiet, and both
// win over debug and verbose. The default is Warn.
func (v Verbosity) Level() logrus.Level {
	switch {
	case v.Silent:
		return logrus.PanicLevel
	case v.Quiet:
		return logrus.ErrorLevel
	case v.Debug:
		return logrus.DebugLevel
	case v.Verbose:
		return logrus.InfoLevel
	default:
		return logrus.WarnLevel
	}
}

// NewLogger returns a text logger writing to output at the level v selects.
func NewLogger(output io.Writer, v Verbosity) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(output)
	log.SetLevel(v.Level())
	log.SetFormatter(&logrus.TextFormatter{
		DisableTimestamp: v.Level() < logrus.DebugLevel,
		DisableColors:    !isTerminal(output),
	})

	return log
}
