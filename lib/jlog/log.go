// Package jlog provides the structured-logging facade used across
// JiaoziFlow's long-running components (trackers, state controller, job
// manager). It is a thin wrapper over logrus so that call sites depend on a
// small interface rather than the concrete logging library.
package jlog

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Logger defines the subset of structured logging used throughout the
// engine.
type Logger interface {
	WithField(key string, value interface{}) Logger
	WithFields(fields logrus.Fields) Logger
	WithError(err error) Logger

	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})

	Debug(args ...interface{})
	Info(args ...interface{})
	Warn(args ...interface{})
	Error(args ...interface{})

	Writer() *io.PipeWriter
}

// New wraps a logrus entry as a Logger.
func New(entry *logrus.Entry) Logger {
	return logger{entry: entry}
}

// NewDefault builds a Logger rooted at the standard logrus logger, scoped
// with a component field. The jiaozi-tracker and jiaozi-jobmanager
// entrypoints start from this; the jiaozictl CLI does not use it.
func NewDefault(component string) Logger {
	base := logrus.StandardLogger()
	base.SetOutput(os.Stderr)
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return New(base.WithField("component", component))
}

type logger struct {
	entry *logrus.Entry
}

func (r logger) WithField(key string, value interface{}) Logger {
	return New(r.entry.WithField(key, value))
}

func (r logger) WithFields(fields logrus.Fields) Logger {
	return New(r.entry.WithFields(fields))
}

func (r logger) WithError(err error) Logger {
	return New(r.entry.WithError(err))
}

func (r logger) Debugf(format string, args ...interface{}) { r.entry.Debugf(format, args...) }
func (r logger) Infof(format string, args ...interface{})  { r.entry.Infof(format, args...) }
func (r logger) Warnf(format string, args ...interface{})  { r.entry.Warnf(format, args...) }
func (r logger) Errorf(format string, args ...interface{}) { r.entry.Errorf(format, args...) }

func (r logger) Debug(args ...interface{}) { r.entry.Debug(args...) }
func (r logger) Info(args ...interface{})  { r.entry.Info(args...) }
func (r logger) Warn(args ...interface{})  { r.entry.Warn(args...) }
func (r logger) Error(args ...interface{}) { r.entry.Error(args...) }

func (r logger) Writer() *io.PipeWriter { return r.entry.Writer() }
