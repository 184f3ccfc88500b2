// Package grpclog defines the logging interface grpccore uses for its own
// diagnostics (per-RPC credentials skipped over an insecure transport,
// service config parse failures). The sink itself is an external
// collaborator per spec.md's scope note ("logging sinks... consumed by the
// core via interfaces"); this package additionally ships a default sink
// backed by github.com/sirupsen/logrus so the core is useful without the
// caller wiring anything up, the way teacher's own grpclog package ships a
// default implementation over the standard log package.
package grpclog

import (
	"os"

	"github.com/sirupsen/logrus"
)

// LoggerV2 is the logging interface the core depends on. Named LoggerV2 to
// match grpc-go's own logging interface generation, which the teacher
// package otherwise imports as "github.com/chalvern/grpc-go/grpclog".
type LoggerV2 interface {
	Info(args ...interface{})
	Infof(format string, args ...interface{})
	Warning(args ...interface{})
	Warningf(format string, args ...interface{})
	Error(args ...interface{})
	Errorf(format string, args ...interface{})
}

// logrusLogger adapts a *logrus.Logger to LoggerV2.
type logrusLogger struct {
	l *logrus.Logger
}

// NewLogrusLogger wraps l as a LoggerV2.
func NewLogrusLogger(l *logrus.Logger) LoggerV2 {
	return &logrusLogger{l: l}
}

func (g *logrusLogger) Info(args ...interface{})                 { g.l.Info(args...) }
func (g *logrusLogger) Infof(format string, args ...interface{})  { g.l.Infof(format, args...) }
func (g *logrusLogger) Warning(args ...interface{})               { g.l.Warning(args...) }
func (g *logrusLogger) Warningf(format string, args ...interface{}) { g.l.Warningf(format, args...) }
func (g *logrusLogger) Error(args ...interface{})                 { g.l.Error(args...) }
func (g *logrusLogger) Errorf(format string, args ...interface{}) { g.l.Errorf(format, args...) }

// defaultLogger is a package-level logrus.Logger writing to stderr at Warn
// level, matching the "quiet unless something's wrong" default most gRPC
// client libraries ship with.
var defaultLogger = func() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.WarnLevel)
	return l
}()

// NewDefault returns the package default LoggerV2.
func NewDefault() LoggerV2 {
	return NewLogrusLogger(defaultLogger)
}

// discard silently drops everything; used where a caller explicitly opts out
// of diagnostics.
type discard struct{}

func (discard) Info(args ...interface{})                   {}
func (discard) Infof(format string, args ...interface{})    {}
func (discard) Warning(args ...interface{})                 {}
func (discard) Warningf(format string, args ...interface{}) {}
func (discard) Error(args ...interface{})                   {}
func (discard) Errorf(format string, args ...interface{})   {}

// Discard is a LoggerV2 that drops every call.
var Discard LoggerV2 = discard{}
