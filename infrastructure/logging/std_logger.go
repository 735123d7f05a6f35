package logging

import "log"

// StdLogger implements application.Logger over the standard library log
// package, exactly as tungo's infrastructure/logging.LogLogger wraps the
// same package for the same interface shape.
type StdLogger struct{}

func NewStdLogger() StdLogger { return StdLogger{} }

func (StdLogger) Printf(format string, v ...any) {
	log.Printf(format, v...)
}
