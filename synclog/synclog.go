// Package synclog provides the structured logging convention used
// throughout this module, modelled on the teacher's shared/logger calling
// style (logger.Warn("message", logger.Ctx{"key": val})) but backed
// directly by logrus.
package synclog

import "github.com/sirupsen/logrus"

// Ctx carries structured fields alongside a log message.
type Ctx map[string]any

var std = logrus.New()

// SetLevel configures the minimum level that is emitted. Accepts any level
// name understood by logrus.ParseLevel; unknown names are ignored and the
// previous level is kept.
func SetLevel(name string) {
	lvl, err := logrus.ParseLevel(name)
	if err != nil {
		return
	}

	std.SetLevel(lvl)
}

func fields(ctx []Ctx) logrus.Fields {
	if len(ctx) == 0 {
		return nil
	}

	f := make(logrus.Fields, len(ctx[0]))
	for _, c := range ctx {
		for k, v := range c {
			f[k] = v
		}
	}

	return f
}

// Debug logs at debug level.
func Debug(msg string, ctx ...Ctx) {
	std.WithFields(fields(ctx)).Debug(msg)
}

// Info logs at info level.
func Info(msg string, ctx ...Ctx) {
	std.WithFields(fields(ctx)).Info(msg)
}

// Warn logs at warning level.
func Warn(msg string, ctx ...Ctx) {
	std.WithFields(fields(ctx)).Warn(msg)
}

// Error logs at error level.
func Error(msg string, ctx ...Ctx) {
	std.WithFields(fields(ctx)).Error(msg)
}
