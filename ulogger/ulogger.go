// Package ulogger provides the proxy's structured logger, a service-tagged
// wrapper around zerolog adapted from the teacher's util/logger.go
// (ZLoggerWrapper): same pretty-console/JSON split, same PRETTY_LOGS and
// log-level config keys, trimmed to the methods this proxy actually calls.
package ulogger

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the logging surface every component in this module depends on.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
}

type ZLogger struct {
	zerolog.Logger
	service string
}

// New builds a service-tagged logger. pretty selects the colorized
// console writer (matching the teacher's PRETTY_LOGS config flag);
// logLevel is one of DEBUG/INFO/WARN/ERROR/FATAL.
func New(service string, pretty bool, logLevel string) *ZLogger {
	if service == "" {
		service = "rpcproxy"
	}

	var l *ZLogger
	if pretty {
		l = prettyLogger(service)
	} else {
		l = &ZLogger{
			zerolog.New(os.Stdout).With().
				Timestamp().
				Logger(),
			service,
		}
	}

	l.Logger = l.Logger.Level(parseLevel(logLevel))

	return l
}

func parseLevel(logLevel string) zerolog.Level {
	switch strings.ToUpper(logLevel) {
	case "DEBUG":
		return zerolog.DebugLevel
	case "WARN":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	case "FATAL":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

func prettyLogger(service string) *ZLogger {
	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}

	output.FormatTimestamp = func(i interface{}) string {
		parsed, err := time.Parse(time.RFC3339, fmt.Sprintf("%s", i))
		if err != nil {
			return fmt.Sprintf("%s", i)
		}
		return parsed.Format("15:04:05")
	}

	output.FormatLevel = func(i interface{}) string {
		return fmt.Sprintf("| %-6s|", strings.ToUpper(fmt.Sprintf("%s", i)))
	}

	output.FormatMessage = func(i interface{}) string {
		return fmt.Sprintf("| %-8s| %s", service, i)
	}

	return &ZLogger{
		zerolog.New(output).With().Timestamp().Logger(),
		service,
	}
}

func (z *ZLogger) Debugf(format string, args ...interface{}) { z.Logger.Debug().Msgf(format, args...) }
func (z *ZLogger) Infof(format string, args ...interface{})  { z.Logger.Info().Msgf(format, args...) }
func (z *ZLogger) Warnf(format string, args ...interface{})  { z.Logger.Warn().Msgf(format, args...) }
func (z *ZLogger) Errorf(format string, args ...interface{}) { z.Logger.Error().Msgf(format, args...) }
func (z *ZLogger) Fatalf(format string, args ...interface{}) { z.Logger.Fatal().Msgf(format, args...) }
