// Package logging configures the process-wide zerolog sink and maps the
// janode level vocabulary onto zerolog levels. The verbose level lands on
// zerolog's Debug and debug on Trace, preserving the relative ordering
// none < error < warning < info < verbose < debug.
package logging

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// DefaultLevel is applied when no --janode-log flag is given.
const DefaultLevel = "info"

func init() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

// New returns a logger for one component, e.g. "connection" or "session".
func New(component string) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	return zerolog.New(output).With().Timestamp().Str("component", component).Logger()
}

// SetLevel applies a janode level name globally. The aliases warn and
// verb are accepted.
func SetLevel(name string) error {
	level, err := parseLevel(name)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(level)
	return nil
}

func parseLevel(name string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "none":
		return zerolog.Disabled, nil
	case "error":
		return zerolog.ErrorLevel, nil
	case "warning", "warn":
		return zerolog.WarnLevel, nil
	case "info", "":
		return zerolog.InfoLevel, nil
	case "verbose", "verb":
		return zerolog.DebugLevel, nil
	case "debug":
		return zerolog.TraceLevel, nil
	default:
		return zerolog.NoLevel, fmt.Errorf("logging: unknown level %q", name)
	}
}
