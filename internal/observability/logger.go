package observability

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	EnvLogLevel     = "EMBERCTL_LOG_LEVEL"
	EnvLogTimestamp = "EMBERCTL_LOG_TIMESTAMP"
	EnvLogNoColor   = "EMBERCTL_LOG_NOCOLOR"
)

func InitLogger(app string) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	if v, ok := parseBool(os.Getenv(EnvLogNoColor)); ok {
		output.NoColor = v
	}

	ctx := zerolog.New(output).With()
	if v, ok := parseBool(os.Getenv(EnvLogTimestamp)); !ok || v {
		ctx = ctx.Timestamp()
	}
	logger := ctx.Str("app", app).Logger()

	if lvl, ok := parseLevel(os.Getenv(EnvLogLevel)); ok {
		logger = logger.Level(lvl)
	}

	log.Logger = logger
	return logger
}

func parseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "trace":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "disable", "off", "none":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}

func parseBool(raw string) (bool, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
