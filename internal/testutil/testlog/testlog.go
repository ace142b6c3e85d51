// Package testlog wires the zerolog global logger to a quiet test profile.
package testlog

import (
	"os"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var configureOnce sync.Once

// Start configures test logging once per binary and tags the log stream with
// the running test's name.
func Start(t *testing.T) {
	t.Helper()
	configureOnce.Do(func() {
		output := zerolog.ConsoleWriter{Out: os.Stderr, NoColor: true}
		log.Logger = zerolog.New(output).Level(zerolog.WarnLevel)
	})
	log.Debug().Str("test", t.Name()).Msg("test start")
}
