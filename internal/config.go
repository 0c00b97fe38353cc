// Package internal carries the shared configuration schema and the badger
// debug inspector used by the auxiliary binaries.
package internal

import (
	"fmt"
	"time"
)

// Config is the full environment schema. The server binary only uses a
// subset, but the viewer and debug tooling share the same variables so the
// schema lives here once.
type Config struct {
	BufferSize           int           `env:"BUFFER_SIZE,required=true"`
	ConnectionBufferSize int           `env:"CONNECTION_BUFFER_SIZE,required=true"`
	CharReplacement      string        `env:"CHARACTER_REPLACEMENT,required=true"`
	LimitMessages        *int          `env:"LIMIT_MESSAGES"`
	SinkTimeout          time.Duration `env:"SINK_TIMEOUT,required=true"`
	MetricInterval       time.Duration `env:"METRIC_INTERVAL,required=true"`
	RestartInterval      time.Duration `env:"RESTART_INTERVAL,required=true"`

	AuthTokenKey      string        `env:"AUTH_TOKEN_KEY,required=true"`
	AuthTokenDuration time.Duration `env:"AUTH_TOKEN_DURATION,required=true"`

	BadgerFilepath string `env:"BADGER_FILEPATH,required=true"`
	BlugeFilepath  string `env:"BLUGE_FILEPATH,required=true"`
	SearchLimit    int    `env:"SEARCH_LIMIT,default=50"`

	LogLevel  string `env:"LOG_LEVEL,required=true"`
	Host      string `env:"HOST,default=localhost"`
	Port      int    `env:"PORT,default=8080"`
	DebugPort int    `env:"DEBUG_PORT,default=8081"`
}

// CharacterRune converts the CHARACTER_REPLACEMENT variable to the single
// rune the moderator masks with.
func CharacterRune(str string) (rune, error) {
	r := []rune(str)
	if len(r) != 1 {
		return 0, fmt.Errorf(
			"CHARACTER_REPLACEMENT must be a single character, got %q",
			str,
		)
	}
	return r[0], nil
}
