// internal/config/config.go
package config

import (
	"os"
	"strconv"
	"time"
)

// Config carries every tunable the session core reads. Values come from the
// environment with the defaults matching production behavior; a .env file is
// loaded by the cmd entrypoints via godotenv autoload.
type Config struct {
	// ServerURL is the base URL of the game server, e.g. "http://localhost:5000".
	ServerURL string

	// EntryURL is where terminal join failures and identity loss redirect to.
	EntryURL string

	// StateDir holds the device-local persisted session state.
	StateDir string

	// Reconnection policy.
	ReconnectFloor  time.Duration
	ReconnectCeil   time.Duration
	MaxReconnects   int
	GiveUpReloadIn  time.Duration
	JoinRetryDelay  time.Duration
	JoinRetryExpiry time.Duration
	JoinFailDelay   time.Duration

	// KeepAliveInterval is the application-level ping cadence, independent of
	// the transport's own ping/pong.
	KeepAliveInterval time.Duration

	// SnapshotTTL is how long a persisted session snapshot stays resumable.
	SnapshotTTL time.Duration

	// RedisAddr enables the transcript recorder when non-empty.
	RedisAddr string

	// TranscriptQueue is the redis list the recorder pushes to and the
	// historian pops from.
	TranscriptQueue string
}

// Load builds a Config from the environment.
func Load() Config {
	return Config{
		ServerURL:         getEnv("CASUS_SERVER_URL", "http://localhost:5000"),
		EntryURL:          getEnv("CASUS_ENTRY_URL", "/"),
		StateDir:          getEnv("CASUS_STATE_DIR", defaultStateDir()),
		ReconnectFloor:    getEnvDuration("CASUS_RECONNECT_FLOOR", 2*time.Second),
		ReconnectCeil:     getEnvDuration("CASUS_RECONNECT_CEIL", 10*time.Second),
		MaxReconnects:     getEnvInt("CASUS_MAX_RECONNECTS", 20),
		GiveUpReloadIn:    getEnvDuration("CASUS_GIVEUP_RELOAD_IN", 5*time.Second),
		JoinRetryDelay:    getEnvDuration("CASUS_JOIN_RETRY_DELAY", 2*time.Second),
		JoinRetryExpiry:   getEnvDuration("CASUS_JOIN_RETRY_EXPIRY", 10*time.Second),
		JoinFailDelay:     getEnvDuration("CASUS_JOIN_FAIL_DELAY", 4*time.Second),
		KeepAliveInterval: getEnvDuration("CASUS_KEEPALIVE_INTERVAL", 45*time.Second),
		SnapshotTTL:       getEnvDuration("CASUS_SNAPSHOT_TTL", 20*time.Minute),
		RedisAddr:         getEnv("REDIS_ADDR", ""),
		TranscriptQueue:   getEnv("CASUS_TRANSCRIPT_QUEUE", "casus_transcript"),
	}
}

func defaultStateDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return dir + "/casus"
	}
	return ".casus"
}

// getEnv is a helper to read an environment variable or return a default value.
func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// getEnvInt is a helper to parse an environment variable as integer, else a default value.
func getEnvInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

// getEnvDuration is a helper to parse an environment variable as a Go
// duration string, else a default value.
func getEnvDuration(key string, def time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return v
}
