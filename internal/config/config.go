package config

import (
	"os"
	"strconv"
	"time"
)

// Config is the server's environment-driven configuration.
type Config struct {
	// Port the HTTP/websocket server listens on.
	Port string

	// ExecEndpoint is the external code-execution service URL.
	ExecEndpoint string

	// ExecTimeout bounds one execution round trip.
	ExecTimeout time.Duration

	// DBPath locates the SQLite run log.
	DBPath string

	// HistoryKeep is how many run records the pruner retains.
	HistoryKeep int
}

func Load() Config {
	cfg := Config{
		Port:         getenv("PORT", "5000"),
		ExecEndpoint: getenv("CODECAST_EXEC_URL", "http://localhost:5001/compile"),
		ExecTimeout:  30 * time.Second,
		DBPath:       getenv("CODECAST_DB_PATH", "./data/codecast.db"),
		HistoryKeep:  1000,
	}

	if v := os.Getenv("CODECAST_EXEC_TIMEOUT"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.ExecTimeout = time.Duration(secs) * time.Second
		}
	}

	if v := os.Getenv("CODECAST_HISTORY_KEEP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.HistoryKeep = n
		}
	}

	return cfg
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
