// Package config loads the daemon's environment-driven configuration, the
// way the teacher's internal/config/config.go loads its own .env-backed
// settings with godotenv.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// defaultSupportedExtensions lists every extension a default plugin
// registration (StandardPlugin + CR3Plugin + RawPlugin, wired in
// cmd/imgdaemon/main.go) actually claims. Keep in sync with those
// plugins' SupportedFormats(): a file whose extension has no registered
// plugin is silently skipped at pipeline.passesPreChecks, which returns
// false for it without reporting an error.
const defaultSupportedExtensions = ".jpg,.jpeg,.png,.gif," +
	".cr3," +
	".nef,.nrw,.arw,.sr2,.srf,.dng,.raf,.orf,.rw2,.pef,.srw,.mrw,.rwl,.3fr,.fff,.mef,.mos,.iiq,.cap,.eip,.cr2"

// Config bundles every daemon-wide setting sourced from the environment.
// Socket/cache/DB knobs map onto spec.md's wire/store/pipeline components;
// debug/metrics knobs serve the ambient HTTP surface only.
type Config struct {
	Environment string

	SocketPath string

	StoreDSN string

	CacheRoot      string
	CacheMaxSizeMB int

	WorkerCount int

	MinFileSize         int64
	IgnorePatterns      []string
	SupportedExtensions []string

	DebugHTTPAddr string
}

// Load reads a .env file if present (missing is not an error, matching a
// container/systemd deployment where env vars are injected directly) and
// parses every daemon setting, applying defaults for everything optional.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("config: load .env: %w", err)
	}

	cfg := Config{
		Environment:         getenvDefault("IMGDAEMON_ENV", "development"),
		SocketPath:          getenvDefault("IMGDAEMON_SOCKET_PATH", "/tmp/imgdaemon.sock"),
		StoreDSN:            os.Getenv("IMGDAEMON_STORE_DSN"),
		CacheRoot:           getenvDefault("IMGDAEMON_CACHE_ROOT", os.ExpandEnv("$HOME/.cache/imgdaemon")),
		IgnorePatterns:      splitNonEmpty(getenvDefault("IMGDAEMON_IGNORE_PATTERNS", "._*,.DS_Store,Thumbs.db")),
		SupportedExtensions: splitNonEmpty(getenvDefault("IMGDAEMON_SUPPORTED_EXTENSIONS", defaultSupportedExtensions)),
		DebugHTTPAddr:       getenvDefault("IMGDAEMON_DEBUG_HTTP_ADDR", "127.0.0.1:9091"),
	}

	var err error
	if cfg.CacheMaxSizeMB, err = getenvInt("IMGDAEMON_CACHE_MAX_SIZE_MB", 0); err != nil {
		return Config{}, err
	}
	if cfg.WorkerCount, err = getenvInt("IMGDAEMON_WORKER_COUNT", 4); err != nil {
		return Config{}, err
	}
	minFileSize, err := getenvInt("IMGDAEMON_MIN_FILE_SIZE", 0)
	if err != nil {
		return Config{}, err
	}
	cfg.MinFileSize = int64(minFileSize)

	if cfg.StoreDSN == "" {
		return Config{}, fmt.Errorf("config: IMGDAEMON_STORE_DSN is required")
	}

	return cfg, nil
}

func getenvDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be an integer: %w", key, err)
	}
	return n, nil
}

func splitNonEmpty(csv string) []string {
	var out []string
	for _, part := range strings.Split(csv, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
