package config

import (
	"log/slog"
	"os"
	"strconv"
)

type Config struct {
	Host          string
	Port          int
	KeyPath       string
	IconCachePath string
	NoEncrypt     bool
	Discovery     bool
	LogLevel      string
}

func Load() Config {
	return Config{
		Host:          getenv("AIRSYNC_HOST", "0.0.0.0"),
		Port:          getint("AIRSYNC_PORT", 5297),
		KeyPath:       getenv("AIRSYNC_KEY_PATH", "airsync.key"),
		IconCachePath: getenv("AIRSYNC_ICON_CACHE", "cache/icons"),
		NoEncrypt:     getbool("AIRSYNC_NO_ENCRYPT", false),
		Discovery:     getbool("AIRSYNC_DISCOVERY", false),
		LogLevel:      getenv("AIRSYNC_LOG_LEVEL", "info"),
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		slog.Warn("config: invalid int, using default", "key", k, "value", v, "default", def)
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
		slog.Warn("config: invalid bool, using default", "key", k, "value", v, "default", def)
	}
	return def
}
