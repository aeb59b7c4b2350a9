package config

import (
	"database/sql"
	"log"
	"os"
	"strconv"

	"github.com/spf13/cast"
)

type Config struct {
	Port        int
	DatabaseURL string
	RedisAddr   string

	// Seed server registered at startup. Additional servers can be added
	// through the API; this one just guarantees a fresh install has a
	// source to sync from.
	JellyfinURL    string
	JellyfinAPIKey string
	ServerName     string
	ServerTimezone string

	PartialSyncMinutes int
	FullSyncCron       string
	PageSize           int
	SourceRPS          float64
	SourceTimeoutSecs  int
}

func Load() *Config {
	return &Config{
		Port:               envInt("PORT", 8080),
		DatabaseURL:        env("DATABASE_URL", "postgres://streamystats:streamystats@db:5432/streamystats?sslmode=disable"),
		RedisAddr:          env("REDIS_ADDR", "redis:6379"),
		JellyfinURL:        env("JELLYFIN_URL", ""),
		JellyfinAPIKey:     env("JELLYFIN_API_KEY", ""),
		ServerName:         env("SERVER_NAME", "Jellyfin"),
		ServerTimezone:     env("SERVER_TIMEZONE", "UTC"),
		PartialSyncMinutes: envInt("PARTIAL_SYNC_MINUTES", 15),
		FullSyncCron:       env("FULL_SYNC_CRON", "0 3 * * *"),
		PageSize:           envInt("SYNC_PAGE_SIZE", 500),
		SourceRPS:          envFloat("SOURCE_RPS", 10),
		SourceTimeoutSecs:  envInt("SOURCE_TIMEOUT_SECONDS", 30),
	}
}

// MergeFromDB overlays operator-tunable settings stored in the settings
// table. Env vars win only when no row exists for the key.
func (c *Config) MergeFromDB(db *sql.DB) {
	rows, err := db.Query("SELECT key, value FROM settings")
	if err != nil {
		log.Printf("config: skipping DB merge: %v", err)
		return
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			continue
		}
		switch key {
		case "partial_sync_minutes":
			if v, err := cast.ToIntE(value); err == nil && v > 0 {
				c.PartialSyncMinutes = v
			}
		case "full_sync_cron":
			c.FullSyncCron = value
		case "sync_page_size":
			if v, err := cast.ToIntE(value); err == nil && v > 0 {
				c.PageSize = v
			}
		case "source_rps":
			if v, err := cast.ToFloat64E(value); err == nil && v > 0 {
				c.SourceRPS = v
			}
		case "source_timeout_seconds":
			if v, err := cast.ToIntE(value); err == nil && v > 0 {
				c.SourceTimeoutSecs = v
			}
		}
	}
}

// SeedServerConfigured reports whether a startup server should be registered.
func (c *Config) SeedServerConfigured() bool {
	return c.JellyfinURL != "" && c.JellyfinAPIKey != ""
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
