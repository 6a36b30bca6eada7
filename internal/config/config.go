// Package config resolves all runtime configuration once at process start.
package config

import (
	"net/url"
	"os"
	"strconv"
	"time"
)

// BrowserProfile selects how the headless browser is launched.
type BrowserProfile string

const (
	// ProfileLocal discovers an installed Chrome/Chromium executable on the
	// developer machine.
	ProfileLocal BrowserProfile = "local"
	// ProfileServerless uses a bundled minimal Chromium with launch flags
	// suited to restricted filesystems.
	ProfileServerless BrowserProfile = "serverless"
)

// Config holds all runtime configuration for the server.
type Config struct {
	Port    string
	Env     string
	LogJSON bool

	// PostgreSQL
	DBUser     string
	DBPassword string
	DBHost     string
	DBPort     string
	DBName     string
	DBSSLMode  string

	// Browser
	Profile    BrowserProfile
	ChromePath string // explicit executable override; empty = discover
	UserAgent  string

	// Pipeline
	FetchTimeout   time.Duration
	BatchWorkers   int
	FailureCeiling int

	// Schedule
	CronSpec     string
	CronTimezone string

	// Notification
	WebhookURL string
}

// Load reads configuration from the environment, falling back to defaults
// suitable for local development.
func Load() Config {
	return Config{
		Port:    getEnv("PORT", "8080"),
		Env:     getEnv("APP_ENV", "development"),
		LogJSON: getEnv("LOG_ENCODING", "console") == "json",

		DBUser:     getEnv("DB_USER", "productowl"),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBName:     getEnv("DB_NAME", "productowl"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		Profile:    resolveProfile(),
		ChromePath: os.Getenv("CHROME_PATH"),
		UserAgent: getEnv("SCRAPER_USER_AGENT",
			"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) "+
				"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"),

		FetchTimeout:   getEnvDuration("FETCH_TIMEOUT", 15*time.Second),
		BatchWorkers:   getEnvInt("BATCH_WORKERS", 3),
		FailureCeiling: getEnvInt("FAILURE_CEILING", 5),

		CronSpec:     getEnv("CRON_SPEC", "0 7 * * *"),
		CronTimezone: getEnv("CRON_TZ", "Asia/Kolkata"),

		WebhookURL: os.Getenv("NOTIFY_WEBHOOK_URL"),
	}
}

// resolveProfile picks the browser launch profile from a single environment
// signal. The decision is made once here; the fetcher only ever sees the
// resolved profile.
func resolveProfile() BrowserProfile {
	switch p := os.Getenv("BROWSER_PROFILE"); p {
	case string(ProfileServerless):
		return ProfileServerless
	case string(ProfileLocal):
		return ProfileLocal
	}
	if os.Getenv("APP_ENV") == "production" {
		return ProfileServerless
	}
	return ProfileLocal
}

// DSN builds a URL-encoded Postgres connection string.
func (c Config) DSN() string {
	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.DBUser, c.DBPassword),
		Host:   c.DBHost + ":" + c.DBPort,
		Path:   "/" + c.DBName,
	}
	q := u.Query()
	q.Set("sslmode", c.DBSSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

func getEnv(key string, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return parsed
}
