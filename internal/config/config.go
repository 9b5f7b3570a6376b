package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	// HTTP Server
	Port string

	// Hosted store (Supabase). URL and anon key are handed to the web
	// client via /api/env; the DB URL is what the server itself dials.
	// Leaving the Supabase values empty puts the app in degraded mode:
	// store operations no-op instead of failing.
	SupabaseURL     string
	SupabaseAnonKey string
	SupabaseDBURL   string

	// Gemini
	GeminiAPIKey string
	GeminiModel  string

	// Device-local state
	DeviceDBPath string

	// Reports
	ReportAllowCurrentMonth bool

	// Listing
	ListLimit int
}

// Load reads configuration from the environment, after loading a local
// .env file when one exists.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port: getEnv("PORT", "8082"),

		SupabaseURL:     getEnv("SUPABASE_URL", ""),
		SupabaseAnonKey: getEnv("SUPABASE_ANON_KEY", ""),
		SupabaseDBURL:   getEnv("SUPABASE_DB_URL", ""),

		GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
		GeminiModel:  getEnv("GEMINI_MODEL", "gemini-2.5-flash"),

		DeviceDBPath: getEnv("DEVICE_DB_PATH", "./data/device.db"),

		ReportAllowCurrentMonth: getEnvBool("REPORT_ALLOW_CURRENT_MONTH", false),

		ListLimit: getEnvInt("LIST_LIMIT", 10000),
	}
}

// StoreConfigured reports whether the hosted store can be used at all.
func (c *Config) StoreConfigured() bool {
	return c.SupabaseDBURL != "" && c.SupabaseURL != "" && c.SupabaseAnonKey != ""
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if c.DeviceDBPath == "" {
		errors = append(errors, "device database path cannot be empty")
	} else {
		dir := filepath.Dir(c.DeviceDBPath)
		if dir != "." && dir != "" {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				if err := os.MkdirAll(dir, 0755); err != nil {
					errors = append(errors, fmt.Sprintf("cannot create device database directory '%s': %v", dir, err))
				}
			}
		}
	}

	// The Supabase values travel together: a URL without a key (or the
	// other way around) is a misconfiguration, while all-empty is the
	// supported degraded mode.
	set := 0
	for _, v := range []string{c.SupabaseURL, c.SupabaseAnonKey, c.SupabaseDBURL} {
		if v != "" {
			set++
		}
	}
	if set != 0 && set != 3 {
		errors = append(errors, "SUPABASE_URL, SUPABASE_ANON_KEY and SUPABASE_DB_URL must be set together (or all left empty)")
	}

	if c.GeminiModel == "" {
		errors = append(errors, "GEMINI_MODEL cannot be empty")
	}

	if c.ListLimit < 1 || c.ListLimit > 100_000 {
		errors = append(errors, fmt.Sprintf("invalid list limit %d: must be between 1 and 100000", c.ListLimit))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
