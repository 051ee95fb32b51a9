package config

import (
	"os"
	"strings"
)

// Operational toggles read from env. All default to the safe side: rate
// limiting off, auto-planner on, migrations on.

func boolFromEnv(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// RateLimitEnabled gates the per-IP request limiter.
//
// Set via env:
// - RATE_LIMIT_ENABLED=true
func RateLimitEnabled() bool {
	return boolFromEnv("RATE_LIMIT_ENABLED")
}

// AutoPlanDisabled turns off the in-process auto-planner timer. Use it when
// the planner runs as a separate job (cmd/auto-planner) or in multi-replica
// deployments where only one instance should plan.
//
// Set via env:
// - AUTO_PLAN_DISABLED=true
func AutoPlanDisabled() bool {
	return boolFromEnv("AUTO_PLAN_DISABLED")
}

// SkipMigrations skips AutoMigrate on startup; schema changes are then
// applied out of band.
//
// Set via env:
// - SKIP_MIGRATIONS=true
func SkipMigrations() bool {
	return boolFromEnv("SKIP_MIGRATIONS")
}
