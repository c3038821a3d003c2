// Package config provides configuration utilities for the application.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/parishbooks/reconcile/internal/variance"
	"github.com/parishbooks/reconcile/internal/workflow"
)

// Viper keys.
const (
	KeyDatabasePath      = "database.path"
	KeyRequireReview     = "workflow.require_review"
	KeyVarianceThreshold = "variance.threshold_percent"
	KeyVarianceAbsolute  = "variance.absolute_threshold"
	KeyTolerances        = "tolerances"
)

// SetDefaults registers the default settings on the given viper instance.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyDatabasePath, "~/.local/share/reconcile/reconcile.db")
	v.SetDefault(KeyRequireReview, false)
	v.SetDefault(KeyVarianceThreshold, "10")
	v.SetDefault(KeyVarianceAbsolute, "1000")
}

// DatabasePath returns the configured database path with ~ and
// environment variables expanded.
func DatabasePath(v *viper.Viper) string {
	return ExpandPath(v.GetString(KeyDatabasePath))
}

// WorkflowConfig builds the workflow engine configuration from viper.
func WorkflowConfig(v *viper.Viper) (workflow.Config, error) {
	cfg := workflow.DefaultConfig()
	cfg.RequireReview = v.GetBool(KeyRequireReview)

	threshold, err := decimal.NewFromString(v.GetString(KeyVarianceThreshold))
	if err != nil {
		return workflow.Config{}, fmt.Errorf("invalid variance threshold: %w", err)
	}
	absolute, err := decimal.NewFromString(v.GetString(KeyVarianceAbsolute))
	if err != nil {
		return workflow.Config{}, fmt.Errorf("invalid absolute variance threshold: %w", err)
	}
	cfg.Variance = variance.Config{
		ThresholdPercent:  threshold,
		AbsoluteThreshold: absolute,
	}

	// Per-currency balanced/unbalanced tolerance, e.g. tolerances.JPY: "1".
	tolerances := v.GetStringMapString(KeyTolerances)
	if len(tolerances) > 0 {
		cfg.Tolerances = make(map[string]decimal.Decimal, len(tolerances))
		for currency, raw := range tolerances {
			epsilon, parseErr := decimal.NewFromString(raw)
			if parseErr != nil {
				return workflow.Config{}, fmt.Errorf("invalid tolerance for %s: %w", currency, parseErr)
			}
			cfg.Tolerances[strings.ToUpper(currency)] = epsilon
		}
	}

	return cfg, nil
}

// ExpandPath expands ~ and environment variables in a file path.
// It handles both ~ for home directory and $VAR style environment variables.
func ExpandPath(path string) string {
	if path == "" {
		return path
	}

	// First expand tilde if present
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[2:])
		}
	} else if path == "~" {
		home, err := os.UserHomeDir()
		if err == nil {
			path = home
		}
	}

	// Then expand environment variables
	return os.ExpandEnv(path)
}
