package config

import (
	"errors"
	"fmt"
	"net"
	"path/filepath"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the configuration for errors and inconsistencies.
// Returns nil if valid, or the joined ValidationErrors.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Jar == "" {
		errs = append(errs, ValidationError{
			Field:   "jar",
			Message: "target artifact path is required",
		})
	}
	if cfg.MainClass == "" {
		errs = append(errs, ValidationError{
			Field:   "main_class",
			Message: "main class is required",
		})
	}

	if cfg.Java == "" {
		errs = append(errs, ValidationError{
			Field:   "java",
			Message: "fallback runtime must not be empty",
		})
	}
	if cfg.RequiredVersion < 1 {
		errs = append(errs, ValidationError{
			Field:   "required_version",
			Message: "must be at least 1",
		})
	}

	if cfg.Runs < 1 {
		errs = append(errs, ValidationError{
			Field:   "runs",
			Message: "must be at least 1",
		})
	}

	// Sampling settings only matter when the agent may be attached.
	if cfg.Profile {
		if cfg.Depth < 1 {
			errs = append(errs, ValidationError{
				Field:   "depth",
				Message: "must be at least 1",
			})
		}
		if cfg.IntervalMs < 1 {
			errs = append(errs, ValidationError{
				Field:   "interval_ms",
				Message: "must be at least 1",
			})
		}
		errs = append(errs, validateArtifacts(cfg)...)
	}

	// Timeouts
	if cfg.ProbeTimeout <= 0 {
		errs = append(errs, ValidationError{
			Field:   "probe_timeout",
			Message: "must be positive",
		})
	}
	if cfg.StopTimeout <= 0 {
		errs = append(errs, ValidationError{
			Field:   "stop_timeout",
			Message: "must be positive",
		})
	}
	if cfg.Timeout < 0 {
		errs = append(errs, ValidationError{
			Field:   "timeout",
			Message: "must not be negative (0 = none)",
		})
	}
	if cfg.ToolTimeout < 0 {
		errs = append(errs, ValidationError{
			Field:   "tool_timeout",
			Message: "must not be negative (0 = none)",
		})
	}

	// Log format must be valid
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[cfg.LogFormat] {
		errs = append(errs, ValidationError{
			Field:   "log_format",
			Message: fmt.Sprintf("must be 'json' or 'text' (got %q)", cfg.LogFormat),
		})
	}

	if cfg.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(cfg.MetricsAddr); err != nil {
			errs = append(errs, ValidationError{
				Field:   "metrics_addr",
				Message: fmt.Sprintf("must be host:port (got %q)", cfg.MetricsAddr),
			})
		}
	}

	// Return combined errors
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// validateArtifacts requires the three profile files to be set and distinct,
// since conversion deletes the profile and the collapsed file.
func validateArtifacts(cfg *Config) []error {
	var errs []error

	paths := []struct {
		field string
		path  string
	}{
		{"hprof_out", cfg.HprofOut},
		{"collapsed_out", cfg.CollapsedOut},
		{"svg_out", cfg.SVGOut},
	}

	seen := make(map[string]string, len(paths))
	for _, p := range paths {
		if p.path == "" {
			errs = append(errs, ValidationError{
				Field:   p.field,
				Message: "must not be empty",
			})
			continue
		}
		clean := filepath.Clean(p.path)
		if other, dup := seen[clean]; dup {
			errs = append(errs, ValidationError{
				Field:   p.field,
				Message: fmt.Sprintf("must differ from %s (both %q)", other, p.path),
			})
			continue
		}
		seen[clean] = p.field
	}

	return errs
}
