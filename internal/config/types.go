// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// ColorSchemeAuto detects the terminal background.
	ColorSchemeAuto ColorScheme = "auto"
	// ColorSchemeDark forces the dark palette.
	ColorSchemeDark ColorScheme = "dark"
	// ColorSchemeLight forces the light palette.
	ColorSchemeLight ColorScheme = "light"
)

var (
	// ErrInvalidColorScheme is returned for an unknown ColorScheme.
	ErrInvalidColorScheme = errors.New("invalid color scheme")
	// ErrInvalidConfig is the sentinel wrapped by InvalidConfigError.
	ErrInvalidConfig = errors.New("invalid config")
)

type (
	// ColorScheme selects the terminal palette.
	ColorScheme string

	// InvalidColorSchemeError reports an unknown ColorScheme.
	InvalidColorSchemeError struct {
		Value ColorScheme
	}

	// InvalidConfigError collects every field problem found by Validate.
	InvalidConfigError struct {
		FieldErrors []error
	}

	// Config is the effective stowage configuration.
	Config struct {
		Server          ServerConfig `json:"server" mapstructure:"server"`
		CollectionsPath string       `json:"collections_path" mapstructure:"collections_path"`
		Build           BuildConfig  `json:"build" mapstructure:"build"`
		HTTP            HTTPConfig   `json:"http" mapstructure:"http"`
		UI              UIConfig     `json:"ui" mapstructure:"ui"`
	}

	// ServerConfig describes the collection server.
	ServerConfig struct {
		URL         string `json:"url" mapstructure:"url"`
		IgnoreCerts bool   `json:"ignore_certs" mapstructure:"ignore_certs"`
		Token       string `json:"token,omitempty" mapstructure:"token"`
	}

	// BuildConfig extends the default ignore rules used by build.
	BuildConfig struct {
		IgnoreDirs      []string `json:"ignore_dirs" mapstructure:"ignore_dirs"`
		ExcludePatterns []string `json:"exclude_patterns" mapstructure:"exclude_patterns"`
	}

	// HTTPConfig tunes the registry client.
	HTTPConfig struct {
		Timeout    time.Duration `json:"timeout" mapstructure:"timeout"`
		MaxRetries int           `json:"max_retries" mapstructure:"max_retries"`
	}

	// UIConfig controls terminal output.
	UIConfig struct {
		Verbose     bool        `json:"verbose" mapstructure:"verbose"`
		ColorScheme ColorScheme `json:"color_scheme" mapstructure:"color_scheme"`
	}
)

func (c ColorScheme) String() string { return string(c) }

// Validate reports whether c is a known scheme.
func (c ColorScheme) Validate() error {
	switch c {
	case ColorSchemeAuto, ColorSchemeDark, ColorSchemeLight:
		return nil
	default:
		return &InvalidColorSchemeError{Value: c}
	}
}

func (e *InvalidColorSchemeError) Error() string {
	return fmt.Sprintf("invalid color scheme %q (valid: auto, dark, light)", e.Value)
}

func (e *InvalidColorSchemeError) Unwrap() error { return ErrInvalidColorScheme }

func (e *InvalidConfigError) Error() string {
	msgs := make([]string, len(e.FieldErrors))
	for i, err := range e.FieldErrors {
		msgs[i] = err.Error()
	}
	return "invalid config: " + strings.Join(msgs, "; ")
}

func (e *InvalidConfigError) Unwrap() error { return ErrInvalidConfig }

// Validate checks constraints that survive environment overrides, which
// bypass the CUE schema.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.CollectionsPath) == "" {
		errs = append(errs, errors.New("collections_path must not be empty"))
	}
	if !strings.HasPrefix(c.Server.URL, "http://") && !strings.HasPrefix(c.Server.URL, "https://") {
		errs = append(errs, fmt.Errorf("server.url %q must be an http or https URL", c.Server.URL))
	}
	if c.HTTP.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("http.timeout %s must be positive", c.HTTP.Timeout))
	}
	if c.HTTP.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("http.max_retries %d must not be negative", c.HTTP.MaxRetries))
	}
	if err := c.UI.ColorScheme.Validate(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return &InvalidConfigError{FieldErrors: errs}
	}
	return nil
}

// Redacted returns a copy safe to print, with the token masked.
func (c Config) Redacted() Config {
	if c.Server.Token != "" {
		c.Server.Token = "********"
	}
	c.Build.IgnoreDirs = append([]string(nil), c.Build.IgnoreDirs...)
	c.Build.ExcludePatterns = append([]string(nil), c.Build.ExcludePatterns...)
	return c
}
