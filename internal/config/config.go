// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/stowage-dev/stowage/internal/cueutil"
	"github.com/stowage-dev/stowage/internal/issue"
	"github.com/stowage-dev/stowage/pkg/registry"
)

const (
	// AppName names the config directory.
	AppName = "stowage"
	// ConfigFileName is the config file looked up in the config directory.
	ConfigFileName = "config.cue"
	// EnvPrefix prefixes environment overrides, e.g. STOWAGE_SERVER_URL.
	EnvPrefix = "STOWAGE"
)

//go:embed config_schema.cue
var configSchema []byte

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	collections := filepath.Join(".stowage", "collections")
	if home, err := os.UserHomeDir(); err == nil {
		collections = filepath.Join(home, collections)
	}
	return &Config{
		Server:          ServerConfig{URL: registry.DefaultServerURL},
		CollectionsPath: collections,
		Build:           BuildConfig{IgnoreDirs: []string{}, ExcludePatterns: []string{}},
		HTTP:            HTTPConfig{Timeout: 60 * time.Second, MaxRetries: 3},
		UI:              UIConfig{ColorScheme: ColorSchemeAuto},
	}
}

// ConfigDir returns the per-user stowage config directory: %APPDATA% on
// Windows, ~/Library/Application Support on macOS, $XDG_CONFIG_HOME or
// ~/.config elsewhere.
//
//nolint:revive // config.ConfigDir reads better than config.Dir at call sites
func ConfigDir() (string, error) {
	var base string
	switch runtime.GOOS {
	case "windows":
		base = os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		base = filepath.Join(home, "Library", "Application Support")
	default:
		base = os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			base = filepath.Join(home, ".config")
		}
	}
	return filepath.Join(base, AppName), nil
}

// load layers defaults, the config file and the environment. It returns
// the path of the file that was merged, or "" when none was found.
func load(ctx context.Context, opts LoadOptions) (*Config, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", fmt.Errorf("load config canceled: %w", err)
	}

	v := viper.New()
	setDefaults(v, DefaultConfig())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path, explicit, err := configPath(opts)
	if err != nil {
		return nil, "", err
	}
	resolved := ""
	switch _, statErr := os.Stat(path); {
	case statErr == nil:
		if err := mergeCUE(v, path); err != nil {
			return nil, "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(path).
				WithSuggestion("Check that the file contains valid CUE syntax").
				WithSuggestion("Run 'stowage config show' to see the effective configuration").
				Wrap(err).
				BuildError()
		}
		resolved = path
	case explicit || !errors.Is(statErr, fs.ErrNotExist):
		return nil, "", issue.NewErrorContext().
			WithOperation("load configuration").
			WithResource(path).
			WithSuggestion("Verify the file path is correct").
			Wrap(statErr).
			BuildError()
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", issue.NewErrorContext().
			WithOperation("validate configuration").
			WithResource(resolved).
			WithSuggestion("Check STOWAGE_* environment variables as well as the config file").
			Wrap(err).
			BuildError()
	}
	return &cfg, resolved, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.url", d.Server.URL)
	v.SetDefault("server.ignore_certs", d.Server.IgnoreCerts)
	v.SetDefault("server.token", d.Server.Token)
	v.SetDefault("collections_path", d.CollectionsPath)
	v.SetDefault("build.ignore_dirs", d.Build.IgnoreDirs)
	v.SetDefault("build.exclude_patterns", d.Build.ExcludePatterns)
	v.SetDefault("http.timeout", d.HTTP.Timeout)
	v.SetDefault("http.max_retries", d.HTTP.MaxRetries)
	v.SetDefault("ui.verbose", d.UI.Verbose)
	v.SetDefault("ui.color_scheme", string(d.UI.ColorScheme))
}

func configPath(opts LoadOptions) (path string, explicit bool, err error) {
	if opts.ConfigFilePath != "" {
		return opts.ConfigFilePath, true, nil
	}
	dir := opts.ConfigDirPath
	if dir == "" {
		if dir, err = ConfigDir(); err != nil {
			return "", false, err
		}
	}
	return filepath.Join(dir, ConfigFileName), false, nil
}

// mergeCUE validates a config file against #Config and merges the fields
// it sets over the defaults.
func mergeCUE(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	values, err := cueutil.Validate(configSchema, data, "#Config", cueutil.WithFilename(path))
	if err != nil {
		return err
	}
	if err := v.MergeConfigMap(values); err != nil {
		return fmt.Errorf("failed to merge config: %w", err)
	}
	return nil
}

// GenerateCUE renders cfg as a config.cue document.
func GenerateCUE(cfg *Config) string {
	var sb strings.Builder
	sb.WriteString("// stowage configuration\n\n")
	fmt.Fprintf(&sb, "server: {\n\turl: %q\n\tignore_certs: %v\n", cfg.Server.URL, cfg.Server.IgnoreCerts)
	if cfg.Server.Token != "" {
		fmt.Fprintf(&sb, "\ttoken: %q\n", cfg.Server.Token)
	}
	sb.WriteString("}\n\n")
	fmt.Fprintf(&sb, "collections_path: %q\n\n", cfg.CollectionsPath)
	fmt.Fprintf(&sb, "build: {\n\tignore_dirs: %s\n\texclude_patterns: %s\n}\n\n",
		cueList(cfg.Build.IgnoreDirs), cueList(cfg.Build.ExcludePatterns))
	fmt.Fprintf(&sb, "http: {\n\ttimeout: %q\n\tmax_retries: %d\n}\n\n", cfg.HTTP.Timeout.String(), cfg.HTTP.MaxRetries)
	fmt.Fprintf(&sb, "ui: {\n\tverbose: %v\n\tcolor_scheme: %q\n}\n", cfg.UI.Verbose, cfg.UI.ColorScheme)
	return sb.String()
}

func cueList(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = fmt.Sprintf("%q", s)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}
