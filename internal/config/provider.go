// SPDX-License-Identifier: MPL-2.0

package config

import "context"

type (
	// LoadOptions selects where configuration is read from.
	LoadOptions struct {
		// ConfigFilePath forces a specific file, which must exist.
		ConfigFilePath string
		// ConfigDirPath replaces ConfigDir for the config.cue lookup.
		ConfigDirPath string
	}

	// Provider loads configuration.
	Provider interface {
		Load(ctx context.Context, opts LoadOptions) (*Config, error)
	}

	// Loaded is a configuration together with the file it came from.
	Loaded struct {
		*Config
		// Path is the merged config file, or "" when defaults were used.
		Path string
	}

	fileProvider struct{}
)

// NewProvider returns a Provider reading config.cue and the environment.
func NewProvider() Provider {
	return fileProvider{}
}

func (fileProvider) Load(ctx context.Context, opts LoadOptions) (*Config, error) {
	cfg, _, err := load(ctx, opts)
	return cfg, err
}

// LoadWithPath is Load that also reports which file was merged.
func LoadWithPath(ctx context.Context, opts LoadOptions) (*Loaded, error) {
	cfg, path, err := load(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &Loaded{Config: cfg, Path: path}, nil
}
