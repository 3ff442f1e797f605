// SPDX-License-Identifier: MPL-2.0

// Package config loads stowage settings.
//
// Values are layered with Viper: built-in defaults, then config.cue from the
// user config directory (or an explicit --config file), then STOWAGE_*
// environment variables. The file is validated against the embedded #Config
// CUE schema before it is merged.
package config
