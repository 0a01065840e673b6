// SPDX-License-Identifier: MPL-2.0

// Package config handles application configuration using Viper with CUE as the file format.
//
// Configuration is loaded from $XDG_CONFIG_HOME/envrun/config.cue on Linux
// (~/.config when unset), ~/Library/Application Support/envrun/config.cue on
// macOS and %APPDATA%\envrun\config.cue on Windows, validated against the
// embedded #Config schema (config_schema.cue), and overridden by ENVRUN_*
// environment variables.
package config
