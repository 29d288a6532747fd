// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 jwtserver Contributors

// Package xdg locates jwtserver files under the XDG Base Directory layout.
package xdg

import (
	"os"
	"path/filepath"
)

const appName = "jwtserver"

// ConfigFileName is the file looked up in ConfigDir when --config is not given.
const ConfigFileName = "config.yaml"

// ConfigDir returns the XDG config directory for jwtserver.
// Checks XDG_CONFIG_HOME first, falls back to ~/.config.
func ConfigDir() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		base = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(base, appName)
}

// DefaultConfigFile returns ConfigDir()/config.yaml if it is a regular file,
// or "" when there is nothing to load.
func DefaultConfigFile() string {
	path := filepath.Join(ConfigDir(), ConfigFileName)
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return ""
	}
	return path
}

// ResolveConfigFile returns explicit when set, otherwise DefaultConfigFile.
func ResolveConfigFile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	return DefaultConfigFile()
}
