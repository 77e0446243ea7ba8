package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Paths holds the resolved locations of the user-scoped app files.
type Paths struct {
	ConfigFile string
	DBFile     string
	LogFile    string
}

// ResolvePaths places config, archive and log under the OS user config dir.
func ResolvePaths() (Paths, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return Paths{}, fmt.Errorf("resolve user config dir: %w", err)
	}
	dir := filepath.Join(base, "chatty")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return Paths{}, fmt.Errorf("create app dir: %w", err)
	}

	return Paths{
		ConfigFile: filepath.Join(dir, "config.json"),
		DBFile:     filepath.Join(dir, "chatty.db"),
		LogFile:    filepath.Join(dir, "chatty.log"),
	}, nil
}
