// Package app provides the application initialization and wiring.
package app

import (
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// DefaultStateDir returns the directory for host-local state.
// Uses /var/lib/flotilla when writable by the process, ~/.flotilla otherwise.
func DefaultStateDir() string {
	if os.Geteuid() == 0 {
		return "/var/lib/flotilla"
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".flotilla")
	}
	return "/var/lib/flotilla"
}

// ConfigureViper sets up viper with standard config file search paths.
// Config file: flotilla.toml
// Search paths (in order): /etc/flotilla, ~/.config/flotilla, current directory
func ConfigureViper(v *viper.Viper, configPath string) {
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("flotilla")
		v.SetConfigType("toml")
		v.AddConfigPath("/etc/flotilla")
		v.AddConfigPath("$HOME/.config/flotilla")
		v.AddConfigPath(".")
	}
}
