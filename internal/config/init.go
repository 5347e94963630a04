package config

import (
	"os"
	"path/filepath"
)

// Init loads app.yml from the directory named by CONFIG_DIR, or the working
// directory when it is unset.
func Init() (*Config, error) {
	dir := os.Getenv("CONFIG_DIR")
	if dir == "" {
		dir = "."
	}
	return LoadConfig(filepath.Join(dir, "app.yml"))
}
