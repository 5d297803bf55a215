package server

import (
	"path/filepath"
	"time"
)

// MetadataServerConfig holds metadata store configuration
type MetadataServerConfig struct {
	Type   string               `mapstructure:"type"   yaml:"type"`
	SQLite MetadataSQLiteConfig `mapstructure:"sqlite" yaml:"sqlite"`
}

type MetadataSQLiteConfig struct {
	Path        string `mapstructure:"path"         yaml:"path"`
	BusyTimeout string `mapstructure:"busy_timeout" yaml:"busy_timeout"`
}

// DataDir is the directory holding the database, backups and legacy exports.
func (cfg MetadataServerConfig) DataDir() string {
	return filepath.Dir(cfg.SQLite.Path)
}

func (cfg MetadataSQLiteConfig) BusyTimeoutDuration() time.Duration {
	timeout, err := time.ParseDuration(cfg.BusyTimeout)
	if err != nil || timeout <= 0 {
		return 5 * time.Second
	}
	return timeout
}
