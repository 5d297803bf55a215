package server

import (
	"fmt"
	"strings"
	"time"
)

type StorageServerConfig struct {
	// Default is the backend "auto" uploads prefer: local or remote
	Default string              `mapstructure:"default" yaml:"default"`
	Local   StorageLocalConfig  `mapstructure:"local"   yaml:"local"`
	Remote  StorageRemoteConfig `mapstructure:"remote"  yaml:"remote"`
}

type StorageLocalConfig struct {
	Root string `mapstructure:"root" yaml:"root"`
}

type StorageRemoteConfig struct {
	Enabled         bool   `mapstructure:"enabled"           yaml:"enabled"`
	Endpoint        string `mapstructure:"endpoint"          yaml:"endpoint"`
	Region          string `mapstructure:"region"            yaml:"region"`
	Bucket          string `mapstructure:"bucket"            yaml:"bucket"`
	AccessKeyID     string `mapstructure:"access_key_id"     yaml:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key"`
	CustomDomain    string `mapstructure:"custom_domain"     yaml:"custom_domain"`
	Timeout         string `mapstructure:"timeout"           yaml:"timeout"`
}

// Configured reports whether every value needed to reach the bucket is present.
func (cfg StorageRemoteConfig) Configured() bool {
	return cfg.Enabled &&
		cfg.Endpoint != "" &&
		cfg.Bucket != "" &&
		cfg.AccessKeyID != "" &&
		cfg.SecretAccessKey != ""
}

func (cfg StorageRemoteConfig) TimeoutDuration() time.Duration {
	timeout, err := time.ParseDuration(cfg.Timeout)
	if err != nil || timeout <= 0 {
		return 30 * time.Second
	}
	return timeout
}

func (cfg *StorageServerConfig) validate() error {
	switch strings.ToLower(cfg.Default) {
	case "", "local":
		cfg.Default = "local"
	case "remote", "r2", "s3":
		cfg.Default = "remote"
	default:
		return fmt.Errorf("storage.default '%s' must be local or remote", cfg.Default)
	}

	if cfg.Local.Root == "" {
		return fmt.Errorf("storage.local.root is required")
	}

	if cfg.Remote.Timeout != "" {
		if _, err := time.ParseDuration(cfg.Remote.Timeout); err != nil {
			return fmt.Errorf("storage.remote.timeout: %w", err)
		}
	}
	return nil
}
