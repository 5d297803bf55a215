package server

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type BaseServerConfig struct {
	ShutdownTimeout string `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`

	Log      LogServerConfig      `mapstructure:"log"      yaml:"log"`
	Server   HTTPServerConfig     `mapstructure:"server"   yaml:"server"`
	Metadata MetadataServerConfig `mapstructure:"metadata" yaml:"metadata"`
	Storage  StorageServerConfig  `mapstructure:"storage"  yaml:"storage"`
	API      APIServerConfig      `mapstructure:"api"      yaml:"api"`
	Image    ImageServerConfig    `mapstructure:"image"    yaml:"image"`
	Upload   UploadServerConfig   `mapstructure:"upload"   yaml:"upload"`
}

func LoadServerConfig() (*BaseServerConfig, error) {
	cfg := &BaseServerConfig{}

	setDefaults()

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate normalises values in place and rejects settings that cannot work.
func (cfg *BaseServerConfig) Validate() error {
	if _, err := time.ParseDuration(cfg.ShutdownTimeout); err != nil {
		return fmt.Errorf("shutdown_timeout: %w", err)
	}

	if cfg.Metadata.Type != "sqlite" {
		return fmt.Errorf("metadata.type '%s' is not supported", cfg.Metadata.Type)
	}
	if cfg.Metadata.SQLite.Path == "" {
		return fmt.Errorf("metadata.sqlite.path is required")
	}

	if err := cfg.Storage.validate(); err != nil {
		return err
	}
	if err := cfg.API.validate(); err != nil {
		return err
	}

	cfg.Image.normalize()
	return cfg.Upload.validate()
}

// ShutdownDuration returns the parsed shutdown timeout, defaulting to 60 seconds.
func (cfg *BaseServerConfig) ShutdownDuration() time.Duration {
	timeout, err := time.ParseDuration(cfg.ShutdownTimeout)
	if err != nil {
		return 60 * time.Second
	}
	return timeout
}
