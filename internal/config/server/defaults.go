package server

import "github.com/spf13/viper"

func GetServerDefault() BaseServerConfig {
	return BaseServerConfig{
		ShutdownTimeout: "10s",

		Log: LogServerConfig{
			Level:      "INFO",
			TimeFormat: "2006-01-02 15:04:05",
			File:       "",
			NoColor:    false,
			JSON:       false,
			NoTerminal: false,
			Rotation: LogServerRotationConfig{
				MaxSize:    128,
				MaxBackups: 5,
				MaxAge:     16,
				Compress:   false,
			},
		},
		Server: HTTPServerConfig{
			Address:       ":3000",
			PublicURL:     "",
			TrustForwards: true,
		},
		Metadata: MetadataServerConfig{
			Type: "sqlite",
			SQLite: MetadataSQLiteConfig{
				Path:        "data/images.db",
				BusyTimeout: "5s",
			},
		},
		Storage: StorageServerConfig{
			Default: "local",
			Local: StorageLocalConfig{
				Root: "uploads",
			},
			Remote: StorageRemoteConfig{
				Enabled: false,
				Region:  "auto",
				Timeout: "30s",
			},
		},
		API: APIServerConfig{
			Enabled:       true,
			DefaultFormat: "original",
			Tokens:        []APITokenConfig{},
		},
		Image: ImageServerConfig{
			WebPQuality:      80,
			AVIFQuality:      75,
			PNGOptimize:      true,
			MaxUploadSize:    50 << 20,
			TranscodeWorkers: 4,
		},
		Upload: UploadServerConfig{
			Order: "ascending",
		},
	}
}

func setDefaults() {
	defaults := GetServerDefault()

	viper.SetDefault("shutdown_timeout", defaults.ShutdownTimeout)

	viper.SetDefault("log.level", defaults.Log.Level)
	viper.SetDefault("log.time_format", defaults.Log.TimeFormat)
	viper.SetDefault("log.file", defaults.Log.File)
	viper.SetDefault("log.no_color", defaults.Log.NoColor)
	viper.SetDefault("log.json", defaults.Log.JSON)
	viper.SetDefault("log.no_terminal", defaults.Log.NoTerminal)
	viper.SetDefault("log.rotation.max_size", defaults.Log.Rotation.MaxSize)
	viper.SetDefault("log.rotation.max_backups", defaults.Log.Rotation.MaxBackups)
	viper.SetDefault("log.rotation.max_age", defaults.Log.Rotation.MaxAge)
	viper.SetDefault("log.rotation.compress", defaults.Log.Rotation.Compress)

	viper.SetDefault("server.address", defaults.Server.Address)
	viper.SetDefault("server.public_url", defaults.Server.PublicURL)
	viper.SetDefault("server.trust_forwards", defaults.Server.TrustForwards)

	viper.SetDefault("metadata.type", defaults.Metadata.Type)
	viper.SetDefault("metadata.sqlite.path", defaults.Metadata.SQLite.Path)
	viper.SetDefault("metadata.sqlite.busy_timeout", defaults.Metadata.SQLite.BusyTimeout)

	viper.SetDefault("storage.default", defaults.Storage.Default)
	viper.SetDefault("storage.local.root", defaults.Storage.Local.Root)
	viper.SetDefault("storage.remote.enabled", defaults.Storage.Remote.Enabled)
	viper.SetDefault("storage.remote.endpoint", defaults.Storage.Remote.Endpoint)
	viper.SetDefault("storage.remote.region", defaults.Storage.Remote.Region)
	viper.SetDefault("storage.remote.bucket", defaults.Storage.Remote.Bucket)
	viper.SetDefault("storage.remote.access_key_id", defaults.Storage.Remote.AccessKeyID)
	viper.SetDefault("storage.remote.secret_access_key", defaults.Storage.Remote.SecretAccessKey)
	viper.SetDefault("storage.remote.custom_domain", defaults.Storage.Remote.CustomDomain)
	viper.SetDefault("storage.remote.timeout", defaults.Storage.Remote.Timeout)

	viper.SetDefault("api.enabled", defaults.API.Enabled)
	viper.SetDefault("api.default_format", defaults.API.DefaultFormat)
	viper.SetDefault("api.tokens", defaults.API.Tokens)

	viper.SetDefault("image.webp_quality", defaults.Image.WebPQuality)
	viper.SetDefault("image.avif_quality", defaults.Image.AVIFQuality)
	viper.SetDefault("image.png_optimize", defaults.Image.PNGOptimize)
	viper.SetDefault("image.max_upload_size", defaults.Image.MaxUploadSize)
	viper.SetDefault("image.transcode_workers", defaults.Image.TranscodeWorkers)

	viper.SetDefault("upload.order", defaults.Upload.Order)
}
