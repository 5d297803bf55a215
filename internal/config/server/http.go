package server

type HTTPServerConfig struct {
	Address string `mapstructure:"address"    yaml:"address"`
	// PublicURL overrides the base url derived from request headers
	PublicURL     string `mapstructure:"public_url"     yaml:"public_url"`
	TrustForwards bool   `mapstructure:"trust_forwards" yaml:"trust_forwards"`
}
