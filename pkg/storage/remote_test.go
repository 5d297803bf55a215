package storage

import (
	"testing"

	config "github.com/mwantia/imghost/internal/config/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func remoteConfig() config.StorageRemoteConfig {
	return config.StorageRemoteConfig{
		Enabled:         true,
		Endpoint:        "https://account.r2.cloudflarestorage.com",
		Region:          "auto",
		Bucket:          "images",
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
	}
}

func TestNewRemoteRequiresConfiguration(t *testing.T) {
	cfg := remoteConfig()
	cfg.SecretAccessKey = ""

	_, err := NewRemote(cfg)
	assert.ErrorIs(t, err, ErrBackendUnavailable)
}

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		endpoint string
		host     string
		secure   bool
	}{
		{"https://account.r2.cloudflarestorage.com", "account.r2.cloudflarestorage.com", true},
		{"http://minio:9000", "minio:9000", false},
		{"s3.amazonaws.com", "s3.amazonaws.com", true},
	}

	for _, tt := range tests {
		host, secure, err := parseEndpoint(tt.endpoint)
		require.NoError(t, err, tt.endpoint)
		assert.Equal(t, tt.host, host)
		assert.Equal(t, tt.secure, secure)
	}

	_, _, err := parseEndpoint("https://")
	assert.Error(t, err)
}

func TestRemoteURL(t *testing.T) {
	remote, err := NewRemote(remoteConfig())
	require.NoError(t, err)
	assert.True(t, remote.Available())

	assert.Equal(t, "https://images.account.r2.cloudflarestorage.com/api/2024/01/01/a001.png",
		remote.URL("", "api/2024/01/01/a001.png"))

	cfg := remoteConfig()
	cfg.CustomDomain = "cdn.example.com"
	remote, err = NewRemote(cfg)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/2024/01/01/a001.png", remote.URL("", "2024/01/01/a001.png"))
}
