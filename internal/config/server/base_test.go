package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateNormalizes(t *testing.T) {
	cfg := GetServerDefault()
	cfg.Storage.Default = "R2"
	cfg.API.DefaultFormat = "WEBP"
	cfg.Image.WebPQuality = 400
	cfg.Image.AVIFQuality = 1
	cfg.Upload.Order = ""

	require.NoError(t, cfg.Validate())
	assert.Equal(t, "remote", cfg.Storage.Default)
	assert.Equal(t, "webp", cfg.API.DefaultFormat)
	assert.Equal(t, 100, cfg.Image.WebPQuality)
	assert.Equal(t, 10, cfg.Image.AVIFQuality)
	assert.Equal(t, "ascending", cfg.Upload.Order)
}

func TestValidateRejects(t *testing.T) {
	tests := map[string]func(*BaseServerConfig){
		"shutdown timeout": func(c *BaseServerConfig) { c.ShutdownTimeout = "soon" },
		"metadata type":    func(c *BaseServerConfig) { c.Metadata.Type = "postgres" },
		"storage default":  func(c *BaseServerConfig) { c.Storage.Default = "tape" },
		"local root":       func(c *BaseServerConfig) { c.Storage.Local.Root = "" },
		"remote timeout":   func(c *BaseServerConfig) { c.Storage.Remote.Timeout = "fast" },
		"format":           func(c *BaseServerConfig) { c.API.DefaultFormat = "bmp" },
		"empty token":      func(c *BaseServerConfig) { c.API.Tokens = []APITokenConfig{{Name: "x"}} },
		"order":            func(c *BaseServerConfig) { c.Upload.Order = "random" },
	}

	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := GetServerDefault()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestTokenValidity(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	api := APIServerConfig{
		Tokens: []APITokenConfig{
			{ID: "1", Name: "forever", Token: "a"},
			{ID: "2", Name: "expired", Token: "b", ExpiresAt: "2024-12-31T00:00:00Z"},
			{ID: "3", Name: "future", Token: "c", ExpiresAt: "2025-06-01T00:00:00Z"},
		},
	}

	_, ok := api.Valid("a", now)
	assert.True(t, ok)
	_, ok = api.Valid("b", now)
	assert.False(t, ok)
	entry, ok := api.Valid("c", now)
	assert.True(t, ok)
	assert.Equal(t, "future", entry.Name)
	_, ok = api.Valid("", now)
	assert.False(t, ok)
}

func TestRemoteConfigured(t *testing.T) {
	remote := StorageRemoteConfig{
		Enabled:         true,
		Endpoint:        "https://account.r2.cloudflarestorage.com",
		Bucket:          "images",
		AccessKeyID:     "id",
		SecretAccessKey: "secret",
	}
	assert.True(t, remote.Configured())
	assert.Equal(t, 30*time.Second, remote.TimeoutDuration())

	remote.Enabled = false
	assert.False(t, remote.Configured())
}
