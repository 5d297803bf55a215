package client

import (
	"bytes"
	"testing"
	"time"

	"github.com/mwantia/imghost/pkg/db/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrintImages(t *testing.T) {
	images := []models.Image{
		{ID: 1, Path: "2024/01/01/a001.png", FileSize: 2048, Storage: models.StorageRemote, UploadTime: time.Now().Add(-time.Hour)},
		{Path: "2024/01/01/b001.png", FileSize: 10, Storage: models.StorageLocal, UploadTime: time.Now()},
	}

	var short bytes.Buffer
	require.NoError(t, printImages(&short, images, false, false))
	assert.Equal(t, "2024/01/01/a001.png\n2024/01/01/b001.png\n", short.String())

	var long bytes.Buffer
	require.NoError(t, printImages(&long, images, true, true))
	assert.Contains(t, long.String(), "2.0 kB")
	assert.Contains(t, long.String(), "1 hour ago")
	assert.Contains(t, long.String(), "orphan")
}

func TestStorageArg(t *testing.T) {
	kind, err := storageArg("all")
	require.NoError(t, err)
	assert.Empty(t, kind)

	kind, err = storageArg("r2")
	require.NoError(t, err)
	assert.Equal(t, models.StorageRemote, kind)

	_, err = storageArg("tape")
	assert.Error(t, err)
}
