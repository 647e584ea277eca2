package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sproutling/waterd/internal/model"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	s := New(path)

	settings := model.WateringSettings{
		ThresholdPercent:   35,
		DurationSeconds:    10,
		MinIntervalSeconds: 600,
		Enabled:            true,
	}
	require.NoError(t, s.Save(&settings))

	loaded, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, settings, *loaded)
}

func TestLoadMissingFile(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "missing.json"))

	_, err := s.Load()
	assert.True(t, os.IsNotExist(err))
}

func TestSaveLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	s := New(filepath.Join(dir, "settings.json"))

	require.NoError(t, s.Save(&model.WateringSettings{ThresholdPercent: 30, DurationSeconds: 5, MinIntervalSeconds: 300}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "settings.json", entries[0].Name())
}
