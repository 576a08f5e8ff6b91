package logging

import (
	"os"
	"path/filepath"
	"testing"

	"roomsync/internal/config"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	app := config.AppConfig{Name: "roomsync", Environment: "test", Version: "dev"}

	t.Run("defaults to info level", func(t *testing.T) {
		logger, closer, err := New(config.LoggingConfig{}, app)
		require.NoError(t, err)
		assert.Nil(t, closer)
		assert.Equal(t, zerolog.InfoLevel, logger.GetLevel())
	})

	t.Run("parses configured level", func(t *testing.T) {
		logger, _, err := New(config.LoggingConfig{Level: "debug"}, app)
		require.NoError(t, err)
		assert.Equal(t, zerolog.DebugLevel, logger.GetLevel())
	})

	t.Run("file output requires a path", func(t *testing.T) {
		_, _, err := New(config.LoggingConfig{Output: "file"}, app)
		assert.Error(t, err)
	})

	t.Run("file output writes to the given path", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "roomsync.log")
		logger, closer, err := New(config.LoggingConfig{Output: "file", FilePath: path}, app)
		require.NoError(t, err)
		require.NotNil(t, closer)
		defer closer.Close()

		logger.Info().Msg("started")
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), "started")
	})
}
