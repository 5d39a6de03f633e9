package fbot

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStartupTimeoutBoundsInit(t *testing.T) {
	config := DefaultConfig()
	config.Database = filepath.Join(t.TempDir(), "bot.sqlite3")
	config.Discord.Token = "test-token"
	config.Gemini.APIKeys = []string{"gemini-key"}
	config.Together.APIKey = "together-key"
	config.StartupTimeout = time.Nanosecond

	_, err := New(context.Background(), config)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error initializing database")
}
