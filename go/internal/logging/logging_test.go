package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup_JSONToWriter(t *testing.T) {
	var buf bytes.Buffer
	closer, err := Setup(Options{Level: "debug", JSON: true, Out: &buf})
	require.NoError(t, err)
	defer closer.Close()

	log.Debug().Str("auction_id", "auc-1").Msg("hello")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "auc-1", line["auction_id"])
	assert.Equal(t, "hello", line["message"])
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())
}

func TestSetup_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	closer, err := Setup(Options{Level: "warn", JSON: true, Out: &buf})
	require.NoError(t, err)
	defer closer.Close()

	log.Info().Msg("quiet")
	assert.Zero(t, buf.Len())
}

func TestSetup_RotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "bazaar.log")
	var buf bytes.Buffer
	closer, err := Setup(Options{Level: "info", Out: &buf, File: path, MaxSizeMB: 1})
	require.NoError(t, err)

	log.Info().Str("auction_id", "auc-1").Msg("to file")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"auction_id":"auc-1"`)
	assert.Contains(t, buf.String(), "to file")
}

func TestSetup_BadLevel(t *testing.T) {
	_, err := Setup(Options{Level: "chatty"})
	assert.Error(t, err)
}
