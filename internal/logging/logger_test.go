package logging_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neexbeast/cityrank/internal/config"
	"github.com/neexbeast/cityrank/internal/logging"
)

func TestNew_ProdWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	log := logging.New(&buf, config.Config{AppEnv: "prod", LogLevel: slog.LevelInfo})

	log.Info("city registry reloaded", "cities", 3)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "city registry reloaded", line["msg"])
	assert.Equal(t, "cityrank", line["app"])
	assert.Equal(t, "prod", line["env"])
	assert.Equal(t, float64(3), line["cities"])
}

func TestNew_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := logging.New(&buf, config.Config{AppEnv: "prod", LogLevel: slog.LevelWarn})

	log.Info("dropped")
	assert.Zero(t, buf.Len())

	log.Warn("kept")
	assert.Contains(t, buf.String(), "kept")
}

func TestNew_DevIsHumanReadable(t *testing.T) {
	var buf bytes.Buffer
	log := logging.New(&buf, config.Config{AppEnv: "dev", LogLevel: slog.LevelDebug})

	log.Debug("unknown city", "city", "atlantis")

	out := buf.String()
	assert.Contains(t, out, "unknown city")
	assert.Contains(t, out, "atlantis")
	assert.False(t, json.Valid(buf.Bytes()))
}
