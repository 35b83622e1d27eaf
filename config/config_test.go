package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smart-room/config"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := config.Parse([]byte("{}"))
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:1880/api/v1", cfg.Backend.URL)
	assert.Equal(t, 10*time.Second, cfg.Backend.RequestTimeout)
	assert.Equal(t, "ws://localhost:9001", cfg.MQTT.Broker)
	assert.Equal(t, "gemini", cfg.Interpreter.Provider)
	assert.Equal(t, 3, cfg.Identity.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.Identity.RetryDelay)
	assert.Equal(t, 50.0, cfg.Interaction.DwellRate)
	assert.True(t, cfg.Interaction.AuthAtStart)
	assert.Equal(t, "push", cfg.Camera.Source)
	assert.Equal(t, 1500*time.Millisecond, cfg.Camera.GesturePause)
	assert.Equal(t, "none", cfg.Voice.Source)
	assert.Equal(t, ":8080", cfg.Surface.Addr)
	assert.Equal(t, 5, cfg.Log.ActivitySize)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestParse_ExpandsEnvironment(t *testing.T) {
	t.Setenv("ROOM_BACKEND_TOKEN", "s3cret")
	t.Setenv("ROOM_GEMINI_KEY", "g-key")

	cfg, err := config.Parse([]byte(`
backend:
  url: http://room.local/api/v1
  token: ${ROOM_BACKEND_TOKEN}
  request_timeout: 3s
interpreter:
  gemini_api_key: $ROOM_GEMINI_KEY
identity:
  max_retries: 5
  retry_delay: 500ms
interaction:
  dwell_rate: 25
  auth_at_start: false
mqtt:
  per_device_topics: true
`))
	require.NoError(t, err)

	assert.Equal(t, "http://room.local/api/v1", cfg.Backend.URL)
	assert.Equal(t, "s3cret", cfg.Backend.Token)
	assert.Equal(t, 3*time.Second, cfg.Backend.RequestTimeout)
	assert.Equal(t, "g-key", cfg.Interpreter.GeminiAPIKey)
	assert.Equal(t, 5, cfg.Identity.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.Identity.RetryDelay)
	assert.Equal(t, 25.0, cfg.Interaction.DwellRate)
	assert.False(t, cfg.Interaction.AuthAtStart)
	assert.True(t, cfg.MQTT.PerDeviceTopics)
}

func TestParse_RejectsUnknownSources(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{name: "interpreter", yaml: "interpreter:\n  provider: eliza\n"},
		{name: "camera", yaml: "camera:\n  source: usb\n"},
		{name: "voice", yaml: "voice:\n  source: telepathy\n"},
		{name: "negative retries", yaml: "identity:\n  max_retries: -1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("surface:\n  addr: \":9090\"\n"), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Surface.Addr)

	_, err = config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
