package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lisuiheng/hulaloop-go/audio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, audio.BackendAuto, cfg.Audio.Backend)
	assert.Equal(t, 44100, cfg.Audio.SampleRate)
	assert.Equal(t, 250*time.Millisecond, cfg.Transport.SettleDelay)
	assert.Equal(t, "127.0.0.1:8765", cfg.Monitor.Listen)
	assert.Equal(t, []string{"stdout"}, cfg.Logging.Outputs)
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hulaloop.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
audio:
  backend: "null"
  sample_rate: 48000
  input_device: "Monitor of Speakers"
transport:
  settle_delay: 10ms
monitor:
  enabled: true
`), 0644))
	t.Setenv("HULALOOP_AUDIO_CHANNELS", "1")
	t.Setenv("HULALOOP_METRICS_LISTEN", ":9100")

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, audio.BackendNull, cfg.Audio.Backend)
	assert.Equal(t, 48000, cfg.Audio.SampleRate)
	assert.Equal(t, 1, cfg.Audio.Channels)
	assert.Equal(t, "Monitor of Speakers", cfg.Audio.InputDevice)
	assert.Equal(t, 10*time.Millisecond, cfg.Transport.SettleDelay)
	assert.True(t, cfg.Monitor.Enabled)
	assert.Equal(t, ":9100", cfg.Metrics.Listen)
	assert.Equal(t, 2*time.Second, cfg.Audio.JoinTimeout)
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestParseSeconds(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
		err  bool
	}{
		{"2", 2 * time.Second, false},
		{"0.5", 500 * time.Millisecond, false},
		{"1500ms", 1500 * time.Millisecond, false},
		{"soon", 0, true},
	}
	for _, tt := range tests {
		got, err := parseSeconds(tt.in)
		if tt.err {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}
