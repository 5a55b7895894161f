package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lisuiheng/hulaloop-go/audio"
	"github.com/lisuiheng/hulaloop-go/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestShell(t *testing.T) (*shell, *bytes.Buffer) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := audio.DefaultConfig()
	cfg.Backend = audio.BackendNull
	cfg.SampleRate = 8000
	cfg.Channels = 1
	cfg.PeriodFrames = 80
	ctrl, err := audio.NewController(cfg, logger, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctrl.Close() })

	tr := core.NewTransportWithController(ctrl, core.TransportConfig{SettleDelay: time.Millisecond, TempDir: t.TempDir()}, 1, logger)
	t.Cleanup(func() { _ = tr.Close() })

	out := &bytes.Buffer{}
	return &shell{tr: tr, out: out}, out
}

func TestShellSession(t *testing.T) {
	sh, out := newTestShell(t)
	target := filepath.Join(t.TempDir(), "take.wav")

	script := strings.Join([]string{
		"state",
		"play",
		"record 0 0.1",
		"record",
		"stop",
		"play",
		"pause",
		"stop",
		"export " + target,
		"discard",
		"bogus",
		"exit",
		"state",
	}, "\n")
	require.NoError(t, sh.run(context.Background(), strings.NewReader(script)))

	got := out.String()
	assert.Contains(t, got, "stopped")
	assert.Contains(t, got, "no recording available")
	assert.Contains(t, got, "recording\n")
	assert.Contains(t, got, "invalid transport transition")
	assert.Contains(t, got, "playing\n")
	assert.Contains(t, got, "paused\n")
	assert.Contains(t, got, "exported to "+target)
	assert.Contains(t, got, "recordings discarded")
	assert.Contains(t, got, `unknown command "bogus"`)
	assert.FileExists(t, target)
}

func TestShellDevices(t *testing.T) {
	sh, out := newTestShell(t)

	assert.False(t, sh.exec("devices playback"))
	assert.Contains(t, out.String(), "Null Output")
	assert.NotContains(t, out.String(), "Null Capture")

	out.Reset()
	sh.exec("input monitor of null")
	assert.Contains(t, out.String(), "using Monitor of Null Output")
	in := sh.tr.Controller().ActiveInputDevice()
	defer in.Release()
	assert.Equal(t, "Monitor of Null Output", in.Name)

	out.Reset()
	sh.exec("output nothing-like-this")
	assert.Contains(t, out.String(), "error:")

	out.Reset()
	sh.exec("devices sideways")
	assert.Contains(t, out.String(), "unknown device type")
}
