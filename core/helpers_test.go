package core

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/lisuiheng/hulaloop-go/audio"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newNullController 8kHz 单声道的空驱动管线，每个周期 10ms
func newNullController(t *testing.T) *audio.Controller {
	t.Helper()
	cfg := audio.DefaultConfig()
	cfg.Backend = audio.BackendNull
	cfg.SampleRate = 8000
	cfg.Channels = 1
	cfg.PeriodFrames = 80
	cfg.InputDevice = "Null Capture"
	cfg.JoinTimeout = 200 * time.Millisecond

	ctrl, err := audio.NewController(cfg, discardLogger(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctrl.Close() })
	return ctrl
}

func newTestTransport(t *testing.T) *Transport {
	t.Helper()
	ctrl := newNullController(t)
	cfg := TransportConfig{SettleDelay: time.Millisecond, TempDir: t.TempDir()}
	tr := NewTransportWithController(ctrl, cfg, 1, discardLogger())
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

// writeTestWAV 写出 n 个 16 位样本，值依次递增
func writeTestWAV(t *testing.T, dir, name string, rate, channels, n, start int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)

	enc := wav.NewEncoder(f, rate, bitDepth, channels, pcmFormat)
	data := make([]int, n)
	for i := range data {
		data[i] = start + i
	}
	require.NoError(t, enc.Write(&goaudio.IntBuffer{
		Data:           data,
		Format:         &goaudio.Format{SampleRate: rate, NumChannels: channels},
		SourceBitDepth: bitDepth,
	}))
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())
	return path
}

// readTestWAV 读出文件的格式和全部样本
func readTestWAV(t *testing.T, path string) (*goaudio.IntBuffer, *wav.Decoder) {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	dec := wav.NewDecoder(f)
	require.True(t, dec.IsValidFile(), "invalid WAV %s", path)
	buf, err := dec.FullPCMBuffer()
	require.NoError(t, err)
	return buf, dec
}
