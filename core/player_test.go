package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlayerQueuesWholeFile(t *testing.T) {
	ctrl := newNullController(t)
	p := NewPlayer(ctrl, discardLogger())
	path := writeTestWAV(t, t.TempDir(), "take.wav", 8000, 1, 1600, 0)

	require.NoError(t, p.Start(path))
	assert.True(t, p.Running())
	assert.ErrorIs(t, p.Start(path), ErrPlayerRunning)

	require.Eventually(t, p.Finished, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, p.Stop())
	assert.False(t, p.Running())
	assert.False(t, p.Finished())
	assert.Zero(t, ctrl.PlaybackBuffer().ReadAvailable())
	assert.NoError(t, p.Stop())
}

func TestPlayerRejectsFormatMismatch(t *testing.T) {
	ctrl := newNullController(t)
	p := NewPlayer(ctrl, discardLogger())
	path := writeTestWAV(t, t.TempDir(), "cd.wav", 44100, 2, 100, 0)

	assert.ErrorIs(t, p.Start(path), ErrFormatMismatch)
	assert.False(t, p.Running())
}

func TestPlayerMissingFile(t *testing.T) {
	ctrl := newNullController(t)
	p := NewPlayer(ctrl, discardLogger())

	assert.Error(t, p.Start("/nonexistent/take.wav"))
	assert.False(t, p.Running())
}
