package audio

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestController(t *testing.T, f *fakeDriver) *Controller {
	t.Helper()
	metrics, err := NewMetrics(nil)
	require.NoError(t, err)
	c := NewControllerWithBackend(newTestBackendWithMetrics(f, metrics), testConfig(), discardLogger(), metrics)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestControllerFindDevice(t *testing.T) {
	c := newTestController(t, newFakeDriver())

	d, err := c.FindDevice("Speakers", Playback)
	require.NoError(t, err)
	assert.Equal(t, "spk", d.ID.String())
	d.Release()

	d, err = c.FindDevice("monitor", Record|Loopback)
	require.NoError(t, err)
	assert.Equal(t, "Monitor of Speakers", d.Name)
	d.Release()

	d, err = c.FindDevice("hdmi", Playback)
	require.NoError(t, err)
	assert.Equal(t, "HDMI Output", d.Name)
	d.Release()

	_, err = c.FindDevice("Speakers", Record)
	assert.ErrorIs(t, err, ErrDeviceNotFound)
}

func TestControllerDeviceListsByRole(t *testing.T) {
	c := newTestController(t, newFakeDriver())

	in := c.InputDevices()
	out := c.OutputDevices()
	defer ReleaseDevices(in)
	defer ReleaseDevices(out)

	assert.Len(t, in, 2)
	assert.Len(t, out, 2)
	for _, d := range in {
		assert.True(t, d.CanCapture())
	}
	for _, d := range out {
		assert.True(t, d.CanPlay())
	}
}

func TestControllerSetActiveDeviceErrors(t *testing.T) {
	f := newFakeDriver()
	f.formats["mon"] = Format{SampleRate: 44100, Channels: 2}
	f.failOpen["hdmi"] = true
	c := newTestController(t, f)

	assert.ErrorIs(t, c.SetActiveInputDevice(nil), ErrNilDevice)
	assert.ErrorIs(t, c.SetActiveInputDevice(f.device("spk")), ErrDeviceRole)
	assert.ErrorIs(t, c.SetActiveOutputDevice(f.device("mic")), ErrDeviceRole)
	assert.ErrorIs(t, c.SetActiveInputDevice(f.device("mon")), ErrDeviceParams)
	assert.NoError(t, c.SetActiveInputDevice(f.device("mic")))

	require.NoError(t, c.StartPlayback())
	err := c.SetActiveOutputDevice(f.device("hdmi"))
	assert.True(t, errors.Is(err, ErrDeviceActivation))

	out := c.ActiveOutputDevice()
	assert.Equal(t, "Speakers", out.Name)
	out.Release()
	c.EndPlayback()
}

func TestControllerBufferRegistration(t *testing.T) {
	f := newFakeDriver()
	c := newTestController(t, f)
	require.NoError(t, c.SetActiveInputDevice(f.device("mic")))

	rb := c.CreateAndAddBuffer(1, "recorder")
	assert.Equal(t, "recorder", rb.Name())
	assert.Equal(t, StateCapturing, c.State())
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Metrics().activeBuffers))

	c.AddBuffer(rb)
	assert.Equal(t, []string{"open-capture:mic"}, f.Events())

	f.feed <- seq(0, 8)
	require.Eventually(t, func() bool { return rb.ReadAvailable() == 8 }, waitFor, time.Millisecond)

	c.RemoveBuffer(rb)
	c.RemoveBuffer(rb)
	assert.Equal(t, StateIdle, c.State())
	assert.Equal(t, 0.0, testutil.ToFloat64(c.Metrics().activeBuffers))
}

func TestControllerCountsOverruns(t *testing.T) {
	c := newTestController(t, newFakeDriver())

	rb := c.CreateAndAddBuffer(0, "tiny")
	require.Equal(t, 1, rb.Cap())
	rb.Write([]float32{1, 2, 3})

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(c.Metrics().overruns.WithLabelValues("tiny")) == 1
	}, waitFor, time.Millisecond)
	c.RemoveBuffer(rb)
}

func TestControllerWithNullBackend(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend = BackendNull
	cfg.SampleRate = 8000
	cfg.Channels = 1
	cfg.PeriodFrames = 80

	c, err := NewController(cfg, discardLogger(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	in := c.ActiveInputDevice()
	require.NotNil(t, in)
	assert.Equal(t, Loopback, in.Type)
	in.Release()

	capture, err := c.FindDevice("Null Capture", Record)
	require.NoError(t, err)
	require.NoError(t, c.SetActiveInputDevice(capture))
	capture.Release()

	rb := c.CreateAndAddBuffer(1, "null")
	require.Eventually(t, func() bool { return rb.ReadAvailable() >= 160 }, waitFor, 5*time.Millisecond)

	block := make([]float32, 160)
	rb.Read(block)
	var energy float32
	for _, v := range block {
		energy += v * v
	}
	assert.Greater(t, energy, float32(0))
	c.RemoveBuffer(rb)
}

func TestControllerUnsupportedBackend(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend = "jack"
	_, err := NewController(cfg, discardLogger(), nil)
	assert.ErrorIs(t, err, ErrUnsupportedBackend)
}

func TestControllerInvalidFormatIsFatal(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend = BackendNull
	cfg.Channels = -1
	_, err := NewController(cfg, discardLogger(), nil)
	assert.ErrorIs(t, err, ErrBackendInit)
}

func TestControllerCloseIsIdempotent(t *testing.T) {
	f := newFakeDriver()
	c := newTestController(t, f)
	require.NoError(t, c.SetActiveInputDevice(f.device("mic")))
	c.CreateAndAddBuffer(1, "a")

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.Equal(t, StateIdle, c.State())
}
