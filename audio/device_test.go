package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeviceTypeMask(t *testing.T) {
	assert.True(t, (Record | Loopback).Intersects(Loopback))
	assert.False(t, Playback.Intersects(Record|Loopback))
	assert.True(t, AllDevices.Has(Record|Playback))
	assert.False(t, Record.Has(0))
	assert.Equal(t, "record|loopback", (Record | Loopback).String())
	assert.Equal(t, "none", DeviceType(0).String())
}

func TestParseDeviceType(t *testing.T) {
	tests := []struct {
		in      string
		want    DeviceType
		wantErr bool
	}{
		{"record", Record, false},
		{"input|loopback", Record | Loopback, false},
		{"Playback, loopback", Playback | Loopback, false},
		{"all", AllDevices, false},
		{"", 0, true},
		{"speaker", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDeviceType(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDeviceIDVariants(t *testing.T) {
	native := NativeID("hw:1,0")
	s, ok := native.Native()
	assert.True(t, ok)
	assert.Equal(t, "hw:1,0", s)
	_, ok = native.Index()
	assert.False(t, ok)
	assert.Equal(t, "hw:1,0", native.String())

	idx := IndexID(3)
	i, ok := idx.Index()
	assert.True(t, ok)
	assert.Equal(t, 3, i)
	assert.Equal(t, "#3", idx.String())

	assert.True(t, DeviceID{}.IsZero())
	assert.NotEqual(t, NativeID("3"), IndexID(3))
}

func TestDeviceRoles(t *testing.T) {
	mic := NewDevice(NativeID("mic"), "Mic", Record, nil)
	mon := NewDevice(NativeID("mon"), "Monitor", Loopback, nil)
	spk := NewDevice(NativeID("spk"), "Speakers", Playback|Loopback, nil)

	assert.True(t, mic.CanCapture())
	assert.False(t, mic.CanPlay())
	assert.True(t, mon.CanCapture())
	assert.True(t, spk.CanCapture())
	assert.True(t, spk.CanPlay())

	var none *Device
	assert.False(t, none.CanCapture())
	assert.False(t, none.CanPlay())
}

func TestDeviceReleaseIsIdempotent(t *testing.T) {
	calls := 0
	d := NewDevice(NativeID("x"), "X", Record, func() { calls++ })

	c := d.Clone()
	c.Release()
	assert.Equal(t, 0, calls)
	assert.True(t, c.Released())

	d.Release()
	d.Release()
	assert.Equal(t, 1, calls)
	assert.True(t, d.Released())

	var none *Device
	none.Release()
	assert.Nil(t, none.Clone())
}

func TestFilterDevicesReleasesRejected(t *testing.T) {
	released := map[string]bool{}
	mk := func(id string, dt DeviceType) *Device {
		return NewDevice(NativeID(id), id, dt, func() { released[id] = true })
	}
	devices := []*Device{mk("mic", Record), mk("spk", Playback), mk("mon", Loopback)}

	got := filterDevices(devices, Record|Loopback)
	require.Len(t, got, 2)
	assert.Equal(t, "mic", got[0].Name)
	assert.Equal(t, "mon", got[1].Name)
	assert.Equal(t, map[string]bool{"spk": true}, released)
}

func TestIsLoopbackName(t *testing.T) {
	assert.True(t, isLoopbackName("Monitor of Built-in Audio Analog Stereo"))
	assert.True(t, isLoopbackName("BlackHole 2ch"))
	assert.True(t, isLoopbackName("Stereo Mix (Realtek Audio)"))
	assert.False(t, isLoopbackName("USB Microphone"))
}
