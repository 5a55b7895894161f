package audio

import (
	"fmt"
	"math"
	"sync"
	"time"
)

const (
	nullCaptureID  = "null:capture"
	nullMonitorID  = "null:monitor"
	nullPlaybackID = "null:output"

	nullToneHz = 440.0
)

// nullDriver 不依赖任何硬件的驱动：采集端按实时节奏生成正弦波，播放端丢弃数据
type nullDriver struct {
	format Format
	tone   float64
}

func newNullDriver(format Format) *nullDriver {
	return &nullDriver{format: format, tone: nullToneHz}
}

func (n *nullDriver) Name() string { return "null" }

func (n *nullDriver) Devices(mask DeviceType) ([]*Device, error) {
	capture := NewDevice(NativeID(nullCaptureID), "Null Capture", Record, nil)
	capture.Default = true
	monitor := NewDevice(NativeID(nullMonitorID), "Monitor of Null Output", Loopback, nil)
	output := NewDevice(NativeID(nullPlaybackID), "Null Output", Playback, nil)
	output.Default = true

	return filterDevices([]*Device{capture, monitor, output}, mask), nil
}

func (n *nullDriver) DeviceFormat(d *Device) (Format, error) {
	id, ok := d.ID.Native()
	if !ok {
		return Format{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, d.ID)
	}
	switch id {
	case nullCaptureID, nullMonitorID, nullPlaybackID:
		return n.format, nil
	default:
		return Format{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
}

func (n *nullDriver) OpenCapture(d *Device, f Format, periodFrames int) (CaptureStream, error) {
	if _, err := n.DeviceFormat(d); err != nil {
		return nil, err
	}
	tone := n.tone
	// 监听源只输出静音
	if id, _ := d.ID.Native(); id == nullMonitorID {
		tone = 0
	}
	return &nullCapture{
		format: f,
		frames: periodFrames,
		tone:   tone,
		ticker: time.NewTicker(f.Duration(periodFrames * f.Channels)),
		abort:  make(chan struct{}),
	}, nil
}

func (n *nullDriver) OpenPlayback(d *Device, f Format, periodFrames int) (PlaybackStream, error) {
	if _, err := n.DeviceFormat(d); err != nil {
		return nil, err
	}
	return &nullPlayback{
		ticker: time.NewTicker(f.Duration(periodFrames * f.Channels)),
		abort:  make(chan struct{}),
	}, nil
}

func (n *nullDriver) Close() error { return nil }

type nullCapture struct {
	format Format
	frames int
	tone   float64
	phase  float64
	ticker *time.Ticker

	abortOnce sync.Once
	abort     chan struct{}
}

func (s *nullCapture) Read(dst []float32) (int, error) {
	select {
	case <-s.ticker.C:
	case <-s.abort:
		return 0, ErrStreamAborted
	}

	frames := min(s.frames, len(dst)/s.format.Channels)
	step := 2 * math.Pi * s.tone / float64(s.format.SampleRate)
	for i := 0; i < frames; i++ {
		v := float32(0.25 * math.Sin(s.phase))
		for c := 0; c < s.format.Channels; c++ {
			dst[i*s.format.Channels+c] = v
		}
		s.phase = math.Mod(s.phase+step, 2*math.Pi)
	}
	return frames * s.format.Channels, nil
}

func (s *nullCapture) Abort() {
	s.abortOnce.Do(func() { close(s.abort) })
}

func (s *nullCapture) Close() error {
	s.Abort()
	s.ticker.Stop()
	return nil
}

type nullPlayback struct {
	ticker    *time.Ticker
	abortOnce sync.Once
	abort     chan struct{}
}

func (s *nullPlayback) Write([]float32) error {
	select {
	case <-s.ticker.C:
		return nil
	case <-s.abort:
		return ErrStreamAborted
	}
}

func (s *nullPlayback) Abort() {
	s.abortOnce.Do(func() { close(s.abort) })
}

func (s *nullPlayback) Close() error {
	s.Abort()
	s.ticker.Stop()
	return nil
}
