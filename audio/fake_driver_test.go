package audio

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

var testFormat = Format{SampleRate: 48000, Channels: 2}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeDriver 可编排的驱动：记录事件顺序，测试通过 feed 推送采集数据
type fakeDriver struct {
	mu      sync.Mutex
	events  []string
	devices []fakeDevice
	formats map[string]Format

	failOpen map[string]bool
	stuck    map[string]bool

	feed    chan []float32
	written chan []float32
	// blocked 在卡死的 Read 开始阻塞时收到设备 ID
	blocked chan string
	closed  bool
}

type fakeDevice struct {
	id      string
	name    string
	t       DeviceType
	def     bool
	release func()
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		devices: []fakeDevice{
			{id: "mic", name: "Built-in Mic", t: Record, def: true},
			{id: "mon", name: "Monitor of Speakers", t: Loopback},
			{id: "spk", name: "Speakers", t: Playback, def: true},
			{id: "hdmi", name: "HDMI Output", t: Playback},
		},
		formats:  map[string]Format{},
		failOpen: map[string]bool{},
		stuck:    map[string]bool{},
		feed:     make(chan []float32, 16),
		written:  make(chan []float32, 64),
		blocked:  make(chan string, 4),
	}
}

func (f *fakeDriver) setFailOpen(id string, fail bool) {
	f.mu.Lock()
	f.failOpen[id] = fail
	f.mu.Unlock()
}

func (f *fakeDriver) record(format string, args ...any) {
	f.mu.Lock()
	f.events = append(f.events, fmt.Sprintf(format, args...))
	f.mu.Unlock()
}

func (f *fakeDriver) Events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

func (f *fakeDriver) ResetEvents() {
	f.mu.Lock()
	f.events = nil
	f.mu.Unlock()
}

func (f *fakeDriver) device(id string) *Device {
	for _, fd := range f.devices {
		if fd.id == id {
			d := NewDevice(NativeID(fd.id), fd.name, fd.t, fd.release)
			d.Default = fd.def
			return d
		}
	}
	return nil
}

func (f *fakeDriver) Name() string { return "fake" }

func (f *fakeDriver) Devices(DeviceType) ([]*Device, error) {
	out := make([]*Device, 0, len(f.devices))
	for _, fd := range f.devices {
		out = append(out, f.device(fd.id))
	}
	return out, nil
}

func (f *fakeDriver) DeviceFormat(d *Device) (Format, error) {
	id, _ := d.ID.Native()
	f.mu.Lock()
	defer f.mu.Unlock()
	if fm, ok := f.formats[id]; ok {
		return fm, nil
	}
	return testFormat, nil
}

func (f *fakeDriver) OpenCapture(d *Device, _ Format, _ int) (CaptureStream, error) {
	id, _ := d.ID.Native()
	f.mu.Lock()
	fail, stuck := f.failOpen[id], f.stuck[id]
	f.mu.Unlock()
	if fail {
		f.record("open-capture-failed:%s", id)
		return nil, errors.New("device busy")
	}
	f.record("open-capture:%s", id)
	return &fakeCapture{driver: f, id: id, stuck: stuck, abort: make(chan struct{})}, nil
}

func (f *fakeDriver) OpenPlayback(d *Device, _ Format, _ int) (PlaybackStream, error) {
	id, _ := d.ID.Native()
	f.mu.Lock()
	fail := f.failOpen[id]
	f.mu.Unlock()
	if fail {
		f.record("open-playback-failed:%s", id)
		return nil, errors.New("device busy")
	}
	f.record("open-playback:%s", id)
	return &fakePlayback{driver: f, id: id, abort: make(chan struct{})}, nil
}

func (f *fakeDriver) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	f.record("driver-close")
	return nil
}

type fakeCapture struct {
	driver *fakeDriver
	id     string
	stuck  bool

	once  sync.Once
	abort chan struct{}
}

func (s *fakeCapture) Read(dst []float32) (int, error) {
	if s.stuck {
		select {
		case s.driver.blocked <- s.id:
		default:
		}
		<-s.abort
		return 0, ErrStreamAborted
	}
	select {
	case p := <-s.driver.feed:
		return copy(dst, p), nil
	case <-s.abort:
		return 0, ErrStreamAborted
	case <-time.After(2 * time.Millisecond):
		return 0, nil
	}
}

func (s *fakeCapture) Abort() {
	s.once.Do(func() {
		s.driver.record("abort-capture:%s", s.id)
		close(s.abort)
	})
}

func (s *fakeCapture) Close() error {
	s.driver.record("close-capture:%s", s.id)
	return nil
}

type fakePlayback struct {
	driver *fakeDriver
	id     string

	once  sync.Once
	abort chan struct{}
}

func (s *fakePlayback) Write(src []float32) error {
	period := append([]float32(nil), src...)
	select {
	case s.driver.written <- period:
	default:
	}
	select {
	case <-s.abort:
		return ErrStreamAborted
	case <-time.After(2 * time.Millisecond):
		return nil
	}
}

func (s *fakePlayback) Abort() {
	s.once.Do(func() { close(s.abort) })
}

func (s *fakePlayback) Close() error {
	s.driver.record("close-playback:%s", s.id)
	return nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.SampleRate = testFormat.SampleRate
	cfg.Channels = testFormat.Channels
	cfg.PeriodFrames = 4
	cfg.JoinTimeout = 50 * time.Millisecond
	return cfg
}

func newTestBackend(f *fakeDriver) *backend {
	return newTestBackendWithMetrics(f, nil)
}

func newTestBackendWithMetrics(f *fakeDriver, metrics *Metrics) *backend {
	return newBackend(f, testConfig(), discardLogger(), metrics)
}
