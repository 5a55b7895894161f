package audio

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/gen2brain/malgo"
)

const malgoPeriodQueue = 8

// malgoDriver 基于 miniaudio 的驱动，具体原生 API 由构建标签选择
type malgoDriver struct {
	ctx    *malgo.AllocatedContext
	logger *slog.Logger

	mu      sync.Mutex
	capIDs  map[string]malgo.DeviceID
	playIDs map[string]malgo.DeviceID
}

func newMalgoDriver(logger *slog.Logger) (*malgoDriver, error) {
	ctx, err := malgo.InitContext([]malgo.Backend{platformBackend()}, malgo.ContextConfig{}, func(message string) {
		logger.Debug("malgo", "message", message)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio context: %w", err)
	}
	return &malgoDriver{
		ctx:     ctx,
		logger:  logger,
		capIDs:  make(map[string]malgo.DeviceID),
		playIDs: make(map[string]malgo.DeviceID),
	}, nil
}

func (m *malgoDriver) Name() string { return platformName }

func (m *malgoDriver) Devices(mask DeviceType) ([]*Device, error) {
	var devices []*Device

	if mask.Intersects(Record | Loopback) {
		infos, err := m.ctx.Devices(malgo.Capture)
		if err != nil {
			return nil, fmt.Errorf("failed to enumerate capture devices: %w", err)
		}
		devices = append(devices, m.collect(infos, malgo.Capture, m.capIDs)...)
	}

	if mask.Intersects(Playback | Loopback) {
		infos, err := m.ctx.Devices(malgo.Playback)
		if err != nil {
			ReleaseDevices(devices)
			return nil, fmt.Errorf("failed to enumerate playback devices: %w", err)
		}
		devices = append(devices, m.collect(infos, malgo.Playback, m.playIDs)...)
	}

	return devices, nil
}

func (m *malgoDriver) collect(infos []malgo.DeviceInfo, kind malgo.DeviceType, ids map[string]malgo.DeviceID) []*Device {
	m.mu.Lock()
	defer m.mu.Unlock()

	devices := make([]*Device, 0, len(infos))
	for i := range infos {
		name := infos[i].Name()
		// ALSA 的 null 设备
		if name == "" || name == "Discard all samples (playback) or generate zero samples (capture)" {
			continue
		}
		native := infos[i].ID.String()
		ids[native] = infos[i].ID

		d := NewDevice(NativeID(native), name, classifyDevice(name, kind), nil)
		d.Default = infos[i].IsDefault != 0
		devices = append(devices, d)
	}
	return devices
}

// lookup 找到设备对应的 malgo 标识，playback 为 true 时在播放端点中查找
func (m *malgoDriver) lookup(d *Device, playback bool) (malgo.DeviceID, error) {
	native, ok := d.ID.Native()
	if !ok {
		return malgo.DeviceID{}, fmt.Errorf("%w: %s is not a native device id", ErrDeviceNotFound, d.ID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ids := m.capIDs
	if playback {
		ids = m.playIDs
	}
	id, ok := ids[native]
	if !ok {
		return malgo.DeviceID{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, d.Name)
	}
	return id, nil
}

// captureConfig 构建采集配置；渲染端点走原生环回模式
func (m *malgoDriver) captureConfig(d *Device) (malgo.DeviceConfig, error) {
	if renderLoopback && d.Type.Has(Playback) {
		id, err := m.lookup(d, true)
		if err != nil {
			return malgo.DeviceConfig{}, err
		}
		cfg := malgo.DefaultDeviceConfig(malgo.Loopback)
		cfg.Capture.DeviceID = id.Pointer()
		return cfg, nil
	}

	id, err := m.lookup(d, false)
	if err != nil {
		return malgo.DeviceConfig{}, err
	}
	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.DeviceID = id.Pointer()
	return cfg, nil
}

func (m *malgoDriver) DeviceFormat(d *Device) (Format, error) {
	var (
		cfg      malgo.DeviceConfig
		err      error
		playback = d.CanPlay() && !d.CanCapture()
	)
	if playback {
		var id malgo.DeviceID
		if id, err = m.lookup(d, true); err == nil {
			cfg = malgo.DefaultDeviceConfig(malgo.Playback)
			cfg.Playback.DeviceID = id.Pointer()
		}
	} else {
		cfg, err = m.captureConfig(d)
	}
	if err != nil {
		return Format{}, err
	}

	// 采样率和声道为 0 时 miniaudio 使用设备原生格式
	cfg.Capture.Format = malgo.FormatF32
	cfg.Playback.Format = malgo.FormatF32

	dev, err := malgo.InitDevice(m.ctx.Context, cfg, malgo.DeviceCallbacks{})
	if err != nil {
		return Format{}, fmt.Errorf("failed to probe device %s: %w", d.Name, err)
	}
	defer dev.Uninit()

	channels := dev.CaptureChannels()
	if playback {
		channels = dev.PlaybackChannels()
	}
	return Format{SampleRate: int(dev.SampleRate()), Channels: int(channels)}, nil
}

func (m *malgoDriver) OpenCapture(d *Device, f Format, periodFrames int) (CaptureStream, error) {
	cfg, err := m.captureConfig(d)
	if err != nil {
		return nil, err
	}
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = uint32(f.Channels)
	cfg.SampleRate = uint32(f.SampleRate)
	cfg.PeriodSizeInFrames = uint32(periodFrames)
	cfg.Alsa.NoMMap = 1

	s := &malgoCapture{
		periods: make(chan []float32, malgoPeriodQueue),
		abort:   make(chan struct{}),
		stopped: make(chan struct{}),
		logger:  m.logger,
	}

	dev, err := malgo.InitDevice(m.ctx.Context, cfg, malgo.DeviceCallbacks{
		Data: s.onData,
		Stop: s.onStop,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize capture device %s: %w", d.Name, err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return nil, fmt.Errorf("failed to start capture device %s: %w", d.Name, err)
	}
	s.dev = dev
	return s, nil
}

func (m *malgoDriver) OpenPlayback(d *Device, f Format, periodFrames int) (PlaybackStream, error) {
	id, err := m.lookup(d, true)
	if err != nil {
		return nil, err
	}
	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.DeviceID = id.Pointer()
	cfg.Playback.Format = malgo.FormatF32
	cfg.Playback.Channels = uint32(f.Channels)
	cfg.SampleRate = uint32(f.SampleRate)
	cfg.PeriodSizeInFrames = uint32(periodFrames)
	cfg.Alsa.NoMMap = 1

	s := &malgoPlayback{
		periods: make(chan []float32, 2),
		abort:   make(chan struct{}),
		stopped: make(chan struct{}),
	}

	dev, err := malgo.InitDevice(m.ctx.Context, cfg, malgo.DeviceCallbacks{
		Data: s.onData,
		Stop: s.onStop,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize playback device %s: %w", d.Name, err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return nil, fmt.Errorf("failed to start playback device %s: %w", d.Name, err)
	}
	s.dev = dev
	return s, nil
}

func (m *malgoDriver) Close() error {
	if m.ctx == nil {
		return nil
	}
	err := m.ctx.Uninit()
	m.ctx.Free()
	m.ctx = nil
	if err != nil {
		return fmt.Errorf("failed to uninit audio context: %w", err)
	}
	return nil
}

// malgoCapture 把回调线程交付的周期转给阻塞式 Read
type malgoCapture struct {
	dev     *malgo.Device
	periods chan []float32
	pending []float32
	logger  *slog.Logger

	abortOnce sync.Once
	abort     chan struct{}
	stopOnce  sync.Once
	stopped   chan struct{}
}

func (s *malgoCapture) onData(_, input []byte, _ uint32) {
	samples := make([]float32, len(input)/4)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(input[i*4:]))
	}
	select {
	case s.periods <- samples:
	default:
		s.logger.Warn("Capture period queue full, dropping period", "samples", len(samples))
	}
}

func (s *malgoCapture) onStop() {
	s.stopOnce.Do(func() { close(s.stopped) })
}

func (s *malgoCapture) Read(dst []float32) (int, error) {
	if len(s.pending) == 0 {
		select {
		case p := <-s.periods:
			s.pending = p
		case <-s.abort:
			return 0, ErrStreamAborted
		case <-s.stopped:
			return 0, fmt.Errorf("capture device stopped")
		}
	}
	n := copy(dst, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

func (s *malgoCapture) Abort() {
	s.abortOnce.Do(func() { close(s.abort) })
}

func (s *malgoCapture) Close() error {
	s.Abort()
	if s.dev == nil {
		return nil
	}
	err := s.dev.Stop()
	s.dev.Uninit()
	s.dev = nil
	if err != nil {
		return fmt.Errorf("failed to stop capture device: %w", err)
	}
	return nil
}

// malgoPlayback 阻塞式 Write 把周期交给回调线程，回调数据不足时输出静音
type malgoPlayback struct {
	dev     *malgo.Device
	periods chan []float32
	pending []float32

	abortOnce sync.Once
	abort     chan struct{}
	stopOnce  sync.Once
	stopped   chan struct{}
}

func (s *malgoPlayback) onData(output, _ []byte, _ uint32) {
	off := 0
	for off+4 <= len(output) {
		if len(s.pending) == 0 {
			select {
			case p := <-s.periods:
				s.pending = p
			default:
				clear(output[off:])
				return
			}
		}
		binary.LittleEndian.PutUint32(output[off:], math.Float32bits(s.pending[0]))
		s.pending = s.pending[1:]
		off += 4
	}
}

func (s *malgoPlayback) onStop() {
	s.stopOnce.Do(func() { close(s.stopped) })
}

func (s *malgoPlayback) Write(src []float32) error {
	period := make([]float32, len(src))
	copy(period, src)
	select {
	case s.periods <- period:
		return nil
	case <-s.abort:
		return ErrStreamAborted
	case <-s.stopped:
		return fmt.Errorf("playback device stopped")
	}
}

func (s *malgoPlayback) Abort() {
	s.abortOnce.Do(func() { close(s.abort) })
}

func (s *malgoPlayback) Close() error {
	s.Abort()
	if s.dev == nil {
		return nil
	}
	err := s.dev.Stop()
	s.dev.Uninit()
	s.dev = nil
	if err != nil {
		return fmt.Errorf("failed to stop playback device: %w", err)
	}
	return nil
}
