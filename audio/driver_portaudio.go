package audio

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"
)

// portAudioDriver 基于 PortAudio 阻塞流的驱动，设备以数字索引标识
type portAudioDriver struct {
	logger *slog.Logger
	once   sync.Once
}

func newPortAudioDriver(logger *slog.Logger) (*portAudioDriver, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	logger.Debug("PortAudio initialized", "version", portaudio.VersionText())
	return &portAudioDriver{logger: logger}, nil
}

func (p *portAudioDriver) Name() string { return "portaudio" }

func (p *portAudioDriver) Devices(mask DeviceType) ([]*Device, error) {
	infos, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}

	defIn, _ := portaudio.DefaultInputDevice()
	defOut, _ := portaudio.DefaultOutputDevice()

	devices := make([]*Device, 0, len(infos))
	for _, info := range infos {
		var t DeviceType
		if info.MaxInputChannels > 0 {
			t |= Record
			if isLoopbackName(info.Name) {
				t = Loopback
			}
		}
		if info.MaxOutputChannels > 0 {
			t |= Playback
		}
		if !t.Intersects(mask) {
			continue
		}
		d := NewDevice(IndexID(info.Index), info.Name, t, nil)
		d.Default = sameDevice(info, defIn) || sameDevice(info, defOut)
		devices = append(devices, d)
	}
	return devices, nil
}

func sameDevice(a, b *portaudio.DeviceInfo) bool {
	return a != nil && b != nil && a.Index == b.Index
}

func (p *portAudioDriver) info(d *Device) (*portaudio.DeviceInfo, error) {
	idx, ok := d.ID.Index()
	if !ok {
		return nil, fmt.Errorf("%w: %s is not an index device id", ErrDeviceNotFound, d.ID)
	}
	infos, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}
	for _, info := range infos {
		if info.Index == idx {
			return info, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, d)
}

func (p *portAudioDriver) DeviceFormat(d *Device) (Format, error) {
	info, err := p.info(d)
	if err != nil {
		return Format{}, err
	}
	channels := info.MaxInputChannels
	if d.CanPlay() && !d.CanCapture() {
		channels = info.MaxOutputChannels
	}
	return Format{SampleRate: int(info.DefaultSampleRate), Channels: channels}, nil
}

func (p *portAudioDriver) OpenCapture(d *Device, f Format, periodFrames int) (CaptureStream, error) {
	info, err := p.info(d)
	if err != nil {
		return nil, err
	}

	params := portaudio.LowLatencyParameters(info, nil)
	params.Input.Channels = f.Channels
	params.SampleRate = float64(f.SampleRate)
	params.FramesPerBuffer = periodFrames

	s := &paCapture{buf: make([]float32, periodFrames*f.Channels)}
	stream, err := portaudio.OpenStream(params, s.buf)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture stream on %s: %w", d.Name, err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("failed to start capture stream on %s: %w", d.Name, err)
	}
	s.stream = stream
	return s, nil
}

func (p *portAudioDriver) OpenPlayback(d *Device, f Format, periodFrames int) (PlaybackStream, error) {
	info, err := p.info(d)
	if err != nil {
		return nil, err
	}

	params := portaudio.LowLatencyParameters(nil, info)
	params.Output.Channels = f.Channels
	params.SampleRate = float64(f.SampleRate)
	params.FramesPerBuffer = periodFrames

	s := &paPlayback{buf: make([]float32, periodFrames*f.Channels)}
	stream, err := portaudio.OpenStream(params, s.buf)
	if err != nil {
		return nil, fmt.Errorf("failed to open playback stream on %s: %w", d.Name, err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("failed to start playback stream on %s: %w", d.Name, err)
	}
	s.stream = stream
	return s, nil
}

func (p *portAudioDriver) Close() error {
	var err error
	p.once.Do(func() {
		if terr := portaudio.Terminate(); terr != nil {
			err = fmt.Errorf("failed to terminate PortAudio: %w", terr)
		}
	})
	return err
}

type paCapture struct {
	stream  *portaudio.Stream
	buf     []float32
	pending []float32
	aborted atomic.Bool
}

func (s *paCapture) Read(dst []float32) (int, error) {
	if len(s.pending) == 0 {
		if s.aborted.Load() {
			return 0, ErrStreamAborted
		}
		// 溢出只意味着丢了一些样本，数据仍然可用
		if err := s.stream.Read(); err != nil && !errors.Is(err, portaudio.InputOverflowed) {
			if s.aborted.Load() {
				return 0, ErrStreamAborted
			}
			return 0, fmt.Errorf("failed to read capture stream: %w", err)
		}
		s.pending = s.buf
	}
	n := copy(dst, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

func (s *paCapture) Abort() {
	if s.aborted.CompareAndSwap(false, true) {
		_ = s.stream.Abort()
	}
}

func (s *paCapture) Close() error {
	if !s.aborted.Load() {
		_ = s.stream.Stop()
	}
	if err := s.stream.Close(); err != nil {
		return fmt.Errorf("failed to close capture stream: %w", err)
	}
	return nil
}

type paPlayback struct {
	stream  *portaudio.Stream
	buf     []float32
	aborted atomic.Bool
}

func (s *paPlayback) Write(src []float32) error {
	if s.aborted.Load() {
		return ErrStreamAborted
	}
	n := copy(s.buf, src)
	clear(s.buf[n:])
	if err := s.stream.Write(); err != nil && !errors.Is(err, portaudio.OutputUnderflowed) {
		if s.aborted.Load() {
			return ErrStreamAborted
		}
		return fmt.Errorf("failed to write playback stream: %w", err)
	}
	return nil
}

func (s *paPlayback) Abort() {
	if s.aborted.CompareAndSwap(false, true) {
		_ = s.stream.Abort()
	}
}

func (s *paPlayback) Close() error {
	if !s.aborted.Load() {
		_ = s.stream.Stop()
	}
	if err := s.stream.Close(); err != nil {
		return fmt.Errorf("failed to close playback stream: %w", err)
	}
	return nil
}
