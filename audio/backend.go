package audio

import (
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lisuiheng/hulaloop-go/utils"
	"go.uber.org/multierr"
)

const (
	workerCapture  = "capture"
	workerPlayback = "playback"
)

// backend 在 Driver 之上实现 Backend 的全部生命周期，各平台只需提供 Driver
type backend struct {
	driver  Driver
	cfg     Config
	format  Format
	logger  *slog.Logger
	metrics *Metrics

	// mu 串行化控制路径：设备槽位、工作协程的启停
	mu     sync.Mutex
	input  *Device
	output *Device
	closed bool

	// bufMu 保护缓冲区集合，扇出期间持有
	bufMu   sync.Mutex
	buffers []*RingBuffer

	playbackBuffer *RingBuffer

	// streamMu 保护工作协程正在使用的流，控制路径据此中止阻塞调用
	streamMu   sync.Mutex
	capStream  CaptureStream
	capDevice  *Device
	capStop    chan struct{}
	capDone    chan struct{}
	playStream PlaybackStream
	playStop   chan struct{}
	playDone   chan struct{}

	endCapture atomic.Bool
	endPlay    atomic.Bool
	capRunning atomic.Bool
}

var _ Backend = (*backend)(nil)

func newBackend(driver Driver, cfg Config, logger *slog.Logger, metrics *Metrics) *backend {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	format := cfg.Format()

	b := &backend{
		driver:  driver,
		cfg:     cfg,
		format:  format,
		logger:  logger.With("component", "backend", "driver", driver.Name()),
		metrics: metrics,
		playbackBuffer: NewRingBuffer(cfg.PlaybackBufferSeconds, format,
			WithName("playback")),
	}
	b.endCapture.Store(true)
	b.endPlay.Store(true)
	return b
}

func (b *backend) Name() string { return b.driver.Name() }

func (b *backend) Format() Format { return b.format }

func (b *backend) PlaybackBuffer() *RingBuffer { return b.playbackBuffer }

func (b *backend) Devices(mask DeviceType) []*Device {
	devices, err := b.driver.Devices(mask)
	if err != nil {
		b.logger.Error("Failed to enumerate devices", "mask", mask, "error", err)
		ReleaseDevices(devices)
		return []*Device{}
	}
	return filterDevices(devices, mask)
}

func (b *backend) ActiveInputDevice() *Device {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.input.Clone()
}

func (b *backend) ActiveOutputDevice() *Device {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.output.Clone()
}

func (b *backend) State() BackendState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.capDone != nil {
		return StateCapturing
	}
	return StateIdle
}

func (b *backend) CheckDeviceParams(d *Device) bool {
	if d == nil {
		return false
	}
	f, err := b.driver.DeviceFormat(d)
	if err != nil {
		b.logger.Error("Failed to query device format", "device", d.Name, "error", err)
		return false
	}
	if err := f.Validate(); err != nil {
		b.logger.Error("Device reported invalid format", "device", d.Name, "error", err)
		return false
	}
	if !b.cfg.StrictDeviceParams {
		return true
	}
	if f.SampleRate != b.format.SampleRate || f.Channels != b.format.Channels {
		b.logger.Warn("Device format does not match pipeline",
			"device", d.Name,
			"device_format", f.String(),
			"pipeline_format", b.format.String())
		return false
	}
	return true
}

func (b *backend) SetActiveInputDevice(d *Device) bool {
	if d == nil {
		b.logger.Warn("Rejected input device", "error", ErrNilDevice)
		return false
	}
	if !d.CanCapture() {
		b.logger.Warn("Rejected input device", "device", d.Name, "type", d.Type, "error", ErrDeviceRole)
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false
	}
	if !b.CheckDeviceParams(d) {
		return false
	}

	next := d.Clone()

	// 先停掉旧的工作协程并关闭旧流，再激活新设备
	b.stopCaptureLocked()

	if b.bufferCount() > 0 {
		if err := b.startCaptureLocked(next); err != nil {
			b.logger.Error("Failed to activate input device", "device", next.Name, "error", err)
			next.Release()
			if b.input != nil {
				if err := b.startCaptureLocked(b.input); err != nil {
					// 保持原设备和工作协程，由它按退避间隔重试打开
					b.logger.Error("Failed to restore previous input device, retrying in background",
						"device", b.input.Name, "error", err)
					b.launchCaptureLocked(b.input, nil)
				}
			}
			return false
		}
	}

	b.input.Release()
	b.input = next
	b.logger.Info("Active input device changed", "device", next.Name, "type", next.Type)
	return true
}

func (b *backend) SetActiveOutputDevice(d *Device) bool {
	if d == nil {
		b.logger.Warn("Rejected output device", "error", ErrNilDevice)
		return false
	}
	if !d.CanPlay() {
		b.logger.Warn("Rejected output device", "device", d.Name, "type", d.Type, "error", ErrDeviceRole)
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false
	}
	if !b.CheckDeviceParams(d) {
		return false
	}

	next := d.Clone()
	wasPlaying := b.playDone != nil
	b.stopPlaybackLocked()

	if wasPlaying {
		if err := b.startPlaybackLocked(next); err != nil {
			b.logger.Error("Failed to activate output device", "device", next.Name, "error", err)
			next.Release()
			if b.output != nil {
				if err := b.startPlaybackLocked(b.output); err != nil {
					b.logger.Error("Failed to restore previous output device", "device", b.output.Name, "error", err)
				}
			}
			return false
		}
	}

	b.output.Release()
	b.output = next
	b.logger.Info("Active output device changed", "device", next.Name)
	return true
}

func (b *backend) AddBuffer(rb *RingBuffer) {
	if rb == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	b.bufMu.Lock()
	if slices.Contains(b.buffers, rb) {
		b.bufMu.Unlock()
		return
	}
	b.buffers = append(b.buffers, rb)
	count := len(b.buffers)
	b.bufMu.Unlock()

	b.metrics.setActiveBuffers(count)
	b.logger.Debug("Buffer registered", "buffer", rb.Name(), "id", rb.ID(), "count", count)

	if b.input == nil || b.capDone != nil {
		return
	}
	if err := b.startCaptureLocked(b.input); err != nil {
		b.logger.Error("Failed to start capture", "device", b.input.Name, "error", err)
	}
}

func (b *backend) RemoveBuffer(rb *RingBuffer) {
	if rb == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.bufMu.Lock()
	i := slices.Index(b.buffers, rb)
	if i < 0 {
		b.bufMu.Unlock()
		return
	}
	b.buffers = slices.Delete(b.buffers, i, i+1)
	count := len(b.buffers)
	b.bufMu.Unlock()

	b.metrics.setActiveBuffers(count)
	b.logger.Debug("Buffer removed", "buffer", rb.Name(), "id", rb.ID(), "count", count)

	if count == 0 {
		b.stopCaptureLocked()
	}
}

func (b *backend) bufferCount() int {
	b.bufMu.Lock()
	defer b.bufMu.Unlock()
	return len(b.buffers)
}

// startCaptureLocked 打开 dev 上的采集流并启动工作协程，调用方持有 mu
func (b *backend) startCaptureLocked(dev *Device) error {
	stream, err := b.driver.OpenCapture(dev, b.format, b.cfg.PeriodFrames)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceActivation, err)
	}
	b.launchCaptureLocked(dev, stream)
	b.logger.Info("Capture started", "device", dev.Name, "format", b.format.String())
	return nil
}

// launchCaptureLocked 启动采集工作协程；stream 为 nil 时协程先重新打开 dev，调用方持有 mu
func (b *backend) launchCaptureLocked(dev *Device, stream CaptureStream) {
	done := make(chan struct{})
	b.endCapture.Store(false)

	b.streamMu.Lock()
	b.capStream = stream
	b.capDevice = dev
	b.capStop = make(chan struct{})
	b.capDone = done
	b.streamMu.Unlock()

	b.metrics.setRunning(workerCapture, true)
	go b.Capture()
}

// stopCaptureLocked 置停止标志，等待工作协程退出后才关闭流，调用方持有 mu
func (b *backend) stopCaptureLocked() {
	if b.capDone == nil {
		return
	}

	b.endCapture.Store(true)
	b.streamMu.Lock()
	close(b.capStop)
	b.streamMu.Unlock()

	b.join(workerCapture, b.capDone, func() {
		b.streamMu.Lock()
		defer b.streamMu.Unlock()
		if b.capStream != nil {
			b.capStream.Abort()
		}
	})

	b.streamMu.Lock()
	stream := b.capStream
	b.capStream = nil
	b.capDevice = nil
	b.capStop = nil
	b.streamMu.Unlock()

	if stream != nil {
		if err := stream.Close(); err != nil {
			b.logger.Error("Failed to close capture stream", "error", err)
		}
	}
	b.capDone = nil
	b.metrics.setRunning(workerCapture, false)
	b.logger.Info("Capture stopped")
}

// join 有界等待工作协程退出：超时后中止阻塞中的原生调用，再次超时则继续等待并记录错误。
// 在 done 关闭之前绝不返回。
func (b *backend) join(worker string, done <-chan struct{}, abort func()) {
	timer := time.NewTimer(b.cfg.JoinTimeout)
	defer timer.Stop()

	select {
	case <-done:
		return
	case <-timer.C:
	}

	b.logger.Warn("Worker did not stop in time, aborting stream", "worker", worker, "timeout", b.cfg.JoinTimeout)
	abort()

	timer.Reset(b.cfg.JoinTimeout)
	select {
	case <-done:
		return
	case <-timer.C:
	}

	b.logger.Error("Worker still running after abort, waiting for it to exit", "worker", worker)
	<-done
}

func (b *backend) Capture() {
	b.streamMu.Lock()
	stream, dev, stop, done := b.capStream, b.capDevice, b.capStop, b.capDone
	b.streamMu.Unlock()
	if done == nil {
		return
	}
	if !b.capRunning.CompareAndSwap(false, true) {
		return
	}
	defer close(done)
	defer b.capRunning.Store(false)

	// 原生驱动（COM、ALSA）要求同一线程上的调用
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	block := make([]float32, b.cfg.PeriodFrames*b.format.Channels)
	backoff := utils.NewExponentialBackoff(100*time.Millisecond, 5*time.Second)

	if stream == nil {
		if stream = b.reopenCapture(dev, stop, backoff); stream == nil {
			return
		}
	}

	for !b.endCapture.Load() {
		n, err := stream.Read(block)
		if err != nil {
			if b.endCapture.Load() {
				return
			}
			b.logger.Error("Capture read failed, reopening stream", "device", dev.Name, "error", err)
			if stream = b.reopenCapture(dev, stop, backoff); stream == nil {
				return
			}
			continue
		}
		backoff.Reset()
		if n > 0 {
			b.fanOut(block[:n])
		}
	}
}

// fanOut 在持有 bufMu 时把同一块数据依次写入每个已注册缓冲区
func (b *backend) fanOut(block []float32) {
	b.bufMu.Lock()
	for _, rb := range b.buffers {
		if written := rb.Write(block); written < len(block) {
			b.metrics.addDropped(rb.Name(), len(block)-written)
		}
	}
	b.bufMu.Unlock()

	b.metrics.addFramesCaptured(len(block) / b.format.Channels)
}

// reopenCapture 关闭出错的流并按退避间隔重新打开，收到停止信号时返回 nil
func (b *backend) reopenCapture(dev *Device, stop <-chan struct{}, backoff utils.RetryStrategy) CaptureStream {
	b.streamMu.Lock()
	old := b.capStream
	b.capStream = nil
	b.streamMu.Unlock()
	if old != nil {
		if err := old.Close(); err != nil {
			b.logger.Debug("Failed to close broken capture stream", "error", err)
		}
	}

	for {
		delay := backoff.NextDelay()
		select {
		case <-stop:
			return nil
		case <-time.After(delay):
		}

		b.metrics.incRestart(workerCapture)
		stream, err := b.driver.OpenCapture(dev, b.format, b.cfg.PeriodFrames)
		if err != nil {
			b.logger.Warn("Failed to reopen capture stream", "device", dev.Name, "retry_in", delay, "error", err)
			continue
		}

		b.streamMu.Lock()
		b.capStream = stream
		b.streamMu.Unlock()

		if b.endCapture.Load() {
			// 控制路径在 join 之后负责关闭
			return nil
		}
		b.logger.Info("Capture stream reopened", "device", dev.Name)
		return stream
	}
}

func (b *backend) StartPlayback() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false
	}
	if b.playDone != nil {
		return true
	}

	if b.output == nil {
		dev := b.defaultDevice(Playback)
		if dev == nil {
			b.logger.Error("No output device available for playback")
			return false
		}
		b.output = dev
		b.logger.Info("Using default output device", "device", dev.Name)
	}

	if err := b.startPlaybackLocked(b.output); err != nil {
		b.logger.Error("Failed to start playback", "device", b.output.Name, "error", err)
		return false
	}
	return true
}

func (b *backend) EndPlayback() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopPlaybackLocked()
}

// defaultDevice 选择驱动报告的默认设备，没有默认时取第一个
func (b *backend) defaultDevice(mask DeviceType) *Device {
	devices := b.Devices(mask)
	var chosen *Device
	for _, d := range devices {
		if d.Default {
			chosen = d
			break
		}
	}
	if chosen == nil && len(devices) > 0 {
		chosen = devices[0]
	}
	for _, d := range devices {
		if d != chosen {
			d.Release()
		}
	}
	return chosen
}

func (b *backend) startPlaybackLocked(dev *Device) error {
	stream, err := b.driver.OpenPlayback(dev, b.format, b.cfg.PeriodFrames)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceActivation, err)
	}

	done := make(chan struct{})
	b.endPlay.Store(false)

	b.streamMu.Lock()
	b.playStream = stream
	b.playStop = make(chan struct{})
	b.playDone = done
	b.streamMu.Unlock()

	b.metrics.setRunning(workerPlayback, true)
	go b.playback(dev)

	b.logger.Info("Playback started", "device", dev.Name)
	return nil
}

func (b *backend) stopPlaybackLocked() {
	if b.playDone == nil {
		return
	}

	b.endPlay.Store(true)
	b.streamMu.Lock()
	close(b.playStop)
	b.streamMu.Unlock()

	b.join(workerPlayback, b.playDone, func() {
		b.streamMu.Lock()
		defer b.streamMu.Unlock()
		if b.playStream != nil {
			b.playStream.Abort()
		}
	})

	b.streamMu.Lock()
	stream := b.playStream
	b.playStream = nil
	b.playStop = nil
	b.streamMu.Unlock()

	if stream != nil {
		if err := stream.Close(); err != nil {
			b.logger.Error("Failed to close playback stream", "error", err)
		}
	}
	b.playDone = nil

	// 工作协程已退出，此时由控制路径充当读者清空残留数据
	b.playbackBuffer.Flush()
	b.metrics.setRunning(workerPlayback, false)
	b.logger.Info("Playback stopped")
}

// playback 播放循环：每个周期从播放缓冲区零拷贝取数，不足部分补静音
func (b *backend) playback(dev *Device) {
	b.streamMu.Lock()
	stream, stop, done := b.playStream, b.playStop, b.playDone
	b.streamMu.Unlock()
	defer close(done)

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	period := make([]float32, b.cfg.PeriodFrames*b.format.Channels)
	backoff := utils.NewExponentialBackoff(100*time.Millisecond, 5*time.Second)

	for !b.endPlay.Load() {
		first, second := b.playbackBuffer.DirectRead(len(period))
		n := copy(period, first)
		n += copy(period[n:], second)
		b.playbackBuffer.Advance(n)
		if n < len(period) {
			clear(period[n:])
			if n > 0 {
				b.metrics.incUnderrun()
			}
		}

		if err := stream.Write(period); err != nil {
			if b.endPlay.Load() {
				return
			}
			b.logger.Error("Playback write failed, reopening stream", "device", dev.Name, "error", err)
			if stream = b.reopenPlayback(dev, stop, backoff); stream == nil {
				return
			}
			continue
		}
		backoff.Reset()
	}
}

func (b *backend) reopenPlayback(dev *Device, stop <-chan struct{}, backoff utils.RetryStrategy) PlaybackStream {
	b.streamMu.Lock()
	old := b.playStream
	b.playStream = nil
	b.streamMu.Unlock()
	if old != nil {
		if err := old.Close(); err != nil {
			b.logger.Debug("Failed to close broken playback stream", "error", err)
		}
	}

	for {
		delay := backoff.NextDelay()
		select {
		case <-stop:
			return nil
		case <-time.After(delay):
		}

		b.metrics.incRestart(workerPlayback)
		stream, err := b.driver.OpenPlayback(dev, b.format, b.cfg.PeriodFrames)
		if err != nil {
			b.logger.Warn("Failed to reopen playback stream", "device", dev.Name, "retry_in", delay, "error", err)
			continue
		}

		b.streamMu.Lock()
		b.playStream = stream
		b.streamMu.Unlock()

		if b.endPlay.Load() {
			return nil
		}
		return stream
	}
}

func (b *backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	b.stopCaptureLocked()
	b.stopPlaybackLocked()

	b.bufMu.Lock()
	b.buffers = nil
	b.bufMu.Unlock()
	b.metrics.setActiveBuffers(0)

	b.input.Release()
	b.output.Release()
	b.input, b.output = nil, nil

	var err error
	if cerr := b.driver.Close(); cerr != nil {
		err = multierr.Append(err, fmt.Errorf("failed to close driver: %w", cerr))
	}
	b.logger.Info("Backend closed")
	return err
}
