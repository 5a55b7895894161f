// audio/controller.go
package audio

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"go.uber.org/multierr"
)

const overrunQueue = 64

// Controller 包装唯一的 Backend，为上层提供缓冲区注册和设备选择
type Controller struct {
	backend Backend
	cfg     Config
	logger  *slog.Logger
	metrics *Metrics

	mu      sync.Mutex
	buffers map[*RingBuffer]struct{}
	closed  bool

	overruns chan Overrun
	done     chan struct{}
	wg       sync.WaitGroup
}

// NewController 按配置创建后端并选择初始设备
func NewController(cfg Config, logger *slog.Logger, metrics *Metrics) (*Controller, error) {
	if logger == nil {
		logger = slog.Default()
	}
	b, err := NewBackend(cfg, logger, metrics)
	if err != nil {
		return nil, err
	}
	c := NewControllerWithBackend(b, cfg, logger, metrics)
	c.selectInitialDevices()
	return c, nil
}

// NewControllerWithBackend 用已有的后端创建控制器，不做设备选择
func NewControllerWithBackend(b Backend, cfg Config, logger *slog.Logger, metrics *Metrics) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{
		backend:  b,
		cfg:      cfg.withDefaults(),
		logger:   logger.With("component", "controller"),
		metrics:  metrics,
		buffers:  make(map[*RingBuffer]struct{}),
		overruns: make(chan Overrun, overrunQueue),
		done:     make(chan struct{}),
	}
	c.wg.Add(1)
	go c.watchOverruns()
	return c
}

func (c *Controller) watchOverruns() {
	defer c.wg.Done()
	for {
		select {
		case o := <-c.overruns:
			c.metrics.incOverrun(o.Name)
			c.logger.Warn("Ring buffer overrun",
				"buffer", o.Name,
				"id", o.BufferID,
				"requested", o.Requested,
				"dropped", o.Dropped())
		case <-c.done:
			return
		}
	}
}

// selectInitialDevices 按名称选择配置中的设备，没有配置时优先环回源
func (c *Controller) selectInitialDevices() {
	if in := c.pickInput(); in != nil {
		if err := c.SetActiveInputDevice(in); err != nil {
			c.logger.Warn("Failed to select initial input device", "device", in.Name, "error", err)
		}
		in.Release()
	}

	if c.cfg.OutputDevice == "" {
		return
	}
	out, err := c.FindDevice(c.cfg.OutputDevice, Playback)
	if err != nil {
		c.logger.Warn("Configured output device not found", "device", c.cfg.OutputDevice, "error", err)
		return
	}
	defer out.Release()
	if err := c.SetActiveOutputDevice(out); err != nil {
		c.logger.Warn("Failed to select initial output device", "device", out.Name, "error", err)
	}
}

func (c *Controller) pickInput() *Device {
	if c.cfg.InputDevice != "" {
		d, err := c.FindDevice(c.cfg.InputDevice, Record|Loopback)
		if err == nil {
			return d
		}
		c.logger.Warn("Configured input device not found", "device", c.cfg.InputDevice, "error", err)
	}

	for _, mask := range []DeviceType{Loopback, Record} {
		devices := c.backend.Devices(mask)
		var chosen *Device
		for _, d := range devices {
			if chosen == nil || (d.Default && !chosen.Default) {
				chosen = d
			}
		}
		for _, d := range devices {
			if d != chosen {
				d.Release()
			}
		}
		if chosen != nil {
			return chosen
		}
	}
	return nil
}

// Backend 返回底层后端
func (c *Controller) Backend() Backend { return c.backend }

func (c *Controller) Format() Format { return c.backend.Format() }

func (c *Controller) Metrics() *Metrics { return c.metrics }

// Devices 枚举与掩码有交集的设备，调用者负责释放
func (c *Controller) Devices(mask DeviceType) []*Device {
	return c.backend.Devices(mask)
}

func (c *Controller) InputDevices() []*Device { return c.backend.Devices(Record | Loopback) }

func (c *Controller) OutputDevices() []*Device { return c.backend.Devices(Playback) }

// FindDevice 按名称或标识查找设备，先精确匹配再按子串匹配
func (c *Controller) FindDevice(name string, mask DeviceType) (*Device, error) {
	devices := c.backend.Devices(mask)
	var found *Device
	for _, d := range devices {
		if d.Name == name || d.ID.String() == name {
			found = d
			break
		}
	}
	if found == nil {
		lower := strings.ToLower(name)
		for _, d := range devices {
			if strings.Contains(strings.ToLower(d.Name), lower) {
				found = d
				break
			}
		}
	}
	for _, d := range devices {
		if d != found {
			d.Release()
		}
	}
	if found == nil {
		return nil, fmt.Errorf("%w: %q", ErrDeviceNotFound, name)
	}
	return found, nil
}

// SetActiveInputDevice 切换输入设备，失败时状态不变
func (c *Controller) SetActiveInputDevice(d *Device) error {
	if err := checkRole(d, d.CanCapture()); err != nil {
		return err
	}
	if !c.backend.SetActiveInputDevice(d) {
		return c.activationError(d)
	}
	return nil
}

func (c *Controller) SetActiveOutputDevice(d *Device) error {
	if err := checkRole(d, d.CanPlay()); err != nil {
		return err
	}
	if !c.backend.SetActiveOutputDevice(d) {
		return c.activationError(d)
	}
	return nil
}

func checkRole(d *Device, ok bool) error {
	if d == nil {
		return ErrNilDevice
	}
	if !ok {
		return fmt.Errorf("%w: %s is %s", ErrDeviceRole, d.Name, d.Type)
	}
	return nil
}

func (c *Controller) activationError(d *Device) error {
	if !c.backend.CheckDeviceParams(d) {
		return fmt.Errorf("%w: %s", ErrDeviceParams, d.Name)
	}
	return fmt.Errorf("%w: %s", ErrDeviceActivation, d.Name)
}

func (c *Controller) ActiveInputDevice() *Device { return c.backend.ActiveInputDevice() }

func (c *Controller) ActiveOutputDevice() *Device { return c.backend.ActiveOutputDevice() }

// AddBuffer 注册缓冲区，重复注册为空操作
func (c *Controller) AddBuffer(rb *RingBuffer) {
	if rb == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if _, ok := c.buffers[rb]; ok {
		return
	}
	c.buffers[rb] = struct{}{}
	c.backend.AddBuffer(rb)
}

// RemoveBuffer 注销缓冲区，未注册时为空操作。返回后采集协程不再写入 rb
func (c *Controller) RemoveBuffer(rb *RingBuffer) {
	if rb == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.buffers[rb]; !ok {
		return
	}
	delete(c.buffers, rb)
	c.backend.RemoveBuffer(rb)
}

// CreateAndAddBuffer 分配能容纳 seconds 秒音频的缓冲区并注册，所有权归调用者
func (c *Controller) CreateAndAddBuffer(seconds float64, name string) *RingBuffer {
	rb := NewRingBuffer(seconds, c.backend.Format(), WithName(name), WithOverrunSink(c.overruns))
	c.AddBuffer(rb)
	return rb
}

func (c *Controller) PlaybackBuffer() *RingBuffer { return c.backend.PlaybackBuffer() }

func (c *Controller) StartPlayback() error {
	if !c.backend.StartPlayback() {
		return fmt.Errorf("%w: playback", ErrDeviceActivation)
	}
	return nil
}

func (c *Controller) EndPlayback() { c.backend.EndPlayback() }

func (c *Controller) State() BackendState { return c.backend.State() }

// Close 关闭后端并停止溢出监视
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	clear(c.buffers)
	c.mu.Unlock()

	var err error
	if cerr := c.backend.Close(); cerr != nil {
		err = multierr.Append(err, fmt.Errorf("failed to close backend: %w", cerr))
	}
	close(c.done)
	c.wg.Wait()
	return err
}
