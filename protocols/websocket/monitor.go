// protocols/websocket/monitor.go
package websocket

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lisuiheng/hulaloop-go/audio"
	"go.uber.org/multierr"
)

var ErrMonitorStarted = errors.New("monitor already started")

// MonitorConfig 实时监听端点配置
type MonitorConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	Listen           string        `mapstructure:"listen"`
	BufferSeconds    float64       `mapstructure:"buffer_seconds"`
	ClientQueueBytes int           `mapstructure:"client_queue_bytes"`
	Interval         time.Duration `mapstructure:"interval"`
}

func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Listen:           "127.0.0.1:8765",
		BufferSeconds:    1,
		ClientQueueBytes: 256 * 1024,
		Interval:         20 * time.Millisecond,
	}
}

// StreamHeader 客户端连接后收到的第一条文本消息
type StreamHeader struct {
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	Encoding   string `json:"encoding"`
}

// Monitor 把采集数据以小端 float32 PCM 推送给所有 websocket 客户端，
// 自己注册一个独立的 RingBuffer 作为消费者
type Monitor struct {
	ctrl     *audio.Controller
	cfg      MonitorConfig
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*connection]struct{}
	rb      *audio.RingBuffer
	cancel  context.CancelFunc
	closed  bool

	pumpDone chan struct{}
	wg       sync.WaitGroup
}

func NewMonitor(ctrl *audio.Controller, cfg MonitorConfig, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	d := DefaultMonitorConfig()
	if cfg.BufferSeconds <= 0 {
		cfg.BufferSeconds = d.BufferSeconds
	}
	if cfg.ClientQueueBytes <= 0 {
		cfg.ClientQueueBytes = d.ClientQueueBytes
	}
	if cfg.Interval <= 0 {
		cfg.Interval = d.Interval
	}
	return &Monitor{
		ctrl:    ctrl,
		cfg:     cfg,
		logger:  logger.With("component", "monitor"),
		clients: make(map[*connection]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 16 * 1024,
		},
	}
}

// Start 注册监听缓冲区并启动推送协程
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("failed to start monitor: %w", audio.ErrClosed)
	}
	if m.rb != nil {
		return ErrMonitorStarted
	}

	m.rb = m.ctrl.CreateAndAddBuffer(m.cfg.BufferSeconds, "monitor")
	ctx, m.cancel = context.WithCancel(ctx)
	m.pumpDone = make(chan struct{})
	go m.pump(ctx, m.rb, m.pumpDone)

	m.logger.Info("Monitor started", "interval", m.cfg.Interval, "buffer_seconds", m.cfg.BufferSeconds)
	return nil
}

func (m *Monitor) pump(ctx context.Context, rb *audio.RingBuffer, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		first, second := rb.DirectRead(rb.ReadAvailable())
		if len(first)+len(second) == 0 {
			continue
		}
		frame := encodeFloat32(first, second)
		rb.Advance(len(first) + len(second))
		m.broadcast(frame)
	}
}

// encodeFloat32 把两个片段按小端 float32 拼成一帧
func encodeFloat32(first, second []float32) []byte {
	out := make([]byte, 4*(len(first)+len(second)))
	off := 0
	for _, span := range [][]float32{first, second} {
		for _, v := range span {
			binary.LittleEndian.PutUint32(out[off:], math.Float32bits(v))
			off += 4
		}
	}
	return out
}

func (m *Monitor) broadcast(frame []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for c := range m.clients {
		if !c.enqueue(frame) {
			m.logger.Debug("Monitor client queue full, dropping frame",
				"remote", c.conn.RemoteAddr().String(),
				"dropped", c.Dropped())
		}
	}
}

// ServeHTTP 升级为 websocket 连接并注册客户端
func (m *Monitor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Warn("Failed to upgrade monitor connection", "remote", r.RemoteAddr, "error", err)
		return
	}

	format := m.ctrl.Format()
	header := StreamHeader{SampleRate: format.SampleRate, Channels: format.Channels, Encoding: "f32le"}
	if err := conn.WriteJSON(header); err != nil {
		m.logger.Warn("Failed to send monitor header", "remote", r.RemoteAddr, "error", err)
		_ = conn.Close()
		return
	}

	c := newConnection(conn, m.cfg.ClientQueueBytes, m.logger)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = conn.Close()
		return
	}
	m.clients[c] = struct{}{}
	count := len(m.clients)
	m.wg.Add(3)
	m.mu.Unlock()

	m.logger.Info("Monitor client connected", "remote", r.RemoteAddr, "clients", count)

	go func() {
		defer m.wg.Done()
		c.writePump()
	}()
	go func() {
		defer m.wg.Done()
		c.readPump()
	}()
	go func() {
		defer m.wg.Done()
		<-c.closed
		m.remove(c)
	}()
}

func (m *Monitor) remove(c *connection) {
	m.mu.Lock()
	delete(m.clients, c)
	count := len(m.clients)
	m.mu.Unlock()

	_ = c.conn.Close()
	m.logger.Info("Monitor client disconnected",
		"remote", c.conn.RemoteAddr().String(),
		"dropped", c.Dropped(),
		"clients", count)
}

// Clients 当前连接数
func (m *Monitor) Clients() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.clients)
}

// Close 先注销缓冲区再断开所有客户端
func (m *Monitor) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	cancel, done, rb := m.cancel, m.pumpDone, m.rb
	clients := make([]*connection, 0, len(m.clients))
	for c := range m.clients {
		clients = append(clients, c)
	}
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	if rb != nil {
		m.ctrl.RemoveBuffer(rb)
	}

	var err error
	for _, c := range clients {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		c.close()
		if cerr := c.conn.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = multierr.Append(err, cerr)
		}
	}
	m.wg.Wait()
	m.logger.Info("Monitor stopped")
	return err
}
