package websocket

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/smallnest/ringbuffer"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// connection 一个监听客户端：有界发送队列，队列满时丢弃新帧而不阻塞采集消费
type connection struct {
	conn   *websocket.Conn
	logger *slog.Logger

	mu      sync.Mutex
	queue   *ringbuffer.RingBuffer
	notify  chan struct{}
	dropped atomic.Uint64

	closeOnce sync.Once
	closed    chan struct{}
}

func newConnection(conn *websocket.Conn, queueBytes int, logger *slog.Logger) *connection {
	return &connection{
		conn:   conn,
		logger: logger,
		queue:  ringbuffer.New(queueBytes),
		notify: make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
}

// enqueue 整帧入队，空间不足时丢弃整帧
func (c *connection) enqueue(frame []byte) bool {
	c.mu.Lock()
	if c.queue.Free() < len(frame) {
		c.mu.Unlock()
		c.dropped.Add(1)
		return false
	}
	_, err := c.queue.Write(frame)
	c.mu.Unlock()
	if err != nil {
		c.dropped.Add(1)
		return false
	}

	select {
	case c.notify <- struct{}{}:
	default:
	}
	return true
}

// drain 取出队列中全部待发送数据
func (c *connection) drain() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.queue.Length()
	if n == 0 {
		return nil
	}
	buf := make([]byte, n)
	if _, err := c.queue.Read(buf); err != nil {
		return nil
	}
	return buf
}

func (c *connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.notify:
			data := c.drain()
			if len(data) == 0 {
				continue
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				c.logger.Debug("Monitor client write failed", "error", err)
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.closed:
			return
		}
	}
}

// readPump 只处理控制帧，客户端断开时返回
func (c *connection) readPump() {
	defer c.close()
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *connection) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
}

func (c *connection) Dropped() uint64 { return c.dropped.Load() }
