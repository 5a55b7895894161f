package audio

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// Overrun 一次写入超出可用空间，多出的样本被丢弃
type Overrun struct {
	BufferID  string
	Name      string
	Requested int
	Written   int
}

// Dropped 被丢弃的样本数
func (o Overrun) Dropped() int { return o.Requested - o.Written }

// RingBuffer 固定容量的环形样本缓冲区。
//
// 只允许一个写者和一个读者并发访问，读写游标各自单调递增，
// 仅由对应一方推进，因此两者之间不需要额外的锁。
// 多个消费者必须各自注册独立的 RingBuffer。
type RingBuffer struct {
	id   string
	name string
	data []float32
	mask uint64

	// 单调递增的游标，取模后才是存储下标
	readPos  atomic.Uint64
	writePos atomic.Uint64

	overruns atomic.Uint64
	sink     chan<- Overrun
}

// RingBufferOption 构造选项
type RingBufferOption func(*RingBuffer)

// WithOverrunSink 溢出事件以非阻塞方式投递到该通道，通道满时直接丢弃事件
func WithOverrunSink(ch chan<- Overrun) RingBufferOption {
	return func(rb *RingBuffer) { rb.sink = ch }
}

// WithName 设置便于日志识别的名称
func WithName(name string) RingBufferOption {
	return func(rb *RingBuffer) { rb.name = name }
}

// NewRingBuffer 创建能容纳 seconds 秒音频的缓冲区，
// 容量为 nextPow2(sampleRate * seconds * channels) 个样本
func NewRingBuffer(seconds float64, format Format, opts ...RingBufferOption) *RingBuffer {
	n := nextPow2(uint64(max(format.SamplesFor(seconds), 1)))
	rb := &RingBuffer{
		id:   uuid.NewString(),
		data: make([]float32, n),
		mask: n - 1,
	}
	for _, opt := range opts {
		opt(rb)
	}
	return rb
}

func nextPow2(v uint64) uint64 {
	if v <= 1 {
		return 1
	}
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v |= v >> 32
	return v + 1
}

func (rb *RingBuffer) ID() string   { return rb.id }
func (rb *RingBuffer) Name() string { return rb.name }

// Cap 容量（样本数）
func (rb *RingBuffer) Cap() int { return len(rb.data) }

// ReadAvailable 可读样本数
func (rb *RingBuffer) ReadAvailable() int {
	return int(rb.writePos.Load() - rb.readPos.Load())
}

// WriteAvailable 可写样本数
func (rb *RingBuffer) WriteAvailable() int {
	return len(rb.data) - rb.ReadAvailable()
}

// Overruns 累计溢出次数
func (rb *RingBuffer) Overruns() uint64 { return rb.overruns.Load() }

// Write 写入样本，返回实际写入数。空间不足时截断，多余部分丢弃并上报溢出。
// 仅供唯一的写者调用。
func (rb *RingBuffer) Write(samples []float32) int {
	w := rb.writePos.Load()
	free := len(rb.data) - int(w-rb.readPos.Load())
	n := min(len(samples), free)
	if n > 0 {
		start := int(w & rb.mask)
		k := copy(rb.data[start:], samples[:n])
		if k < n {
			copy(rb.data, samples[k:n])
		}
		rb.writePos.Store(w + uint64(n))
	}
	if n < len(samples) {
		rb.reportOverrun(len(samples), n)
	}
	return n
}

func (rb *RingBuffer) reportOverrun(requested, written int) {
	rb.overruns.Add(1)
	if rb.sink == nil {
		return
	}
	select {
	case rb.sink <- Overrun{BufferID: rb.id, Name: rb.name, Requested: requested, Written: written}:
	default:
	}
}

// Read 复制最多 len(dst) 个样本并推进读游标，仅供唯一的读者调用
func (rb *RingBuffer) Read(dst []float32) int {
	first, second := rb.regions(len(dst))
	n := copy(dst, first)
	n += copy(dst[n:], second)
	if n > 0 {
		rb.readPos.Add(uint64(n))
	}
	return n
}

// DirectRead 零拷贝读取，返回指向内部存储的最多两个片段。
// 只有当可读区间跨越存储末尾时 second 才非空，两者总长不超过 maxN。
// 与 Read 不同，DirectRead 不移动读游标：片段在调用 Advance 之前不会被写者覆盖，
// 读者用完片段后必须调用 Advance 释放它们。
func (rb *RingBuffer) DirectRead(maxN int) (first, second []float32) {
	return rb.regions(maxN)
}

// Advance 释放 DirectRead 返回的前 n 个样本，仅供读者调用
func (rb *RingBuffer) Advance(n int) {
	if n <= 0 {
		return
	}
	n = min(n, rb.ReadAvailable())
	rb.readPos.Add(uint64(n))
}

func (rb *RingBuffer) regions(maxN int) (first, second []float32) {
	if maxN <= 0 {
		return nil, nil
	}
	r := rb.readPos.Load()
	n := min(int(rb.writePos.Load()-r), maxN)
	if n == 0 {
		return nil, nil
	}
	start := int(r & rb.mask)
	if end := start + n; end <= len(rb.data) {
		return rb.data[start:end], nil
	}
	return rb.data[start:], rb.data[:n-(len(rb.data)-start)]
}

// Flush 丢弃全部未读数据，仅供读者调用
func (rb *RingBuffer) Flush() {
	rb.readPos.Store(rb.writePos.Load())
}
