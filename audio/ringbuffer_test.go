package audio

import (
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seq(start, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(start + i)
	}
	return out
}

func TestRingBufferCapacityIsPowerOfTwo(t *testing.T) {
	tests := []struct {
		name    string
		seconds float64
		format  Format
		want    int
	}{
		{"one second stereo 44.1k", 1, Format{SampleRate: 44100, Channels: 2}, 131072},
		{"exact power of two", 1, Format{SampleRate: 1024, Channels: 1}, 1024},
		{"fractional seconds", 0.5, Format{SampleRate: 48000, Channels: 2}, 65536},
		{"zero seconds", 0, Format{SampleRate: 48000, Channels: 2}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rb := NewRingBuffer(tt.seconds, tt.format)
			assert.Equal(t, tt.want, rb.Cap())
			assert.Equal(t, 0, rb.ReadAvailable())
			assert.Equal(t, tt.want, rb.WriteAvailable())
		})
	}
}

func TestRingBufferWriteRead(t *testing.T) {
	rb := NewRingBuffer(1, Format{SampleRate: 16, Channels: 1})
	require.Equal(t, 16, rb.Cap())

	assert.Equal(t, 10, rb.Write(seq(0, 10)))
	assert.Equal(t, 10, rb.ReadAvailable())
	assert.Equal(t, 6, rb.WriteAvailable())

	dst := make([]float32, 4)
	require.Equal(t, 4, rb.Read(dst))
	assert.Equal(t, seq(0, 4), dst)

	// 跨越存储末尾
	assert.Equal(t, 10, rb.Write(seq(10, 10)))
	assert.Equal(t, 16, rb.ReadAvailable())

	out := make([]float32, 32)
	n := rb.Read(out)
	require.Equal(t, 16, n)
	assert.Equal(t, seq(4, 16), out[:n])
	assert.Equal(t, 0, rb.ReadAvailable())
}

func TestRingBufferOverrunTruncates(t *testing.T) {
	sink := make(chan Overrun, 4)
	rb := NewRingBuffer(1, Format{SampleRate: 44100, Channels: 2}, WithName("rec"), WithOverrunSink(sink))
	require.Equal(t, 131072, rb.Cap())

	assert.Equal(t, 65536, rb.Write(make([]float32, 65536)))
	assert.Equal(t, 65536, rb.Write(make([]float32, 65536)))
	assert.Equal(t, 0, rb.WriteAvailable())

	assert.Equal(t, 0, rb.Write([]float32{1}))
	assert.Equal(t, uint64(1), rb.Overruns())

	select {
	case o := <-sink:
		assert.Equal(t, "rec", o.Name)
		assert.Equal(t, rb.ID(), o.BufferID)
		assert.Equal(t, 1, o.Requested)
		assert.Equal(t, 0, o.Written)
		assert.Equal(t, 1, o.Dropped())
	default:
		t.Fatal("expected overrun event")
	}

	dst := make([]float32, 100)
	require.Equal(t, 100, rb.Read(dst))
	assert.Equal(t, 100, rb.Write(seq(0, 200)))
	assert.Equal(t, uint64(2), rb.Overruns())
}

func TestRingBufferOverrunSinkNeverBlocks(t *testing.T) {
	sink := make(chan Overrun)
	rb := NewRingBuffer(1, Format{SampleRate: 4, Channels: 1}, WithOverrunSink(sink))

	rb.Write(seq(0, 4))
	for i := 0; i < 10; i++ {
		assert.Equal(t, 0, rb.Write(seq(0, 4)))
	}
	assert.Equal(t, uint64(10), rb.Overruns())
}

func TestRingBufferDirectRead(t *testing.T) {
	rb := NewRingBuffer(1, Format{SampleRate: 8, Channels: 1})
	rb.Write(seq(0, 6))
	rb.Read(make([]float32, 5))
	rb.Write(seq(6, 6))

	first, second := rb.DirectRead(100)
	assert.Equal(t, seq(5, 3), first)
	assert.Equal(t, seq(8, 4), second)
	assert.Equal(t, 7, rb.ReadAvailable())

	// 未释放的片段不会被覆盖，写者只能用剩下的一个空位
	assert.Equal(t, 1, rb.Write(seq(12, 2)))
	assert.Equal(t, seq(5, 3), first)
	assert.Equal(t, seq(8, 4), second)

	rb.Advance(len(first) + len(second))
	assert.Equal(t, 1, rb.ReadAvailable())

	rb.Write(seq(13, 5))
	first, second = rb.DirectRead(4)
	assert.LessOrEqual(t, len(first)+len(second), 4)
	assert.Equal(t, seq(12, 4), append(append([]float32{}, first...), second...))
	rb.Advance(len(first) + len(second))
	assert.Equal(t, 2, rb.ReadAvailable())

	rb.Advance(100)
	assert.Equal(t, 0, rb.ReadAvailable())

	first, second = rb.DirectRead(0)
	assert.Nil(t, first)
	assert.Nil(t, second)
}

func TestRingBufferDirectReadSpansDoNotOverlap(t *testing.T) {
	rb := NewRingBuffer(1, Format{SampleRate: 64, Channels: 1})
	for step := 0; step < 200; step++ {
		rb.Write(seq(step, 7))
		first, second := rb.DirectRead(11)
		require.LessOrEqual(t, len(first)+len(second), 11)
		if len(second) > 0 {
			// second 从存储起点开始，first 延伸到存储末尾
			assert.Same(t, &rb.data[0], &second[0])
			assert.Same(t, &rb.data[len(rb.data)-1], &first[len(first)-1])
			assert.LessOrEqual(t, len(first)+len(second), rb.Cap())
		}
		rb.Advance(len(first) + len(second))
	}
}

func TestRingBufferFlush(t *testing.T) {
	rb := NewRingBuffer(1, Format{SampleRate: 8, Channels: 1})
	rb.Write(seq(0, 5))
	rb.Flush()
	assert.Equal(t, 0, rb.ReadAvailable())
	assert.Equal(t, 8, rb.WriteAvailable())
}

func TestRingBufferConcurrentSPSC(t *testing.T) {
	rb := NewRingBuffer(1, Format{SampleRate: 256, Channels: 1})
	const total = 200000

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		next := 0
		for next < total {
			n := min(37, total-next)
			w := rb.Write(seq(next, n))
			if w == 0 {
				runtime.Gosched()
			}
			next += w
		}
	}()

	got := make([]float32, 0, total)
	buf := make([]float32, 53)
	for len(got) < total {
		n := rb.Read(buf)
		if n == 0 {
			runtime.Gosched()
		}
		got = append(got, buf[:n]...)
	}
	wg.Wait()

	for i, v := range got {
		if v != float32(i) {
			t.Fatalf("sample %d: got %v", i, v)
		}
	}
}
