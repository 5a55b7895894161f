package core

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/google/uuid"
	"github.com/lisuiheng/hulaloop-go/audio"
)

const (
	bitDepth     = 16
	pcmFormat    = 1
	drainPeriod  = 10 * time.Millisecond
	maxPCM16     = 32767
	recorderName = "recorder"
)

// Recorder 从 Controller 注册的专用缓冲区取数据，写入临时 WAV 文件
type Recorder struct {
	ctrl    *audio.Controller
	tempDir string
	seconds float64
	logger  *slog.Logger

	mu      sync.Mutex
	paths   []string
	last    string
	session *recordSession
}

type recordSession struct {
	path string
	file *os.File
	enc  *wav.Encoder
	rb   *audio.RingBuffer

	format  audio.Format
	skip    int // 延迟期间需要丢弃的样本数
	remain  int // 剩余可写样本数，负数表示不限
	written int

	stop chan struct{}
	done chan struct{}
	err  error
}

func NewRecorder(ctrl *audio.Controller, tempDir string, bufferSeconds float64, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		ctrl:    ctrl,
		tempDir: tempDir,
		seconds: bufferSeconds,
		logger:  logger.With("component", "recorder"),
	}
}

// Start 开始新的录音，delay 内采到的样本被丢弃，duration 不为正（InfiniteRecord）时一直录到 Stop
func (r *Recorder) Start(delay, duration time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session != nil {
		return ErrRecorderRunning
	}
	if err := os.MkdirAll(r.tempDir, 0755); err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}

	path := filepath.Join(r.tempDir, uuid.NewString()+".wav")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create recording file: %w", err)
	}

	format := r.ctrl.Format()
	s := &recordSession{
		path:   path,
		file:   f,
		enc:    wav.NewEncoder(f, format.SampleRate, bitDepth, format.Channels, pcmFormat),
		format: format,
		skip:   samplesFor(format, delay),
		remain: -1,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	if duration > 0 {
		s.remain = samplesFor(format, duration)
	}
	// 先写出文件头，零样本的录音也是合法的 WAV
	if err := s.write(nil); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return fmt.Errorf("failed to write WAV header: %w", err)
	}

	s.rb = r.ctrl.CreateAndAddBuffer(r.seconds, recorderName)
	r.session = s
	go r.run(s)

	r.logger.Info("Recording started",
		"path", path,
		"delay", delay,
		"duration", durationString(duration),
		"format", format.String())
	return nil
}

func samplesFor(f audio.Format, d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return f.SamplesFor(d.Seconds())
}

func durationString(d time.Duration) string {
	if d <= 0 {
		return "infinite"
	}
	return d.String()
}

// run 是缓冲区唯一的读者，直到收到停止信号或达到时长
func (r *Recorder) run(s *recordSession) {
	defer close(s.done)

	ticker := time.NewTicker(drainPeriod)
	defer ticker.Stop()

	block := make([]float32, s.rb.Cap())
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		}

		if finished := r.consume(s, block); finished {
			// 时长已满，注销缓冲区后再补取剩余数据
			r.ctrl.RemoveBuffer(s.rb)
			r.consume(s, block)
			r.logger.Info("Recording duration reached", "path", s.path, "samples", s.written)
			<-s.stop
			return
		}
	}
}

// consume 读出缓冲区中全部可用样本写入文件，返回是否已达到时长
func (r *Recorder) consume(s *recordSession, block []float32) bool {
	for {
		if s.remain == 0 {
			return true
		}
		n := s.rb.Read(block)
		if n == 0 {
			return false
		}
		samples := block[:n]

		if s.skip > 0 {
			k := min(s.skip, len(samples))
			s.skip -= k
			samples = samples[k:]
		}
		if s.remain > 0 && len(samples) > s.remain {
			samples = samples[:s.remain]
		}
		if len(samples) == 0 {
			continue
		}

		if err := s.write(samples); err != nil {
			if s.err == nil {
				r.logger.Error("Failed to write recording", "path", s.path, "error", err)
			}
			s.err = err
			continue
		}
		if s.remain > 0 {
			s.remain -= len(samples)
		}
	}
}

func (s *recordSession) write(samples []float32) error {
	if s.err != nil {
		return s.err
	}
	data := make([]int, len(samples))
	for i, v := range samples {
		data[i] = floatToPCM16(v)
	}
	buf := &goaudio.IntBuffer{
		Data:           data,
		Format:         &goaudio.Format{SampleRate: s.format.SampleRate, NumChannels: s.format.Channels},
		SourceBitDepth: bitDepth,
	}
	if err := s.enc.Write(buf); err != nil {
		return fmt.Errorf("failed to encode samples: %w", err)
	}
	s.written += len(samples)
	return nil
}

func floatToPCM16(v float32) int {
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	return int(v * maxPCM16)
}

// Stop 结束当前录音：注销缓冲区、写出残留数据并完成文件，成功后记录导出路径
func (r *Recorder) Stop() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.session
	if s == nil {
		return "", nil
	}
	r.session = nil

	close(s.stop)
	<-s.done

	// 注销后工作协程不会再写入，可以安全地取走剩余数据
	r.ctrl.RemoveBuffer(s.rb)
	if s.remain != 0 {
		r.consume(s, make([]float32, s.rb.Cap()))
	}

	err := s.err
	if cerr := s.enc.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("failed to finalize recording: %w", cerr)
	}
	if cerr := s.file.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("failed to close recording file: %w", cerr)
	}

	// 即使写入出错也保留路径，以便 Discard 删除文件
	r.paths = append(r.paths, s.path)
	r.last = s.path
	r.logger.Info("Recording stopped",
		"path", s.path,
		"samples", s.written,
		"length", s.format.Duration(s.written))
	return s.path, err
}

// Running 是否有未结束的录音
func (r *Recorder) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session != nil
}

// ExportPaths 已完成录音的临时文件，按录制顺序
func (r *Recorder) ExportPaths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...)
}

// LastPath 最近一次完成的录音，导出后仍可回放
func (r *Recorder) LastPath() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

func (r *Recorder) ClearExportPaths() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = nil
}

// Reset 清空导出路径和最近录音，返回被清空的路径
func (r *Recorder) Reset() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	paths := r.paths
	if r.last != "" && !slices.Contains(paths, r.last) {
		paths = append(paths, r.last)
	}
	r.paths = nil
	r.last = ""
	return paths
}
