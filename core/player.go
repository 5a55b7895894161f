package core

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/lisuiheng/hulaloop-go/audio"
)

// Player 把录音文件送入 Controller 的播放缓冲区
type Player struct {
	ctrl   *audio.Controller
	logger *slog.Logger

	mu      sync.Mutex
	session *playSession
}

type playSession struct {
	path    string
	file    *os.File
	dec     *wav.Decoder
	divisor float32

	stop     chan struct{}
	done     chan struct{}
	finished bool
}

func NewPlayer(ctrl *audio.Controller, logger *slog.Logger) *Player {
	if logger == nil {
		logger = slog.Default()
	}
	return &Player{ctrl: ctrl, logger: logger.With("component", "player")}
}

// Start 从头播放 path
func (p *Player) Start(path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.session != nil {
		return ErrPlayerRunning
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open recording: %w", err)
	}
	dec := wav.NewDecoder(f)
	dec.ReadInfo()
	if !dec.IsValidFile() {
		_ = f.Close()
		return fmt.Errorf("failed to decode %s: invalid WAV file", path)
	}

	format := p.ctrl.Format()
	if int(dec.SampleRate) != format.SampleRate || int(dec.NumChans) != format.Channels {
		_ = f.Close()
		return fmt.Errorf("%w: file %dHz/%dch, pipeline %s",
			ErrFormatMismatch, dec.SampleRate, dec.NumChans, format)
	}
	if err := dec.FwdToPCM(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to seek to PCM data: %w", err)
	}

	s := &playSession{
		path:    path,
		file:    f,
		dec:     dec,
		divisor: float32(int(1) << (dec.BitDepth - 1)),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	if err := p.ctrl.StartPlayback(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to start playback: %w", err)
	}

	p.session = s
	go p.run(s, p.ctrl.PlaybackBuffer())

	p.logger.Info("Playback started", "path", path)
	return nil
}

// run 是播放缓冲区唯一的写者，空间不足时等待输出端消费
func (p *Player) run(s *playSession, rb *audio.RingBuffer) {
	defer close(s.done)

	chunk := max(rb.Cap()/4, 1)
	buf := &goaudio.IntBuffer{
		Data:   make([]int, chunk),
		Format: &goaudio.Format{SampleRate: int(s.dec.SampleRate), NumChannels: int(s.dec.NumChans)},
	}
	samples := make([]float32, chunk)
	ticker := time.NewTicker(drainPeriod)
	defer ticker.Stop()

	for {
		n, err := s.dec.PCMBuffer(buf)
		if err != nil && !errors.Is(err, io.EOF) {
			p.logger.Error("Failed to decode recording", "path", s.path, "error", err)
			return
		}
		if n == 0 {
			p.mu.Lock()
			s.finished = true
			p.mu.Unlock()
			p.logger.Debug("Recording fully queued for playback", "path", s.path)
			return
		}
		for i, v := range buf.Data[:n] {
			samples[i] = float32(v) / s.divisor
		}

		pending := samples[:n]
		for len(pending) > 0 {
			w := rb.Write(pending[:min(len(pending), rb.WriteAvailable())])
			pending = pending[w:]
			if len(pending) == 0 {
				break
			}
			select {
			case <-s.stop:
				return
			case <-ticker.C:
			}
		}

		select {
		case <-s.stop:
			return
		default:
		}
	}
}

// Stop 停止写入并结束播放，返回后播放缓冲区已清空
func (p *Player) Stop() error {
	p.mu.Lock()
	s := p.session
	p.session = nil
	p.mu.Unlock()

	if s == nil {
		return nil
	}

	close(s.stop)
	<-s.done
	p.ctrl.EndPlayback()

	if err := s.file.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return fmt.Errorf("failed to close recording: %w", err)
	}
	p.logger.Info("Playback stopped", "path", s.path)
	return nil
}

// Running 是否正在播放
func (p *Player) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session != nil
}

// Finished 当前文件是否已全部送入播放缓冲区
func (p *Player) Finished() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session != nil && p.session.finished
}
