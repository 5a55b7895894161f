package core

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lisuiheng/hulaloop-go/audio"
	"github.com/lisuiheng/hulaloop-go/pkg/interfaces"
	"go.uber.org/multierr"
)

// InfiniteRecord 一直录到 Stop
const InfiniteRecord = interfaces.InfiniteRecord

const (
	cmdRecord = "record"
	cmdStop   = "stop"
	cmdPlay   = "play"
	cmdPause  = "pause"
)

var _ interfaces.Transport = (*Transport)(nil)

// Transport 录放状态机，持有同一个 Controller 上的 Recorder 和 Player
type Transport struct {
	ctrl     *audio.Controller
	recorder *Recorder
	player   *Player
	cfg      TransportConfig
	logger   *slog.Logger

	// ownsCtrl 为 true 时 Close 一并关闭 Controller
	ownsCtrl bool

	mu    sync.Mutex
	state interfaces.TransportState
	// pausedFrom 进入 PAUSED 之前的状态，决定可以恢复哪个角色
	pausedFrom interfaces.TransportState
	lastErr    error
}

// NewTransport 按配置创建 Controller 并组装状态机
func NewTransport(cfg Config, metrics *audio.Metrics, logger *slog.Logger) (*Transport, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ctrl, err := audio.NewController(cfg.Audio, logger, metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to create audio controller: %w", err)
	}
	t := NewTransportWithController(ctrl, cfg.Transport, cfg.Audio.RecordBufferSeconds, logger)
	t.ownsCtrl = true
	return t, nil
}

// NewTransportWithController 在已有的 Controller 上组装状态机，Controller 由调用方关闭
func NewTransportWithController(ctrl *audio.Controller, cfg TransportConfig, recordBufferSeconds float64, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	if recordBufferSeconds <= 0 {
		recordBufferSeconds = audio.DefaultConfig().RecordBufferSeconds
	}
	return &Transport{
		ctrl:     ctrl,
		recorder: NewRecorder(ctrl, cfg.TempDir, recordBufferSeconds, logger),
		player:   NewPlayer(ctrl, logger),
		cfg:      cfg,
		logger:   logger.With("component", "transport"),
		state:    interfaces.StateStopped,
	}
}

// guard 检查命令在当前状态下是否允许，不允许时记录错误且不产生任何副作用
func (t *Transport) guard(cmd string, allowed bool) bool {
	if allowed {
		t.lastErr = nil
		return true
	}
	t.lastErr = fmt.Errorf("%w: %s while %s", ErrInvalidTransition, cmd, t.state)
	t.logger.Debug("Transport command rejected", "command", cmd, "state", t.state.String())
	return false
}

func (t *Transport) setState(s interfaces.TransportState) {
	if t.state == s {
		return
	}
	t.logger.Info("Transport state changed", "from", t.state.String(), "to", s.String())
	t.state = s
}

// settle 状态检查通过后等待硬件完成启停
func (t *Transport) settle() {
	if t.cfg.SettleDelay > 0 {
		time.Sleep(t.cfg.SettleDelay)
	}
}

// Record 从 STOPPED 开始新的录音；录音暂停后再次调用会开始新的一段
func (t *Transport) Record(delay, duration time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	allowed := t.state == interfaces.StateStopped ||
		(t.state == interfaces.StatePaused && t.pausedFrom == interfaces.StateRecording)
	if !t.guard(cmdRecord, allowed) {
		return false
	}
	defer t.settle()

	if err := t.recorder.Start(delay, duration); err != nil {
		t.lastErr = err
		t.logger.Error("Failed to start recording", "error", err)
		return false
	}
	t.setState(interfaces.StateRecording)
	return true
}

// RecordDefault 无延迟、不限时长地录音
func (t *Transport) RecordDefault() bool {
	return t.Record(0, InfiniteRecord)
}

// Stop 停止正在进行的录音或播放
func (t *Transport) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.guard(cmdStop, t.state != interfaces.StateStopped) {
		return false
	}
	defer t.settle()

	err := t.stopActive()
	t.setState(interfaces.StateStopped)
	if err != nil {
		t.lastErr = err
		t.logger.Error("Failed to stop cleanly", "error", err)
	}
	return true
}

func (t *Transport) stopActive() error {
	var err error
	if t.recorder.Running() {
		_, rerr := t.recorder.Stop()
		err = multierr.Append(err, rerr)
	}
	if t.player.Running() {
		err = multierr.Append(err, t.player.Stop())
	}
	return err
}

// Play 从头播放最近一次录音，STOPPED 和 PAUSED 下均可
func (t *Transport) Play() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	last := t.recorder.LastPath()
	idle := t.state == interfaces.StateStopped || t.state == interfaces.StatePaused
	if !t.guard(cmdPlay, idle && last != "") {
		if idle {
			t.lastErr = fmt.Errorf("%w: %w", t.lastErr, ErrNoRecording)
		}
		return false
	}
	defer t.settle()

	if err := t.player.Start(last); err != nil {
		t.lastErr = err
		t.logger.Error("Failed to start playback", "path", last, "error", err)
		return false
	}
	t.setState(interfaces.StatePlaying)
	return true
}

// Pause 暂停录音或播放
func (t *Transport) Pause() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	allowed := t.state == interfaces.StateRecording || t.state == interfaces.StatePlaying
	if !t.guard(cmdPause, allowed) {
		return false
	}
	defer t.settle()

	var err error
	if t.state == interfaces.StateRecording {
		_, err = t.recorder.Stop()
	} else {
		err = t.player.Stop()
	}
	t.pausedFrom = t.state
	t.setState(interfaces.StatePaused)
	if err != nil {
		t.lastErr = err
		t.logger.Error("Failed to pause cleanly", "error", err)
	}
	return true
}

// Discard 任意状态下复位到 STOPPED，并删除全部临时录音
func (t *Transport) Discard() {
	t.mu.Lock()
	defer t.mu.Unlock()

	err := t.stopActive()
	err = multierr.Append(err, DeleteTempFiles(t.recorder.Reset(), t.logger))
	t.lastErr = err
	if err != nil {
		t.logger.Warn("Discard finished with errors", "error", err)
	}
	t.setState(interfaces.StateStopped)
	t.logger.Info("Recordings discarded")
}

// ExportFile 把已跟踪的录音导出到 path，成功后清空跟踪列表
func (t *Transport) ExportFile(path string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	paths := t.recorder.ExportPaths()
	if err := ExportFiles(paths, path); err != nil {
		return fmt.Errorf("failed to export recordings: %w", err)
	}
	t.recorder.ClearExportPaths()
	t.logger.Info("Recordings exported", "target", path, "files", len(paths))
	return nil
}

// ExportPaths 待导出的临时文件
func (t *Transport) ExportPaths() []string { return t.recorder.ExportPaths() }

func (t *Transport) State() interfaces.TransportState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Transport) StateString() string { return t.State().String() }

func (t *Transport) Controller() *audio.Controller { return t.ctrl }

// LastError 最近一次命令失败的原因，成功的命令会清空它
func (t *Transport) LastError() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastErr
}

// PlaybackFinished 当前录音是否已全部送入播放缓冲区
func (t *Transport) PlaybackFinished() bool { return t.player.Finished() }

// Close 停止录放；临时文件保留到 Discard
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	err := t.stopActive()
	t.setState(interfaces.StateStopped)
	if t.ownsCtrl {
		err = multierr.Append(err, t.ctrl.Close())
	}
	return err
}
