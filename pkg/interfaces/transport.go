// pkg/interfaces/transport.go
package interfaces

import (
	"time"

	"github.com/lisuiheng/hulaloop-go/audio"
)

// TransportState 传输状态机的状态
type TransportState int

const (
	StateStopped TransportState = iota
	StateRecording
	StatePlaying
	StatePaused
)

func (s TransportState) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRecording:
		return "recording"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}

// InfiniteRecord 录音时长的哨兵值，表示一直录到 Stop
const InfiniteRecord time.Duration = -1

// Transport 暴露给前端（CLI、GUI）的录放控制接口
type Transport interface {
	Record(delay, duration time.Duration) bool
	RecordDefault() bool
	Stop() bool
	Play() bool
	Pause() bool
	Discard()
	ExportFile(path string) error
	ExportPaths() []string
	State() TransportState
	Controller() *audio.Controller
	Close() error
}
