//go:build darwin

package audio

import "github.com/gen2brain/malgo"

const (
	platformName = "coreaudio"
	// 系统没有原生环回，依赖 BlackHole 之类的虚拟声卡
	renderLoopback = false
)

func platformBackend() malgo.Backend { return malgo.BackendCoreaudio }

func classifyDevice(name string, kind malgo.DeviceType) DeviceType {
	if kind == malgo.Playback {
		return Playback
	}
	if isLoopbackName(name) {
		return Loopback
	}
	return Record
}
