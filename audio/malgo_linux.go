//go:build linux

package audio

import "github.com/gen2brain/malgo"

const (
	platformName = "alsa"
	// ALSA 没有渲染端点环回，监听源以采集设备的形式出现
	renderLoopback = false
)

func platformBackend() malgo.Backend { return malgo.BackendAlsa }

func classifyDevice(name string, kind malgo.DeviceType) DeviceType {
	if kind == malgo.Playback {
		return Playback
	}
	if isLoopbackName(name) {
		return Loopback
	}
	return Record
}
