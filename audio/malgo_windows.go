//go:build windows

package audio

import "github.com/gen2brain/malgo"

const (
	platformName   = "wasapi"
	renderLoopback = true
)

func platformBackend() malgo.Backend { return malgo.BackendWasapi }

// 每个渲染端点都可以按环回方式采集
func classifyDevice(_ string, kind malgo.DeviceType) DeviceType {
	if kind == malgo.Playback {
		return Playback | Loopback
	}
	return Record
}
