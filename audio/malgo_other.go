//go:build !linux && !windows && !darwin

package audio

import "github.com/gen2brain/malgo"

const (
	platformName   = "malgo-null"
	renderLoopback = false
)

func platformBackend() malgo.Backend { return malgo.BackendNull }

func classifyDevice(_ string, kind malgo.DeviceType) DeviceType {
	if kind == malgo.Playback {
		return Playback
	}
	return Record
}
