package audio

import "errors"

var (
	ErrNilDevice          = errors.New("device is nil")
	ErrDeviceRole         = errors.New("device role not allowed for this slot")
	ErrDeviceParams       = errors.New("device format does not match pipeline format")
	ErrDeviceActivation   = errors.New("device activation failed")
	ErrDeviceNotFound     = errors.New("device not found")
	ErrBackendInit        = errors.New("audio backend initialization failed")
	ErrUnsupportedBackend = errors.New("unsupported audio backend")
	ErrStreamAborted      = errors.New("stream aborted")
	ErrClosed             = errors.New("audio backend closed")
)
