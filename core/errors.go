package core

import "errors"

var (
	ErrInvalidTransition = errors.New("invalid transport transition")
	ErrNoRecording       = errors.New("no recording available")
	ErrNothingToExport   = errors.New("nothing to export")
	ErrFormatMismatch    = errors.New("recording format does not match pipeline")
	ErrRecorderRunning   = errors.New("recorder already running")
	ErrPlayerRunning     = errors.New("player already running")
)
