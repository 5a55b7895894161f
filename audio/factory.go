package audio

import (
	"fmt"
	"log/slog"
	"strings"
)

const (
	BackendAuto      = "auto"
	BackendMalgo     = "malgo"
	BackendPortAudio = "portaudio"
	BackendNull      = "null"
)

// NewBackend 按配置选择驱动并构建 Backend。
// auto 依次尝试平台原生驱动和 PortAudio，全部失败时返回 ErrBackendInit。
func NewBackend(cfg Config, logger *slog.Logger, metrics *Metrics) (Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	if err := cfg.Format().Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendInit, err)
	}

	driver, err := newDriver(cfg, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("Audio backend initialized",
		"driver", driver.Name(),
		"format", cfg.Format().String(),
		"period_frames", cfg.PeriodFrames)
	return newBackend(driver, cfg, logger, metrics), nil
}

func newDriver(cfg Config, logger *slog.Logger) (Driver, error) {
	switch name := strings.ToLower(cfg.Backend); name {
	case BackendMalgo:
		d, err := newMalgoDriver(logger)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBackendInit, err)
		}
		return d, nil
	case BackendPortAudio:
		d, err := newPortAudioDriver(logger)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBackendInit, err)
		}
		return d, nil
	case BackendNull:
		return newNullDriver(cfg.Format()), nil
	case BackendAuto:
		d, err := newMalgoDriver(logger)
		if err == nil {
			return d, nil
		}
		logger.Warn("Native audio driver unavailable, falling back to PortAudio", "error", err)

		pd, perr := newPortAudioDriver(logger)
		if perr != nil {
			return nil, fmt.Errorf("%w: %v; %v", ErrBackendInit, err, perr)
		}
		return pd, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedBackend, cfg.Backend)
	}
}
