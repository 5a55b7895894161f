package audio

import (
	"fmt"
	"time"
)

// Format 管线统一的采样格式，样本为交错的 float32
type Format struct {
	SampleRate int
	Channels   int
}

// Validate 检查格式是否可用
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate: %d", f.SampleRate)
	}
	if f.Channels <= 0 {
		return fmt.Errorf("invalid channel count: %d", f.Channels)
	}
	return nil
}

// SamplesFor 给定时长对应的样本数（所有声道）
func (f Format) SamplesFor(seconds float64) int {
	return int(float64(f.SampleRate) * seconds * float64(f.Channels))
}

// Duration 样本数对应的时长
func (f Format) Duration(samples int) time.Duration {
	if f.SampleRate == 0 || f.Channels == 0 {
		return 0
	}
	return time.Duration(float64(samples) / float64(f.SampleRate*f.Channels) * float64(time.Second))
}

func (f Format) String() string {
	return fmt.Sprintf("%dHz/%dch", f.SampleRate, f.Channels)
}

// Config 音频层配置
type Config struct {
	Backend               string        `mapstructure:"backend"`
	SampleRate            int           `mapstructure:"sample_rate"`
	Channels              int           `mapstructure:"channels"`
	PeriodFrames          int           `mapstructure:"period_frames"`
	InputDevice           string        `mapstructure:"input_device"`
	OutputDevice          string        `mapstructure:"output_device"`
	PlaybackBufferSeconds float64       `mapstructure:"playback_buffer_seconds"`
	RecordBufferSeconds   float64       `mapstructure:"record_buffer_seconds"`
	JoinTimeout           time.Duration `mapstructure:"join_timeout"`
	StrictDeviceParams    bool          `mapstructure:"strict_device_params"`
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		Backend:               BackendAuto,
		SampleRate:            44100,
		Channels:              2,
		PeriodFrames:          512,
		PlaybackBufferSeconds: 1,
		RecordBufferSeconds:   2,
		JoinTimeout:           2 * time.Second,
		StrictDeviceParams:    true,
	}
}

// Format 配置对应的管线格式
func (c Config) Format() Format {
	return Format{SampleRate: c.SampleRate, Channels: c.Channels}
}

// withDefaults 零值字段回落到默认值
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Backend == "" {
		c.Backend = d.Backend
	}
	if c.SampleRate == 0 {
		c.SampleRate = d.SampleRate
	}
	if c.Channels == 0 {
		c.Channels = d.Channels
	}
	if c.PeriodFrames == 0 {
		c.PeriodFrames = d.PeriodFrames
	}
	if c.PlaybackBufferSeconds == 0 {
		c.PlaybackBufferSeconds = d.PlaybackBufferSeconds
	}
	if c.RecordBufferSeconds == 0 {
		c.RecordBufferSeconds = d.RecordBufferSeconds
	}
	if c.JoinTimeout == 0 {
		c.JoinTimeout = d.JoinTimeout
	}
	return c
}
