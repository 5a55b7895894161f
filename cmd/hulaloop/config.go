package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lisuiheng/hulaloop-go/core"
	"github.com/spf13/viper"
)

const envPrefix = "HULALOOP"

// loadConfig 读取配置文件，未指定路径且找不到文件时只使用默认值和环境变量
func loadConfig(configPath string) (core.Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v, core.DefaultConfig())

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("$HOME/.hulaloop")
		v.AddConfigPath("/etc/hulaloop")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return core.Config{}, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg core.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return core.Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

// setDefaults 注册全部键，环境变量才能覆盖没有出现在文件中的项
func setDefaults(v *viper.Viper, d core.Config) {
	v.SetDefault("audio.backend", d.Audio.Backend)
	v.SetDefault("audio.sample_rate", d.Audio.SampleRate)
	v.SetDefault("audio.channels", d.Audio.Channels)
	v.SetDefault("audio.period_frames", d.Audio.PeriodFrames)
	v.SetDefault("audio.input_device", d.Audio.InputDevice)
	v.SetDefault("audio.output_device", d.Audio.OutputDevice)
	v.SetDefault("audio.playback_buffer_seconds", d.Audio.PlaybackBufferSeconds)
	v.SetDefault("audio.record_buffer_seconds", d.Audio.RecordBufferSeconds)
	v.SetDefault("audio.join_timeout", d.Audio.JoinTimeout)
	v.SetDefault("audio.strict_device_params", d.Audio.StrictDeviceParams)

	v.SetDefault("transport.settle_delay", d.Transport.SettleDelay)
	v.SetDefault("transport.temp_dir", d.Transport.TempDir)

	v.SetDefault("monitor.enabled", d.Monitor.Enabled)
	v.SetDefault("monitor.listen", d.Monitor.Listen)
	v.SetDefault("monitor.buffer_seconds", d.Monitor.BufferSeconds)
	v.SetDefault("monitor.client_queue_bytes", d.Monitor.ClientQueueBytes)
	v.SetDefault("monitor.interval", d.Monitor.Interval)

	v.SetDefault("metrics.listen", d.Metrics.Listen)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.outputs", d.Logging.Outputs)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.max_size_mb", d.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", d.Logging.MaxBackups)
}
