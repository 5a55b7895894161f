package core

import (
	"os"
	"path/filepath"
	"time"

	"github.com/lisuiheng/hulaloop-go/audio"
	"github.com/lisuiheng/hulaloop-go/logger"
	"github.com/lisuiheng/hulaloop-go/protocols/websocket"
)

// Config 是完整的应用配置，与 YAML 文件结构一致
type Config struct {
	Audio     audio.Config            `mapstructure:"audio"`
	Transport TransportConfig         `mapstructure:"transport"`
	Monitor   websocket.MonitorConfig `mapstructure:"monitor"`
	Metrics   MetricsConfig           `mapstructure:"metrics"`
	Logging   logger.Config           `mapstructure:"logging"`
}

// TransportConfig 录放状态机配置
type TransportConfig struct {
	// SettleDelay 每次成功通过状态检查的命令返回前的等待时间
	SettleDelay time.Duration `mapstructure:"settle_delay"`
	TempDir     string        `mapstructure:"temp_dir"`
}

type MetricsConfig struct {
	Listen string `mapstructure:"listen"`
}

// DefaultTransportConfig 默认传输配置
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		SettleDelay: 250 * time.Millisecond,
		TempDir:     filepath.Join(os.TempDir(), "hulaloop"),
	}
}

// DefaultConfig 默认应用配置
func DefaultConfig() Config {
	return Config{
		Audio:     audio.DefaultConfig(),
		Transport: DefaultTransportConfig(),
		Monitor:   websocket.DefaultMonitorConfig(),
		Logging:   logger.DefaultConfig(),
	}
}
