package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/lisuiheng/hulaloop-go/audio"
	"github.com/lisuiheng/hulaloop-go/core"
	"github.com/lisuiheng/hulaloop-go/logger"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		if errors.Is(err, audio.ErrBackendInit) {
			logger.Error("Audio backend unavailable", "error", err)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// newRootCommand 组装命令树，配置在子命令运行前加载
func newRootCommand() *cobra.Command {
	var (
		configPath string
		debug      bool
		cfg        core.Config
	)

	root := &cobra.Command{
		Use:           "hulaloop",
		Short:         "System audio loopback recorder",
		Long:          "Capture, record and play back system-wide audio through a shared capture pipeline.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if debug {
				loaded.Logging.Level = "debug"
			}
			cfg = loaded
			if err := logger.Init(cfg.Logging); err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = logger.Close()
		},
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file (default searches ./config.yaml, $HOME/.hulaloop, /etc/hulaloop)")
	root.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")

	root.AddCommand(
		devicesCommand(&cfg),
		recordCommand(&cfg),
		shellCommand(&cfg),
	)
	return root
}
