package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/lisuiheng/hulaloop-go/audio"
	"github.com/lisuiheng/hulaloop-go/core"
	"github.com/lisuiheng/hulaloop-go/logger"
	"github.com/lisuiheng/hulaloop-go/protocols/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"
)

const shutdownTimeout = 3 * time.Second

// app 一次命令运行所需的录放状态机和可选的 HTTP 端点
type app struct {
	transport *core.Transport
	monitor   *websocket.Monitor
	servers   []*http.Server
	logger    *slog.Logger
}

func newApp(ctx context.Context, cfg core.Config) (*app, error) {
	log := logger.Component("app")

	metrics, err := audio.NewMetrics(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}
	tr, err := core.NewTransport(cfg, metrics, logger.Logger())
	if err != nil {
		return nil, err
	}
	a := &app{transport: tr, logger: log}

	muxes := make(map[string]*http.ServeMux)
	muxFor := func(addr string) *http.ServeMux {
		if m, ok := muxes[addr]; ok {
			return m
		}
		m := http.NewServeMux()
		muxes[addr] = m
		return m
	}

	if cfg.Metrics.Listen != "" {
		muxFor(cfg.Metrics.Listen).Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{
			ErrorHandling: promhttp.HTTPErrorOnError,
		}))
	}
	if cfg.Monitor.Enabled {
		a.monitor = websocket.NewMonitor(tr.Controller(), cfg.Monitor, logger.Logger())
		if err := a.monitor.Start(ctx); err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("failed to start monitor: %w", err)
		}
		muxFor(cfg.Monitor.Listen).Handle("/monitor", a.monitor)
	}

	for addr, mux := range muxes {
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		a.servers = append(a.servers, srv)
		go func() {
			log.Info("HTTP endpoint listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("HTTP endpoint failed", "addr", addr, "error", err)
			}
		}()
	}
	return a, nil
}

// Close 先关闭端点和监听消费者，再关闭状态机
func (a *app) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var err error
	for _, srv := range a.servers {
		err = multierr.Append(err, srv.Shutdown(ctx))
	}
	if a.monitor != nil {
		err = multierr.Append(err, a.monitor.Close())
	}
	err = multierr.Append(err, a.transport.Close())
	if err != nil {
		a.logger.Error("Shutdown finished with errors", "error", err)
	}
	return err
}
