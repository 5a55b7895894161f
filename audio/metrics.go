package audio

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 音频数据面的 Prometheus 指标。nil 接收者上的方法全部为空操作。
type Metrics struct {
	registry *prometheus.Registry

	framesCaptured    prometheus.Counter
	samplesDropped    *prometheus.CounterVec
	overruns          *prometheus.CounterVec
	workerRestarts    *prometheus.CounterVec
	playbackUnderruns prometheus.Counter
	activeBuffers     prometheus.Gauge
	workersRunning    *prometheus.GaugeVec
}

// NewMetrics 创建指标并注册到 registry，registry 为 nil 时新建一个
func NewMetrics(registry *prometheus.Registry) (*Metrics, error) {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		registry: registry,
		framesCaptured: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hulaloop_capture_frames_total",
			Help: "Total number of frames read from the active input device",
		}),
		samplesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hulaloop_buffer_samples_dropped_total",
			Help: "Samples dropped because a consumer buffer was full",
		}, []string{"buffer"}),
		overruns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hulaloop_buffer_overruns_total",
			Help: "Number of writes that exceeded a consumer buffer's free space",
		}, []string{"buffer"}),
		workerRestarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hulaloop_worker_restarts_total",
			Help: "Stream reopen attempts after a driver error",
		}, []string{"worker"}),
		playbackUnderruns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hulaloop_playback_underruns_total",
			Help: "Playback periods padded with silence",
		}),
		activeBuffers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hulaloop_registered_buffers",
			Help: "Number of ring buffers registered for capture fan-out",
		}),
		workersRunning: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hulaloop_worker_running",
			Help: "1 while the worker goroutine is running",
		}, []string{"worker"}),
	}

	collectors := []prometheus.Collector{
		m.framesCaptured,
		m.samplesDropped,
		m.overruns,
		m.workerRestarts,
		m.playbackUnderruns,
		m.activeBuffers,
		m.workersRunning,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Registry 返回指标所在的 registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) addFramesCaptured(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.framesCaptured.Add(float64(n))
}

func (m *Metrics) addDropped(buffer string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.samplesDropped.WithLabelValues(buffer).Add(float64(n))
}

func (m *Metrics) incOverrun(buffer string) {
	if m == nil {
		return
	}
	m.overruns.WithLabelValues(buffer).Inc()
}

func (m *Metrics) incRestart(worker string) {
	if m == nil {
		return
	}
	m.workerRestarts.WithLabelValues(worker).Inc()
}

func (m *Metrics) incUnderrun() {
	if m == nil {
		return
	}
	m.playbackUnderruns.Inc()
}

func (m *Metrics) setActiveBuffers(n int) {
	if m == nil {
		return
	}
	m.activeBuffers.Set(float64(n))
}

func (m *Metrics) setRunning(worker string, running bool) {
	if m == nil {
		return
	}
	v := 0.0
	if running {
		v = 1
	}
	m.workersRunning.WithLabelValues(worker).Set(v)
}
