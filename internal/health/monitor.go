// Package health implements the HealthMonitor component of spec.md
// §4.12: heartbeat-timeout detection and a restart sequence for the
// Worker, plus a metrics snapshot exposed both as a plain struct and as
// Prometheus gauges/counters (the latter following the sibling
// vjache-cie example's choice of github.com/prometheus/client_golang
// for this domain).
package health

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Controllable is the subset of Worker that HealthMonitor needs in order
// to observe and restart it.
type Controllable interface {
	Start(ctx context.Context) error
	Stop()
	IsRunning() bool
	LastHeartbeat() time.Time
	WatchedProjects() int
	PendingEvents() int
}

// Config tunes the monitor away from its spec defaults.
type Config struct {
	CheckInterval    time.Duration
	HeartbeatTimeout time.Duration
	MaxFailures      int
	RestartStopWait  time.Duration
	RestartStartWait time.Duration
}

// DefaultConfig matches spec.md §4.12.
var DefaultConfig = Config{
	CheckInterval:    10 * time.Second,
	HeartbeatTimeout: 30 * time.Second,
	MaxFailures:      3,
	RestartStopWait:  2 * time.Second,
	RestartStartWait: 5 * time.Second,
}

func (c Config) withDefaults() Config {
	d := DefaultConfig
	if c.CheckInterval <= 0 {
		c.CheckInterval = d.CheckInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = d.HeartbeatTimeout
	}
	if c.MaxFailures <= 0 {
		c.MaxFailures = d.MaxFailures
	}
	if c.RestartStopWait <= 0 {
		c.RestartStopWait = d.RestartStopWait
	}
	if c.RestartStartWait <= 0 {
		c.RestartStartWait = d.RestartStartWait
	}
	return c
}

// Snapshot is the metrics snapshot named in spec.md §4.12.
type Snapshot struct {
	Healthy          bool
	Running          bool
	RestartCount     int
	FailureCount     int
	CPUPercent       float64
	MemoryMB         float64
	WatchedProjects  int
	PendingEvents    int
	TimeSinceHeartbeat time.Duration
}

// Monitor observes a Controllable Worker and restarts it after
// heartbeat timeouts, alerting persistently after MaxFailures
// consecutive restart failures.
type Monitor struct {
	cfg     Config
	worker  Controllable
	now     func() time.Time
	sleep   func(time.Duration)

	mu              sync.Mutex
	restartCount    int
	failureCount    int
	persistentAlert bool

	metrics *promMetrics
}

type promMetrics struct {
	healthy         prometheus.Gauge
	running         prometheus.Gauge
	restartCount    prometheus.Counter
	failureCount    prometheus.Counter
	memoryMB        prometheus.Gauge
	watchedProjects prometheus.Gauge
	pendingEvents   prometheus.Gauge
}

func newPromMetrics(reg prometheus.Registerer) *promMetrics {
	m := &promMetrics{
		healthy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "knowsync", Subsystem: "health", Name: "healthy",
			Help: "1 if the worker is healthy, 0 otherwise.",
		}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "knowsync", Subsystem: "health", Name: "running",
			Help: "1 if the worker is currently running.",
		}),
		restartCount: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "knowsync", Subsystem: "health", Name: "restarts_total",
			Help: "Total number of worker restarts attempted.",
		}),
		failureCount: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "knowsync", Subsystem: "health", Name: "restart_failures_total",
			Help: "Total number of consecutive restart failures observed.",
		}),
		memoryMB: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "knowsync", Subsystem: "health", Name: "memory_mb",
			Help: "Resident Go heap size in megabytes.",
		}),
		watchedProjects: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "knowsync", Subsystem: "health", Name: "watched_projects",
			Help: "Number of projects currently being watched.",
		}),
		pendingEvents: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "knowsync", Subsystem: "health", Name: "pending_events",
			Help: "Number of file events buffered but not yet consumed.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.healthy, m.running, m.restartCount, m.failureCount,
			m.memoryMB, m.watchedProjects, m.pendingEvents)
	}
	return m
}

// New builds a Monitor. reg may be nil to skip Prometheus registration
// (e.g. in tests).
func New(cfg Config, worker Controllable, reg prometheus.Registerer) *Monitor {
	return &Monitor{
		cfg:     cfg.withDefaults(),
		worker:  worker,
		now:     time.Now,
		sleep:   time.Sleep,
		metrics: newPromMetrics(reg),
	}
}

// Run blocks, checking the worker every CheckInterval until ctx is
// cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.checkOnce(ctx)
		}
	}
}

func (m *Monitor) checkOnce(ctx context.Context) {
	sinceHeartbeat := m.now().Sub(m.worker.LastHeartbeat())
	unhealthy := !m.worker.IsRunning() || sinceHeartbeat > m.cfg.HeartbeatTimeout

	m.updateMetricsSnapshot(!unhealthy)

	if !unhealthy {
		m.mu.Lock()
		m.failureCount = 0
		m.mu.Unlock()
		return
	}

	m.restart(ctx)
}

// restart performs the stop / sleep 2s / start / sleep 5s / re-check
// sequence from spec.md §4.12.
func (m *Monitor) restart(ctx context.Context) {
	m.mu.Lock()
	m.restartCount++
	if m.metrics.restartCount != nil {
		m.metrics.restartCount.Inc()
	}
	m.mu.Unlock()

	m.worker.Stop()
	m.sleep(m.cfg.RestartStopWait)
	err := m.worker.Start(ctx)
	m.sleep(m.cfg.RestartStartWait)

	recovered := err == nil && m.worker.IsRunning() &&
		m.now().Sub(m.worker.LastHeartbeat()) <= m.cfg.HeartbeatTimeout

	m.mu.Lock()
	defer m.mu.Unlock()
	if recovered {
		m.failureCount = 0
		m.persistentAlert = false
		return
	}

	m.failureCount++
	if m.metrics.failureCount != nil {
		m.metrics.failureCount.Inc()
	}
	if m.failureCount >= m.cfg.MaxFailures {
		m.persistentAlert = true
	}
}

func (m *Monitor) updateMetricsSnapshot(healthy bool) {
	var mstats runtime.MemStats
	runtime.ReadMemStats(&mstats)
	memoryMB := float64(mstats.Alloc) / (1024 * 1024)

	if m.metrics.healthy != nil {
		boolGauge(m.metrics.healthy, healthy)
		boolGauge(m.metrics.running, m.worker.IsRunning())
		m.metrics.memoryMB.Set(memoryMB)
		m.metrics.watchedProjects.Set(float64(m.worker.WatchedProjects()))
		m.metrics.pendingEvents.Set(float64(m.worker.PendingEvents()))
	}
}

func boolGauge(g prometheus.Gauge, v bool) {
	if v {
		g.Set(1)
	} else {
		g.Set(0)
	}
}

// PersistentAlert reports whether consecutive restart failures have
// reached MaxFailures.
func (m *Monitor) PersistentAlert() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.persistentAlert
}

// Snapshot returns the current metrics snapshot named in spec.md §4.12.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	restartCount, failureCount := m.restartCount, m.failureCount
	m.mu.Unlock()

	var mstats runtime.MemStats
	runtime.ReadMemStats(&mstats)

	sinceHeartbeat := m.now().Sub(m.worker.LastHeartbeat())
	running := m.worker.IsRunning()
	healthy := running && sinceHeartbeat <= m.cfg.HeartbeatTimeout

	return Snapshot{
		Healthy:            healthy,
		Running:            running,
		RestartCount:       restartCount,
		FailureCount:       failureCount,
		CPUPercent:         0, // no portable stdlib CPU-percent source; see DESIGN.md
		MemoryMB:           float64(mstats.Alloc) / (1024 * 1024),
		WatchedProjects:    m.worker.WatchedProjects(),
		PendingEvents:      m.worker.PendingEvents(),
		TimeSinceHeartbeat: sinceHeartbeat,
	}
}
