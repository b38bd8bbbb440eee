// Package monitoring watches the server process for goroutine leaks.
package monitoring

import (
	"encoding/json"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultCheckInterval  = 30 * time.Second
	DefaultAlertThreshold = 1000
	defaultAlertCooldown  = 5 * time.Minute
	restartDelay          = 5 * time.Second
)

// GoroutineMonitor samples runtime.NumGoroutine and warns when it passes a threshold
type GoroutineMonitor struct {
	mu             sync.RWMutex
	baseline       int
	current        int
	peak           int
	checkInterval  time.Duration
	alertThreshold int
	lastAlert      time.Time
	alertCooldown  time.Duration
	alerts         int
	gauges         map[string]func() int

	count    func() int
	now      func() time.Time
	logger   zerolog.Logger
	stopChan chan struct{}
	stopOnce sync.Once
}

// MonitorOption configures a GoroutineMonitor
type MonitorOption func(*GoroutineMonitor)

// WithCheckInterval sets the sampling period
func WithCheckInterval(d time.Duration) MonitorOption {
	return func(gm *GoroutineMonitor) {
		if d > 0 {
			gm.checkInterval = d
		}
	}
}

// WithAlertThreshold sets the goroutine count that triggers a warning
func WithAlertThreshold(n int) MonitorOption {
	return func(gm *GoroutineMonitor) {
		if n > 0 {
			gm.alertThreshold = n
		}
	}
}

// NewGoroutineMonitor creates a monitor using the current goroutine count as baseline
func NewGoroutineMonitor(logger zerolog.Logger, opts ...MonitorOption) *GoroutineMonitor {
	gm := &GoroutineMonitor{
		checkInterval:  DefaultCheckInterval,
		alertThreshold: DefaultAlertThreshold,
		alertCooldown:  defaultAlertCooldown,
		gauges:         make(map[string]func() int),
		count:          runtime.NumGoroutine,
		now:            time.Now,
		logger:         logger.With().Str("component", "goroutine_monitor").Logger(),
		stopChan:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(gm)
	}
	gm.baseline = gm.count()
	gm.current = gm.baseline
	gm.peak = gm.baseline
	return gm
}

// Start begins monitoring goroutines
func (gm *GoroutineMonitor) Start() {
	go gm.monitor()
	gm.logger.Info().
		Int("baseline", gm.baseline).
		Dur("interval", gm.checkInterval).
		Msg("Started goroutine monitoring")
}

// Stop stops the monitor. It is safe to call more than once.
func (gm *GoroutineMonitor) Stop() {
	gm.stopOnce.Do(func() { close(gm.stopChan) })
}

func (gm *GoroutineMonitor) monitor() {
	defer func() {
		if r := recover(); r != nil {
			gm.logger.Error().
				Interface("panic", r).
				Msg("Goroutine monitor panicked - restarting")
			select {
			case <-gm.stopChan:
				return
			case <-time.After(restartDelay):
			}
			go gm.monitor()
		}
	}()

	ticker := time.NewTicker(gm.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			gm.check()
		case <-gm.stopChan:
			return
		}
	}
}

// check samples the goroutine count and warns on a suspected leak
func (gm *GoroutineMonitor) check() {
	current := gm.count()
	now := gm.now()

	gm.mu.Lock()
	gm.current = current
	if current > gm.peak {
		gm.peak = current
	}
	growth := current - gm.baseline
	growthRate := 0.0
	if gm.baseline > 0 {
		growthRate = float64(growth) / float64(gm.baseline) * 100
	}
	shouldAlert := current > gm.alertThreshold && now.Sub(gm.lastAlert) > gm.alertCooldown
	if shouldAlert {
		gm.lastAlert = now
		gm.alerts++
	}
	peak := gm.peak
	gm.mu.Unlock()

	gm.logger.Debug().
		Int("current", current).
		Int("baseline", gm.baseline).
		Int("peak", peak).
		Float64("growth_rate", growthRate).
		Msg("Goroutine metrics")

	if shouldAlert {
		gm.logger.Warn().
			Int("current", current).
			Int("threshold", gm.alertThreshold).
			Float64("growth_rate", growthRate).
			Msg("High goroutine count detected - possible leak")
	}
}

// RegisterGauge reports a component's size alongside the goroutine metrics, for
// example the number of hosted environments or websocket viewers
func (gm *GoroutineMonitor) RegisterGauge(name string, gauge func() int) {
	gm.mu.Lock()
	defer gm.mu.Unlock()
	gm.gauges[name] = gauge
}

// GetMetrics returns current goroutine metrics
func (gm *GoroutineMonitor) GetMetrics() GoroutineMetrics {
	gm.mu.RLock()
	gauges := make(map[string]func() int, len(gm.gauges))
	for k, v := range gm.gauges {
		gauges[k] = v
	}
	m := GoroutineMetrics{
		Current:  gm.current,
		Baseline: gm.baseline,
		Peak:     gm.peak,
		Growth:   gm.current - gm.baseline,
		Alerts:   gm.alerts,
	}
	gm.mu.RUnlock()

	m.Components = make(map[string]int, len(gauges))
	for name, gauge := range gauges {
		m.Components[name] = gauge()
	}
	return m
}

// GoroutineMetrics contains goroutine statistics
type GoroutineMetrics struct {
	Current    int            `json:"current"`
	Baseline   int            `json:"baseline"`
	Peak       int            `json:"peak"`
	Growth     int            `json:"growth"`
	Alerts     int            `json:"alerts"`
	Components map[string]int `json:"components"`
}

// Handler serves the metrics as JSON
func (gm *GoroutineMonitor) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(gm.GetMetrics()); err != nil {
			gm.logger.Error().Err(err).Msg("Failed to write metrics")
		}
	})
}
