package metrics

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
)

// Decision labels recorded by the gatekeeper and the action guard.
type Decision string

const (
	DecisionAllowed          Decision = "allowed"
	DecisionAllowedFallback  Decision = "allowed_by_role_whitelist"
	DecisionForbidden        Decision = "forbidden"
	DecisionSignInRedirect   Decision = "sign_in_redirect"
	DecisionRefreshed        Decision = "refreshed"
	DecisionActionAllowed    Decision = "action_allowed"
	DecisionActionDenied     Decision = "action_denied"
	DecisionNotAuthenticated Decision = "not_authenticated"
	DecisionPolicyError      Decision = "policy_error"
)

// Metrics holds all performance counters for the application.
// Thread-safe via atomics and mutex.
type Metrics struct {
	TotalRequests     int64
	ActiveRequests    int64
	TotalErrors       int64
	TotalLatencyMs    int64
	MaxLatencyMs      int64
	StartTime         time.Time
	EndpointCounts    map[string]int64
	EndpointLatencies map[string]int64 // total ms per endpoint
	StatusCodes       map[int]int64
	Decisions         map[Decision]int64
	mu                sync.Mutex
}

var globalMetrics *Metrics
var once sync.Once

// New returns an empty, independent metrics set.
func New() *Metrics {
	return &Metrics{
		StartTime:         time.Now(),
		EndpointCounts:    make(map[string]int64),
		EndpointLatencies: make(map[string]int64),
		StatusCodes:       make(map[int]int64),
		Decisions:         make(map[Decision]int64),
	}
}

// GetMetrics returns the singleton metrics instance
func GetMetrics() *Metrics {
	once.Do(func() {
		globalMetrics = New()
	})
	return globalMetrics
}

// RecordDecision counts one authorization outcome. Safe on a nil receiver.
func (m *Metrics) RecordDecision(d Decision) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.Decisions[d]++
	m.mu.Unlock()
}

// Middleware tracks request count, latency, active connections, and error rates.
// A nil collector yields a pass-through middleware.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	if m == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			atomic.AddInt64(&m.ActiveRequests, 1)
			start := time.Now()

			err := next(c)

			latencyMs := time.Since(start).Milliseconds()
			atomic.AddInt64(&m.ActiveRequests, -1)
			atomic.AddInt64(&m.TotalRequests, 1)
			atomic.AddInt64(&m.TotalLatencyMs, latencyMs)

			// Update max latency (lock-free CAS loop)
			for {
				current := atomic.LoadInt64(&m.MaxLatencyMs)
				if latencyMs <= current {
					break
				}
				if atomic.CompareAndSwapInt64(&m.MaxLatencyMs, current, latencyMs) {
					break
				}
			}

			statusCode := c.Response().Status
			path := c.Path()
			if path == "" {
				path = c.Request().URL.Path
			}
			endpoint := fmt.Sprintf("%s %s", c.Request().Method, path)

			m.mu.Lock()
			m.EndpointCounts[endpoint]++
			m.EndpointLatencies[endpoint] += latencyMs
			m.StatusCodes[statusCode]++
			if statusCode >= 400 {
				atomic.AddInt64(&m.TotalErrors, 1)
			}
			m.mu.Unlock()

			return err
		}
	}
}

// Snapshot is a point-in-time snapshot of performance and authorization data
type Snapshot struct {
	TotalRequests  int64              `json:"total_requests"`
	ActiveRequests int64              `json:"active_requests"`
	TotalErrors    int64              `json:"total_errors"`
	ErrorRate      float64            `json:"error_rate_pct"`
	AvgLatencyMs   float64            `json:"avg_latency_ms"`
	MaxLatencyMs   int64              `json:"max_latency_ms"`
	RequestsPerSec float64            `json:"requests_per_sec"`
	UptimeSeconds  float64            `json:"uptime_seconds"`
	EndpointCounts map[string]int64   `json:"endpoint_counts"`
	EndpointAvgMs  map[string]int64   `json:"endpoint_avg_latency_ms"`
	StatusCodes    map[int]int64      `json:"status_codes"`
	Decisions      map[Decision]int64 `json:"authorization_decisions"`
}

// Snapshot copies the current counters. A nil collector reports zeros with
// empty maps.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{
			EndpointCounts: map[string]int64{},
			EndpointAvgMs:  map[string]int64{},
			StatusCodes:    map[int]int64{},
			Decisions:      map[Decision]int64{},
		}
	}
	total := atomic.LoadInt64(&m.TotalRequests)
	errors := atomic.LoadInt64(&m.TotalErrors)
	totalLatency := atomic.LoadInt64(&m.TotalLatencyMs)
	uptime := time.Since(m.StartTime).Seconds()

	var avgLatency float64
	if total > 0 {
		avgLatency = float64(totalLatency) / float64(total)
	}

	var errorRate float64
	if total > 0 {
		errorRate = float64(errors) / float64(total) * 100
	}

	var rps float64
	if uptime > 0 {
		rps = float64(total) / uptime
	}

	m.mu.Lock()
	endpointCounts := make(map[string]int64, len(m.EndpointCounts))
	endpointAvg := make(map[string]int64, len(m.EndpointLatencies))
	for k, v := range m.EndpointCounts {
		endpointCounts[k] = v
		if v > 0 {
			endpointAvg[k] = m.EndpointLatencies[k] / v
		}
	}
	statusCodes := make(map[int]int64, len(m.StatusCodes))
	for k, v := range m.StatusCodes {
		statusCodes[k] = v
	}
	decisions := make(map[Decision]int64, len(m.Decisions))
	for k, v := range m.Decisions {
		decisions[k] = v
	}
	m.mu.Unlock()

	return Snapshot{
		TotalRequests:  total,
		ActiveRequests: atomic.LoadInt64(&m.ActiveRequests),
		TotalErrors:    errors,
		ErrorRate:      errorRate,
		AvgLatencyMs:   avgLatency,
		MaxLatencyMs:   atomic.LoadInt64(&m.MaxLatencyMs),
		RequestsPerSec: rps,
		UptimeSeconds:  uptime,
		EndpointCounts: endpointCounts,
		EndpointAvgMs:  endpointAvg,
		StatusCodes:    statusCodes,
		Decisions:      decisions,
	}
}
