package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// ComponentStatus is the health state of one component.
type ComponentStatus string

const (
	StatusHealthy   ComponentStatus = "healthy"
	StatusDegraded  ComponentStatus = "degraded"
	StatusUnhealthy ComponentStatus = "unhealthy"
)

// HealthCheck probes one component.
type HealthCheck func(ctx context.Context) ComponentHealth

// ComponentHealth is the report for a single component.
type ComponentHealth struct {
	Name        string          `json:"name"`
	Status      ComponentStatus `json:"status"`
	Message     string          `json:"message,omitempty"`
	LastChecked time.Time       `json:"last_checked"`
}

// SystemHealth aggregates every component report.
type SystemHealth struct {
	Status     ComponentStatus            `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	Timestamp  time.Time                  `json:"ts"`
	Uptime     string                     `json:"uptime"`
}

// HealthMonitor runs registered checks on demand. Checks are cheap local
// probes (last scan age, last upstream success, store ping), so there is no
// background loop; the /healthz handler runs them synchronously.
type HealthMonitor struct {
	mu        sync.RWMutex
	checks    map[string]HealthCheck
	startTime time.Time
}

func NewHealthMonitor() *HealthMonitor {
	return &HealthMonitor{
		checks:    make(map[string]HealthCheck),
		startTime: time.Now(),
	}
}

// Register adds a named health check.
func (m *HealthMonitor) Register(name string, check HealthCheck) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[name] = check
}

// Check runs every registered check and aggregates the worst status.
func (m *HealthMonitor) Check(ctx context.Context) SystemHealth {
	m.mu.RLock()
	checks := make(map[string]HealthCheck, len(m.checks))
	for name, fn := range m.checks {
		checks[name] = fn
	}
	m.mu.RUnlock()

	components := make(map[string]ComponentHealth, len(checks))
	worst := StatusHealthy
	for name, fn := range checks {
		result := fn(ctx)
		result.Name = name
		result.LastChecked = time.Now()
		components[name] = result
		if statusSeverity(result.Status) > statusSeverity(worst) {
			worst = result.Status
		}
	}

	return SystemHealth{
		Status:     worst,
		Components: components,
		Timestamp:  time.Now(),
		Uptime:     time.Since(m.startTime).Round(time.Second).String(),
	}
}

// Handler serves the aggregate report as JSON. Unhealthy maps to 503 so
// load balancers and uptime probes can act on the status code alone.
func (m *HealthMonitor) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		health := m.Check(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if health.Status == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(health)
	})
}

func statusSeverity(s ComponentStatus) int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	case StatusUnhealthy:
		return 2
	default:
		return -1
	}
}

// StalenessCheck builds a check that degrades when a timestamp source goes
// stale. lastUnix returns 0 when the event has never happened, which reports
// healthy with a note so fresh processes do not flap on boot.
func StalenessCheck(lastUnix func() int64, degradedAfter, unhealthyAfter time.Duration) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		last := lastUnix()
		if last == 0 {
			return ComponentHealth{Status: StatusHealthy, Message: "no activity yet"}
		}
		age := time.Since(time.Unix(last, 0))
		switch {
		case age > unhealthyAfter:
			return ComponentHealth{Status: StatusUnhealthy, Message: "stale for " + age.Round(time.Second).String()}
		case age > degradedAfter:
			return ComponentHealth{Status: StatusDegraded, Message: "stale for " + age.Round(time.Second).String()}
		}
		return ComponentHealth{Status: StatusHealthy}
	}
}
