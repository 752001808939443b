package api

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"
)

type HealthStatus string

const (
	Healthy   HealthStatus = "healthy"
	Unhealthy HealthStatus = "unhealthy"
)

// ComponentHealth is the last check result for one dependency.
type ComponentHealth struct {
	Name      string        `json:"name"`
	Status    HealthStatus  `json:"status"`
	Message   string        `json:"message"`
	LastCheck time.Time     `json:"last_check"`
	Latency   time.Duration `json:"latency,omitempty"`
}

type SystemHealth struct {
	OverallStatus HealthStatus      `json:"overall_status"`
	Timestamp     time.Time         `json:"timestamp"`
	Components    []ComponentHealth `json:"components"`
	Uptime        string            `json:"uptime"`
	Version       string            `json:"version,omitempty"`
}

// HealthChecker runs registered dependency checks on demand.
type HealthChecker struct {
	mu        sync.Mutex
	checkers  map[string]func(context.Context) error
	startTime time.Time
	version   string
}

func NewHealthChecker(version string) *HealthChecker {
	return &HealthChecker{
		checkers:  make(map[string]func(context.Context) error),
		startTime: time.Now(),
		version:   version,
	}
}

// Register adds or replaces the check for name.
func (hc *HealthChecker) Register(name string, check func(context.Context) error) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checkers[name] = check
}

// Check runs every check and reports unhealthy if any fails.
func (hc *HealthChecker) Check(ctx context.Context) SystemHealth {
	hc.mu.Lock()
	names := make([]string, 0, len(hc.checkers))
	checks := make(map[string]func(context.Context) error, len(hc.checkers))
	for name, check := range hc.checkers {
		names = append(names, name)
		checks[name] = check
	}
	hc.mu.Unlock()
	sort.Strings(names)

	overall := Healthy
	components := make([]ComponentHealth, 0, len(names))
	for _, name := range names {
		start := time.Now()
		err := checks[name](ctx)
		c := ComponentHealth{
			Name:      name,
			Status:    Healthy,
			Message:   "OK",
			LastCheck: time.Now(),
			Latency:   time.Since(start),
		}
		if err != nil {
			c.Status = Unhealthy
			c.Message = err.Error()
			overall = Unhealthy
		}
		components = append(components, c)
	}

	return SystemHealth{
		OverallStatus: overall,
		Timestamp:     time.Now(),
		Components:    components,
		Uptime:        time.Since(hc.startTime).Round(time.Second).String(),
		Version:       hc.version,
	}
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	health := s.health.Check(ctx)
	status := http.StatusOK
	if health.OverallStatus != Healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}
