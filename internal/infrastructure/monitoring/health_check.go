package monitoring

import (
	"context"
	"sync"
	"time"
)

// CheckFn reports whether one dependency is healthy.
type CheckFn func(ctx context.Context) error

// HealthChecker runs named dependency checks for the health endpoint.
type HealthChecker struct {
	mu      sync.RWMutex
	checks  map[string]CheckFn
	timeout time.Duration
}

// HealthStatus is the aggregate result returned to the health endpoint.
type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

func NewHealthChecker(timeout time.Duration) *HealthChecker {
	return &HealthChecker{
		checks:  make(map[string]CheckFn),
		timeout: timeout,
	}
}

// AddCheck registers a named dependency check.
func (h *HealthChecker) AddCheck(name string, check CheckFn) {
	h.mu.Lock()
	h.checks[name] = check
	h.mu.Unlock()
}

// CheckAll runs every registered check. Any failure marks the whole status
// unhealthy but all checks still run.
func (h *HealthChecker) CheckAll(ctx context.Context) HealthStatus {
	h.mu.RLock()
	checks := make(map[string]CheckFn, len(h.checks))
	for name, check := range h.checks {
		checks[name] = check
	}
	h.mu.RUnlock()

	status := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Checks:    make(map[string]string, len(checks)),
	}

	for name, check := range checks {
		checkCtx, cancel := context.WithTimeout(ctx, h.timeout)
		err := check(checkCtx)
		cancel()

		if err != nil {
			status.Status = "unhealthy"
			status.Checks[name] = err.Error()
			continue
		}
		status.Checks[name] = "healthy"
	}
	return status
}
