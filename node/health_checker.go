// health_checker.go aggregates subsystem health checks into the report
// served at /healthz.
package node

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Status constants.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// SubsystemChecker is implemented by subsystems that report their health.
type SubsystemChecker interface {
	Check(ctx context.Context) *SubsystemHealth
}

// CheckFunc adapts a function to SubsystemChecker.
type CheckFunc func(ctx context.Context) *SubsystemHealth

// Check implements SubsystemChecker.
func (f CheckFunc) Check(ctx context.Context) *SubsystemHealth { return f(ctx) }

// SubsystemHealth describes the health of a single subsystem.
type SubsystemHealth struct {
	Name    string        `json:"name"`
	Status  string        `json:"status"`
	Message string        `json:"message,omitempty"`
	Latency time.Duration `json:"latency_ns"`
}

// HealthReport is the aggregate result of checking all subsystems.
type HealthReport struct {
	// OverallStatus is the worst status of any subsystem.
	OverallStatus string             `json:"status"`
	Subsystems    []*SubsystemHealth `json:"subsystems"`
	CheckedAt     time.Time          `json:"checked_at"`
	UptimeSeconds int64              `json:"uptime_seconds"`
}

// HealthChecker aggregates health from registered subsystem checkers.
// All methods are safe for concurrent use.
type HealthChecker struct {
	mu       sync.RWMutex
	checkers map[string]SubsystemChecker
	order    []string // insertion order
	started  time.Time
	timeout  time.Duration
}

// NewHealthChecker creates a checker bounding every check by timeout.
func NewHealthChecker(timeout time.Duration) *HealthChecker {
	return &HealthChecker{
		checkers: make(map[string]SubsystemChecker),
		started:  time.Now(),
		timeout:  timeout,
	}
}

// RegisterSubsystem registers a named subsystem health checker. If a
// checker with the same name already exists, it is replaced.
func (hc *HealthChecker) RegisterSubsystem(name string, checker SubsystemChecker) {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	if _, exists := hc.checkers[name]; !exists {
		hc.order = append(hc.order, name)
	}
	hc.checkers[name] = checker
}

// CheckAll runs all registered checks in registration order.
func (hc *HealthChecker) CheckAll(ctx context.Context) *HealthReport {
	hc.mu.RLock()
	names := make([]string, len(hc.order))
	copy(names, hc.order)
	checkers := make([]SubsystemChecker, len(names))
	for i, name := range names {
		checkers[i] = hc.checkers[name]
	}
	hc.mu.RUnlock()

	now := time.Now()
	report := &HealthReport{
		OverallStatus: StatusHealthy,
		CheckedAt:     now,
		UptimeSeconds: int64(now.Sub(hc.started).Seconds()),
	}
	for i, name := range names {
		health := hc.run(ctx, name, checkers[i])
		report.Subsystems = append(report.Subsystems, health)

		switch health.Status {
		case StatusUnhealthy:
			report.OverallStatus = StatusUnhealthy
		case StatusDegraded:
			if report.OverallStatus != StatusUnhealthy {
				report.OverallStatus = StatusDegraded
			}
		}
	}
	return report
}

func (hc *HealthChecker) run(ctx context.Context, name string, checker SubsystemChecker) *SubsystemHealth {
	if hc.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, hc.timeout)
		defer cancel()
	}
	start := time.Now()
	health := checker.Check(ctx)
	if health == nil {
		health = &SubsystemHealth{Status: StatusUnhealthy, Message: "no report"}
	}
	health.Name = name
	health.Latency = time.Since(start)
	return health
}

// HealthReport implements api.HealthReporter. Degraded counts as healthy.
func (hc *HealthChecker) HealthReport(ctx context.Context) (bool, any) {
	report := hc.CheckAll(ctx)
	return report.OverallStatus != StatusUnhealthy, report
}

// componentStates tracks the supervised components. A nil error marks a
// running component.
type componentStates struct {
	mu     sync.Mutex
	states map[string]error
}

func newComponentStates() *componentStates {
	return &componentStates{states: make(map[string]error)}
}

func (c *componentStates) started(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states[name] = nil
}

func (c *componentStates) stopped(name string, err error) {
	if err == nil {
		err = context.Canceled
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states[name] = err
}

// Check reports unhealthy when any started component has exited and
// degraded before any has started.
func (c *componentStates) Check(context.Context) *SubsystemHealth {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.states) == 0 {
		return &SubsystemHealth{Status: StatusDegraded, Message: "not started"}
	}
	for name, err := range c.states {
		if err != nil {
			return &SubsystemHealth{Status: StatusUnhealthy, Message: fmt.Sprintf("%s stopped: %v", name, err)}
		}
	}
	return &SubsystemHealth{Status: StatusHealthy, Message: fmt.Sprintf("%d running", len(c.states))}
}
