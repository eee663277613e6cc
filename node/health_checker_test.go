package node

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fixed(status string) CheckFunc {
	return func(context.Context) *SubsystemHealth { return &SubsystemHealth{Status: status} }
}

func TestHealthCheckerOverallStatus(t *testing.T) {
	tests := []struct {
		name     string
		statuses []string
		want     string
	}{
		{"none", nil, StatusHealthy},
		{"all healthy", []string{StatusHealthy, StatusHealthy}, StatusHealthy},
		{"one degraded", []string{StatusHealthy, StatusDegraded}, StatusDegraded},
		{"unhealthy wins", []string{StatusUnhealthy, StatusDegraded, StatusHealthy}, StatusUnhealthy},
		{"degraded after unhealthy", []string{StatusDegraded, StatusUnhealthy, StatusDegraded}, StatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hc := NewHealthChecker(0)
			for i, s := range tt.statuses {
				hc.RegisterSubsystem(string(rune('a'+i)), fixed(s))
			}
			report := hc.CheckAll(context.Background())
			if report.OverallStatus != tt.want {
				t.Errorf("OverallStatus = %s, want %s", report.OverallStatus, tt.want)
			}
			if len(report.Subsystems) != len(tt.statuses) {
				t.Errorf("Subsystems len = %d, want %d", len(report.Subsystems), len(tt.statuses))
			}
		})
	}
}

func TestHealthCheckerOrderAndReplace(t *testing.T) {
	hc := NewHealthChecker(0)
	hc.RegisterSubsystem("l1", fixed(StatusHealthy))
	hc.RegisterSubsystem("epochs", fixed(StatusHealthy))
	hc.RegisterSubsystem("l1", fixed(StatusUnhealthy))

	report := hc.CheckAll(context.Background())
	if len(report.Subsystems) != 2 {
		t.Fatalf("Subsystems len = %d, want 2", len(report.Subsystems))
	}
	if report.Subsystems[0].Name != "l1" || report.Subsystems[1].Name != "epochs" {
		t.Errorf("order = %s, %s", report.Subsystems[0].Name, report.Subsystems[1].Name)
	}
	if report.Subsystems[0].Status != StatusUnhealthy {
		t.Errorf("replaced checker not used: %s", report.Subsystems[0].Status)
	}
	healthy, _ := hc.HealthReport(context.Background())
	if healthy {
		t.Error("unhealthy subsystem should fail the report")
	}
}

func TestHealthCheckerNilAndTimeout(t *testing.T) {
	hc := NewHealthChecker(20 * time.Millisecond)
	hc.RegisterSubsystem("silent", CheckFunc(func(context.Context) *SubsystemHealth { return nil }))
	hc.RegisterSubsystem("slow", CheckFunc(func(ctx context.Context) *SubsystemHealth {
		<-ctx.Done()
		return &SubsystemHealth{Status: StatusUnhealthy, Message: ctx.Err().Error()}
	}))

	report := hc.CheckAll(context.Background())
	if report.Subsystems[0].Status != StatusUnhealthy {
		t.Errorf("nil report status = %s, want unhealthy", report.Subsystems[0].Status)
	}
	slow := report.Subsystems[1]
	if slow.Message != context.DeadlineExceeded.Error() {
		t.Errorf("slow check message = %q", slow.Message)
	}
	if slow.Latency < 20*time.Millisecond {
		t.Errorf("slow check latency = %s", slow.Latency)
	}
}

func TestComponentStates(t *testing.T) {
	c := newComponentStates()
	if h := c.Check(context.Background()); h.Status != StatusDegraded {
		t.Fatalf("before start: %s", h.Status)
	}
	c.started("api")
	c.started("listener")
	if h := c.Check(context.Background()); h.Status != StatusHealthy {
		t.Fatalf("running: %s (%s)", h.Status, h.Message)
	}
	c.stopped("listener", errors.New("rpc down"))
	h := c.Check(context.Background())
	if h.Status != StatusUnhealthy || h.Message != "listener stopped: rpc down" {
		t.Fatalf("after failure: %s (%s)", h.Status, h.Message)
	}
}
