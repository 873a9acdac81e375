package health

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestStatusPredicates(t *testing.T) {
	tests := []struct {
		name      string
		status    Status
		healthy   bool
		degraded  bool
		unhealthy bool
	}{
		{"healthy", NewHealthy("c", "ok"), true, false, false},
		{"degraded", NewDegraded("c", "slow"), false, true, false},
		{"unhealthy", NewUnhealthy("c", "down"), false, false, true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if test.status.IsHealthy() != test.healthy {
				t.Errorf("IsHealthy: expected %v", test.healthy)
			}
			if test.status.IsDegraded() != test.degraded {
				t.Errorf("IsDegraded: expected %v", test.degraded)
			}
			if test.status.IsUnhealthy() != test.unhealthy {
				t.Errorf("IsUnhealthy: expected %v", test.unhealthy)
			}
		})
	}
}

func TestNewHealthy_Fields(t *testing.T) {
	status := NewHealthy("scheduler", "replaying")

	if status.Component != "scheduler" {
		t.Errorf("expected component 'scheduler', got %s", status.Component)
	}
	if !status.Healthy {
		t.Error("Healthy flag should be set")
	}
	if status.Message != "replaying" {
		t.Errorf("expected message 'replaying', got %s", status.Message)
	}
	if status.Timestamp.IsZero() {
		t.Error("timestamp should be set")
	}
}

func TestStatus_WithStats(t *testing.T) {
	stats := &Stats{
		Uptime:        5 * time.Minute,
		ErrorCount:    2,
		EventsHandled: 100,
	}

	status := NewHealthy("emitter", "ok").WithStats(stats)

	if status.Stats == nil {
		t.Fatal("stats should be attached")
	}
	if status.Stats.EventsHandled != 100 {
		t.Errorf("expected 100 events handled, got %d", status.Stats.EventsHandled)
	}
}

func TestStatus_WithSubStatus(t *testing.T) {
	parent := NewHealthy("dtreplay", "ok")
	child := NewDegraded("emitter", "slow")

	combined := parent.WithSubStatus(child)

	if len(combined.SubStatuses) != 1 {
		t.Fatalf("expected 1 sub-status, got %d", len(combined.SubStatuses))
	}
	if len(parent.SubStatuses) != 0 {
		t.Error("WithSubStatus should not mutate the receiver")
	}
}

func TestAggregate(t *testing.T) {
	tests := []struct {
		name     string
		statuses []Status
		expected string
	}{
		{"empty", nil, "healthy"},
		{"all healthy", []Status{NewHealthy("a", ""), NewHealthy("b", "")}, "healthy"},
		{"one degraded", []Status{NewHealthy("a", ""), NewDegraded("b", "")}, "degraded"},
		{"one unhealthy", []Status{NewDegraded("a", ""), NewUnhealthy("b", "")}, "unhealthy"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := Aggregate("system", test.statuses)
			if result.Status != test.expected {
				t.Errorf("expected %s, got %s", test.expected, result.Status)
			}
			if len(result.SubStatuses) != len(test.statuses) {
				t.Errorf("expected %d sub-statuses, got %d", len(test.statuses), len(result.SubStatuses))
			}
		})
	}
}

func TestFromError(t *testing.T) {
	status := FromError("emitter", nil)
	if !status.IsHealthy() {
		t.Error("nil error should produce healthy status")
	}

	status = FromError("emitter", errors.New("publish failed"))
	if !status.IsUnhealthy() {
		t.Error("error should produce unhealthy status")
	}
	if status.Message != "publish failed" {
		t.Errorf("unexpected message: %s", status.Message)
	}
}

func TestSanitizeErrorMessage(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		contains    string
		notContains string
	}{
		{
			"nats url",
			"connect to nats://broker.internal:4222 failed",
			"[URL]",
			"broker.internal",
		},
		{
			"http url",
			"fetch https://example.com/config failed",
			"[URL]",
			"example.com",
		},
		{
			"unix path",
			"open /var/lib/replay/sensor-a.csv failed",
			"[PATH]",
			"/var/lib",
		},
		{
			"ip address",
			"dial 192.168.1.100 refused",
			"[IP]",
			"192.168.1.100",
		},
		{
			"port",
			"listen on :8080 failed",
			"[PORT]",
			":8080",
		},
		{
			"credential",
			"auth password=hunter2 rejected",
			"[REDACTED]",
			"hunter2",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := sanitizeErrorMessage(test.input)
			if !strings.Contains(result, test.contains) {
				t.Errorf("expected %q in %q", test.contains, result)
			}
			if strings.Contains(result, test.notContains) {
				t.Errorf("did not expect %q in %q", test.notContains, result)
			}
		})
	}
}

func TestSanitizeErrorMessage_Empty(t *testing.T) {
	if sanitizeErrorMessage("") != "" {
		t.Error("empty input should stay empty")
	}
}
