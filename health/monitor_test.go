package health

import (
	"sync"
	"testing"
	"time"
)

func TestNewMonitor(t *testing.T) {
	monitor := NewMonitor()

	if monitor == nil {
		t.Fatal("NewMonitor() returned nil")
	}

	if monitor.Count() != 0 {
		t.Errorf("New monitor should have 0 components, got %d", monitor.Count())
	}
}

func TestMonitor_Update(t *testing.T) {
	monitor := NewMonitor()

	status := Status{
		Component: "scheduler",
		Status:    "healthy",
		Message:   "replaying",
	}

	monitor.Update("scheduler", status)

	retrieved, exists := monitor.Get("scheduler")
	if !exists {
		t.Error("Component should exist after update")
	}

	if retrieved.Component != "scheduler" {
		t.Errorf("Expected component name 'scheduler', got %s", retrieved.Component)
	}

	if retrieved.Status != "healthy" {
		t.Errorf("Expected status 'healthy', got %s", retrieved.Status)
	}

	if retrieved.Timestamp.IsZero() {
		t.Error("Update should set timestamp if not provided")
	}
}

func TestMonitor_UpdateOverridesComponentName(t *testing.T) {
	monitor := NewMonitor()

	monitor.Update("emitter", Status{Component: "something-else", Status: "healthy"})

	retrieved, _ := monitor.Get("emitter")
	if retrieved.Component != "emitter" {
		t.Errorf("Update should override component name, got %s", retrieved.Component)
	}
}

func TestMonitor_ConvenienceUpdates(t *testing.T) {
	monitor := NewMonitor()

	monitor.UpdateHealthy("loader", "all streams loaded")
	monitor.UpdateDegraded("emitter", "publish latency high")
	monitor.UpdateUnhealthy("archiver", "store unavailable")

	if s, _ := monitor.Get("loader"); !s.IsHealthy() {
		t.Error("loader should be healthy")
	}
	if s, _ := monitor.Get("emitter"); !s.IsDegraded() {
		t.Error("emitter should be degraded")
	}
	if s, _ := monitor.Get("archiver"); !s.IsUnhealthy() {
		t.Error("archiver should be unhealthy")
	}
}

func TestMonitor_GetMissing(t *testing.T) {
	monitor := NewMonitor()

	_, exists := monitor.Get("nonexistent")
	if exists {
		t.Error("Get should report missing components")
	}
}

func TestMonitor_GetAllReturnsCopy(t *testing.T) {
	monitor := NewMonitor()
	monitor.UpdateHealthy("loader", "ok")

	all := monitor.GetAll()
	all["injected"] = NewHealthy("injected", "should not persist")

	if monitor.Count() != 1 {
		t.Error("mutating GetAll result should not affect the monitor")
	}
}

func TestMonitor_Remove(t *testing.T) {
	monitor := NewMonitor()
	monitor.UpdateHealthy("feed", "ok")

	monitor.Remove("feed")

	if _, exists := monitor.Get("feed"); exists {
		t.Error("Removed component should not exist")
	}
	if monitor.Count() != 0 {
		t.Errorf("Expected 0 components after removal, got %d", monitor.Count())
	}
}

func TestMonitor_AggregateHealth(t *testing.T) {
	monitor := NewMonitor()

	monitor.UpdateHealthy("loader", "ok")
	monitor.UpdateHealthy("scheduler", "ok")

	aggregate := monitor.AggregateHealth("dtreplay")
	if !aggregate.IsHealthy() {
		t.Errorf("All healthy components should aggregate healthy, got %s", aggregate.Status)
	}
	if len(aggregate.SubStatuses) != 2 {
		t.Errorf("Expected 2 sub-statuses, got %d", len(aggregate.SubStatuses))
	}

	monitor.UpdateDegraded("emitter", "slow")
	aggregate = monitor.AggregateHealth("dtreplay")
	if !aggregate.IsDegraded() {
		t.Errorf("Degraded component should aggregate degraded, got %s", aggregate.Status)
	}

	monitor.UpdateUnhealthy("archiver", "down")
	aggregate = monitor.AggregateHealth("dtreplay")
	if !aggregate.IsUnhealthy() {
		t.Errorf("Unhealthy component should aggregate unhealthy, got %s", aggregate.Status)
	}
}

func TestMonitor_ListComponents(t *testing.T) {
	monitor := NewMonitor()
	monitor.UpdateHealthy("loader", "ok")
	monitor.UpdateHealthy("scheduler", "ok")

	names := monitor.ListComponents()
	if len(names) != 2 {
		t.Errorf("Expected 2 component names, got %d", len(names))
	}
}

func TestMonitor_ConcurrentAccess(t *testing.T) {
	monitor := NewMonitor()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			monitor.UpdateHealthy("scheduler", "ok")
		}()
		go func() {
			defer wg.Done()
			_ = monitor.AggregateHealth("dtreplay")
			_, _ = monitor.Get("scheduler")
		}()
	}
	wg.Wait()

	if monitor.Count() != 1 {
		t.Errorf("Expected 1 component after concurrent updates, got %d", monitor.Count())
	}
}

func TestMonitor_UpdatePreservesTimestamp(t *testing.T) {
	monitor := NewMonitor()

	provided := time.Now().Add(-time.Hour)
	monitor.Update("loader", Status{Status: "healthy", Timestamp: provided})

	retrieved, _ := monitor.Get("loader")
	if !retrieved.Timestamp.Equal(provided) {
		t.Error("Update should preserve a provided timestamp")
	}
}
