package component

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// mockComponent implements Component for testing.
type mockComponent struct {
	name       string
	startErr   error
	stopErr    error
	health     Health
	desc       *Description
	startOrder *[]string
	stopOrder  *[]string
	stopCtx    context.Context
}

func (m *mockComponent) Name() string { return m.name }
func (m *mockComponent) Start(ctx context.Context) error {
	if m.startOrder != nil {
		*m.startOrder = append(*m.startOrder, m.name)
	}
	return m.startErr
}
func (m *mockComponent) Stop(ctx context.Context) error {
	m.stopCtx = ctx
	if m.stopOrder != nil {
		*m.stopOrder = append(*m.stopOrder, m.name)
	}
	return m.stopErr
}
func (m *mockComponent) Health(ctx context.Context) Health {
	return m.health
}

// describedComponent adds Describable to mockComponent.
type describedComponent struct {
	*mockComponent
}

func (d describedComponent) Describe() Description { return *d.desc }

func TestRegisterDuplicate(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&mockComponent{name: "pipeline"}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if err := r.Register(&mockComponent{name: "pipeline"}); err == nil {
		t.Error("expected error for duplicate registration")
	}
}

func TestGet(t *testing.T) {
	r := NewRegistry()
	r.Register(&mockComponent{name: "pipeline"})

	got := r.Get("pipeline")
	if got == nil {
		t.Fatal("expected to get registered component")
	}
	if got.Name() != "pipeline" {
		t.Errorf("expected 'pipeline', got %q", got.Name())
	}
	if r.Get("missing") != nil {
		t.Error("expected nil for unregistered component")
	}
}

func TestStartAll(t *testing.T) {
	r := NewRegistry()
	order := []string{}

	r.Register(&mockComponent{name: "pipeline", startOrder: &order})
	r.Register(&mockComponent{name: "http-server", startOrder: &order})

	if err := r.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll failed: %v", err)
	}

	if diff := cmp.Diff([]string{"pipeline", "http-server"}, order); diff != "" {
		t.Errorf("start order mismatch (-want +got):\n%s", diff)
	}
}

func TestStartAllError_StopsStarted(t *testing.T) {
	r := NewRegistry()
	starts, stops := []string{}, []string{}

	r.Register(&mockComponent{name: "pipeline", startOrder: &starts, stopOrder: &stops})
	r.Register(&mockComponent{name: "http-server", startOrder: &starts, stopOrder: &stops, startErr: fmt.Errorf("address in use")})
	r.Register(&mockComponent{name: "late", startOrder: &starts, stopOrder: &stops})

	if err := r.StartAll(context.Background()); err == nil {
		t.Fatal("expected error from StartAll")
	}
	if diff := cmp.Diff([]string{"pipeline", "http-server"}, starts); diff != "" {
		t.Errorf("start order mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"pipeline"}, stops); diff != "" {
		t.Errorf("expected only the started component to be stopped (-want +got):\n%s", diff)
	}
}

func TestStopAllReverseOrder(t *testing.T) {
	r := NewRegistry()
	order := []string{}

	r.Register(&mockComponent{name: "pipeline", stopOrder: &order})
	r.Register(&mockComponent{name: "http-server", stopOrder: &order})
	r.Register(&mockComponent{name: "exporter", stopOrder: &order})

	r.StartAll(context.Background())
	if err := r.StopAll(context.Background()); err != nil {
		t.Fatalf("StopAll failed: %v", err)
	}

	if diff := cmp.Diff([]string{"exporter", "http-server", "pipeline"}, order); diff != "" {
		t.Errorf("stop order mismatch (-want +got):\n%s", diff)
	}
}

func TestStopAllSkipsUnstarted(t *testing.T) {
	r := NewRegistry()
	order := []string{}
	r.Register(&mockComponent{name: "pipeline", stopOrder: &order})

	if err := r.StopAll(context.Background()); err != nil {
		t.Fatalf("StopAll failed: %v", err)
	}
	if len(order) != 0 {
		t.Errorf("expected 0 stops for unstarted components, got %d", len(order))
	}
}

func TestStopAllWithErrors(t *testing.T) {
	r := NewRegistry()
	r.Register(&mockComponent{name: "pipeline", stopErr: fmt.Errorf("drain timed out")})
	r.StartAll(context.Background())

	if err := r.StopAll(context.Background()); err == nil {
		t.Error("expected error from StopAll")
	}
}

func TestStopTimeout(t *testing.T) {
	r := NewRegistry()
	r.SetStopTimeout(time.Second)
	c := &mockComponent{name: "pipeline"}
	r.Register(c)
	r.StartAll(context.Background())
	r.StopAll(context.Background())

	deadline, ok := c.stopCtx.Deadline()
	if !ok {
		t.Fatal("expected stop context to carry a deadline")
	}
	if remaining := time.Until(deadline); remaining > time.Second {
		t.Errorf("expected deadline within 1s, got %v", remaining)
	}
}

func TestHealthAll(t *testing.T) {
	r := NewRegistry()
	r.Register(&mockComponent{
		name:   "pipeline",
		health: Health{Name: "pipeline", Status: StatusHealthy, Message: "running"},
	})
	r.Register(&mockComponent{
		name:   "http-server",
		health: Health{Name: "http-server", Status: StatusUnhealthy, Message: "not listening"},
	})

	results := r.HealthAll(context.Background())
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Status != StatusHealthy {
		t.Errorf("expected pipeline healthy, got %s", results[0].Status)
	}
	if results[1].Status != StatusUnhealthy {
		t.Errorf("expected server unhealthy, got %s", results[1].Status)
	}
}

func TestServiceHealth_Rollup(t *testing.T) {
	tests := []struct {
		name     string
		statuses []HealthStatus
		want     HealthStatus
	}{
		{"all healthy", []HealthStatus{StatusHealthy, StatusHealthy}, StatusHealthy},
		{"one degraded", []HealthStatus{StatusHealthy, StatusDegraded}, StatusDegraded},
		{"unhealthy wins", []HealthStatus{StatusDegraded, StatusUnhealthy}, StatusUnhealthy},
		{"degraded does not override unhealthy", []HealthStatus{StatusUnhealthy, StatusDegraded}, StatusUnhealthy},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := NewRegistry()
			for i, s := range tc.statuses {
				name := fmt.Sprintf("c%d", i)
				r.Register(&mockComponent{name: name, health: Health{Name: name, Status: s}})
			}
			sh := r.ServiceHealth(context.Background(), "stagepipe", "1.0.0")
			if sh.Status != tc.want {
				t.Errorf("expected %s, got %s", tc.want, sh.Status)
			}
			if sh.IsHealthy() != (tc.want != StatusUnhealthy) {
				t.Errorf("IsHealthy() = %v for status %s", sh.IsHealthy(), sh.Status)
			}
			if len(sh.Components) != len(tc.statuses) {
				t.Errorf("expected %d components, got %d", len(tc.statuses), len(sh.Components))
			}
		})
	}
}

func TestDescribe(t *testing.T) {
	r := NewRegistry()
	r.Register(describedComponent{&mockComponent{
		name: "pipeline",
		desc: &Description{Type: "pipeline", Details: "stages=3 mode=pool"},
	}})
	r.Register(&mockComponent{name: "plain"})
	r.Register(describedComponent{&mockComponent{
		name: "http-server",
		desc: &Description{Name: "HTTP Server", Type: "server", Port: 8080},
	}})

	want := []Description{
		{Name: "pipeline", Type: "pipeline", Details: "stages=3 mode=pool"},
		{Name: "HTTP Server", Type: "server", Port: 8080},
	}
	if diff := cmp.Diff(want, r.Describe()); diff != "" {
		t.Errorf("Describe mismatch (-want +got):\n%s", diff)
	}
}

func TestAll(t *testing.T) {
	r := NewRegistry()
	r.Register(&mockComponent{name: "a"})
	r.Register(&mockComponent{name: "b"})

	all := r.All()
	if len(all) != 2 || all[0].Name() != "a" || all[1].Name() != "b" {
		t.Errorf("unexpected components %v", all)
	}
}
