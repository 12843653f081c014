package exprmod

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/kbukum/stagepipe/errors"
	"github.com/kbukum/stagepipe/logger"
	"github.com/kbukum/stagepipe/stage"
)

const scaleGraph = `{"inputs": ["x"], "outputs": {"y": "x * params.scale + consts.offset", "neg": "-x"}}`

func instantiate(t *testing.T, code, graph string) stage.Module {
	t.Helper()
	m, err := NewBackend(logger.NewNop()).Instantiate(context.Background(), []byte(code), graph, stage.DefaultDevice)
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	return m
}

func TestModule_Run(t *testing.T) {
	m := instantiate(t, `{"offset": 1}`, scaleGraph)

	if diff := cmp.Diff([]string{"neg", "y"}, m.Outputs()); diff != "" {
		t.Errorf("outputs mismatch (-want +got):\n%s", diff)
	}
	if err := m.LoadParameters([]byte(`{"scale": 3}`)); err != nil {
		t.Fatalf("LoadParameters: %v", err)
	}
	if err := m.SetInput("x", 5); err != nil {
		t.Fatal(err)
	}
	if err := m.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	y, err := m.GetOutput("y")
	if err != nil {
		t.Fatal(err)
	}
	if y != 16 {
		t.Errorf("expected y=16, got %v (%T)", y, y)
	}
	neg, _ := m.GetOutput("neg")
	if neg != -5 {
		t.Errorf("expected neg=-5, got %v", neg)
	}
}

func TestModule_YAMLGraphAndParams(t *testing.T) {
	graph := `
inputs: [a, b]
outputs:
  sum: a + b
  gt: a > params.limit
`
	m := instantiate(t, "", graph)
	if err := m.LoadParameters([]byte("limit: 2\n")); err != nil {
		t.Fatal(err)
	}
	_ = m.SetInput("a", 2)
	_ = m.SetInput("b", 3)
	if err := m.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if v, _ := m.GetOutput("sum"); v != 5 {
		t.Errorf("expected sum=5, got %v", v)
	}
	if v, _ := m.GetOutput("gt"); v != false {
		t.Errorf("expected gt=false, got %v", v)
	}
}

func TestModule_RunErrors(t *testing.T) {
	m := instantiate(t, "", `{"inputs": ["x"], "outputs": {"y": "x / \"a\""}}`)
	if err := m.Run(context.Background()); err == nil {
		t.Error("expected an error for an unset input")
	}
	_ = m.SetInput("x", 1)
	if err := m.Run(context.Background()); err == nil {
		t.Error("expected an evaluation error")
	}
	if _, err := m.GetOutput("y"); err == nil {
		t.Error("expected no output after failed runs")
	}
}

func TestModule_LoadParameters_Malformed(t *testing.T) {
	m := instantiate(t, "", scaleGraph)
	if err := m.LoadParameters([]byte("[1, 2")); err == nil {
		t.Error("expected malformed parameters to be rejected")
	}
	if err := m.LoadParameters(nil); err != nil {
		t.Errorf("empty blob should clear parameters, got %v", err)
	}
}

func TestBackend_InstantiateErrors(t *testing.T) {
	b := NewBackend(logger.NewNop())
	tests := []struct {
		name  string
		code  string
		graph string
		dev   stage.Device
	}{
		{"cuda device", "", scaleGraph, stage.Device{Type: stage.DeviceCUDA}},
		{"bad code", "[", scaleGraph, stage.DefaultDevice},
		{"empty graph", "", "", stage.DefaultDevice},
		{"no outputs", "", `{"inputs": ["x"]}`, stage.DefaultDevice},
		{"unknown field", "", `{"inputs": [], "outputs": {"y": "1"}, "layers": 3}`, stage.DefaultDevice},
		{"syntax error", "", `{"inputs": ["x"], "outputs": {"y": "x +"}}`, stage.DefaultDevice},
		{"reserved input", "", `{"inputs": ["params"], "outputs": {"y": "1"}}`, stage.DefaultDevice},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := b.Instantiate(context.Background(), []byte(tc.code), tc.graph, tc.dev); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestBackend_WithStageHandle(t *testing.T) {
	st, err := stage.New(0, instantiate(t, `{"offset": 0}`, scaleGraph))
	if err != nil {
		t.Fatal(err)
	}
	if err := st.LoadParameters([]byte(`{"scale": 2}`)); err != nil {
		t.Fatal(err)
	}
	out, err := st.Invoke(context.Background(), map[string]any{"x": 4})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(map[string]any{"y": 8, "neg": -4}, out); diff != "" {
		t.Errorf("outputs mismatch (-want +got):\n%s", diff)
	}

	if err := st.LoadParameters([]byte("{")); !errors.HasCode(err, errors.ErrCodeParameterLoad) {
		t.Errorf("expected PARAMETER_LOAD_FAILURE, got %v", err)
	}
}
