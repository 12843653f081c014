package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/kbukum/stagepipe/backend/exprmod"
	"github.com/kbukum/stagepipe/component"
	"github.com/kbukum/stagepipe/errors"
	"github.com/kbukum/stagepipe/logger"
	"github.com/kbukum/stagepipe/pipeconfig"
	"github.com/kbukum/stagepipe/scheduler"
	"github.com/kbukum/stagepipe/stage"
	"github.com/kbukum/stagepipe/stage/testutil"
)

const twoStage = `{
  "connections": [{"from": {"stage": 0, "output": "y"}, "to": [{"stage": 1, "input": "y"}]}],
  "input_map": {"x": [0, "x"]},
  "param_map": {"g0": 0, "g1": 1}
}`

func intOp(in, out string, f func(int) int) *testutil.MockModule {
	return testutil.NewUnary(in, out, func(v any) (any, error) {
		n, ok := v.(int)
		if !ok {
			return nil, fmt.Errorf("want int, got %T", v)
		}
		return f(n), nil
	})
}

func newExecutor(t *testing.T, modules []stage.Module, pipeline string, opts ...Option) *Executor {
	t.Helper()
	opts = append([]Option{WithLogger(logger.NewNop())}, opts...)
	e, err := New(modules, []byte(pipeline), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = e.Stop(context.Background()) })
	return e
}

func testTimeout(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestNew_Errors(t *testing.T) {
	double := func() stage.Module { return intOp("x", "y", func(n int) int { return 2 * n }) }
	tests := []struct {
		name     string
		modules  []stage.Module
		pipeline string
		code     errors.ErrorCode
	}{
		{"no modules", nil, twoStage, errors.ErrCodeEmptyStageList},
		{"cycle", []stage.Module{
			testutil.NewMockModule([]string{"a"}, []string{"b"}, nil),
			testutil.NewMockModule([]string{"b"}, []string{"a"}, nil),
		}, `{"connections": [
			{"from": {"stage": 0, "output": "b"}, "to": [{"stage": 1, "input": "b"}]},
			{"from": {"stage": 1, "output": "a"}, "to": [{"stage": 0, "input": "a"}]}]}`, errors.ErrCodeCyclicPipeline},
		{"port missing on module", []stage.Module{double()}, `{"input_map": {"x": [0, "nope"]}}`, errors.ErrCodeConfig},
		{"stage out of range", []stage.Module{double()}, `{"input_map": {"x": [3, "x"]}}`, errors.ErrCodeConfig},
		{"duplicate input key", []stage.Module{double()}, `{"input_map": {"x": [0, "x"], "x": [0, "x"]}}`, errors.ErrCodeConfig},
		{"duplicate module port", []stage.Module{testutil.NewMockModule([]string{"x", "x"}, nil, nil)}, `{"input_map": {"x": [0, "x"]}}`, errors.ErrCodeConfig},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.modules, []byte(tc.pipeline), WithLogger(logger.NewNop()))
			if !errors.HasCode(err, tc.code) {
				t.Fatalf("expected %s, got %v", tc.code, err)
			}
			if !errors.IsConfigError(err) {
				t.Errorf("expected a config error, got %v", err)
			}
		})
	}
}

func TestExecutor_TwoStageScenario(t *testing.T) {
	s0 := intOp("x", "y", func(n int) int { return n * 3 })
	s1 := intOp("y", "z", func(n int) int { return n - 1 })
	e := newExecutor(t, []stage.Module{s0, s1}, twoStage)

	if e.NumOutputs() != 1 {
		t.Errorf("expected 1 output, got %d", e.NumOutputs())
	}
	if diff := cmp.Diff([]string{"z"}, e.OutputNames()); diff != "" {
		t.Errorf("output names mismatch (-want +got):\n%s", diff)
	}

	id, err := e.PushInputs(context.Background(), map[string]any{"x": 5})
	if err != nil {
		t.Fatalf("PushInputs: %v", err)
	}
	res, err := e.PullOutputs(testTimeout(t))
	if err != nil {
		t.Fatalf("PullOutputs: %v", err)
	}
	if res.ID != id {
		t.Errorf("expected item %d, got %d", id, res.ID)
	}
	// S1.Run(y = S0.Run(x = 5)) = (5*3) - 1
	if diff := cmp.Diff(map[string]any{"z": 14}, res.Outputs); diff != "" {
		t.Errorf("outputs mismatch (-want +got):\n%s", diff)
	}
	if _, ok := e.TryPullOutputs(); ok {
		t.Error("expected exactly one resolved item")
	}
}

func TestExecutor_Routing(t *testing.T) {
	e := newExecutor(t, []stage.Module{
		intOp("x", "y", func(n int) int { return n }),
		intOp("y", "z", func(n int) int { return n }),
	}, twoStage)

	st, port, err := e.GetInputMap("x")
	if err != nil || st != 0 || port != "x" {
		t.Errorf("GetInputMap(x) = (%d, %s, %v)", st, port, err)
	}
	if _, _, err := e.GetInputMap("q"); !errors.HasCode(err, errors.ErrCodeUnknownInput) {
		t.Errorf("expected UNKNOWN_INPUT, got %v", err)
	}
	if st, err := e.GetParamsGroupMap("g1"); err != nil || st != 1 {
		t.Errorf("GetParamsGroupMap(g1) = (%d, %v)", st, err)
	}
	if _, err := e.GetParamsGroupMap("g9"); !errors.HasCode(err, errors.ErrCodeUnknownParamGroup) {
		t.Errorf("expected UNKNOWN_PARAM_GROUP, got %v", err)
	}
	if routes := e.Routes(); routes.Stages != 2 || len(routes.Params) != 2 {
		t.Errorf("unexpected routing table %+v", routes)
	}
}

func TestExecutor_StickyInputs(t *testing.T) {
	pipeline := `{"input_map": {"a": [0, "a"], "b": [0, "b"]}}`
	sum := testutil.NewMockModule([]string{"a", "b"}, []string{"s"}, func(_ context.Context, in map[string]any) (map[string]any, error) {
		return map[string]any{"s": in["a"].(int) + in["b"].(int)}, nil
	})
	e := newExecutor(t, []stage.Module{sum}, pipeline)
	ctx := testTimeout(t)

	if _, err := e.PushInputs(ctx, map[string]any{"a": 1}); !errors.HasCode(err, errors.ErrCodeMissingInput) {
		t.Fatalf("expected MISSING_INPUT, got %v", err)
	}
	if err := e.SetInput("b", 10); err != nil {
		t.Fatal(err)
	}
	if err := e.SetInput("c", 1); !errors.HasCode(err, errors.ErrCodeUnknownInput) {
		t.Errorf("expected UNKNOWN_INPUT, got %v", err)
	}

	pushAndGet := func(values map[string]any) any {
		t.Helper()
		id, err := e.PushInputs(ctx, values)
		if err != nil {
			t.Fatalf("PushInputs: %v", err)
		}
		res, err := e.Await(ctx, id)
		if err != nil || res.Err != nil {
			t.Fatalf("Await: %v %v", err, res.Err)
		}
		return res.Outputs["s"]
	}

	if got := pushAndGet(map[string]any{"a": 1}); got != 11 {
		t.Errorf("expected 11, got %v", got)
	}
	// a is remembered from the previous push
	if got := pushAndGet(map[string]any{"b": 20}); got != 21 {
		t.Errorf("expected 21, got %v", got)
	}
	if got := pushAndGet(nil); got != 21 {
		t.Errorf("expected 21, got %v", got)
	}
}

func TestExecutor_AdmissionWaitDoesNotBlockInputs(t *testing.T) {
	entered, release := make(chan struct{}, 4), make(chan struct{})
	gate := testutil.NewMockModule([]string{"x"}, []string{"y"}, func(_ context.Context, in map[string]any) (map[string]any, error) {
		entered <- struct{}{}
		<-release
		return map[string]any{"y": in["x"]}, nil
	})
	e := newExecutor(t, []stage.Module{gate}, `{"input_map": {"x": [0, "x"]}}`,
		WithSchedulerConfig(scheduler.Config{Mode: scheduler.ModePool, Workers: 1, MaxInFlight: 1, AdmitWait: 5 * time.Second}))
	ctx := testTimeout(t)

	first, err := e.PushInputs(ctx, map[string]any{"x": 1})
	if err != nil {
		t.Fatal(err)
	}
	<-entered

	waiting := make(chan error, 1)
	go func() {
		_, err := e.PushInputs(ctx, map[string]any{"x": 2})
		waiting <- err
	}()
	time.Sleep(20 * time.Millisecond)

	setDone := make(chan error, 1)
	go func() { setDone <- e.SetInput("x", 3) }()
	select {
	case err := <-setDone:
		if err != nil {
			t.Fatalf("SetInput: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("SetInput blocked behind a push waiting for admission")
	}

	close(release)
	if _, err := e.Await(ctx, first); err != nil {
		t.Fatal(err)
	}
	if err := <-waiting; err != nil {
		t.Fatalf("expected the waiting push to be admitted, got %v", err)
	}
}

func TestExecutor_SetParam(t *testing.T) {
	s0 := intOp("x", "y", func(n int) int { return n })
	s1 := intOp("y", "z", func(n int) int { return n })
	e := newExecutor(t, []stage.Module{s0, s1}, twoStage)
	ctx := context.Background()

	if err := e.SetParam(ctx, "g1", "w", []byte("blob")); err != nil {
		t.Fatalf("SetParam: %v", err)
	}
	if diff := cmp.Diff([][]byte{[]byte("blob")}, s1.Params()); diff != "" {
		t.Errorf("params mismatch (-want +got):\n%s", diff)
	}
	if err := e.SetParam(ctx, "missing", "w", []byte("blob")); !errors.HasCode(err, errors.ErrCodeUnknownParamGroup) {
		t.Errorf("expected UNKNOWN_PARAM_GROUP, got %v", err)
	}
	if len(s0.Params()) != 0 || len(s1.Params()) != 1 {
		t.Error("an unknown group must not touch any stage")
	}
}

func TestExecutor_FailedItemReportsStage(t *testing.T) {
	s0 := intOp("x", "y", func(n int) int { return n })
	s1 := testutil.NewFailing([]string{"y"}, []string{"z"}, fmt.Errorf("overflow"))
	e := newExecutor(t, []stage.Module{s0, s1}, twoStage)

	id, err := e.PushInputs(context.Background(), map[string]any{"x": 1})
	if err != nil {
		t.Fatal(err)
	}
	res, err := e.Await(testTimeout(t), id)
	if err != nil {
		t.Fatal(err)
	}
	appErr, ok := errors.AsAppError(res.Err)
	if !ok || appErr.Code != errors.ErrCodeItemFailed {
		t.Fatalf("expected ITEM_FAILED, got %v", res.Err)
	}
	if appErr.Details["stage"] != 1 {
		t.Errorf("expected stage=1, got %v", appErr.Details["stage"])
	}
	if res.Outputs != nil {
		t.Errorf("expected no outputs, got %v", res.Outputs)
	}
}

func TestExecutor_CooperativePolling(t *testing.T) {
	e := newExecutor(t, []stage.Module{
		intOp("x", "y", func(n int) int { return n + 1 }),
		intOp("y", "z", func(n int) int { return n * 2 }),
	}, twoStage, WithSchedulerConfig(scheduler.Config{Mode: scheduler.ModeCooperative}))

	id, err := e.PushInputs(context.Background(), map[string]any{"x": 1})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := e.TryGet(id); ok {
		t.Fatal("cooperative pipeline should not progress without a driver")
	}
	e.RunReady(context.Background())
	res, ok, err := e.TryGet(id)
	if !ok || err != nil {
		t.Fatalf("TryGet: ok=%v err=%v", ok, err)
	}
	if res.Outputs["z"] != 4 {
		t.Errorf("expected z=4, got %v", res.Outputs["z"])
	}
	if err := e.Discard(id); !errors.HasCode(err, errors.ErrCodeUnknownItem) {
		t.Errorf("expected UNKNOWN_ITEM for a collected item, got %v", err)
	}
}

func TestExecutor_ComponentLifecycle(t *testing.T) {
	m := intOp("x", "y", func(n int) int { return n }).WithLoadFunc(func(data []byte) error {
		if string(data) == "bad" {
			return fmt.Errorf("rejected")
		}
		return nil
	})
	e := newExecutor(t, []stage.Module{m}, `{"input_map": {"x": [0, "x"]}, "param_map": {"g": 0}}`, WithName("pipeline"))
	ctx := context.Background()

	var c component.Component = e
	if c.Name() != "pipeline" {
		t.Errorf("expected name pipeline, got %s", c.Name())
	}
	if err := c.Start(ctx); err != nil {
		t.Errorf("Start on a running executor should be a no-op, got %v", err)
	}
	if h := c.Health(ctx); h.Status != component.StatusHealthy {
		t.Errorf("expected healthy, got %+v", h)
	}

	_ = e.SetParam(ctx, "g", "k", []byte("bad"))
	h := c.Health(ctx)
	if h.Status != component.StatusDegraded {
		t.Errorf("expected degraded after a rejected load, got %+v", h)
	}
	if _, ok := h.Details["stage.0"]; !ok {
		t.Errorf("expected stage.0 detail, got %v", h.Details)
	}

	if err := c.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if h := c.Health(ctx); h.Status != component.StatusUnhealthy {
		t.Errorf("expected unhealthy after stop, got %+v", h)
	}
	if _, err := e.PushInputs(ctx, map[string]any{"x": 1}); !errors.HasCode(err, errors.ErrCodePipelineClosed) {
		t.Errorf("expected PIPELINE_CLOSED, got %v", err)
	}
	if d := e.Describe(); d.Type != "pipeline" {
		t.Errorf("unexpected description %+v", d)
	}
}

func TestExecutor_YAMLConfig(t *testing.T) {
	pipeline := `
connections:
  - from: {stage: 0, output: y}
    to:
      - {stage: 1, input: y}
input_map:
  x: [0, x]
`
	e := newExecutor(t, []stage.Module{
		intOp("x", "y", func(n int) int { return n + 2 }),
		intOp("y", "z", func(n int) int { return n * n }),
	}, pipeline, WithFormat(pipeconfig.FormatYAML))

	id, err := e.PushInputs(context.Background(), map[string]any{"x": 1})
	if err != nil {
		t.Fatal(err)
	}
	res, err := e.Await(testTimeout(t), id)
	if err != nil || res.Err != nil {
		t.Fatalf("Await: %v %v", err, res.Err)
	}
	if res.Outputs["z"] != 9 {
		t.Errorf("expected z=9, got %v", res.Outputs["z"])
	}
}

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestLoadFiles_ExprBackend(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"modules.json": `{
  "0": {"lib_name": "s0.code", "json_name": "s0.graph.json", "params_name": "s0.params.json", "dev": "1;0"},
  "1": {"lib_name": "s1.code", "json_name": "s1.graph.json"}
}`,
		"s0.code":        `{"bias": 1}`,
		"s0.graph.json":  `{"inputs": ["x"], "outputs": {"y": "x * params.w + consts.bias"}}`,
		"s0.params.json": `{"w": 2}`,
		"s1.code":        ``,
		"s1.graph.json":  `{"inputs": ["y"], "outputs": {"z": "y * y"}}`,
		"pipeline.yaml": `
connections:
  - from: {stage: 0, output: y}
    to: [{stage: 1, input: y}]
input_map: {x: [0, x]}
param_map: {first: 0}
`,
	})
	ctx := testTimeout(t)

	e, err := LoadFiles(ctx, exprmod.NewBackend(logger.NewNop()),
		filepath.Join(dir, "modules.json"), filepath.Join(dir, "pipeline.yaml"),
		WithLogger(logger.NewNop()))
	if err != nil {
		t.Fatalf("LoadFiles: %v", err)
	}
	defer e.Stop(ctx)

	id, err := e.PushInputs(ctx, map[string]any{"x": 3})
	if err != nil {
		t.Fatal(err)
	}
	res, err := e.Await(ctx, id)
	if err != nil || res.Err != nil {
		t.Fatalf("Await: %v %v", err, res.Err)
	}
	// y = 3*2 + 1 = 7, z = 49
	if res.Outputs["z"] != 49 {
		t.Errorf("expected z=49, got %v", res.Outputs["z"])
	}

	if err := e.SetParam(ctx, "first", "w", []byte(`{"w": 10}`)); err != nil {
		t.Fatal(err)
	}
	id, _ = e.PushInputs(ctx, nil)
	res, err = e.Await(ctx, id)
	if err != nil || res.Err != nil {
		t.Fatalf("Await: %v %v", err, res.Err)
	}
	// y = 3*10 + 1 = 31
	if res.Outputs["z"] != 961 {
		t.Errorf("expected z=961, got %v", res.Outputs["z"])
	}
}

func TestLoad_ArtifactFailure(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"s0.code":  "",
		"s0.graph": `{"inputs": ["x"], "outputs": {"y": "x"}}`,
	})
	artifacts := []stage.Artifact{{
		Code:   filepath.Join(dir, "s0.code"),
		Graph:  filepath.Join(dir, "s0.graph"),
		Device: stage.Device{Type: stage.DeviceCUDA},
	}}
	_, err := Load(context.Background(), exprmod.NewBackend(logger.NewNop()), artifacts,
		[]byte(`{"input_map": {"x": [0, "x"]}}`), WithLogger(logger.NewNop()))
	appErr, ok := errors.AsAppError(err)
	if !ok || appErr.Code != errors.ErrCodeArtifactLoad {
		t.Fatalf("expected ARTIFACT_LOAD_FAILURE, got %v", err)
	}
	if appErr.Details["artifact"] != "module" {
		t.Errorf("expected the module step to fail, got %v", appErr.Details["artifact"])
	}
}

func TestLoad_ArtifactsOutOfOrder(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"s0.code":  "",
		"s0.graph": `{"inputs": ["x"], "outputs": {"y": "x"}}`,
		"s1.graph": `{"inputs": ["y"], "outputs": {"z": "y"}}`,
	})
	artifacts := []stage.Artifact{
		{Index: 1, Code: filepath.Join(dir, "s0.code"), Graph: filepath.Join(dir, "s1.graph"), Device: stage.DefaultDevice},
		{Index: 0, Code: filepath.Join(dir, "s0.code"), Graph: filepath.Join(dir, "s0.graph"), Device: stage.DefaultDevice},
	}
	_, err := Load(context.Background(), exprmod.NewBackend(logger.NewNop()), artifacts,
		[]byte(twoStage), WithLogger(logger.NewNop()))
	if !errors.HasCode(err, errors.ErrCodeConfig) {
		t.Fatalf("expected CONFIG_ERROR, got %v", err)
	}
}
