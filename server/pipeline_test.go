package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/go-cmp/cmp"

	"github.com/kbukum/stagepipe/component"
	apperrors "github.com/kbukum/stagepipe/errors"
	"github.com/kbukum/stagepipe/executor"
	"github.com/kbukum/stagepipe/logger"
	"github.com/kbukum/stagepipe/scheduler"
	"github.com/kbukum/stagepipe/stage"
	"github.com/kbukum/stagepipe/stage/testutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const twoStage = `{
  "connections": [{"from": {"stage": 0, "output": "y"}, "to": [{"stage": 1, "input": "y"}]}],
  "input_map": {"x": [0, "x"]},
  "param_map": {"g0": 0, "g1": 1}
}`

// JSON numbers arrive as float64.
func floatOp(in, out string, f func(float64) float64) *testutil.MockModule {
	return testutil.NewUnary(in, out, func(v any) (any, error) {
		n, ok := v.(float64)
		if !ok {
			return nil, fmt.Errorf("want float64, got %T", v)
		}
		return f(n), nil
	})
}

type apiFixture struct {
	exec    *executor.Executor
	handler http.Handler
	sink    *testutil.MockModule
}

func newAPI(t *testing.T, sink stage.Module, mode scheduler.Mode, maxBody string) *apiFixture {
	t.Helper()
	if sink == nil {
		sink = floatOp("y", "z", func(n float64) float64 { return n - 1 })
	}
	e, err := executor.New(
		[]stage.Module{floatOp("x", "y", func(n float64) float64 { return n * 3 }), sink},
		[]byte(twoStage),
		executor.WithLogger(logger.NewNop()),
		executor.WithSchedulerConfig(scheduler.Config{Mode: mode, Workers: 2}),
	)
	if err != nil {
		t.Fatalf("executor.New: %v", err)
	}
	t.Cleanup(func() { _ = e.Stop(context.Background()) })

	s := New(Config{Host: "127.0.0.1", MaxBodySize: maxBody}, logger.NewNop())
	s.ApplyDefaults("stagepipe", "test", func(ctx context.Context) []component.Health {
		return []component.Health{e.Health(ctx)}
	})
	s.RegisterPipeline(e)

	f := &apiFixture{exec: e, handler: s.Handler()}
	if m, ok := sink.(*testutil.MockModule); ok {
		f.sink = m
	}
	return f
}

func (f *apiFixture) do(t *testing.T, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader = http.NoBody
	if body != nil {
		r = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	return rr
}

func decodeItem(t *testing.T, rr *httptest.ResponseRecorder) ItemResult {
	t.Helper()
	var env struct {
		Data ItemResult `json:"data"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("invalid item body %q: %v", rr.Body.String(), err)
	}
	return env.Data
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) apperrors.ErrorBody {
	t.Helper()
	var resp apperrors.ErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid error body %q: %v", rr.Body.String(), err)
	}
	return resp.Error
}

func TestPipelineAPI_PushAndWait(t *testing.T) {
	f := newAPI(t, nil, scheduler.ModePool, "")

	rr := f.do(t, http.MethodPost, "/v1/items?wait=5s", []byte(`{"x": 5}`))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	item := decodeItem(t, rr)
	if item.Status != ItemCompleted || item.ID != 1 {
		t.Errorf("unexpected item %+v", item)
	}
	if diff := cmp.Diff(map[string]any{"z": float64(14)}, item.Outputs); diff != "" {
		t.Errorf("outputs mismatch (-want +got):\n%s", diff)
	}
	if rr.Header().Get("X-Request-Id") == "" {
		t.Error("expected a request id on the response")
	}
}

func TestPipelineAPI_PendingThenGet(t *testing.T) {
	f := newAPI(t, nil, scheduler.ModeCooperative, "")

	rr := f.do(t, http.MethodPost, "/v1/items", []byte(`{"x": 2}`))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
	if loc := rr.Header().Get("Location"); loc != "/v1/items/1" {
		t.Errorf("unexpected Location %q", loc)
	}

	rr = f.do(t, http.MethodGet, "/v1/items/1", nil)
	if rr.Code != http.StatusAccepted || decodeItem(t, rr).Status != ItemPending {
		t.Fatalf("expected pending item, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = f.do(t, http.MethodGet, "/v1/items/1?wait=1", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	item := decodeItem(t, rr)
	if item.Outputs["z"] != float64(5) {
		t.Errorf("expected z=5, got %v", item.Outputs)
	}
	want := []scheduler.Status{scheduler.StatusCompleted, scheduler.StatusCompleted}
	if diff := cmp.Diff(want, item.Stages); diff != "" {
		t.Errorf("stages mismatch (-want +got):\n%s", diff)
	}

	rr = f.do(t, http.MethodGet, "/v1/items/1", nil)
	if rr.Code != http.StatusNotFound || decodeError(t, rr).Code != apperrors.ErrCodeUnknownItem {
		t.Errorf("a collected item should be unknown, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestPipelineAPI_NextInSubmissionOrder(t *testing.T) {
	f := newAPI(t, nil, scheduler.ModePool, "")

	for i := 1; i <= 3; i++ {
		rr := f.do(t, http.MethodPost, "/v1/items", []byte(fmt.Sprintf(`{"x": %d}`, i)))
		if rr.Code != http.StatusAccepted {
			t.Fatalf("push %d: %d %s", i, rr.Code, rr.Body.String())
		}
	}
	for i := 1; i <= 3; i++ {
		rr := f.do(t, http.MethodGet, "/v1/items/next?wait=5s", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("next %d: %d %s", i, rr.Code, rr.Body.String())
		}
		item := decodeItem(t, rr)
		if item.ID != uint64(i) || item.Outputs["z"] != float64(3*i-1) {
			t.Errorf("next %d: unexpected item %+v", i, item)
		}
	}
	if rr := f.do(t, http.MethodGet, "/v1/items/next", nil); rr.Code != http.StatusNoContent {
		t.Errorf("expected 204 with nothing pending, got %d", rr.Code)
	}
}

func TestPipelineAPI_Errors(t *testing.T) {
	f := newAPI(t, nil, scheduler.ModePool, "")

	tests := []struct {
		name   string
		method string
		path   string
		body   []byte
		status int
		code   apperrors.ErrorCode
	}{
		{"unknown input", http.MethodPost, "/v1/items", []byte(`{"w": 1}`), http.StatusNotFound, apperrors.ErrCodeUnknownInput},
		{"missing input", http.MethodPost, "/v1/items", []byte(`{}`), http.StatusBadRequest, apperrors.ErrCodeMissingInput},
		{"not an object", http.MethodPost, "/v1/items", []byte(`[1]`), http.StatusBadRequest, apperrors.ErrCodeInvalidRequest},
		{"bad id", http.MethodGet, "/v1/items/abc", nil, http.StatusBadRequest, apperrors.ErrCodeInvalidRequest},
		{"bad wait", http.MethodGet, "/v1/items/1?wait=soon", nil, http.StatusBadRequest, apperrors.ErrCodeInvalidRequest},
		{"unknown item", http.MethodGet, "/v1/items/99", nil, http.StatusNotFound, apperrors.ErrCodeUnknownItem},
		{"discard unknown", http.MethodDelete, "/v1/items/99", nil, http.StatusNotFound, apperrors.ErrCodeUnknownItem},
		{"unknown input route", http.MethodGet, "/v1/inputs/nope", nil, http.StatusNotFound, apperrors.ErrCodeUnknownInput},
		{"unknown group", http.MethodGet, "/v1/params/nope", nil, http.StatusNotFound, apperrors.ErrCodeUnknownParamGroup},
		{"set unknown group", http.MethodPut, "/v1/params/nope/k", []byte("blob"), http.StatusNotFound, apperrors.ErrCodeUnknownParamGroup},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := f.do(t, tc.method, tc.path, tc.body)
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, rr.Code, rr.Body.String())
			}
			if got := decodeError(t, rr).Code; got != tc.code {
				t.Errorf("expected %s, got %s", tc.code, got)
			}
		})
	}
}

func TestPipelineAPI_Routing(t *testing.T) {
	f := newAPI(t, nil, scheduler.ModePool, "")

	rr := f.do(t, http.MethodGet, "/v1/pipeline", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var env struct {
		Data struct {
			Routes struct {
				Stages  int `json:"stages"`
				Outputs []struct {
					Name string `json:"name"`
				} `json:"outputs"`
			} `json:"routes"`
			Stats scheduler.Stats `json:"stats"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatal(err)
	}
	if env.Data.Routes.Stages != 2 || len(env.Data.Routes.Outputs) != 1 || env.Data.Routes.Outputs[0].Name != "z" {
		t.Errorf("unexpected routes %+v", env.Data.Routes)
	}

	rr = f.do(t, http.MethodGet, "/v1/inputs/x", nil)
	if !bytes.Contains(rr.Body.Bytes(), []byte(`"stage":0`)) || !bytes.Contains(rr.Body.Bytes(), []byte(`"port":"x"`)) {
		t.Errorf("unexpected input route %s", rr.Body.String())
	}
	rr = f.do(t, http.MethodGet, "/v1/params/g1", nil)
	if !bytes.Contains(rr.Body.Bytes(), []byte(`"stage":1`)) {
		t.Errorf("unexpected param route %s", rr.Body.String())
	}
}

func TestPipelineAPI_SetParam(t *testing.T) {
	f := newAPI(t, nil, scheduler.ModePool, "16B")

	rr := f.do(t, http.MethodPut, "/v1/params/g1/w", []byte("blob"))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rr.Code, rr.Body.String())
	}
	if diff := cmp.Diff([][]byte{[]byte("blob")}, f.sink.Params()); diff != "" {
		t.Errorf("params mismatch (-want +got):\n%s", diff)
	}

	rr = f.do(t, http.MethodPut, "/v1/params/g1/w", bytes.Repeat([]byte("a"), 32))
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(f.sink.Params()) != 1 {
		t.Error("an oversized blob must not reach the stage")
	}
}

func TestPipelineAPI_FailedItem(t *testing.T) {
	f := newAPI(t, testutil.NewFailing([]string{"y"}, []string{"z"}, fmt.Errorf("overflow")), scheduler.ModePool, "")

	rr := f.do(t, http.MethodPost, "/v1/items?wait=5s", []byte(`{"x": 1}`))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	item := decodeItem(t, rr)
	if item.Status != ItemFailed || item.Outputs != nil || item.Error == nil {
		t.Fatalf("expected a failed item without outputs, got %+v", item)
	}
	if item.Error.Code != apperrors.ErrCodeItemFailed || item.Error.Details["stage"] != float64(1) {
		t.Errorf("unexpected error body %+v", item.Error)
	}
}

func TestPipelineAPI_Discard(t *testing.T) {
	f := newAPI(t, nil, scheduler.ModeCooperative, "")

	if rr := f.do(t, http.MethodPost, "/v1/items", []byte(`{"x": 1}`)); rr.Code != http.StatusAccepted {
		t.Fatalf("push: %d", rr.Code)
	}
	if rr := f.do(t, http.MethodDelete, "/v1/items/1", nil); rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rr.Code, rr.Body.String())
	}
	if rr := f.do(t, http.MethodGet, "/v1/items/1", nil); rr.Code != http.StatusNotFound {
		t.Errorf("expected 404 after discard, got %d", rr.Code)
	}
}

func TestPipelineAPI_HealthReflectsExecutor(t *testing.T) {
	f := newAPI(t, nil, scheduler.ModePool, "")

	if rr := f.do(t, http.MethodGet, "/health", nil); rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if err := f.exec.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
	if rr := f.do(t, http.MethodGet, "/health", nil); rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 after stop, got %d", rr.Code)
	}
	rr := f.do(t, http.MethodPost, "/v1/items", []byte(`{"x": 1}`))
	if rr.Code != http.StatusServiceUnavailable || decodeError(t, rr).Code != apperrors.ErrCodePipelineClosed {
		t.Errorf("expected PIPELINE_CLOSED, got %d: %s", rr.Code, rr.Body.String())
	}
}
