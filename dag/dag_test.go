package dag

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/kbukum/stagepipe/errors"
)

func mustGraph(t *testing.T, n int, edges ...Edge) *Graph {
	t.Helper()
	g, err := New(n, edges)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return g
}

func TestNew_RejectsUnknownStage(t *testing.T) {
	if _, err := New(2, []Edge{{From: 0, To: 2}}); err == nil {
		t.Error("expected error for edge to unknown stage")
	}
	if _, err := New(2, []Edge{{From: -1, To: 1}}); err == nil {
		t.Error("expected error for negative stage")
	}
}

func TestNew_CollapsesParallelEdges(t *testing.T) {
	g := mustGraph(t, 2, Edge{0, 1}, Edge{0, 1})
	if diff := cmp.Diff([]int{1}, g.Successors(0)); diff != "" {
		t.Errorf("successors mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{0}, g.Predecessors(1)); diff != "" {
		t.Errorf("predecessors mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildLevels_Diamond(t *testing.T) {
	// 0 -> 1, 0 -> 2, 1 -> 3, 2 -> 3
	g := mustGraph(t, 4, Edge{0, 1}, Edge{0, 2}, Edge{1, 3}, Edge{2, 3})

	levels, err := BuildLevels(g)
	if err != nil {
		t.Fatalf("BuildLevels: %v", err)
	}
	want := [][]int{{0}, {1, 2}, {3}}
	if diff := cmp.Diff(want, levels); diff != "" {
		t.Errorf("levels mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildLevels_Independent(t *testing.T) {
	g := mustGraph(t, 3)
	levels, err := BuildLevels(g)
	if err != nil {
		t.Fatalf("BuildLevels: %v", err)
	}
	if diff := cmp.Diff([][]int{{0, 1, 2}}, levels); diff != "" {
		t.Errorf("levels mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildLevels_Cycle(t *testing.T) {
	// 0 -> 1 -> 2 -> 1
	g := mustGraph(t, 3, Edge{0, 1}, Edge{1, 2}, Edge{2, 1})

	_, err := BuildLevels(g)
	if !errors.HasCode(err, errors.ErrCodeCyclicPipeline) {
		t.Fatalf("expected CYCLIC_PIPELINE, got %v", err)
	}
	if !errors.IsConfigError(err) {
		t.Error("a cycle should be a config error")
	}
	appErr, _ := errors.AsAppError(err)
	if diff := cmp.Diff([]int{1, 2}, appErr.Details["stages"]); diff != "" {
		t.Errorf("cyclic stages mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildLevels_SelfLoop(t *testing.T) {
	g := mustGraph(t, 1, Edge{0, 0})
	if _, err := BuildLevels(g); !errors.HasCode(err, errors.ErrCodeCyclicPipeline) {
		t.Fatalf("expected CYCLIC_PIPELINE for a self loop, got %v", err)
	}
}

func TestDownstream(t *testing.T) {
	// 0 -> 1 -> 3, 0 -> 2, 4 isolated
	g := mustGraph(t, 5, Edge{0, 1}, Edge{1, 3}, Edge{0, 2})

	tests := []struct {
		stage int
		want  []int
	}{
		{0, []int{1, 2, 3}},
		{1, []int{3}},
		{3, nil},
		{4, nil},
	}
	for _, tc := range tests {
		if diff := cmp.Diff(tc.want, g.Downstream(tc.stage)); diff != "" {
			t.Errorf("Downstream(%d) mismatch (-want +got):\n%s", tc.stage, diff)
		}
	}
}

func TestSourcesAndSinks(t *testing.T) {
	g := mustGraph(t, 4, Edge{0, 1}, Edge{1, 2})

	if diff := cmp.Diff([]int{0, 3}, g.Sources()); diff != "" {
		t.Errorf("sources mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{2, 3}, g.Sinks()); diff != "" {
		t.Errorf("sinks mismatch (-want +got):\n%s", diff)
	}
	if g.Len() != 4 {
		t.Errorf("expected 4 stages, got %d", g.Len())
	}
}
