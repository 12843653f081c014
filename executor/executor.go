package executor

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/kbukum/stagepipe/component"
	"github.com/kbukum/stagepipe/errors"
	"github.com/kbukum/stagepipe/logger"
	"github.com/kbukum/stagepipe/pipeconfig"
	"github.com/kbukum/stagepipe/router"
	"github.com/kbukum/stagepipe/scheduler"
	"github.com/kbukum/stagepipe/stage"
)

// Executor owns a pipeline's configuration, stages and scheduler.
type Executor struct {
	id     string
	name   string
	cfg    *pipeconfig.Config
	router *router.Router
	stages []*stage.Stage
	sched  *scheduler.Scheduler
	log    *logger.Logger

	mu     sync.Mutex
	inputs map[string]any
}

var (
	_ component.Component   = (*Executor)(nil)
	_ component.Describable = (*Executor)(nil)
)

// New builds an executor from modules and a pipeline configuration. The
// module at position i becomes stage i, and the configuration is validated
// against the modules' ports. Background workers start immediately.
func New(modules []stage.Module, pipelineConfig []byte, opts ...Option) (*Executor, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	if len(modules) == 0 {
		return nil, errors.EmptyStageList()
	}
	stages := make([]*stage.Stage, len(modules))
	schemas := make([]pipeconfig.Schema, len(modules))
	for i, m := range modules {
		st, err := stage.New(i, m)
		if err != nil {
			return nil, err
		}
		stages[i] = st
		schemas[i] = pipeconfig.Schema{Inputs: st.Inputs(), Outputs: st.Outputs()}
	}

	cfg, err := pipeconfig.Load(pipelineConfig, pipeconfig.WithSchemas(schemas), pipeconfig.WithFormat(o.format))
	if err != nil {
		return nil, err
	}
	return build(cfg, stages, o)
}

// Load builds an executor from artifact descriptions: each stage's code,
// graph and parameters are loaded through backend before New runs.
func Load(ctx context.Context, backend stage.Backend, artifacts []stage.Artifact, pipelineConfig []byte, opts ...Option) (*Executor, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	loadOpts := append([]stage.LoadOption{stage.WithLogger(o.log.WithComponent("artifacts"))}, o.loadOpts...)
	modules, err := stage.LoadArtifacts(ctx, backend, artifacts, loadOpts...)
	if err != nil {
		return nil, err
	}
	return New(modules, pipelineConfig, opts...)
}

// LoadFiles reads a module manifest and a pipeline configuration file and
// calls Load. The configuration format follows the file extension.
func LoadFiles(ctx context.Context, backend stage.Backend, manifestPath, pipelinePath string, opts ...Option) (*Executor, error) {
	artifacts, err := stage.LoadManifestFile(manifestPath)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(pipelinePath)
	if err != nil {
		return nil, errors.Config("reading pipeline configuration %s: %v", pipelinePath, err).WithCause(err)
	}
	opts = append([]Option{WithFormat(pipeconfig.FormatForPath(pipelinePath))}, opts...)
	return Load(ctx, backend, artifacts, data, opts...)
}

func build(cfg *pipeconfig.Config, stages []*stage.Stage, o options) (*Executor, error) {
	rt := router.New(cfg)
	log := o.log.WithComponent(o.name)

	schedOpts := []scheduler.Option{scheduler.WithLogger(o.log)}
	if o.metrics != nil {
		schedOpts = append(schedOpts, scheduler.WithMetrics(o.metrics))
	}
	sched, err := scheduler.New(cfg, rt, stages, o.scheduler, schedOpts...)
	if err != nil {
		return nil, err
	}

	e := &Executor{
		id:     uuid.NewString(),
		name:   o.name,
		cfg:    cfg,
		router: rt,
		stages: stages,
		sched:  sched,
		log:    log,
		inputs: make(map[string]any),
	}
	if err := sched.Start(context.Background()); err != nil {
		return nil, err
	}

	log.Info("pipeline initialized", logger.Fields(
		"executor_id", e.id,
		"stages", len(stages),
		"inputs", len(cfg.Inputs()),
		"params", len(cfg.Params()),
		"outputs", len(cfg.Outputs()),
		"levels", len(cfg.Levels()),
	))
	return e, nil
}

// ID returns the executor's instance id.
func (e *Executor) ID() string { return e.id }

// Config returns the loaded pipeline configuration.
func (e *Executor) Config() *pipeconfig.Config { return e.cfg }

// Router returns the executor's router.
func (e *Executor) Router() *router.Router { return e.router }

// NumStages returns the number of stages.
func (e *Executor) NumStages() int { return len(e.stages) }

// NumOutputs returns the number of output ports across all sink stages.
func (e *Executor) NumOutputs() int {
	n := 0
	for _, s := range e.cfg.Sinks() {
		n += len(e.stages[s].Outputs())
	}
	return n
}

// OutputNames returns the names results are keyed by.
func (e *Executor) OutputNames() []string { return e.router.OutputNames() }

// GetInputMap returns the stage and port an external input feeds.
func (e *Executor) GetInputMap(name string) (int, string, error) {
	return e.router.ResolveInput(name)
}

// GetParamsGroupMap returns the stage a parameter group loads into.
func (e *Executor) GetParamsGroupMap(name string) (int, error) {
	return e.router.ResolveParameterGroup(name)
}

// Routes returns the full routing table.
func (e *Executor) Routes() router.Table { return e.router.Describe() }

// SetParam loads data into the stage that group maps to. key names the
// parameter within the group and is recorded for tracing only.
func (e *Executor) SetParam(ctx context.Context, group, key string, data []byte) error {
	return e.sched.SetParam(ctx, group, key, data)
}

// SetInput buffers a value for an external input. It is used by every later
// push that does not supply the input itself.
func (e *Executor) SetInput(name string, value any) error {
	if _, _, err := e.router.ResolveInput(name); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.inputs[name] = value
	return nil
}

// PushInputs submits an item. values are merged over the buffered inputs;
// on success they become the buffered values for later pushes.
func (e *Executor) PushInputs(ctx context.Context, values map[string]any) (scheduler.ItemID, error) {
	for name := range values {
		if _, _, err := e.router.ResolveInput(name); err != nil {
			return 0, err
		}
	}

	e.mu.Lock()
	merged := make(map[string]any, len(e.inputs)+len(values))
	for k, v := range e.inputs {
		merged[k] = v
	}
	e.mu.Unlock()
	for k, v := range values {
		merged[k] = v
	}

	// Push may wait for admission; SetInput and other pushes must not.
	id, err := e.sched.Push(ctx, merged)
	if err != nil {
		return 0, err
	}

	e.mu.Lock()
	for k, v := range values {
		e.inputs[k] = v
	}
	e.mu.Unlock()
	return id, nil
}

// PullOutputs blocks until the oldest uncollected item resolves.
func (e *Executor) PullOutputs(ctx context.Context) (scheduler.Result, error) {
	return e.sched.PullOutputs(ctx)
}

// TryPullOutputs returns the oldest uncollected item if it has resolved.
func (e *Executor) TryPullOutputs() (scheduler.Result, bool) {
	return e.sched.TryPullOutputs()
}

// Await blocks until item id resolves.
func (e *Executor) Await(ctx context.Context, id scheduler.ItemID) (scheduler.Result, error) {
	return e.sched.Await(ctx, id)
}

// TryGet returns item id's result without blocking.
func (e *Executor) TryGet(id scheduler.ItemID) (scheduler.Result, bool, error) {
	return e.sched.TryGet(id)
}

// Discard abandons item id.
func (e *Executor) Discard(id scheduler.ItemID) error {
	return e.sched.Discard(id)
}

// RunReady executes ready work on the caller's goroutine. It is how a
// cooperative pipeline makes progress between polls.
func (e *Executor) RunReady(ctx context.Context) int {
	return e.sched.RunReady(ctx)
}

// Stats returns scheduler queue depths.
func (e *Executor) Stats() scheduler.Stats { return e.sched.Stats() }

// Name implements component.Component.
func (e *Executor) Name() string { return e.name }

// Start implements component.Component. Workers already run after New, so
// Start only matters after a Stop, where it fails with PIPELINE_CLOSED.
func (e *Executor) Start(ctx context.Context) error {
	return e.sched.Start(ctx)
}

// Stop implements component.Component.
func (e *Executor) Stop(ctx context.Context) error {
	err := e.sched.Stop(ctx)
	e.log.Info("pipeline stopped", logger.Fields("executor_id", e.id))
	return err
}

// Health implements component.Component. A stopped pipeline is unhealthy;
// stages disabled by a rejected parameter load degrade it.
func (e *Executor) Health(_ context.Context) component.Health {
	st := e.sched.Stats()
	h := component.Health{
		Name:   e.name,
		Status: component.StatusHealthy,
		Details: map[string]string{
			"executor_id": e.id,
			"mode":        string(e.sched.Mode()),
			"in_flight":   fmt.Sprint(st.InFlight),
			"resolved":    fmt.Sprint(st.Resolved),
		},
	}
	if st.Closed {
		h.Status = component.StatusUnhealthy
		h.Message = "pipeline stopped"
		return h
	}

	var disabled []string
	for _, s := range e.stages {
		if err := s.Usable(); err != nil {
			key := fmt.Sprintf("stage.%d", s.Index())
			h.Details[key] = err.Error()
			disabled = append(disabled, fmt.Sprint(s.Index()))
		}
	}
	if len(disabled) > 0 {
		h.Status = component.StatusDegraded
		h.Message = "stages disabled by parameter load failures: " + strings.Join(disabled, ", ")
	}
	return h
}

// Describe implements component.Describable.
func (e *Executor) Describe() component.Description {
	return component.Description{
		Name: "Pipeline",
		Type: "pipeline",
		Details: fmt.Sprintf("stages=%d inputs=%d outputs=%d mode=%s",
			len(e.stages), len(e.cfg.Inputs()), len(e.cfg.Outputs()), e.sched.Mode()),
	}
}
