package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/kbukum/stagepipe/errors"
	"github.com/kbukum/stagepipe/logger"
	"github.com/kbukum/stagepipe/observability"
	"github.com/kbukum/stagepipe/pipeconfig"
	"github.com/kbukum/stagepipe/resilience"
	"github.com/kbukum/stagepipe/router"
	"github.com/kbukum/stagepipe/stage"
)

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the scheduler's logger.
func WithLogger(l *logger.Logger) Option {
	return func(s *Scheduler) { s.log = l.WithComponent("scheduler") }
}

// WithMetrics records stage and item metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

type namedPort struct {
	name string
	port string
}

// task is one dispatched stage run.
type task struct {
	it     *item
	stage  int
	inputs map[string]any
}

// Scheduler owns all item state and dispatches stage runs.
type Scheduler struct {
	cfg      *pipeconfig.Config
	router   *router.Router
	stages   []*stage.Stage
	opts     Config
	log      *logger.Logger
	metrics  *observability.Metrics
	bulkhead *resilience.Bulkhead

	required   []int
	stageOuts  [][]namedPort
	sinks      []int
	inputNames []string

	mu      sync.Mutex
	nextID  ItemID
	items   map[ItemID]*item
	order   []ItemID
	ready   [][]ItemID
	busy    []bool
	notify  chan struct{}
	started bool
	closed  bool
	runCtx  context.Context
	cancel  context.CancelFunc
	group   *errgroup.Group
}

// New creates a scheduler over a loaded configuration and its stages.
// stages[i] must be the stage with index i.
func New(cfg *pipeconfig.Config, rt *router.Router, stages []*stage.Stage, sc Config, opts ...Option) (*Scheduler, error) {
	sc.ApplyDefaults()
	if err := sc.Validate(); err != nil {
		return nil, errors.Config("%v", err).WithCause(err)
	}
	if len(stages) == 0 {
		return nil, errors.EmptyStageList()
	}
	if cfg.NumStages() > len(stages) {
		return nil, errors.Config("configuration references %d stages, only %d provided", cfg.NumStages(), len(stages))
	}

	s := &Scheduler{
		cfg:        cfg,
		router:     rt,
		stages:     stages,
		opts:       sc,
		log:        logger.WithComponent("scheduler"),
		required:   make([]int, len(stages)),
		stageOuts:  make([][]namedPort, len(stages)),
		inputNames: rt.InputNames(),
		items:      make(map[ItemID]*item),
		ready:      make([][]ItemID, len(stages)),
		busy:       make([]bool, len(stages)),
		notify:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	for i, st := range stages {
		if st.Index() != i {
			return nil, errors.Config("stage at position %d has index %d", i, st.Index())
		}
		s.required[i] = len(cfg.Required(i))
	}
	for _, name := range rt.OutputNames() {
		ep, _ := rt.ResolveOutput(name)
		s.stageOuts[ep.Stage] = append(s.stageOuts[ep.Stage], namedPort{name: name, port: ep.Port})
	}
	s.sinks = sinksOf(cfg, len(stages))

	if sc.MaxInFlight > 0 {
		s.bulkhead = resilience.NewBulkhead(resilience.BulkheadConfig{
			Name:          "items",
			MaxConcurrent: sc.MaxInFlight,
			MaxWait:       sc.AdmitWait,
		})
	}
	return s, nil
}

// sinksOf returns the sink stages. Stages beyond the configuration's
// stage count have no connections and are sinks too.
func sinksOf(cfg *pipeconfig.Config, n int) []int {
	sinks := append([]int(nil), cfg.Sinks()...)
	for i := cfg.NumStages(); i < n; i++ {
		sinks = append(sinks, i)
	}
	return sinks
}

// Mode returns the dispatch mode.
func (s *Scheduler) Mode() Mode { return s.opts.Mode }

// Start launches the background workers. It is a no-op in ModeCooperative.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.PipelineClosed()
	}
	if s.started {
		return nil
	}
	s.started = true

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	g, gctx := errgroup.WithContext(runCtx)
	s.runCtx = runCtx
	s.cancel = cancel
	s.group = g

	switch s.opts.Mode {
	case ModePool:
		for w := 0; w < s.opts.Workers; w++ {
			g.Go(func() error { return s.work(gctx, w, -1) })
		}
	case ModePerStage:
		for st := range s.stages {
			g.Go(func() error { return s.work(gctx, st, st) })
		}
	}

	s.log.Info("scheduler started", logger.Fields(
		"mode", string(s.opts.Mode),
		"workers", s.workerCount(),
		"stages", len(s.stages),
		"max_in_flight", s.opts.MaxInFlight,
	))
	return nil
}

func (s *Scheduler) workerCount() int {
	switch s.opts.Mode {
	case ModePool:
		return s.opts.Workers
	case ModePerStage:
		return len(s.stages)
	}
	return 0
}

// Stop refuses new items, resolves every unresolved item with
// PIPELINE_CLOSED and waits for running stages to finish or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for _, id := range s.order {
		if it, ok := s.items[id]; ok && !it.resolved {
			s.resolve(it, errors.PipelineClosed(), observability.StatusDiscarded)
		}
	}
	cancel, g := s.cancel, s.group
	s.broadcast()
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()
	select {
	case err := <-done:
		s.log.Info("scheduler stopped")
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Push submits one item. values must hold every external input.
func (s *Scheduler) Push(ctx context.Context, values map[string]any) (ItemID, error) {
	for name := range values {
		if _, _, err := s.router.ResolveInput(name); err != nil {
			return 0, err
		}
	}
	var missing []string
	for _, name := range s.inputNames {
		if _, ok := values[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return 0, errors.MissingInput(missing)
	}

	if s.isClosed() {
		return 0, errors.PipelineClosed()
	}
	if s.bulkhead != nil {
		if err := s.bulkhead.Acquire(ctx); err != nil {
			if resilience.IsRejection(err) {
				return 0, errors.PipelineBusy(s.opts.MaxInFlight).WithCause(err)
			}
			return 0, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		s.releaseSlot()
		return 0, errors.PipelineClosed()
	}

	s.nextID++
	id := s.nextID

	spanCtx, span := observability.StartSpan(ctx, observability.SpanItemPush,
		trace.WithAttributes(attribute.Int64(observability.AttrItemID, int64(id))))
	defer span.End()

	it := newItem(context.WithoutCancel(spanCtx), id, len(s.stages))
	for name, v := range values {
		st, port, _ := s.router.ResolveInput(name)
		it.deliver(st, port, v)
	}
	s.items[id] = it
	s.order = append(s.order, id)
	for st := range s.stages {
		s.promote(it, st)
	}

	s.metrics.RecordItemStart(spanCtx)
	s.log.Debug("item pushed", logger.Fields(logger.FieldItemID, uint64(id)))
	s.broadcast()
	return id, nil
}

// SetParam loads a parameter blob into the stage a group maps to. The key
// is recorded in logs and traces; the blob is loaded as a whole. Loads are
// serialized against runs of the same stage.
func (s *Scheduler) SetParam(ctx context.Context, group, key string, data []byte) error {
	st, err := s.router.ResolveParameterGroup(group)
	if err != nil {
		return err
	}

	ctx, span := observability.StartSpan(ctx, observability.SpanParamLoad, trace.WithAttributes(
		attribute.String(observability.AttrParamGroup, group),
		attribute.String(observability.AttrParamKey, key),
		attribute.Int(observability.AttrStage, st),
	))
	defer span.End()

	start := time.Now()
	fields := logger.Fields(logger.FieldParamGroup, group, logger.FieldParamKey, key, logger.FieldStage, st)
	if err := s.stages[st].LoadParameters(data); err != nil {
		observability.SetSpanError(ctx, err)
		s.metrics.RecordParamLoad(ctx, group, observability.StatusError)
		s.log.WithError(err).Warn("parameter load failed", fields)
		return err
	}
	s.metrics.RecordParamLoad(ctx, group, observability.StatusOK)
	s.log.Info("parameters loaded", logger.MergeWithDuration(fields, time.Since(start)))
	return nil
}

// Await blocks until item id resolves and returns its result. The result is
// handed over once: later lookups of id fail with UNKNOWN_ITEM.
func (s *Scheduler) Await(ctx context.Context, id ItemID) (Result, error) {
	s.mu.Lock()
	it, ok := s.items[id]
	s.mu.Unlock()
	if !ok {
		return Result{}, errors.UnknownItem(uint64(id))
	}

	err := s.waitFor(ctx, func() bool { return it.resolved })
	if err != nil {
		return Result{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		// collected or discarded concurrently
		return Result{}, errors.UnknownItem(uint64(id))
	}
	delete(s.items, id)
	return *it.result, nil
}

// TryGet returns item id's result if it has resolved. ok is false while the
// item is still in flight.
func (s *Scheduler) TryGet(id ItemID) (res Result, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, found := s.items[id]
	if !found {
		return Result{}, false, errors.UnknownItem(uint64(id))
	}
	if !it.resolved {
		return Result{}, false, nil
	}
	delete(s.items, id)
	return *it.result, true, nil
}

// PullOutputs blocks until the oldest uncollected item resolves and returns
// it. Items are returned in submission order. Item failures are reported in
// Result.Err; the error return is for ctx and a stopped, drained pipeline.
func (s *Scheduler) PullOutputs(ctx context.Context) (Result, error) {
	for {
		err := s.waitFor(ctx, func() bool {
			head := s.head()
			return (head != nil && head.resolved) || (head == nil && s.closed)
		})
		if err != nil {
			return Result{}, err
		}

		// another consumer may have collected the head since the wait ended
		s.mu.Lock()
		head := s.head()
		switch {
		case head != nil && head.resolved:
			res := s.take(head)
			s.mu.Unlock()
			return res, nil
		case head == nil && s.closed:
			s.mu.Unlock()
			return Result{}, errors.PipelineClosed()
		}
		s.mu.Unlock()
	}
}

// TryPullOutputs returns the oldest uncollected item if it has resolved.
func (s *Scheduler) TryPullOutputs() (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	head := s.head()
	if head == nil || !head.resolved {
		return Result{}, false
	}
	return s.take(head), true
}

// Discard abandons item id. Work not yet dispatched is cancelled, running
// work finishes and its result is dropped, and a resolved result is freed.
func (s *Scheduler) Discard(id ItemID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[id]
	if !ok {
		return errors.UnknownItem(uint64(id))
	}
	if !it.resolved {
		s.resolve(it, nil, observability.StatusDiscarded)
	}
	delete(s.items, id)
	s.log.Debug("item discarded", logger.Fields(logger.FieldItemID, uint64(id)))
	s.broadcast()
	return nil
}

// RunReady executes ready work on the caller's goroutine until nothing is
// runnable and returns how many stage runs it performed.
func (s *Scheduler) RunReady(ctx context.Context) int {
	n := 0
	for ctx.Err() == nil {
		s.mu.Lock()
		t, ok := s.next(-1)
		runCtx := s.stageContext()
		s.mu.Unlock()
		if !ok {
			break
		}
		s.execute(runCtx, t)
		n++
	}
	return n
}

// Stats is a snapshot of the scheduler's load.
type Stats struct {
	InFlight  int   `json:"in_flight"`
	Resolved  int   `json:"resolved"`
	Ready     []int `json:"ready"`
	Running   int   `json:"running"`
	Submitted int64 `json:"submitted"`
	Closed    bool  `json:"closed"`
}

// Stats returns current queue depths.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		Ready:     make([]int, len(s.ready)),
		Submitted: int64(s.nextID),
		Closed:    s.closed,
	}
	for _, it := range s.items {
		if it.resolved {
			st.Resolved++
		} else {
			st.InFlight++
		}
	}
	for i, q := range s.ready {
		for _, id := range q {
			if it, ok := s.items[id]; ok && it.status[i] == StatusReady {
				st.Ready[i]++
			}
		}
		if s.busy[i] {
			st.Running++
		}
	}
	return st
}

func (s *Scheduler) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Scheduler) releaseSlot() {
	if s.bulkhead != nil {
		s.bulkhead.Release()
	}
}

// broadcast wakes every waiter. Callers hold s.mu.
func (s *Scheduler) broadcast() {
	close(s.notify)
	s.notify = make(chan struct{})
}

// waitFor blocks until cond holds. In ModeCooperative the caller runs
// ready work while it waits; ctx only bounds the wait, the runs themselves
// use the scheduler's context. cond is evaluated under s.mu.
func (s *Scheduler) waitFor(ctx context.Context, cond func() bool) error {
	for {
		s.mu.Lock()
		if cond() {
			s.mu.Unlock()
			return nil
		}
		if err := ctx.Err(); err != nil {
			s.mu.Unlock()
			return err
		}
		if s.opts.Mode == ModeCooperative {
			if t, ok := s.next(-1); ok {
				runCtx := s.stageContext()
				s.mu.Unlock()
				s.execute(runCtx, t)
				continue
			}
		}
		wait := s.notify
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wait:
		}
	}
}

// head returns the oldest uncollected item, dropping collected ids.
func (s *Scheduler) head() *item {
	for len(s.order) > 0 {
		if it, ok := s.items[s.order[0]]; ok {
			return it
		}
		s.order = s.order[1:]
	}
	return nil
}

// take hands over a resolved item. Ids of items collected elsewhere are
// dropped lazily by head. Callers hold s.mu.
func (s *Scheduler) take(it *item) Result {
	delete(s.items, it.id)
	if len(s.order) > 0 && s.order[0] == it.id {
		s.order = s.order[1:]
	}
	return *it.result
}

// stageContext is the context stage runs on the caller's goroutine use. It
// ends when the scheduler stops, never with a waiting caller's deadline.
// Callers hold s.mu.
func (s *Scheduler) stageContext() context.Context {
	if s.runCtx != nil {
		return s.runCtx
	}
	return context.Background()
}

// work is one background worker. only restricts it to a single stage; -1
// lets it take any stage.
func (s *Scheduler) work(ctx context.Context, id, only int) error {
	log := s.log.WithFields(logger.Fields(logger.FieldWorker, id))
	log.Debug("worker started")
	defer log.Debug("worker stopped")

	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil
		}
		t, ok := s.next(only)
		wait := s.notify
		s.mu.Unlock()

		if ok {
			s.execute(ctx, t)
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-wait:
		}
	}
}

// next dequeues the oldest ready item of a stage that is not busy and marks
// it running. Callers hold s.mu.
func (s *Scheduler) next(only int) (task, bool) {
	best := -1
	var bestID ItemID
	for st := range s.ready {
		if (only >= 0 && st != only) || s.busy[st] {
			continue
		}
		s.dropStale(st)
		if len(s.ready[st]) == 0 {
			continue
		}
		if head := s.ready[st][0]; best < 0 || head < bestID {
			best, bestID = st, head
		}
	}
	if best < 0 {
		return task{}, false
	}

	s.ready[best] = s.ready[best][1:]
	it := s.items[bestID]
	inputs := it.inputs[best]
	it.inputs[best] = nil
	it.status[best] = StatusRunning
	it.running++
	s.busy[best] = true
	return task{it: it, stage: best, inputs: inputs}, true
}

// dropStale removes queue heads whose item resolved or was discarded.
func (s *Scheduler) dropStale(st int) {
	q := s.ready[st]
	for len(q) > 0 {
		it, ok := s.items[q[0]]
		if ok && !it.resolved && it.status[st] == StatusReady {
			break
		}
		q = q[1:]
	}
	s.ready[st] = q
}

// execute runs one task outside the lock and applies its outcome. ctx is
// owned by the scheduler, not by whoever is waiting on an item.
func (s *Scheduler) execute(ctx context.Context, t task) {
	id := uint64(t.it.id)
	runCtx := trace.ContextWithSpan(ctx, trace.SpanFromContext(t.it.ctx))
	runCtx = logger.ContextWithItemID(runCtx, id)

	run := observability.StartStageRun(runCtx, s.metrics, t.stage, id)
	out, err := s.stages[t.stage].Invoke(run.Context(), t.inputs)

	s.mu.Lock()
	s.busy[t.stage] = false
	t.it.running--
	dropped := t.it.resolved
	s.complete(t.it, t.stage, out, err)
	s.broadcast()
	s.mu.Unlock()

	fields := logger.StageFields(t.stage, id)
	switch {
	case dropped:
		run.EndWithStatus(observability.StatusDiscarded, err)
		s.log.Debug("stage result dropped", fields)
	case err != nil:
		run.End(err)
		s.log.WithError(err).Warn("stage failed", logger.MergeWithDuration(fields, run.Duration()))
	default:
		run.End(nil)
		s.log.Debug("stage completed", logger.MergeWithDuration(fields, run.Duration()))
	}
}

// complete applies a stage outcome to its item. Callers hold s.mu.
func (s *Scheduler) complete(it *item, st int, out map[string]any, err error) {
	if it.resolved {
		it.release()
		return
	}

	if err != nil {
		it.status[st] = StatusFailed
		if it.failure == nil {
			it.failure = &StageFailure{Stage: st, Cause: err}
		}
		for _, d := range s.downstream(st) {
			if !it.status[d].Terminal() {
				it.status[d] = StatusFailed
				it.inputs[d] = nil
			}
		}
	} else {
		it.status[st] = StatusCompleted
		for _, np := range s.stageOuts[st] {
			it.outputs[np.name] = out[np.port]
		}
		for _, port := range s.stages[st].Outputs() {
			for _, c := range s.cfg.Consumers(st, port) {
				it.deliver(c.Stage, c.Port, out[port])
				s.promote(it, c.Stage)
			}
		}
	}

	for _, sink := range s.sinks {
		if st := it.status[sink]; st != StatusCompleted && st != StatusFailed {
			return
		}
	}
	if it.failure != nil {
		s.resolve(it, errors.ItemFailed(uint64(it.id), it.failure.Stage, it.failure.Cause), observability.StatusError)
		return
	}
	s.resolve(it, nil, observability.StatusOK)
}

func (s *Scheduler) downstream(st int) []int {
	if st >= s.cfg.NumStages() {
		return nil
	}
	return s.cfg.Downstream(st)
}

// promote moves a waiting stage whose bound inputs have all arrived into
// its ready queue. Callers hold s.mu.
func (s *Scheduler) promote(it *item, st int) {
	if it.status[st] != StatusWaiting || it.arrived[st] < s.required[st] {
		return
	}
	it.status[st] = StatusReady
	q := s.ready[st]
	i := sort.Search(len(q), func(i int) bool { return q[i] > it.id })
	q = append(q, 0)
	copy(q[i+1:], q[i:])
	q[i] = it.id
	s.ready[st] = q
}

// resolve finalizes an item. A nil err with status StatusOK exposes the
// collected outputs. Callers hold s.mu.
func (s *Scheduler) resolve(it *item, err error, status string) {
	it.resolved = true
	for st, cur := range it.status {
		if cur != StatusCompleted && cur != StatusFailed {
			it.status[st] = StatusCancelled
		}
	}

	res := &Result{
		ID:      it.id,
		Err:     err,
		Failure: it.failure,
		Stages:  append([]Status(nil), it.status...),
	}
	if err == nil && status == observability.StatusOK {
		res.Outputs = it.outputs
	}
	it.result = res
	it.release()
	s.releaseSlot()

	duration := time.Since(it.start)
	s.metrics.RecordItemEnd(it.ctx, status, duration)

	fields := logger.MergeWithDuration(logger.Fields(logger.FieldItemID, uint64(it.id), "status", status), duration)
	if err != nil {
		s.log.WithError(err).Warn("item resolved", fields)
		return
	}
	s.log.Debug("item resolved", fields)
}
