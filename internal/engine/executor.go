// Package engine provides the queue execution state machine: it runs a
// resolved task queue over connections and stages, short-circuiting a pass
// on soft failure and aborting the run on hard failure.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/capstan/capstan/pkg/connection"
	"github.com/capstan/capstan/pkg/hooks"
	"github.com/capstan/capstan/pkg/logger"
	"github.com/capstan/capstan/pkg/queue"
	"github.com/capstan/capstan/pkg/task"
	"github.com/capstan/capstan/pkg/types"
)

// Dependencies carries the executor's injectable collaborators
type Dependencies struct {
	Dialer   connection.Dialer
	Notifier RunNotifier
	Recorder RunRecorder
}

// Executor iterates connections × stages × queue position. Execution is
// strictly sequential by default; per-connection parallelism is an
// explicit opt-in and safe because every Execute call receives its own
// context value instead of sharing mutable globals.
type Executor struct {
	config    *types.CapstanConfig
	engineCfg *types.EngineConfig
	logger    logger.Logger
	dialer    connection.Dialer
	resolver  *task.Resolver
	hooks     *hooks.Registry
	builder   *queue.Builder
	notifier  RunNotifier
	recorder  RunRecorder

	mu      sync.Mutex
	pending []interface{}
}

// New creates an executor
func New(
	config *types.CapstanConfig,
	log logger.Logger,
	resolver *task.Resolver,
	registry *hooks.Registry,
	deps Dependencies,
) *Executor {
	engineCfg := types.DefaultEngineConfig()
	if config.Engine != nil {
		if config.Engine.Parallel {
			engineCfg.Parallel = true
		}
		if config.Engine.MaxParallel > 0 {
			engineCfg.MaxParallel = config.Engine.MaxParallel
		}
		if config.Engine.HookDepth > 0 {
			engineCfg.HookDepth = config.Engine.HookDepth
		}
	}

	dialer := deps.Dialer
	if dialer == nil {
		dialer = connection.DefaultDialer{}
	}

	builder := queue.NewBuilder(resolver, registry)
	builder.ExpandDepth = engineCfg.HookDepth

	return &Executor{
		config:    config,
		engineCfg: engineCfg,
		logger:    log,
		dialer:    dialer,
		resolver:  resolver,
		hooks:     registry,
		builder:   builder,
		notifier:  deps.Notifier,
		recorder:  deps.Recorder,
	}
}

// Builder exposes the executor's queue builder
func (e *Executor) Builder() *queue.Builder {
	return e.builder
}

// Add enqueues descriptors for the next run
func (e *Executor) Add(descriptors ...interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending = append(e.pending, descriptors...)
}

// Before registers listeners to run before the identified task
func (e *Executor) Before(identity interface{}, listeners []interface{}, priority int) error {
	return e.hooks.Register(identity, types.HookBefore, listeners, priority)
}

// After registers listeners to run after the identified task
func (e *Executor) After(identity interface{}, listeners []interface{}, priority int) error {
	return e.hooks.Register(identity, types.HookAfter, listeners, priority)
}

// Run executes descriptors against the configured default connections
func (e *Executor) Run(ctx context.Context, opts task.Options, descriptors ...interface{}) (*Output, error) {
	return e.On(ctx, nil, opts, descriptors...)
}

// On executes descriptors against an explicit connection set. The override
// applies to this run only and never mutates the configured defaults.
func (e *Executor) On(ctx context.Context, connections []string, opts task.Options, descriptors ...interface{}) (*Output, error) {
	e.mu.Lock()
	descriptors = append(e.pending, descriptors...)
	e.pending = nil
	e.mu.Unlock()

	// Queue is built exactly once per run; task instances are shared
	// across the connection and stage loops.
	q, err := e.builder.Build(descriptors)
	if err != nil {
		return nil, err
	}
	return e.Execute(ctx, q, connections, opts)
}

// Execute runs an already-built queue against an explicit connection set,
// or the configured defaults when connections is nil. Hooks are expanded
// around the queue entries before the passes start.
func (e *Executor) Execute(ctx context.Context, q queue.Queue, connections []string, opts task.Options) (*Output, error) {
	if opts == nil {
		opts = task.Options{}
	}

	// First run freezes hook registration
	if !e.hooks.Sealed() {
		e.hooks.Seal()
	}
	q = e.builder.Expand(q)

	targets, err := e.selectConnections(connections)
	if err != nil {
		return nil, err
	}

	stages := e.stagesFor(opts)
	output := &Output{RunID: uuid.New().String()}

	e.logger.Info(fmt.Sprintf("Running %d task(s) on %d connection(s)", len(q), len(targets)),
		logger.WithField("run", output.RunID))

	if e.engineCfg.Parallel && len(targets) > 1 {
		return output, e.runParallel(ctx, targets, stages, q, opts, output)
	}

	for _, target := range targets {
		if err := e.runConnection(ctx, target, stages, q, opts, output); err != nil {
			return output, err
		}
	}

	return output, nil
}

// runParallel runs each connection's passes concurrently. Per-connection
// ordering guarantees hold; cross-connection entry order does not.
func (e *Executor) runParallel(ctx context.Context, targets []types.ConnectionConfig, stages []string, q queue.Queue, opts task.Options, output *Output) error {
	g, gctx := NewSafeGroup(ctx, e.logger)
	g.SetLimit(e.engineCfg.MaxParallel)

	for _, target := range targets {
		target := target
		g.Go(func() error {
			return e.runConnection(gctx, target, stages, q, opts, output)
		})
	}

	return g.Wait()
}

// runConnection dials one target and runs every applicable stage pass
func (e *Executor) runConnection(ctx context.Context, target types.ConnectionConfig, stages []string, q queue.Queue, opts task.Options, output *Output) error {
	log := e.logger.WithConnection(target.Name)
	start := time.Now()

	if e.notifier != nil {
		e.notifier.NotifyRunStart(target.Name)
	}
	if e.recorder != nil {
		if _, err := e.recorder.InitializeRun(target.Name, output.RunID, len(q)); err != nil {
			log.Warn("Failed to initialize run state", logger.WithField("error", err))
		}
	}

	conn, err := e.dialer.Dial(ctx, target)
	if err != nil {
		err = fmt.Errorf("connection %s: %w", target.Name, err)
		e.finishConnection(target.Name, types.RunStatusFailed, 0, err, time.Since(start))
		return err
	}
	defer conn.Close()

	failures := 0
	for _, stage := range stages {
		n, err := e.runPass(ctx, conn, stage, q, opts, log, output)
		failures += n
		if err != nil {
			// Hard failure: propagate, aborting the entire run
			e.finishConnection(target.Name, types.RunStatusFailed, failures, err, time.Since(start))
			return err
		}
	}

	duration := time.Since(start)
	if failures > 0 {
		err := fmt.Errorf("%d pass(es) aborted", failures)
		e.finishConnection(target.Name, types.RunStatusFailed, failures, err, duration)
		log.Warn(fmt.Sprintf("Run finished with %d aborted pass(es) in %s", failures, duration.Round(time.Millisecond)))
		return nil
	}

	e.finishConnection(target.Name, types.RunStatusSucceeded, 0, nil, duration)
	log.Success(fmt.Sprintf("Run completed in %s", duration.Round(time.Millisecond)))
	return nil
}

// runPass executes the queue sequentially for one (connection, stage)
// pass. Returns the number of soft failures (0 or 1, a soft failure ends
// the pass) and any hard failure.
func (e *Executor) runPass(ctx context.Context, conn connection.Connection, stage string, q queue.Queue, opts task.Options, log logger.Logger, output *Output) (int, error) {
	for _, t := range q {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		default:
		}

		// Stage context only applies to stage-aware tasks
		taskStage := ""
		if t.UsesStages() {
			taskStage = stage
		}

		tctx := &task.Context{
			Context:    ctx,
			Connection: conn,
			Stage:      taskStage,
			Options:    opts,
			Logger:     log,
		}

		log.Debug("Executing task",
			logger.WithField("task", t.Slug()),
			logger.WithField("stage", stage))

		value, err := t.Execute(tctx)
		if err != nil {
			return 0, fmt.Errorf("task %s: %w", t.Slug(), err)
		}

		soft := IsSoftFailure(value)
		output.Append(Result{
			Connection: conn.Name(),
			Stage:      stage,
			Task:       t.Slug(),
			Value:      value,
			SoftFailed: soft,
		})

		if soft {
			log.Warn("Task failed, aborting pass",
				logger.WithField("task", t.Slug()),
				logger.WithField("stage", stage))
			return 1, nil
		}
	}

	return 0, nil
}

func (e *Executor) finishConnection(name string, status types.RunStatus, failures int, err error, duration time.Duration) {
	if e.recorder != nil {
		lastError := ""
		if err != nil {
			lastError = err.Error()
		}
		if recErr := e.recorder.CompleteRun(name, status, failures, lastError); recErr != nil {
			e.logger.Warn("Failed to record run state", logger.WithField("error", recErr))
		}
	}

	if e.notifier != nil {
		if status == types.RunStatusSucceeded {
			e.notifier.NotifyRunSuccess(name, duration)
		} else {
			e.notifier.NotifyRunFailure(name, err)
		}
	}
}

// selectConnections resolves the target connection configs for a run,
// preserving declaration order
func (e *Executor) selectConnections(names []string) ([]types.ConnectionConfig, error) {
	if len(names) == 0 {
		if len(e.config.Connections) == 0 {
			return nil, fmt.Errorf("no connections configured")
		}
		return e.config.Connections, nil
	}

	targets := make([]types.ConnectionConfig, 0, len(names))
	for _, name := range names {
		found := false
		for _, cfg := range e.config.Connections {
			if cfg.Name == name {
				targets = append(targets, cfg)
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("unknown connection: %s", name)
		}
	}
	return targets, nil
}

// stagesFor picks the applicable stages: the requested stage when it is a
// member of the configured set, else every configured stage, else one
// stage-less pass.
func (e *Executor) stagesFor(opts task.Options) []string {
	requested := opts.Stage()
	if requested == "" {
		requested = e.config.DefaultStage
	}

	if requested != "" {
		for _, s := range e.config.Stages {
			if s == requested {
				return []string{requested}
			}
		}
	}

	if len(e.config.Stages) > 0 {
		stages := make([]string, len(e.config.Stages))
		copy(stages, e.config.Stages)
		return stages
	}

	return []string{""}
}
