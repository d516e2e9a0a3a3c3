package coordinator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sourcegraph/conc/panics"

	"github.com/planpath/planpath/internal/eventbus"
	"github.com/planpath/planpath/internal/resolver"
	"github.com/planpath/planpath/internal/task"
	"github.com/planpath/planpath/internal/trace"
	"github.com/planpath/planpath/pkg/cerr"
)

// Options control one update. All flags are independently toggleable.
type Options struct {
	MaxRetries       int
	BroadcastEvents  bool
	StoreInCache     bool
	ValidateState    bool
	SyncRelatedTasks bool
}

func DefaultOptions() Options {
	return Options{
		MaxRetries:       3,
		BroadcastEvents:  true,
		StoreInCache:     true,
		ValidateState:    true,
		SyncRelatedTasks: true,
	}
}

type UpdateOption func(*Options)

func WithMaxRetries(n int) UpdateOption {
	return func(o *Options) { o.MaxRetries = n }
}

func WithBroadcastEvents(b bool) UpdateOption {
	return func(o *Options) { o.BroadcastEvents = b }
}

func WithStoreInCache(b bool) UpdateOption {
	return func(o *Options) { o.StoreInCache = b }
}

func WithValidateState(b bool) UpdateOption {
	return func(o *Options) { o.ValidateState = b }
}

func WithSyncRelatedTasks(b bool) UpdateOption {
	return func(o *Options) { o.SyncRelatedTasks = b }
}

type Config struct {
	// BaseDelay is the unit of the exponential retry backoff.
	BaseDelay time.Duration
	// Defaults replace DefaultOptions when non-zero.
	Defaults Options
}

type statusKey struct {
	projectID string
	taskID    string
}

// Coordinator applies partial task updates with immediate optimistic
// visibility and eventual durable persistence. The caller gets the merged
// task back synchronously; a single background worker drains the queue,
// persists the change with bounded retries and propagates completion state
// to sibling clones inside the same project.
type Coordinator struct {
	repo      task.Repository
	resolver  *resolver.Resolver
	tracer    *trace.Tracer
	bus       *eventbus.Bus
	baseDelay time.Duration
	defaults  Options
	now       func() time.Time

	queue *updateQueue
	wake  chan struct{}

	mu       sync.RWMutex
	statuses map[statusKey]task.SyncStatus
	attempts map[statusKey]int
}

func New(repo task.Repository, res *resolver.Resolver, tracer *trace.Tracer, bus *eventbus.Bus, cfg Config) *Coordinator {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 250 * time.Millisecond
	}
	if cfg.Defaults == (Options{}) {
		cfg.Defaults = DefaultOptions()
	}
	return &Coordinator{
		repo:      repo,
		resolver:  res,
		tracer:    tracer,
		bus:       bus,
		baseDelay: cfg.BaseDelay,
		defaults:  cfg.Defaults,
		now:       time.Now,
		queue:     newUpdateQueue(),
		wake:      make(chan struct{}, 1),
		statuses:  make(map[statusKey]task.SyncStatus),
		attempts:  make(map[statusKey]int),
	}
}

// Update resolves the reference inside the project, returns the optimistic
// merged task immediately and enqueues the durable write. It fails
// synchronously only when validation or resolution fails; persistence
// failures surface through Status and tracing, never here.
func (c *Coordinator) Update(ctx context.Context, projectID, reference string, patch task.Patch, opts ...UpdateOption) (*task.Task, error) {
	options := c.defaults
	for _, o := range opts {
		o(&options)
	}
	if options.MaxRetries < 1 {
		options.MaxRetries = 1
	}

	if projectID == "" || reference == "" {
		return nil, cerr.NewError(cerr.InvalidArgument, "project id and task reference are required", nil)
	}
	if options.ValidateState {
		if err := patch.Validate(); err != nil {
			return nil, err
		}
	}

	match, err := c.resolver.Resolve(ctx, projectID, reference)
	if err != nil {
		return nil, err
	}
	resolved := match.Task

	optimistic := resolved.Clone()
	patch.Apply(optimistic)
	if resolved.Origin == task.OriginFactor {
		// Origin and sourceId are immutable on template clones.
		optimistic.Origin = resolved.Origin
		optimistic.SourceID = resolved.SourceID
	}
	optimistic.SyncStatus = task.SyncPending

	c.setStatus(projectID, resolved.ID, task.SyncPending)
	if options.StoreInCache {
		c.resolver.Prime(projectID, resolved.ID, optimistic)
		if reference != resolved.ID {
			c.resolver.Prime(projectID, reference, optimistic)
		}
	}

	c.queue.push(&item{
		projectID: projectID,
		reference: reference,
		taskID:    resolved.ID,
		patch:     patch,
		opts:      options,
	})
	c.wakeWorker()

	if options.BroadcastEvents {
		c.bus.PublishNew(eventbus.EventTaskUpdatePending, projectID, resolved.ID, nil)
	}
	return optimistic, nil
}

// Status reports the sync state of the last update issued for the task.
func (c *Coordinator) Status(projectID, taskID string) (task.SyncStatus, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.statuses[statusKey{projectID: projectID, taskID: taskID}]
	return s, ok
}

// Attempts reports how many persistence attempts the last update for the
// task has made.
func (c *Coordinator) Attempts(projectID, taskID string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.attempts[statusKey{projectID: projectID, taskID: taskID}]
}

// QueueLen reports how many items are queued, including deferred retries.
func (c *Coordinator) QueueLen() int {
	return c.queue.len()
}

// Start runs the worker loop until ctx is cancelled.
func (c *Coordinator) Start(ctx context.Context) {
	slog.Info("update coordinator started")
	for {
		it, wait := c.queue.pop(c.now())
		if it != nil {
			var catcher panics.Catcher
			catcher.Try(func() { c.process(ctx, it) })
			if recovered := catcher.Recovered(); recovered != nil {
				slog.Error("update worker recovered from panic",
					"project_id", it.projectID, "task_id", it.taskID, "error", recovered.AsError())
				c.setStatus(it.projectID, it.taskID, task.SyncFailed)
			}
			continue
		}

		var timer *time.Timer
		var timerC <-chan time.Time
		if wait > 0 {
			timer = time.NewTimer(wait)
			timerC = timer.C
		}
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			slog.Info("update coordinator stopped")
			return
		case <-c.wake:
		case <-timerC:
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

func (c *Coordinator) process(ctx context.Context, it *item) {
	op := c.tracer.StartOperation("queue.process", it.reference, it.projectID)
	it.attempts++
	c.recordAttempt(it.projectID, it.taskID, it.attempts)
	c.setStatus(it.projectID, it.taskID, task.SyncSyncing)

	// Re-read the durable row by exact id, bypassing the cache and the
	// resolution chain: a stale optimistic entry must not mask a racing
	// deletion, and a fuzzy fallback must not redirect the patch onto a
	// different task after one.
	current, err := c.repo.FindByID(ctx, it.projectID, it.taskID)
	if err != nil {
		if cerr.IsCode(err, cerr.NotFound) {
			c.fail(it, op, err)
			return
		}
		c.retryOrFail(it, op, err)
		return
	}

	effective := it.patch
	if current.Origin == task.OriginFactor {
		effective = effective.WithoutProvenance()
	}

	persisted, err := c.repo.Update(ctx, it.projectID, current.ID, effective)
	if err != nil {
		if cerr.IsCode(err, cerr.NotFound) {
			c.fail(it, op, err)
			return
		}
		c.retryOrFail(it, op, err)
		return
	}

	// The cache now mirrors the durable row, not the optimistic merge.
	c.resolver.Prime(it.projectID, persisted.ID, persisted)
	if it.reference != persisted.ID {
		c.resolver.Prime(it.projectID, it.reference, persisted)
	}
	c.setStatus(it.projectID, it.taskID, task.SyncSynced)

	if it.opts.SyncRelatedTasks && it.patch.Completed != nil && persisted.IsTemplateClone() {
		c.syncSiblings(ctx, it, persisted, *it.patch.Completed)
	}

	if it.opts.BroadcastEvents {
		c.bus.PublishNew(eventbus.EventTaskUpdateSynced, it.projectID, persisted.ID, nil)
	}
	c.tracer.EndOperation(op, true, nil)
}

// syncSiblings propagates the completion flag to every other clone of the
// same template inside the project. Siblings already in the target state are
// skipped so repeated propagation never rewrites them.
func (c *Coordinator) syncSiblings(ctx context.Context, it *item, persisted *task.Task, completed bool) {
	op := c.tracer.StartOperation("task.sibling_sync", persisted.SourceID, it.projectID)

	siblings, err := c.repo.FindBySourceID(ctx, it.projectID, persisted.SourceID)
	if err != nil {
		c.tracer.EndOperation(op, false, err)
		return
	}

	var firstErr error
	for _, sibling := range siblings {
		if sibling.ID == persisted.ID || sibling.Completed == completed {
			continue
		}
		done := completed
		updated, err := c.repo.Update(ctx, it.projectID, sibling.ID, task.Patch{Completed: &done})
		if err != nil {
			slog.Warn("sibling sync failed",
				"project_id", it.projectID, "task_id", sibling.ID, "source_id", persisted.SourceID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		c.resolver.Prime(it.projectID, updated.ID, updated)
		if it.opts.BroadcastEvents {
			c.bus.PublishNew(eventbus.EventTaskSiblingSynced, it.projectID, updated.ID,
				map[string]string{"source_id": persisted.SourceID})
		}
	}
	c.tracer.EndOperation(op, firstErr == nil, firstErr)
}

func (c *Coordinator) retryOrFail(it *item, op string, err error) {
	if it.attempts >= it.opts.MaxRetries {
		c.fail(it, op, err)
		return
	}
	// 2^attempts * base delay, strictly increasing per attempt.
	it.notBefore = c.now().Add(c.baseDelay << uint(it.attempts))
	c.queue.requeue(it)
	c.tracer.EndOperation(op, false, err)
}

func (c *Coordinator) fail(it *item, op string, err error) {
	c.setStatus(it.projectID, it.taskID, task.SyncFailed)
	if it.opts.BroadcastEvents {
		c.bus.PublishNew(eventbus.EventTaskUpdateFailed, it.projectID, it.taskID,
			map[string]string{"error": err.Error()})
	}
	c.tracer.EndOperation(op, false, err)
}

func (c *Coordinator) setStatus(projectID, taskID string, s task.SyncStatus) {
	c.mu.Lock()
	c.statuses[statusKey{projectID: projectID, taskID: taskID}] = s
	c.mu.Unlock()
}

func (c *Coordinator) recordAttempt(projectID, taskID string, attempts int) {
	c.mu.Lock()
	c.attempts[statusKey{projectID: projectID, taskID: taskID}] = attempts
	c.mu.Unlock()
}

func (c *Coordinator) wakeWorker() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}
