package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planpath/planpath/internal/eventbus"
	"github.com/planpath/planpath/internal/resolver"
	"github.com/planpath/planpath/internal/task"
	taskrepo "github.com/planpath/planpath/internal/task/repositoryimpl"
	"github.com/planpath/planpath/internal/trace"
	"github.com/planpath/planpath/pkg/cerr"
	"github.com/planpath/planpath/pkg/storage"
)

// flakyRepo fails a configured number of Update calls before delegating.
type flakyRepo struct {
	task.Repository

	mu        sync.Mutex
	failures  int
	attempts  []time.Time
	failErr   error
	onlyTasks map[string]bool // when set, only these ids fail
}

func (f *flakyRepo) Update(ctx context.Context, projectID, id string, patch task.Patch) (*task.Task, error) {
	f.mu.Lock()
	if f.onlyTasks == nil || f.onlyTasks[id] {
		f.attempts = append(f.attempts, time.Now())
		if f.failures > 0 {
			f.failures--
			err := f.failErr
			if err == nil {
				err = cerr.NewError(cerr.Unavailable, "storage unavailable", nil)
			}
			f.mu.Unlock()
			return nil, err
		}
	}
	f.mu.Unlock()
	return f.Repository.Update(ctx, projectID, id, patch)
}

// gatedRepo holds every Update call until released, so a test can observe
// state while the worker is inside the persistence call.
type gatedRepo struct {
	task.Repository

	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedRepo(inner task.Repository) *gatedRepo {
	return &gatedRepo{
		Repository: inner,
		entered:    make(chan struct{}),
		release:    make(chan struct{}),
	}
}

func (g *gatedRepo) Update(ctx context.Context, projectID, id string, patch task.Patch) (*task.Task, error) {
	g.once.Do(func() { close(g.entered) })
	<-g.release
	return g.Repository.Update(ctx, projectID, id, patch)
}

func (f *flakyRepo) attemptTimes() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]time.Time, len(f.attempts))
	copy(out, f.attempts)
	return out
}

type fixture struct {
	repo     task.Repository
	resolver *resolver.Resolver
	coord    *Coordinator
	bus      *eventbus.Bus
	cancel   context.CancelFunc
}

func newFixture(t *testing.T, repo task.Repository, cfg Config) *fixture {
	t.Helper()
	if repo == nil {
		store, err := storage.NewLocalStorage(t.TempDir())
		require.NoError(t, err)
		repo = taskrepo.NewYAMLRepository(store)
	}
	tracer := trace.New(trace.Config{})
	res := resolver.New(repo, tracer)
	bus := eventbus.New()
	coord := New(repo, res, tracer, bus, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	go coord.Start(ctx)
	t.Cleanup(cancel)

	return &fixture{repo: repo, resolver: res, coord: coord, bus: bus, cancel: cancel}
}

func seedTask(t *testing.T, repo task.Repository, projectID, id, sourceID string, origin task.Origin, completed bool, createdAt time.Time) *task.Task {
	t.Helper()
	tk := &task.Task{
		ID:        id,
		ProjectID: projectID,
		Text:      "task " + id,
		Stage:     task.StageDefinition,
		Origin:    origin,
		SourceID:  sourceID,
		Completed: completed,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
	require.NoError(t, repo.Create(context.Background(), tk))
	return tk
}

func waitForStatus(t *testing.T, c *Coordinator, projectID, taskID string, want task.SyncStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		got, ok := c.Status(projectID, taskID)
		return ok && got == want
	}, 5*time.Second, 5*time.Millisecond, "task %s never reached %s", taskID, want)
}

func TestUpdateReturnsOptimisticResult(t *testing.T) {
	f := newFixture(t, nil, Config{BaseDelay: 5 * time.Millisecond})
	seedTask(t, f.repo, "p1", "t1", "", task.OriginCustom, false, time.Now())

	text := "rewritten"
	done := true
	optimistic, err := f.coord.Update(context.Background(), "p1", "t1", task.Patch{Text: &text, Completed: &done})
	require.NoError(t, err)

	assert.Equal(t, "rewritten", optimistic.Text)
	assert.True(t, optimistic.Completed)
	assert.Equal(t, task.SyncPending, optimistic.SyncStatus)

	// The optimistic value is immediately visible through the resolver cache.
	cached, err := f.resolver.Resolve(context.Background(), "p1", "t1")
	require.NoError(t, err)
	assert.Equal(t, "rewritten", cached.Task.Text)
	assert.Equal(t, task.SyncPending, cached.Task.SyncStatus)

	waitForStatus(t, f.coord, "p1", "t1", task.SyncSynced)

	// After the queue drains the cache mirrors the durable row.
	persisted, err := f.repo.FindByID(context.Background(), "p1", "t1")
	require.NoError(t, err)
	assert.Equal(t, "rewritten", persisted.Text)
	assert.True(t, persisted.Completed)

	cached, err = f.resolver.Resolve(context.Background(), "p1", "t1")
	require.NoError(t, err)
	assert.Equal(t, resolver.StrategyCache, cached.Strategy)
	assert.Equal(t, persisted.Text, cached.Task.Text)
	assert.Equal(t, persisted.UpdatedAt.Unix(), cached.Task.UpdatedAt.Unix())
	assert.Empty(t, cached.Task.SyncStatus)
}

func TestOptimisticEntrySurvivesInFlightPersistence(t *testing.T) {
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	gated := newGatedRepo(taskrepo.NewYAMLRepository(store))
	f := newFixture(t, gated, Config{BaseDelay: 5 * time.Millisecond})
	seedTask(t, f.repo, "p1", "t1", "", task.OriginCustom, false, time.Now())

	text := "rewritten"
	_, err = f.coord.Update(context.Background(), "p1", "t1", task.Patch{Text: &text})
	require.NoError(t, err)

	// Worker is now blocked inside the durable write. Reads during the whole
	// persistence window must keep seeing the optimistic value, flagged as
	// still pending.
	<-gated.entered
	midFlight, err := f.resolver.Resolve(context.Background(), "p1", "t1")
	require.NoError(t, err)
	assert.Equal(t, resolver.StrategyCache, midFlight.Strategy)
	assert.Equal(t, "rewritten", midFlight.Task.Text)
	assert.Equal(t, task.SyncPending, midFlight.Task.SyncStatus)

	close(gated.release)
	waitForStatus(t, f.coord, "p1", "t1", task.SyncSynced)

	after, err := f.resolver.Resolve(context.Background(), "p1", "t1")
	require.NoError(t, err)
	assert.Equal(t, "rewritten", after.Task.Text)
	assert.Empty(t, after.Task.SyncStatus, "cache mirrors the durable row once synced")
}

func TestUpdateUnknownReferenceFailsSynchronously(t *testing.T) {
	f := newFixture(t, nil, Config{BaseDelay: 5 * time.Millisecond})

	done := true
	_, err := f.coord.Update(context.Background(), "p1", "missing", task.Patch{Completed: &done})
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.NotFound))
}

func TestUpdateRejectsInvalidPatch(t *testing.T) {
	f := newFixture(t, nil, Config{BaseDelay: 5 * time.Millisecond})
	seedTask(t, f.repo, "p1", "t1", "", task.OriginCustom, false, time.Now())

	bad := task.Stage("bogus")
	_, err := f.coord.Update(context.Background(), "p1", "t1", task.Patch{Stage: &bad})
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.InvalidArgument))

	// Validation can be switched off per call.
	_, err = f.coord.Update(context.Background(), "p1", "t1", task.Patch{Stage: &bad}, WithValidateState(false))
	require.NoError(t, err)
}

func TestOriginImmutableForFactorTasks(t *testing.T) {
	f := newFixture(t, nil, Config{BaseDelay: 5 * time.Millisecond})
	seedTask(t, f.repo, "p1", "t1", "sf-1", task.OriginFactor, false, time.Now())

	custom := task.OriginCustom
	empty := ""
	optimistic, err := f.coord.Update(context.Background(), "p1", "t1",
		task.Patch{Origin: &custom, SourceID: &empty})
	require.NoError(t, err)
	assert.Equal(t, task.OriginFactor, optimistic.Origin)
	assert.Equal(t, "sf-1", optimistic.SourceID)

	waitForStatus(t, f.coord, "p1", "t1", task.SyncSynced)

	persisted, err := f.repo.FindByID(context.Background(), "p1", "t1")
	require.NoError(t, err)
	assert.Equal(t, task.OriginFactor, persisted.Origin)
	assert.Equal(t, "sf-1", persisted.SourceID)
}

func TestSiblingSyncPropagatesCompletion(t *testing.T) {
	f := newFixture(t, nil, Config{BaseDelay: 5 * time.Millisecond})
	base := time.Now()
	seedTask(t, f.repo, "p1", "t1", "sf-1", task.OriginFactor, false, base)
	seedTask(t, f.repo, "p1", "t2", "sf-1", task.OriginFactor, false, base.Add(time.Second))
	// Same sourceId in another project: must stay untouched.
	other := seedTask(t, f.repo, "p2", "t3", "sf-1", task.OriginFactor, false, base)

	done := true
	optimistic, err := f.coord.Update(context.Background(), "p1", "sf-1", task.Patch{Completed: &done})
	require.NoError(t, err)
	assert.Equal(t, "t1", optimistic.ID, "sourceId resolves to the first clone in creation order")

	waitForStatus(t, f.coord, "p1", "t1", task.SyncSynced)

	require.Eventually(t, func() bool {
		sibling, err := f.repo.FindByID(context.Background(), "p1", "t2")
		return err == nil && sibling.Completed
	}, 5*time.Second, 5*time.Millisecond, "sibling never synced")

	untouched, err := f.repo.FindByID(context.Background(), "p2", other.ID)
	require.NoError(t, err)
	assert.False(t, untouched.Completed, "completion must not leak across projects")
}

func TestSiblingSyncIsIdempotent(t *testing.T) {
	f := newFixture(t, nil, Config{BaseDelay: 5 * time.Millisecond})
	base := time.Now()
	seedTask(t, f.repo, "p1", "t1", "sf-1", task.OriginFactor, false, base)
	seedTask(t, f.repo, "p1", "t2", "sf-1", task.OriginFactor, true, base.Add(time.Second))

	before, err := f.repo.FindByID(context.Background(), "p1", "t2")
	require.NoError(t, err)

	done := true
	_, err = f.coord.Update(context.Background(), "p1", "t1", task.Patch{Completed: &done})
	require.NoError(t, err)
	waitForStatus(t, f.coord, "p1", "t1", task.SyncSynced)

	after, err := f.repo.FindByID(context.Background(), "p1", "t2")
	require.NoError(t, err)
	assert.True(t, after.UpdatedAt.Equal(before.UpdatedAt), "sibling already in target state must not be rewritten")
}

func TestSiblingSyncCanBeDisabled(t *testing.T) {
	f := newFixture(t, nil, Config{BaseDelay: 5 * time.Millisecond})
	base := time.Now()
	seedTask(t, f.repo, "p1", "t1", "sf-1", task.OriginFactor, false, base)
	seedTask(t, f.repo, "p1", "t2", "sf-1", task.OriginFactor, false, base.Add(time.Second))

	done := true
	_, err := f.coord.Update(context.Background(), "p1", "t1", task.Patch{Completed: &done},
		WithSyncRelatedTasks(false))
	require.NoError(t, err)
	waitForStatus(t, f.coord, "p1", "t1", task.SyncSynced)

	sibling, err := f.repo.FindByID(context.Background(), "p1", "t2")
	require.NoError(t, err)
	assert.False(t, sibling.Completed)
}

func TestRetryBackoffThenSuccess(t *testing.T) {
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	flaky := &flakyRepo{Repository: taskrepo.NewYAMLRepository(store), failures: 2}
	f := newFixture(t, flaky, Config{BaseDelay: 20 * time.Millisecond})
	seedTask(t, f.repo, "p1", "t1", "", task.OriginCustom, false, time.Now())

	done := true
	_, err = f.coord.Update(context.Background(), "p1", "t1", task.Patch{Completed: &done})
	require.NoError(t, err)

	waitForStatus(t, f.coord, "p1", "t1", task.SyncSynced)
	assert.Equal(t, 3, f.coord.Attempts("p1", "t1"), "two failures plus the final success")

	attempts := flaky.attemptTimes()
	require.Len(t, attempts, 3)
	firstGap := attempts[1].Sub(attempts[0])
	secondGap := attempts[2].Sub(attempts[1])
	assert.Greater(t, secondGap, firstGap, "retry delays must be strictly increasing")

	persisted, err := f.repo.FindByID(context.Background(), "p1", "t1")
	require.NoError(t, err)
	assert.True(t, persisted.Completed)
}

func TestRetriesExhaustedMarksFailed(t *testing.T) {
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	flaky := &flakyRepo{Repository: taskrepo.NewYAMLRepository(store), failures: 100}
	f := newFixture(t, flaky, Config{BaseDelay: 2 * time.Millisecond})
	seedTask(t, f.repo, "p1", "t1", "", task.OriginCustom, false, time.Now())

	done := true
	optimistic, err := f.coord.Update(context.Background(), "p1", "t1", task.Patch{Completed: &done})
	require.NoError(t, err, "persistence failures never propagate to the original caller")
	assert.Equal(t, task.SyncPending, optimistic.SyncStatus)

	waitForStatus(t, f.coord, "p1", "t1", task.SyncFailed)
	assert.Equal(t, 3, f.coord.Attempts("p1", "t1"))
	assert.Equal(t, 0, f.coord.QueueLen())

	persisted, err := f.repo.FindByID(context.Background(), "p1", "t1")
	require.NoError(t, err)
	assert.False(t, persisted.Completed, "durable row unchanged after exhausted retries")
}

func TestUpdateRacingDeletionIsTerminal(t *testing.T) {
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	repo := taskrepo.NewYAMLRepository(store)
	tracer := trace.New(trace.Config{})
	res := resolver.New(repo, tracer)
	coord := New(repo, res, tracer, eventbus.New(), Config{BaseDelay: 5 * time.Millisecond})

	seedTask(t, repo, "p1", "t1", "", task.OriginCustom, false, time.Now())
	// Another task whose id contains the deleted one. A fuzzy lookup for
	// "t1" would land here; the worker must not.
	seedTask(t, repo, "p1", "t1-lookalike", "", task.OriginCustom, false, time.Now())

	done := true
	_, err = coord.Update(context.Background(), "p1", "t1", task.Patch{Completed: &done})
	require.NoError(t, err)

	// The row disappears before the worker ever runs.
	require.NoError(t, repo.Delete(context.Background(), "p1", "t1"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go coord.Start(ctx)

	waitForStatus(t, coord, "p1", "t1", task.SyncFailed)
	assert.Equal(t, 1, coord.Attempts("p1", "t1"), "a confirmed deletion is never retried")

	lookalike, err := repo.FindByID(context.Background(), "p1", "t1-lookalike")
	require.NoError(t, err)
	assert.False(t, lookalike.Completed, "the patch must not land on an overlapping task")
}

func TestStatusLifecycle(t *testing.T) {
	f := newFixture(t, nil, Config{BaseDelay: 5 * time.Millisecond})
	seedTask(t, f.repo, "p1", "t1", "", task.OriginCustom, false, time.Now())

	_, ok := f.coord.Status("p1", "t1")
	assert.False(t, ok, "no status before any update")

	text := "x"
	_, err := f.coord.Update(context.Background(), "p1", "t1", task.Patch{Text: &text})
	require.NoError(t, err)

	status, ok := f.coord.Status("p1", "t1")
	require.True(t, ok)
	assert.Contains(t, []task.SyncStatus{task.SyncPending, task.SyncSyncing, task.SyncSynced}, status)

	waitForStatus(t, f.coord, "p1", "t1", task.SyncSynced)
}

func TestBroadcastEvents(t *testing.T) {
	f := newFixture(t, nil, Config{BaseDelay: 5 * time.Millisecond})
	seedTask(t, f.repo, "p1", "t1", "", task.OriginCustom, false, time.Now())

	_, ch := f.bus.Subscribe(16)

	text := "x"
	_, err := f.coord.Update(context.Background(), "p1", "t1", task.Patch{Text: &text})
	require.NoError(t, err)
	waitForStatus(t, f.coord, "p1", "t1", task.SyncSynced)

	var types []eventbus.EventType
	deadline := time.After(2 * time.Second)
	for len(types) < 2 {
		select {
		case ev := <-ch:
			types = append(types, ev.Type)
		case <-deadline:
			t.Fatalf("expected pending and synced events, got %v", types)
		}
	}
	assert.Contains(t, types, eventbus.EventTaskUpdatePending)
	assert.Contains(t, types, eventbus.EventTaskUpdateSynced)
}
