package resolver

import (
	"context"
	"fmt"
	"strings"

	"github.com/planpath/planpath/internal/task"
	"github.com/planpath/planpath/internal/trace"
	"github.com/planpath/planpath/pkg/cerr"
)

// Strategy names the resolution step that produced a match.
type Strategy string

const (
	StrategyCache        Strategy = "cache"
	StrategyExactID      Strategy = "exact_id"
	StrategyNormalizedID Strategy = "normalized_id"
	StrategyCompoundRef  Strategy = "compound_ref"
	StrategySourceID     Strategy = "source_id"
	StrategyFuzzy        Strategy = "fuzzy"
)

// Match is a successfully resolved task annotated with the strategy that
// found it.
type Match struct {
	Task     *task.Task
	Strategy Strategy
}

// Resolver maps an arbitrary task reference to exactly one task inside a
// project. Every strategy is independently scoped to the project; a row that
// would match in a different project is treated as a non-match.
type Resolver struct {
	repo   task.Repository
	cache  *Cache
	tracer *trace.Tracer
}

func New(repo task.Repository, tracer *trace.Tracer) *Resolver {
	return &Resolver{
		repo:   repo,
		cache:  NewCache(),
		tracer: tracer,
	}
}

// Resolve runs the strategy chain, consulting the cache first.
func (r *Resolver) Resolve(ctx context.Context, projectID, reference string) (*Match, error) {
	return r.resolve(ctx, projectID, reference, true)
}

// ResolveFresh runs the strategy chain bypassing the cache, both for the
// lookup and for the write-back, so callers that need the durable row never
// disturb a pending optimistic entry.
func (r *Resolver) ResolveFresh(ctx context.Context, projectID, reference string) (*Match, error) {
	return r.resolve(ctx, projectID, reference, false)
}

func (r *Resolver) resolve(ctx context.Context, projectID, reference string, useCache bool) (*Match, error) {
	if projectID == "" || reference == "" {
		return nil, cerr.NewError(cerr.InvalidArgument, "project id and task reference are required", nil)
	}

	op := r.tracer.StartOperation("task.resolve", reference, projectID)

	if useCache {
		if cached, ok := r.cache.Get(projectID, reference); ok {
			r.tracer.RecordStrategy(op, string(StrategyCache))
			r.tracer.EndOperation(op, true, nil)
			return &Match{Task: cached, Strategy: StrategyCache}, nil
		}
	}

	match, err := r.runStrategies(ctx, projectID, reference)
	if err != nil {
		r.tracer.EndOperation(op, false, err)
		return nil, err
	}

	// A fresh resolve must not write back: the cache may hold an optimistic
	// entry that is newer than the durable row just read.
	if useCache {
		r.cache.Put(projectID, reference, match.Task)
	}
	r.tracer.RecordStrategy(op, string(match.Strategy))
	r.tracer.EndOperation(op, true, nil)
	return match, nil
}

func (r *Resolver) runStrategies(ctx context.Context, projectID, reference string) (*Match, error) {
	// Exact id match.
	t, err := r.findByID(ctx, projectID, reference)
	if err != nil {
		return nil, err
	}
	if t != nil {
		return &Match{Task: t, Strategy: StrategyExactID}, nil
	}

	// Well-formed identifier embedded in a decorated reference.
	if id := extractID(reference); id != "" && id != reference {
		t, err := r.findByID(ctx, projectID, id)
		if err != nil {
			return nil, err
		}
		if t != nil {
			return &Match{Task: t, Strategy: StrategyNormalizedID}, nil
		}
	}

	// Compound "<prefix>-<id>" reference.
	if !isWellFormedID(reference) {
		if rest := compoundRemainder(reference); rest != "" {
			t, err := r.findByID(ctx, projectID, rest)
			if err != nil {
				return nil, err
			}
			if t != nil {
				return &Match{Task: t, Strategy: StrategyCompoundRef}, nil
			}
		}
	}

	// Template sourceId: "the clone of template T in this project". First
	// match in creation order when several clones exist.
	clones, err := r.repo.FindBySourceID(ctx, projectID, reference)
	if err != nil {
		return nil, err
	}
	if len(clones) > 0 {
		return &Match{Task: clones[0], Strategy: StrategySourceID}, nil
	}

	// Fuzzy fallback: substring overlap between the reference and any id or
	// sourceId in the project. Best effort; factor-origin candidates win ties.
	if t, err := r.fuzzyMatch(ctx, projectID, reference); err != nil {
		return nil, err
	} else if t != nil {
		return &Match{Task: t, Strategy: StrategyFuzzy}, nil
	}

	return nil, cerr.NewError(cerr.NotFound,
		fmt.Sprintf("task %q not found in project %q", reference, projectID), nil)
}

// findByID scopes the exact lookup to the project and converts a not-found
// into a nil task so the chain can continue.
func (r *Resolver) findByID(ctx context.Context, projectID, id string) (*task.Task, error) {
	t, err := r.repo.FindByID(ctx, projectID, id)
	if err != nil {
		if cerr.IsCode(err, cerr.NotFound) {
			return nil, nil
		}
		return nil, err
	}
	if t.ProjectID != projectID {
		// A row from another project must never leak through, whatever the
		// backing store returned.
		return nil, nil
	}
	return t, nil
}

func (r *Resolver) fuzzyMatch(ctx context.Context, projectID, reference string) (*task.Task, error) {
	all, err := r.repo.ListByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	var candidates []*task.Task
	for _, t := range all {
		if overlaps(reference, t.ID) || (t.SourceID != "" && overlaps(reference, t.SourceID)) {
			candidates = append(candidates, t)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	for _, t := range candidates {
		if t.Origin == task.OriginFactor {
			return t, nil
		}
	}
	return candidates[0], nil
}

func overlaps(reference, id string) bool {
	return strings.Contains(reference, id) || strings.Contains(id, reference)
}

// Prime stores a task under (projectID, reference), overwriting any cached
// entry. The coordinator primes persisted rows after each durable write.
func (r *Resolver) Prime(projectID, reference string, t *task.Task) {
	r.cache.Put(projectID, reference, t)
}

// Invalidate evicts a single cache entry.
func (r *Resolver) Invalidate(projectID, reference string) {
	r.cache.Delete(projectID, reference)
}

// ClearCache evicts all entries of one project, or everything when projectID
// is empty.
func (r *Resolver) ClearCache(projectID string) {
	r.cache.Clear(projectID)
}
