package trace

import (
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Record is the structured trace of one finished operation. Records flow to
// slog and, when configured, to an additional sink; they never influence the
// behavior of the components being traced.
type Record struct {
	Operation  string `json:"operation"`
	TaskRef    string `json:"taskRef"`
	ProjectID  string `json:"projectId"`
	Strategy   string `json:"strategy,omitempty"`
	Success    bool   `json:"success"`
	DurationMs int64  `json:"durationMs"`
	Error      string `json:"error,omitempty"`
}

// Config is passed in explicitly at construction; the tracer never consults
// the environment.
type Config struct {
	// Verbose logs successful operations at info level instead of debug.
	Verbose bool
	// Sink, when set, additionally receives every finished record.
	Sink func(Record)
}

type span struct {
	operation string
	taskRef   string
	projectID string
	strategy  string
	startedAt time.Time
}

type Tracer struct {
	cfg    Config
	mu     sync.Mutex
	active map[string]*span
}

func New(cfg Config) *Tracer {
	return &Tracer{
		cfg:    cfg,
		active: make(map[string]*span),
	}
}

// StartOperation registers a named operation and returns its id.
func (t *Tracer) StartOperation(name, taskRef, projectID string) string {
	id := ulid.Make().String()
	t.mu.Lock()
	t.active[id] = &span{
		operation: name,
		taskRef:   taskRef,
		projectID: projectID,
		startedAt: time.Now(),
	}
	t.mu.Unlock()
	return id
}

// RecordStrategy attaches the resolution strategy that matched to a running
// operation.
func (t *Tracer) RecordStrategy(operationID, strategy string) {
	t.mu.Lock()
	if s, ok := t.active[operationID]; ok {
		s.strategy = strategy
	}
	t.mu.Unlock()
}

// EndOperation finishes an operation and emits its record. Unknown operation
// ids are ignored.
func (t *Tracer) EndOperation(operationID string, success bool, opErr error) {
	t.mu.Lock()
	s, ok := t.active[operationID]
	if ok {
		delete(t.active, operationID)
	}
	t.mu.Unlock()
	if !ok {
		return
	}

	rec := Record{
		Operation:  s.operation,
		TaskRef:    s.taskRef,
		ProjectID:  s.projectID,
		Strategy:   s.strategy,
		Success:    success,
		DurationMs: time.Since(s.startedAt).Milliseconds(),
	}
	if opErr != nil {
		rec.Error = opErr.Error()
	}
	t.emit(rec)
}

func (t *Tracer) emit(rec Record) {
	if t.cfg.Sink != nil {
		t.cfg.Sink(rec)
	}

	attrs := []any{
		"operation", rec.Operation,
		"task_ref", rec.TaskRef,
		"project_id", rec.ProjectID,
		"success", rec.Success,
		"duration_ms", rec.DurationMs,
	}
	if rec.Strategy != "" {
		attrs = append(attrs, "strategy", rec.Strategy)
	}
	if rec.Error != "" {
		attrs = append(attrs, "error", rec.Error)
	}

	switch {
	case !rec.Success:
		slog.Warn("operation failed", attrs...)
	case t.cfg.Verbose:
		slog.Info("operation finished", attrs...)
	default:
		slog.Debug("operation finished", attrs...)
	}
}
