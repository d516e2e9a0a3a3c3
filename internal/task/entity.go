package task

import "time"

// Stage is a lifecycle stage of the project methodology. Stages are ordered;
// tasks move through them as the project progresses.
type Stage string

const (
	StageIdentification Stage = "identification"
	StageDefinition     Stage = "definition"
	StageDelivery       Stage = "delivery"
	StageClosure        Stage = "closure"
)

// Stages lists all lifecycle stages in order.
var Stages = []Stage{StageIdentification, StageDefinition, StageDelivery, StageClosure}

func (s Stage) Valid() bool {
	for _, known := range Stages {
		if s == known {
			return true
		}
	}
	return false
}

// Origin tags how a task came to exist. Factor-origin tasks are clones of a
// canonical success-factor template and participate in sibling propagation.
type Origin string

const (
	OriginCustom    Origin = "custom"
	OriginHeuristic Origin = "heuristic"
	OriginFactor    Origin = "factor"
	OriginPolicy    Origin = "policy"
	OriginFramework Origin = "framework"
)

var Origins = []Origin{OriginCustom, OriginHeuristic, OriginFactor, OriginPolicy, OriginFramework}

func (o Origin) Valid() bool {
	for _, known := range Origins {
		if o == known {
			return true
		}
	}
	return false
}

// SyncStatus reports whether an optimistic update has reached durable storage.
type SyncStatus string

const (
	SyncPending SyncStatus = "pending"
	SyncSyncing SyncStatus = "syncing"
	SyncSynced  SyncStatus = "synced"
	SyncFailed  SyncStatus = "failed"
)

// Task is a unit of planning work scoped to exactly one project. A task is
// never visible or mutable outside its owning project, even when another
// project holds a task with the same SourceID.
type Task struct {
	ID        string `yaml:"id" json:"id"`
	ProjectID string `yaml:"project_id" json:"projectId"`
	Text      string `yaml:"text" json:"text"`
	Stage     Stage  `yaml:"stage" json:"stage"`
	Origin    Origin `yaml:"origin" json:"origin"`
	// SourceID is the identifier of the originating template, shared by every
	// clone of that template across projects. Empty for custom tasks.
	SourceID  string `yaml:"source_id,omitempty" json:"sourceId,omitempty"`
	Completed bool   `yaml:"completed" json:"completed"`

	Notes    string `yaml:"notes,omitempty" json:"notes,omitempty"`
	Priority string `yaml:"priority,omitempty" json:"priority,omitempty"`
	Owner    string `yaml:"owner,omitempty" json:"owner,omitempty"`
	Status   string `yaml:"status,omitempty" json:"status,omitempty"`
	DueDate  string `yaml:"due_date,omitempty" json:"dueDate,omitempty"`

	CreatedAt time.Time `yaml:"created_at" json:"createdAt"`
	UpdatedAt time.Time `yaml:"updated_at" json:"updatedAt"`

	// SyncStatus is transient state reported to API clients, never persisted.
	SyncStatus SyncStatus `yaml:"-" json:"syncStatus,omitempty"`
}

// IsTemplateClone reports whether the task was cloned from a canonical
// template and therefore participates in sibling propagation.
func (t *Task) IsTemplateClone() bool {
	return t.Origin == OriginFactor && t.SourceID != ""
}

// Clone returns a copy of the task.
func (t *Task) Clone() *Task {
	copied := *t
	return &copied
}
