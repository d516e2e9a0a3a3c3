package task

import (
	"fmt"

	"github.com/planpath/planpath/pkg/cerr"
)

// Patch is a partial update to a task. Nil fields are left untouched. For the
// auxiliary free-form fields an explicit empty string clears the field.
type Patch struct {
	Text      *string `json:"text,omitempty"`
	Stage     *Stage  `json:"stage,omitempty"`
	Origin    *Origin `json:"origin,omitempty"`
	SourceID  *string `json:"sourceId,omitempty"`
	Completed *bool   `json:"completed,omitempty"`
	Notes     *string `json:"notes,omitempty"`
	Priority  *string `json:"priority,omitempty"`
	Owner     *string `json:"owner,omitempty"`
	Status    *string `json:"status,omitempty"`
	DueDate   *string `json:"dueDate,omitempty"`
}

// IsZero reports whether the patch carries no fields at all.
func (p Patch) IsZero() bool {
	return p.Text == nil && p.Stage == nil && p.Origin == nil && p.SourceID == nil &&
		p.Completed == nil && p.Notes == nil && p.Priority == nil && p.Owner == nil &&
		p.Status == nil && p.DueDate == nil
}

// Validate checks enum fields against their known values.
func (p Patch) Validate() error {
	if p.Stage != nil && !p.Stage.Valid() {
		return cerr.NewError(cerr.InvalidArgument, fmt.Sprintf("unknown stage %q", *p.Stage), nil)
	}
	if p.Origin != nil && !p.Origin.Valid() {
		return cerr.NewError(cerr.InvalidArgument, fmt.Sprintf("unknown origin %q", *p.Origin), nil)
	}
	return nil
}

// Apply merges the patch into t in place. UpdatedAt is not touched here; the
// repository refreshes it when the mutation is persisted.
func (p Patch) Apply(t *Task) {
	if p.Text != nil {
		t.Text = *p.Text
	}
	if p.Stage != nil {
		t.Stage = *p.Stage
	}
	if p.Origin != nil {
		t.Origin = *p.Origin
	}
	if p.SourceID != nil {
		t.SourceID = *p.SourceID
	}
	if p.Completed != nil {
		t.Completed = *p.Completed
	}
	if p.Notes != nil {
		t.Notes = *p.Notes
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.Owner != nil {
		t.Owner = *p.Owner
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.DueDate != nil {
		t.DueDate = *p.DueDate
	}
}

// WithoutProvenance returns a copy of the patch with the origin and sourceId
// fields removed. The coordinator uses this to keep both fields immutable on
// template-originated tasks.
func (p Patch) WithoutProvenance() Patch {
	p.Origin = nil
	p.SourceID = nil
	return p
}
