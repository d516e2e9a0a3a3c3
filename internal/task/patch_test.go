package task

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planpath/planpath/pkg/cerr"
)

func strPtr(s string) *string { return &s }

func TestPatchIsZero(t *testing.T) {
	assert.True(t, Patch{}.IsZero())
	assert.False(t, Patch{Text: strPtr("x")}.IsZero())

	done := false
	assert.False(t, Patch{Completed: &done}.IsZero(), "an explicit false is still a change")
	assert.False(t, Patch{Notes: strPtr("")}.IsZero(), "an explicit empty string clears the field")
}

func TestPatchValidate(t *testing.T) {
	stage := StageDelivery
	origin := OriginHeuristic
	require.NoError(t, Patch{Stage: &stage, Origin: &origin}.Validate())

	bad := Stage("bogus")
	err := Patch{Stage: &bad}.Validate()
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.InvalidArgument))

	badOrigin := Origin("mystery")
	err = Patch{Origin: &badOrigin}.Validate()
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.InvalidArgument))
}

func TestPatchApply(t *testing.T) {
	now := time.Now()
	tk := &Task{
		ID:        "t1",
		ProjectID: "p1",
		Text:      "original",
		Stage:     StageIdentification,
		Origin:    OriginCustom,
		Notes:     "keep or clear",
		Priority:  "high",
		CreatedAt: now,
		UpdatedAt: now,
	}

	stage := StageDelivery
	done := true
	Patch{
		Text:      strPtr("updated"),
		Stage:     &stage,
		Completed: &done,
		Notes:     strPtr(""),
	}.Apply(tk)

	assert.Equal(t, "updated", tk.Text)
	assert.Equal(t, StageDelivery, tk.Stage)
	assert.True(t, tk.Completed)
	assert.Empty(t, tk.Notes, "explicit empty string clears the field")
	assert.Equal(t, "high", tk.Priority, "nil fields stay untouched")
	assert.Equal(t, OriginCustom, tk.Origin)
	assert.True(t, tk.UpdatedAt.Equal(now), "Apply never touches timestamps")
}

func TestPatchWithoutProvenance(t *testing.T) {
	origin := OriginCustom
	p := Patch{
		Text:     strPtr("updated"),
		Origin:   &origin,
		SourceID: strPtr(""),
	}

	stripped := p.WithoutProvenance()
	assert.Nil(t, stripped.Origin)
	assert.Nil(t, stripped.SourceID)
	assert.NotNil(t, stripped.Text)

	// The receiver is left alone.
	assert.NotNil(t, p.Origin)
	assert.NotNil(t, p.SourceID)
}

func TestTaskIsTemplateClone(t *testing.T) {
	assert.True(t, (&Task{Origin: OriginFactor, SourceID: "sf-1"}).IsTemplateClone())
	assert.False(t, (&Task{Origin: OriginFactor}).IsTemplateClone())
	assert.False(t, (&Task{Origin: OriginCustom, SourceID: "sf-1"}).IsTemplateClone())
}

func TestTaskClone(t *testing.T) {
	tk := &Task{ID: "t1", Text: "original"}
	copied := tk.Clone()
	copied.Text = "changed"
	assert.Equal(t, "original", tk.Text)
}
