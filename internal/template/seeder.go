package template

import (
	"context"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/planpath/planpath/internal/eventbus"
	"github.com/planpath/planpath/internal/task"
)

// Seeder clones the catalog's templates into per-project task rows at
// project-initialization time. Seeding is idempotent: a template whose clone
// already exists in the project is skipped.
type Seeder struct {
	catalog *Catalog
	repo    task.Repository
	bus     *eventbus.Bus
}

func NewSeeder(catalog *Catalog, repo task.Repository, bus *eventbus.Bus) *Seeder {
	return &Seeder{
		catalog: catalog,
		repo:    repo,
		bus:     bus,
	}
}

// Seed creates one factor-origin task per template in the project and
// returns the newly created tasks.
func (s *Seeder) Seed(ctx context.Context, projectID string) ([]*task.Task, error) {
	var created []*task.Task
	for _, tpl := range s.catalog.Templates() {
		existing, err := s.repo.FindBySourceID(ctx, projectID, tpl.ID)
		if err != nil {
			return created, err
		}
		if len(existing) > 0 {
			continue
		}

		now := time.Now()
		t := &task.Task{
			ID:        ulid.Make().String(),
			ProjectID: projectID,
			Text:      tpl.Text,
			Stage:     tpl.Stage,
			Origin:    task.OriginFactor,
			SourceID:  tpl.ID,
			Priority:  tpl.Priority,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.repo.Create(ctx, t); err != nil {
			return created, err
		}
		created = append(created, t)
	}

	if len(created) > 0 && s.bus != nil {
		s.bus.PublishNew(eventbus.EventProjectSeeded, projectID, "",
			map[string]string{"count": strconv.Itoa(len(created))})
	}
	return created, nil
}
