package repositoryimpl

import (
	"context"
	"fmt"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/planpath/planpath/internal/task"
	"github.com/planpath/planpath/pkg/cerr"
	"github.com/planpath/planpath/pkg/storage"
)

const tasksPrefix = "tasks"

// YAMLRepository stores one YAML document per task under
// tasks/<project>/<id>.yaml.
type YAMLRepository struct {
	storage storage.Storage
}

func NewYAMLRepository(s storage.Storage) *YAMLRepository {
	return &YAMLRepository{storage: s}
}

func path(projectID, id string) string {
	return fmt.Sprintf("%s/%s/%s.yaml", tasksPrefix, projectID, id)
}

func projectPrefix(projectID string) string {
	return fmt.Sprintf("%s/%s", tasksPrefix, projectID)
}

func (r *YAMLRepository) Create(ctx context.Context, t *task.Task) error {
	exists, err := r.storage.Exists(ctx, path(t.ProjectID, t.ID))
	if err != nil {
		return cerr.WrapStorageWriteError("task", err)
	}
	if exists {
		return cerr.NewError(cerr.AlreadyExists, "task already exists", nil)
	}
	data, err := yaml.Marshal(t)
	if err != nil {
		return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to marshal task: %w", err))
	}
	if err := r.storage.Write(ctx, path(t.ProjectID, t.ID), data); err != nil {
		return cerr.WrapStorageWriteError("task", err)
	}
	return nil
}

func (r *YAMLRepository) FindByID(ctx context.Context, projectID, id string) (*task.Task, error) {
	data, err := r.storage.Read(ctx, path(projectID, id))
	if err != nil {
		return nil, cerr.WrapStorageReadError("task", err)
	}
	var t task.Task
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to unmarshal task: %w", err))
	}
	return &t, nil
}

func (r *YAMLRepository) FindBySourceID(ctx context.Context, projectID, sourceID string) ([]*task.Task, error) {
	if sourceID == "" {
		return nil, nil
	}
	all, err := r.ListByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	var matched []*task.Task
	for _, t := range all {
		if t.SourceID == sourceID {
			matched = append(matched, t)
		}
	}
	return matched, nil
}

func (r *YAMLRepository) ListByProject(ctx context.Context, projectID string) ([]*task.Task, error) {
	paths, err := r.storage.List(ctx, projectPrefix(projectID))
	if err != nil {
		return nil, cerr.WrapStorageReadError("tasks", err)
	}

	var all []*task.Task
	for _, p := range paths {
		data, err := r.storage.Read(ctx, p)
		if err != nil {
			continue
		}
		var t task.Task
		if err := yaml.Unmarshal(data, &t); err != nil {
			continue
		}
		all = append(all, &t)
	}

	// Creation order, ID as tie-break, so "first match" is stable.
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})
	return all, nil
}

func (r *YAMLRepository) Update(ctx context.Context, projectID, id string, patch task.Patch) (*task.Task, error) {
	t, err := r.FindByID(ctx, projectID, id)
	if err != nil {
		return nil, err
	}
	patch.Apply(t)
	t.UpdatedAt = time.Now()

	data, err := yaml.Marshal(t)
	if err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to marshal task: %w", err))
	}
	if err := r.storage.Write(ctx, path(projectID, id), data); err != nil {
		return nil, cerr.WrapStorageWriteError("task", err)
	}
	return t, nil
}

func (r *YAMLRepository) Delete(ctx context.Context, projectID, id string) error {
	if err := r.storage.Delete(ctx, path(projectID, id)); err != nil {
		return cerr.WrapStorageDeleteError("task", err)
	}
	return nil
}
