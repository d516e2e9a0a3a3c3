package task

import "context"

// Repository is the persistence collaborator for tasks. Every method is
// scoped by projectID, but the repository itself guarantees nothing about
// cross-project isolation; the resolver owns that property.
type Repository interface {
	Create(ctx context.Context, t *Task) error
	// FindByID returns the task with the given id inside the project, or a
	// not-found error.
	FindByID(ctx context.Context, projectID, id string) (*Task, error)
	// FindBySourceID returns all tasks in the project cloned from the given
	// template, in creation order.
	FindBySourceID(ctx context.Context, projectID, sourceID string) ([]*Task, error)
	// ListByProject returns all tasks of the project in creation order.
	ListByProject(ctx context.Context, projectID string) ([]*Task, error)
	// Update applies the patch to the stored task, refreshes UpdatedAt and
	// returns the persisted row.
	Update(ctx context.Context, projectID, id string, patch Patch) (*Task, error)
	Delete(ctx context.Context, projectID, id string) error
}
