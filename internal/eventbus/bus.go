package eventbus

import (
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

type EventType string

const (
	EventTaskCreated       EventType = "task.created"
	EventTaskUpdatePending EventType = "task.update.pending"
	EventTaskUpdateSynced  EventType = "task.update.synced"
	EventTaskUpdateFailed  EventType = "task.update.failed"
	EventTaskSiblingSynced EventType = "task.sibling.synced"
	EventProjectSeeded     EventType = "project.seeded"
)

type Event struct {
	ID        string            `json:"id"`
	Type      EventType         `json:"type"`
	ProjectID string            `json:"projectId"`
	TaskID    string            `json:"taskId,omitempty"`
	Payload   map[string]string `json:"payload,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]chan *Event
}

func New() *Bus {
	return &Bus{
		subscribers: make(map[string]chan *Event),
	}
}

func (b *Bus) Subscribe(bufSize int) (string, <-chan *Event) {
	id := ulid.Make().String()
	ch := make(chan *Event, bufSize)
	b.mu.Lock()
	b.subscribers[id] = ch
	b.mu.Unlock()
	return id, ch
}

func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	if ch, ok := b.subscribers[id]; ok {
		close(ch)
		delete(b.subscribers, id)
	}
	b.mu.Unlock()
}

func (b *Bus) Publish(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			// buffer full, drop event for this subscriber
		}
	}
}

func (b *Bus) PublishNew(eventType EventType, projectID, taskID string, payload map[string]string) {
	event := &Event{
		ID:        ulid.Make().String(),
		Type:      eventType,
		ProjectID: projectID,
		TaskID:    taskID,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
	b.Publish(event)
}
