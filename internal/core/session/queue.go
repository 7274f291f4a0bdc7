package session

import (
	"slices"

	"github.com/zeusync/arsync/internal/core/models"
)

type NotificationKind uint8

const (
	NotifyTask NotificationKind = iota
	NotifyUpdate
	NotifyDelete
)

// Notification is one entry of a session's timeline: a change for
// listeners, or a task such as a completion callback.
type Notification struct {
	Kind     NotificationKind
	TypeName string
	Change   models.Change
	Task     func()
}

// Queue collects notifications until they are drained by Pump. It is not
// safe for concurrent use; implementations guard it with their own lock.
type Queue struct {
	items []Notification
}

func (q *Queue) Task(fn func()) {
	if fn != nil {
		q.items = append(q.items, Notification{Kind: NotifyTask, Task: fn})
	}
}

func (q *Queue) Change(kind NotificationKind, typeName string, c models.Change) {
	q.items = append(q.items, Notification{Kind: kind, TypeName: typeName, Change: c})
}

func (q *Queue) Len() int { return len(q.items) }

// Take empties the queue and returns what it held.
func (q *Queue) Take() []Notification {
	items := q.items
	q.items = nil
	return items
}

// Deliver runs items in order. Consecutive changes of the same kind reach
// each listener as one batch holding only its own component types; a task
// closes the current batch.
func Deliver(listeners []Listener, items []Notification) {
	var (
		batch     []Notification
		batchKind NotificationKind
	)
	flush := func() {
		if len(batch) > 0 {
			deliverBatch(listeners, batchKind, batch)
		}
		batch = batch[:0]
	}
	for _, it := range items {
		if it.Kind == NotifyTask {
			flush()
			it.Task()
			continue
		}
		if len(batch) > 0 && it.Kind != batchKind {
			flush()
		}
		batchKind = it.Kind
		batch = append(batch, it)
	}
	flush()
}

func deliverBatch(listeners []Listener, kind NotificationKind, batch []Notification) {
	for _, l := range listeners {
		names := l.ComponentTypeNames()
		changes := make([]models.Change, 0, len(batch))
		for _, it := range batch {
			if slices.Contains(names, it.TypeName) {
				changes = append(changes, it.Change)
			}
		}
		if len(changes) == 0 {
			continue
		}
		if kind == NotifyDelete {
			l.OnDeleted(changes)
		} else {
			l.OnUpdated(changes)
		}
	}
}
