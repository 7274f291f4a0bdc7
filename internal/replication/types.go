package replication

import (
	"github.com/zeusync/arsync/internal/core/models"
)

// TypeTable maps component type names to the ids a session resolved for them.
// Ids are only valid for the session that issued them.
type TypeTable struct {
	ids   map[string]models.ComponentTypeID
	names map[models.ComponentTypeID]string
}

func NewTypeTable() *TypeTable {
	return &TypeTable{
		ids:   make(map[string]models.ComponentTypeID),
		names: make(map[models.ComponentTypeID]string),
	}
}

func (t *TypeTable) Set(name string, id models.ComponentTypeID) {
	if old, ok := t.ids[name]; ok {
		delete(t.names, old)
	}
	t.ids[name] = id
	t.names[id] = name
}

func (t *TypeTable) ID(name string) (models.ComponentTypeID, bool) {
	id, ok := t.ids[name]
	return id, ok
}

func (t *TypeTable) Name(id models.ComponentTypeID) (string, bool) {
	name, ok := t.names[id]
	return name, ok
}

func (t *TypeTable) Len() int { return len(t.ids) }

// Reset forgets every resolved id.
func (t *TypeTable) Reset() {
	clear(t.ids)
	clear(t.names)
}
