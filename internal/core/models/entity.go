package models

import "fmt"

type (
	EntityID        uint32
	ParticipantID   uint32
	ComponentTypeID uint32
)

func (id EntityID) String() string { return fmt.Sprintf("entity#%d", uint32(id)) }

// Entity is a shared object identity. Owner is fixed at creation and decides
// who may delete the entity.
type Entity struct {
	ID    EntityID      `json:"id"`
	Owner ParticipantID `json:"owner"`
}

// OwnedBy reports whether p created the entity.
func (e Entity) OwnedBy(p ParticipantID) bool { return e.Owner == p }

// Component is one replicated payload attached to an entity.
type Component struct {
	TypeID   ComponentTypeID `json:"type_id"`
	EntityID EntityID        `json:"entity_id"`
	Data     []byte          `json:"data,omitempty"`
}

// Change is a component notification as delivered by a session.
// LocalChange is set on the peer that issued the write; Writer names that peer
// on every receiver.
type Change struct {
	Component   Component
	LocalChange bool
	Writer      ParticipantID
}

// EntityAction is a named, entity-addressed request carried outside the component store.
type EntityAction struct {
	EntityID  EntityID      `json:"entity_id"`
	Name      string        `json:"name"`
	Data      []byte        `json:"data,omitempty"`
	Requester ParticipantID `json:"requester"`
}

// Participant is one peer in the session together with the entity representing it.
type Participant struct {
	ID     ParticipantID `json:"id"`
	Entity EntityID      `json:"entity"`
	Name   string        `json:"name"`
}
