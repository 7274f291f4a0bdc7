// Package session declares the shared-session collaborator the replication
// layer runs on: entity and component storage, change notifications and
// entity-addressed actions.
//
// Implementations deliver every callback (change batches, completion
// callbacks, action replies) from Pump, so callers observe one logical
// timeline and never need locks around their own state.
package session

import (
	"errors"

	"github.com/zeusync/arsync/internal/core/models"
)

var (
	ErrEntityNotFound    = errors.New("entity not found")
	ErrComponentNotFound = errors.New("component not found")
	ErrComponentExists   = errors.New("component already exists")
	ErrUnknownType       = errors.New("unknown component type")
	ErrNotOwner          = errors.New("participant does not own entity")
	ErrClosed            = errors.New("session closed")
	ErrActionRejected    = errors.New("action rejected")
)

// Listener receives change batches for the component types it names.
// Every batch contains only components whose type name is in ComponentTypeNames.
type Listener interface {
	ComponentTypeNames() []string
	OnUpdated(batch []models.Change)
	OnDeleted(batch []models.Change)
}

// ActionHandler handles an inbound entity action. A non-nil return value is
// used as the acknowledgement payload when the local peer owns the addressed entity.
type ActionHandler func(action models.EntityAction) []byte

type Session interface {
	// ParticipantID identifies the local peer.
	ParticipantID() models.ParticipantID

	// RegisterSystem subscribes l to change notifications.
	RegisterSystem(l Listener)

	// ResolveComponentType maps a stable type name to its per-session numeric id.
	ResolveComponentType(name string, onSuccess func(models.ComponentTypeID), onError func(error))

	AddEntity(pose models.Pose, onSuccess func(models.Entity), onError func(error))
	DeleteEntity(id models.EntityID, onComplete func(error))
	Entity(id models.EntityID) (models.Entity, bool)
	EntityPose(id models.EntityID) (models.Pose, bool)
	SetEntityPose(id models.EntityID, pose models.Pose)
	Participants() []models.Participant

	AddComponent(typeID models.ComponentTypeID, entityID models.EntityID, data []byte, onComplete func(error))
	UpdateComponent(typeID models.ComponentTypeID, entityID models.EntityID, data []byte, onComplete func(error))
	DeleteComponent(typeID models.ComponentTypeID, entityID models.EntityID, onComplete func(error))
	Component(typeID models.ComponentTypeID, entityID models.EntityID) (models.Component, bool)
	Components(typeID models.ComponentTypeID, onResult func([]models.Component, error))

	// RequestAction sends a named action addressed to entityID. onReply receives
	// the acknowledged action once the addressed entity's owner has handled it.
	RequestAction(entityID models.EntityID, name string, data []byte, onReply func(models.EntityAction), onError func(error))
	// OnEntityAction installs the handler for actions sent by other peers.
	OnEntityAction(handler ActionHandler)

	// Pump delivers queued notifications and callbacks and reports how many ran.
	Pump() int
}

// Complete invokes cb with err when cb is set.
func Complete(cb func(error), err error) {
	if cb != nil {
		cb(err)
	}
}
