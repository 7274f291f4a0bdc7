// Package loopback implements session.Session for several peers living in one
// process. A Hub owns the shared store; each Peer sees it through its own
// notification queue, drained by Pump.
package loopback

import (
	"slices"
	"sync"

	"github.com/zeusync/arsync/internal/core/models"
	"github.com/zeusync/arsync/internal/core/observability/log"
	"github.com/zeusync/arsync/internal/core/session"
)

type componentKey struct {
	typeID   models.ComponentTypeID
	entityID models.EntityID
}

type entityState struct {
	entity models.Entity
	pose   models.Pose
}

// Hub is the shared component store of one session.
type Hub struct {
	mu     sync.Mutex
	logger log.Log

	nextEntity      models.EntityID
	nextParticipant models.ParticipantID
	nextType        models.ComponentTypeID

	types      map[string]models.ComponentTypeID
	typeNames  map[models.ComponentTypeID]string
	entities   map[models.EntityID]*entityState
	components map[componentKey][]byte
	peers      []*Peer
}

func NewHub(logger log.Log) *Hub {
	if logger == nil {
		logger = log.Provide()
	}
	return &Hub{
		logger:     logger.With(log.String("component", "loopback_hub")),
		types:      make(map[string]models.ComponentTypeID),
		typeNames:  make(map[models.ComponentTypeID]string),
		entities:   make(map[models.EntityID]*entityState),
		components: make(map[componentKey][]byte),
	}
}

// Join adds a participant and creates the entity representing it at pose.
func (h *Hub) Join(name string, pose models.Pose) *Peer {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextParticipant++
	p := &Peer{hub: h, id: h.nextParticipant, name: name}
	p.entity = h.createEntityLocked(p.id, pose).ID
	h.peers = append(h.peers, p)

	h.logger.Debug("participant joined",
		log.Uint32("participant", uint32(p.id)),
		log.Uint32("entity", uint32(p.entity)),
		log.String("name", name))
	return p
}

// Peers returns the participants currently joined, in join order.
func (h *Hub) Peers() []*Peer {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.peers)
}

// PumpAll drains every peer until no peer has pending work.
func (h *Hub) PumpAll() int {
	total := 0
	for {
		ran := 0
		for _, p := range h.Peers() {
			ran += p.Pump()
		}
		if ran == 0 {
			return total
		}
		total += ran
	}
}

func (h *Hub) createEntityLocked(owner models.ParticipantID, pose models.Pose) models.Entity {
	h.nextEntity++
	e := models.Entity{ID: h.nextEntity, Owner: owner}
	h.entities[e.ID] = &entityState{entity: e, pose: pose}
	return e
}

func (h *Hub) resolveLocked(name string) models.ComponentTypeID {
	if id, ok := h.types[name]; ok {
		return id
	}
	h.nextType++
	h.types[name] = h.nextType
	h.typeNames[h.nextType] = name
	return h.nextType
}

// broadcastLocked queues a change for every joined peer, flagged local for the writer.
func (h *Hub) broadcastLocked(kind session.NotificationKind, writer models.ParticipantID, c models.Component) {
	name := h.typeNames[c.TypeID]
	for _, p := range h.peers {
		p.queue.Change(kind, name, models.Change{
			Component:   models.Component{TypeID: c.TypeID, EntityID: c.EntityID, Data: slices.Clone(c.Data)},
			LocalChange: p.id == writer,
			Writer:      writer,
		})
	}
}

// deleteEntityLocked removes the entity and its components, notifying peers.
func (h *Hub) deleteEntityLocked(writer models.ParticipantID, id models.EntityID) {
	keys := make([]componentKey, 0)
	for k := range h.components {
		if k.entityID == id {
			keys = append(keys, k)
		}
	}
	slices.SortFunc(keys, func(a, b componentKey) int { return int(a.typeID) - int(b.typeID) })
	for _, k := range keys {
		data := h.components[k]
		delete(h.components, k)
		h.broadcastLocked(session.NotifyDelete, writer, models.Component{TypeID: k.typeID, EntityID: k.entityID, Data: data})
	}
	delete(h.entities, id)
}

func (h *Hub) removePeerLocked(p *Peer) {
	h.peers = slices.DeleteFunc(h.peers, func(cur *Peer) bool { return cur == p })
}

var _ session.Session = (*Peer)(nil)
