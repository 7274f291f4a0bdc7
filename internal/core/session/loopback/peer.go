package loopback

import (
	"slices"

	"github.com/zeusync/arsync/internal/core/models"
	"github.com/zeusync/arsync/internal/core/observability/log"
	"github.com/zeusync/arsync/internal/core/session"
)

// Peer is one participant's view of a Hub. It is not safe to call Pump
// concurrently with itself.
type Peer struct {
	hub    *Hub
	id     models.ParticipantID
	name   string
	entity models.EntityID

	listeners []session.Listener
	handler   session.ActionHandler
	queue     session.Queue
	left      bool
}

func (p *Peer) ParticipantID() models.ParticipantID { return p.id }

// Self returns the entity created for this participant on Join.
func (p *Peer) Self() models.EntityID { return p.entity }

func (p *Peer) Name() string { return p.name }

// enqueueLocked schedules fn on this peer's timeline. Caller holds hub.mu.
func (p *Peer) enqueueLocked(fn func()) {
	if fn == nil || p.left {
		return
	}
	p.queue.Task(fn)
}

func (p *Peer) schedule(fn func()) {
	p.hub.mu.Lock()
	defer p.hub.mu.Unlock()
	p.enqueueLocked(fn)
}

func (p *Peer) RegisterSystem(l session.Listener) {
	p.hub.mu.Lock()
	defer p.hub.mu.Unlock()
	p.listeners = append(p.listeners, l)
}

func (p *Peer) ResolveComponentType(name string, onSuccess func(models.ComponentTypeID), onError func(error)) {
	p.hub.mu.Lock()
	defer p.hub.mu.Unlock()
	if p.left {
		return
	}
	id := p.hub.resolveLocked(name)
	if onSuccess != nil {
		p.enqueueLocked(func() { onSuccess(id) })
	}
}

func (p *Peer) AddEntity(pose models.Pose, onSuccess func(models.Entity), onError func(error)) {
	p.hub.mu.Lock()
	defer p.hub.mu.Unlock()
	if p.left {
		return
	}
	e := p.hub.createEntityLocked(p.id, pose)
	if onSuccess != nil {
		p.enqueueLocked(func() { onSuccess(e) })
	}
}

func (p *Peer) DeleteEntity(id models.EntityID, onComplete func(error)) {
	p.hub.mu.Lock()
	defer p.hub.mu.Unlock()
	st, ok := p.hub.entities[id]
	switch {
	case !ok:
		p.completeLocked(onComplete, session.ErrEntityNotFound)
	case st.entity.Owner != p.id:
		p.completeLocked(onComplete, session.ErrNotOwner)
	default:
		p.hub.deleteEntityLocked(p.id, id)
		p.completeLocked(onComplete, nil)
	}
}

func (p *Peer) Entity(id models.EntityID) (models.Entity, bool) {
	p.hub.mu.Lock()
	defer p.hub.mu.Unlock()
	st, ok := p.hub.entities[id]
	if !ok {
		return models.Entity{}, false
	}
	return st.entity, true
}

func (p *Peer) EntityPose(id models.EntityID) (models.Pose, bool) {
	p.hub.mu.Lock()
	defer p.hub.mu.Unlock()
	st, ok := p.hub.entities[id]
	if !ok {
		return models.Pose{}, false
	}
	return st.pose, true
}

func (p *Peer) SetEntityPose(id models.EntityID, pose models.Pose) {
	p.hub.mu.Lock()
	defer p.hub.mu.Unlock()
	if st, ok := p.hub.entities[id]; ok {
		st.pose = pose
	}
}

func (p *Peer) Participants() []models.Participant {
	p.hub.mu.Lock()
	defer p.hub.mu.Unlock()
	out := make([]models.Participant, 0, len(p.hub.peers))
	for _, peer := range p.hub.peers {
		out = append(out, models.Participant{ID: peer.id, Entity: peer.entity, Name: peer.name})
	}
	return out
}

func (p *Peer) AddComponent(typeID models.ComponentTypeID, entityID models.EntityID, data []byte, onComplete func(error)) {
	p.write(session.NotifyUpdate, typeID, entityID, data, false, onComplete)
}

func (p *Peer) UpdateComponent(typeID models.ComponentTypeID, entityID models.EntityID, data []byte, onComplete func(error)) {
	p.write(session.NotifyUpdate, typeID, entityID, data, true, onComplete)
}

func (p *Peer) DeleteComponent(typeID models.ComponentTypeID, entityID models.EntityID, onComplete func(error)) {
	p.write(session.NotifyDelete, typeID, entityID, nil, true, onComplete)
}

func (p *Peer) write(kind session.NotificationKind, typeID models.ComponentTypeID, entityID models.EntityID, data []byte, mustExist bool, onComplete func(error)) {
	p.hub.mu.Lock()
	defer p.hub.mu.Unlock()
	if p.left {
		return
	}
	if _, ok := p.hub.typeNames[typeID]; !ok {
		p.completeLocked(onComplete, session.ErrUnknownType)
		return
	}
	if _, ok := p.hub.entities[entityID]; !ok {
		p.completeLocked(onComplete, session.ErrEntityNotFound)
		return
	}
	key := componentKey{typeID: typeID, entityID: entityID}
	_, exists := p.hub.components[key]
	switch {
	case mustExist && !exists:
		p.completeLocked(onComplete, session.ErrComponentNotFound)
		return
	case !mustExist && exists:
		p.completeLocked(onComplete, session.ErrComponentExists)
		return
	}

	c := models.Component{TypeID: typeID, EntityID: entityID, Data: slices.Clone(data)}
	if kind == session.NotifyDelete {
		c.Data = p.hub.components[key]
		delete(p.hub.components, key)
	} else {
		p.hub.components[key] = c.Data
	}
	p.hub.broadcastLocked(kind, p.id, c)
	p.completeLocked(onComplete, nil)
}

func (p *Peer) completeLocked(cb func(error), err error) {
	if cb == nil {
		return
	}
	p.enqueueLocked(func() { cb(err) })
}

func (p *Peer) Component(typeID models.ComponentTypeID, entityID models.EntityID) (models.Component, bool) {
	p.hub.mu.Lock()
	defer p.hub.mu.Unlock()
	data, ok := p.hub.components[componentKey{typeID: typeID, entityID: entityID}]
	if !ok {
		return models.Component{}, false
	}
	return models.Component{TypeID: typeID, EntityID: entityID, Data: slices.Clone(data)}, true
}

func (p *Peer) Components(typeID models.ComponentTypeID, onResult func([]models.Component, error)) {
	if onResult == nil {
		return
	}
	p.hub.mu.Lock()
	defer p.hub.mu.Unlock()
	if _, ok := p.hub.typeNames[typeID]; !ok {
		p.enqueueLocked(func() { onResult(nil, session.ErrUnknownType) })
		return
	}
	out := make([]models.Component, 0)
	for k, data := range p.hub.components {
		if k.typeID == typeID {
			out = append(out, models.Component{TypeID: typeID, EntityID: k.entityID, Data: slices.Clone(data)})
		}
	}
	slices.SortFunc(out, func(a, b models.Component) int { return int(a.EntityID) - int(b.EntityID) })
	p.enqueueLocked(func() { onResult(out, nil) })
}

func (p *Peer) OnEntityAction(handler session.ActionHandler) {
	p.hub.mu.Lock()
	defer p.hub.mu.Unlock()
	p.handler = handler
}

// RequestAction fans the action out to every other peer. The acknowledgement
// carries the owner's handler reply, or the sent payload when the requester
// owns the entity or the owner returns nothing.
func (p *Peer) RequestAction(entityID models.EntityID, name string, data []byte, onReply func(models.EntityAction), onError func(error)) {
	p.hub.mu.Lock()
	defer p.hub.mu.Unlock()
	if p.left {
		return
	}
	st, ok := p.hub.entities[entityID]
	if !ok {
		if onError != nil {
			p.enqueueLocked(func() { onError(session.ErrEntityNotFound) })
		}
		return
	}
	action := models.EntityAction{EntityID: entityID, Name: name, Data: slices.Clone(data), Requester: p.id}
	owner := st.entity.Owner

	for _, peer := range p.hub.peers {
		if peer == p {
			continue
		}
		peer.enqueueLocked(func() {
			reply := peer.invokeHandler(action)
			if peer.id != owner {
				return
			}
			ack := action
			if reply != nil {
				ack.Data = reply
			}
			if onReply != nil {
				p.schedule(func() { onReply(ack) })
			}
		})
	}
	if owner == p.id {
		if onReply != nil {
			p.enqueueLocked(func() { onReply(action) })
		}
	}
}

func (p *Peer) invokeHandler(action models.EntityAction) []byte {
	p.hub.mu.Lock()
	h := p.handler
	p.hub.mu.Unlock()
	if h == nil {
		return nil
	}
	return h(action)
}

// Leave removes the participant and deletes every entity it owns.
func (p *Peer) Leave() {
	p.hub.mu.Lock()
	defer p.hub.mu.Unlock()
	if p.left {
		return
	}
	p.hub.removePeerLocked(p)
	p.left = true
	p.queue.Take()

	owned := make([]models.EntityID, 0)
	for id, st := range p.hub.entities {
		if st.entity.Owner == p.id {
			owned = append(owned, id)
		}
	}
	slices.Sort(owned)
	for _, id := range owned {
		p.hub.deleteEntityLocked(p.id, id)
	}
	p.hub.logger.Debug("participant left", log.Uint32("participant", uint32(p.id)), log.Int("entities", len(owned)))
}

// Pending reports how many queued items the next Pump would process.
func (p *Peer) Pending() int {
	p.hub.mu.Lock()
	defer p.hub.mu.Unlock()
	return p.queue.Len()
}

// Pump drains the queue. Consecutive changes of the same kind are delivered as
// one batch; anything queued while pumping waits for the next call.
func (p *Peer) Pump() int {
	p.hub.mu.Lock()
	items := p.queue.Take()
	listeners := slices.Clone(p.listeners)
	p.hub.mu.Unlock()

	session.Deliver(listeners, items)
	return len(items)
}
