package relay

import (
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/zeusync/arsync/internal/core/models"
	"github.com/zeusync/arsync/internal/core/observability/log"
	"github.com/zeusync/arsync/internal/core/session"
	"github.com/zeusync/arsync/internal/relay/wire"
)

// sender queues a frame for one member without blocking.
type sender interface {
	Send(f wire.Frame)
}

type member struct {
	participant models.Participant
	out         sender
}

type componentKey struct {
	typeID   models.ComponentTypeID
	entityID models.EntityID
}

type pendingAction struct {
	requester *member
	owner     models.ParticipantID
	request   string
	action    models.EntityAction
}

// Room is the authoritative store of one session. Every mutation is applied
// under mu and fanned out to members in the order it was applied.
type Room struct {
	name   string
	mu     sync.Mutex
	logger log.Log
	refs   int

	nextEntity      models.EntityID
	nextParticipant models.ParticipantID
	nextType        models.ComponentTypeID

	types      map[string]models.ComponentTypeID
	typeNames  map[models.ComponentTypeID]string
	entities   map[models.EntityID]*wire.EntityState
	components map[componentKey][]byte
	members    []*member
	pending    map[string]*pendingAction
}

func newRoom(name string, logger log.Log) *Room {
	return &Room{
		name:       name,
		logger:     logger.With(log.String("room", name)),
		types:      make(map[string]models.ComponentTypeID),
		typeNames:  make(map[models.ComponentTypeID]string),
		entities:   make(map[models.EntityID]*wire.EntityState),
		components: make(map[componentKey][]byte),
		pending:    make(map[string]*pendingAction),
	}
}

func (r *Room) Name() string { return r.name }

// Participants lists the members in join order.
func (r *Room) Participants() []models.Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Participant, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, m.participant)
	}
	return out
}

// Entities reports how many entities the room holds.
func (r *Room) Entities() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entities)
}

// join adds a participant with an entity at the origin, sends it the room
// snapshot and announces it to everyone else.
func (r *Room) join(name string, out sender) *member {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextParticipant++
	id := r.nextParticipant
	st := r.createEntityLocked(id, models.PoseAt(models.Vector3{}))
	m := &member{
		participant: models.Participant{ID: id, Entity: st.Entity.ID, Name: name},
		out:         out,
	}
	r.members = append(r.members, m)

	out.Send(wire.Frame{Type: wire.FrameWelcome, Snapshot: r.snapshotLocked(m.participant)})
	joined := m.participant
	entity := *st
	r.broadcastLocked(m, wire.Frame{Type: wire.FrameJoined, Participant: &joined, Entity: &entity})

	r.logger.Info("participant joined",
		log.Uint32("participant", uint32(id)),
		log.Uint32("entity", uint32(st.Entity.ID)),
		log.String("name", name))
	return m
}

// leave removes m and deletes every entity it owns.
func (r *Room) leave(m *member) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.members = slices.DeleteFunc(r.members, func(cur *member) bool { return cur == m })
	id := m.participant.ID

	owned := make([]models.EntityID, 0)
	for eid, st := range r.entities {
		if st.Entity.Owner == id {
			owned = append(owned, eid)
		}
	}
	slices.Sort(owned)
	for _, eid := range owned {
		r.deleteEntityLocked(id, eid)
	}

	for deliveryID, p := range r.pending {
		switch {
		case p.requester == m:
			delete(r.pending, deliveryID)
		case p.owner == id:
			delete(r.pending, deliveryID)
			p.requester.out.Send(result(p.request, session.ErrActionRejected))
		}
	}

	left := m.participant
	r.broadcastLocked(nil, wire.Frame{Type: wire.FrameLeft, Participant: &left})
	r.logger.Info("participant left", log.Uint32("participant", uint32(id)), log.Int("entities", len(owned)))
}

func (r *Room) handle(m *member, f wire.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch f.Type {
	case wire.FrameResolve:
		r.resolveLocked(m, f)
	case wire.FrameAddEntity:
		r.addEntityLocked(m, f)
	case wire.FrameDeleteEntity:
		r.deleteEntityRequestLocked(m, f)
	case wire.FrameSetPose:
		r.setPoseLocked(m, f)
	case wire.FrameAddComponent, wire.FrameUpdateComponent, wire.FrameDeleteComponent:
		r.writeLocked(m, f)
	case wire.FrameComponents:
		r.componentsLocked(m, f)
	case wire.FrameAction:
		r.actionLocked(m, f)
	case wire.FrameActionReply:
		r.actionReplyLocked(m, f)
	default:
		r.logger.Debug("unexpected frame", log.String("type", string(f.Type)))
		if f.Request != "" {
			m.out.Send(result(f.Request, wire.ErrInvalidFrame))
		}
	}
}

func result(request string, err error) wire.Frame {
	return wire.Frame{Type: wire.FrameResult, Request: request, Error: wire.NewError(err)}
}

// broadcastLocked sends f to every member except skip.
func (r *Room) broadcastLocked(skip *member, f wire.Frame) {
	for _, m := range r.members {
		if m != skip {
			m.out.Send(f)
		}
	}
}

func (r *Room) snapshotLocked(self models.Participant) *wire.Snapshot {
	s := &wire.Snapshot{
		Participant:  self,
		Types:        make(map[string]models.ComponentTypeID, len(r.types)),
		Participants: make([]models.Participant, 0, len(r.members)),
		Entities:     make([]wire.EntityState, 0, len(r.entities)),
		Components:   make([]models.Component, 0, len(r.components)),
	}
	for name, id := range r.types {
		s.Types[name] = id
	}
	for _, m := range r.members {
		s.Participants = append(s.Participants, m.participant)
	}
	for _, st := range r.entities {
		s.Entities = append(s.Entities, *st)
	}
	slices.SortFunc(s.Entities, func(a, b wire.EntityState) int { return int(a.Entity.ID) - int(b.Entity.ID) })
	for k, data := range r.components {
		s.Components = append(s.Components, models.Component{TypeID: k.typeID, EntityID: k.entityID, Data: data})
	}
	slices.SortFunc(s.Components, compareComponents)
	return s
}

func compareComponents(a, b models.Component) int {
	if a.EntityID != b.EntityID {
		return int(a.EntityID) - int(b.EntityID)
	}
	return int(a.TypeID) - int(b.TypeID)
}

func (r *Room) createEntityLocked(owner models.ParticipantID, pose models.Pose) *wire.EntityState {
	r.nextEntity++
	st := &wire.EntityState{Entity: models.Entity{ID: r.nextEntity, Owner: owner}, Pose: pose}
	r.entities[st.Entity.ID] = st
	return st
}

func (r *Room) resolveLocked(m *member, f wire.Frame) {
	if f.Name == "" {
		m.out.Send(result(f.Request, wire.ErrInvalidFrame))
		return
	}
	id, ok := r.types[f.Name]
	if !ok {
		r.nextType++
		id = r.nextType
		r.types[f.Name] = id
		r.typeNames[id] = f.Name
	}
	m.out.Send(wire.Frame{Type: wire.FrameResult, Request: f.Request, Name: f.Name, TypeID: id})
}

func (r *Room) addEntityLocked(m *member, f wire.Frame) {
	pose := models.PoseAt(models.Vector3{})
	if f.Pose != nil {
		pose = *f.Pose
	}
	st := *r.createEntityLocked(m.participant.ID, pose)
	r.broadcastLocked(m, wire.Frame{Type: wire.FrameEntityAdded, Entity: &st})
	m.out.Send(wire.Frame{Type: wire.FrameResult, Request: f.Request, Entity: &st})
}

func (r *Room) deleteEntityRequestLocked(m *member, f wire.Frame) {
	st, ok := r.entities[f.EntityID]
	switch {
	case !ok:
		m.out.Send(result(f.Request, session.ErrEntityNotFound))
	case st.Entity.Owner != m.participant.ID:
		m.out.Send(result(f.Request, session.ErrNotOwner))
	default:
		r.deleteEntityLocked(m.participant.ID, f.EntityID)
		m.out.Send(result(f.Request, nil))
	}
}

// deleteEntityLocked removes the entity's components, then the entity,
// notifying every member.
func (r *Room) deleteEntityLocked(writer models.ParticipantID, id models.EntityID) {
	keys := make([]componentKey, 0)
	for k := range r.components {
		if k.entityID == id {
			keys = append(keys, k)
		}
	}
	slices.SortFunc(keys, func(a, b componentKey) int { return int(a.typeID) - int(b.typeID) })
	for _, k := range keys {
		c := models.Component{TypeID: k.typeID, EntityID: k.entityID, Data: r.components[k]}
		delete(r.components, k)
		r.broadcastLocked(nil, wire.Frame{Type: wire.FrameComponentDeleted, Name: r.typeNames[k.typeID], Component: &c, Writer: writer})
	}
	delete(r.entities, id)
	r.broadcastLocked(nil, wire.Frame{Type: wire.FrameEntityRemoved, EntityID: id, Writer: writer})
}

func (r *Room) setPoseLocked(m *member, f wire.Frame) {
	st, ok := r.entities[f.EntityID]
	if !ok || f.Pose == nil {
		return
	}
	st.Pose = *f.Pose
	r.broadcastLocked(m, wire.Frame{Type: wire.FramePose, EntityID: f.EntityID, Pose: f.Pose})
}

func (r *Room) writeLocked(m *member, f wire.Frame) {
	if f.Component == nil {
		m.out.Send(result(f.Request, wire.ErrInvalidFrame))
		return
	}
	c := *f.Component
	name, ok := r.typeNames[c.TypeID]
	if !ok {
		m.out.Send(result(f.Request, session.ErrUnknownType))
		return
	}
	if _, ok := r.entities[c.EntityID]; !ok {
		m.out.Send(result(f.Request, session.ErrEntityNotFound))
		return
	}
	key := componentKey{typeID: c.TypeID, entityID: c.EntityID}
	current, exists := r.components[key]
	switch {
	case f.Type != wire.FrameAddComponent && !exists:
		m.out.Send(result(f.Request, session.ErrComponentNotFound))
		return
	case f.Type == wire.FrameAddComponent && exists:
		m.out.Send(result(f.Request, session.ErrComponentExists))
		return
	}

	notify := wire.Frame{Type: wire.FrameComponentUpdated, Name: name, Writer: m.participant.ID}
	if f.Type == wire.FrameDeleteComponent {
		c.Data = current
		delete(r.components, key)
		notify.Type = wire.FrameComponentDeleted
	} else {
		r.components[key] = c.Data
	}
	notify.Component = &c
	r.broadcastLocked(nil, notify)
	m.out.Send(result(f.Request, nil))
}

func (r *Room) componentsLocked(m *member, f wire.Frame) {
	if _, ok := r.typeNames[f.TypeID]; !ok {
		m.out.Send(result(f.Request, session.ErrUnknownType))
		return
	}
	out := make([]models.Component, 0)
	for k, data := range r.components {
		if k.typeID == f.TypeID {
			out = append(out, models.Component{TypeID: k.typeID, EntityID: k.entityID, Data: data})
		}
	}
	slices.SortFunc(out, compareComponents)
	m.out.Send(wire.Frame{Type: wire.FrameResult, Request: f.Request, TypeID: f.TypeID, Components: out})
}

// actionLocked delivers an action to every other member. The owner of the
// addressed entity answers with an action reply that becomes the sender's
// acknowledgement; a sender owning the entity is acknowledged right away.
func (r *Room) actionLocked(m *member, f wire.Frame) {
	if f.Action == nil {
		m.out.Send(result(f.Request, wire.ErrInvalidFrame))
		return
	}
	st, ok := r.entities[f.Action.EntityID]
	if !ok {
		m.out.Send(result(f.Request, session.ErrEntityNotFound))
		return
	}
	action := *f.Action
	action.Requester = m.participant.ID
	owner := st.Entity.Owner

	deliveryID := uuid.NewString()
	if owner != m.participant.ID {
		r.pending[deliveryID] = &pendingAction{requester: m, owner: owner, request: f.Request, action: action}
	}
	for _, other := range r.members {
		if other == m {
			continue
		}
		other.out.Send(wire.Frame{
			Type:    wire.FrameAction,
			Request: deliveryID,
			Action:  &action,
			Reply:   other.participant.ID == owner,
		})
	}
	if owner == m.participant.ID {
		m.out.Send(wire.Frame{Type: wire.FrameAck, Request: f.Request, Action: &action})
	}
}

func (r *Room) actionReplyLocked(m *member, f wire.Frame) {
	p, ok := r.pending[f.Request]
	if !ok || p.owner != m.participant.ID {
		r.logger.Debug("reply for unknown action", log.String("request", f.Request))
		return
	}
	delete(r.pending, f.Request)
	ack := p.action
	if f.Action != nil && f.Action.Data != nil {
		ack.Data = f.Action.Data
	}
	p.requester.out.Send(wire.Frame{Type: wire.FrameAck, Request: p.request, Action: &ack})
}
