// Package remote implements session.Session against a relay. The client
// mirrors its room's store: frames read from the relay are buffered by a
// reader goroutine and applied on Pump, and the client's own component
// writes are applied to the mirror right away and rolled back if the relay
// rejects them.
package remote

import (
	"bytes"
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/zeusync/arsync/internal/config"
	"github.com/zeusync/arsync/internal/core/models"
	"github.com/zeusync/arsync/internal/core/observability/log"
	"github.com/zeusync/arsync/internal/core/session"
	"github.com/zeusync/arsync/internal/relay/transport"
	"github.com/zeusync/arsync/internal/relay/wire"
)

var ErrUnsupportedTransport = errors.New("unsupported transport")

var _ session.Session = (*Client)(nil)

type componentKey struct {
	typeID   models.ComponentTypeID
	entityID models.EntityID
}

// request is an outstanding call waiting for its Result or Ack frame.
type request struct {
	kind         wire.FrameType
	name         string
	onType       func(models.ComponentTypeID)
	onEntity     func(models.Entity)
	onComponents func([]models.Component, error)
	onReply      func(models.EntityAction)
	onComplete   func(error)
	onError      func(error)
	rollback     func()
}

func (r *request) fail(err error) {
	switch {
	case r.onComplete != nil:
		r.onComplete(err)
	case r.onComponents != nil:
		r.onComponents(nil, err)
	case r.onError != nil:
		r.onError(err)
	}
}

type Client struct {
	conn   wire.Conn
	logger log.Log
	self   models.Participant

	mu           sync.Mutex
	types        map[string]models.ComponentTypeID
	typeNames    map[models.ComponentTypeID]string
	participants []models.Participant
	entities     map[models.EntityID]*wire.EntityState
	components   map[componentKey][]byte
	listeners    []session.Listener
	handler      session.ActionHandler
	pending      map[string]*request
	inbox        []wire.Frame
	queue        session.Queue
	closed       bool
	err          error

	notify chan struct{}
	done   chan struct{}
}

// Connect dials the relay named by cfg and joins its room.
func Connect(ctx context.Context, cfg config.ClientConfig, logger log.Log) (*Client, error) {
	var (
		conn wire.Conn
		err  error
	)
	switch cfg.Transport {
	case "", "websocket":
		conn, err = transport.DialWebSocket(ctx, cfg.URL, cfg.Room, cfg.Name, transport.Options{})
	case "quic":
		conn, err = transport.DialQUIC(ctx, cfg.URL, cfg.Room, cfg.Name, transport.InsecureClientTLS(), transport.Options{})
	default:
		return nil, errors.Wrap(ErrUnsupportedTransport, cfg.Transport)
	}
	if err != nil {
		return nil, err
	}
	return New(conn, logger)
}

// New waits for the relay's welcome on conn and starts reading.
func New(conn wire.Conn, logger log.Log) (*Client, error) {
	if logger == nil {
		logger = log.Provide()
	}
	f, err := conn.ReadFrame()
	if err == nil {
		err = f.Err()
	}
	if err == nil && (f.Type != wire.FrameWelcome || f.Snapshot == nil) {
		err = wire.ErrHandshake
	}
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "join relay room")
	}

	s := f.Snapshot
	c := &Client{
		conn:         conn,
		self:         s.Participant,
		types:        make(map[string]models.ComponentTypeID, len(s.Types)),
		typeNames:    make(map[models.ComponentTypeID]string, len(s.Types)),
		participants: slices.Clone(s.Participants),
		entities:     make(map[models.EntityID]*wire.EntityState, len(s.Entities)),
		components:   make(map[componentKey][]byte, len(s.Components)),
		pending:      make(map[string]*request),
		notify:       make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
	c.logger = logger.With(
		log.String("component", "remote_session"),
		log.Uint32("participant", uint32(c.self.ID)))
	for name, id := range s.Types {
		c.learnTypeLocked(name, id)
	}
	for _, st := range s.Entities {
		c.entities[st.Entity.ID] = &st
	}
	for _, comp := range s.Components {
		c.components[componentKey{typeID: comp.TypeID, entityID: comp.EntityID}] = comp.Data
	}

	go c.readLoop()
	c.logger.Info("joined relay room",
		log.Uint32("entity", uint32(c.self.Entity)),
		log.Int("participants", len(c.participants)))
	return c, nil
}

func (c *Client) ParticipantID() models.ParticipantID { return c.self.ID }

// Self returns the entity the relay created for this participant.
func (c *Client) Self() models.EntityID { return c.self.Entity }

func (c *Client) Name() string { return c.self.Name }

// Notify is signalled whenever frames are waiting for Pump.
func (c *Client) Notify() <-chan struct{} { return c.notify }

// Done is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err reports why the connection ended.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close leaves the room. Outstanding requests fail with session.ErrClosed.
func (c *Client) Close() error {
	c.fail(session.ErrClosed)
	return c.conn.Close()
}

func (c *Client) readLoop() {
	for {
		f, err := c.conn.ReadFrame()
		if errors.Is(err, wire.ErrInvalidFrame) {
			c.logger.Debug("dropping invalid frame", log.Error(err))
			continue
		}
		if err != nil {
			c.fail(err)
			return
		}
		c.mu.Lock()
		c.inbox = append(c.inbox, f)
		c.mu.Unlock()
		c.signal()
	}
}

func (c *Client) signal() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

func (c *Client) fail(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.err = err
	for id, req := range c.pending {
		delete(c.pending, id)
		c.queue.Task(func() { req.fail(session.ErrClosed) })
	}
	c.mu.Unlock()

	if errors.Is(err, session.ErrClosed) {
		c.logger.Info("left relay room")
	} else {
		c.logger.Warn("relay connection lost", log.Error(err))
	}
	close(c.done)
	c.signal()
}

// send registers req under a fresh request id and writes f.
func (c *Client) send(f wire.Frame, req *request) {
	c.mu.Lock()
	if c.closed {
		c.rejectLocked(req, session.ErrClosed)
		c.mu.Unlock()
		return
	}
	f.Request = uuid.NewString()
	c.pending[f.Request] = req
	c.mu.Unlock()

	if err := c.conn.WriteFrame(f); err != nil {
		c.mu.Lock()
		if _, ok := c.pending[f.Request]; ok {
			delete(c.pending, f.Request)
			c.rejectLocked(req, errors.Wrap(err, "send frame"))
		}
		c.mu.Unlock()
	}
}

func (c *Client) rejectLocked(req *request, err error) {
	if req.rollback != nil {
		req.rollback()
	}
	c.queue.Task(func() { req.fail(err) })
}

func (c *Client) learnTypeLocked(name string, id models.ComponentTypeID) {
	if name == "" {
		return
	}
	c.types[name] = id
	c.typeNames[id] = name
}

func (c *Client) RegisterSystem(l session.Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

func (c *Client) ResolveComponentType(name string, onSuccess func(models.ComponentTypeID), onError func(error)) {
	c.mu.Lock()
	if id, ok := c.types[name]; ok {
		if onSuccess != nil {
			c.queue.Task(func() { onSuccess(id) })
		}
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.send(wire.Frame{Type: wire.FrameResolve, Name: name}, &request{kind: wire.FrameResolve, name: name, onType: onSuccess, onError: onError})
}

func (c *Client) AddEntity(pose models.Pose, onSuccess func(models.Entity), onError func(error)) {
	c.send(wire.Frame{Type: wire.FrameAddEntity, Pose: &pose}, &request{kind: wire.FrameAddEntity, onEntity: onSuccess, onError: onError})
}

func (c *Client) DeleteEntity(id models.EntityID, onComplete func(error)) {
	c.mu.Lock()
	var err error
	if st, ok := c.entities[id]; !ok {
		err = session.ErrEntityNotFound
	} else if st.Entity.Owner != c.self.ID {
		err = session.ErrNotOwner
	}
	if err != nil {
		c.completeLocked(onComplete, err)
	}
	c.mu.Unlock()
	if err != nil {
		return
	}
	c.send(wire.Frame{Type: wire.FrameDeleteEntity, EntityID: id}, &request{kind: wire.FrameDeleteEntity, onComplete: onComplete})
}

func (c *Client) completeLocked(cb func(error), err error) {
	if cb != nil {
		c.queue.Task(func() { cb(err) })
	}
}

func (c *Client) Entity(id models.EntityID) (models.Entity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.entities[id]
	if !ok {
		return models.Entity{}, false
	}
	return st.Entity, true
}

func (c *Client) EntityPose(id models.EntityID) (models.Pose, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.entities[id]
	if !ok {
		return models.Pose{}, false
	}
	return st.Pose, true
}

// SetEntityPose updates the mirror and forwards the pose to the room.
func (c *Client) SetEntityPose(id models.EntityID, pose models.Pose) {
	c.mu.Lock()
	st, ok := c.entities[id]
	if ok {
		st.Pose = pose
	}
	closed := c.closed
	c.mu.Unlock()
	if !ok || closed {
		return
	}
	if err := c.conn.WriteFrame(wire.Frame{Type: wire.FrameSetPose, EntityID: id, Pose: &pose}); err != nil {
		c.logger.Debug("pose update not sent", log.Uint32("entity", uint32(id)), log.Error(err))
	}
}

func (c *Client) Participants() []models.Participant {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.participants)
}

func (c *Client) AddComponent(typeID models.ComponentTypeID, entityID models.EntityID, data []byte, onComplete func(error)) {
	c.write(wire.FrameAddComponent, typeID, entityID, data, onComplete)
}

func (c *Client) UpdateComponent(typeID models.ComponentTypeID, entityID models.EntityID, data []byte, onComplete func(error)) {
	c.write(wire.FrameUpdateComponent, typeID, entityID, data, onComplete)
}

func (c *Client) DeleteComponent(typeID models.ComponentTypeID, entityID models.EntityID, onComplete func(error)) {
	c.write(wire.FrameDeleteComponent, typeID, entityID, nil, onComplete)
}

// write validates against the mirror, applies the write to it and sends it.
// Listeners are notified when the relay echoes the change back.
func (c *Client) write(kind wire.FrameType, typeID models.ComponentTypeID, entityID models.EntityID, data []byte, onComplete func(error)) {
	c.mu.Lock()
	key := componentKey{typeID: typeID, entityID: entityID}
	prev, exists := c.components[key]
	var err error
	switch {
	case c.closed:
		err = session.ErrClosed
	case c.typeNames[typeID] == "":
		err = session.ErrUnknownType
	case c.entities[entityID] == nil:
		err = session.ErrEntityNotFound
	case kind == wire.FrameAddComponent && exists:
		err = session.ErrComponentExists
	case kind != wire.FrameAddComponent && !exists:
		err = session.ErrComponentNotFound
	}
	if err != nil {
		c.completeLocked(onComplete, err)
		c.mu.Unlock()
		return
	}

	applied := slices.Clone(data)
	if kind == wire.FrameDeleteComponent {
		delete(c.components, key)
	} else {
		c.components[key] = applied
	}
	c.mu.Unlock()

	rollback := func() {
		cur, ok := c.components[key]
		switch {
		case kind == wire.FrameDeleteComponent:
			if !ok {
				c.components[key] = prev
			}
		case ok && bytes.Equal(cur, applied):
			if exists {
				c.components[key] = prev
			} else {
				delete(c.components, key)
			}
		}
	}
	c.send(
		wire.Frame{Type: kind, Component: &models.Component{TypeID: typeID, EntityID: entityID, Data: applied}},
		&request{kind: kind, onComplete: onComplete, rollback: rollback},
	)
}

func (c *Client) Component(typeID models.ComponentTypeID, entityID models.EntityID) (models.Component, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.components[componentKey{typeID: typeID, entityID: entityID}]
	if !ok {
		return models.Component{}, false
	}
	return models.Component{TypeID: typeID, EntityID: entityID, Data: slices.Clone(data)}, true
}

// Components asks the relay for every component of typeID.
func (c *Client) Components(typeID models.ComponentTypeID, onResult func([]models.Component, error)) {
	if onResult == nil {
		return
	}
	c.send(wire.Frame{Type: wire.FrameComponents, TypeID: typeID}, &request{kind: wire.FrameComponents, onComponents: onResult})
}

func (c *Client) OnEntityAction(handler session.ActionHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = handler
}

func (c *Client) RequestAction(entityID models.EntityID, name string, data []byte, onReply func(models.EntityAction), onError func(error)) {
	c.mu.Lock()
	_, ok := c.entities[entityID]
	if !ok && onError != nil {
		c.queue.Task(func() { onError(session.ErrEntityNotFound) })
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	action := models.EntityAction{EntityID: entityID, Name: name, Data: slices.Clone(data), Requester: c.self.ID}
	c.send(wire.Frame{Type: wire.FrameAction, Action: &action}, &request{kind: wire.FrameAction, onReply: onReply, onError: onError})
}

// Pending reports how many frames are waiting to be applied.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inbox) + c.queue.Len()
}

// Pump applies buffered frames to the mirror, then delivers the resulting
// notifications and callbacks in arrival order.
func (c *Client) Pump() int {
	c.mu.Lock()
	inbox := c.inbox
	c.inbox = nil
	for _, f := range inbox {
		c.applyLocked(f)
	}
	items := c.queue.Take()
	listeners := slices.Clone(c.listeners)
	c.mu.Unlock()

	session.Deliver(listeners, items)
	return len(items)
}
