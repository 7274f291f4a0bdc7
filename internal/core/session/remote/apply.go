package remote

import (
	"slices"

	"github.com/zeusync/arsync/internal/core/models"
	"github.com/zeusync/arsync/internal/core/observability/log"
	"github.com/zeusync/arsync/internal/core/session"
	"github.com/zeusync/arsync/internal/relay/wire"
)

// applyLocked folds one relay frame into the mirror and queues what it
// produces for delivery. Caller holds mu.
func (c *Client) applyLocked(f wire.Frame) {
	switch f.Type {
	case wire.FrameResult:
		req, ok := c.takeLocked(f.Request)
		if ok {
			c.resultLocked(req, f)
		}
	case wire.FrameAck:
		req, ok := c.takeLocked(f.Request)
		if ok && req.onReply != nil && f.Action != nil {
			action := *f.Action
			c.queue.Task(func() { req.onReply(action) })
		}
	case wire.FrameJoined:
		if f.Participant != nil && !slices.ContainsFunc(c.participants, func(p models.Participant) bool { return p.ID == f.Participant.ID }) {
			c.participants = append(c.participants, *f.Participant)
		}
		c.addEntityLocked(f.Entity)
	case wire.FrameLeft:
		if f.Participant != nil {
			c.participants = slices.DeleteFunc(c.participants, func(p models.Participant) bool { return p.ID == f.Participant.ID })
		}
	case wire.FrameEntityAdded:
		c.addEntityLocked(f.Entity)
	case wire.FrameEntityRemoved:
		delete(c.entities, f.EntityID)
		for k := range c.components {
			if k.entityID == f.EntityID {
				delete(c.components, k)
			}
		}
	case wire.FramePose:
		if st, ok := c.entities[f.EntityID]; ok && f.Pose != nil {
			st.Pose = *f.Pose
		}
	case wire.FrameComponentUpdated, wire.FrameComponentDeleted:
		c.changeLocked(f)
	case wire.FrameAction:
		if f.Action != nil {
			c.actionLocked(f.Request, *f.Action, f.Reply)
		}
	default:
		c.logger.Debug("unexpected frame", log.String("type", string(f.Type)))
	}
}

func (c *Client) takeLocked(id string) (*request, bool) {
	req, ok := c.pending[id]
	if !ok {
		c.logger.Debug("response to unknown request", log.String("request", id))
		return nil, false
	}
	delete(c.pending, id)
	return req, true
}

func (c *Client) addEntityLocked(st *wire.EntityState) {
	if st == nil {
		return
	}
	cp := *st
	c.entities[cp.Entity.ID] = &cp
}

func (c *Client) resultLocked(req *request, f wire.Frame) {
	err := f.Err()
	if err != nil {
		c.rejectLocked(req, err)
		return
	}
	switch req.kind {
	case wire.FrameResolve:
		c.learnTypeLocked(req.name, f.TypeID)
		if req.onType != nil {
			id := f.TypeID
			c.queue.Task(func() { req.onType(id) })
		}
	case wire.FrameAddEntity:
		if f.Entity == nil {
			c.rejectLocked(req, wire.ErrInvalidFrame)
			return
		}
		c.addEntityLocked(f.Entity)
		if req.onEntity != nil {
			e := f.Entity.Entity
			c.queue.Task(func() { req.onEntity(e) })
		}
	case wire.FrameComponents:
		out := f.Components
		if out == nil {
			out = make([]models.Component, 0)
		}
		c.queue.Task(func() { req.onComponents(out, nil) })
	default:
		c.completeLocked(req.onComplete, nil)
	}
}

// changeLocked applies a component change echoed by the relay. The mirror
// already holds this client's own writes; applying them again is harmless.
func (c *Client) changeLocked(f wire.Frame) {
	if f.Component == nil {
		return
	}
	comp := *f.Component
	c.learnTypeLocked(f.Name, comp.TypeID)
	key := componentKey{typeID: comp.TypeID, entityID: comp.EntityID}

	kind := session.NotifyUpdate
	if f.Type == wire.FrameComponentDeleted {
		kind = session.NotifyDelete
		delete(c.components, key)
	} else {
		c.components[key] = comp.Data
	}
	c.queue.Change(kind, c.typeNames[comp.TypeID], models.Change{
		Component:   comp,
		LocalChange: f.Writer == c.self.ID,
		Writer:      f.Writer,
	})
}

// actionLocked schedules the installed handler for an action from another
// participant. When this client owns the addressed entity its reply is sent
// back as the acknowledgement payload.
func (c *Client) actionLocked(deliveryID string, action models.EntityAction, reply bool) {
	c.queue.Task(func() {
		c.mu.Lock()
		handler := c.handler
		c.mu.Unlock()

		var data []byte
		if handler != nil {
			data = handler(action)
		}
		if !reply {
			return
		}
		ack := models.EntityAction{EntityID: action.EntityID, Name: action.Name, Data: data, Requester: action.Requester}
		if err := c.conn.WriteFrame(wire.Frame{Type: wire.FrameActionReply, Request: deliveryID, Action: &ack}); err != nil {
			c.logger.Warn("action reply not sent", log.String("action", action.Name), log.Error(err))
		}
	})
}
