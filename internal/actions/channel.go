// Package actions carries session-wide signals that are not entity state:
// game start and stop, and spawner placement. Signals are entity actions
// addressed to the local participant's entity; every other peer handles them
// on arrival and the sender handles the acknowledged copy.
package actions

import (
	"errors"

	"github.com/zeusync/arsync/internal/core/events"
	"github.com/zeusync/arsync/internal/core/events/bus"
	"github.com/zeusync/arsync/internal/core/models"
	"github.com/zeusync/arsync/internal/core/observability/log"
	"github.com/zeusync/arsync/internal/core/session"
	"github.com/zeusync/arsync/pkg/encoding"
)

const Name = "actions"

var ErrNoLocalEntity = errors.New("local participant entity not set")

type Channel struct {
	session session.Session
	bus     bus.EventBus
	logger  log.Log

	local models.EntityID

	stateCodec encoding.JSON[bool]
	poseCodec  encoding.JSON[models.Pose]
}

// New creates a channel and installs it as s's inbound action handler.
func New(s session.Session, b bus.EventBus, logger log.Log) *Channel {
	if logger == nil {
		logger = log.Provide()
	}
	c := &Channel{
		session: s,
		bus:     b,
		logger:  logger.With(log.String("system", Name)),
	}
	s.OnEntityAction(c.HandleAction)
	return c
}

// SetLocalEntity names the entity representing the local participant.
func (c *Channel) SetLocalEntity(id models.EntityID) { c.local = id }

func (c *Channel) LocalEntity() models.EntityID { return c.local }

// BroadcastGameState tells every peer, the sender included, that the game
// started or ended.
func (c *Channel) BroadcastGameState(started bool) error {
	data, err := c.stateCodec.Encode(started)
	if err != nil {
		return err
	}
	return c.request(models.NotifyGameState, data)
}

// RequestSpawnerMove asks peers to move the spawner to pose. The sender moves
// its own spawner only when the acknowledged pose comes back.
func (c *Channel) RequestSpawnerMove(pose models.Pose) error {
	data, err := c.poseCodec.Encode(pose)
	if err != nil {
		return err
	}
	return c.request(models.NotifySpawnerPose, data)
}

func (c *Channel) request(name string, data []byte) error {
	if c.local == 0 {
		return ErrNoLocalEntity
	}
	c.session.RequestAction(c.local, name, data,
		func(ack models.EntityAction) { c.HandleAction(ack) },
		func(err error) {
			c.logger.Warn("action request failed", log.String("action", name), log.Error(err))
		})
	return nil
}

// HandleAction dispatches an action by name and returns the payload to
// acknowledge it with. Unknown names and undecodable payloads yield nil.
func (c *Channel) HandleAction(action models.EntityAction) []byte {
	switch action.Name {
	case models.NotifyGameState:
		started, err := c.stateCodec.Decode(action.Data)
		if err != nil {
			c.logger.Warn("bad game state payload", log.Uint32("requester", uint32(action.Requester)), log.Error(err))
			return nil
		}
		if started {
			c.publish(events.GameStartedType, events.GameStarted{Requester: action.Requester})
		} else {
			c.publish(events.GameOverType, events.GameOver{Requester: action.Requester})
		}
		return action.Data

	case models.NotifySpawnerPose:
		pose, err := c.poseCodec.Decode(action.Data)
		if err != nil {
			c.logger.Warn("bad spawner pose payload", log.Uint32("requester", uint32(action.Requester)), log.Error(err))
			return nil
		}
		c.publish(events.SpawnerMovedType, events.SpawnerMoved{Pose: pose})
		ack, err := c.poseCodec.Encode(pose)
		if err != nil {
			return nil
		}
		return ack

	default:
		c.logger.Debug("unknown action ignored", log.String("action", action.Name))
		return nil
	}
}

func (c *Channel) publish(eventType string, data any) {
	if c.bus == nil {
		return
	}
	if err := c.bus.Publish(bus.NewEvent(eventType, Name, data)); err != nil {
		c.logger.Warn("event handler failed", log.String("event", eventType), log.Error(err))
	}
}
