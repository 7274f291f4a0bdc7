// Package wire defines the frames exchanged between a relay and its
// clients, and the connection abstraction both transports implement.
package wire

import (
	"fmt"
	"net"

	"github.com/zeusync/arsync/internal/core/models"
	"github.com/zeusync/arsync/pkg/encoding"
)

type FrameType string

// Client to relay.
const (
	FrameHello           FrameType = "hello"
	FrameResolve         FrameType = "resolve"
	FrameAddEntity       FrameType = "add_entity"
	FrameDeleteEntity    FrameType = "delete_entity"
	FrameSetPose         FrameType = "set_pose"
	FrameAddComponent    FrameType = "add_component"
	FrameUpdateComponent FrameType = "update_component"
	FrameDeleteComponent FrameType = "delete_component"
	FrameComponents      FrameType = "components"
	FrameActionReply     FrameType = "action_reply"
)

// Relay to client.
const (
	FrameWelcome          FrameType = "welcome"
	FrameResult           FrameType = "result"
	FrameJoined           FrameType = "joined"
	FrameLeft             FrameType = "left"
	FrameEntityAdded      FrameType = "entity_added"
	FrameEntityRemoved    FrameType = "entity_removed"
	FramePose             FrameType = "pose"
	FrameComponentUpdated FrameType = "component_updated"
	FrameComponentDeleted FrameType = "component_deleted"
	FrameAck              FrameType = "ack"
)

// FrameAction travels both ways: a request from the sender, then one
// delivery per other member. Reply is set on the delivery to the owner of
// the addressed entity.
const FrameAction FrameType = "action"

// Frame is the single envelope of the relay protocol. Which fields are set
// depends on Type. Request correlates a request with its Result or Ack.
type Frame struct {
	Type    FrameType `json:"type"`
	Request string    `json:"request,omitempty"`

	Room string `json:"room,omitempty"`
	Name string `json:"name,omitempty"`

	TypeID      models.ComponentTypeID `json:"type_id,omitempty"`
	EntityID    models.EntityID        `json:"entity_id,omitempty"`
	Entity      *EntityState           `json:"entity,omitempty"`
	Pose        *models.Pose           `json:"pose,omitempty"`
	Component   *models.Component      `json:"component,omitempty"`
	Components  []models.Component     `json:"components,omitempty"`
	Writer      models.ParticipantID   `json:"writer,omitempty"`
	Action      *models.EntityAction   `json:"action,omitempty"`
	Reply       bool                   `json:"reply,omitempty"`
	Participant *models.Participant    `json:"participant,omitempty"`
	Snapshot    *Snapshot              `json:"snapshot,omitempty"`
	Error       *Error                 `json:"error,omitempty"`
}

// Err returns the request error carried by a Result frame.
func (f Frame) Err() error {
	if f.Error == nil {
		return nil
	}
	return f.Error
}

type EntityState struct {
	Entity models.Entity `json:"entity"`
	Pose   models.Pose   `json:"pose"`
}

// Snapshot is the room state handed to a participant on join.
type Snapshot struct {
	Participant  models.Participant                `json:"participant"`
	Types        map[string]models.ComponentTypeID `json:"types"`
	Participants []models.Participant              `json:"participants"`
	Entities     []EntityState                     `json:"entities"`
	Components   []models.Component                `json:"components"`
}

// Conn is one framed, bidirectional relay connection. ReadFrame must not be
// called concurrently; WriteFrame is safe for concurrent use.
type Conn interface {
	ReadFrame() (Frame, error)
	WriteFrame(f Frame) error
	RemoteAddr() net.Addr
	Close() error
}

var codec encoding.JSON[Frame]

// Marshal encodes f, refusing frames larger than maxSize when maxSize > 0.
func Marshal(f Frame, maxSize int) ([]byte, error) {
	data, err := codec.Encode(f)
	if err != nil {
		return nil, err
	}
	if maxSize > 0 && len(data) > maxSize {
		return nil, ErrFrameTooLarge
	}
	return data, nil
}

// Unmarshal decodes one frame. Frames without a type are invalid.
func Unmarshal(data []byte) (Frame, error) {
	f, err := codec.Decode(data)
	if err != nil {
		return Frame{}, fmt.Errorf("%w: %w", ErrInvalidFrame, err)
	}
	if f.Type == "" {
		return Frame{}, ErrInvalidFrame
	}
	return f, nil
}
