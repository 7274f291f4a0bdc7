// Package replication binds concerns of the game to component types of a
// shared session. A concrete system declares Routes, one per component type
// name; Base resolves their ids, decodes every incoming change into a Record
// and hands it to the route's handler.
package replication

import (
	"github.com/zeusync/arsync/internal/core/models"
	"github.com/zeusync/arsync/internal/core/session"
	"github.com/zeusync/arsync/pkg/encoding"
)

// System is what a session notifies about component changes.
type System interface {
	session.Listener
}

// Record is a decoded component payload. Each payload type reports the
// component name it is stored under, so a Record can be matched with a type
// switch instead of comparing type ids.
type Record interface {
	ComponentName() string
}

// Decoder turns a change into its Record. It may return a usable default
// record together with an error; a nil record means the change is skipped.
type Decoder func(change models.Change) (Record, error)

type (
	UpdateHandler func(change models.Change, rec Record)
	DeleteHandler func(change models.Change)
)

// Route declares one component type a system owns.
type Route struct {
	Name      string
	Decode    Decoder
	OnUpdated UpdateHandler
	OnDeleted DeleteHandler
}

// Decode is the Decoder for JSON-encoded payloads of type T.
func Decode[T Record](change models.Change) (Record, error) {
	v, err := encoding.JSON[T]{}.Decode(change.Component.Data)
	if err != nil {
		return nil, err
	}
	return v, nil
}

// Encode serializes rec with the wire codec shared by all peers.
func Encode[T Record](rec T) ([]byte, error) {
	return encoding.JSON[T]{}.Encode(rec)
}
