package encoding

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrEmptyPayload is returned when decoding a zero-length payload.
var ErrEmptyPayload = errors.New("empty payload")

// Codec turns values of one payload type into wire bytes and back.
type Codec[T any] interface {
	Encode(T) ([]byte, error)
	Decode([]byte) (T, error)
}

// JSON is a Codec using encoding/json. Field order follows the struct
// declaration, so output is deterministic for a given schema.
type JSON[T any] struct{}

func (JSON[T]) Encode(v T) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return data, nil
}

func (JSON[T]) Decode(data []byte) (T, error) {
	var v T
	if len(data) == 0 {
		return v, ErrEmptyPayload
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("decode %T: %w", v, err)
	}
	return v, nil
}
