package bus

import "errors"

var (
	ErrNilHandler     = errors.New("nil event handler")
	ErrUnexpectedData = errors.New("unexpected event data type")
)

// On subscribes fn to eventType, unwrapping Event.Data into T.
// Events whose payload is not a T are reported as ErrUnexpectedData.
func On[T any](b EventBus, eventType string, fn func(T)) (Subscription, error) {
	if fn == nil {
		return nil, ErrNilHandler
	}
	return b.Subscribe(eventType, func(e Event) error {
		data, ok := e.Data().(T)
		if !ok {
			return ErrUnexpectedData
		}
		fn(data)
		return nil
	})
}

// Emit publishes data under eventType with the given source.
func Emit[T any](b EventBus, eventType, source string, data T) error {
	return b.Publish(NewEvent(eventType, source, data))
}
