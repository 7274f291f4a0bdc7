package replication

import "errors"

var (
	ErrNotResolved   = errors.New("component type not resolved")
	ErrUnknownRoute  = errors.New("component type not declared by system")
	ErrDuplicateName = errors.New("component type declared twice")
)
