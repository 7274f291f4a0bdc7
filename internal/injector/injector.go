//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package injector

import (
	"github.com/google/wire"

	"github.com/zeusync/arsync/internal/relay"
)

func InitializeRelay(path ConfigPath) (*relay.Server, error) {
	wire.Build(RelaySet)
	return nil, nil
}

func InitializeEnv(path ConfigPath) (*Env, error) {
	wire.Build(EnvSet)
	return nil, nil
}
