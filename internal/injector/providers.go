package injector

import (
	"github.com/google/wire"

	"github.com/zeusync/arsync/internal/config"
	"github.com/zeusync/arsync/internal/core/observability/log"
	"github.com/zeusync/arsync/internal/relay"
)

// ConfigPath is the config file handed to the injectors. Empty means defaults.
type ConfigPath string

// Env is what a headless peer needs before it connects.
type Env struct {
	Config *config.Config
	Logger *log.Logger
}

var (
	ConfigSet = wire.NewSet(ProvideConfig, ProvideLogger)
	RelaySet  = wire.NewSet(ConfigSet, ProvideRelayConfig, wire.Bind(new(log.Log), new(*log.Logger)), relay.NewServer)
	EnvSet    = wire.NewSet(ConfigSet, wire.Struct(new(Env), "*"))
)

func ProvideConfig(path ConfigPath) (*config.Config, error) {
	if path == "" {
		cfg := config.Default()
		return cfg, cfg.Validate()
	}
	return config.Load(string(path))
}

func ProvideLogger(cfg *config.Config) *log.Logger {
	return log.NewWithConfig(log.Config{
		Level:    log.ParseLevel(cfg.Log.Level),
		Encoding: cfg.Log.Encoding,
	})
}

func ProvideRelayConfig(cfg *config.Config) config.RelayConfig {
	return cfg.Relay
}
