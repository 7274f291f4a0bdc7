package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/zeusync/arsync/internal/core/models"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported config format")
	ErrInvalid           = errors.New("invalid config")
)

type Config struct {
	Log    LogConfig    `yaml:"log" toml:"log"`
	Game   GameConfig   `yaml:"game" toml:"game"`
	Relay  RelayConfig  `yaml:"relay" toml:"relay"`
	Client ClientConfig `yaml:"client" toml:"client"`
}

type LogConfig struct {
	Level    string `yaml:"level" toml:"level"`
	Encoding string `yaml:"encoding" toml:"encoding"` // "json" or "console"
}

// DifficultySetting bounds the spawn interval and hostile speed.
type DifficultySetting struct {
	MinInterval  time.Duration `yaml:"min_interval" toml:"min_interval"`
	MaxInterval  time.Duration `yaml:"max_interval" toml:"max_interval"`
	HostileSpeed float32       `yaml:"hostile_speed" toml:"hostile_speed"`
}

type GameConfig struct {
	MaxHealth          int            `yaml:"max_health" toml:"max_health"`
	ScorePerKill       int            `yaml:"score_per_kill" toml:"score_per_kill"`
	TickRate           time.Duration  `yaml:"tick_rate" toml:"tick_rate"`
	SpawnRadius        float32        `yaml:"spawn_radius" toml:"spawn_radius"`
	SpawnOffset        models.Vector3 `yaml:"spawn_offset" toml:"spawn_offset"`
	NearPlayerDistance float32        `yaml:"near_player_distance" toml:"near_player_distance"`

	SpawnsPerRamp     int               `yaml:"spawns_per_ramp" toml:"spawns_per_ramp"`
	MinDecreaseRate   time.Duration     `yaml:"min_decrease_rate" toml:"min_decrease_rate"`
	MaxDecreaseRate   time.Duration     `yaml:"max_decrease_rate" toml:"max_decrease_rate"`
	SpeedIncreaseRate float32           `yaml:"speed_increase_rate" toml:"speed_increase_rate"`
	Easy              DifficultySetting `yaml:"easy" toml:"easy"`
	Hard              DifficultySetting `yaml:"hard" toml:"hard"`
}

type RelayConfig struct {
	WebSocketAddr string        `yaml:"websocket_addr" toml:"websocket_addr"`
	QUICAddr      string        `yaml:"quic_addr" toml:"quic_addr"` // empty disables QUIC
	Shards        int           `yaml:"shards" toml:"shards"`
	MaxFrameSize  int           `yaml:"max_frame_size" toml:"max_frame_size"`
	WriteTimeout  time.Duration `yaml:"write_timeout" toml:"write_timeout"`
	SendQueue     int           `yaml:"send_queue" toml:"send_queue"`
}

type ClientConfig struct {
	URL       string        `yaml:"url" toml:"url"`
	Transport string        `yaml:"transport" toml:"transport"` // "websocket" or "quic"
	Room      string        `yaml:"room" toml:"room"`
	Name      string        `yaml:"name" toml:"name"`
	StartGame bool          `yaml:"start_game" toml:"start_game"`
	Duration  time.Duration `yaml:"duration" toml:"duration"` // zero runs until interrupted
}

// Load reads path on top of Default. The format follows the extension:
// .yaml/.yml or .toml.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := Default()
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	case ".toml":
		err = toml.Unmarshal(data, cfg)
	default:
		return nil, fmt.Errorf("%s: %w %q", path, ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:    "info",
			Encoding: "console",
		},
		Game: GameConfig{
			MaxHealth:          5,
			ScorePerKill:       10,
			TickRate:           20 * time.Millisecond,
			SpawnRadius:        2,
			SpawnOffset:        models.Vec3(0, 1, 0),
			NearPlayerDistance: 0.75,
			SpawnsPerRamp:      5,
			MinDecreaseRate:    100 * time.Millisecond,
			MaxDecreaseRate:    200 * time.Millisecond,
			SpeedIncreaseRate:  0.05,
			Easy: DifficultySetting{
				MinInterval:  2 * time.Second,
				MaxInterval:  4 * time.Second,
				HostileSpeed: 0.3,
			},
			Hard: DifficultySetting{
				MinInterval:  500 * time.Millisecond,
				MaxInterval:  1 * time.Second,
				HostileSpeed: 1,
			},
		},
		Relay: RelayConfig{
			WebSocketAddr: ":8080",
			Shards:        16,
			MaxFrameSize:  1 << 20,
			WriteTimeout:  5 * time.Second,
			SendQueue:     256,
		},
		Client: ClientConfig{
			URL:       "ws://localhost:8080/session",
			Transport: "websocket",
			Room:      "lobby",
			Name:      "bot",
		},
	}
}

// Validate reports every inconsistent setting at once.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
		}
	}

	check(c.Log.Encoding == "json" || c.Log.Encoding == "console", "log.encoding %q", c.Log.Encoding)

	g := c.Game
	check(g.MaxHealth > 0, "game.max_health must be positive")
	check(g.ScorePerKill >= 0, "game.score_per_kill must not be negative")
	check(g.TickRate > 0, "game.tick_rate must be positive")
	check(g.SpawnsPerRamp > 0, "game.spawns_per_ramp must be positive")
	check(g.NearPlayerDistance > 0, "game.near_player_distance must be positive")
	check(g.Easy.MinInterval > 0 && g.Easy.MinInterval <= g.Easy.MaxInterval, "game.easy interval range")
	check(g.Hard.MinInterval > 0 && g.Hard.MinInterval <= g.Hard.MaxInterval, "game.hard interval range")
	check(g.Hard.MinInterval <= g.Easy.MinInterval, "game.hard.min_interval above easy")
	check(g.Hard.HostileSpeed >= g.Easy.HostileSpeed, "game.hard.hostile_speed below easy")

	r := c.Relay
	check(r.WebSocketAddr != "" || r.QUICAddr != "", "relay needs websocket_addr or quic_addr")
	check(r.Shards > 0, "relay.shards must be positive")
	check(r.MaxFrameSize > 0, "relay.max_frame_size must be positive")
	check(r.SendQueue > 0, "relay.send_queue must be positive")

	check(c.Client.Transport == "websocket" || c.Client.Transport == "quic", "client.transport %q", c.Client.Transport)

	return errors.Join(errs...)
}
