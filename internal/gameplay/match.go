package gameplay

import (
	"github.com/zeusync/arsync/internal/actions"
	"github.com/zeusync/arsync/internal/config"
	"github.com/zeusync/arsync/internal/core/events"
	"github.com/zeusync/arsync/internal/core/events/bus"
	"github.com/zeusync/arsync/internal/core/models"
	"github.com/zeusync/arsync/internal/core/observability/log"
	"github.com/zeusync/arsync/internal/replication/participants"
)

// Match tracks the local player's health and score for one round.
type Match struct {
	cfg          config.GameConfig
	participants *participants.System
	channel      *actions.Channel
	logger       log.Log
	subs         []bus.Subscription

	local   models.EntityID
	running bool
	health  int
	score   int
}

func NewMatch(cfg config.GameConfig, p *participants.System, ch *actions.Channel, b bus.EventBus, logger log.Log) (*Match, error) {
	if logger == nil {
		logger = log.Provide()
	}
	m := &Match{
		cfg:          cfg,
		participants: p,
		channel:      ch,
		logger:       logger.With(log.String("controller", "match")),
		health:       cfg.MaxHealth,
	}
	if b == nil {
		return m, nil
	}
	started, err := bus.On(b, events.GameStartedType, func(events.GameStarted) { m.begin() })
	if err != nil {
		return nil, err
	}
	over, err := bus.On(b, events.GameOverType, func(events.GameOver) { m.running = false })
	if err != nil {
		_ = started.Cancel()
		return nil, err
	}
	m.subs = []bus.Subscription{started, over}
	return m, nil
}

func (m *Match) SetLocalEntity(id models.EntityID) { m.local = id }

func (m *Match) Running() bool { return m.running }
func (m *Match) Health() int   { return m.health }
func (m *Match) Score() int    { return m.score }

func (m *Match) begin() {
	m.running = true
	m.health = m.cfg.MaxHealth
	m.score = 0
	if m.local != 0 {
		if err := m.participants.UpdateScore(m.local, 0); err != nil {
			m.logger.Warn("score reset failed", log.Error(err))
		}
	}
}

// Kill credits the local player with one kill.
func (m *Match) Kill() {
	if !m.running {
		return
	}
	m.score += m.cfg.ScorePerKill
	if err := m.participants.UpdateScore(m.local, m.score); err != nil {
		m.logger.Warn("score update failed", log.Int("score", m.score), log.Error(err))
	}
}

// Hit costs the local player one health point. Reaching zero ends the game
// for every peer.
func (m *Match) Hit() {
	if !m.running || m.health <= 0 {
		return
	}
	m.health--
	m.logger.Debug("player hit", log.Int("health", m.health))
	if m.health > 0 {
		return
	}
	if err := m.channel.BroadcastGameState(false); err != nil {
		m.logger.Warn("game over broadcast failed", log.Error(err))
	}
}

func (m *Match) Close() {
	for _, sub := range m.subs {
		_ = sub.Cancel()
	}
	m.subs = nil
}
