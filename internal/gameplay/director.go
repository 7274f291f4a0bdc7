// Package gameplay holds the controllers that consume replication events:
// the hostile director, the match state of the local player and the
// scoreboard.
package gameplay

import (
	"errors"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/zeusync/arsync/internal/config"
	"github.com/zeusync/arsync/internal/core/events"
	"github.com/zeusync/arsync/internal/core/events/bus"
	"github.com/zeusync/arsync/internal/core/models"
	"github.com/zeusync/arsync/internal/core/observability/log"
	"github.com/zeusync/arsync/internal/core/session"
	"github.com/zeusync/arsync/internal/replication/hostiles"
)

// Actor is the local simulation of one replicated hostile.
type Actor struct {
	ID     models.EntityID
	Type   models.HostileType
	Pos    models.Vector3
	Target models.Vector3
	Speed  float32
	Health int
}

// Difficulty is the current spawn pacing.
type Difficulty struct {
	MinInterval time.Duration
	MaxInterval time.Duration
	Speed       float32
}

type DirectorOption func(*Director)

// WithRand replaces the director's random source.
func WithRand(r *rand.Rand) DirectorOption {
	return func(d *Director) { d.rng = r }
}

// Director spawns hostiles while a game is running and moves every known
// hostile toward its target. It must be driven from the session's timeline.
type Director struct {
	cfg      config.GameConfig
	session  session.Session
	hostiles *hostiles.System
	logger   log.Log
	rng      *rand.Rand
	subs     []bus.Subscription

	local       models.EntityID
	onPlayerHit func()

	spawner    models.Pose
	spawning   bool
	untilSpawn time.Duration
	spawnCount int
	difficulty Difficulty

	actors map[models.EntityID]*Actor
}

func NewDirector(cfg config.GameConfig, s session.Session, h *hostiles.System, b bus.EventBus, logger log.Log, opts ...DirectorOption) (*Director, error) {
	if logger == nil {
		logger = log.Provide()
	}
	d := &Director{
		cfg:      cfg,
		session:  s,
		hostiles: h,
		logger:   logger.With(log.String("controller", "director")),
		rng:      rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		spawner:  models.PoseAt(models.Vector3{}),
		actors:   make(map[models.EntityID]*Actor),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.resetDifficulty()

	err := d.subscribe(b,
		on(b, events.SpawnIntentType, d.onSpawnIntent),
		on(b, events.DestroyIntentType, d.onDestroyIntent),
		on(b, events.GameStartedType, func(events.GameStarted) { d.Start() }),
		on(b, events.GameOverType, func(events.GameOver) { d.Stop() }),
		on(b, events.SpawnerMovedType, func(e events.SpawnerMoved) { d.spawner = e.Pose }),
	)
	if err != nil {
		return nil, err
	}
	return d, nil
}

type subscribeFunc func() (bus.Subscription, error)

func on[T any](b bus.EventBus, eventType string, fn func(T)) subscribeFunc {
	return func() (bus.Subscription, error) { return bus.On(b, eventType, fn) }
}

func (d *Director) subscribe(b bus.EventBus, fns ...subscribeFunc) error {
	if b == nil {
		return nil
	}
	for _, fn := range fns {
		sub, err := fn()
		if err != nil {
			d.Close()
			return err
		}
		d.subs = append(d.subs, sub)
	}
	return nil
}

// Close cancels the director's event subscriptions.
func (d *Director) Close() error {
	var errs []error
	for _, sub := range d.subs {
		errs = append(errs, sub.Cancel())
	}
	d.subs = nil
	return errors.Join(errs...)
}

// SetLocalEntity names the local participant's entity; hostiles reaching it
// count as player hits.
func (d *Director) SetLocalEntity(id models.EntityID) { d.local = id }

func (d *Director) OnPlayerHit(fn func()) { d.onPlayerHit = fn }

func (d *Director) Spawning() bool         { return d.spawning }
func (d *Director) Difficulty() Difficulty { return d.difficulty }
func (d *Director) Spawner() models.Pose   { return d.spawner }

// Start begins a round at the easy setting.
func (d *Director) Start() {
	d.resetDifficulty()
	d.spawnCount = 0
	d.untilSpawn = d.nextInterval()
	d.spawning = true
	d.logger.Info("spawning started")
}

// Stop ends spawning and drops every local actor.
func (d *Director) Stop() {
	if !d.spawning {
		return
	}
	d.spawning = false
	clear(d.actors)
	d.logger.Info("spawning stopped")
}

// Tick advances the spawn timer and every actor by dt.
func (d *Director) Tick(dt time.Duration) {
	if d.spawning {
		d.untilSpawn -= dt
		if d.untilSpawn <= 0 {
			d.spawn()
			d.untilSpawn = d.nextInterval()
		}
	}
	step := float32(dt.Seconds())
	for _, id := range d.actorIDs() {
		a, ok := d.actors[id]
		if !ok {
			continue
		}
		a.Pos = a.Pos.MoveTowards(a.Target, a.Speed*step)
		if a.Pos.Distance(a.Target) < d.cfg.NearPlayerDistance {
			d.arrive(a)
		}
	}
}

// Shoot applies a hit at hitPos to hostile id. It reports whether the hit
// killed it.
func (d *Director) Shoot(id models.EntityID, hitPos models.Vector3) bool {
	a, ok := d.actors[id]
	if !ok {
		return false
	}
	if err := d.hostiles.SyncHitFx(id, hitPos); err != nil {
		d.logger.Warn("hit fx sync failed", log.Uint32("entity", uint32(id)), log.Error(err))
	}
	a.Health--
	if a.Health > 0 {
		return false
	}
	d.destroy(id)
	return true
}

// Actors returns a snapshot of the simulated hostiles in id order.
func (d *Director) Actors() []Actor {
	out := make([]Actor, 0, len(d.actors))
	for _, id := range d.actorIDs() {
		out = append(out, *d.actors[id])
	}
	return out
}

func (d *Director) Actor(id models.EntityID) (Actor, bool) {
	a, ok := d.actors[id]
	if !ok {
		return Actor{}, false
	}
	return *a, true
}

func (d *Director) actorIDs() []models.EntityID {
	ids := make([]models.EntityID, 0, len(d.actors))
	for id := range d.actors {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (d *Director) arrive(a *Actor) {
	d.destroy(a.ID)
	if d.local == 0 || d.onPlayerHit == nil {
		return
	}
	if pose, ok := d.session.EntityPose(d.local); ok && pose.Position.Distance(a.Target) < d.cfg.NearPlayerDistance {
		d.onPlayerHit()
	}
}

func (d *Director) destroy(id models.EntityID) {
	delete(d.actors, id)
	if err := d.hostiles.DestroyHostile(id); err != nil {
		d.logger.Warn("destroy hostile failed", log.Uint32("entity", uint32(id)), log.Error(err))
	}
}

func (d *Director) spawn() {
	participants := d.session.Participants()
	if len(participants) == 0 {
		return
	}
	target := participants[d.rng.IntN(len(participants))].Entity
	pos := d.spawner.Position.Add(d.cfg.SpawnOffset).Add(d.insideUnitSphere().Scale(d.cfg.SpawnRadius))
	speed := d.difficulty.Speed

	d.session.AddEntity(models.PoseAt(pos),
		func(e models.Entity) {
			if err := d.hostiles.SpawnHostile(e.ID, speed, target); err != nil {
				d.logger.Warn("spawn hostile failed", log.Uint32("entity", uint32(e.ID)), log.Error(err))
			}
		},
		func(err error) {
			d.logger.Warn("hostile entity creation failed", log.Error(err))
		})

	d.spawnCount++
	if d.spawnCount >= d.cfg.SpawnsPerRamp {
		d.increaseDifficulty()
		d.spawnCount = 0
	}
}

func (d *Director) resetDifficulty() {
	d.difficulty = Difficulty{
		MinInterval: d.cfg.Easy.MinInterval,
		MaxInterval: d.cfg.Easy.MaxInterval,
		Speed:       d.cfg.Easy.HostileSpeed,
	}
}

// increaseDifficulty shortens both interval bounds and speeds hostiles up,
// never past the hard setting.
func (d *Director) increaseDifficulty() {
	d.difficulty.MinInterval = max(d.difficulty.MinInterval-d.cfg.MinDecreaseRate, d.cfg.Hard.MinInterval)
	d.difficulty.MaxInterval = max(d.difficulty.MaxInterval-d.cfg.MaxDecreaseRate, d.cfg.Hard.MaxInterval)
	d.difficulty.Speed = min(max(d.difficulty.Speed+d.cfg.SpeedIncreaseRate, 0), d.cfg.Hard.HostileSpeed)
	d.logger.Debug("difficulty increased",
		log.Duration("min_interval", d.difficulty.MinInterval),
		log.Duration("max_interval", d.difficulty.MaxInterval),
		log.Float32("speed", d.difficulty.Speed))
}

func (d *Director) nextInterval() time.Duration {
	span := d.difficulty.MaxInterval - d.difficulty.MinInterval
	if span <= 0 {
		return d.difficulty.MinInterval
	}
	return d.difficulty.MinInterval + time.Duration(d.rng.Int64N(int64(span)+1))
}

func (d *Director) insideUnitSphere() models.Vector3 {
	for {
		v := models.Vec3(
			float32(d.rng.Float64()*2-1),
			float32(d.rng.Float64()*2-1),
			float32(d.rng.Float64()*2-1),
		)
		if v.Length() <= 1 {
			return v
		}
	}
}

func (d *Director) onSpawnIntent(e events.SpawnIntent) {
	if _, known := d.actors[e.EntityID]; known {
		return
	}
	d.actors[e.EntityID] = &Actor{
		ID:     e.EntityID,
		Type:   e.Type,
		Pos:    e.StartPos,
		Target: e.TargetPos,
		Speed:  e.Speed,
		Health: 1,
	}
}

func (d *Director) onDestroyIntent(e events.DestroyIntent) {
	delete(d.actors, e.EntityID)
}
