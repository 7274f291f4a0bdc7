// Package hostiles replicates enemy spawns and hit effects. Every peer,
// including the spawner, derives spawn and destroy intents from the
// replicated components rather than from its own calls.
package hostiles

import (
	"math/rand/v2"
	"slices"
	"time"

	"github.com/zeusync/arsync/internal/core/events"
	"github.com/zeusync/arsync/internal/core/events/bus"
	"github.com/zeusync/arsync/internal/core/models"
	"github.com/zeusync/arsync/internal/core/observability/log"
	"github.com/zeusync/arsync/internal/core/session"
	"github.com/zeusync/arsync/internal/replication"
)

const Name = "hostiles"

type Option func(*System)

// WithClock replaces time.Now for stamping and compensating spawns.
func WithClock(now func() time.Time) Option {
	return func(s *System) { s.now = now }
}

// WithTypePicker replaces the random choice of hostile type.
func WithTypePicker(pick func() models.HostileType) Option {
	return func(s *System) { s.pick = pick }
}

type System struct {
	*replication.Base

	bus  bus.EventBus
	now  func() time.Time
	pick func() models.HostileType

	alive     map[models.EntityID]models.HostileSpawn
	destroyed map[models.EntityID]struct{}
}

func New(s session.Session, b bus.EventBus, logger log.Log, opts ...Option) (*System, error) {
	sys := &System{
		bus:       b,
		now:       time.Now,
		pick:      randomType,
		alive:     make(map[models.EntityID]models.HostileSpawn),
		destroyed: make(map[models.EntityID]struct{}),
	}
	for _, opt := range opts {
		opt(sys)
	}

	base, err := replication.NewBase(Name, s, logger,
		replication.Route{
			Name:      models.HostileComponent,
			Decode:    replication.Decode[models.HostileSpawn],
			OnUpdated: sys.onSpawn,
			OnDeleted: sys.onSpawnDeleted,
		},
		replication.Route{
			Name:      models.HitFxComponent,
			Decode:    decodeHitPulse,
			OnUpdated: sys.onHitPulse,
		},
	)
	if err != nil {
		return nil, err
	}
	sys.Base = base
	return sys, nil
}

func randomType() models.HostileType {
	return models.HostileTypes[rand.N(len(models.HostileTypes))]
}

// decodeHitPulse falls back to an empty pulse for the component's entity so a
// malformed payload reads as "no pending hit".
func decodeHitPulse(change models.Change) (replication.Record, error) {
	rec, err := replication.Decode[models.HitPulse](change)
	if err != nil {
		return models.HitPulse{EntityID: change.Component.EntityID}, err
	}
	return rec, nil
}

// Start resolves the declared types and then loads the spawns already in the
// session, so a peer joining mid-round sees every live hostile.
func (s *System) Start(onReady func(error)) {
	s.Base.Start(func(err error) {
		if err != nil {
			session.Complete(onReady, err)
			return
		}
		s.LoadSpawns(onReady)
	})
}

// LoadSpawns raises a compensated SpawnIntent for every spawn component the
// session holds. Hostiles already known or destroyed are skipped. Stored
// components carry no writer, so the entity owner stands in for it.
func (s *System) LoadSpawns(onDone func(error)) {
	err := s.ReadAll(models.HostileComponent, func(all []replication.Decoded, err error) {
		if err == nil {
			for _, d := range all {
				entity, ok := s.Session().Entity(d.EntityID)
				if !ok {
					continue
				}
				s.onSpawn(models.Change{Component: models.Component{EntityID: d.EntityID}, Writer: entity.Owner}, d.Record)
			}
			s.Logger().Debug("spawns loaded", log.Int("alive", len(s.alive)))
		}
		session.Complete(onDone, err)
	})
	if err != nil {
		session.Complete(onDone, err)
	}
}

// SpawnHostile writes a spawn component on owner aimed at target's current
// position, followed by an empty hit pulse. A target that no longer exists
// makes this a no-op.
func (s *System) SpawnHostile(owner models.EntityID, speed float32, target models.EntityID) error {
	pose, ok := s.Session().EntityPose(target)
	if !ok {
		s.Logger().Debug("spawn target gone", log.Uint32("target", uint32(target)))
		return nil
	}
	spawn := models.HostileSpawn{
		Speed:     speed,
		TargetPos: pose.Position,
		Timestamp: s.now().UnixMilli(),
		Type:      s.pick(),
	}
	if err := s.Add(owner, spawn); err != nil {
		return err
	}
	return s.Add(owner, models.HitPulse{EntityID: owner})
}

// DestroyHostile removes the spawn component. The entity itself is deleted
// only when the local participant owns it.
func (s *System) DestroyHostile(id models.EntityID) error {
	if err := s.Delete(models.HostileComponent, id); err != nil {
		return err
	}
	s.deleteIfOwned(id)
	return nil
}

// SyncHitFx publishes a hit at pos on hostile id. Unknown entities are ignored.
func (s *System) SyncHitFx(id models.EntityID, pos models.Vector3) error {
	if _, ok := s.Session().Entity(id); !ok {
		return nil
	}
	return s.Update(id, models.HitPulse{EntityID: id, Pos: &pos})
}

// Alive lists hostiles spawned and not yet destroyed, in id order.
func (s *System) Alive() []models.EntityID {
	ids := make([]models.EntityID, 0, len(s.alive))
	for id := range s.alive {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (s *System) Hostile(id models.EntityID) (models.HostileSpawn, bool) {
	spawn, ok := s.alive[id]
	return spawn, ok
}

// Reset forgets resolved types and every cached hostile.
func (s *System) Reset() {
	s.Base.Reset()
	clear(s.alive)
	clear(s.destroyed)
}

func (s *System) onSpawn(change models.Change, rec replication.Record) {
	spawn, ok := rec.(models.HostileSpawn)
	if !ok {
		return
	}
	id := change.Component.EntityID
	if _, dead := s.destroyed[id]; dead {
		s.Logger().Debug("spawn after destroy ignored", log.Uint32("entity", uint32(id)))
		return
	}
	if _, known := s.alive[id]; known {
		return
	}
	entity, ok := s.Session().Entity(id)
	if !ok {
		return
	}
	if !entity.OwnedBy(change.Writer) {
		s.Logger().Warn("spawn written by non-owner ignored",
			log.Uint32("entity", uint32(id)),
			log.Uint32("writer", uint32(change.Writer)),
			log.Uint32("owner", uint32(entity.Owner)))
		return
	}
	pose, _ := s.Session().EntityPose(id)

	elapsed := max(0, float32(s.now().UnixMilli()-spawn.Timestamp)/1000)
	s.alive[id] = spawn
	s.publish(events.SpawnIntentType, events.SpawnIntent{
		EntityID:  id,
		Origin:    pose.Position,
		StartPos:  CompensatedPosition(pose.Position, spawn.TargetPos, spawn.Speed, elapsed),
		TargetPos: spawn.TargetPos,
		Speed:     spawn.Speed,
		Type:      spawn.Type,
		Timestamp: spawn.Timestamp,
		Elapsed:   elapsed,
	})
}

func (s *System) onSpawnDeleted(change models.Change) {
	id := change.Component.EntityID
	if _, dead := s.destroyed[id]; dead {
		return
	}
	s.destroyed[id] = struct{}{}
	delete(s.alive, id)
	s.publish(events.DestroyIntentType, events.DestroyIntent{EntityID: id})

	// A non-owner only removes the spawn component; the owner reaps the entity.
	s.deleteIfOwned(id)
}

func (s *System) onHitPulse(_ models.Change, rec replication.Record) {
	pulse, ok := rec.(models.HitPulse)
	if !ok || !pulse.Pending() {
		return
	}
	if _, alive := s.alive[pulse.EntityID]; !alive {
		return
	}
	s.publish(events.HitPulseObservedType, events.HitPulseObserved{EntityID: pulse.EntityID, Pos: *pulse.Pos})
}

func (s *System) deleteIfOwned(id models.EntityID) {
	entity, ok := s.Session().Entity(id)
	if !ok || !entity.OwnedBy(s.Local()) {
		return
	}
	s.Session().DeleteEntity(id, func(err error) {
		if err != nil {
			s.Logger().Debug("entity delete failed", log.Uint32("entity", uint32(id)), log.Error(err))
		}
	})
}

func (s *System) publish(eventType string, data any) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(bus.NewEvent(eventType, Name, data)); err != nil {
		s.Logger().Warn("event handler failed", log.String("event", eventType), log.Error(err))
	}
}

// CompensatedPosition advances origin toward target by speed*elapsed without
// passing it.
func CompensatedPosition(origin, target models.Vector3, speed, elapsed float32) models.Vector3 {
	if speed <= 0 || elapsed <= 0 {
		return origin
	}
	return origin.MoveTowards(target, speed*elapsed)
}
