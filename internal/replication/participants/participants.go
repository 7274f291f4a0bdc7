// Package participants replicates per-participant scores and shoot effects.
package participants

import (
	"slices"

	"github.com/zeusync/arsync/internal/core/events"
	"github.com/zeusync/arsync/internal/core/events/bus"
	"github.com/zeusync/arsync/internal/core/models"
	"github.com/zeusync/arsync/internal/core/observability/log"
	"github.com/zeusync/arsync/internal/core/session"
	"github.com/zeusync/arsync/internal/replication"
)

const Name = "participants"

// ScoreEntry is one participant's last known score.
type ScoreEntry struct {
	EntityID models.EntityID
	Name     string
	Score    int
}

type System struct {
	*replication.Base

	bus    bus.EventBus
	scores map[models.EntityID]models.Score
}

func New(s session.Session, b bus.EventBus, logger log.Log) (*System, error) {
	sys := &System{
		bus:    b,
		scores: make(map[models.EntityID]models.Score),
	}
	base, err := replication.NewBase(Name, s, logger,
		replication.Route{
			Name:      models.ScoreComponent,
			Decode:    replication.Decode[models.Score],
			OnUpdated: sys.onScore,
			OnDeleted: sys.onScoreDeleted,
		},
		replication.Route{
			Name:      models.ShootFxComponent,
			Decode:    replication.Decode[models.ShootPulse],
			OnUpdated: sys.onShootPulse,
		},
	)
	if err != nil {
		return nil, err
	}
	sys.Base = base
	return sys, nil
}

// UpsertParticipant is the join and rejoin path. An existing score component
// gets the new name and keeps its score; otherwise a zero score and an empty
// shoot pulse are attached to id.
func (s *System) UpsertParticipant(id models.EntityID, name string) error {
	rec, exists, err := s.Read(models.ScoreComponent, id)
	if err != nil && !exists {
		return err
	}
	if exists {
		current, _ := rec.(models.Score)
		return s.Update(id, models.Score{Name: name, Score: current.Score})
	}
	if err := s.Add(id, models.Score{Name: name}); err != nil {
		return err
	}
	return s.Add(id, models.ShootPulse{})
}

// UpdateScore replaces the score field of id's component, keeping the name.
func (s *System) UpdateScore(id models.EntityID, score int) error {
	rec, exists, err := s.Read(models.ScoreComponent, id)
	if err != nil && !exists {
		return err
	}
	if !exists {
		s.Logger().Debug("score update for missing participant", log.Uint32("entity", uint32(id)))
		return nil
	}
	current, _ := rec.(models.Score)
	current.Score = score
	return s.Update(id, current)
}

// SyncShootFx overwrites id's shoot pulse. The caller has already played the
// effect locally; its own echo is not reported back.
func (s *System) SyncShootFx(id models.EntityID, from, to models.Vector3) error {
	return s.Update(id, models.ShootPulse{StartPos: &from, EndPos: &to})
}

// AllScoreComponents reads every score in the session and merges them into
// the local cache.
func (s *System) AllScoreComponents(onResult func([]ScoreEntry, error)) error {
	return s.ReadAll(models.ScoreComponent, func(all []replication.Decoded, err error) {
		if err != nil {
			if onResult != nil {
				onResult(nil, err)
			}
			return
		}
		entries := make([]ScoreEntry, 0, len(all))
		for _, d := range all {
			score, ok := d.Record.(models.Score)
			if !ok {
				continue
			}
			s.scores[d.EntityID] = score
			entries = append(entries, ScoreEntry{EntityID: d.EntityID, Name: score.Name, Score: score.Score})
		}
		if onResult != nil {
			onResult(entries, nil)
		}
	})
}

// Scores returns the cached scores ordered by entity id.
func (s *System) Scores() []ScoreEntry {
	out := make([]ScoreEntry, 0, len(s.scores))
	for id, score := range s.scores {
		out = append(out, ScoreEntry{EntityID: id, Name: score.Name, Score: score.Score})
	}
	slices.SortFunc(out, func(a, b ScoreEntry) int { return int(a.EntityID) - int(b.EntityID) })
	return out
}

func (s *System) Score(id models.EntityID) (models.Score, bool) {
	score, ok := s.scores[id]
	return score, ok
}

func (s *System) Reset() {
	s.Base.Reset()
	clear(s.scores)
}

// onScore reports local and remote writes alike.
func (s *System) onScore(change models.Change, rec replication.Record) {
	score, ok := rec.(models.Score)
	if !ok {
		return
	}
	id := change.Component.EntityID
	if !s.WrittenByOwner(change) {
		s.Logger().Warn("score written by non-owner ignored",
			log.Uint32("entity", uint32(id)), log.Uint32("writer", uint32(change.Writer)))
		return
	}
	s.scores[id] = score
	s.publish(events.ScoreChangedType, events.ScoreChanged{EntityID: id, Name: score.Name, Score: score.Score})
}

func (s *System) onScoreDeleted(change models.Change) {
	id := change.Component.EntityID
	delete(s.scores, id)
	s.publish(events.ParticipantLeftType, events.ParticipantLeft{EntityID: id})
}

// onShootPulse never reports the peer's own writes, nor the empty pulse
// attached on join.
func (s *System) onShootPulse(change models.Change, rec replication.Record) {
	if change.LocalChange {
		return
	}
	pulse, ok := rec.(models.ShootPulse)
	if !ok || !pulse.Fired() {
		return
	}
	if !s.WrittenByOwner(change) {
		s.Logger().Warn("shoot pulse written by non-owner ignored",
			log.Uint32("entity", uint32(change.Component.EntityID)), log.Uint32("writer", uint32(change.Writer)))
		return
	}
	s.publish(events.ShootPulseObservedType, events.ShootPulseObserved{
		EntityID: change.Component.EntityID,
		StartPos: *pulse.StartPos,
		EndPos:   *pulse.EndPos,
	})
}

func (s *System) publish(eventType string, data any) {
	if s.bus == nil {
		return
	}
	if err := bus.Emit(s.bus, eventType, Name, data); err != nil {
		s.Logger().Warn("event handler failed", log.String("event", eventType), log.Error(err))
	}
}
