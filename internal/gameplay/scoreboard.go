package gameplay

import (
	"cmp"
	"slices"

	"github.com/zeusync/arsync/internal/core/events"
	"github.com/zeusync/arsync/internal/core/events/bus"
	"github.com/zeusync/arsync/internal/core/models"
	"github.com/zeusync/arsync/internal/core/session"
	"github.com/zeusync/arsync/internal/replication/participants"
)

// Scoreboard keeps the displayed score of every participant.
type Scoreboard struct {
	entries map[models.EntityID]participants.ScoreEntry
	subs    []bus.Subscription
}

func NewScoreboard(b bus.EventBus) (*Scoreboard, error) {
	s := &Scoreboard{entries: make(map[models.EntityID]participants.ScoreEntry)}
	if b == nil {
		return s, nil
	}
	changed, err := bus.On(b, events.ScoreChangedType, func(e events.ScoreChanged) {
		s.entries[e.EntityID] = participants.ScoreEntry{EntityID: e.EntityID, Name: e.Name, Score: e.Score}
	})
	if err != nil {
		return nil, err
	}
	left, err := bus.On(b, events.ParticipantLeftType, func(e events.ParticipantLeft) {
		delete(s.entries, e.EntityID)
	})
	if err != nil {
		_ = changed.Cancel()
		return nil, err
	}
	s.subs = []bus.Subscription{changed, left}
	return s, nil
}

// Seed merges a bulk read, typically the one made right after joining.
func (s *Scoreboard) Seed(entries []participants.ScoreEntry) {
	for _, e := range entries {
		s.entries[e.EntityID] = e
	}
}

// Load seeds the board with every score already in the session. Call it once
// after joining.
func (s *Scoreboard) Load(p *participants.System, onDone func(error)) error {
	return p.AllScoreComponents(func(entries []participants.ScoreEntry, err error) {
		if err == nil {
			s.Seed(entries)
		}
		session.Complete(onDone, err)
	})
}

// Entries lists scores highest first; ties are ordered by name.
func (s *Scoreboard) Entries() []participants.ScoreEntry {
	out := make([]participants.ScoreEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b participants.ScoreEntry) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return cmp.Compare(a.EntityID, b.EntityID)
	})
	return out
}

// Drain returns Entries and empties the board for the next round.
func (s *Scoreboard) Drain() []participants.ScoreEntry {
	out := s.Entries()
	clear(s.entries)
	return out
}

func (s *Scoreboard) Close() {
	for _, sub := range s.subs {
		_ = sub.Cancel()
	}
	s.subs = nil
}
