package participants

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/arsync/internal/core/events"
	"github.com/zeusync/arsync/internal/core/events/bus"
	"github.com/zeusync/arsync/internal/core/models"
	"github.com/zeusync/arsync/internal/core/observability/log"
	"github.com/zeusync/arsync/internal/core/session/loopback"
	"github.com/zeusync/arsync/internal/replication"
)

type rig struct {
	peer   *loopback.Peer
	sys    *System
	scores []events.ScoreChanged
	shots  []events.ShootPulseObserved
	left   []events.ParticipantLeft
}

func join(t *testing.T, hub *loopback.Hub, name string) *rig {
	t.Helper()
	r := &rig{peer: hub.Join(name, models.Pose{})}

	b := bus.New()
	_, err := bus.On(b, events.ScoreChangedType, func(e events.ScoreChanged) { r.scores = append(r.scores, e) })
	require.NoError(t, err)
	_, err = bus.On(b, events.ShootPulseObservedType, func(e events.ShootPulseObserved) { r.shots = append(r.shots, e) })
	require.NoError(t, err)
	_, err = bus.On(b, events.ParticipantLeftType, func(e events.ParticipantLeft) { r.left = append(r.left, e) })
	require.NoError(t, err)

	r.sys, err = New(r.peer, b, log.Nop())
	require.NoError(t, err)
	r.sys.Start(func(err error) { require.NoError(t, err) })
	hub.PumpAll()
	return r
}

func TestUpsertIsIdempotent(t *testing.T) {
	hub := loopback.NewHub(log.Nop())
	a := join(t, hub, "a")
	self := a.peer.Self()

	require.NoError(t, a.sys.UpsertParticipant(self, "alice"))
	hub.PumpAll()
	require.NoError(t, a.sys.UpdateScore(self, 20))
	hub.PumpAll()
	require.NoError(t, a.sys.UpsertParticipant(self, "alice"))
	hub.PumpAll()

	var all []ScoreEntry
	require.NoError(t, a.sys.AllScoreComponents(func(entries []ScoreEntry, err error) {
		require.NoError(t, err)
		all = entries
	}))
	hub.PumpAll()
	assert.Equal(t, []ScoreEntry{{EntityID: self, Name: "alice", Score: 20}}, all)

	require.NoError(t, a.sys.UpsertParticipant(self, "alice2"))
	hub.PumpAll()
	score, ok := a.sys.Score(self)
	require.True(t, ok)
	assert.Equal(t, models.Score{Name: "alice2", Score: 20}, score, "rejoin keeps the score")
}

func TestScoreReachesEveryPeer(t *testing.T) {
	hub := loopback.NewHub(log.Nop())
	a := join(t, hub, "a")
	b := join(t, hub, "b")
	require.NoError(t, a.sys.UpsertParticipant(a.peer.Self(), "A"))
	hub.PumpAll()

	require.NoError(t, a.sys.UpdateScore(a.peer.Self(), 30))
	hub.PumpAll()

	want := events.ScoreChanged{EntityID: a.peer.Self(), Name: "A", Score: 30}
	for _, r := range []*rig{a, b} {
		require.NotEmpty(t, r.scores)
		assert.Equal(t, want, r.scores[len(r.scores)-1])
		assert.Equal(t, []ScoreEntry{{EntityID: a.peer.Self(), Name: "A", Score: 30}}, r.sys.Scores())
	}
}

func TestScoreFromNonOwnerIgnored(t *testing.T) {
	hub := loopback.NewHub(log.Nop())
	a := join(t, hub, "a")
	b := join(t, hub, "b")
	require.NoError(t, a.sys.UpsertParticipant(a.peer.Self(), "A"))
	hub.PumpAll()
	before := len(a.scores)

	require.NoError(t, b.sys.UpdateScore(a.peer.Self(), 999))
	hub.PumpAll()

	assert.Len(t, a.scores, before)
	score, _ := a.sys.Score(a.peer.Self())
	assert.Equal(t, 0, score.Score)
}

func TestUpdateScoreOnMissingParticipantIsNoop(t *testing.T) {
	hub := loopback.NewHub(log.Nop())
	a := join(t, hub, "a")
	assert.NoError(t, a.sys.UpdateScore(a.peer.Self(), 5))
	hub.PumpAll()
	assert.Empty(t, a.scores)
}

func TestShootPulseSkipsOwnEcho(t *testing.T) {
	hub := loopback.NewHub(log.Nop())
	a := join(t, hub, "a")
	b := join(t, hub, "b")
	c := join(t, hub, "c")
	require.NoError(t, a.sys.UpsertParticipant(a.peer.Self(), "A"))
	hub.PumpAll()
	assert.Empty(t, b.shots, "the empty pulse attached on join is not a shot")

	from, to := models.Vec3(0, 1, 0), models.Vec3(0, 1, 5)
	require.NoError(t, a.sys.SyncShootFx(a.peer.Self(), from, to))
	hub.PumpAll()

	assert.Empty(t, a.shots)
	want := events.ShootPulseObserved{EntityID: a.peer.Self(), StartPos: from, EndPos: to}
	assert.Equal(t, []events.ShootPulseObserved{want}, b.shots)
	assert.Equal(t, []events.ShootPulseObserved{want}, c.shots)
}

func TestShotFromOriginIsReported(t *testing.T) {
	hub := loopback.NewHub(log.Nop())
	a := join(t, hub, "a")
	b := join(t, hub, "b")
	require.NoError(t, a.sys.UpsertParticipant(a.peer.Self(), "A"))
	hub.PumpAll()
	require.Empty(t, b.shots)

	origin := models.Vector3{}
	require.NoError(t, a.sys.SyncShootFx(a.peer.Self(), origin, origin))
	hub.PumpAll()

	assert.Equal(t, []events.ShootPulseObserved{{EntityID: a.peer.Self(), StartPos: origin, EndPos: origin}}, b.shots)
}

func TestShootPulseDecodeFailureSkipsOnlyThatChange(t *testing.T) {
	hub := loopback.NewHub(log.Nop())
	a := join(t, hub, "a")
	b := join(t, hub, "b")
	shootType, err := b.sys.TypeID(models.ShootFxComponent)
	require.NoError(t, err)
	from, to := models.Vec3(1, 0, 0), models.Vec3(2, 0, 0)
	good, err := replication.Encode(models.ShootPulse{StartPos: &from, EndPos: &to})
	require.NoError(t, err)

	b.sys.OnUpdated([]models.Change{
		{Component: models.Component{TypeID: shootType, EntityID: a.peer.Self(), Data: []byte("{")}, Writer: a.peer.ParticipantID()},
		{Component: models.Component{TypeID: shootType, EntityID: a.peer.Self(), Data: good}, Writer: a.peer.ParticipantID()},
		{Component: models.Component{TypeID: shootType, EntityID: a.peer.Self(), Data: good}, Writer: a.peer.ParticipantID(), LocalChange: true},
	})
	assert.Len(t, b.shots, 1)
}

func TestLateJoinerSeedsScores(t *testing.T) {
	hub := loopback.NewHub(log.Nop())
	a := join(t, hub, "a")
	b := join(t, hub, "b")
	require.NoError(t, a.sys.UpsertParticipant(a.peer.Self(), "A"))
	require.NoError(t, b.sys.UpsertParticipant(b.peer.Self(), "B"))
	hub.PumpAll()
	require.NoError(t, b.sys.UpdateScore(b.peer.Self(), 10))
	hub.PumpAll()

	late := join(t, hub, "c")
	var seeded []ScoreEntry
	require.NoError(t, late.sys.AllScoreComponents(func(entries []ScoreEntry, err error) {
		require.NoError(t, err)
		seeded = entries
	}))
	hub.PumpAll()

	assert.Equal(t, []ScoreEntry{
		{EntityID: a.peer.Self(), Name: "A", Score: 0},
		{EntityID: b.peer.Self(), Name: "B", Score: 10},
	}, seeded)
	assert.Equal(t, seeded, late.sys.Scores())
}

func TestLeavingParticipantIsEvicted(t *testing.T) {
	hub := loopback.NewHub(log.Nop())
	a := join(t, hub, "a")
	b := join(t, hub, "b")
	require.NoError(t, a.sys.UpsertParticipant(a.peer.Self(), "A"))
	hub.PumpAll()

	a.peer.Leave()
	hub.PumpAll()

	assert.Equal(t, []events.ParticipantLeft{{EntityID: a.peer.Self()}}, b.left)
	assert.Empty(t, b.sys.Scores())
}
