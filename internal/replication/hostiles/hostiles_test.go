package hostiles

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/arsync/internal/core/events"
	"github.com/zeusync/arsync/internal/core/events/bus"
	"github.com/zeusync/arsync/internal/core/models"
	"github.com/zeusync/arsync/internal/core/observability/log"
	"github.com/zeusync/arsync/internal/core/session/loopback"
	"github.com/zeusync/arsync/internal/replication"
)

var epoch = time.UnixMilli(1_700_000_000_000)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

type rig struct {
	peer     *loopback.Peer
	sys      *System
	clock    *clock
	spawns   []events.SpawnIntent
	destroys []events.DestroyIntent
	hits     []events.HitPulseObserved
}

func join(t *testing.T, hub *loopback.Hub, name string, at models.Vector3) *rig {
	t.Helper()
	return joinAt(t, hub, name, at, epoch)
}

func joinAt(t *testing.T, hub *loopback.Hub, name string, at models.Vector3, now time.Time) *rig {
	t.Helper()
	r := &rig{peer: hub.Join(name, models.PoseAt(at)), clock: &clock{now: now}}

	b := bus.New()
	_, err := bus.On(b, events.SpawnIntentType, func(e events.SpawnIntent) { r.spawns = append(r.spawns, e) })
	require.NoError(t, err)
	_, err = bus.On(b, events.DestroyIntentType, func(e events.DestroyIntent) { r.destroys = append(r.destroys, e) })
	require.NoError(t, err)
	_, err = bus.On(b, events.HitPulseObservedType, func(e events.HitPulseObserved) { r.hits = append(r.hits, e) })
	require.NoError(t, err)

	r.sys, err = New(r.peer, b, log.Nop(),
		WithClock(r.clock.Now),
		WithTypePicker(func() models.HostileType { return models.HostileBat }))
	require.NoError(t, err)

	var ready error
	r.sys.Start(func(err error) { ready = err })
	hub.PumpAll()
	require.NoError(t, ready)
	return r
}

func (r *rig) newEntity(t *testing.T, hub *loopback.Hub, at models.Vector3) models.EntityID {
	t.Helper()
	var id models.EntityID
	r.peer.AddEntity(models.PoseAt(at), func(e models.Entity) { id = e.ID }, func(err error) { t.Fatal(err) })
	hub.PumpAll()
	require.NotZero(t, id)
	return id
}

func TestCompensatedPosition(t *testing.T) {
	origin := models.Vec3(0, 0, 0)
	target := models.Vec3(10, 0, 0)

	tests := []struct {
		name    string
		speed   float32
		elapsed float32
		want    models.Vector3
	}{
		{name: "no delay", speed: 2, elapsed: 0, want: origin},
		{name: "clock skew", speed: 2, elapsed: -3, want: origin},
		{name: "partial", speed: 2, elapsed: 1.5, want: models.Vec3(3, 0, 0)},
		{name: "clamped at target", speed: 2, elapsed: 60, want: target},
		{name: "stationary", speed: 0, elapsed: 5, want: origin},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CompensatedPosition(origin, target, tt.speed, tt.elapsed)
			assert.InDelta(t, tt.want.X, got.X, 1e-5)
			assert.InDelta(t, tt.want.Y, got.Y, 1e-5)
			assert.InDelta(t, tt.want.Z, got.Z, 1e-5)
			assert.LessOrEqual(t, origin.Distance(got), origin.Distance(target)+1e-5)
		})
	}
}

func TestOperationsRequireResolution(t *testing.T) {
	hub := loopback.NewHub(log.Nop())
	peer := hub.Join("a", models.Pose{})
	sys, err := New(peer, nil, log.Nop())
	require.NoError(t, err)

	assert.ErrorIs(t, sys.SpawnHostile(peer.Self(), 1, peer.Self()), replication.ErrNotResolved)
	assert.ErrorIs(t, sys.DestroyHostile(peer.Self()), replication.ErrNotResolved)
	assert.ErrorIs(t, sys.SyncHitFx(peer.Self(), models.Vec3(1, 1, 1)), replication.ErrNotResolved)
}

func TestSpawnIsCompensatedForLatency(t *testing.T) {
	hub := loopback.NewHub(log.Nop())
	a := join(t, hub, "a", models.Vec3(0, 0, 0))
	b := join(t, hub, "b", models.Vec3(10, 0, 0))
	b.clock.now = epoch.Add(1500 * time.Millisecond)

	hostile := a.newEntity(t, hub, models.Vec3(0, 0, 0))
	require.NoError(t, a.sys.SpawnHostile(hostile, 2, b.peer.Self()))
	hub.PumpAll()

	require.Len(t, a.spawns, 1, "the spawner derives its intent from the replicated component too")
	require.Len(t, b.spawns, 1)

	local := a.spawns[0]
	assert.Equal(t, hostile, local.EntityID)
	assert.Equal(t, models.Vec3(0, 0, 0), local.StartPos)
	assert.Equal(t, models.Vec3(10, 0, 0), local.TargetPos)
	assert.Equal(t, models.HostileBat, local.Type)
	assert.Equal(t, epoch.UnixMilli(), local.Timestamp)

	remote := b.spawns[0]
	assert.InDelta(t, 1.5, remote.Elapsed, 1e-6)
	assert.InDelta(t, 3, remote.StartPos.X, 1e-5)
	assert.Equal(t, models.Vec3(0, 0, 0), remote.Origin)

	assert.Equal(t, []models.EntityID{hostile}, b.sys.Alive())
	spawn, ok := b.sys.Hostile(hostile)
	require.True(t, ok)
	assert.Equal(t, float32(2), spawn.Speed)
	assert.Empty(t, b.hits, "the pre-allocated hit pulse is not a hit")
}

func TestSpawnToMissingTargetIsNoop(t *testing.T) {
	hub := loopback.NewHub(log.Nop())
	a := join(t, hub, "a", models.Vec3(0, 0, 0))
	hostile := a.newEntity(t, hub, models.Vec3(0, 0, 0))

	require.NoError(t, a.sys.SpawnHostile(hostile, 1, 4242))
	hub.PumpAll()
	assert.Empty(t, a.spawns)
}

func TestSpawnForRemovedEntityIsDropped(t *testing.T) {
	hub := loopback.NewHub(log.Nop())
	a := join(t, hub, "a", models.Vec3(0, 0, 0))
	b := join(t, hub, "b", models.Vec3(5, 0, 0))
	hostile := a.newEntity(t, hub, models.Vec3(0, 0, 0))

	require.NoError(t, a.sys.SpawnHostile(hostile, 1, b.peer.Self()))
	a.peer.DeleteEntity(hostile, nil)
	hub.PumpAll()

	assert.Empty(t, b.spawns)
	assert.Len(t, b.destroys, 1)
}

func TestSpawnWrittenByNonOwnerIsIgnored(t *testing.T) {
	hub := loopback.NewHub(log.Nop())
	a := join(t, hub, "a", models.Vec3(0, 0, 0))
	b := join(t, hub, "b", models.Vec3(5, 0, 0))
	hostile := a.newEntity(t, hub, models.Vec3(0, 0, 0))

	require.NoError(t, b.sys.SpawnHostile(hostile, 1, b.peer.Self()))
	hub.PumpAll()

	assert.Empty(t, a.spawns)
	assert.Empty(t, b.spawns)
}

func TestDestroyIntentRaisedOncePerPeer(t *testing.T) {
	hub := loopback.NewHub(log.Nop())
	a := join(t, hub, "a", models.Vec3(0, 0, 0))
	b := join(t, hub, "b", models.Vec3(5, 0, 0))
	c := join(t, hub, "c", models.Vec3(-5, 0, 0))
	hostile := a.newEntity(t, hub, models.Vec3(0, 0, 0))
	require.NoError(t, a.sys.SpawnHostile(hostile, 1, b.peer.Self()))
	hub.PumpAll()

	// Two peers kill the same hostile in the same frame.
	require.NoError(t, b.sys.DestroyHostile(hostile))
	require.NoError(t, c.sys.DestroyHostile(hostile))
	hub.PumpAll()

	for _, r := range []*rig{a, b, c} {
		require.Len(t, r.destroys, 1)
		assert.Equal(t, hostile, r.destroys[0].EntityID)
		assert.Empty(t, r.sys.Alive())
	}
}

func TestOnlyOwnerDeletesEntity(t *testing.T) {
	hub := loopback.NewHub(log.Nop())
	a := join(t, hub, "a", models.Vec3(0, 0, 0))
	b := join(t, hub, "b", models.Vec3(5, 0, 0))
	hostile := a.newEntity(t, hub, models.Vec3(0, 0, 0))
	require.NoError(t, a.sys.SpawnHostile(hostile, 1, b.peer.Self()))
	hub.PumpAll()

	require.NoError(t, b.sys.DestroyHostile(hostile))
	b.peer.Pump()
	_, ok := b.peer.Entity(hostile)
	assert.True(t, ok, "a non-owner removes the component only")
	require.Len(t, b.destroys, 1)

	// The owner observes the delete and reaps its entity.
	hub.PumpAll()
	_, ok = b.peer.Entity(hostile)
	assert.False(t, ok)

	second := a.newEntity(t, hub, models.Vec3(0, 0, 0))
	require.NoError(t, a.sys.SpawnHostile(second, 1, b.peer.Self()))
	hub.PumpAll()
	require.NoError(t, a.sys.DestroyHostile(second))
	_, ok = a.peer.Entity(second)
	assert.False(t, ok, "the owner deletes the entity directly")
}

func TestSpawnAfterDestroyIsIgnored(t *testing.T) {
	hub := loopback.NewHub(log.Nop())
	a := join(t, hub, "a", models.Vec3(0, 0, 0))
	b := join(t, hub, "b", models.Vec3(5, 0, 0))
	hostile := a.newEntity(t, hub, models.Vec3(0, 0, 0))
	require.NoError(t, a.sys.SpawnHostile(hostile, 1, b.peer.Self()))
	hub.PumpAll()

	spawnType, err := b.sys.TypeID(models.HostileComponent)
	require.NoError(t, err)
	data, err := replication.Encode(models.HostileSpawn{Speed: 1, Timestamp: epoch.UnixMilli()})
	require.NoError(t, err)
	stale := models.Change{
		Component: models.Component{TypeID: spawnType, EntityID: hostile, Data: data},
		Writer:    a.peer.ParticipantID(),
	}

	b.sys.OnDeleted([]models.Change{{Component: models.Component{TypeID: spawnType, EntityID: hostile}}})
	b.sys.OnUpdated([]models.Change{stale})

	assert.Len(t, b.spawns, 1)
	assert.Len(t, b.destroys, 1)
	assert.Empty(t, b.sys.Alive())
}

func TestLateJoinerLoadsLiveHostiles(t *testing.T) {
	hub := loopback.NewHub(log.Nop())
	a := join(t, hub, "a", models.Vec3(10, 0, 0))
	hostile := a.newEntity(t, hub, models.Vec3(0, 0, 0))
	dead := a.newEntity(t, hub, models.Vec3(0, 0, 0))
	require.NoError(t, a.sys.SpawnHostile(hostile, 2, a.peer.Self()))
	require.NoError(t, a.sys.SpawnHostile(dead, 2, a.peer.Self()))
	hub.PumpAll()
	require.NoError(t, a.sys.DestroyHostile(dead))
	hub.PumpAll()

	late := joinAt(t, hub, "late", models.Vec3(-5, 0, 0), epoch.Add(2*time.Second))

	require.Len(t, late.spawns, 1)
	got := late.spawns[0]
	assert.Equal(t, hostile, got.EntityID)
	assert.InDelta(t, 2, got.Elapsed, 1e-5)
	assert.InDelta(t, 4, got.StartPos.X, 1e-5, "advanced by two seconds of travel")
	assert.Equal(t, models.Vec3(10, 0, 0), got.TargetPos)
	assert.Equal(t, []models.EntityID{hostile}, late.sys.Alive())
	assert.Len(t, a.spawns, 2, "existing peers see no replay")

	require.NoError(t, late.sys.SyncHitFx(hostile, models.Vec3(1, 0, 0)))
	hub.PumpAll()
	assert.Len(t, a.hits, 1)
	assert.Len(t, late.hits, 1)

	require.NoError(t, a.sys.DestroyHostile(hostile))
	hub.PumpAll()
	assert.Equal(t, []events.DestroyIntent{{EntityID: hostile}}, late.destroys)
	assert.Empty(t, late.sys.Alive())
}

func TestHitPulses(t *testing.T) {
	hub := loopback.NewHub(log.Nop())
	a := join(t, hub, "a", models.Vec3(0, 0, 0))
	b := join(t, hub, "b", models.Vec3(5, 0, 0))
	hostile := a.newEntity(t, hub, models.Vec3(0, 0, 0))
	require.NoError(t, a.sys.SpawnHostile(hostile, 1, b.peer.Self()))
	hub.PumpAll()

	require.NoError(t, b.sys.SyncHitFx(hostile, models.Vector3{}))
	hub.PumpAll()
	assert.Empty(t, a.hits, "zero position is the reset sentinel")
	assert.Empty(t, b.hits)

	require.NoError(t, b.sys.SyncHitFx(hostile, models.Vec3(1, 2, 3)))
	hub.PumpAll()
	for _, r := range []*rig{a, b} {
		require.Len(t, r.hits, 1)
		assert.Equal(t, events.HitPulseObserved{EntityID: hostile, Pos: models.Vec3(1, 2, 3)}, r.hits[0])
	}

	assert.NoError(t, b.sys.SyncHitFx(9999, models.Vec3(1, 1, 1)), "missing entity is a no-op")
}

func TestHitPulseForUnknownHostileIgnored(t *testing.T) {
	hub := loopback.NewHub(log.Nop())
	a := join(t, hub, "a", models.Vec3(0, 0, 0))
	hitType, err := a.sys.TypeID(models.HitFxComponent)
	require.NoError(t, err)
	pos := models.Vec3(1, 1, 1)
	data, err := replication.Encode(models.HitPulse{EntityID: 77, Pos: &pos})
	require.NoError(t, err)

	a.sys.OnUpdated([]models.Change{
		{Component: models.Component{TypeID: hitType, EntityID: 77, Data: data}},
		{Component: models.Component{TypeID: hitType, EntityID: 78, Data: []byte("garbage")}},
	})
	assert.Empty(t, a.hits)
}

func TestResetClearsCaches(t *testing.T) {
	hub := loopback.NewHub(log.Nop())
	a := join(t, hub, "a", models.Vec3(0, 0, 0))
	hostile := a.newEntity(t, hub, models.Vec3(0, 0, 0))
	require.NoError(t, a.sys.SpawnHostile(hostile, 1, a.peer.Self()))
	hub.PumpAll()
	require.Len(t, a.sys.Alive(), 1)

	a.sys.Reset()
	assert.Empty(t, a.sys.Alive())
	assert.False(t, a.sys.Resolved())
}
