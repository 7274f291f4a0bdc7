package remote

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/arsync/internal/config"
	"github.com/zeusync/arsync/internal/core/events/bus"
	"github.com/zeusync/arsync/internal/core/models"
	"github.com/zeusync/arsync/internal/core/observability/log"
	"github.com/zeusync/arsync/internal/core/session"
	"github.com/zeusync/arsync/internal/relay"
	"github.com/zeusync/arsync/internal/relay/transport"
	"github.com/zeusync/arsync/internal/replication/participants"
)

type recorder struct {
	mu      sync.Mutex
	names   []string
	updated []models.Change
	deleted []models.Change
}

func (r *recorder) ComponentTypeNames() []string { return r.names }

func (r *recorder) OnUpdated(batch []models.Change) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updated = append(r.updated, batch...)
}

func (r *recorder) OnDeleted(batch []models.Change) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted = append(r.deleted, batch...)
}

func (r *recorder) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.updated), len(r.deleted)
}

func startRelay(t *testing.T) (*relay.Server, string) {
	t.Helper()
	srv := relay.NewServer(config.Default().Relay, log.Nop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, "ws" + strings.TrimPrefix(ts.URL, "http") + transport.SessionPath
}

func join(t *testing.T, url, room, name string) *Client {
	t.Helper()
	c, err := Connect(context.Background(), config.ClientConfig{URL: url, Room: room, Name: name}, log.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// settle pumps every client until cond holds.
func settle(t *testing.T, cond func() bool, clients ...*Client) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, c := range clients {
			c.Pump()
		}
		return cond()
	}, 3*time.Second, 5*time.Millisecond)
}

func resolve(t *testing.T, c *Client, name string) models.ComponentTypeID {
	t.Helper()
	var id models.ComponentTypeID
	c.ResolveComponentType(name, func(got models.ComponentTypeID) { id = got }, func(err error) { t.Errorf("resolve: %v", err) })
	settle(t, func() bool { return id != 0 }, c)
	return id
}

func TestJoinMirrorsRoom(t *testing.T) {
	_, url := startRelay(t)
	a := join(t, url, "arena", "a")
	b := join(t, url, "arena", "b")
	other := join(t, url, "lobby", "c")

	assert.Len(t, b.Participants(), 2, "the welcome carries earlier participants")
	_, ok := b.Entity(a.Self())
	assert.True(t, ok)

	settle(t, func() bool { return len(a.Participants()) == 2 }, a)
	e, ok := a.Entity(b.Self())
	require.True(t, ok)
	assert.Equal(t, b.ParticipantID(), e.Owner)
	assert.Len(t, other.Participants(), 1)
}

func TestWritesReachEveryClient(t *testing.T) {
	_, url := startRelay(t)
	a := join(t, url, "arena", "a")
	b := join(t, url, "arena", "b")
	typeID := resolve(t, a, models.ScoreComponent)
	assert.Equal(t, typeID, resolve(t, b, models.ScoreComponent))

	ra := &recorder{names: []string{models.ScoreComponent}}
	rb := &recorder{names: []string{models.ScoreComponent}}
	a.RegisterSystem(ra)
	b.RegisterSystem(rb)

	var writeErr error
	done := false
	a.AddComponent(typeID, a.Self(), []byte(`{"name":"a","score":0}`), func(err error) { writeErr, done = err, true })

	c, ok := a.Component(typeID, a.Self())
	require.True(t, ok, "own writes are visible before the relay answers")
	assert.JSONEq(t, `{"name":"a","score":0}`, string(c.Data))

	settle(t, func() bool {
		nb, _ := rb.counts()
		return done && nb == 1
	}, a, b)
	require.NoError(t, writeErr)
	require.Len(t, ra.updated, 1)
	assert.True(t, ra.updated[0].LocalChange)
	assert.False(t, rb.updated[0].LocalChange)
	assert.Equal(t, a.ParticipantID(), rb.updated[0].Writer)

	c, ok = b.Component(typeID, a.Self())
	require.True(t, ok)
	assert.JSONEq(t, `{"name":"a","score":0}`, string(c.Data))

	var all []models.Component
	b.Components(typeID, func(got []models.Component, err error) {
		assert.NoError(t, err)
		all = got
	})
	settle(t, func() bool { return all != nil }, b)
	assert.Len(t, all, 1)
}

func TestRejectedWriteKeepsRelayState(t *testing.T) {
	_, url := startRelay(t)
	a := join(t, url, "arena", "a")
	b := join(t, url, "arena", "b")
	typeID := resolve(t, a, models.ScoreComponent)
	resolve(t, b, models.ScoreComponent)

	a.AddComponent(typeID, a.Self(), []byte("1"), nil)
	require.Eventually(t, func() bool { return b.Pending() > 0 }, 3*time.Second, 5*time.Millisecond)

	// b has not applied a's write yet, so its mirror lets the add through.
	var writeErr error
	done := false
	b.AddComponent(typeID, a.Self(), []byte("2"), func(err error) { writeErr, done = err, true })
	settle(t, func() bool { return done }, b)

	assert.ErrorIs(t, writeErr, session.ErrComponentExists)
	c, ok := b.Component(typeID, a.Self())
	require.True(t, ok)
	assert.Equal(t, []byte("1"), c.Data)
}

func TestLocalValidationFailsWithoutRoundTrip(t *testing.T) {
	_, url := startRelay(t)
	a := join(t, url, "arena", "a")
	b := join(t, url, "arena", "b")
	typeID := resolve(t, a, models.ScoreComponent)
	settle(t, func() bool { _, ok := a.Entity(b.Self()); return ok }, a)

	var errs []error
	collect := func(err error) { errs = append(errs, err) }
	a.UpdateComponent(typeID, a.Self(), []byte("x"), collect)
	a.AddComponent(typeID+50, a.Self(), []byte("x"), collect)
	a.AddComponent(typeID, 999, []byte("x"), collect)
	a.DeleteEntity(b.Self(), collect)
	a.Pump()

	require.Len(t, errs, 4)
	assert.ErrorIs(t, errs[0], session.ErrComponentNotFound)
	assert.ErrorIs(t, errs[1], session.ErrUnknownType)
	assert.ErrorIs(t, errs[2], session.ErrEntityNotFound)
	assert.ErrorIs(t, errs[3], session.ErrNotOwner)
}

func TestActionsAreAcknowledged(t *testing.T) {
	_, url := startRelay(t)
	a := join(t, url, "arena", "a")
	b := join(t, url, "arena", "b")
	settle(t, func() bool { return len(a.Participants()) == 2 }, a)

	var seenByB []models.EntityAction
	b.OnEntityAction(func(action models.EntityAction) []byte {
		seenByB = append(seenByB, action)
		if action.EntityID == b.Self() {
			return []byte(`"handled"`)
		}
		return nil
	})
	a.OnEntityAction(func(models.EntityAction) []byte {
		t.Error("the sender's own handler must not run")
		return nil
	})

	var own, remote *models.EntityAction
	a.RequestAction(a.Self(), "state", []byte("true"), func(ack models.EntityAction) { own = &ack }, func(err error) { t.Error(err) })
	a.RequestAction(b.Self(), "poke", []byte("1"), func(ack models.EntityAction) { remote = &ack }, func(err error) { t.Error(err) })
	settle(t, func() bool { return own != nil && remote != nil }, a, b)

	assert.Equal(t, []byte("true"), own.Data)
	assert.Equal(t, []byte(`"handled"`), remote.Data)
	assert.Equal(t, a.ParticipantID(), remote.Requester)
	require.Len(t, seenByB, 2)
	assert.Equal(t, "state", seenByB[0].Name)

	var missing error
	a.RequestAction(12345, "poke", nil, nil, func(err error) { missing = err })
	a.Pump()
	assert.ErrorIs(t, missing, session.ErrEntityNotFound)
}

func TestDisconnectSweepsEntities(t *testing.T) {
	srv, url := startRelay(t)
	a := join(t, url, "arena", "a")
	b := join(t, url, "arena", "b")
	typeID := resolve(t, b, models.HostileComponent)

	ra := &recorder{names: []string{models.HostileComponent}}
	a.RegisterSystem(ra)

	var hostile models.EntityID
	b.AddEntity(models.PoseAt(models.Vec3(1, 0, 0)), func(e models.Entity) { hostile = e.ID }, func(err error) { t.Error(err) })
	settle(t, func() bool { return hostile != 0 }, b)
	b.AddComponent(typeID, hostile, []byte("{}"), nil)
	settle(t, func() bool { n, _ := ra.counts(); return n == 1 }, a, b)

	pose, ok := a.EntityPose(hostile)
	require.True(t, ok)
	assert.Equal(t, models.Vec3(1, 0, 0), pose.Position)

	require.NoError(t, b.Close())
	settle(t, func() bool { _, n := ra.counts(); return n == 1 && len(a.Participants()) == 1 }, a)

	assert.Equal(t, b.ParticipantID(), ra.deleted[0].Writer)
	_, ok = a.Entity(hostile)
	assert.False(t, ok)
	_, ok = a.Entity(b.Self())
	assert.False(t, ok)

	room, ok := srv.Room("arena")
	require.True(t, ok)
	assert.Equal(t, 1, room.Entities())
}

func TestPoseUpdatesReachOthers(t *testing.T) {
	_, url := startRelay(t)
	a := join(t, url, "arena", "a")
	b := join(t, url, "arena", "b")
	settle(t, func() bool { _, ok := a.Entity(b.Self()); return ok }, a)

	a.SetEntityPose(a.Self(), models.PoseAt(models.Vec3(0, 2, 0)))
	settle(t, func() bool {
		pose, _ := b.EntityPose(a.Self())
		return pose.Position == models.Vec3(0, 2, 0)
	}, b)
}

func TestClosedClientFailsRequests(t *testing.T) {
	_, url := startRelay(t)
	a := join(t, url, "arena", "a")
	require.NoError(t, a.Close())
	<-a.Done()

	var err error
	a.AddEntity(models.Pose{}, nil, func(e error) { err = e })
	a.Pump()
	assert.ErrorIs(t, err, session.ErrClosed)
	assert.ErrorIs(t, a.Err(), session.ErrClosed)
}

func TestParticipantsReplicateOverRelay(t *testing.T) {
	_, url := startRelay(t)
	a := join(t, url, "arena", "a")
	b := join(t, url, "arena", "b")

	pa, err := participants.New(a, bus.New(), log.Nop())
	require.NoError(t, err)
	pb, err := participants.New(b, bus.New(), log.Nop())
	require.NoError(t, err)

	ready := 0
	pa.Start(func(err error) { assert.NoError(t, err); ready++ })
	pb.Start(func(err error) { assert.NoError(t, err); ready++ })
	settle(t, func() bool { return ready == 2 }, a, b)

	require.NoError(t, pa.UpsertParticipant(a.Self(), "alice"))
	settle(t, func() bool { _, ok := pb.Score(a.Self()); return ok }, a, b)

	require.NoError(t, pa.UpdateScore(a.Self(), 30))
	settle(t, func() bool { e, _ := pb.Score(a.Self()); return e.Score == 30 }, a, b)
	e, _ := pb.Score(a.Self())
	assert.Equal(t, "alice", e.Name)
}

func TestQUICTransport(t *testing.T) {
	if testing.Short() {
		t.Skip("starts a QUIC listener")
	}
	cfg := config.Default().Relay
	srv := relay.NewServer(cfg, log.Nop())
	tlsConf, err := transport.SelfSignedTLS()
	require.NoError(t, err)
	ln, err := transport.ListenQUIC("127.0.0.1:0", tlsConf, srv, transport.OptionsFrom(cfg), log.Nop())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		_ = ln.Close()
	})
	go func() { _ = ln.Serve(ctx) }()

	dial := func(name string) *Client {
		c, err := Connect(ctx, config.ClientConfig{Transport: "quic", URL: ln.Addr().String(), Room: "arena", Name: name}, log.Nop())
		require.NoError(t, err)
		t.Cleanup(func() { _ = c.Close() })
		return c
	}
	a := dial("a")
	b := dial("b")
	typeID := resolve(t, a, models.ShootFxComponent)
	resolve(t, b, models.ShootFxComponent)

	rb := &recorder{names: []string{models.ShootFxComponent}}
	b.RegisterSystem(rb)
	a.AddComponent(typeID, a.Self(), []byte("{}"), nil)
	settle(t, func() bool { n, _ := rb.counts(); return n == 1 }, a, b)
	assert.Equal(t, a.ParticipantID(), rb.updated[0].Writer)
}

func TestConnectRejectsUnknownTransport(t *testing.T) {
	_, err := Connect(context.Background(), config.ClientConfig{Transport: "carrier-pigeon"}, log.Nop())
	assert.ErrorIs(t, err, ErrUnsupportedTransport)
}
