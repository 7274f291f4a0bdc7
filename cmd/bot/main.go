// Command bot joins a relay room as a headless player. It runs the same
// replication systems and gameplay controllers as a real client and shoots
// whatever hostiles come near.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zeusync/arsync/internal/actions"
	"github.com/zeusync/arsync/internal/config"
	"github.com/zeusync/arsync/internal/core/events"
	"github.com/zeusync/arsync/internal/core/events/bus"
	"github.com/zeusync/arsync/internal/core/observability/log"
	"github.com/zeusync/arsync/internal/core/session/remote"
	"github.com/zeusync/arsync/internal/gameplay"
	"github.com/zeusync/arsync/internal/injector"
	"github.com/zeusync/arsync/internal/replication/hostiles"
	"github.com/zeusync/arsync/internal/replication/participants"
)

// shootRange is how close a hostile must get before the bot fires at it.
const shootRange = 1.5

func main() {
	configPath := flag.String("config", "", "path to a .yaml or .toml config file")
	room := flag.String("room", "", "room to join, overrides client.room")
	name := flag.String("name", "", "player name, overrides client.name")
	start := flag.Bool("start", false, "start the game once joined")
	flag.Parse()

	env, err := injector.InitializeEnv(injector.ConfigPath(*configPath))
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error loading config:", err)
		os.Exit(1)
	}
	defer func() { _ = env.Logger.Sync() }()

	cfg := env.Config
	if *room != "" {
		cfg.Client.Room = *room
	}
	if *name != "" {
		cfg.Client.Name = *name
	}
	cfg.Client.StartGame = cfg.Client.StartGame || *start

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if cfg.Client.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Client.Duration)
		defer cancel()
	}

	if err = run(ctx, cfg, env.Logger); err != nil {
		env.Logger.Error("bot stopped", log.Error(err))
		os.Exit(1)
	}
}

type bot struct {
	client   *remote.Client
	bus      bus.EventBus
	hostiles *hostiles.System
	parts    *participants.System
	channel  *actions.Channel
	director *gameplay.Director
	match    *gameplay.Match
	board    *gameplay.Scoreboard
	logger   log.Log
}

func run(ctx context.Context, cfg *config.Config, logger log.Log) error {
	client, err := remote.Connect(ctx, cfg.Client, logger)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	b, err := newBot(cfg.Game, client, logger)
	if err != nil {
		return err
	}
	defer b.close()

	if err = b.ready(ctx); err != nil {
		return err
	}
	b.logger.Info("joined room",
		log.String("room", cfg.Client.Room),
		log.Uint32("participant", uint32(client.ParticipantID())),
		log.Int("participants", len(client.Participants())))

	if cfg.Client.StartGame {
		if err = b.channel.BroadcastGameState(true); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.loop(gctx, cfg.Game.TickRate) })
	g.Go(func() error {
		<-gctx.Done()
		return client.Close()
	})
	if err = g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}

	for _, e := range b.board.Drain() {
		b.logger.Info("final score", log.String("name", e.Name), log.Int("score", e.Score))
	}
	m := b.bus.GetMetrics()
	b.logger.Info("event bus totals",
		log.Uint64("published", m.Published),
		log.Uint64("delivered", m.DeliveredHandlers),
		log.Uint64("errors", m.Errors))
	return nil
}

func newBot(cfg config.GameConfig, client *remote.Client, logger log.Log) (*bot, error) {
	eb := bus.New()
	b := &bot{client: client, bus: eb, logger: logger.With(log.String("bot", client.Name()))}
	eb.AddObserver(busLog{logger: b.logger})

	var err error
	if b.hostiles, err = hostiles.New(client, eb, logger); err != nil {
		return nil, err
	}
	if b.parts, err = participants.New(client, eb, logger); err != nil {
		return nil, err
	}
	b.channel = actions.New(client, eb, logger)
	if b.director, err = gameplay.NewDirector(cfg, client, b.hostiles, eb, logger); err != nil {
		return nil, err
	}
	if b.match, err = gameplay.NewMatch(cfg, b.parts, b.channel, eb, logger); err != nil {
		return nil, err
	}
	if b.board, err = gameplay.NewScoreboard(eb); err != nil {
		return nil, err
	}

	self := client.Self()
	b.channel.SetLocalEntity(self)
	b.director.SetLocalEntity(self)
	b.director.OnPlayerHit(b.match.Hit)
	b.match.SetLocalEntity(self)

	if _, err = bus.On(eb, events.GameOverType, func(e events.GameOver) {
		b.logger.Info("game over", log.Uint32("requester", uint32(e.Requester)), log.Int("score", b.match.Score()))
	}); err != nil {
		return nil, err
	}
	if _, err = bus.On(eb, events.ScoreChangedType, func(e events.ScoreChanged) {
		b.logger.Debug("score changed", log.String("name", e.Name), log.Int("score", e.Score))
	}); err != nil {
		return nil, err
	}
	return b, nil
}

// ready resolves every system's component types, registers the bot as a
// participant and seeds its scoreboard.
func (b *bot) ready(ctx context.Context) error {
	pending := 2
	var startErr error
	onReady := func(err error) {
		pending--
		if err != nil && startErr == nil {
			startErr = err
		}
	}
	b.hostiles.Start(onReady)
	b.parts.Start(onReady)

	for b.client.Pump(); pending > 0; b.client.Pump() {
		if err := b.wait(ctx); err != nil {
			return err
		}
	}
	if startErr != nil {
		return startErr
	}
	if err := b.parts.UpsertParticipant(b.client.Self(), b.client.Name()); err != nil {
		return err
	}

	loaded := false
	var loadErr error
	if err := b.board.Load(b.parts, func(err error) { loaded, loadErr = true, err }); err != nil {
		return err
	}
	for b.client.Pump(); !loaded; b.client.Pump() {
		if err := b.wait(ctx); err != nil {
			return err
		}
	}
	return loadErr
}

func (b *bot) wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-b.client.Done():
		return b.client.Err()
	case <-b.client.Notify():
		return nil
	}
}

func (b *bot) loop(ctx context.Context, tickRate time.Duration) error {
	ticker := time.NewTicker(tickRate)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-b.client.Done():
			return b.client.Err()
		case <-b.client.Notify():
			b.client.Pump()
		case now := <-ticker.C:
			b.director.Tick(now.Sub(last))
			last = now
			b.shoot()
			b.client.Pump()
		}
	}
}

func (b *bot) shoot() {
	if !b.match.Running() {
		return
	}
	self, ok := b.client.EntityPose(b.client.Self())
	if !ok {
		return
	}
	for _, a := range b.director.Actors() {
		if a.Pos.Distance(self.Position) > shootRange || rand.Float32() > 0.5 {
			continue
		}
		if b.director.Shoot(a.ID, a.Pos) {
			b.match.Kill()
		}
		if err := b.parts.SyncShootFx(b.client.Self(), self.Position, a.Pos); err != nil {
			b.logger.Debug("shoot fx sync failed", log.Error(err))
		}
		return
	}
}

// busLog reports failing event handlers.
type busLog struct{ logger log.Log }

func (busLog) OnPublish(string, bus.Event) {}

func (o busLog) OnDelivered(eventType string, handlers int, err error, durationMicros int64) {
	if err == nil {
		return
	}
	o.logger.Warn("event handler failed",
		log.String("event", eventType),
		log.Int("handlers", handlers),
		log.Int64("micros", durationMicros),
		log.Error(err))
}

func (b *bot) close() {
	b.match.Close()
	b.board.Close()
	_ = b.director.Close()
}
