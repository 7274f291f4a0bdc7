// Package relay is the authoritative session server. It keeps one store per
// room and fans every accepted mutation out to the room's participants.
package relay

import (
	"context"
	"net"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/zeusync/arsync/internal/config"
	"github.com/zeusync/arsync/internal/core/observability/log"
	"github.com/zeusync/arsync/internal/relay/transport"
	"github.com/zeusync/arsync/internal/relay/wire"
)

var ErrServerClosed = errors.New("relay is closed")

type shard struct {
	mu    sync.Mutex
	rooms map[string]*Room
}

// Server routes connections to rooms. Rooms are spread over shards by the
// xxhash of their name and dropped when their last participant leaves.
type Server struct {
	cfg    config.RelayConfig
	logger log.Log
	shards []*shard
	closed atomic.Bool
}

func NewServer(cfg config.RelayConfig, logger log.Log) *Server {
	if logger == nil {
		logger = log.Provide()
	}
	n := max(cfg.Shards, 1)
	s := &Server{
		cfg:    cfg,
		logger: logger.With(log.String("component", "relay")),
		shards: make([]*shard, n),
	}
	for i := range s.shards {
		s.shards[i] = &shard{rooms: make(map[string]*Room)}
	}
	return s
}

func (s *Server) shardFor(room string) *shard {
	return s.shards[xxhash.Sum64String(room)%uint64(len(s.shards))]
}

func (s *Server) acquire(name string) *Room {
	sh := s.shardFor(name)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	r, ok := sh.rooms[name]
	if !ok {
		r = newRoom(name, s.logger)
		sh.rooms[name] = r
		s.logger.Debug("room opened", log.String("room", name))
	}
	r.refs++
	return r
}

func (s *Server) release(r *Room) {
	sh := s.shardFor(r.name)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	r.refs--
	if r.refs == 0 {
		delete(sh.rooms, r.name)
		s.logger.Debug("room closed", log.String("room", r.name))
	}
}

// Room returns the open room called name.
func (s *Server) Room(name string) (*Room, bool) {
	sh := s.shardFor(name)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	r, ok := sh.rooms[name]
	return r, ok
}

// Rooms lists the names of open rooms.
func (s *Server) Rooms() []string {
	out := make([]string, 0)
	for _, sh := range s.shards {
		sh.mu.Lock()
		for name := range sh.rooms {
			out = append(out, name)
		}
		sh.mu.Unlock()
	}
	slices.Sort(out)
	return out
}

// Serve joins conn to room as name and blocks until the connection ends or
// ctx is done. The participant's entities are deleted when it leaves.
func (s *Server) Serve(ctx context.Context, conn wire.Conn, roomName, name string) error {
	if s.closed.Load() {
		_ = conn.Close()
		return ErrServerClosed
	}

	pc := newPeerConn(conn, s.cfg.SendQueue)
	room := s.acquire(roomName)
	defer s.release(room)

	m := room.join(name, pc)
	logger := s.logger.With(
		log.String("conn", pc.id.String()),
		log.String("room", roomName),
		log.Uint32("participant", uint32(m.participant.ID)),
		log.String("remote", conn.RemoteAddr().String()))
	logger.Debug("connection accepted")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pc.writeLoop(gctx) })
	g.Go(func() error {
		for {
			f, err := conn.ReadFrame()
			if errors.Is(err, wire.ErrInvalidFrame) {
				logger.Debug("dropping invalid frame", log.Error(err))
				continue
			}
			if err != nil {
				return err
			}
			room.handle(m, f)
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		return conn.Close()
	})
	err := g.Wait()

	room.leave(m)
	logger.Debug("connection closed", log.Error(err))
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// Handler serves websocket sessions on transport.SessionPath.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(transport.SessionPath, transport.NewWebSocketHandler(s, transport.OptionsFrom(s.cfg), s.logger))
	return mux
}

// Run serves websocket and, when configured, QUIC until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	var quicListener *transport.QUICListener
	if s.cfg.QUICAddr != "" {
		tlsConf, err := transport.SelfSignedTLS()
		if err != nil {
			return err
		}
		quicListener, err = transport.ListenQUIC(s.cfg.QUICAddr, tlsConf, s, transport.OptionsFrom(s.cfg), s.logger)
		if err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	httpServer := &http.Server{
		Addr:              s.cfg.WebSocketAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return gctx },
	}

	g.Go(func() error {
		s.logger.Info("websocket relay listening", log.String("addr", s.cfg.WebSocketAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "websocket listener")
		}
		return nil
	})
	if quicListener != nil {
		g.Go(func() error { return quicListener.Serve(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		s.closed.Store(true)
		if quicListener != nil {
			_ = quicListener.Close()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), max(s.cfg.WriteTimeout, time.Second))
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	s.logger.Info("relay stopped")
	return err
}

// peerConn is the outbound side of one connection. Frames are queued by the
// room and written by writeLoop; a full queue disconnects the participant.
type peerConn struct {
	id     uuid.UUID
	conn   wire.Conn
	out    chan wire.Frame
	kicked chan struct{}
	once   sync.Once
}

func newPeerConn(conn wire.Conn, queue int) *peerConn {
	return &peerConn{
		id:     uuid.New(),
		conn:   conn,
		out:    make(chan wire.Frame, max(queue, 1)),
		kicked: make(chan struct{}),
	}
}

func (c *peerConn) Send(f wire.Frame) {
	select {
	case c.out <- f:
	default:
		c.once.Do(func() { close(c.kicked) })
	}
}

func (c *peerConn) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.kicked:
			return wire.ErrSendQueueFull
		case f := <-c.out:
			if err := c.conn.WriteFrame(f); err != nil {
				return errors.Wrap(err, "write frame")
			}
		}
	}
}
