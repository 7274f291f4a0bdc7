package transport

import (
	"context"
	"crypto/tls"
	"net"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/quic-go/quic-go"

	"github.com/zeusync/arsync/internal/core/observability/log"
	"github.com/zeusync/arsync/internal/relay/wire"
)

const handshakeTimeout = 10 * time.Second

func quicConfig() *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:        30 * time.Second,
		KeepAlivePeriod:       10 * time.Second,
		HandshakeIdleTimeout:  handshakeTimeout,
		MaxIncomingStreams:    1,
		MaxIncomingUniStreams: -1,
	}
}

// QUICListener accepts relay connections over QUIC. Each connection carries
// one bidirectional stream whose first frame is a hello naming the room.
type QUICListener struct {
	listener *quic.Listener
	acceptor Acceptor
	opts     Options
	logger   log.Log
	closed   atomic.Bool
}

func ListenQUIC(addr string, tlsConf *tls.Config, a Acceptor, opts Options, logger log.Log) (*QUICListener, error) {
	if logger == nil {
		logger = log.Provide()
	}
	listener, err := quic.ListenAddr(addr, tlsConf, quicConfig())
	if err != nil {
		return nil, errors.Wrap(err, "failed to start QUIC listener")
	}
	return &QUICListener{
		listener: listener,
		acceptor: a,
		opts:     opts,
		logger:   logger.With(log.String("transport", "quic")),
	}, nil
}

func (l *QUICListener) Addr() net.Addr { return l.listener.Addr() }

// Serve accepts connections until ctx is done or the listener is closed.
func (l *QUICListener) Serve(ctx context.Context) error {
	l.logger.Info("QUIC relay listening", log.String("addr", l.Addr().String()))
	for {
		conn, err := l.listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || l.closed.Load() {
				return nil
			}
			return errors.Wrap(err, "accept QUIC connection")
		}
		go l.handle(ctx, conn)
	}
}

func (l *QUICListener) handle(ctx context.Context, conn *quic.Conn) {
	logger := l.logger.With(log.String("remote", conn.RemoteAddr().String()))

	acceptCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	stream, err := conn.AcceptStream(acceptCtx)
	cancel()
	if err != nil {
		logger.Debug("no stream opened", log.Error(err))
		_ = conn.CloseWithError(0, "no stream")
		return
	}

	fc := newQUICConn(conn, stream, l.opts)
	hello, err := fc.ReadFrame()
	if err == nil && (hello.Type != wire.FrameHello || hello.Room == "") {
		err = wire.ErrHandshake
	}
	if err != nil {
		logger.Debug("handshake failed", log.Error(err))
		_ = fc.WriteFrame(wire.Frame{Type: wire.FrameResult, Error: wire.NewError(wire.ErrHandshake)})
		_ = fc.Close()
		return
	}

	if err := l.acceptor.Serve(ctx, fc, hello.Room, hello.Name); err != nil {
		logger.Debug("connection ended", log.Error(err))
	}
}

func (l *QUICListener) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	return l.listener.Close()
}

// DialQUIC joins room on the relay at addr as name.
func DialQUIC(ctx context.Context, addr, room, name string, tlsConf *tls.Config, opts Options) (wire.Conn, error) {
	conn, err := quic.DialAddr(ctx, addr, tlsConf, quicConfig())
	if err != nil {
		return nil, errors.Wrap(err, "dial QUIC relay")
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "no stream")
		return nil, errors.Wrap(err, "open QUIC stream")
	}
	fc := newQUICConn(conn, stream, opts)
	if err := fc.WriteFrame(wire.Frame{Type: wire.FrameHello, Room: room, Name: name}); err != nil {
		_ = fc.Close()
		return nil, errors.Wrap(err, "send hello")
	}
	return fc, nil
}

// quicStream closes the whole connection with its only stream.
type quicStream struct {
	stream       *quic.Stream
	conn         *quic.Conn
	writeTimeout time.Duration
}

func newQUICConn(conn *quic.Conn, stream *quic.Stream, opts Options) *wire.StreamConn {
	s := &quicStream{stream: stream, conn: conn, writeTimeout: opts.WriteTimeout}
	return wire.NewStreamConn(s, conn.RemoteAddr(), opts.MaxFrameSize)
}

func (s *quicStream) Read(p []byte) (int, error) { return s.stream.Read(p) }

func (s *quicStream) Write(p []byte) (int, error) {
	if s.writeTimeout > 0 {
		_ = s.stream.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	return s.stream.Write(p)
}

func (s *quicStream) Close() error {
	_ = s.stream.Close()
	return s.conn.CloseWithError(0, "closed")
}
