// Package transport carries relay frames over websocket and QUIC.
package transport

import (
	"context"
	"time"

	"github.com/zeusync/arsync/internal/config"
	"github.com/zeusync/arsync/internal/relay/wire"
)

// SessionPath is the websocket endpoint; room and name are query parameters.
const SessionPath = "/session"

// ALPN is the protocol negotiated on QUIC connections.
const ALPN = "arsync-relay"

// Acceptor takes ownership of an accepted connection and blocks until the
// participant is gone.
type Acceptor interface {
	Serve(ctx context.Context, conn wire.Conn, room, name string) error
}

type Options struct {
	MaxFrameSize int
	WriteTimeout time.Duration
}

func OptionsFrom(cfg config.RelayConfig) Options {
	return Options{MaxFrameSize: cfg.MaxFrameSize, WriteTimeout: cfg.WriteTimeout}
}
