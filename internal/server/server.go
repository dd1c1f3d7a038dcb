// Package server exposes captured audio over the network.
//
// Three transports are provided:
//
//   - [CommandServer] speaks the plain-text command protocol used by existing
//     detector clients (nframes, len, rate, seconds, dump).
//   - [StreamServer] pushes the live stream over TCP as length-prefixed frames.
//   - [NewHTTPHandler] serves metrics, health checks, JSON stats and a
//     websocket live stream.
//
// Every server takes its listener from the caller and returns from Serve when
// the context is cancelled, after closing all client connections.
package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/MrWong99/ringsock/internal/observe"
	"github.com/MrWong99/ringsock/internal/stream"
	"github.com/MrWong99/ringsock/pkg/audio/codec"
)

// Default timeouts.
const (
	DefaultIdleTimeout  = 30 * time.Second
	DefaultWriteTimeout = 2 * time.Second
)

// Subscriber attaches a live client to the consumer pump. [*stream.Pump]
// satisfies it.
type Subscriber interface {
	Subscribe(enc codec.Encoder) (*stream.Subscription, error)
}

// EncoderFactory returns a fresh encoder for one client session. Encoders may
// carry state (Opus does), so sessions never share one.
type EncoderFactory func() (codec.Encoder, error)

// Option configures the servers in this package.
type Option func(*options)

type options struct {
	metrics      *observe.Metrics
	idleTimeout  time.Duration
	writeTimeout time.Duration
}

func newOptions(opts []Option) options {
	o := options{
		idleTimeout:  DefaultIdleTimeout,
		writeTimeout: DefaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	return o
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithIdleTimeout bounds how long a command connection may sit without
// sending a request.
func WithIdleTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.idleTimeout = d
		}
	}
}

// WithWriteTimeout bounds a single write to a client.
func WithWriteTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.writeTimeout = d
		}
	}
}

// connSet tracks open connections so Serve can close them on shutdown.
type connSet struct {
	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

// add registers c. It returns false when the set is already closed, in which
// case the caller must close c itself.
func (s *connSet) add(c net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if s.conns == nil {
		s.conns = make(map[net.Conn]struct{})
	}
	s.conns[c] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *connSet) remove(c net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conns[c]; ok {
		delete(s.conns, c)
		s.wg.Done()
	}
}

// closeAll closes every tracked connection and waits for their handlers.
func (s *connSet) closeAll() {
	s.mu.Lock()
	s.closed = true
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// acceptLoop accepts connections on ln until ctx is cancelled, running handle
// on its own goroutine per connection. It closes ln and every open connection
// before returning. A cancelled context yields a nil error.
func acceptLoop(ctx context.Context, ln net.Listener, handle func(context.Context, net.Conn)) error {
	var conns connSet
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()
	defer conns.closeAll()

	for {
		c, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return err
		}
		if !conns.add(c) {
			_ = c.Close()
			return nil
		}
		go func() {
			defer conns.remove(c)
			defer c.Close()
			handle(ctx, c)
		}()
	}
}
