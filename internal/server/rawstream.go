package server

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/MrWong99/ringsock/internal/observe"
	"github.com/MrWong99/ringsock/internal/stream"
)

// transportTCP labels metrics and spans for [StreamServer] sessions.
const transportTCP = "tcp"

// StreamServer pushes the live stream to one TCP client at a time. Each
// payload is written as a 4-byte big-endian length followed by the payload
// bytes. A client that connects while another is attached receives a single
// zero-length frame and is disconnected.
type StreamServer struct {
	pump       Subscriber
	newEncoder EncoderFactory
	opts       options
}

// NewStreamServer returns a stream server that subscribes to pump with
// encoders built by newEncoder.
func NewStreamServer(pump Subscriber, newEncoder EncoderFactory, opts ...Option) (*StreamServer, error) {
	if pump == nil {
		return nil, errors.New("server: pump is nil")
	}
	if newEncoder == nil {
		return nil, errors.New("server: encoder factory is nil")
	}
	return &StreamServer{pump: pump, newEncoder: newEncoder, opts: newOptions(opts)}, nil
}

// Serve accepts connections on ln until ctx is cancelled.
func (s *StreamServer) Serve(ctx context.Context, ln net.Listener) error {
	slog.Info("stream server listening", "addr", ln.Addr().String())
	return acceptLoop(ctx, ln, s.handle)
}

func (s *StreamServer) handle(ctx context.Context, c net.Conn) {
	remote := c.RemoteAddr().String()

	enc, err := s.newEncoder()
	if err != nil {
		slog.Error("stream: create encoder", "remote", remote, "err", err)
		return
	}
	sub, err := s.pump.Subscribe(enc)
	if err != nil {
		status := "error"
		if errors.Is(err, stream.ErrBusy) {
			status = "busy"
			_ = c.SetWriteDeadline(time.Now().Add(s.opts.writeTimeout))
			_ = writeFrame(c, nil)
		}
		s.opts.metrics.RecordClientSession(ctx, transportTCP, status)
		slog.Info("stream client rejected", "remote", remote, "reason", err)
		return
	}
	defer sub.Close()

	ctx, span := observe.StartClientSpan(ctx, transportTCP, sub.ID, sub.Encoding(), remote)
	log := observe.Logger(ctx).With("session_id", sub.ID, "remote", remote, "encoding", sub.Encoding())

	s.opts.metrics.RecordClientSession(ctx, transportTCP, "accepted")
	s.opts.metrics.ActiveClients.Add(ctx, 1)
	defer s.opts.metrics.ActiveClients.Add(context.WithoutCancel(ctx), -1)
	log.Info("stream client connected")

	// The client never sends; a read returning means it hung up.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		_, _ = io.Copy(io.Discard, c)
		cancel()
	}()

	var sent int64
	err = s.forward(ctx, c, sub, &sent)
	observe.EndClientSpan(span, sent, sub.Dropped(), err)
	if err != nil {
		log.Info("stream client disconnected", "bytes", sent, "dropped", sub.Dropped(), "err", err)
		return
	}
	log.Info("stream client disconnected", "bytes", sent, "dropped", sub.Dropped())
}

// forward copies payloads from sub to c until the subscription ends, ctx
// is cancelled or a write fails.
func (s *StreamServer) forward(ctx context.Context, c net.Conn, sub *stream.Subscription, sent *int64) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case payload, ok := <-sub.C():
			if !ok {
				return nil
			}
			_ = c.SetWriteDeadline(time.Now().Add(s.opts.writeTimeout))
			if err := writeFrame(c, payload); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			n := 4 + len(payload)
			*sent += int64(n)
			s.opts.metrics.RecordBytesSent(ctx, transportTCP, n)
		}
	}
}

// writeFrame writes one length-prefixed frame.
func writeFrame(w io.Writer, payload []byte) error {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	bufs := net.Buffers{hdr[:], payload}
	_, err := bufs.WriteTo(w)
	return err
}

// ReadFrame reads one length-prefixed frame written by [StreamServer]. A
// zero-length frame is returned as an empty, non-nil slice.
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	payload := make([]byte, binary.BigEndian.Uint32(hdr[:]))
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}
