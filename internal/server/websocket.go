package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"

	"github.com/MrWong99/ringsock/internal/observe"
	"github.com/MrWong99/ringsock/internal/stream"
)

// transportWS labels metrics and spans for websocket sessions.
const transportWS = "websocket"

// WebSocketHandler streams the live audio to one websocket client at a time,
// one binary message per payload. While another client is attached it
// answers 503 without upgrading.
type WebSocketHandler struct {
	pump       Subscriber
	newEncoder EncoderFactory
	opts       options
}

// NewWebSocketHandler returns a handler that subscribes to pump with encoders
// built by newEncoder.
func NewWebSocketHandler(pump Subscriber, newEncoder EncoderFactory, opts ...Option) (*WebSocketHandler, error) {
	if pump == nil {
		return nil, errors.New("server: pump is nil")
	}
	if newEncoder == nil {
		return nil, errors.New("server: encoder factory is nil")
	}
	return &WebSocketHandler{pump: pump, newEncoder: newEncoder, opts: newOptions(opts)}, nil
}

// ServeHTTP implements [http.Handler].
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	enc, err := h.newEncoder()
	if err != nil {
		slog.Error("websocket: create encoder", "remote", r.RemoteAddr, "err", err)
		http.Error(w, "encoder unavailable", http.StatusInternalServerError)
		return
	}
	sub, err := h.pump.Subscribe(enc)
	if err != nil {
		status := "error"
		if errors.Is(err, stream.ErrBusy) {
			status = "busy"
		}
		h.opts.metrics.RecordClientSession(ctx, transportWS, status)
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	defer sub.Close()

	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		// Accept has already written the HTTP error.
		slog.Debug("websocket: accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	defer c.CloseNow()

	ctx, span := observe.StartClientSpan(ctx, transportWS, sub.ID, sub.Encoding(), r.RemoteAddr)
	var (
		sent    int64
		sessErr error
	)
	defer func() { observe.EndClientSpan(span, sent, sub.Dropped(), sessErr) }()
	log := observe.Logger(ctx).With("session_id", sub.ID, "remote", r.RemoteAddr, "encoding", sub.Encoding())

	h.opts.metrics.RecordClientSession(ctx, transportWS, "accepted")
	h.opts.metrics.ActiveClients.Add(ctx, 1)
	defer h.opts.metrics.ActiveClients.Add(context.WithoutCancel(ctx), -1)
	log.Info("websocket client connected")

	// Clients only send control frames; CloseRead handles them and cancels
	// ctx when the peer goes away.
	ctx = c.CloseRead(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info("websocket client disconnected", "bytes", sent, "dropped", sub.Dropped())
			return
		case payload, ok := <-sub.C():
			if !ok {
				_ = c.Close(websocket.StatusGoingAway, "server shutting down")
				log.Info("websocket client disconnected", "bytes", sent, "dropped", sub.Dropped())
				return
			}
			wctx, cancel := context.WithTimeout(ctx, h.opts.writeTimeout)
			err := c.Write(wctx, websocket.MessageBinary, payload)
			cancel()
			if err != nil {
				if ctx.Err() == nil {
					sessErr = err
				}
				log.Info("websocket client disconnected", "bytes", sent, "dropped", sub.Dropped(), "err", err)
				return
			}
			sent += int64(len(payload))
			h.opts.metrics.RecordBytesSent(ctx, transportWS, len(payload))
		}
	}
}
