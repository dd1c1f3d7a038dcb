// Package app wires all ringsock subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run starts capture and serves clients until the context is
// cancelled or the audio host ends the session, then tears everything down in
// order.
//
// For testing, inject doubles via functional options (WithHost,
// WithListeners, WithMeterProvider). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/ringsock/internal/config"
	"github.com/MrWong99/ringsock/internal/health"
	"github.com/MrWong99/ringsock/internal/history"
	"github.com/MrWong99/ringsock/internal/observe"
	"github.com/MrWong99/ringsock/internal/recorder"
	"github.com/MrWong99/ringsock/internal/resilience"
	"github.com/MrWong99/ringsock/internal/server"
	"github.com/MrWong99/ringsock/internal/stream"
	"github.com/MrWong99/ringsock/pkg/audio"
	"github.com/MrWong99/ringsock/pkg/audio/codec"
	"github.com/MrWong99/ringsock/pkg/audio/producer"
	"github.com/MrWong99/ringsock/pkg/audio/ring"
)

// ErrSessionEnded is returned by [App.Run] when the audio host terminated the
// session on its own. Callers treat it as a clean exit.
var ErrSessionEnded = errors.New("app: audio host ended the session")

// stallTimeout is how long the producer or pump may stop advancing before
// /readyz reports failure.
const stallTimeout = 5 * time.Second

// httpShutdownTimeout bounds graceful HTTP shutdown.
const httpShutdownTimeout = 5 * time.Second

// Listeners carries pre-opened listeners. A nil field makes New listen on the
// configured address.
type Listeners struct {
	Command net.Listener
	Stream  net.Listener
	HTTP    net.Listener
}

// App owns all subsystem lifetimes.
type App struct {
	cfg      *config.Config
	registry *config.Registry
	mp       metric.MeterProvider
	metrics  *observe.Metrics

	// Subsystems, initialised in New and torn down at the end of Run.
	host     audio.Host
	rb       *ring.Buffer
	producer *producer.Producer
	hist     *history.History
	rec      *recorder.Recorder
	recGuard *resilience.GuardedSink
	pump     *stream.Pump
	monitor  *stream.Monitor
	health   *health.Handler

	cmdSrv    *server.CommandServer
	streamSrv *server.StreamServer
	httpH     http.Handler
	listeners Listeners
	ringReg   metric.Registration

	startedAt atomic.Int64 // unix nanos; zero until Run

	// closers release resources acquired in New if Run never takes
	// ownership of them.
	closers   []func() error
	closeOnce sync.Once
	ran       atomic.Bool
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithHost injects an audio host instead of creating one via the registry.
func WithHost(h audio.Host) Option {
	return func(a *App) { a.host = h }
}

// WithRegistry sets the host registry used when no host is injected.
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithMeterProvider records metrics on mp instead of the global provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(a *App) { a.mp = mp }
}

// WithListeners injects pre-opened listeners.
func WithListeners(l Listeners) Option {
	return func(a *App) { a.listeners = l }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together in dependency order:
// host, ring, producer, history and recorder sinks, pump, monitor, servers.
// Nothing runs until [App.Run] is called.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (_ *App, err error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	// ── 1. Metrics ───────────────────────────────────────────────────────
	if a.mp != nil {
		if a.metrics, err = observe.NewMetrics(a.mp); err != nil {
			return nil, fmt.Errorf("app: init metrics: %w", err)
		}
	} else {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 2. Audio host ────────────────────────────────────────────────────
	if err := a.initHost(); err != nil {
		return nil, fmt.Errorf("app: init host: %w", err)
	}

	// ── 3. Ring + producer ───────────────────────────────────────────────
	if err := a.initRing(); err != nil {
		return nil, fmt.Errorf("app: init ring: %w", err)
	}

	// ── 4. Sinks + pump ──────────────────────────────────────────────────
	if err := a.initPump(); err != nil {
		return nil, fmt.Errorf("app: init pump: %w", err)
	}

	// ── 5. Servers ───────────────────────────────────────────────────────
	if err := a.initServers(ctx); err != nil {
		return nil, fmt.Errorf("app: init servers: %w", err)
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initHost() error {
	if a.host == nil {
		if a.registry == nil {
			return errors.New("no host injected and no registry configured")
		}
		h, kind, err := a.createHost()
		if err != nil {
			return err
		}
		if kind != string(a.cfg.Audio.Host) {
			slog.Warn("primary host unavailable, running on fallback",
				"configured", a.cfg.Audio.Host, "using", kind)
		}
		a.host = h
	}
	a.closers = append(a.closers, a.host.Close)

	if a.host.SampleRate() <= 0 || a.host.MaxQuantum() <= 0 {
		return fmt.Errorf("host %q reports invalid format: rate=%d quantum=%d",
			a.host.Name(), a.host.SampleRate(), a.host.MaxQuantum())
	}
	if a.host.SampleRate() != a.cfg.Audio.SampleRate {
		slog.Info("host sample rate differs from config, using host rate",
			"host", a.host.Name(), "host_rate", a.host.SampleRate(), "config_rate", a.cfg.Audio.SampleRate)
	}
	return nil
}

// createHost opens the configured host, then each fallback kind in order.
func (a *App) createHost() (audio.Host, string, error) {
	kinds := append([]config.HostKind{a.cfg.Audio.Host}, a.cfg.Audio.Fallback...)
	cands := make([]resilience.Candidate[config.HostKind], len(kinds))
	for i, k := range kinds {
		cands[i] = resilience.Candidate[config.HostKind]{Name: string(k), Value: k}
	}
	return resilience.FirstOf(cands, func(k config.HostKind) (audio.Host, error) {
		ac := a.cfg.Audio
		ac.Host = k
		return a.registry.CreateHost(ac)
	})
}

func (a *App) initRing() error {
	quantum := a.host.MaxQuantum()
	capacity := a.cfg.RingCapacity(a.host.SampleRate(), quantum)

	rb, err := ring.New(capacity, ring.WithMinQuantum(quantum))
	if err != nil {
		return err
	}
	a.rb = rb

	p, err := producer.New(rb, quantum)
	if err != nil {
		return err
	}
	a.producer = p

	reg, err := a.metrics.RegisterRing(rb.Stats)
	if err != nil {
		return err
	}
	a.ringReg = reg
	a.closers = append(a.closers, reg.Unregister)

	slog.Info("ring buffer ready",
		"capacity_frames", capacity,
		"max_quantum", quantum,
		"headroom", time.Duration(float64(capacity)/float64(a.host.SampleRate())*float64(time.Second)).Round(time.Millisecond),
	)
	return nil
}

func (a *App) initPump() error {
	rate := a.host.SampleRate()

	hist, err := history.New(a.cfg.History.Seconds, rate, a.host.MaxQuantum())
	if err != nil {
		return err
	}
	a.hist = hist
	sinks := []stream.Sink{hist}

	if a.cfg.Recorder.Enabled {
		rec, err := recorder.New(a.cfg.Recorder.Dir, rate, a.cfg.Recorder.Rotate, recorder.WithMetrics(a.metrics))
		if err != nil {
			return err
		}
		a.rec = rec
		a.closers = append(a.closers, rec.Close)
		a.recGuard = resilience.NewGuardedSink(rec, resilience.BreakerConfig{
			Name:         "recorder",
			MaxFailures:  a.cfg.Recorder.MaxFailures,
			ResetTimeout: a.cfg.Recorder.RetryAfter,
		})
		sinks = append(sinks, a.recGuard)
	}

	// Fail fast on an encoder the host rate cannot serve.
	if _, err := a.newEncoder(); err != nil {
		return err
	}

	a.pump, err = stream.NewPump(a.rb, stream.Config{
		DrainInterval: a.cfg.Stream.DrainInterval,
		ChunkFrames:   a.cfg.Stream.ChunkFrames,
		QueueSize:     a.cfg.Stream.ClientQueue,
	}, stream.WithSinks(sinks...), stream.WithMetrics(a.metrics))
	if err != nil {
		return err
	}
	a.monitor = stream.NewMonitor(a.rb.Stats, a.cfg.Monitor.Interval)
	return nil
}

func (a *App) newEncoder() (codec.Encoder, error) {
	return codec.New(a.cfg.Stream.Encoding, a.host.SampleRate())
}

func (a *App) initServers(ctx context.Context) error {
	opts := []server.Option{
		server.WithMetrics(a.metrics),
		server.WithWriteTimeout(a.cfg.Stream.WriteTimeout),
	}

	var err error
	if a.cmdSrv, err = server.NewCommandServer(a.hist, opts...); err != nil {
		return err
	}
	if a.streamSrv, err = server.NewStreamServer(a.pump, a.newEncoder, opts...); err != nil {
		return err
	}

	if a.listeners.Command, err = a.listen(ctx, a.listeners.Command, a.cfg.Server.ListenAddr); err != nil {
		return fmt.Errorf("command listener: %w", err)
	}
	if a.listeners.Stream, err = a.listen(ctx, a.listeners.Stream, a.cfg.Server.StreamAddr); err != nil {
		return fmt.Errorf("stream listener: %w", err)
	}

	a.health = health.New(
		health.HostRunning(a.host.Done()),
		health.Advancing("producer", a.producer.Quanta, stallTimeout),
		health.Advancing("pump", a.pump.Passes, stallTimeout),
	).WithDetails(func() any { return a.Stats() })

	if a.listeners.HTTP == nil && !a.cfg.Server.HTTPEnabled() {
		return nil
	}
	ws, err := server.NewWebSocketHandler(a.pump, a.newEncoder, opts...)
	if err != nil {
		return err
	}
	a.httpH = server.NewHTTPHandler(server.HTTPConfig{
		Health:    a.health,
		Stats:     func() any { return a.Stats() },
		WebSocket: ws,
		Observe:   a.metrics,
	})
	if a.listeners.HTTP, err = a.listen(ctx, a.listeners.HTTP, a.cfg.Server.HTTPAddr); err != nil {
		return fmt.Errorf("http listener: %w", err)
	}
	return nil
}

// listen returns ln when non-nil, otherwise a new TCP listener on addr. The
// listener is closed by Close if Run never starts.
func (a *App) listen(ctx context.Context, ln net.Listener, addr string) (net.Listener, error) {
	if ln == nil {
		var lc net.ListenConfig
		var err error
		if ln, err = lc.Listen(ctx, "tcp", addr); err != nil {
			return nil, err
		}
	}
	a.closers = append(a.closers, func() error {
		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			return err
		}
		return nil
	})
	return ln, nil
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts capture and serves clients. It blocks until ctx is cancelled, the
// host closes its Done channel, or a component fails. Shutdown is cooperative:
// the producer stops accepting quanta, the host is closed, the pump drains
// what is left and closes its sinks, and finally the servers stop.
//
// Run returns nil after a requested shutdown and [ErrSessionEnded] when the
// host ended the session. Run may only be called once.
func (a *App) Run(ctx context.Context) error {
	if !a.ran.CompareAndSwap(false, true) {
		return errors.New("app: Run called twice")
	}
	startedAt := time.Now()
	a.startedAt.Store(startedAt.UnixNano())

	if err := a.host.Start(a.producer); err != nil {
		_ = a.Close()
		return fmt.Errorf("app: start host %q: %w", a.host.Name(), err)
	}
	slog.Info("capture started",
		"host", a.host.Name(),
		"format", audio.Format{SampleRate: a.host.SampleRate()},
		"max_quantum", a.host.MaxQuantum(),
		"encoding", a.cfg.Stream.Encoding,
	)

	g, gctx := errgroup.WithContext(context.WithoutCancel(ctx))
	pumpCtx, stopPump := context.WithCancel(gctx)
	srvCtx, stopServers := context.WithCancel(gctx)
	defer stopPump()
	defer stopServers()

	pumpDone := make(chan struct{})
	g.Go(func() error {
		defer close(pumpDone)
		return a.pump.Run(pumpCtx)
	})
	g.Go(func() error { return a.monitor.Run(srvCtx) })
	g.Go(func() error { return a.cmdSrv.Serve(srvCtx, a.listeners.Command) })
	g.Go(func() error { return a.streamSrv.Serve(srvCtx, a.listeners.Stream) })
	if a.httpH != nil {
		g.Go(func() error {
			return server.ServeHTTP(srvCtx, a.listeners.HTTP, a.httpH, httpShutdownTimeout)
		})
	}

	var result error
	select {
	case <-ctx.Done():
		slog.Info("shutdown requested")
	case <-a.host.Done():
		slog.Info("audio host ended the session", "host", a.host.Name())
		result = ErrSessionEnded
	case <-gctx.Done():
		slog.Error("component failed, shutting down")
	}

	// ── Teardown, in order ───────────────────────────────────────────────
	a.producer.Stop()
	hostErr := a.host.Close()
	if hostErr != nil {
		slog.Warn("host close error", "err", hostErr)
	}

	stopPump()
	<-pumpDone
	stopServers()
	gerr := g.Wait()

	if err := a.ringReg.Unregister(); err != nil {
		slog.Debug("unregister ring metrics", "err", err)
	}

	st := a.rb.Stats()
	slog.Info("capture stopped",
		"pushed", st.Pushed,
		"popped", st.Popped,
		"dropped", st.Dropped,
		"underflows", st.Underflows,
		"uptime", time.Since(startedAt).Round(time.Millisecond),
	)

	if gerr != nil {
		return errors.Join(gerr, hostErr)
	}
	return result
}

// Close releases resources acquired by New. Run releases them itself; Close
// is for callers that construct an App and then decide not to run it. It is
// safe to call more than once.
func (a *App) Close() error {
	var errs []error
	a.closeOnce.Do(func() {
		for i := len(a.closers) - 1; i >= 0; i-- {
			if err := a.closers[i](); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}

// Reload applies the hot-reloadable parts of a config change.
func (a *App) Reload(d config.ConfigDiff) {
	if d.MonitorIntervalChanged {
		a.monitor.SetInterval(d.NewMonitorInterval)
		slog.Info("monitor interval updated", "interval", d.NewMonitorInterval)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require a restart to take effect", "sections", d.RestartRequired)
	}
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// CommandAddr returns the command socket address.
func (a *App) CommandAddr() string { return a.listeners.Command.Addr().String() }

// StreamAddr returns the live stream socket address.
func (a *App) StreamAddr() string { return a.listeners.Stream.Addr().String() }

// HTTPAddr returns the HTTP address, or "" when HTTP is disabled.
func (a *App) HTTPAddr() string {
	if a.listeners.HTTP == nil {
		return ""
	}
	return a.listeners.HTTP.Addr().String()
}

// Ring returns the capture ring.
func (a *App) Ring() *ring.Buffer { return a.rb }

// History returns the dump history.
func (a *App) History() *history.History { return a.hist }

// Pump returns the consumer pump.
func (a *App) Pump() *stream.Pump { return a.pump }

// Monitor returns the overflow monitor.
func (a *App) Monitor() *stream.Monitor { return a.monitor }
