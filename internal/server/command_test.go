package server

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/ringsock/internal/history"
	"github.com/MrWong99/ringsock/internal/observe"
	"github.com/MrWong99/ringsock/pkg/audio"
)

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	require.NoError(t, err)
	return m
}

func seq(n int) []audio.Frame {
	out := make([]audio.Frame, n)
	for i := range out {
		out[i] = audio.Frame{L: float32(i), R: float32(-i)}
	}
	return out
}

// listen starts serve on a loopback listener and stops it on cleanup.
func listen(t *testing.T, serve func(context.Context, net.Listener) error) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("Serve did not return after cancel")
		}
	})
	return ln.Addr().String()
}

func newCommandServer(t *testing.T, frames int, opts ...Option) (string, *history.History) {
	t.Helper()
	h, err := history.New(1, 64, 16) // four blocks of 16 frames
	require.NoError(t, err)
	if frames > 0 {
		require.NoError(t, h.Write(seq(frames)))
	}
	srv, err := NewCommandServer(h, append([]Option{WithMetrics(testMetrics(t))}, opts...)...)
	require.NoError(t, err)
	return listen(t, srv.Serve), h
}

func TestSplitCommands(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want []string
	}{
		{"nframes", []string{"nframes"}},
		{"nframes\n", []string{"nframes"}},
		{"nframeslen", []string{"nframes", "len"}},
		{"rate seconds\r\ndump", []string{"rate", "seconds", "dump"}},
		{"  ", nil},
		{"hello len", []string{"hello", "len"}},
		{"lenx", []string{"len", "x"}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, splitCommands([]byte(tt.in)), "input %q", tt.in)
	}
}

func TestNewCommandServer_NilHistory(t *testing.T) {
	t.Parallel()
	_, err := NewCommandServer(nil)
	assert.Error(t, err)
}

func TestCommandServer_Queries(t *testing.T) {
	t.Parallel()
	addr, _ := newCommandServer(t, 40)

	c, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer c.Close()

	ask := func(cmd string) string {
		t.Helper()
		_, err := io.WriteString(c, cmd)
		require.NoError(t, err)
		buf := make([]byte, 256)
		n, err := c.Read(buf)
		require.NoError(t, err)
		return string(buf[:n])
	}

	assert.Equal(t, "16\n", ask("nframes"))
	assert.Equal(t, "2\n", ask("len"))
	assert.Equal(t, "64\n", ask("rate"))
	assert.Equal(t, "1\n", ask("seconds"))
	assert.Equal(t, errUnknownCommand, ask("bogus"))
}

func TestCommandServer_DumpHonoursLen(t *testing.T) {
	t.Parallel()
	addr, h := newCommandServer(t, 32)

	c, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer c.Close()

	_, err = io.WriteString(c, "len")
	require.NoError(t, err)
	buf := make([]byte, 256)
	n, err := c.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "2\n", string(buf[:n]))

	// More audio arrives between len and dump; the reply stays at two blocks.
	require.NoError(t, h.Write(seq(16)))

	_, err = io.WriteString(c, "dump")
	require.NoError(t, err)
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	raw, err := io.ReadAll(c)
	require.NoError(t, err, "server closes after dump")
	assert.Len(t, raw, 2*16*audio.FrameSize)

	got, err := audio.DecodeFloat32LE(raw)
	require.NoError(t, err)
	want := append(seq(32)[16:], seq(16)...)
	assert.Equal(t, want, got, "most recent blocks")
}

func TestCommandServer_DumpWithoutLen(t *testing.T) {
	t.Parallel()
	addr, _ := newCommandServer(t, 100) // capacity is four blocks

	c, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer c.Close()

	_, err = io.WriteString(c, "dump")
	require.NoError(t, err)
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	raw, err := io.ReadAll(c)
	require.NoError(t, err)
	assert.Len(t, raw, 4*16*audio.FrameSize)
}

func TestCommandServer_IdleTimeout(t *testing.T) {
	t.Parallel()
	addr, _ := newCommandServer(t, 0, WithIdleTimeout(50*time.Millisecond))

	c, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = c.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
}

func TestFetchDump(t *testing.T) {
	t.Parallel()
	addr, _ := newCommandServer(t, 48)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	d, err := FetchDump(ctx, addr)
	require.NoError(t, err)

	assert.Equal(t, 64, d.SampleRate)
	assert.Equal(t, 16, d.BlockFrames)
	assert.Equal(t, 1, d.Seconds)
	assert.Equal(t, 3, d.Blocks)
	assert.Equal(t, seq(48), d.Frames)
}

func TestFetchDump_DialError(t *testing.T) {
	t.Parallel()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	_, err = FetchDump(context.Background(), addr)
	assert.Error(t, err)
}
