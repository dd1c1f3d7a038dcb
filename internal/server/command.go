package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/MrWong99/ringsock/internal/history"
)

// Command names understood by [CommandServer].
const (
	CmdNFrames = "nframes"
	CmdLen     = "len"
	CmdRate    = "rate"
	CmdSeconds = "seconds"
	CmdDump    = "dump"
)

// commands is ordered so that no entry is a prefix of a later one.
var commands = []string{CmdNFrames, CmdLen, CmdRate, CmdSeconds, CmdDump}

// errUnknownCommand is the reply for anything that is not a command.
const errUnknownCommand = "error: unknown command\n"

// readBufSize matches the clients' receive size.
const readBufSize = 256

// CommandServer answers the plain-text command protocol on top of a
// [history.History]:
//
//	nframes -> "<frames per block>\n"
//	len     -> "<blocks stored>\n"
//	rate    -> "<sample rate>\n"
//	seconds -> "<history seconds>\n"
//	dump    -> raw interleaved float32 LE bytes, then the connection closes
//
// Commands arrive without terminators. A single read may carry several of
// them, separated by whitespace or simply concatenated. After "len" the
// following "dump" on the same connection sends exactly the number of blocks
// that was announced.
type CommandServer struct {
	hist *history.History
	opts options
}

// NewCommandServer returns a command server backed by hist.
func NewCommandServer(hist *history.History, opts ...Option) (*CommandServer, error) {
	if hist == nil {
		return nil, errors.New("server: history is nil")
	}
	return &CommandServer{hist: hist, opts: newOptions(opts)}, nil
}

// Serve accepts connections on ln until ctx is cancelled.
func (s *CommandServer) Serve(ctx context.Context, ln net.Listener) error {
	slog.Info("command server listening", "addr", ln.Addr().String())
	return acceptLoop(ctx, ln, s.handle)
}

// cmdSession is the per-connection protocol state.
type cmdSession struct {
	// pinned is the block count announced by the last "len", or -1.
	pinned int
}

func (s *CommandServer) handle(ctx context.Context, c net.Conn) {
	log := slog.With("remote", c.RemoteAddr().String())
	log.Debug("command client connected")
	defer log.Debug("command client disconnected")

	sess := cmdSession{pinned: -1}
	buf := make([]byte, readBufSize)
	for {
		_ = c.SetReadDeadline(time.Now().Add(s.opts.idleTimeout))
		n, err := c.Read(buf)
		if n > 0 {
			for _, cmd := range splitCommands(buf[:n]) {
				done, werr := s.exec(ctx, c, &sess, cmd)
				if werr != nil {
					log.Debug("command write failed", "command", cmd, "err", werr)
					return
				}
				if done {
					return
				}
			}
		}
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				log.Debug("command client idle, closing")
			} else if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				log.Debug("command read failed", "err", err)
			}
			return
		}
	}
}

// exec runs one command. done reports that the connection should close.
func (s *CommandServer) exec(ctx context.Context, c net.Conn, sess *cmdSession, cmd string) (done bool, err error) {
	_ = c.SetWriteDeadline(time.Now().Add(s.opts.writeTimeout))
	switch cmd {
	case CmdNFrames:
		s.opts.metrics.RecordCommand(ctx, cmd)
		return false, writeInt(c, s.hist.BlockFrames())
	case CmdLen:
		s.opts.metrics.RecordCommand(ctx, cmd)
		sess.pinned = s.hist.Blocks()
		return false, writeInt(c, sess.pinned)
	case CmdRate:
		s.opts.metrics.RecordCommand(ctx, cmd)
		return false, writeInt(c, s.hist.SampleRate())
	case CmdSeconds:
		s.opts.metrics.RecordCommand(ctx, cmd)
		return false, writeInt(c, s.hist.Seconds())
	case CmdDump:
		s.opts.metrics.RecordCommand(ctx, cmd)
		return true, s.dump(ctx, c, sess)
	default:
		s.opts.metrics.RecordCommand(ctx, "unknown")
		_, err := io.WriteString(c, errUnknownCommand)
		return false, err
	}
}

func (s *CommandServer) dump(ctx context.Context, c net.Conn, sess *cmdSession) error {
	if sess.pinned == 0 {
		return nil
	}
	data, err := s.hist.Snapshot(sess.pinned)
	if err != nil {
		return fmt.Errorf("server: dump: %w", err)
	}
	// A dump may be several megabytes; give it time proportional to size.
	blocks := len(data) / s.hist.BlockBytes()
	_ = c.SetWriteDeadline(time.Now().Add(s.opts.writeTimeout * time.Duration(1+blocks/64)))
	n, err := c.Write(data)
	s.opts.metrics.RecordBytesSent(ctx, "command", n)
	if err != nil {
		return err
	}
	slog.Debug("history dumped", "remote", c.RemoteAddr().String(), "blocks", blocks, "bytes", n)
	return nil
}

func writeInt(w io.Writer, v int) error {
	var b [24]byte
	out := strconv.AppendInt(b[:0], int64(v), 10)
	out = append(out, '\n')
	_, err := w.Write(out)
	return err
}

// splitCommands tokenises one read into commands. Known command names are
// matched greedily so "nframeslen" yields both; any other run of
// non-whitespace bytes becomes a single unknown token.
func splitCommands(data []byte) []string {
	var out []string
	for {
		data = bytes.TrimLeft(data, " \t\r\n\x00")
		if len(data) == 0 {
			return out
		}
		matched := false
		for _, cmd := range commands {
			if bytes.HasPrefix(data, []byte(cmd)) {
				out = append(out, cmd)
				data = data[len(cmd):]
				matched = true
				break
			}
		}
		if matched {
			continue
		}
		end := bytes.IndexAny(data, " \t\r\n\x00")
		if end < 0 {
			end = len(data)
		}
		out = append(out, string(data[:end]))
		data = data[end:]
	}
}
