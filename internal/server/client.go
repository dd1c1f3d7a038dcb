package server

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/MrWong99/ringsock/pkg/audio"
)

// Dump is a history window fetched from a [CommandServer].
type Dump struct {
	SampleRate  int
	BlockFrames int
	Seconds     int
	Blocks      int
	Frames      []audio.Frame
}

// FetchDump connects to the command server at addr and downloads the history
// window the same way detector clients do: query nframes, len, rate and
// seconds, then dump exactly len blocks.
func FetchDump(ctx context.Context, addr string) (*Dump, error) {
	var d net.Dialer
	c, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("server: dial %s: %w", addr, err)
	}
	defer c.Close()
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	r := bufio.NewReader(c)
	query := func(cmd string) (int, error) {
		if _, err := io.WriteString(c, cmd); err != nil {
			return 0, fmt.Errorf("server: send %s: %w", cmd, err)
		}
		line, err := r.ReadString('\n')
		if err != nil {
			return 0, fmt.Errorf("server: read %s reply: %w", cmd, err)
		}
		v, err := strconv.Atoi(strings.TrimSpace(line))
		if err != nil {
			return 0, fmt.Errorf("server: %s reply %q: %w", cmd, strings.TrimSpace(line), err)
		}
		return v, nil
	}

	dump := &Dump{}
	if dump.BlockFrames, err = query(CmdNFrames); err != nil {
		return nil, err
	}
	if dump.Blocks, err = query(CmdLen); err != nil {
		return nil, err
	}
	if dump.SampleRate, err = query(CmdRate); err != nil {
		return nil, err
	}
	if dump.Seconds, err = query(CmdSeconds); err != nil {
		return nil, err
	}

	if _, err := io.WriteString(c, CmdDump); err != nil {
		return nil, fmt.Errorf("server: send dump: %w", err)
	}
	raw := make([]byte, dump.Blocks*dump.BlockFrames*audio.FrameSize)
	if _, err := io.ReadFull(r, raw); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("server: read dump: %w", err)
	}
	if dump.Frames, err = audio.DecodeFloat32LE(raw); err != nil {
		return nil, err
	}
	return dump, nil
}
