package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/ringsock/internal/recorder"
	"github.com/MrWong99/ringsock/internal/server"
	"github.com/MrWong99/ringsock/pkg/audio/portaudio"
)

var (
	dumpAddr    string
	dumpOut     string
	dumpTimeout time.Duration
)

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Save a running server's history window as a WAV file",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), dumpTimeout)
		defer cancel()

		d, err := server.FetchDump(ctx, dumpAddr)
		if err != nil {
			return err
		}
		if err := recorder.WriteWAV(dumpOut, d.Frames, d.SampleRate); err != nil {
			return err
		}
		fmt.Printf("wrote %s: %d frames (%d blocks of %d) at %d Hz, %.2fs\n",
			dumpOut, len(d.Frames), d.Blocks, d.BlockFrames, d.SampleRate,
			float64(len(d.Frames))/float64(max(d.SampleRate, 1)))
		return nil
	},
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List PortAudio input devices",
	RunE: func(cmd *cobra.Command, args []string) error {
		names, err := portaudio.Devices()
		if err != nil {
			return err
		}
		for _, n := range names {
			fmt.Println(n)
		}
		return nil
	},
}

func init() {
	dumpCmd.Flags().StringVar(&dumpAddr, "addr", "127.0.0.1:8888", "command socket address of a running server")
	dumpCmd.Flags().StringVar(&dumpOut, "out", "dump.wav", "output WAV path")
	dumpCmd.Flags().DurationVar(&dumpTimeout, "timeout", 30*time.Second, "overall timeout")
}
