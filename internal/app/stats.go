package app

import "time"

// Stats is the JSON body served on GET /stats and embedded in /readyz.
type Stats struct {
	Host       string         `json:"host"`
	SampleRate int            `json:"sample_rate"`
	MaxQuantum int            `json:"max_quantum"`
	Encoding   string         `json:"encoding"`
	Uptime     string         `json:"uptime"`
	Ring       RingStats      `json:"ring"`
	Producer   ProducerStats  `json:"producer"`
	Pump       PumpStats      `json:"pump"`
	History    HistoryStats   `json:"history"`
	Recorder   *RecorderStats `json:"recorder,omitempty"`
}

// RecorderStats reports the WAV recorder.
type RecorderStats struct {
	Files         []string `json:"files"`
	State         string   `json:"state"`
	SkippedFrames uint64   `json:"skipped_frames"`
}

// RingStats mirrors [ring.Stats] with JSON names.
type RingStats struct {
	Capacity   int    `json:"capacity"`
	Occupied   int    `json:"occupied"`
	Pushed     uint64 `json:"pushed"`
	Popped     uint64 `json:"popped"`
	Dropped    uint64 `json:"dropped"`
	Underflows uint64 `json:"underflows"`
}

// ProducerStats describes the real-time side.
type ProducerStats struct {
	Quanta   uint64 `json:"quanta"`
	Rejected uint64 `json:"rejected"`
	Stopped  bool   `json:"stopped"`
}

// PumpStats describes the consumer side.
type PumpStats struct {
	Frames          uint64 `json:"frames"`
	Passes          uint64 `json:"passes"`
	ClientConnected bool   `json:"client_connected"`
}

// HistoryStats describes the dump window.
type HistoryStats struct {
	Seconds     int `json:"seconds"`
	BlockFrames int `json:"block_frames"`
	Blocks      int `json:"blocks"`
	Capacity    int `json:"capacity_blocks"`
}

// Stats returns a point-in-time snapshot of every subsystem.
func (a *App) Stats() Stats {
	rs := a.rb.Stats()
	s := Stats{
		Host:       a.host.Name(),
		SampleRate: a.host.SampleRate(),
		MaxQuantum: a.host.MaxQuantum(),
		Encoding:   a.cfg.Stream.Encoding,
		Ring: RingStats{
			Capacity:   rs.Capacity,
			Occupied:   rs.Occupied,
			Pushed:     rs.Pushed,
			Popped:     rs.Popped,
			Dropped:    rs.Dropped,
			Underflows: rs.Underflows,
		},
		Producer: ProducerStats{
			Quanta:   a.producer.Quanta(),
			Rejected: a.producer.Rejected(),
			Stopped:  a.producer.Stopped(),
		},
		Pump: PumpStats{
			Frames:          a.pump.Frames(),
			Passes:          a.pump.Passes(),
			ClientConnected: a.pump.Busy(),
		},
		History: HistoryStats{
			Seconds:     a.hist.Seconds(),
			BlockFrames: a.hist.BlockFrames(),
			Blocks:      a.hist.Blocks(),
			Capacity:    a.hist.CapacityBlocks(),
		},
	}
	if ns := a.startedAt.Load(); ns != 0 {
		s.Uptime = time.Since(time.Unix(0, ns)).Round(time.Second).String()
	}
	if a.rec != nil {
		s.Recorder = &RecorderStats{
			Files:         a.rec.Files(),
			State:         a.recGuard.State().String(),
			SkippedFrames: a.recGuard.SkippedFrames(),
		}
	}
	return s
}
