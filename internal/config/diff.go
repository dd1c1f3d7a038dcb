package config

import (
	"reflect"
	"time"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are applied; everything else is
// reported in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	MonitorIntervalChanged bool
	NewMonitorInterval     time.Duration

	// RestartRequired lists the config sections that changed but only take
	// effect after a restart (e.g. "audio", "ring").
	RestartRequired []string
}

// Changed reports whether any field differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.MonitorIntervalChanged || len(d.RestartRequired) > 0
}

// Sections names every changed section, hot-reloadable ones first.
func (d ConfigDiff) Sections() []string {
	var s []string
	if d.LogLevelChanged {
		s = append(s, "server.log_level")
	}
	if d.MonitorIntervalChanged {
		s = append(s, "monitor.interval")
	}
	return append(s, d.RestartRequired...)
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	// Monitor interval
	if old.Monitor.Interval != new.Monitor.Interval {
		d.MonitorIntervalChanged = true
		d.NewMonitorInterval = new.Monitor.Interval
	}

	// Sections that need a restart.
	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	if oldServer != newServer {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !reflect.DeepEqual(old.Audio, new.Audio) {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if old.Ring != new.Ring {
		d.RestartRequired = append(d.RestartRequired, "ring")
	}
	if old.Stream != new.Stream {
		d.RestartRequired = append(d.RestartRequired, "stream")
	}
	if old.History != new.History {
		d.RestartRequired = append(d.RestartRequired, "history")
	}
	if old.Recorder != new.Recorder {
		d.RestartRequired = append(d.RestartRequired, "recorder")
	}
	if old.Telemetry != new.Telemetry {
		d.RestartRequired = append(d.RestartRequired, "telemetry")
	}

	return d
}
