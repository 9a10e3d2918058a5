package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; coach settings
// take effect on the next overlay session.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	CoachChanged   bool
	CoachChanges   []string // yaml keys under coach that changed
	S2SChanged     bool     // requires restart
	WorkoutChanged bool     // requires restart
}

// NeedsRestart reports whether d contains changes that are not applied live.
func (d ConfigDiff) NeedsRestart() bool {
	return d.S2SChanged || d.WorkoutChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	d.CoachChanges = diffCoach(&old.Coach, &new.Coach)
	d.CoachChanged = len(d.CoachChanges) > 0

	d.S2SChanged = !equalEntry(old.Providers.S2S, new.Providers.S2S)
	d.WorkoutChanged = !slices.EqualFunc(old.Providers.Workout, new.Providers.Workout, equalEntry)

	return d
}

// diffCoach lists the coach keys whose values differ.
func diffCoach(old, new *CoachConfig) []string {
	var keys []string
	if old.Voice != new.Voice {
		keys = append(keys, "voice")
	}
	if old.Language != new.Language {
		keys = append(keys, "language")
	}
	if old.SystemPrompt != new.SystemPrompt {
		keys = append(keys, "system_prompt")
	}
	if old.CaptureGain != new.CaptureGain {
		keys = append(keys, "capture_gain")
	}
	if old.HandoffDelay != new.HandoffDelay {
		keys = append(keys, "handoff_delay")
	}
	if old.ScreenSwitchDelay != new.ScreenSwitchDelay {
		keys = append(keys, "screen_switch_delay")
	}
	if old.StartMuted != new.StartMuted {
		keys = append(keys, "start_muted")
	}
	return keys
}

// equalEntry compares the scalar fields of two provider entries. Options are
// ignored.
func equalEntry(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL && a.Model == b.Model
}
