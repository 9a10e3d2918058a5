package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"s2s":     {"gemini-live", "openai-realtime"},
	"workout": {"gemini", "openai", "anthropic", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
}

// apiKeyEnv maps provider names to the environment variable consulted when
// the YAML api_key is empty.
var apiKeyEnv = map[string]string{
	"gemini-live":     "GEMINI_API_KEY",
	"gemini":          "GEMINI_API_KEY",
	"openai-realtime": "OPENAI_API_KEY",
	"openai":          "OPENAI_API_KEY",
	"anthropic":       "ANTHROPIC_API_KEY",
	"deepseek":        "DEEPSEEK_API_KEY",
	"mistral":         "MISTRAL_API_KEY",
	"groq":            "GROQ_API_KEY",
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills defaults and API keys
// from the environment, and validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.ApplyDefaults()
	ApplyEnv(cfg, os.Getenv)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv fills empty provider API keys from getenv using the provider's
// conventional variable (GEMINI_API_KEY, OPENAI_API_KEY).
func ApplyEnv(cfg *Config, getenv func(string) string) {
	fill := func(e *ProviderEntry) {
		if e.APIKey != "" {
			return
		}
		if name, ok := apiKeyEnv[e.Name]; ok {
			e.APIKey = getenv(name)
		}
	}
	fill(&cfg.Providers.S2S)
	for i := range cfg.Providers.Workout {
		fill(&cfg.Providers.Workout[i])
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Providers
	if cfg.Providers.S2S.Name == "" {
		slog.Warn("providers.s2s is not configured; the coach overlay cannot connect")
	}
	validateProviderName("s2s", cfg.Providers.S2S.Name)

	if len(cfg.Providers.Workout) == 0 {
		slog.Warn("providers.workout is empty; workout requests will fail")
	}
	workoutSeen := make(map[string]int, len(cfg.Providers.Workout))
	for i, w := range cfg.Providers.Workout {
		prefix := fmt.Sprintf("providers.workout[%d]", i)
		if w.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		if prev, ok := workoutSeen[w.Name]; ok {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of providers.workout[%d]", prefix, w.Name, prev))
		}
		workoutSeen[w.Name] = i
		validateProviderName("workout", w.Name)
	}

	// Coach
	if cfg.Coach.CaptureGain < 0 {
		errs = append(errs, fmt.Errorf("coach.capture_gain %.2f must not be negative", cfg.Coach.CaptureGain))
	}
	if cfg.Coach.HandoffDelay < 0 {
		errs = append(errs, fmt.Errorf("coach.handoff_delay %s must not be negative", cfg.Coach.HandoffDelay))
	}
	if cfg.Coach.ScreenSwitchDelay < 0 {
		errs = append(errs, fmt.Errorf("coach.screen_switch_delay %s must not be negative", cfg.Coach.ScreenSwitchDelay))
	}

	// Audio
	if r := cfg.Audio.PlaybackSampleRate; r != 0 && (r < 8000 || r > 192000) {
		errs = append(errs, fmt.Errorf("audio.playback_sample_rate %d is out of range [8000, 192000]", r))
	}
	if cfg.Audio.Microphone.FrameSize < 0 {
		errs = append(errs, fmt.Errorf("audio.microphone.frame_size %d must not be negative", cfg.Audio.Microphone.FrameSize))
	}
	if cfg.Audio.Microphone.Period < 0 {
		errs = append(errs, fmt.Errorf("audio.microphone.period %s must not be negative", cfg.Audio.Microphone.Period))
	}
	if cfg.Audio.Speaker.BufferSize < 0 {
		errs = append(errs, fmt.Errorf("audio.speaker.buffer_size %s must not be negative", cfg.Audio.Speaker.BufferSize))
	}

	// Resilience
	if cfg.Resilience.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("resilience.max_failures %d must not be negative", cfg.Resilience.MaxFailures))
	}
	if cfg.Resilience.ResetTimeout < 0 {
		errs = append(errs, fmt.Errorf("resilience.reset_timeout %s must not be negative", cfg.Resilience.ResetTimeout))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
