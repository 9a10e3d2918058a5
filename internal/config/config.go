// Package config provides the configuration schema, loader, and provider registry
// for the fitcoach voice coach.
package config

import "time"

// LogLevel controls log verbosity for the fitcoach server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Defaults applied by [Config.ApplyDefaults] when a field is left zero.
const (
	DefaultCaptureGain        = 5.0
	DefaultHandoffDelay       = 3000 * time.Millisecond
	DefaultScreenSwitchDelay  = 100 * time.Millisecond
	DefaultPlaybackSampleRate = 24000
	DefaultLanguage           = "en"
	DefaultMaxFailures        = 3
	DefaultResetTimeout       = 30 * time.Second
)

// Config is the root configuration structure for fitcoach.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Coach      CoachConfig      `yaml:"coach"`
	Audio      AudioConfig      `yaml:"audio"`
	Resilience ResilienceConfig `yaml:"resilience"`
}

// ServerConfig holds network and logging settings for the fitcoach server.
type ServerConfig struct {
	// ListenAddr is the TCP address for health and metrics (e.g., ":8080").
	// Empty disables the HTTP server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ProvidersConfig selects the streaming voice service and the workout
// generator backends.
type ProvidersConfig struct {
	// S2S is the realtime speech-to-speech service the coach talks to.
	S2S ProviderEntry `yaml:"s2s"`

	// Workout lists generator backends in priority order. The first entry is
	// the primary; the rest are fallbacks tried when it fails.
	Workout []ProviderEntry `yaml:"workout"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "gemini-live").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API. When empty the
	// loader falls back to the provider's conventional environment variable.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above.
	Options map[string]any `yaml:"options"`
}

// CoachConfig tunes the realtime coaching session.
type CoachConfig struct {
	// Voice is the prebuilt voice name requested from the S2S service.
	Voice string `yaml:"voice"`

	// Language is the BCP-47 code the coach speaks and generates workouts in.
	Language string `yaml:"language"`

	// SystemPrompt replaces the built-in coach instructions when set.
	SystemPrompt string `yaml:"system_prompt"`

	// CaptureGain multiplies microphone samples before encoding.
	CaptureGain float64 `yaml:"capture_gain"`

	// HandoffDelay is how long the overlay stays up after a workout request.
	HandoffDelay time.Duration `yaml:"handoff_delay"`

	// ScreenSwitchDelay separates closing the overlay from the screen switch.
	ScreenSwitchDelay time.Duration `yaml:"screen_switch_delay"`

	// StartMuted opens every session with the coach's output muted.
	StartMuted bool `yaml:"start_muted"`
}

// AudioConfig configures the local capture and playback devices.
type AudioConfig struct {
	Microphone MicrophoneConfig `yaml:"microphone"`
	Speaker    SpeakerConfig    `yaml:"speaker"`

	// PlaybackSampleRate is the rate the output device is opened at.
	PlaybackSampleRate int `yaml:"playback_sample_rate"`
}

// MicrophoneConfig describes the capture device. The system default input
// is always used.
type MicrophoneConfig struct {
	// FrameSize is the number of samples per capture frame.
	FrameSize int `yaml:"frame_size"`

	// Period is the driver callback period. Defaults to 20ms.
	Period time.Duration `yaml:"period"`
}

// SpeakerConfig describes the playback device.
type SpeakerConfig struct {
	// BufferSize is the driver buffer length. Zero lets the driver choose.
	BufferSize time.Duration `yaml:"buffer_size"`
}

// ResilienceConfig sets the circuit breaker applied to each workout backend.
type ResilienceConfig struct {
	// MaxFailures is the number of consecutive failures that open a breaker.
	MaxFailures int `yaml:"max_failures"`

	// ResetTimeout is how long an open breaker waits before a trial call.
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// ApplyDefaults fills zero-valued tunables with their defaults.
// A capture_gain of 0 is treated as unset.
func (c *Config) ApplyDefaults() {
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if c.Coach.Language == "" {
		c.Coach.Language = DefaultLanguage
	}
	if c.Coach.CaptureGain == 0 {
		c.Coach.CaptureGain = DefaultCaptureGain
	}
	if c.Coach.HandoffDelay == 0 {
		c.Coach.HandoffDelay = DefaultHandoffDelay
	}
	if c.Coach.ScreenSwitchDelay == 0 {
		c.Coach.ScreenSwitchDelay = DefaultScreenSwitchDelay
	}
	if c.Audio.PlaybackSampleRate == 0 {
		c.Audio.PlaybackSampleRate = DefaultPlaybackSampleRate
	}
	if c.Resilience.MaxFailures == 0 {
		c.Resilience.MaxFailures = DefaultMaxFailures
	}
	if c.Resilience.ResetTimeout == 0 {
		c.Resilience.ResetTimeout = DefaultResetTimeout
	}
}
