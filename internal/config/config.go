// Package config provides the configuration schema and loader for the
// vocadrill server.
package config

import "time"

// LogLevel controls log verbosity for the vocadrill server.
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

// Config is the root configuration structure for vocadrill.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Rules     []RuleConfig    `yaml:"rules"`
	Storage   StorageConfig   `yaml:"storage"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
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

// ProvidersConfig declares the external services the pipeline talks to.
type ProvidersConfig struct {
	// LLM is the primary model backend for the remote segmentation and
	// judgment calls.
	LLM ProviderEntry `yaml:"llm"`

	// LLMFallback, when configured, is tried once whenever the primary
	// fails mid-call.
	LLMFallback ProviderEntry `yaml:"llm_fallback"`

	// STT points at the speech-recognition HTTP service.
	STT STTConfig `yaml:"stt"`

	// Matcher points at the external REST matching service used as the
	// next-to-last segmentation fallback. Leave the endpoint empty to
	// disable the stage.
	Matcher MatcherConfig `yaml:"matcher"`
}

// ProviderEntry is the common configuration block shared by LLM backends.
type ProviderEntry struct {
	// Name selects the backend implementation (e.g., "openai", "anthropic",
	// "ollama").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the backend's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the backend's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the backend (e.g., "gpt-4o-mini").
	Model string `yaml:"model"`
}

// STTConfig configures the speech-recognition HTTP service.
type STTConfig struct {
	// BaseURL is the service root (e.g., "http://localhost:9000").
	BaseURL string `yaml:"base_url"`

	// Language is the recognition language code. Defaults to "zh".
	Language string `yaml:"language"`
}

// MatcherConfig configures the REST matching fallback.
type MatcherConfig struct {
	// Endpoint is the full match URL. Empty disables the fallback stage.
	Endpoint string `yaml:"endpoint"`

	// APIKey is sent as a bearer token when non-empty.
	APIKey string `yaml:"api_key"`
}

// PipelineConfig tunes the segmentation chain and submission behaviour.
// Zero values select the built-in defaults.
type PipelineConfig struct {
	// PreCorrection enables the standalone transcript-correction stage on
	// the manual path.
	PreCorrection bool `yaml:"pre_correction"`

	// Stage timeouts in milliseconds.
	PreCorrectTimeoutMS  int `yaml:"pre_correct_timeout_ms"`
	CombinedTimeoutMS    int `yaml:"combined_timeout_ms"`
	SegmentOnlyTimeoutMS int `yaml:"segment_only_timeout_ms"`
	RESTTimeoutMS        int `yaml:"rest_timeout_ms"`

	// JudgeTimeoutMS bounds each remote judgment call.
	JudgeTimeoutMS int `yaml:"judge_timeout_ms"`

	// AutoSubmitDelayMS is the grace window before an automatic submission.
	AutoSubmitDelayMS int `yaml:"auto_submit_delay_ms"`

	// CacheCapacity bounds the segmentation result cache.
	CacheCapacity int `yaml:"cache_capacity"`
}

// Duration converts a millisecond field to a [time.Duration]; non-positive
// values return zero so callers fall back to their defaults.
func Duration(ms int) time.Duration {
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

// RuleConfig is one literal transcript substitution applied before any
// segmentation strategy runs. Rules capture recognizer quirks observed in
// the field (e.g., a homophone the recognizer keeps picking).
type RuleConfig struct {
	// Pattern is the literal text to replace.
	Pattern string `yaml:"pattern"`

	// Replacement is the text substituted for every occurrence.
	Replacement string `yaml:"replacement"`
}

// StorageConfig holds persistence settings.
type StorageConfig struct {
	// PostgresDSN is the connection string for the error-log database.
	// Empty keeps the error log in memory.
	PostgresDSN string `yaml:"postgres_dsn"`

	// RedisURL is the connection URL for session state. Empty keeps
	// sessions in memory.
	RedisURL string `yaml:"redis_url"`
}
