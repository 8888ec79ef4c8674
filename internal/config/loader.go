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

// ValidLLMNames lists the known LLM backend names. [Validate] warns about
// unrecognised names rather than failing, so new backends can roll out
// without a lockstep config change.
var ValidLLMNames = []string{
	"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq",
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and
// [Validate].
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

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil {
		if tls.CertFile == "" || tls.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm.name is required"))
	} else {
		validateLLMName("providers.llm", cfg.Providers.LLM.Name)
	}
	if cfg.Providers.LLMFallback.Name != "" {
		validateLLMName("providers.llm_fallback", cfg.Providers.LLMFallback.Name)
	}

	if cfg.Providers.Matcher.Endpoint == "" && cfg.Providers.Matcher.APIKey != "" {
		slog.Warn("providers.matcher.api_key is set but endpoint is empty; matcher fallback stays disabled")
	}

	for i, r := range cfg.Rules {
		if r.Pattern == "" {
			errs = append(errs, fmt.Errorf("rules[%d].pattern is required", i))
		}
	}

	for name, ms := range map[string]int{
		"pipeline.pre_correct_timeout_ms":  cfg.Pipeline.PreCorrectTimeoutMS,
		"pipeline.combined_timeout_ms":     cfg.Pipeline.CombinedTimeoutMS,
		"pipeline.segment_only_timeout_ms": cfg.Pipeline.SegmentOnlyTimeoutMS,
		"pipeline.rest_timeout_ms":         cfg.Pipeline.RESTTimeoutMS,
		"pipeline.judge_timeout_ms":        cfg.Pipeline.JudgeTimeoutMS,
		"pipeline.auto_submit_delay_ms":    cfg.Pipeline.AutoSubmitDelayMS,
	} {
		if ms < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", name))
		}
	}
	if cfg.Pipeline.CacheCapacity < 0 {
		errs = append(errs, errors.New("pipeline.cache_capacity must not be negative"))
	}

	return errors.Join(errs...)
}

func validateLLMName(field, name string) {
	if !slices.Contains(ValidLLMNames, name) {
		slog.Warn("unrecognised llm backend name", "field", field, "name", name)
	}
}
