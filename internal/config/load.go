package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty) and the environment, then validates the result.
func Load(path string, getenv func(string) string) (*Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("config: open %q: %w", path, err)
		}
		defer f.Close()

		if err := decode(f, &cfg); err != nil {
			return nil, fmt.Errorf("config: %q: %w", path, err)
		}
	}

	if getenv != nil {
		cfg.ApplyEnv(getenv)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromReader decodes YAML from r on top of the defaults and validates.
// The environment is not consulted.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := decode(r, &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode yaml: %w", err)
	}
	return nil
}

// ApplyEnv overrides settings from environment variables. API keys are only
// ever read from here.
func (c *Config) ApplyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&c.GeminiKey, "GEMINI_API_KEY")
	set(&c.OpenAIKey, "OPENAI_API_KEY")
	set(&c.Wake.Phrase, "ARIA_WAKE_PHRASE")
	set(&c.Recognizer.ModelPath, "ARIA_MODEL_PATH")
	set(&c.Control.Socket, "ARIA_SOCKET")
	set(&c.Assistant.Proxy, "ARIA_PROXY")
}

// APIKey returns the key for the configured provider.
func (c *Config) APIKey() string {
	if c.Assistant.Provider == ProviderOpenAI {
		return c.OpenAIKey
	}
	return c.GeminiKey
}

var logLevels = []string{"debug", "info", "warn", "error"}

// Validate reports every problem in cfg at once.
func Validate(cfg *Config) error {
	var errs []error

	if !slices.Contains(logLevels, cfg.LogLevel) {
		errs = append(errs, fmt.Errorf("log_level %q must be one of %v", cfg.LogLevel, logLevels))
	}

	if strings.TrimSpace(cfg.Wake.Phrase) == "" {
		errs = append(errs, errors.New("wake.phrase is required"))
	}
	if cfg.Wake.FuzzyThreshold < 0 || cfg.Wake.FuzzyThreshold > 1 {
		errs = append(errs, fmt.Errorf("wake.fuzzy_threshold %v must be within [0, 1]", cfg.Wake.FuzzyThreshold))
	}

	if cfg.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must be positive", cfg.Audio.SampleRate))
	}
	if cfg.Audio.FrameSize <= 0 {
		errs = append(errs, fmt.Errorf("audio.frame_size %d must be positive", cfg.Audio.FrameSize))
	}
	if cfg.Audio.QueueSize < 1 {
		errs = append(errs, fmt.Errorf("audio.queue_size %d must be at least 1", cfg.Audio.QueueSize))
	}

	if cfg.Recognizer.ModelPath == "" {
		errs = append(errs, errors.New("recognizer.model_path is required (or set ARIA_MODEL_PATH)"))
	}
	if cfg.Recognizer.SilenceRMS < 0 {
		errs = append(errs, fmt.Errorf("recognizer.silence_rms %v must not be negative", cfg.Recognizer.SilenceRMS))
	}
	if cfg.Recognizer.EndpointSilence <= 0 {
		errs = append(errs, errors.New("recognizer.endpoint_silence must be positive"))
	}
	if cfg.Recognizer.MaxUtterance <= cfg.Recognizer.EndpointSilence {
		errs = append(errs, errors.New("recognizer.max_utterance must exceed endpoint_silence"))
	}

	switch cfg.Assistant.Provider {
	case ProviderGemini:
		if cfg.GeminiKey == "" {
			errs = append(errs, errors.New("GEMINI_API_KEY is required for the gemini provider"))
		}
	case ProviderOpenAI:
		if cfg.OpenAIKey == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY is required for the openai provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("assistant.provider %q must be %q or %q",
			cfg.Assistant.Provider, ProviderGemini, ProviderOpenAI))
	}
	if cfg.Assistant.Timeout <= 0 {
		errs = append(errs, errors.New("assistant.timeout must be positive"))
	}

	switch cfg.Speech.Engine {
	case EngineEspeak, EnginePrint:
	default:
		errs = append(errs, fmt.Errorf("speech.engine %q must be %q or %q",
			cfg.Speech.Engine, EngineEspeak, EnginePrint))
	}
	if cfg.Speech.Rate < 80 || cfg.Speech.Rate > 450 {
		errs = append(errs, fmt.Errorf("speech.rate %d must be within [80, 450]", cfg.Speech.Rate))
	}
	if cfg.Speech.Duck && (cfg.Speech.DuckFactor <= 0 || cfg.Speech.DuckFactor > 1) {
		errs = append(errs, fmt.Errorf("speech.duck_factor %v must be within (0, 1]", cfg.Speech.DuckFactor))
	}

	if cfg.Control.Socket == "" {
		errs = append(errs, errors.New("control.socket is required"))
	}

	if cfg.Bus.URL != "" && cfg.Bus.Shard == "" {
		errs = append(errs, errors.New("bus.shard is required when bus.url is set"))
	}
	if cfg.MQTT.Broker != "" && cfg.MQTT.Prefix == "" {
		errs = append(errs, errors.New("mqtt.prefix is required when mqtt.broker is set"))
	}

	return errors.Join(errs...)
}
