// Package config loads daemon settings: built-in defaults, then an optional
// YAML file, then environment overrides.
package config

import (
	"time"

	"aria/internal/assistant"
	"aria/internal/ipc"
	"aria/internal/recognize"
	"aria/internal/session"
)

type Config struct {
	LogLevel   string           `yaml:"log_level"`
	Wake       WakeConfig       `yaml:"wake"`
	Audio      AudioConfig      `yaml:"audio"`
	Recognizer RecognizerConfig `yaml:"recognizer"`
	Assistant  AssistantConfig  `yaml:"assistant"`
	Speech     SpeechConfig     `yaml:"speech"`
	Control    ControlConfig    `yaml:"control"`
	Bus        BusConfig        `yaml:"bus"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Metrics    MetricsConfig    `yaml:"metrics"`

	// secrets come from the environment only
	GeminiKey string `yaml:"-"`
	OpenAIKey string `yaml:"-"`
}

type WakeConfig struct {
	Phrase string `yaml:"phrase"`
	// FuzzyThreshold enables Jaro-Winkler matching when in (0, 1].
	FuzzyThreshold float64 `yaml:"fuzzy_threshold"`
}

type AudioConfig struct {
	Device     string `yaml:"device"`
	SampleRate int    `yaml:"sample_rate"`
	FrameSize  int    `yaml:"frame_size"`
	QueueSize  int    `yaml:"queue_size"`
}

type RecognizerConfig struct {
	ModelPath       string        `yaml:"model_path"`
	Language        string        `yaml:"language"`
	Threads         int           `yaml:"threads"`
	SilenceRMS      float64       `yaml:"silence_rms"`
	EndpointSilence time.Duration `yaml:"endpoint_silence"`
	MaxUtterance    time.Duration `yaml:"max_utterance"`
}

type AssistantConfig struct {
	Provider string `yaml:"provider"`
	// Model defaults to the provider's own default when empty.
	Model    string        `yaml:"model"`
	BaseURL  string        `yaml:"base_url"`
	Preamble string        `yaml:"preamble"`
	Timeout  time.Duration `yaml:"timeout"`
	Fallback string        `yaml:"fallback"`
	Proxy    string        `yaml:"proxy"`
}

type SpeechConfig struct {
	Engine     string  `yaml:"engine"`
	Voice      string  `yaml:"voice"`
	Rate       int     `yaml:"rate"`
	Earcon     string  `yaml:"earcon"`
	Duck       bool    `yaml:"duck"`
	DuckFactor float64 `yaml:"duck_factor"`
}

type ControlConfig struct {
	Socket   string `yaml:"socket"`
	Keyboard bool   `yaml:"keyboard"`
	HTTPAddr string `yaml:"http_addr"`
}

// BusConfig points at the websocket hub the display UI listens on.
type BusConfig struct {
	URL   string `yaml:"url"`
	Shard string `yaml:"shard"`
}

type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Prefix   string `yaml:"prefix"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"

	EngineEspeak = "espeak"
	EnginePrint  = "print"
)

func Default() Config {
	return Config{
		LogLevel: "info",
		Wake:     WakeConfig{Phrase: "hi"},
		Audio: AudioConfig{
			SampleRate: 16000,
			FrameSize:  1600,
			QueueSize:  64,
		},
		Recognizer: RecognizerConfig{
			Language:        "en",
			SilenceRMS:      recognize.DefaultConfig.SilenceRMS,
			EndpointSilence: recognize.DefaultConfig.EndpointSilence,
			MaxUtterance:    recognize.DefaultConfig.MaxUtterance,
		},
		Assistant: AssistantConfig{
			Provider: ProviderGemini,
			Preamble: assistant.DefaultPreamble,
			Timeout:  assistant.DefaultTimeout,
			Fallback: session.DefaultFallback,
		},
		Speech: SpeechConfig{
			Engine:     EngineEspeak,
			Voice:      "en+f3",
			Rate:       170,
			DuckFactor: 0.3,
		},
		Control: ControlConfig{
			Socket:   ipc.DefaultSocketPath,
			Keyboard: true,
		},
		Bus:  BusConfig{Shard: "aria"},
		MQTT: MQTTConfig{ClientID: "aria", Prefix: "aria"},
	}
}
