package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func env(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func validEnv() func(string) string {
	return env(map[string]string{
		"GEMINI_API_KEY":  "g-key",
		"ARIA_MODEL_PATH": "/models/ggml-base.en.bin",
	})
}

func TestLoad_DefaultsWithEnv(t *testing.T) {
	cfg, err := Load("", validEnv())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Wake.Phrase != "hi" {
		t.Errorf("wake phrase = %q, want hi", cfg.Wake.Phrase)
	}
	if cfg.Audio.SampleRate != 16000 || cfg.Audio.FrameSize != 1600 {
		t.Errorf("audio = %+v", cfg.Audio)
	}
	if cfg.Recognizer.EndpointSilence != 600*time.Millisecond {
		t.Errorf("endpoint = %v", cfg.Recognizer.EndpointSilence)
	}
	if cfg.APIKey() != "g-key" {
		t.Errorf("APIKey = %q", cfg.APIKey())
	}
}

func TestLoad_DefaultsWithoutSecretsFail(t *testing.T) {
	_, err := Load("", env(nil))
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"GEMINI_API_KEY", "model_path"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestLoad_FileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "aria.yaml")
	data := `
log_level: debug
wake:
  phrase: hey mirror
  fuzzy_threshold: 0.9
recognizer:
  model_path: /srv/whisper.bin
  endpoint_silence: 800ms
assistant:
  provider: openai
  timeout: 5s
speech:
  engine: print
mqtt:
  broker: tcp://localhost:1883
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path, env(map[string]string{"OPENAI_API_KEY": "o-key"}))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Wake.Phrase != "hey mirror" || cfg.Wake.FuzzyThreshold != 0.9 {
		t.Errorf("wake = %+v", cfg.Wake)
	}
	if cfg.Recognizer.EndpointSilence != 800*time.Millisecond {
		t.Errorf("endpoint = %v", cfg.Recognizer.EndpointSilence)
	}
	if cfg.Assistant.Timeout != 5*time.Second {
		t.Errorf("timeout = %v", cfg.Assistant.Timeout)
	}
	// untouched sections keep defaults
	if cfg.Audio.QueueSize != 64 || cfg.MQTT.Prefix != "aria" {
		t.Errorf("defaults lost: audio=%+v mqtt=%+v", cfg.Audio, cfg.MQTT)
	}
	if cfg.APIKey() != "o-key" {
		t.Errorf("APIKey = %q", cfg.APIKey())
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), validEnv()); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader("wake:\n  phrse: typo\n"))
	if err == nil || !strings.Contains(err.Error(), "phrse") {
		t.Fatalf("err = %v, want unknown field error", err)
	}
}

func TestApplyEnv_Overrides(t *testing.T) {
	cfg := Default()
	cfg.ApplyEnv(env(map[string]string{
		"ARIA_WAKE_PHRASE": "  mirror  ",
		"ARIA_SOCKET":      "/run/aria.sock",
		"ARIA_PROXY":       "127.0.0.1:9050",
	}))
	if cfg.Wake.Phrase != "mirror" {
		t.Errorf("phrase = %q", cfg.Wake.Phrase)
	}
	if cfg.Control.Socket != "/run/aria.sock" {
		t.Errorf("socket = %q", cfg.Control.Socket)
	}
	if cfg.Assistant.Proxy != "127.0.0.1:9050" {
		t.Errorf("proxy = %q", cfg.Assistant.Proxy)
	}
}

func TestValidate_JoinsErrors(t *testing.T) {
	cfg := Default()
	cfg.GeminiKey = "k"
	cfg.Recognizer.ModelPath = "m"
	cfg.LogLevel = "loud"
	cfg.Audio.FrameSize = 0
	cfg.Assistant.Provider = "llama"
	cfg.Speech.Rate = 10

	err := Validate(&cfg)
	if err == nil {
		t.Fatal("expected errors")
	}
	for _, want := range []string{"log_level", "frame_size", "assistant.provider", "speech.rate"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q: %v", want, err)
		}
	}
}

func TestValidate_EndpointBounds(t *testing.T) {
	cfg := Default()
	cfg.GeminiKey = "k"
	cfg.Recognizer.ModelPath = "m"
	cfg.Recognizer.MaxUtterance = cfg.Recognizer.EndpointSilence
	if err := Validate(&cfg); err == nil || !strings.Contains(err.Error(), "max_utterance") {
		t.Fatalf("err = %v", err)
	}
}
