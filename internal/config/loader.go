package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt": {"groq", "openai", "whisper"},
	"llm": {"groq", "openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "llamacpp"},
	"tts": {"openai", "elevenlabs"},
	"vad": {"energy"},
}

// apiKeyEnv maps provider names to the environment variable that supplies
// their API key when the config leaves it empty.
var apiKeyEnv = map[string]string{
	"groq":       "GROQ_API_KEY",
	"openai":     "OPENAI_API_KEY",
	"elevenlabs": "ELEVENLABS_API_KEY",
	"anthropic":  "ANTHROPIC_API_KEY",
	"gemini":     "GEMINI_API_KEY",
	"deepseek":   "DEEPSEEK_API_KEY",
	"mistral":    "MISTRAL_API_KEY",
}

// Default returns the configuration used when no file is given: the Groq
// hosted stack, file sessions and a 48 kHz / 30 ms mono capture.
func Default() *Config {
	cfg := &Config{
		Providers: ProvidersConfig{
			STT: ProviderEntry{Name: "groq", Model: "whisper-large-v3"},
			LLM: ProviderEntry{Name: "groq", Model: "llama-3.3-70b-versatile"},
			TTS: ProviderEntry{Name: "openai", Model: "tts-1"},
			VAD: ProviderEntry{Name: "energy", Options: map[string]any{"mode": 3}},
		},
		Audio: AudioConfig{InputDevice: -1, OutputDevice: -1},
	}
	ApplyDefaults(cfg)
	return cfg
}

// Load reads the YAML configuration file at path, applies environment
// overrides and defaults, and returns a validated [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := load(f, os.LookupEnv)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. The environment is not consulted.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	return load(r, func(string) (string, bool) { return "", false })
}

func load(r io.Reader, lookup func(string) (string, bool)) (*Config, error) {
	cfg := &Config{Audio: AudioConfig{InputDevice: -1, OutputDevice: -1}}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyEnv(cfg, lookup)
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg from the environment through lookup (typically
// [os.LookupEnv]). SERVER_URL replaces client.server_url and ECHO_LOG_LEVEL
// replaces server.log_level. Provider API keys left empty are filled from
// the provider's conventional variable, e.g. GROQ_API_KEY.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if v, ok := lookup("SERVER_URL"); ok && v != "" {
		cfg.Client.ServerURL = v
	}
	if v, ok := lookup("ECHO_LOG_LEVEL"); ok && v != "" {
		cfg.Server.LogLevel = LogLevel(strings.ToLower(v))
	}
	for _, e := range []*ProviderEntry{&cfg.Providers.STT, &cfg.Providers.LLM, &cfg.Providers.TTS} {
		fillAPIKey(e, lookup)
	}
}

func fillAPIKey(e *ProviderEntry, lookup func(string) (string, bool)) {
	if e.APIKey == "" {
		if name, ok := apiKeyEnv[e.Name]; ok {
			if v, ok := lookup(name); ok {
				e.APIKey = v
			}
		}
	}
	for i := range e.Fallbacks {
		fillAPIKey(&e.Fallbacks[i], lookup)
	}
}

// ApplyDefaults fills every zero field that has a documented default.
func ApplyDefaults(cfg *Config) {
	s := &cfg.Server
	if s.ListenAddr == "" {
		s.ListenAddr = ":8000"
	}
	if s.LogLevel == "" {
		s.LogLevel = LogInfo
	}
	if s.MaxUploadBytes == 0 {
		s.MaxUploadBytes = 25 << 20
	}
	if s.ShutdownTimeout == 0 {
		s.ShutdownTimeout = 15 * time.Second
	}

	c := &cfg.Client
	if c.ServerURL == "" {
		c.ServerURL = "http://localhost:8000/interact"
	}
	if c.Timeout == 0 {
		c.Timeout = 60 * time.Second
	}
	if c.HalfDuplex == nil {
		on := true
		c.HalfDuplex = &on
	}
	if c.FrameQueue == 0 {
		c.FrameQueue = 256
	}
	if c.UtteranceQueue == 0 {
		c.UtteranceQueue = 4
	}

	a := &cfg.Audio
	if a.SampleRate == 0 {
		a.SampleRate = 48000
	}
	if a.Channels == 0 {
		a.Channels = 1
	}
	if a.FrameMs == 0 {
		a.FrameMs = 30
	}
	if a.OutputSampleRate == 0 {
		a.OutputSampleRate = a.SampleRate
	}

	g := &cfg.Segmenter
	if g.HangoverMs == 0 {
		g.HangoverMs = 750
	}
	if g.MaxUtteranceMs == 0 {
		g.MaxUtteranceMs = 30000
	}

	d := &cfg.Dialogue
	if d.Language == "" {
		d.Language = "en"
	}
	if d.Temperature == nil {
		t := 0.7
		d.Temperature = &t
	}
	if d.MaxTokens == 0 {
		d.MaxTokens = 150
	}

	ss := &cfg.Sessions
	if ss.Backend == "" {
		ss.Backend = SessionFile
	}
	if ss.Dir == "" {
		ss.Dir = "sessions"
	}
	if ss.RedisKeyPrefix == "" {
		ss.RedisKeyPrefix = "echo:session:"
	}

	r := &cfg.Providers.Resilience
	if r.MaxFailures == 0 {
		r.MaxFailures = 5
	}
	if r.ResetTimeout == 0 {
		r.ResetTimeout = 30 * time.Second
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
	if cfg.Server.MaxUploadBytes < 0 {
		errs = append(errs, fmt.Errorf("server.max_upload_bytes must not be negative, got %d", cfg.Server.MaxUploadBytes))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Client
	if u, err := url.Parse(cfg.Client.ServerURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("client.server_url %q must be an absolute http(s) URL", cfg.Client.ServerURL))
	}
	if cfg.Client.Timeout < 0 {
		errs = append(errs, fmt.Errorf("client.timeout must not be negative, got %s", cfg.Client.Timeout))
	}
	if cfg.Client.FrameQueue < 0 || cfg.Client.UtteranceQueue < 0 {
		errs = append(errs, errors.New("client.frame_queue and client.utterance_queue must not be negative"))
	}

	// Audio
	a := cfg.Audio
	if a.SampleRate < 0 || a.OutputSampleRate < 0 {
		errs = append(errs, errors.New("audio sample rates must not be negative"))
	}
	if a.Channels < 0 || a.Channels > 2 {
		errs = append(errs, fmt.Errorf("audio.channels %d is out of range [1, 2]", a.Channels))
	}
	if a.FrameMs != 0 && a.FrameMs != 10 && a.FrameMs != 20 && a.FrameMs != 30 {
		errs = append(errs, fmt.Errorf("audio.frame_ms %d is invalid; valid values: 10, 20, 30", a.FrameMs))
	}

	// Segmenter
	if cfg.Segmenter.HangoverMs < 0 {
		errs = append(errs, fmt.Errorf("segmenter.hangover_ms must not be negative, got %d", cfg.Segmenter.HangoverMs))
	}
	if a.FrameMs > 0 && cfg.Segmenter.HangoverMs > 0 && cfg.Segmenter.HangoverMs < a.FrameMs {
		errs = append(errs, fmt.Errorf("segmenter.hangover_ms %d is shorter than one frame (%d ms)", cfg.Segmenter.HangoverMs, a.FrameMs))
	}
	if m := cfg.Segmenter.MaxUtteranceMs; m > 0 && m <= cfg.Segmenter.HangoverMs {
		errs = append(errs, fmt.Errorf("segmenter.max_utterance_ms %d must exceed hangover_ms %d", m, cfg.Segmenter.HangoverMs))
	}

	// Dialogue
	if t := cfg.Dialogue.Temperature; t != nil && (*t < 0 || *t > 2) {
		errs = append(errs, fmt.Errorf("dialogue.temperature %.2f is out of range [0, 2]", *t))
	}
	if cfg.Dialogue.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("dialogue.max_tokens must not be negative, got %d", cfg.Dialogue.MaxTokens))
	}

	// Sessions
	ss := cfg.Sessions
	if ss.Backend != "" && !ss.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("sessions.backend %q is invalid; valid values: file, postgres, redis, memory", ss.Backend))
	}
	if ss.Backend == SessionPostgres && ss.PostgresDSN == "" {
		errs = append(errs, errors.New("sessions.postgres_dsn is required when backend is postgres"))
	}
	if ss.Backend == SessionRedis && ss.RedisURL == "" {
		errs = append(errs, errors.New("sessions.redis_url is required when backend is redis"))
	}
	if ss.Backend == SessionMemory {
		slog.Warn("sessions.backend is memory; conversation history is lost on restart")
	}

	// Providers
	validateProviderName("stt", cfg.Providers.STT)
	validateProviderName("llm", cfg.Providers.LLM)
	validateProviderName("tts", cfg.Providers.TTS)
	validateProviderName("vad", cfg.Providers.VAD)
	if m := cfg.Providers.VAD.Options["mode"]; m != nil {
		if mode, ok := m.(int); !ok || mode < 0 || mode > 3 {
			errs = append(errs, fmt.Errorf("providers.vad.options.mode %v is invalid; valid values: 0-3", m))
		}
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if the entry (or one of its fallbacks)
// names a provider not found in [ValidProviderNames] for the given kind.
func validateProviderName(kind string, e ProviderEntry) {
	for _, fb := range e.Fallbacks {
		validateProviderName(kind, fb)
	}
	if e.Name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, e.Name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", e.Name,
		"known", known,
	)
}
