// Package config provides the configuration schema, loader, and provider registry
// for the Echo voice pipeline. One YAML file configures both binaries: the
// server reads server, dialogue, sessions and the stt/llm providers; the client
// reads client, audio, segmenter and the vad/tts providers.
package config

import "time"

// LogLevel controls log verbosity.
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

// SessionBackend selects where conversation logs are stored.
type SessionBackend string

const (
	// SessionFile stores one JSON file per session in a directory.
	SessionFile SessionBackend = "file"

	// SessionPostgres stores logs as JSONB rows.
	SessionPostgres SessionBackend = "postgres"

	// SessionRedis stores logs as JSON strings.
	SessionRedis SessionBackend = "redis"

	// SessionMemory keeps logs in process memory only.
	SessionMemory SessionBackend = "memory"
)

// IsValid reports whether b is a recognised backend.
func (b SessionBackend) IsValid() bool {
	switch b {
	case SessionFile, SessionPostgres, SessionRedis, SessionMemory:
		return true
	}
	return false
}

// Config is the root configuration structure for Echo.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Client    ClientConfig    `yaml:"client"`
	Audio     AudioConfig     `yaml:"audio"`
	Segmenter SegmenterConfig `yaml:"segmenter"`
	Dialogue  DialogueConfig  `yaml:"dialogue"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	Providers ProvidersConfig `yaml:"providers"`
}

// ServerConfig holds network and logging settings for the dialogue server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8000").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity for both binaries.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`

	// MaxUploadBytes caps the /interact request body. Default: 25 MiB.
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`

	// ShutdownTimeout bounds graceful shutdown. Default: 15s.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ClientConfig configures the microphone client.
type ClientConfig struct {
	// ServerURL is the full URL of the interact endpoint
	// (e.g., "http://localhost:8000/interact"). Overridden by SERVER_URL.
	ServerURL string `yaml:"server_url"`

	// Timeout bounds one request to the server. Default: 60s.
	Timeout time.Duration `yaml:"timeout"`

	// Voice is the fixed TTS voice used for every reply.
	Voice string `yaml:"voice"`

	// WelcomeFile is played once at startup when the file exists.
	WelcomeFile string `yaml:"welcome_file"`

	// HalfDuplex discards captured audio while a reply is playing so the
	// assistant does not hear itself. Default: true.
	HalfDuplex *bool `yaml:"half_duplex"`

	// FrameQueue is the capacity of the capture → segmenter queue in frames.
	// Default: 256.
	FrameQueue int `yaml:"frame_queue"`

	// UtteranceQueue is the capacity of the segmenter → sender queue.
	// Default: 4.
	UtteranceQueue int `yaml:"utterance_queue"`

	// ScratchDir holds transient TTS payloads. Empty uses the OS temp dir.
	ScratchDir string `yaml:"scratch_dir"`
}

// AudioConfig fixes the PCM layout and the devices for one deployment.
type AudioConfig struct {
	// SampleRate of captured audio in Hz. Default: 48000.
	SampleRate int `yaml:"sample_rate"`

	// Channels of captured audio. Default: 1.
	Channels int `yaml:"channels"`

	// FrameMs is the duration of one classified frame. Default: 30.
	FrameMs int `yaml:"frame_ms"`

	// InputDevice is the capture device index. -1 selects the system default.
	InputDevice int `yaml:"input_device"`

	// OutputDevice is the playback device index. -1 selects the system default.
	OutputDevice int `yaml:"output_device"`

	// OutputSampleRate of the playback device. Default: SampleRate.
	OutputSampleRate int `yaml:"output_sample_rate"`
}

// SegmenterConfig tunes the utterance segmenter.
type SegmenterConfig struct {
	// HangoverMs is the trailing silence that closes an utterance.
	// Default: 750 (25 frames of 30 ms).
	HangoverMs int `yaml:"hangover_ms"`

	// MaxUtteranceMs force-flushes an utterance that reaches this length.
	// Default: 30000. A negative value disables the cap.
	MaxUtteranceMs int `yaml:"max_utterance_ms"`
}

// DialogueConfig tunes the server-side dialogue turn. These fields are
// hot-reloadable.
type DialogueConfig struct {
	// SystemPrompt opens every LLM prompt. Empty uses the built-in prompt.
	SystemPrompt string `yaml:"system_prompt"`

	// Language is the ISO-639-1 transcription hint. Default: "en".
	Language string `yaml:"language"`

	// Temperature is the completion sampling temperature. Default: 0.7.
	Temperature *float64 `yaml:"temperature"`

	// MaxTokens bounds the reply length. Default: 150.
	MaxTokens int `yaml:"max_tokens"`

	// ScratchDir holds transient uploaded audio. Empty uses the OS temp dir.
	ScratchDir string `yaml:"scratch_dir"`
}

// SessionsConfig selects and configures the conversation log store.
type SessionsConfig struct {
	// Backend selects the store. Default: file.
	Backend SessionBackend `yaml:"backend"`

	// Dir is the directory used by the file backend. Default: "sessions".
	Dir string `yaml:"dir"`

	// PostgresDSN is the connection string for the postgres backend.
	PostgresDSN string `yaml:"postgres_dsn"`

	// RedisURL is the connection URL for the redis backend
	// (e.g., "redis://localhost:6379/0").
	RedisURL string `yaml:"redis_url"`

	// RedisKeyPrefix namespaces redis keys. Default: "echo:session:".
	RedisKeyPrefix string `yaml:"redis_key_prefix"`

	// RedisTTL expires idle sessions in redis. Zero keeps them forever.
	RedisTTL time.Duration `yaml:"redis_ttl"`
}

// ProvidersConfig declares which provider implementation to use for each
// pipeline stage. Each field selects a named provider registered in the [Registry].
type ProvidersConfig struct {
	STT ProviderEntry `yaml:"stt"`
	LLM ProviderEntry `yaml:"llm"`
	TTS ProviderEntry `yaml:"tts"`
	VAD ProviderEntry `yaml:"vad"`

	// Resilience tunes the circuit breakers wrapped around every provider
	// that has fallbacks.
	Resilience ResilienceConfig `yaml:"resilience"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "groq", "openai").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider
	// (e.g., "whisper-large-v3", "llama-3.3-70b-versatile").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`

	// Fallbacks are tried in order when this provider fails or its circuit
	// breaker is open.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`
}

// ResilienceConfig tunes provider circuit breakers.
type ResilienceConfig struct {
	// MaxFailures trips a breaker. Default: 5.
	MaxFailures int `yaml:"max_failures"`

	// ResetTimeout is how long a tripped breaker stays open. Default: 30s.
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}
