// Package dialogue turns one recorded utterance into one assistant reply
// while keeping the per-session conversation log.
//
// A turn is: transcribe the audio, load the session log, ask the LLM for a
// reply given the system prompt, the full log and the new user turn, then
// persist the log extended by both turns. The log is written only after the
// LLM succeeded, so a failed turn never leaves a user turn without its reply.
package dialogue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/echo/internal/observe"
	"github.com/MrWong99/echo/internal/scratch"
	"github.com/MrWong99/echo/internal/session"
	"github.com/MrWong99/echo/pkg/provider/llm"
	"github.com/MrWong99/echo/pkg/provider/stt"
)

// DefaultSystemPrompt is the instruction that opens every prompt.
const DefaultSystemPrompt = "You are Echo, a helpful, concise, and intelligent AI assistant. " +
	"Answer the user's questions clearly and briefly. Do not ramble."

var (
	// ErrEmptyTranscript means the audio produced no text. Nothing was stored.
	ErrEmptyTranscript = errors.New("dialogue: could not transcribe audio")

	// ErrInvalidSession means the session id is unusable as a storage key.
	ErrInvalidSession = errors.New("dialogue: invalid session id")

	// ErrEmptyReply means the LLM returned no content. Nothing was stored.
	ErrEmptyReply = errors.New("dialogue: empty completion")
)

// Config tunes a [Service]. Zero fields take the defaults noted.
type Config struct {
	// SystemPrompt defaults to [DefaultSystemPrompt].
	SystemPrompt string

	// Language is the ISO-639-1 hint passed to STT. Default: "en".
	Language string

	// Temperature is the LLM sampling temperature. Nil means 0.7.
	Temperature *float64

	// MaxTokens bounds the reply length. Default: 150.
	MaxTokens int

	// ScratchDir holds the transient audio file. Empty uses the OS temp dir.
	ScratchDir string

	// STTName and LLMName label provider metrics.
	STTName string
	LLMName string
}

func (c Config) withDefaults() Config {
	if c.SystemPrompt == "" {
		c.SystemPrompt = DefaultSystemPrompt
	}
	if c.Language == "" {
		c.Language = "en"
	}
	if c.Temperature == nil {
		t := 0.7
		c.Temperature = &t
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 150
	}
	if c.STTName == "" {
		c.STTName = "stt"
	}
	if c.LLMName == "" {
		c.LLMName = "llm"
	}
	return c
}

// Result is the outcome of one successful turn.
type Result struct {
	Text      string `json:"text"`
	SessionID string `json:"session_id"`
}

// Option configures a [Service].
type Option func(*Service)

// WithMetrics records to m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// Service runs dialogue turns. It is safe for concurrent use; turns for the
// same session id run one at a time, turns for different ids in parallel.
type Service struct {
	mu      sync.RWMutex
	cfg     Config
	stt     stt.Provider
	llm     llm.Provider
	store   session.Store
	metrics *observe.Metrics
	locks   *keyedMutex
}

// New creates a Service.
func New(cfg Config, s stt.Provider, l llm.Provider, store session.Store, opts ...Option) *Service {
	svc := &Service{
		cfg:   cfg.withDefaults(),
		stt:   s,
		llm:   l,
		store: store,
		locks: newKeyedMutex(),
	}
	for _, o := range opts {
		o(svc)
	}
	if svc.metrics == nil {
		svc.metrics = observe.DefaultMetrics()
	}
	return svc
}

// Reconfigure replaces the tuning used by turns that start afterwards.
// Provider names are kept from the current config when cfg leaves them empty.
func (s *Service) Reconfigure(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg.STTName == "" {
		cfg.STTName = s.cfg.STTName
	}
	if cfg.LLMName == "" {
		cfg.LLMName = s.cfg.LLMName
	}
	s.cfg = cfg.withDefaults()
}

func (s *Service) config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Interact runs one turn for sessionID with the WAV audio of one utterance.
//
// Possible errors: [ErrInvalidSession], [ErrEmptyTranscript], [ErrEmptyReply],
// wrapped provider or store errors, or ctx's error. On any error the stored
// log is unchanged.
func (s *Service) Interact(ctx context.Context, audio []byte, sessionID string) (res *Result, err error) {
	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "dialogue.Interact", trace.WithAttributes(
		attribute.String("session.id", sessionID),
		attribute.Int("audio.bytes", len(audio)),
	))
	s.metrics.ActiveInteractions.Add(ctx, 1)
	defer func() {
		s.metrics.ActiveInteractions.Add(ctx, -1)
		s.metrics.RecordInteraction(ctx, status(err), time.Since(start))
		observe.EndSpan(span, err)
	}()

	if verr := session.ValidateID(sessionID); verr != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSession, verr)
	}

	cfg := s.config()

	userText, err := s.transcribe(ctx, cfg, audio)
	if err != nil {
		return nil, err
	}
	if userText == "" {
		return nil, ErrEmptyTranscript
	}

	unlock, err := s.locks.Lock(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	history, err := s.loadHistory(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	reply, err := s.complete(ctx, cfg, history, userText)
	if err != nil {
		return nil, err
	}

	if err := s.store.Save(ctx, sessionID, history.WithExchange(userText, reply)); err != nil {
		return nil, fmt.Errorf("dialogue: save session: %w", err)
	}

	observe.Logger(ctx).Debug("dialogue turn complete",
		"session_id", sessionID,
		"turns", len(history)+2,
		"duration", time.Since(start))
	return &Result{Text: reply, SessionID: sessionID}, nil
}

// transcribe stages audio in a scratch file for the STT call and returns the
// trimmed transcript.
func (s *Service) transcribe(ctx context.Context, cfg Config, audio []byte) (string, error) {
	ctx, span := observe.StartSpan(ctx, "dialogue.transcribe")
	var text string
	err := scratch.WithFile(cfg.ScratchDir, "echo-input-*.wav", audio, func(path string) error {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		start := time.Now()
		tr, err := s.stt.Transcribe(ctx, stt.Request{
			Audio:       f,
			Filename:    "input.wav",
			ContentType: "audio/wav",
			Language:    cfg.Language,
		})
		s.metrics.STTDuration.Record(ctx, time.Since(start).Seconds())
		if err != nil {
			s.recordProvider(ctx, cfg.STTName, "stt", err)
			return err
		}
		s.recordProvider(ctx, cfg.STTName, "stt", nil)
		text = strings.TrimSpace(tr.Text)
		return nil
	})
	if err != nil {
		err = fmt.Errorf("dialogue: transcribe: %w", err)
	}
	observe.EndSpan(span, err)
	return text, err
}

// loadHistory returns the stored log. A log that no longer decodes is
// replaced by an empty one; any other store failure aborts the turn so the
// following Save cannot overwrite history that was merely out of reach.
func (s *Service) loadHistory(ctx context.Context, sessionID string) (session.Log, error) {
	history, err := s.store.Load(ctx, sessionID)
	switch {
	case err == nil:
		return history, nil
	case errors.Is(err, session.ErrCorrupt):
		observe.Logger(ctx).Warn("session log corrupt, starting empty",
			"session_id", sessionID,
			"err", err)
		return session.Log{}, nil
	default:
		return nil, fmt.Errorf("dialogue: load session: %w", err)
	}
}

func (s *Service) complete(ctx context.Context, cfg Config, history session.Log, userText string) (string, error) {
	ctx, span := observe.StartSpan(ctx, "dialogue.complete",
		trace.WithAttributes(attribute.Int("history.turns", len(history))))

	start := time.Now()
	resp, err := s.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: cfg.SystemPrompt,
		Messages:     buildMessages(history, userText),
		Temperature:  *cfg.Temperature,
		MaxTokens:    cfg.MaxTokens,
	})
	s.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())
	s.recordProvider(ctx, cfg.LLMName, "llm", err)

	var reply string
	switch {
	case err != nil:
		err = fmt.Errorf("dialogue: complete: %w", err)
	case resp == nil || strings.TrimSpace(resp.Content) == "":
		err = ErrEmptyReply
	default:
		reply = strings.TrimSpace(resp.Content)
	}
	observe.EndSpan(span, err)
	return reply, err
}

func (s *Service) recordProvider(ctx context.Context, name, kind string, err error) {
	if err != nil {
		s.metrics.RecordProviderRequest(ctx, name, kind, observe.StatusError)
		s.metrics.RecordProviderError(ctx, name, kind)
		return
	}
	s.metrics.RecordProviderRequest(ctx, name, kind, observe.StatusOK)
}

// buildMessages maps the log plus the new user turn onto LLM messages.
func buildMessages(history session.Log, userText string) []llm.Message {
	msgs := make([]llm.Message, 0, len(history)+1)
	for _, t := range history {
		role := llm.RoleUser
		if t.Role == session.RoleAssistant {
			role = llm.RoleAssistant
		}
		msgs = append(msgs, llm.Message{Role: role, Content: t.Content})
	}
	return append(msgs, llm.Message{Role: llm.RoleUser, Content: userText})
}

func status(err error) string {
	switch {
	case err == nil:
		return observe.StatusOK
	case errors.Is(err, ErrEmptyTranscript):
		return observe.StatusEmptyTranscript
	case errors.Is(err, ErrInvalidSession):
		return observe.StatusInvalidSession
	case errors.Is(err, context.Canceled):
		return observe.StatusCanceled
	default:
		return observe.StatusError
	}
}
