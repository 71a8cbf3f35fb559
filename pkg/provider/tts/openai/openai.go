// Package openai provides a TTS provider for the OpenAI /audio/speech API and
// compatible servers.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/echo/pkg/audio"
	"github.com/MrWong99/echo/pkg/provider/tts"
)

const (
	defaultModel = "tts-1"
	defaultVoice = "alloy"
)

// pcmFormat is the fixed layout of the "pcm" response format.
var pcmFormat = audio.Format{SampleRate: 24000, Channels: 1}

// Provider implements tts.Provider using the openai-go client.
type Provider struct {
	client   oai.Client
	model    string
	voice    string
	encoding tts.Encoding
	speed    float64
}

type config struct {
	baseURL    string
	model      string
	voice      string
	encoding   tts.Encoding
	speed      float64
	timeout    time.Duration
	httpClient *http.Client
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the API base URL.
func WithBaseURL(url string) Option { return func(c *config) { c.baseURL = url } }

// WithModel sets the speech model (default "tts-1").
func WithModel(m string) Option { return func(c *config) { c.model = m } }

// WithDefaultVoice sets the voice used when Synthesize receives an empty one.
func WithDefaultVoice(v string) Option { return func(c *config) { c.voice = v } }

// WithEncoding selects the response format: mp3 (default), wav or pcm.
func WithEncoding(e tts.Encoding) Option { return func(c *config) { c.encoding = e } }

// WithSpeed sets the speaking rate in [0.25, 4.0]. Zero keeps the default.
func WithSpeed(s float64) Option { return func(c *config) { c.speed = s } }

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option { return func(c *config) { c.timeout = d } }

// WithHTTPClient replaces the HTTP client used for requests.
func WithHTTPClient(hc *http.Client) Option { return func(c *config) { c.httpClient = hc } }

// New constructs a speech Provider.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai tts: apiKey must not be empty")
	}
	cfg := &config{model: defaultModel, voice: defaultVoice, encoding: tts.EncodingMP3}
	for _, o := range opts {
		o(cfg)
	}
	switch cfg.encoding {
	case tts.EncodingMP3, tts.EncodingWAV, tts.EncodingPCM:
	default:
		return nil, fmt.Errorf("openai tts: unsupported encoding %q", cfg.encoding)
	}
	if cfg.speed != 0 && (cfg.speed < 0.25 || cfg.speed > 4) {
		return nil, fmt.Errorf("openai tts: speed %v outside [0.25, 4.0]", cfg.speed)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	switch {
	case cfg.httpClient != nil:
		reqOpts = append(reqOpts, option.WithHTTPClient(cfg.httpClient))
	case cfg.timeout > 0:
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	return &Provider{
		client:   oai.NewClient(reqOpts...),
		model:    cfg.model,
		voice:    cfg.voice,
		encoding: cfg.encoding,
		speed:    cfg.speed,
	}, nil
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text, voice string) (*tts.Speech, error) {
	if voice == "" {
		voice = p.voice
	}
	params := oai.AudioSpeechNewParams{
		Input:          text,
		Model:          oai.SpeechModel(p.model),
		Voice:          oai.AudioSpeechNewParamsVoice(voice),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormat(p.encoding),
	}
	if p.speed != 0 {
		params.Speed = oai.Float(p.speed)
	}

	resp, err := p.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai tts: synthesize: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("openai tts: read body: %w", err)
	}
	sp := &tts.Speech{Data: data, Encoding: p.encoding}
	if p.encoding == tts.EncodingPCM {
		sp.Format = pcmFormat
	}
	return sp, nil
}

var _ tts.Provider = (*Provider)(nil)
