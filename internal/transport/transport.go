// Package transport ships finished utterances to the dialogue server and
// returns its reply.
//
// A [Session] carries the conversation token for one client run. It is
// passed explicitly to every call, so several clients can share a process.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/echo/internal/segment"
	"github.com/MrWong99/echo/pkg/audio"
)

// DefaultTimeout bounds one request, including reading the reply.
const DefaultTimeout = 60 * time.Second

// maxErrorBody caps how much of a failed response body is kept.
const maxErrorBody = 4 << 10

// Session identifies one conversation with the server.
type Session struct {
	ID string
}

// NewSession returns a Session with a fresh random token.
func NewSession() *Session {
	return &Session{ID: uuid.NewString()}
}

// InteractionResult is the server's reply to one utterance.
type InteractionResult struct {
	Text      string `json:"text"`
	SessionID string `json:"session_id"`
}

// StatusError is returned for any non-2xx response.
type StatusError struct {
	StatusCode int

	// Detail is the server's "detail" message when the body carried one.
	Detail string

	// Body is the raw response body, truncated.
	Body string
}

func (e *StatusError) Error() string {
	msg := e.Detail
	if msg == "" {
		msg = e.Body
	}
	if msg == "" {
		return fmt.Sprintf("transport: server returned %d", e.StatusCode)
	}
	return fmt.Sprintf("transport: server returned %d: %s", e.StatusCode, msg)
}

// Option configures a [Client].
type Option func(*Client)

// WithHTTPClient replaces the HTTP client. Its Timeout is left as given.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithTimeout sets the per-request timeout. Default: [DefaultTimeout].
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) { cl.timeout = d }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(cl *Client) { cl.userAgent = ua }
}

// Client posts utterances to the server's interact endpoint. It makes one
// attempt per call and never retries.
type Client struct {
	endpoint  string
	http      *http.Client
	timeout   time.Duration
	userAgent string
}

// New returns a Client posting to endpoint, the full URL of the interact
// route (e.g. "http://localhost:8000/interact").
func New(endpoint string, opts ...Option) (*Client, error) {
	if endpoint == "" {
		return nil, errors.New("transport: endpoint must not be empty")
	}
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		return nil, fmt.Errorf("transport: endpoint %q must be an http(s) URL", endpoint)
	}
	c := &Client{
		endpoint:  endpoint,
		timeout:   DefaultTimeout,
		userAgent: "echo-client",
	}
	for _, o := range opts {
		o(c)
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: c.timeout}
	}
	return c, nil
}

// Endpoint returns the URL requests are posted to.
func (c *Client) Endpoint() string { return c.endpoint }

// SendUtterance encodes utt as WAV and posts it with the session token.
//
// A non-2xx response yields a [*StatusError]. Network failures, timeouts and
// undecodable replies are returned wrapped.
func (c *Client) SendUtterance(ctx context.Context, sess *Session, utt segment.Utterance) (*InteractionResult, error) {
	if sess == nil || sess.ID == "" {
		return nil, errors.New("transport: session has no id")
	}
	if utt.Len() == 0 {
		return nil, errors.New("transport: empty utterance")
	}
	wav := audio.EncodeWAV(utt.PCM(), utt.Format())
	return c.SendWAV(ctx, sess, wav)
}

// SendWAV posts an already encoded WAV file.
func (c *Client) SendWAV(ctx context.Context, sess *Session, wav []byte) (*InteractionResult, error) {
	body, contentType, err := buildMultipart(wav, sess.ID)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("transport: build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transport: post %s: %w", c.endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newStatusError(resp)
	}

	var res InteractionResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("transport: decode reply: %w", err)
	}
	return &res, nil
}

func buildMultipart(wav []byte, sessionID string) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="input.wav"`)
	h.Set("Content-Type", "audio/wav")
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("transport: create file part: %w", err)
	}
	if _, err := part.Write(wav); err != nil {
		return nil, "", fmt.Errorf("transport: write file part: %w", err)
	}
	if err := mw.WriteField("session_id", sessionID); err != nil {
		return nil, "", fmt.Errorf("transport: write session_id: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("transport: close multipart: %w", err)
	}
	return &buf, mw.FormDataContentType(), nil
}

func newStatusError(resp *http.Response) *StatusError {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	se := &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	var detail struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(raw, &detail) == nil {
		se.Detail = detail.Detail
	}
	return se
}
