package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/echo/internal/dialogue"
	"github.com/MrWong99/echo/internal/httpapi"
	"github.com/MrWong99/echo/internal/observe"
	"github.com/MrWong99/echo/internal/segment"
	"github.com/MrWong99/echo/internal/session"
	"github.com/MrWong99/echo/internal/transport"
	"github.com/MrWong99/echo/pkg/audio"
	"github.com/MrWong99/echo/pkg/provider/llm"
	llmmock "github.com/MrWong99/echo/pkg/provider/llm/mock"
	"github.com/MrWong99/echo/pkg/provider/stt"
	sttmock "github.com/MrWong99/echo/pkg/provider/stt/mock"
)

type fakeInteractor struct {
	res       *dialogue.Result
	err       error
	gotAudio  []byte
	gotID     string
	callCount int
}

func (f *fakeInteractor) Interact(_ context.Context, audio []byte, id string) (*dialogue.Result, error) {
	f.callCount++
	f.gotAudio, f.gotID = audio, id
	return f.res, f.err
}

func multipartBody(t *testing.T, file []byte, sessionID string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if file != nil {
		fw, err := mw.CreateFormFile("file", "input.wav")
		if err != nil {
			t.Fatal(err)
		}
		fw.Write(file)
	}
	if sessionID != "" {
		mw.WriteField("session_id", sessionID)
	}
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func post(t *testing.T, h http.Handler, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/interact", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func detail(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Detail string `json:"detail"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body.Detail
}

func newMux(svc httpapi.Interactor, opts ...httpapi.Option) *http.ServeMux {
	mux := http.NewServeMux()
	httpapi.New(svc, opts...).Register(mux)
	return mux
}

func TestInteract_Success(t *testing.T) {
	svc := &fakeInteractor{res: &dialogue.Result{Text: "hi there", SessionID: "s1"}}
	body, ct := multipartBody(t, []byte("RIFFdata"), "s1")

	rec := post(t, newMux(svc), body, ct)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", rec.Code, rec.Body)
	}
	var res dialogue.Result
	if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
		t.Fatal(err)
	}
	if res.Text != "hi there" || res.SessionID != "s1" {
		t.Errorf("result = %+v", res)
	}
	if string(svc.gotAudio) != "RIFFdata" || svc.gotID != "s1" {
		t.Errorf("service got audio=%q id=%q", svc.gotAudio, svc.gotID)
	}
}

func TestInteract_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantDetail string
	}{
		{"empty transcript", dialogue.ErrEmptyTranscript, http.StatusBadRequest, "Could not transcribe audio"},
		{"invalid session", fmt.Errorf("%w: too long", dialogue.ErrInvalidSession), http.StatusBadRequest, "invalid session_id"},
		{"provider failure", errors.New("groq: 503 upstream secret detail"), http.StatusInternalServerError, "internal server error"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			body, ct := multipartBody(t, []byte("RIFF"), "s1")
			rec := post(t, newMux(&fakeInteractor{err: tc.err}), body, ct)

			if rec.Code != tc.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
			if got := detail(t, rec); got != tc.wantDetail {
				t.Errorf("detail = %q, want %q", got, tc.wantDetail)
			}
		})
	}
}

func TestInteract_MissingFields(t *testing.T) {
	tests := []struct {
		name      string
		file      []byte
		sessionID string
		want      string
	}{
		{"no session", []byte("RIFF"), "", "session_id"},
		{"no file", nil, "s1", "file"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc := &fakeInteractor{}
			body, ct := multipartBody(t, tc.file, tc.sessionID)
			rec := post(t, newMux(svc), body, ct)

			if rec.Code != http.StatusUnprocessableEntity {
				t.Errorf("status = %d, want 422", rec.Code)
			}
			if got := detail(t, rec); !strings.Contains(got, tc.want) {
				t.Errorf("detail = %q, should mention %q", got, tc.want)
			}
			if svc.callCount != 0 {
				t.Error("service must not be called for an incomplete request")
			}
		})
	}
}

func TestInteract_NotMultipart(t *testing.T) {
	rec := post(t, newMux(&fakeInteractor{}), bytes.NewBufferString(`{"a":1}`), "application/json")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", rec.Code)
	}
}

func TestInteract_TooLarge(t *testing.T) {
	svc := &fakeInteractor{}
	body, ct := multipartBody(t, bytes.Repeat([]byte{1}, 4096), "s1")
	rec := post(t, newMux(svc, httpapi.WithMaxUploadBytes(1024)), body, ct)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", rec.Code)
	}
	if svc.callCount != 0 {
		t.Error("service must not be called for an oversized upload")
	}
}

func TestInteract_ClientGoneIsNotSuccess(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	svc := &fakeInteractor{err: fmt.Errorf("groq: transcribe: %w", context.Canceled)}
	body, ct := multipartBody(t, []byte("RIFF"), "s1")
	req := httptest.NewRequest(http.MethodPost, "/interact", body).WithContext(ctx)
	req.Header.Set("Content-Type", ct)
	cancel()

	rec := httptest.NewRecorder()
	newMux(svc).ServeHTTP(rec, req)

	if rec.Code != httpapi.StatusClientClosedRequest {
		t.Errorf("status = %d, want %d", rec.Code, httpapi.StatusClientClosedRequest)
	}
	if svc.callCount != 1 {
		t.Errorf("service called %d times, want 1", svc.callCount)
	}
}

func TestInteract_CanceledServiceWithLiveClientIsServerError(t *testing.T) {
	svc := &fakeInteractor{err: fmt.Errorf("llm: %w", context.Canceled)}
	body, ct := multipartBody(t, []byte("RIFF"), "s1")
	rec := post(t, newMux(svc), body, ct)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestInteract_MethodNotAllowed(t *testing.T) {
	rec := httptest.NewRecorder()
	newMux(&fakeInteractor{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/interact", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

// TestEndToEnd drives a real transport client against the handler backed by
// a dialogue service with mock providers.
func TestEndToEnd(t *testing.T) {
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatal(err)
	}

	store := session.NewMemoryStore()
	sttP := &sttmock.Provider{Result: stt.Transcript{Text: "hello"}}
	llmP := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "hi there"}}
	svc := dialogue.New(dialogue.Config{ScratchDir: t.TempDir()}, sttP, llmP, store, dialogue.WithMetrics(m))

	srv := httptest.NewServer(observe.Middleware(m)(newMux(svc)))
	defer srv.Close()

	client, err := transport.New(srv.URL+"/interact", transport.WithTimeout(5*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	sess := transport.NewSession()

	f := audio.Format{SampleRate: 16000, Channels: 1}
	utt := segment.Utterance{
		Frames:       []audio.Frame{{Data: make([]byte, f.FrameBytes(30)), Format: f}},
		SpeechFrames: 1,
	}

	res, err := client.SendUtterance(context.Background(), sess, utt)
	if err != nil {
		t.Fatalf("SendUtterance: %v", err)
	}
	if res.Text != "hi there" || res.SessionID != sess.ID {
		t.Errorf("result = %+v, want hi there / %s", res, sess.ID)
	}

	got, err := store.Load(context.Background(), sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	want := session.Log{
		{Role: session.RoleUser, Content: "hello"},
		{Role: session.RoleAssistant, Content: "hi there"},
	}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("stored log = %+v, want %+v", got, want)
	}

	// The uploaded audio is a WAV container the server can decode.
	pcm, gotFormat, err := audio.DecodeWAV(sttP.Calls[0].Audio)
	if err != nil {
		t.Fatalf("server received undecodable wav: %v", err)
	}
	if gotFormat != f || len(pcm) != f.FrameBytes(30) {
		t.Errorf("decoded format=%v len=%d", gotFormat, len(pcm))
	}

	// An empty transcript surfaces as a StatusError and leaves the log alone.
	sttP.Result = stt.Transcript{Text: "   "}
	_, err = client.SendUtterance(context.Background(), sess, utt)
	var se *transport.StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 StatusError, got %v", err)
	}
	if se.Detail != "Could not transcribe audio" {
		t.Errorf("detail = %q", se.Detail)
	}
	if got, _ := store.Load(context.Background(), sess.ID); len(got) != 2 {
		t.Errorf("log length after failed turn = %d, want 2", len(got))
	}
}
