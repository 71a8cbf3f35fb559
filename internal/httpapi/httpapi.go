// Package httpapi exposes the dialogue service over HTTP.
//
// POST /interact takes a multipart body with a "file" part (WAV audio of one
// utterance) and a "session_id" field and answers
// {"text": ..., "session_id": ...}. Every failure is answered with a non-2xx
// status and {"detail": ...}. Server-side failures carry a generic detail;
// the cause is only logged.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/MrWong99/echo/internal/dialogue"
	"github.com/MrWong99/echo/internal/observe"
)

// DefaultMaxUploadBytes caps the request body when no limit is configured.
const DefaultMaxUploadBytes = 25 << 20

// StatusClientClosedRequest answers a request whose caller disconnected
// before the turn finished. Nobody reads it; it keeps the request out of the
// success figures.
const StatusClientClosedRequest = 499

// multipartMemory is the share of a multipart body held in memory before
// parts spill to disk.
const multipartMemory = 8 << 20

// Interactor runs one dialogue turn. [*dialogue.Service] implements it.
type Interactor interface {
	Interact(ctx context.Context, audio []byte, sessionID string) (*dialogue.Result, error)
}

// Option configures a [Handler].
type Option func(*Handler)

// WithMaxUploadBytes caps the request body. Non-positive values keep the
// default.
func WithMaxUploadBytes(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxUpload = n
		}
	}
}

// Handler serves the interact route.
type Handler struct {
	svc       Interactor
	maxUpload int64
}

// New creates a Handler backed by svc.
func New(svc Interactor, opts ...Option) *Handler {
	h := &Handler{svc: svc, maxUpload: DefaultMaxUploadBytes}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Register adds POST /interact to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /interact", h.Interact)
}

type errorBody struct {
	Detail string `json:"detail"`
}

// Interact handles POST /interact.
func (h *Handler) Interact(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := observe.Logger(ctx)

	if r.ContentLength > h.maxUpload {
		writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds size limit")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds size limit")
			return
		}
		writeError(w, http.StatusUnprocessableEntity, "expected multipart/form-data with file and session_id")
		return
	}
	defer func() {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			log.Warn("failed to remove multipart temp files", "err", err)
		}
	}()

	sessionID := r.FormValue("session_id")
	if sessionID == "" {
		writeError(w, http.StatusUnprocessableEntity, "missing field: session_id")
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "missing field: file")
		return
	}
	audio, err := io.ReadAll(file)
	_ = file.Close()
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read uploaded file")
		return
	}

	res, err := h.svc.Interact(ctx, audio, sessionID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, res)
	case errors.Is(err, dialogue.ErrEmptyTranscript):
		writeError(w, http.StatusBadRequest, "Could not transcribe audio")
	case errors.Is(err, dialogue.ErrInvalidSession):
		writeError(w, http.StatusBadRequest, "invalid session_id")
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		log.Info("client went away during interaction", "session_id", sessionID)
		writeError(w, StatusClientClosedRequest, "client closed request")
	default:
		log.Error("interaction failed", "session_id", sessionID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorBody{Detail: detail})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
