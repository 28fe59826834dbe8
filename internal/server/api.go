package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"regexp"

	"github.com/go-chi/chi/v5"

	"github.com/narrativa/dna-interview/internal/apperr"
	"github.com/narrativa/dna-interview/internal/identity"
	"github.com/narrativa/dna-interview/internal/questions"
	"github.com/narrativa/dna-interview/internal/session"
	"github.com/narrativa/dna-interview/internal/storage"
	"github.com/narrativa/dna-interview/internal/submission"
)

// MaxUploadBytes bounds the multipart body accepted by POST /api/transcribe.
const MaxUploadBytes = 32 << 20

var sessionIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

type SessionService interface {
	Create(ctx context.Context, callerID string) (storage.AnalysisSession, error)
	List(ctx context.Context, callerID string) ([]storage.AnalysisSession, error)
	Get(ctx context.Context, callerID, sessionID string) (session.Detail, error)
	ListResponses(ctx context.Context, callerID, sessionID string) ([]storage.Response, error)
}

type Submitter interface {
	Submit(ctx context.Context, req submission.Request) (submission.Result, error)
}

func registerAPIRoutes(r chi.Router, sessions SessionService, submitter Submitter) {
	r.Get("/me", func(w http.ResponseWriter, r *http.Request) {
		caller, _ := identity.FromContext(r.Context())
		writeJSON(w, http.StatusOK, map[string]any{"user": caller})
	})

	r.Get("/questions", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"questions": questions.All()})
	})

	r.Get("/sessions", func(w http.ResponseWriter, r *http.Request) {
		caller, _ := identity.FromContext(r.Context())

		list, err := sessions.List(r.Context(), caller.UserID)
		if err != nil {
			writeServiceError(w, r, "list sessions", err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{"sessions": list})
	})

	r.Post("/sessions", func(w http.ResponseWriter, r *http.Request) {
		caller, _ := identity.FromContext(r.Context())

		sess, err := sessions.Create(r.Context(), caller.UserID)
		if err != nil {
			writeServiceError(w, r, "create session", err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"session": sess,
			"message": "Sessão criada com sucesso",
		})
	})

	r.Get("/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		caller, _ := identity.FromContext(r.Context())
		sessionID := chi.URLParam(r, "id")
		if !validSessionID(sessionID) {
			writeJSONError(w, http.StatusNotFound, "session not found")
			return
		}

		detail, err := sessions.Get(r.Context(), caller.UserID, sessionID)
		if err != nil {
			writeServiceError(w, r, "get session", err)
			return
		}

		writeJSON(w, http.StatusOK, detail)
	})

	r.Get("/sessions/{id}/responses", func(w http.ResponseWriter, r *http.Request) {
		caller, _ := identity.FromContext(r.Context())
		sessionID := chi.URLParam(r, "id")
		if !validSessionID(sessionID) {
			writeJSONError(w, http.StatusNotFound, "session not found")
			return
		}

		responses, err := sessions.ListResponses(r.Context(), caller.UserID, sessionID)
		if err != nil {
			writeServiceError(w, r, "list responses", err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{"responses": responses})
	})

	r.Post("/transcribe", func(w http.ResponseWriter, r *http.Request) {
		caller, _ := identity.FromContext(r.Context())

		r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBytes)
		if err := r.ParseMultipartForm(MaxUploadBytes); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeJSONError(w, http.StatusRequestEntityTooLarge, "audio too large")
				return
			}
			writeJSONError(w, http.StatusBadRequest, "invalid multipart form")
			return
		}
		defer func() { _ = r.MultipartForm.RemoveAll() }()

		var audio []byte
		if file, _, err := r.FormFile("audio"); err == nil {
			audio, err = io.ReadAll(file)
			_ = file.Close()
			if err != nil {
				writeJSONError(w, http.StatusBadRequest, "could not read audio")
				return
			}
		}

		result, err := submitter.Submit(r.Context(), submission.Request{
			Caller:        caller,
			SessionID:     r.FormValue("sessionId"),
			QuestionIndex: r.FormValue("questionIndex"),
			QuestionText:  r.FormValue("questionText"),
			Audio:         audio,
		})
		if err != nil {
			writeServiceError(w, r, "submit answer", err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"transcript":  result.Transcript,
			"response_id": result.ResponseID,
			"progress":    result.Progress,
			"message":     "Áudio processado e salvo com sucesso",
		})
	})
}

func validSessionID(id string) bool {
	return sessionIDPattern.MatchString(id)
}

// statusFor maps an error kind to its HTTP status and client-facing message.
func statusFor(err error) (int, string) {
	switch apperr.Kind(err) {
	case apperr.ErrUnauthenticated:
		return http.StatusUnauthorized, "unauthenticated"
	case apperr.ErrBadRequest:
		return http.StatusBadRequest, "bad request"
	case apperr.ErrForbidden:
		return http.StatusForbidden, "forbidden"
	case apperr.ErrNotFound:
		return http.StatusNotFound, "not found"
	case apperr.ErrServiceUnavailable:
		return http.StatusServiceUnavailable, "service unavailable"
	case apperr.ErrUpstream:
		return http.StatusBadGateway, "upstream service failed"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

func writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, msg := statusFor(err)

	attrs := []any{"op", op, "status", status, "error", err}
	if caller, ok := identity.FromContext(r.Context()); ok {
		attrs = append(attrs, "user_id", caller.UserID)
	}
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", attrs...)
	} else {
		slog.Info("request rejected", attrs...)
	}

	writeJSONError(w, status, msg)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
