// Package submission turns one recorded answer into a persisted response:
// the audio is transcribed and archived, then the transcript is stored
// against the session and question it answers.
package submission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/narrativa/dna-interview/internal/apperr"
	"github.com/narrativa/dna-interview/internal/archive"
	"github.com/narrativa/dna-interview/internal/identity"
	"github.com/narrativa/dna-interview/internal/questions"
	"github.com/narrativa/dna-interview/internal/session"
	"github.com/narrativa/dna-interview/internal/storage"
)

type Authorizer interface {
	Authorize(ctx context.Context, callerID, sessionID string) (storage.AnalysisSession, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, language string) (string, error)
}

type Archive interface {
	ResolveUserFolder(ctx context.Context, email string) (string, error)
	Upload(ctx context.Context, data []byte, fileName, folderID string) (string, error)
}

type Store interface {
	UpsertResponse(ctx context.Context, resp storage.Response) (storage.Response, error)
	ListResponses(ctx context.Context, sessionID string) ([]storage.Response, error)
}

type EventBroadcaster interface {
	BroadcastResponseSaved(userID string, resp storage.Response, progress questions.Progress)
}

type Config struct {
	Language          string
	TranscribeTimeout time.Duration
	ArchiveTimeout    time.Duration
}

// Request is one submitted answer. QuestionIndex is kept as received so
// that parsing failures surface as bad requests.
type Request struct {
	Caller        identity.Identity
	SessionID     string
	QuestionIndex string
	QuestionText  string
	Audio         []byte
}

type Result struct {
	Transcript string             `json:"transcript"`
	ResponseID string             `json:"response_id"`
	Progress   questions.Progress `json:"progress"`
}

type Pipeline struct {
	sessions    Authorizer
	transcriber Transcriber
	archive     Archive
	store       Store
	hub         EventBroadcaster
	cfg         Config
	now         func() time.Time
}

// New builds a Pipeline. A nil transcriber or archive leaves submissions
// unavailable; hub may be nil.
func New(sessions Authorizer, transcriber Transcriber, arc Archive, store Store, hub EventBroadcaster, cfg Config) *Pipeline {
	if cfg.Language == "" {
		cfg.Language = "pt-BR"
	}
	if cfg.TranscribeTimeout <= 0 {
		cfg.TranscribeTimeout = 60 * time.Second
	}
	if cfg.ArchiveTimeout <= 0 {
		cfg.ArchiveTimeout = 60 * time.Second
	}

	return &Pipeline{
		sessions:    sessions,
		transcriber: transcriber,
		archive:     arc,
		store:       store,
		hub:         hub,
		cfg:         cfg,
		now:         time.Now,
	}
}

// Submit validates the request, transcribes and archives the audio, and
// stores the response. Nothing is persisted unless both the transcript and
// the archived file id were obtained.
func (p *Pipeline) Submit(ctx context.Context, req Request) (Result, error) {
	caller := req.Caller
	if strings.TrimSpace(caller.UserID) == "" || strings.TrimSpace(caller.Email) == "" {
		return Result{}, fmt.Errorf("%w: caller id and email are required", apperr.ErrUnauthenticated)
	}

	idx, text, err := validate(req)
	if err != nil {
		return Result{}, err
	}

	if p.transcriber == nil {
		return Result{}, fmt.Errorf("%w: transcription not configured", apperr.ErrServiceUnavailable)
	}
	if p.archive == nil {
		return Result{}, fmt.Errorf("%w: archive not configured", apperr.ErrServiceUnavailable)
	}

	if _, err := p.sessions.Authorize(ctx, caller.UserID, req.SessionID); err != nil {
		return Result{}, err
	}

	var transcript, folderID string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		tctx, cancel := context.WithTimeout(gctx, p.cfg.TranscribeTimeout)
		defer cancel()

		out, err := p.transcriber.Transcribe(tctx, req.Audio, p.cfg.Language)
		if err != nil {
			return fmt.Errorf("%w: transcription failed: %w", apperr.ErrUpstream, err)
		}
		transcript = out
		return nil
	})
	g.Go(func() error {
		actx, cancel := context.WithTimeout(gctx, p.cfg.ArchiveTimeout)
		defer cancel()

		out, err := p.archive.ResolveUserFolder(actx, caller.Email)
		if err != nil {
			return fmt.Errorf("%w: resolve archive folder: %w", apperr.ErrUpstream, err)
		}
		folderID = out
		return nil
	})
	if err := g.Wait(); err != nil {
		slog.Error("submission failed before upload", "session_id", req.SessionID, "question_index", idx, "error", err)
		return Result{}, err
	}

	fileName := archive.FileName(req.SessionID, idx, p.now())
	uctx, cancel := context.WithTimeout(ctx, p.cfg.ArchiveTimeout)
	fileID, err := p.archive.Upload(uctx, req.Audio, fileName, folderID)
	cancel()
	if err != nil {
		slog.Error("archive upload failed", "session_id", req.SessionID, "question_index", idx, "error", err)
		return Result{}, fmt.Errorf("%w: archive upload: %w", apperr.ErrUpstream, err)
	}
	if fileID == "" {
		return Result{}, fmt.Errorf("%w: archive returned no file id", apperr.ErrUpstream)
	}

	saved, err := p.store.UpsertResponse(ctx, storage.Response{
		SessionID:        req.SessionID,
		QuestionIndex:    idx,
		QuestionText:     text,
		TranscriptText:   transcript,
		AudioFileDriveID: fileID,
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Result{}, fmt.Errorf("%w: session %s: %w", apperr.ErrNotFound, req.SessionID, err)
		}
		return Result{}, fmt.Errorf("%w: save response: %w", apperr.ErrStorage, err)
	}

	slog.Info("response saved",
		"session_id", req.SessionID,
		"question_index", idx,
		"response_id", saved.ID,
		"drive_file_id", fileID,
		"transcript_chars", len(transcript),
	)

	result := Result{Transcript: transcript, ResponseID: saved.ID}
	if responses, err := p.store.ListResponses(ctx, req.SessionID); err != nil {
		slog.Warn("progress unavailable", "session_id", req.SessionID, "error", err)
	} else {
		result.Progress = session.Progress(responses)
	}

	if p.hub != nil {
		p.hub.BroadcastResponseSaved(caller.UserID, saved, result.Progress)
	}

	return result, nil
}

func validate(req Request) (int, string, error) {
	if len(req.Audio) == 0 {
		return 0, "", fmt.Errorf("%w: audio is required", apperr.ErrBadRequest)
	}
	if strings.TrimSpace(req.SessionID) == "" {
		return 0, "", fmt.Errorf("%w: sessionId is required", apperr.ErrBadRequest)
	}

	raw := strings.TrimSpace(req.QuestionIndex)
	if raw == "" {
		return 0, "", fmt.Errorf("%w: questionIndex is required", apperr.ErrBadRequest)
	}
	idx, err := strconv.Atoi(raw)
	if err != nil || idx < 0 {
		return 0, "", fmt.Errorf("%w: questionIndex must be a non-negative integer", apperr.ErrBadRequest)
	}
	if !questions.Valid(idx) {
		return 0, "", fmt.Errorf("%w: questionIndex %d out of range", apperr.ErrBadRequest, idx)
	}

	text := strings.TrimSpace(req.QuestionText)
	if text == "" {
		text, _ = questions.Text(idx)
	}
	return idx, text, nil
}
