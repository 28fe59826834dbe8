// Package session implements the interview session lifecycle: creating a
// session for a caller, listing a caller's sessions and reading back the
// answers recorded in one of them.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/narrativa/dna-interview/internal/apperr"
	"github.com/narrativa/dna-interview/internal/questions"
	"github.com/narrativa/dna-interview/internal/storage"
)

type Service struct {
	store Store
	hub   EventBroadcaster
}

// NewService builds a Service. hub may be nil.
func NewService(store Store, hub EventBroadcaster) *Service {
	return &Service{store: store, hub: hub}
}

func (s *Service) Create(ctx context.Context, callerID string) (storage.AnalysisSession, error) {
	if strings.TrimSpace(callerID) == "" {
		return storage.AnalysisSession{}, ErrNoCaller
	}

	sess, err := s.store.CreateSession(ctx, callerID)
	if err != nil {
		return storage.AnalysisSession{}, storageError("create session", err)
	}

	slog.Info("session created", "session_id", sess.ID, "user_id", callerID)
	if s.hub != nil {
		s.hub.BroadcastSessionCreated(callerID, sess)
	}
	return sess, nil
}

// List returns the caller's sessions, newest first.
func (s *Service) List(ctx context.Context, callerID string) ([]storage.AnalysisSession, error) {
	if strings.TrimSpace(callerID) == "" {
		return nil, ErrNoCaller
	}

	sessions, err := s.store.ListSessions(ctx, callerID)
	if err != nil {
		return nil, storageError("list sessions", err)
	}
	if sessions == nil {
		sessions = []storage.AnalysisSession{}
	}
	return sessions, nil
}

// Authorize loads the session and checks that callerID owns it.
func (s *Service) Authorize(ctx context.Context, callerID, sessionID string) (storage.AnalysisSession, error) {
	if strings.TrimSpace(callerID) == "" {
		return storage.AnalysisSession{}, ErrNoCaller
	}
	if strings.TrimSpace(sessionID) == "" {
		return storage.AnalysisSession{}, fmt.Errorf("%w: empty session id", apperr.ErrNotFound)
	}

	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return storage.AnalysisSession{}, lookupError(sessionID, err)
	}
	if sess.UserID != callerID {
		return storage.AnalysisSession{}, fmt.Errorf("%w: session %s belongs to another user", apperr.ErrForbidden, sessionID)
	}
	return sess, nil
}

// ListResponses returns the answers of an owned session ordered by
// question index.
func (s *Service) ListResponses(ctx context.Context, callerID, sessionID string) ([]storage.Response, error) {
	if _, err := s.Authorize(ctx, callerID, sessionID); err != nil {
		return nil, err
	}

	responses, err := s.store.ListResponses(ctx, sessionID)
	if err != nil {
		return nil, storageError("list responses", err)
	}
	if responses == nil {
		responses = []storage.Response{}
	}
	return responses, nil
}

func (s *Service) Get(ctx context.Context, callerID, sessionID string) (Detail, error) {
	sess, err := s.Authorize(ctx, callerID, sessionID)
	if err != nil {
		return Detail{}, err
	}

	responses, err := s.store.ListResponses(ctx, sessionID)
	if err != nil {
		return Detail{}, storageError("list responses", err)
	}
	if responses == nil {
		responses = []storage.Response{}
	}

	return Detail{
		Session:   sess,
		Responses: responses,
		Progress:  Progress(responses),
	}, nil
}

// Progress derives completion from a session's responses.
func Progress(responses []storage.Response) questions.Progress {
	answered := make([]int, 0, len(responses))
	for _, r := range responses {
		answered = append(answered, r.QuestionIndex)
	}
	return questions.ProgressOf(answered)
}
