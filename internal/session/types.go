package session

import (
	"context"

	"github.com/narrativa/dna-interview/internal/questions"
	"github.com/narrativa/dna-interview/internal/storage"
)

type Store interface {
	CreateSession(ctx context.Context, userID string) (storage.AnalysisSession, error)
	GetSession(ctx context.Context, id string) (storage.AnalysisSession, error)
	ListSessions(ctx context.Context, userID string) ([]storage.AnalysisSession, error)
	ListResponses(ctx context.Context, sessionID string) ([]storage.Response, error)
}

type EventBroadcaster interface {
	BroadcastSessionCreated(userID string, sess storage.AnalysisSession)
}

// Detail is a session together with its answers and derived progress.
type Detail struct {
	Session   storage.AnalysisSession `json:"session"`
	Responses []storage.Response      `json:"responses"`
	Progress  questions.Progress      `json:"progress"`
}
