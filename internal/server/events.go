package server

import (
	"time"

	"github.com/narrativa/dna-interview/internal/questions"
	"github.com/narrativa/dna-interview/internal/storage"
)

const EventVersion = 1

type Event struct {
	Type      string `json:"type"`
	Version   int    `json:"version"`
	Timestamp string `json:"timestamp"`
}

type ConnectionEvent struct {
	Event
	Connected bool   `json:"connected"`
	UserID    string `json:"user_id"`
}

type SessionCreatedEvent struct {
	Event
	Session storage.AnalysisSession `json:"session"`
}

type ResponseSavedEvent struct {
	Event
	SessionID     string             `json:"session_id"`
	ResponseID    string             `json:"response_id"`
	QuestionIndex int                `json:"question_index"`
	Transcript    string             `json:"transcript"`
	Progress      questions.Progress `json:"progress"`
}

func newEvent(eventType string, now time.Time) Event {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return Event{
		Type:      eventType,
		Version:   EventVersion,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	}
}
