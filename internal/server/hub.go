package server

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/narrativa/dna-interview/internal/questions"
	"github.com/narrativa/dna-interview/internal/storage"
)

// Hub fans events out to the websocket connections of one user at a time.
// Slow subscribers drop messages rather than block the publisher.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[chan []byte]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[string]map[chan []byte]struct{})}
}

func (h *Hub) Subscribe(userID string) chan []byte {
	ch := make(chan []byte, 64)
	h.mu.Lock()
	if h.clients[userID] == nil {
		h.clients[userID] = make(map[chan []byte]struct{})
	}
	h.clients[userID][ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) Unsubscribe(userID string, ch chan []byte) {
	h.mu.Lock()
	if subs, ok := h.clients[userID]; ok {
		delete(subs, ch)
		if len(subs) == 0 {
			delete(h.clients, userID)
		}
	}
	h.mu.Unlock()
	close(ch)
}

// Subscribers returns the number of open subscriptions for userID.
func (h *Hub) Subscribers(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

func (h *Hub) Send(userID string, msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.clients[userID] {
		select {
		case ch <- msg:
		default:
		}
	}
}

func (h *Hub) BroadcastSessionCreated(userID string, sess storage.AnalysisSession) {
	h.sendEvent(userID, SessionCreatedEvent{
		Event:   newEvent("session_created", time.Now().UTC()),
		Session: sess,
	})
}

func (h *Hub) BroadcastResponseSaved(userID string, resp storage.Response, progress questions.Progress) {
	h.sendEvent(userID, ResponseSavedEvent{
		Event:         newEvent("response_saved", time.Now().UTC()),
		SessionID:     resp.SessionID,
		ResponseID:    resp.ID,
		QuestionIndex: resp.QuestionIndex,
		Transcript:    resp.TranscriptText,
		Progress:      progress,
	})
}

func (h *Hub) sendEvent(userID string, event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("event marshal error", "error", err)
		return
	}
	h.Send(userID, payload)
}
