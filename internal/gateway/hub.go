package gateway

import (
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/lvdashuaibi/livepoll/internal/model"
	"github.com/lvdashuaibi/livepoll/internal/room"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Frame is the envelope of every message on the wire, in both directions.
type Frame struct {
	Type string              `json:"type"`
	ID   string              `json:"id,omitempty"`
	Data jsoniter.RawMessage `json:"data,omitempty"`
}

type outFrame struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
	Data any    `json:"data,omitempty"`
}

// PublishResult reports how one room event was delivered.
type PublishResult struct {
	SentTo  int
	Dropped []string
}

// Hub owns the connected sessions and delivers room events to them.
// It implements service.Notifier.
type Hub struct {
	rooms      *room.Registry
	outboxSize int

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewHub(rooms *room.Registry, outboxSize int) *Hub {
	if outboxSize <= 0 {
		outboxSize = 64
	}
	return &Hub{
		rooms:      rooms,
		outboxSize: outboxSize,
		sessions:   make(map[string]*Session),
	}
}

// Notify encodes the event once and queues the same bytes for every room member.
func (h *Hub) Notify(event model.Event) {
	h.Publish(event)
}

func (h *Hub) Publish(event model.Event) PublishResult {
	var res PublishResult
	frame, err := json.Marshal(outFrame{Type: event.Type, Data: event.Data})
	if err != nil {
		log.Error().Err(err).Str("poll", event.PollID).Str("event", event.Type).Msg("encode room event failed")
		return res
	}

	members := h.rooms.MembersOf(event.PollID)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sid := range members {
		s, ok := h.sessions[sid]
		if !ok {
			continue
		}
		if !s.trySend(frame) {
			res.Dropped = append(res.Dropped, sid)
			continue
		}
		res.SentTo++
	}

	if len(res.Dropped) > 0 {
		log.Warn().Str("poll", event.PollID).Str("event", event.Type).Strs("dropped", res.Dropped).Msg("room event dropped for lagging sessions")
	}
	log.Debug().Str("poll", event.PollID).Str("event", event.Type).Int("sent_to", res.SentTo).Msg("room event published")
	return res
}

// Unicast queues a frame for a single session.
func (h *Hub) Unicast(sessionID, eventType, requestID string, data any) bool {
	frame, err := json.Marshal(outFrame{Type: eventType, ID: requestID, Data: data})
	if err != nil {
		log.Error().Err(err).Str("sid", sessionID).Str("event", eventType).Msg("encode frame failed")
		return false
	}

	h.mu.RLock()
	s, ok := h.sessions[sessionID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	if !s.trySend(frame) {
		log.Warn().Str("sid", sessionID).Str("event", eventType).Msg("frame dropped for lagging session")
		return false
	}
	return true
}

func (h *Hub) register(s *Session) {
	h.mu.Lock()
	h.sessions[s.ID] = s
	h.mu.Unlock()
}

func (h *Hub) unregister(s *Session) {
	h.mu.Lock()
	delete(h.sessions, s.ID)
	h.mu.Unlock()
	s.close()
}

// SessionIDs returns the ids of every connected session.
func (h *Hub) SessionIDs() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return lo.Keys(h.sessions)
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}
