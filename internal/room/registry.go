package room

import (
	"fmt"
	"sort"
	"sync"

	"github.com/lvdashuaibi/livepoll/internal/model"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

// PollFinder reports whether a poll exists.
type PollFinder interface {
	Exists(pollID string) bool
}

// Member is a session in a room with its self-reported display name.
type Member struct {
	SessionID string `json:"sessionId"`
	Name      string `json:"name"`
}

// Registry tracks which sessions are in which poll's room.
type Registry struct {
	mu    sync.RWMutex
	polls PollFinder
	rooms map[string]map[string]string // pollID -> sessionID -> name
}

func NewRegistry(polls PollFinder) *Registry {
	return &Registry{
		polls: polls,
		rooms: make(map[string]map[string]string),
	}
}

// Join adds sessionID to the room of pollID. Joining again only updates the name.
func (r *Registry) Join(pollID, sessionID, name string) error {
	if !r.polls.Exists(pollID) {
		return fmt.Errorf("join poll %s: %w", pollID, model.ErrNotFound)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[pollID]
	if !ok {
		members = make(map[string]string)
		r.rooms[pollID] = members
	}
	_, rejoin := members[sessionID]
	members[sessionID] = name

	log.Debug().Str("poll", pollID).Str("sid", sessionID).Bool("rejoin", rejoin).Msg("member joined")
	return nil
}

// Leave removes sessionID from the room of pollID. Absent members are ignored.
func (r *Registry) Leave(pollID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(pollID, sessionID)
}

// LeaveAll removes sessionID from every room, used on disconnect.
func (r *Registry) LeaveAll(sessionID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var left []string
	for pollID, members := range r.rooms {
		if _, ok := members[sessionID]; ok {
			left = append(left, pollID)
		}
	}
	for _, pollID := range left {
		r.leaveLocked(pollID, sessionID)
	}
	return left
}

func (r *Registry) leaveLocked(pollID, sessionID string) {
	members, ok := r.rooms[pollID]
	if !ok {
		return
	}
	if _, ok := members[sessionID]; !ok {
		return
	}
	delete(members, sessionID)
	if len(members) == 0 {
		delete(r.rooms, pollID)
	}
	log.Debug().Str("poll", pollID).Str("sid", sessionID).Msg("member left")
}

// MembersOf returns the session ids in the room, sorted.
func (r *Registry) MembersOf(pollID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := lo.Keys(r.rooms[pollID])
	sort.Strings(ids)
	return ids
}

// Members returns the room with display names, sorted by session id.
func (r *Registry) Members(pollID string) []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := lo.MapToSlice(r.rooms[pollID], func(sid, name string) Member {
		return Member{SessionID: sid, Name: name}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

func (r *Registry) IsMember(pollID, sessionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[pollID][sessionID]
	return ok
}

// Count returns the number of non-empty rooms.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}
