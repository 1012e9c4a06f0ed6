package repository

import (
	"fmt"

	"github.com/lvdashuaibi/livepoll/internal/model"
)

// VoteLedger records which session chose which option for one activation of a poll.
// It is not safe for concurrent use; callers hold the owning PollRecord's lock.
type VoteLedger struct {
	entries map[string]int
}

func NewVoteLedger() *VoteLedger {
	return &VoteLedger{entries: make(map[string]int)}
}

// Record stores the choice of sessionID. An existing entry is never overwritten.
func (l *VoteLedger) Record(sessionID string, option int) error {
	if _, ok := l.entries[sessionID]; ok {
		return fmt.Errorf("session %s: %w", sessionID, model.ErrDuplicateVote)
	}
	l.entries[sessionID] = option
	return nil
}

func (l *VoteLedger) Has(sessionID string) bool {
	_, ok := l.entries[sessionID]
	return ok
}

// Choice returns the option index recorded for sessionID.
func (l *VoteLedger) Choice(sessionID string) (int, bool) {
	option, ok := l.entries[sessionID]
	return option, ok
}

func (l *VoteLedger) Len() int {
	return len(l.entries)
}

// Reset drops every entry, used when a poll is re-activated.
func (l *VoteLedger) Reset() {
	l.entries = make(map[string]int)
}
