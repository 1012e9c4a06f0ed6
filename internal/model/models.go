package model

import (
	"time"
)

// PollState is the lifecycle state of a poll.
type PollState string

const (
	StateCreated PollState = "created"
	StateActive  PollState = "active"
	StateClosed  PollState = "closed"
)

// Poll is a question with fixed options and a live tally.
type Poll struct {
	ID               string     `json:"id"`
	Question         string     `json:"question"`
	Options          []string   `json:"options"`
	State            PollState  `json:"state"`
	Votes            []int      `json:"votes"`
	Total            int        `json:"total"`
	TimeLimitSeconds int        `json:"timeLimitSeconds"`
	CreatedAt        time.Time  `json:"createdAt"`
	ActivatedAt      *time.Time `json:"activatedAt,omitempty"`
	ClosedAt         *time.Time `json:"closedAt,omitempty"`
}

// Tally is a consistent copy of the counters and their sum.
type Tally struct {
	Votes []int `json:"votes"`
	Total int   `json:"total"`
}

// Stats counts polls per state.
type Stats struct {
	Created int `json:"created"`
	Active  int `json:"active"`
	Closed  int `json:"closed"`
}

// CreatePollRequest is the body of POST /api/poll.
type CreatePollRequest struct {
	Question string   `json:"question" binding:"required"`
	Options  []string `json:"options" binding:"required,min=2,dive,required"`
}

// CreatePollResponse is returned after a poll is created.
type CreatePollResponse struct {
	PollID string `json:"pollId"`
	Poll   Poll   `json:"poll"`
}

// ErrorResponse is the body of every failed HTTP request.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Outbound room and unicast event types.
const (
	EventPollStarted  = "poll:started"
	EventVoteUpdated  = "vote:updated"
	EventPollEnded    = "poll:ended"
	EventPollSnapshot = "poll:snapshot"
	EventAck          = "ack"
)

// Event is one outbound message addressed to a poll's room.
type Event struct {
	Type   string    `json:"type"`
	PollID string    `json:"pollId"`
	Data   any       `json:"data"`
	At     time.Time `json:"at"`
}

// PollStartedPayload is sent to the room when a poll is activated.
type PollStartedPayload struct {
	PollID           string   `json:"pollId"`
	Question         string   `json:"question"`
	Options          []string `json:"options"`
	TimeLimitSeconds int      `json:"timeLimitSeconds"`
}

// TallyPayload is sent to the room after each accepted vote and on close.
type TallyPayload struct {
	PollID string `json:"pollId"`
	Votes  []int  `json:"votes"`
	Total  int    `json:"total"`
}

// SnapshotPayload is unicast to a session that joins a room.
type SnapshotPayload struct {
	Poll     Poll `json:"poll"`
	HasVoted bool `json:"hasVoted"`
	// option index the session picked, set only when HasVoted
	Choice *int `json:"choice,omitempty"`
}

// Ack answers a single inbound action.
type Ack struct {
	OK    bool   `json:"ok,omitempty"`
	Error string `json:"error,omitempty"`
	Code  string `json:"code,omitempty"`
}
