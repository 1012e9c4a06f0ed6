package gateway

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/lvdashuaibi/livepoll/internal/model"
	"github.com/rs/zerolog/log"
)

// Inbound action names.
const (
	ActionStartPoll = "teacher:startPoll"
	ActionPostPoll  = "teacher:postPoll"
	ActionClosePoll = "teacher:closePoll"
	ActionJoin      = "student:join"
	ActionLeave     = "student:leave"
	ActionSubmit    = "student:submit"
)

type StartPollPayload struct {
	PollID           string `json:"pollId" validate:"required"`
	TimeLimitSeconds int    `json:"timeLimitSeconds" validate:"gte=0"`
}

type PostPollPayload struct {
	Question         string   `json:"question" validate:"required"`
	Options          []string `json:"options" validate:"required,min=2,dive,required"`
	TimeLimitSeconds int      `json:"timeLimitSeconds" validate:"gte=0"`
}

type ClosePollPayload struct {
	PollID string `json:"pollId" validate:"required"`
}

type JoinPayload struct {
	PollID string `json:"pollId" validate:"required"`
	Name   string `json:"name" validate:"max=64"`
}

type LeavePayload struct {
	PollID string `json:"pollId" validate:"required"`
}

type SubmitPayload struct {
	PollID      string `json:"pollId" validate:"required"`
	OptionIndex *int   `json:"optionIndex" validate:"required"`
}

type handler func(s *Session, requestID string, data []byte) error

// decode unmarshals data into v and validates it. Both failures are invalid input.
func decode(validate *validator.Validate, data []byte, v any) error {
	if len(data) > 0 {
		if err := json.Unmarshal(data, v); err != nil {
			return fmt.Errorf("malformed payload: %w", model.ErrInvalidInput)
		}
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%s: %w", err.Error(), model.ErrInvalidInput)
	}
	return nil
}

func (g *Gateway) handlers() map[string]handler {
	return map[string]handler{
		ActionStartPoll: g.startPoll,
		ActionPostPoll:  g.postPoll,
		ActionClosePoll: g.closePoll,
		ActionJoin:      g.join,
		ActionLeave:     g.leave,
		ActionSubmit:    g.submit,
	}
}

func (g *Gateway) startPoll(s *Session, _ string, data []byte) error {
	var p StartPollPayload
	if err := decode(g.validate, data, &p); err != nil {
		return err
	}
	// The presenter joins first so it receives poll:started, and is taken
	// out again if the start is rejected.
	joined := false
	if !g.rooms.IsMember(p.PollID, s.ID) {
		if err := g.rooms.Join(p.PollID, s.ID, ""); err != nil {
			return err
		}
		joined = true
	}
	if _, err := g.polls.Start(p.PollID, p.TimeLimitSeconds); err != nil {
		if joined {
			g.rooms.Leave(p.PollID, s.ID)
		}
		return err
	}
	return nil
}

func (g *Gateway) postPoll(s *Session, _ string, data []byte) error {
	var p PostPollPayload
	if err := decode(g.validate, data, &p); err != nil {
		return err
	}
	poll, err := g.polls.Post(p.Question, p.Options, p.TimeLimitSeconds, func(pollID string) {
		members := []string{s.ID}
		if g.cfg.LegacyMode {
			members = g.hub.SessionIDs()
		}
		for _, sid := range members {
			if err := g.rooms.Join(pollID, sid, ""); err != nil {
				log.Warn().Err(err).Str("poll", pollID).Str("sid", sid).Msg("auto-join failed")
			}
		}
	})
	if err != nil {
		return err
	}
	if g.cfg.LegacyMode {
		g.joinStragglers(poll.ID)
	}
	return nil
}

func (g *Gateway) closePoll(_ *Session, _ string, data []byte) error {
	var p ClosePollPayload
	if err := decode(g.validate, data, &p); err != nil {
		return err
	}
	_, err := g.polls.Close(p.PollID)
	return err
}

func (g *Gateway) join(s *Session, requestID string, data []byte) error {
	var p JoinPayload
	if err := decode(g.validate, data, &p); err != nil {
		return err
	}
	return g.joinWithSnapshot(p.PollID, s.ID, p.Name, requestID)
}

func (g *Gateway) leave(s *Session, _ string, data []byte) error {
	var p LeavePayload
	if err := decode(g.validate, data, &p); err != nil {
		return err
	}
	g.rooms.Leave(p.PollID, s.ID)
	return nil
}

func (g *Gateway) submit(s *Session, _ string, data []byte) error {
	var p SubmitPayload
	if err := decode(g.validate, data, &p); err != nil {
		return err
	}
	_, err := g.votes.Submit(p.PollID, s.ID, *p.OptionIndex)
	return err
}
