package gateway

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/lvdashuaibi/livepoll/config"
	"github.com/lvdashuaibi/livepoll/internal/model"
	"github.com/lvdashuaibi/livepoll/internal/room"
	"github.com/lvdashuaibi/livepoll/internal/service"
	"github.com/rs/zerolog/log"
)

// Gateway turns inbound frames into service calls and answers each one with an ack.
type Gateway struct {
	hub      *Hub
	rooms    *room.Registry
	polls    *service.PollService
	votes    *service.VoteService
	cfg      config.GatewayConfig
	validate *validator.Validate
	actions  map[string]handler
}

func New(hub *Hub, rooms *room.Registry, polls *service.PollService, votes *service.VoteService, cfg config.GatewayConfig) *Gateway {
	g := &Gateway{
		hub:      hub,
		rooms:    rooms,
		polls:    polls,
		votes:    votes,
		cfg:      cfg,
		validate: validator.New(),
	}
	g.actions = g.handlers()
	return g
}

// Connect registers a new session. In legacy mode it is placed in the room of
// the current poll and sent a snapshot of it.
func (g *Gateway) Connect() *Session {
	s := newSession(uuid.NewString(), g.hub.outboxSize)
	g.hub.register(s)
	log.Info().Str("sid", s.ID).Int("sessions", g.hub.Count()).Msg("session connected")

	if g.cfg.LegacyMode {
		if current, ok := g.polls.Current(); ok {
			if err := g.joinWithSnapshot(current.ID, s.ID, "", ""); err != nil {
				log.Warn().Err(err).Str("sid", s.ID).Str("poll", current.ID).Msg("auto-join current poll failed")
			}
		}
	}
	return s
}

// Disconnect removes the session from every room. Recorded votes stay.
func (g *Gateway) Disconnect(s *Session) {
	left := g.rooms.LeaveAll(s.ID)
	g.hub.unregister(s)
	log.Info().Str("sid", s.ID).Strs("rooms", left).Int64("dropped", s.Dropped()).Msg("session disconnected")
}

// Dispatch handles one inbound frame from s.
func (g *Gateway) Dispatch(s *Session, raw []byte) {
	var in Frame
	if err := json.Unmarshal(raw, &in); err != nil {
		g.ack(s, "", "", model.ErrInvalidInput)
		return
	}

	action, ok := g.actions[in.Type]
	if !ok {
		log.Debug().Str("sid", s.ID).Str("type", in.Type).Msg("unknown action")
		g.ack(s, in.ID, in.Type, model.ErrInvalidInput)
		return
	}

	err := action(s, in.ID, in.Data)
	g.ack(s, in.ID, in.Type, err)
}

func (g *Gateway) SessionCount() int {
	return g.hub.Count()
}

func (g *Gateway) joinWithSnapshot(pollID, sessionID, name, requestID string) error {
	return g.votes.WithSnapshot(pollID, sessionID, func(snap model.SnapshotPayload) error {
		if err := g.rooms.Join(pollID, sessionID, name); err != nil {
			return err
		}
		g.hub.Unicast(sessionID, model.EventPollSnapshot, requestID, snap)
		return nil
	})
}

// joinStragglers snapshots pollID to sessions that connected after the room
// was filled but before the poll became current, so Connect missed it too.
func (g *Gateway) joinStragglers(pollID string) {
	for _, sid := range g.hub.SessionIDs() {
		if g.rooms.IsMember(pollID, sid) {
			continue
		}
		if err := g.joinWithSnapshot(pollID, sid, "", ""); err != nil {
			log.Warn().Err(err).Str("poll", pollID).Str("sid", sid).Msg("late auto-join failed")
		}
	}
}

func (g *Gateway) ack(s *Session, requestID, action string, err error) {
	if err == nil {
		g.hub.Unicast(s.ID, model.EventAck, requestID, model.Ack{OK: true})
		return
	}

	kind := model.ErrorKind(err)
	if kind == "Internal" || kind == "PollCorrupted" {
		log.Error().Err(err).Str("sid", s.ID).Str("action", action).Msg("action failed")
	} else {
		log.Debug().Err(err).Str("sid", s.ID).Str("action", action).Msg("action rejected")
	}
	g.hub.Unicast(s.ID, model.EventAck, requestID, model.Ack{Error: ackMessage(err), Code: kind})
}

func ackMessage(err error) string {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return "Poll not found"
	case errors.Is(err, model.ErrPollNotActive):
		return "No active poll"
	case errors.Is(err, model.ErrDuplicateVote):
		return "Already voted"
	case errors.Is(err, model.ErrInvalidOption):
		return "Invalid option"
	case errors.Is(err, model.ErrPollCorrupted):
		return "Poll closed after an internal error"
	case errors.Is(err, model.ErrInvalidInput):
		return err.Error()
	}
	return "Internal error"
}
