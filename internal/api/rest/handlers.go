package rest

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lvdashuaibi/livepoll/internal/model"
	"github.com/lvdashuaibi/livepoll/internal/room"
	"github.com/lvdashuaibi/livepoll/internal/service"
	"github.com/rs/zerolog/log"
)

type PollHandler struct {
	polls *service.PollService
	rooms *room.Registry
}

func NewPollHandler(polls *service.PollService, rooms *room.Registry) *PollHandler {
	return &PollHandler{polls: polls, rooms: rooms}
}

type statsResponse struct {
	model.Stats
	Rooms int `json:"rooms"`
}

// CreatePoll handles POST /api/poll.
func (h *PollHandler) CreatePoll(c *gin.Context) {
	var req model.CreatePollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Error: "question and at least two options are required",
			Code:  model.ErrorKind(model.ErrInvalidInput),
		})
		return
	}

	poll, err := h.polls.Create(req.Question, req.Options)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, model.CreatePollResponse{PollID: poll.ID, Poll: poll})
}

// GetPoll handles GET /api/poll/:id.
func (h *PollHandler) GetPoll(c *gin.Context) {
	poll, err := h.polls.Get(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, poll)
}

// Members handles GET /api/poll/:id/members.
func (h *PollHandler) Members(c *gin.Context) {
	poll, err := h.polls.Get(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.rooms.Members(poll.ID))
}

// Stats handles GET /api/stats.
func (h *PollHandler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, statsResponse{Stats: h.polls.Stats(), Rooms: h.rooms.Count()})
}

func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("request failed")
	}
	c.JSON(status, model.ErrorResponse{Error: err.Error(), Code: model.ErrorKind(err)})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrInvalidInput), errors.Is(err, model.ErrInvalidOption):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrPollNotActive), errors.Is(err, model.ErrDuplicateVote):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}
