package service

import (
	"fmt"

	"github.com/lvdashuaibi/livepoll/internal/model"
	"github.com/lvdashuaibi/livepoll/internal/repository"
	"github.com/rs/zerolog/log"
)

type VoteService struct {
	repo     *repository.PollRepository
	notifier Notifier
}

func NewVoteService(repo *repository.PollRepository, notifier Notifier) *VoteService {
	if notifier == nil {
		notifier = Notifiers{}
	}
	return &VoteService{
		repo:     repo,
		notifier: notifier,
	}
}

// Submit records the single vote of sessionID and returns the updated tally.
// The room is notified before the poll lock is released, so every member
// sees tallies in the order they were committed.
func (s *VoteService) Submit(pollID, sessionID string, optionIndex int) (model.Tally, error) {
	if sessionID == "" {
		return model.Tally{}, fmt.Errorf("session id is required: %w", model.ErrInvalidInput)
	}

	var tally model.Tally
	err := s.repo.Do(pollID, func(rec *repository.PollRecord) error {
		if rec.Poll.State != model.StateActive {
			return model.ErrPollNotActive
		}
		if optionIndex < 0 || optionIndex >= len(rec.Poll.Options) {
			return fmt.Errorf("option %d not in [0, %d): %w", optionIndex, len(rec.Poll.Options), model.ErrInvalidOption)
		}
		if err := rec.Ledger.Record(sessionID, optionIndex); err != nil {
			return err
		}
		rec.Poll.Votes[optionIndex]++
		rec.MustBeConsistent()

		tally = rec.Tally()
		s.notifier.Notify(newEvent(model.EventVoteUpdated, pollID, model.TallyPayload{
			PollID: pollID,
			Votes:  tally.Votes,
			Total:  tally.Total,
		}))
		return nil
	})
	if err != nil {
		return model.Tally{}, fmt.Errorf("submit vote to poll %s: %w", pollID, err)
	}

	log.Debug().Str("poll", pollID).Str("sid", sessionID).Int("option", optionIndex).Int("total", tally.Total).Msg("vote recorded")
	return tally, nil
}

// WithSnapshot runs fn with the poll state as sessionID sees it. fn runs under
// the poll lock, so nothing it queues can be overtaken by a later tally.
func (s *VoteService) WithSnapshot(pollID, sessionID string, fn func(model.SnapshotPayload) error) error {
	return s.repo.Do(pollID, func(rec *repository.PollRecord) error {
		snap := model.SnapshotPayload{Poll: rec.Snapshot()}
		if choice, ok := rec.Ledger.Choice(sessionID); ok && sessionID != "" {
			snap.HasVoted = true
			snap.Choice = &choice
		}
		return fn(snap)
	})
}
