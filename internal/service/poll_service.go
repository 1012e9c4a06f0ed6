package service

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lvdashuaibi/livepoll/config"
	"github.com/lvdashuaibi/livepoll/internal/model"
	"github.com/lvdashuaibi/livepoll/internal/repository"
	"github.com/rs/zerolog/log"
)

var errStaleTimer = errors.New("stale close timer")

// PollService drives the created -> active -> closed state machine and the
// auto-close timer of every poll.
type PollService struct {
	repo      *repository.PollRepository
	notifier  Notifier
	cfg       config.PollConfig
	afterFunc AfterFunc

	mu      sync.RWMutex
	current string
}

func NewPollService(repo *repository.PollRepository, notifier Notifier, cfg config.PollConfig) *PollService {
	if cfg.DefaultTimeLimitSeconds <= 0 {
		cfg.DefaultTimeLimitSeconds = config.DefaultTimeLimitSeconds
	}
	if notifier == nil {
		notifier = Notifiers{}
	}
	return &PollService{
		repo:      repo,
		notifier:  notifier,
		cfg:       cfg,
		afterFunc: realAfterFunc,
	}
}

// WithAfterFunc replaces the timer scheduler.
func (s *PollService) WithAfterFunc(fn AfterFunc) *PollService {
	s.afterFunc = fn
	return s
}

// Create stores a new poll in the created state.
func (s *PollService) Create(question string, options []string) (model.Poll, error) {
	id, err := s.repo.Create(question, options)
	if err != nil {
		return model.Poll{}, fmt.Errorf("create poll: %w", err)
	}
	return s.repo.Get(id)
}

func (s *PollService) Get(id string) (model.Poll, error) {
	return s.repo.Get(id)
}

// Start activates the poll: counters and ledger are reset, any earlier close
// timer is invalidated, and a new one is armed. Starting an active poll
// re-arms it. Closed is terminal.
func (s *PollService) Start(id string, timeLimitSeconds int) (model.Poll, error) {
	limit, err := s.timeLimit(timeLimitSeconds)
	if err != nil {
		return model.Poll{}, err
	}

	var snapshot model.Poll
	err = s.repo.Do(id, func(rec *repository.PollRecord) error {
		if rec.Poll.State == model.StateClosed {
			return fmt.Errorf("poll is closed: %w", model.ErrInvalidInput)
		}
		now := time.Now()
		rec.Ledger.Reset()
		rec.Poll.Votes = make([]int, len(rec.Poll.Options))
		rec.Poll.State = model.StateActive
		rec.Poll.TimeLimitSeconds = limit
		rec.Poll.ActivatedAt = &now

		rec.Generation++
		generation := rec.Generation
		rec.ArmTimer(s.afterFunc(time.Duration(limit)*time.Second, func() {
			s.expire(id, generation)
		}))
		rec.MustBeConsistent()

		snapshot = rec.Snapshot()
		s.notifier.Notify(newEvent(model.EventPollStarted, id, model.PollStartedPayload{
			PollID:           id,
			Question:         snapshot.Question,
			Options:          snapshot.Options,
			TimeLimitSeconds: limit,
		}))
		return nil
	})
	if err != nil {
		return model.Poll{}, fmt.Errorf("start poll: %w", err)
	}

	log.Info().Str("poll", id).Int("time_limit", limit).Msg("poll started")
	return snapshot, nil
}

// Close ends an active poll before its timer fires.
func (s *PollService) Close(id string) (model.Poll, error) {
	var snapshot model.Poll
	err := s.repo.Do(id, func(rec *repository.PollRecord) error {
		if rec.Poll.State != model.StateActive {
			return model.ErrPollNotActive
		}
		s.closeLocked(rec)
		snapshot = rec.Snapshot()
		return nil
	})
	if err != nil {
		return model.Poll{}, fmt.Errorf("close poll %s: %w", id, err)
	}

	log.Info().Str("poll", id).Int("total", snapshot.Total).Msg("poll closed")
	return snapshot, nil
}

// Post creates and starts a poll in one step and makes it the current poll.
// prepare, when set, runs between creation and activation so that sessions
// can be placed in the room before the start event goes out.
func (s *PollService) Post(question string, options []string, timeLimitSeconds int, prepare func(pollID string)) (model.Poll, error) {
	if _, err := s.timeLimit(timeLimitSeconds); err != nil {
		return model.Poll{}, err
	}
	created, err := s.Create(question, options)
	if err != nil {
		return model.Poll{}, err
	}
	if prepare != nil {
		prepare(created.ID)
	}
	started, err := s.Start(created.ID, timeLimitSeconds)
	if err != nil {
		return model.Poll{}, err
	}

	s.mu.Lock()
	s.current = created.ID
	s.mu.Unlock()
	return started, nil
}

// Current returns the most recently posted poll while it is still active.
func (s *PollService) Current() (model.Poll, bool) {
	s.mu.RLock()
	id := s.current
	s.mu.RUnlock()
	if id == "" {
		return model.Poll{}, false
	}

	poll, err := s.repo.Get(id)
	if err != nil || poll.State != model.StateActive {
		return model.Poll{}, false
	}
	return poll, true
}

func (s *PollService) Stats() model.Stats {
	var stats model.Stats
	for _, poll := range s.repo.List() {
		switch poll.State {
		case model.StateCreated:
			stats.Created++
		case model.StateActive:
			stats.Active++
		case model.StateClosed:
			stats.Closed++
		}
	}
	return stats
}

func (s *PollService) expire(id string, generation uint64) {
	err := s.repo.Do(id, func(rec *repository.PollRecord) error {
		if rec.Generation != generation || rec.Poll.State != model.StateActive {
			return errStaleTimer
		}
		s.closeLocked(rec)
		return nil
	})
	switch {
	case err == nil:
		log.Info().Str("poll", id).Msg("poll auto-closed")
	case errors.Is(err, errStaleTimer):
		log.Debug().Str("poll", id).Uint64("generation", generation).Msg("stale close timer ignored")
	default:
		log.Error().Err(err).Str("poll", id).Msg("auto-close failed")
	}
}

func (s *PollService) closeLocked(rec *repository.PollRecord) {
	now := time.Now()
	rec.StopTimer()
	rec.Generation++
	rec.Poll.State = model.StateClosed
	rec.Poll.ClosedAt = &now
	rec.MustBeConsistent()

	tally := rec.Tally()
	s.notifier.Notify(newEvent(model.EventPollEnded, rec.Poll.ID, model.TallyPayload{
		PollID: rec.Poll.ID,
		Votes:  tally.Votes,
		Total:  tally.Total,
	}))
}

func (s *PollService) timeLimit(seconds int) (int, error) {
	switch {
	case seconds < 0:
		return 0, fmt.Errorf("time limit %d must be positive: %w", seconds, model.ErrInvalidInput)
	case seconds == 0:
		return s.cfg.DefaultTimeLimitSeconds, nil
	case s.cfg.MaxTimeLimitSeconds > 0 && seconds > s.cfg.MaxTimeLimitSeconds:
		return 0, fmt.Errorf("time limit %d exceeds %d: %w", seconds, s.cfg.MaxTimeLimitSeconds, model.ErrInvalidInput)
	}
	return seconds, nil
}
