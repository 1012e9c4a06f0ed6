package repository

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lvdashuaibi/livepoll/internal/model"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

// Stopper is satisfied by *time.Timer.
type Stopper interface {
	Stop() bool
}

// PollRecord is the unit of serialization: a poll, its ledger and its close timer.
// All fields are guarded by the record lock, which only PollRepository.Do takes.
type PollRecord struct {
	mu sync.Mutex

	Poll   model.Poll
	Ledger *VoteLedger

	// Generation is bumped on every activation and close so a timer
	// armed for an earlier activation can tell it is stale.
	Generation uint64

	timer     Stopper
	corrupted bool
}

// Snapshot returns a deep copy of the poll with Total filled in.
func (r *PollRecord) Snapshot() model.Poll {
	p := r.Poll
	p.Options = append([]string(nil), r.Poll.Options...)
	p.Votes = append([]int(nil), r.Poll.Votes...)
	p.Total = lo.Sum(p.Votes)
	if r.Poll.ActivatedAt != nil {
		t := *r.Poll.ActivatedAt
		p.ActivatedAt = &t
	}
	if r.Poll.ClosedAt != nil {
		t := *r.Poll.ClosedAt
		p.ClosedAt = &t
	}
	return p
}

// Tally returns a copy of the counters and their sum.
func (r *PollRecord) Tally() model.Tally {
	votes := append([]int(nil), r.Poll.Votes...)
	return model.Tally{Votes: votes, Total: lo.Sum(votes)}
}

// ArmTimer replaces the pending close timer, stopping the previous one.
func (r *PollRecord) ArmTimer(t Stopper) {
	r.StopTimer()
	r.timer = t
}

func (r *PollRecord) StopTimer() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

// MustBeConsistent panics when the tally no longer matches the ledger.
// The panic is contained by PollRepository.Do and only takes this poll down.
func (r *PollRecord) MustBeConsistent() {
	if len(r.Poll.Votes) != len(r.Poll.Options) {
		panic(fmt.Sprintf("tally has %d counters for %d options", len(r.Poll.Votes), len(r.Poll.Options)))
	}
	if lo.SomeBy(r.Poll.Votes, func(v int) bool { return v < 0 }) {
		panic(fmt.Sprintf("negative counter in tally %v", r.Poll.Votes))
	}
	if sum := lo.Sum(r.Poll.Votes); sum != r.Ledger.Len() {
		panic(fmt.Sprintf("tally sum %d differs from %d ledger entries", sum, r.Ledger.Len()))
	}
}

func (r *PollRecord) abort() {
	r.StopTimer()
	r.Generation++
	r.corrupted = true
	if r.Poll.State != model.StateClosed {
		now := time.Now()
		r.Poll.State = model.StateClosed
		r.Poll.ClosedAt = &now
	}
}

// PollRepository owns every poll for the lifetime of the process.
type PollRepository struct {
	mu      sync.RWMutex
	records map[string]*PollRecord
}

func NewPollRepository() *PollRepository {
	return &PollRepository{records: make(map[string]*PollRecord)}
}

// Create validates and stores a new poll in the created state.
func (r *PollRepository) Create(question string, options []string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", fmt.Errorf("question is required: %w", model.ErrInvalidInput)
	}
	if len(options) < 2 {
		return "", fmt.Errorf("at least 2 options required, got %d: %w", len(options), model.ErrInvalidInput)
	}
	if lo.SomeBy(options, func(o string) bool { return strings.TrimSpace(o) == "" }) {
		return "", fmt.Errorf("option labels must not be blank: %w", model.ErrInvalidInput)
	}

	id := uuid.NewString()
	rec := &PollRecord{
		Poll: model.Poll{
			ID:        id,
			Question:  question,
			Options:   append([]string(nil), options...),
			State:     model.StateCreated,
			Votes:     make([]int, len(options)),
			CreatedAt: time.Now(),
		},
		Ledger: NewVoteLedger(),
	}

	r.mu.Lock()
	r.records[id] = rec
	r.mu.Unlock()

	log.Info().Str("poll", id).Int("options", len(options)).Msg("poll created")
	return id, nil
}

// Get returns a snapshot of the poll.
func (r *PollRepository) Get(id string) (model.Poll, error) {
	rec, ok := r.lookup(id)
	if !ok {
		return model.Poll{}, fmt.Errorf("poll %s: %w", id, model.ErrNotFound)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.Snapshot(), nil
}

func (r *PollRepository) Exists(id string) bool {
	_, ok := r.lookup(id)
	return ok
}

// List returns snapshots of all polls in no particular order.
func (r *PollRepository) List() []model.Poll {
	r.mu.RLock()
	recs := lo.Values(r.records)
	r.mu.RUnlock()

	polls := make([]model.Poll, 0, len(recs))
	for _, rec := range recs {
		rec.mu.Lock()
		polls = append(polls, rec.Snapshot())
		rec.mu.Unlock()
	}
	return polls
}

// Do runs fn with exclusive access to the poll record. Every mutation of a
// poll goes through here, so operations on one poll are strictly ordered
// while different polls proceed in parallel.
func (r *PollRepository) Do(id string, fn func(rec *PollRecord) error) (err error) {
	rec, ok := r.lookup(id)
	if !ok {
		return fmt.Errorf("poll %s: %w", id, model.ErrNotFound)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.corrupted {
		return fmt.Errorf("poll %s: %w", id, model.ErrPollCorrupted)
	}

	defer func() {
		if p := recover(); p != nil {
			rec.abort()
			log.Error().Str("poll", id).Interface("panic", p).Msg("poll invariant violated, poll closed")
			err = fmt.Errorf("poll %s: %v: %w", id, p, model.ErrPollCorrupted)
		}
	}()

	return fn(rec)
}

func (r *PollRepository) lookup(id string) (*PollRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	return rec, ok
}
