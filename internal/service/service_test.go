package service

import (
	"sync"
	"time"

	"github.com/lvdashuaibi/livepoll/config"
	"github.com/lvdashuaibi/livepoll/internal/model"
	"github.com/lvdashuaibi/livepoll/internal/repository"
)

// fakeTimer records a scheduled close. Stopping it does not prevent fire,
// which lets tests replay a timer that was already running when it was stopped.
type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) repository.Stopper {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{d: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) timer(i int) *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timers[i]
}

func (c *fakeClock) fire(i int) {
	c.timer(i).f()
}

type recorder struct {
	mu     sync.Mutex
	events []model.Event
}

func (r *recorder) Notify(event model.Event) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

func (r *recorder) ofType(eventType string) []model.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Event
	for _, e := range r.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	repo  *repository.PollRepository
	polls *PollService
	votes *VoteService
	clock *fakeClock
	rec   *recorder
}

func newFixture() *fixture {
	repo := repository.NewPollRepository()
	rec := &recorder{}
	clock := &fakeClock{}
	return &fixture{
		repo:  repo,
		polls: NewPollService(repo, rec, config.PollConfig{MaxTimeLimitSeconds: 3600}).WithAfterFunc(clock.AfterFunc),
		votes: NewVoteService(repo, rec),
		clock: clock,
		rec:   rec,
	}
}

func (f *fixture) activePoll(options ...string) string {
	if len(options) == 0 {
		options = []string{"A", "B"}
	}
	poll, err := f.polls.Create("Question?", options)
	if err != nil {
		panic(err)
	}
	if _, err := f.polls.Start(poll.ID, 0); err != nil {
		panic(err)
	}
	return poll.ID
}
