package service

import (
	"time"

	"github.com/lvdashuaibi/livepoll/internal/model"
	"github.com/lvdashuaibi/livepoll/internal/repository"
)

// Notifier receives every room event. Notify is called while the poll's
// record lock is held, so implementations must not block and must not
// call back into the services.
type Notifier interface {
	Notify(event model.Event)
}

// Notifiers fans one event out to several notifiers in order.
type Notifiers []Notifier

func (n Notifiers) Notify(event model.Event) {
	for _, notifier := range n {
		if notifier != nil {
			notifier.Notify(event)
		}
	}
}

// NotifierFunc adapts a plain function to Notifier.
type NotifierFunc func(event model.Event)

func (f NotifierFunc) Notify(event model.Event) { f(event) }

// AfterFunc schedules f after d. It must not run f synchronously.
type AfterFunc func(d time.Duration, f func()) repository.Stopper

func realAfterFunc(d time.Duration, f func()) repository.Stopper {
	return time.AfterFunc(d, f)
}

func newEvent(eventType, pollID string, data any) model.Event {
	return model.Event{
		Type:   eventType,
		PollID: pollID,
		Data:   data,
		At:     time.Now(),
	}
}
