package util

import (
	"sync"
)

// Event is a one-shot completion signal carrying an optional error. The
// first Notify wins; later calls are ignored.
type Event struct {
	notified bool
	err      error
	c        *sync.Cond
}

func NewEvent() *Event {
	return &Event{
		c: sync.NewCond(&sync.Mutex{}),
	}
}

func (e *Event) Notify(err error) {
	e.c.L.Lock()
	defer e.c.L.Unlock()
	if !e.notified {
		e.notified = true
		e.err = err
		e.c.Broadcast()
	}
}

// Wait blocks until Notify and returns the error it was given.
func (e *Event) Wait() error {
	e.c.L.Lock()
	defer e.c.L.Unlock()
	for !e.notified {
		e.c.Wait()
	}
	return e.err
}

func (e *Event) HasBeenNotified() bool {
	e.c.L.Lock()
	defer e.c.L.Unlock()
	return e.notified
}
