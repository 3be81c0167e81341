// ABOUTME: Per-stage lifecycle state machine
// ABOUTME: Idle, Opened, Started, Running then an absorbing Stopped or Terminated
package stage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// State is the lifecycle position of one pipeline stage
type State int

const (
	Idle State = iota
	Opened
	Started
	Running
	// Stopped means the stage ended on an error
	Stopped
	// Terminated means the stage ended because its counterpart disconnected
	Terminated
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Opened:
		return "opened"
	case Started:
		return "started"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	case Terminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether s is absorbing
func (s State) Terminal() bool {
	return s == Stopped || s == Terminated
}

// Observer is told about every state change
type Observer func(name string, from, to State)

// Tracker holds the state of one stage and notifies an observer on change
type Tracker struct {
	name     string
	log      *logrus.Entry
	mu       sync.Mutex
	state    State
	observer Observer
}

// NewTracker creates a tracker in Idle. log may be nil.
func NewTracker(name string, log *logrus.Entry, observer Observer) *Tracker {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Tracker{name: name, log: log, observer: observer}
}

// Name returns the stage name
func (t *Tracker) Name() string { return t.name }

// State returns the current state
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Advance moves forward to next. Moving backwards, or out of a terminal
// state, is refused and reported as an error.
func (t *Tracker) Advance(next State) error {
	t.mu.Lock()
	from := t.state
	if from.Terminal() || next <= from {
		t.mu.Unlock()
		return fmt.Errorf("stage %s: invalid transition %s -> %s", t.name, from, next)
	}
	t.state = next
	t.mu.Unlock()

	t.notify(from, next)
	return nil
}

// Finish moves to the terminal state matching how the stage ended. It is a
// no-op once the stage is already terminal.
func (t *Tracker) Finish(disconnected bool) State {
	next := Stopped
	if disconnected {
		next = Terminated
	}

	t.mu.Lock()
	from := t.state
	if from.Terminal() {
		t.mu.Unlock()
		return from
	}
	t.state = next
	t.mu.Unlock()

	t.notify(from, next)
	return next
}

// Fail ends the stage on err and returns it. Cancellation is logged as a
// normal stop, anything else as an error.
func (t *Tracker) Fail(err error) error {
	t.Finish(false)

	entry := t.log.WithFields(logrus.Fields{
		"function": "Tracker.Fail",
		"error":    err,
	})
	if errors.Is(err, context.Canceled) {
		entry.Info("Stage stopped")
	} else {
		entry.Error("Stage failed")
	}
	return err
}

// Disconnect ends the stage because its counterpart is gone
func (t *Tracker) Disconnect(reason string) error {
	t.Finish(true)

	t.log.WithFields(logrus.Fields{
		"function": "Tracker.Disconnect",
		"reason":   reason,
	}).Info("Stage terminated")
	return nil
}

func (t *Tracker) notify(from, to State) {
	t.log.WithFields(logrus.Fields{
		"function": "Tracker.notify",
		"from":     from.String(),
		"to":       to.String(),
	}).Debug("Stage state changed")

	if t.observer != nil {
		t.observer(t.name, from, to)
	}
}
