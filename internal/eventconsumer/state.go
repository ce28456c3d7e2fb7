package eventconsumer

import (
	"strings"
	"time"
)

// Status is the lifecycle status of a consumer.
type Status string

const (
	StatusStopped Status = "Stopped"
	StatusStarted Status = "Started"
	StatusFailed  Status = "Failed"
)

// ParseStatus accepts status names case-insensitively.
func ParseStatus(s string) (Status, bool) {
	for _, st := range []Status{StatusStopped, StatusStarted, StatusFailed} {
		if strings.EqualFold(s, string(st)) {
			return st, true
		}
	}
	return "", false
}

// State is the persisted checkpoint of one consumer. Values are never
// mutated; transitions return a new State.
type State struct {
	// Position is the last handled log position; "" means none.
	Position string    `json:"position,omitempty"`
	Status   Status    `json:"status"`
	Error    string    `json:"error,omitempty"`
	FailedAt time.Time `json:"failedAt,omitzero"`
}

// DefaultState is the state of a consumer without a snapshot.
func DefaultState() State {
	return State{Status: StatusStopped}
}

func (s State) IsStopped() bool { return s.Status == StatusStopped }

func (s State) Started() State {
	return State{Position: s.Position, Status: StatusStarted}
}

func (s State) Stopped() State {
	return State{Position: s.Position, Status: StatusStopped}
}

// Handled advances the position and keeps the status.
func (s State) Handled(position string) State {
	s.Position = position
	return s
}

func (s State) Failed(err error, at time.Time) State {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return State{Position: s.Position, Status: StatusFailed, Error: msg, FailedAt: at.UTC()}
}

// Reset drops the position and starts over.
func (s State) Reset() State {
	return State{Status: StatusStarted}
}

// Info is the operator view of a consumer.
type Info struct {
	Name     string    `json:"name"`
	Position string    `json:"position,omitempty"`
	Status   Status    `json:"status"`
	Error    string    `json:"error,omitempty"`
	FailedAt time.Time `json:"failedAt,omitzero"`
}

func (s State) Info(name string) Info {
	return Info{Name: name, Position: s.Position, Status: s.Status, Error: s.Error, FailedAt: s.FailedAt}
}
