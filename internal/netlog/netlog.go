// Package netlog records request outcomes in a bounded, newest-first log.
package netlog

import (
	"time"

	"shroud/internal/ringlog"
)

type Outcome string

const (
	OutcomeStatus  Outcome = "status"
	OutcomeBlocked Outcome = "blocked"
	OutcomeError   Outcome = "error"
)

// Entry is one request outcome. Status is set only for OutcomeStatus.
type Entry struct {
	Time         time.Time `json:"time"`
	URL          string    `json:"url"`
	ResourceType string    `json:"type"`
	Outcome      Outcome   `json:"outcome"`
	Status       int       `json:"status,omitempty"`
	Reason       string    `json:"reason,omitempty"`
}

// Log is a fixed-capacity network event log.
type Log struct {
	ring     *ringlog.Ring[Entry]
	now      func() time.Time
	onAppend func(Entry)
}

const DefaultCapacity = 30

func New(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{ring: ringlog.New[Entry](capacity), now: time.Now}
}

// OnAppend registers a callback invoked after every append.
func (l *Log) OnAppend(fn func(Entry)) {
	l.onAppend = fn
}

func (l *Log) Blocked(url, resourceType, reason string) {
	l.add(Entry{URL: url, ResourceType: resourceType, Outcome: OutcomeBlocked, Reason: reason})
}

func (l *Log) Completed(url, resourceType string, status int) {
	l.add(Entry{URL: url, ResourceType: resourceType, Outcome: OutcomeStatus, Status: status})
}

func (l *Log) Failed(url, resourceType, reason string) {
	l.add(Entry{URL: url, ResourceType: resourceType, Outcome: OutcomeError, Reason: reason})
}

func (l *Log) Entries() []Entry {
	return l.ring.Snapshot()
}

func (l *Log) add(e Entry) {
	e.Time = l.now()
	l.ring.Push(e)
	if l.onAppend != nil {
		l.onAppend(e)
	}
}
