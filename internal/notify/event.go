// Package notify fans match state changes out to subscribers. Delivery is
// best effort and never feeds back into the transition that caused it.
package notify

import (
	"context"
	"time"

	"rps.hh/internal/match"
)

type EventType string

const (
	EventCreated  EventType = "match.created"
	EventJoined   EventType = "match.joined"
	EventMoved    EventType = "match.moved"
	EventFinished EventType = "match.finished"
	EventRefunded EventType = "match.refunded"
)

type Event struct {
	Type     EventType `json:"type"`
	MatchID  string    `json:"match_id"`
	Status   string    `json:"status"`
	Version  int64     `json:"version"`
	WinnerID string    `json:"winner_id,omitempty"`
	UserIDs  []string  `json:"user_ids"`
	At       time.Time `json:"at"`
}

// NewEvent describes m after a transition. Moves are never included so an
// in-progress event cannot leak a player's choice.
func NewEvent(t EventType, m match.Match) Event {
	users := []string{m.CreatorID}
	if m.OpponentID != "" {
		users = append(users, m.OpponentID)
	}
	return Event{
		Type:     t,
		MatchID:  m.ID,
		Status:   string(m.Status),
		Version:  m.Version,
		WinnerID: m.WinnerID,
		UserIDs:  users,
		At:       m.UpdatedAt.UTC(),
	}
}

// Publisher delivers one event. Implementations may block on I/O.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Notifier accepts events without blocking the caller.
type Notifier interface {
	Notify(e Event)
}

type Nop struct{}

func (Nop) Notify(Event) {}

func (Nop) Publish(context.Context, Event) error { return nil }
