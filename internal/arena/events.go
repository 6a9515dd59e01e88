package arena

import "time"

// EventType names a session lifecycle transition.
type EventType string

const (
	EventSessionStarted EventType = "session_started"
	EventSessionEnded   EventType = "session_ended"
)

// Event is a lifecycle notification emitted by the manager loop.
type Event struct {
	Type        EventType   `json:"type"`
	SessionID   SessionID   `json:"sessionId"`
	White       string      `json:"white"`
	Black       string      `json:"black"`
	TimeControl TimeControl `json:"timeControl"`
	Reason      Reason      `json:"reason,omitempty"`
	Winner      Winner      `json:"winner,omitempty"`
	Moves       uint64      `json:"moves"`
	At          time.Time   `json:"at"`
}

// EventSink receives lifecycle events. Publish is called on the manager loop
// and must not block.
type EventSink interface {
	Publish(ev Event)
}

type nopSink struct{}

func (nopSink) Publish(Event) {}

// Stats is a point-in-time view of the manager, safe to read from any goroutine.
type Stats struct {
	ActiveSessions  int                 `json:"activeSessions"`
	Waiting         map[TimeControl]int `json:"waiting"`
	SessionsStarted uint64              `json:"sessionsStarted"`
	SessionsEnded   uint64              `json:"sessionsEnded"`
}
