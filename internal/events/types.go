package events

import "time"

// Event enumerates order lifecycle topics.
type Event string

const (
	EventRegularPlaced   Event = "regular.placed"
	EventRegularCanceled Event = "regular.canceled"
	EventBracketPlaced   Event = "bracket.placed"
	EventBracketFailed   Event = "bracket.failed"
	EventExitFilled      Event = "exit.filled"
	EventUnknownFill     Event = "fill.unknown"
	EventOrphanCanceled  Event = "orphan.canceled"
	EventPositionUpdate  Event = "position.update"
	EventShutdown        Event = "shutdown"
)

// All lists every topic, for subscribers that record everything.
var All = []Event{
	EventRegularPlaced,
	EventRegularCanceled,
	EventBracketPlaced,
	EventBracketFailed,
	EventExitFilled,
	EventUnknownFill,
	EventOrphanCanceled,
	EventPositionUpdate,
	EventShutdown,
}

// OrderEvent is the payload published for every topic.
type OrderEvent struct {
	Type      Event
	Symbol    string
	OrderID   string
	LinkedID  string // sibling or regular id, when there is one
	Role      string
	Side      string
	Qty       float64
	Price     float64
	Detail    string
	Timestamp time.Time
}
