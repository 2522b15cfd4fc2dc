package comms

import (
	"fmt"
	"time"
)

// Type classifies a message.
type Type string

const (
	TypeRequest      Type = "request"
	TypeResponse     Type = "response"
	TypeNotification Type = "notification"
	TypeDelegation   Type = "delegation"
)

// Valid reports whether t is a known message type.
func (t Type) Valid() bool {
	switch t {
	case TypeRequest, TypeResponse, TypeNotification, TypeDelegation:
		return true
	}
	return false
}

// Priority is the urgency a sender attaches to a message.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Status tracks a message from send to reply.
type Status int

const (
	StatusPending Status = iota
	StatusDelivered
	StatusRead
	StatusResponded
)

var statusNames = map[Status]string{
	StatusPending:   "pending",
	StatusDelivered: "delivered",
	StatusRead:      "read",
	StatusResponded: "responded",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// ParseStatus converts a status name back into a Status.
func ParseStatus(name string) (Status, error) {
	for s, n := range statusNames {
		if n == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown message status %q", name)
}

// Message is a point-to-point note between two workers.
type Message struct {
	ID         string
	From       string
	To         string
	Type       Type
	Priority   Priority
	Content    string
	Status     Status
	RespondsTo string
	Context    map[string]string
	CreatedAt  time.Time
}

// Filter narrows ListMessages. Results are always newest first.
type Filter struct {
	To       string
	Statuses []Status
	// Participant matches messages sent or received by the worker; Peer
	// further restricts to messages exchanged with that second worker.
	Participant string
	Peer        string
	Limit       int
}

// Stats summarizes the message store.
type Stats struct {
	Total  int
	ByTo   map[string]int
	ByType map[Type]int
}
