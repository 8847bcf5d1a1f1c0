package entities

import "time"

// Message is an inbound chat message as seen by the balance pipeline
type Message struct {
	ID         string
	From       string // sender identity, bare number or JID
	Body       string
	Platform   string // e.g., "whatsapp", "cli"
	ReceivedAt time.Time
}
