package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Ticket statuses. Status is only ever mutated through a validated
// transition; it is always re-derivable by replaying the ticket's scan
// history from StatusPending.
const (
	StatusPending = "PENDING"
	StatusVendu   = "VENDU"
	StatusEntered = "ENTERED"
	StatusExited  = "EXITED"
)

// Ticket categories.
const (
	TypeNormal  = "NORMAL"
	TypeVIP     = "VIP"
	TypeArtiste = "ARTISTE"
	TypeStaff   = "STAFF"
)

// How the last entry was recorded.
const (
	EntryScan   = "SCAN"
	EntryManual = "MANUAL"
)

type Ticket struct {
	bun.BaseModel `bun:"table:tickets"`

	Number     string    `bun:"number,pk" json:"number"`
	EventID    string    `bun:"event_id,notnull" json:"event_id"`
	Status     string    `bun:"status,notnull" json:"status"`
	TicketType string    `bun:"ticket_type,notnull" json:"ticket_type"`
	EntryType  string    `bun:"entry_type,nullzero" json:"entry_type,omitempty"`
	SoldAt     time.Time `bun:"sold_at,nullzero" json:"sold_at,omitempty"`
	ScannedAt  time.Time `bun:"scanned_at,nullzero" json:"scanned_at,omitempty"`
	CreatedAt  time.Time `bun:"created_at,notnull" json:"created_at"`
}
