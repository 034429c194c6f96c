package models

import (
	"time"

	"github.com/uptrace/bun"
)

// History actions. A re-entry is logged as HistoryEnter: whether a scan
// was a first entry or a re-entry is recovered from the history itself
// (a prior EXIT record), not from a distinct action.
const (
	HistorySold  = "SOLD"
	HistoryEnter = "ENTER"
	HistoryExit  = "EXIT"
)

// ScanHistory is one append-only record of an applied action. Records are
// never updated or individually deleted; only an event cleanup removes
// them, together with their tickets.
type ScanHistory struct {
	bun.BaseModel `bun:"table:scan_history"`

	ID           int64     `bun:"id,pk,autoincrement" json:"id"`
	TicketNumber string    `bun:"ticket_number,notnull" json:"ticket_number"`
	EventID      string    `bun:"event_id,notnull" json:"event_id"`
	Action       string    `bun:"action,notnull" json:"action"`
	ScannedAt    time.Time `bun:"scanned_at,notnull" json:"scanned_at"`
	OperatorID   string    `bun:"operator_id,nullzero" json:"operator_id,omitempty"`
}
