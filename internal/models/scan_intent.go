package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Offline intent sync states. pending is the only state the reconciler
// will ever pick up; synced and failed are terminal.
const (
	SyncPending = "pending"
	SyncSynced  = "synced"
	SyncFailed  = "failed"
)

// ScanIntent is a scan captured on the scanner device, queued locally in
// sqlite so that a scan is never lost to a connectivity gap. It is
// created for every scan attempt, online or not.
type ScanIntent struct {
	bun.BaseModel `bun:"table:scan_intents"`

	ID           string    `bun:"id,pk" json:"id"`
	TicketNumber string    `bun:"ticket_number,notnull" json:"ticket_number"`
	Action       Action    `bun:"action,notnull" json:"action"`
	EntryType    string    `bun:"entry_type,nullzero" json:"entry_type,omitempty"`
	OperatorID   string    `bun:"operator_id,nullzero" json:"operator_id,omitempty"`
	OperatorRole string    `bun:"operator_role,nullzero" json:"operator_role,omitempty"`
	ScannedAt    time.Time `bun:"scanned_at,notnull" json:"scanned_at"`
	SyncStatus   string    `bun:"sync_status,notnull" json:"sync_status"`
	RetryCount   int       `bun:"retry_count,notnull" json:"retry_count"`
	LastRetryAt  time.Time `bun:"last_retry_at,nullzero" json:"last_retry_at,omitempty"`
	LastError    string    `bun:"last_error,nullzero" json:"last_error,omitempty"`
	CreatedAt    time.Time `bun:"created_at,notnull" json:"created_at"`
}
