package models

import "fmt"

// Action is a requested scan operation on a ticket. The set is closed:
// anything else is rejected before it reaches the state machine.
type Action string

const (
	ActionSold    Action = "SOLD"
	ActionEnter   Action = "ENTER"
	ActionExit    Action = "EXIT"
	ActionReenter Action = "REENTER"
)

func (a Action) Valid() bool {
	switch a {
	case ActionSold, ActionEnter, ActionExit, ActionReenter:
		return true
	}
	return false
}

// ScanRequest is the wire shape of a scan submission, live or replayed
// from an offline queue.
type ScanRequest struct {
	TicketNumber string `json:"ticket_number"`
	Action       Action `json:"action"`
	EntryType    string `json:"entry_type"`
	OperatorID   string `json:"operator_id,omitempty"`
}

func (r ScanRequest) Validate() error {
	if r.TicketNumber == "" {
		return fmt.Errorf("ticket_number is required")
	}
	if !r.Action.Valid() {
		return fmt.Errorf("unknown action %q", string(r.Action))
	}
	if r.EntryType != "" && r.EntryType != EntryScan && r.EntryType != EntryManual {
		return fmt.Errorf("unknown entry_type %q", r.EntryType)
	}
	return nil
}

// ScanResult is returned for an applied transition. Action is the
// history action that was recorded, which for a re-entry differs from
// the action that was requested.
type ScanResult struct {
	TicketNumber string `json:"ticket_number"`
	EventID      string `json:"event_id"`
	NewStatus    string `json:"new_status"`
	Action       string `json:"action"`
}
