package scanning

import "ms-gatepass/internal/models"

// Transition is the validated outcome of a scan request: the status the
// ticket moves to and the single history action to append.
type Transition struct {
	NewStatus     string
	HistoryAction string
}

// Decide is the pure transition function: given the ticket's current
// persisted status, its full scan history and the requested action, it
// returns the transition to apply or a *ValidationError explaining the
// rejection. It touches no storage; the executor is responsible for
// calling it against fresh state at commit time.
//
// A REENTER is distinguished from a first ENTER by inspecting history
// (has this ticket ever exited?) rather than by a dedicated status or
// history action. That keeps the status set small and keeps the
// currently-inside count computable as max(0, ENTER-EXIT) with no
// separate re-entry counter. Deliberate simplification; do not "fix" it
// by adding a REENTERED status.
func Decide(status string, history []models.ScanHistory, action models.Action) (Transition, error) {
	switch action {
	case models.ActionSold:
		if status != models.StatusPending {
			return Transition{}, &ValidationError{Reason: "already sold or invalid", CurrentStatus: status}
		}
		return Transition{NewStatus: models.StatusVendu, HistoryAction: models.HistorySold}, nil

	case models.ActionEnter:
		switch status {
		case models.StatusVendu, models.StatusExited:
			return Transition{NewStatus: models.StatusEntered, HistoryAction: models.HistoryEnter}, nil
		case models.StatusEntered:
			return Transition{}, &ValidationError{Reason: "already entered", CurrentStatus: status}
		default:
			return Transition{}, &ValidationError{Reason: "not sold", CurrentStatus: status}
		}

	case models.ActionExit:
		switch status {
		case models.StatusEntered:
			return Transition{NewStatus: models.StatusExited, HistoryAction: models.HistoryExit}, nil
		case models.StatusExited:
			return Transition{}, &ValidationError{Reason: "already exited", CurrentStatus: status}
		case models.StatusVendu:
			return Transition{}, &ValidationError{Reason: "not yet entered", CurrentStatus: status}
		default:
			return Transition{}, &ValidationError{Reason: "not validated for entry", CurrentStatus: status}
		}

	case models.ActionReenter:
		if !hasExited(history) {
			return Transition{}, &ValidationError{Reason: "never exited", CurrentStatus: status}
		}
		if status == models.StatusEntered {
			return Transition{}, &ValidationError{Reason: "already entered", CurrentStatus: status}
		}
		return Transition{NewStatus: models.StatusEntered, HistoryAction: models.HistoryEnter}, nil
	}

	return Transition{}, &ValidationError{Reason: "unknown action", CurrentStatus: status}
}

func hasExited(history []models.ScanHistory) bool {
	for _, rec := range history {
		if rec.Action == models.HistoryExit {
			return true
		}
	}
	return false
}

// Replay folds a history onto the transition table starting from PENDING
// and returns the resulting status. The persisted ticket status must
// always match what Replay produces for the same history.
func Replay(history []models.ScanHistory) string {
	status := models.StatusPending
	for _, rec := range history {
		switch rec.Action {
		case models.HistorySold:
			status = models.StatusVendu
		case models.HistoryEnter:
			status = models.StatusEntered
		case models.HistoryExit:
			status = models.StatusExited
		}
	}
	return status
}

// CurrentlyInside derives the number of admitted-but-not-exited people
// from a history. Never negative, even for pathological histories.
func CurrentlyInside(history []models.ScanHistory) int {
	inside := 0
	for _, rec := range history {
		switch rec.Action {
		case models.HistoryEnter:
			inside++
		case models.HistoryExit:
			inside--
		}
	}
	if inside < 0 {
		return 0
	}
	return inside
}
