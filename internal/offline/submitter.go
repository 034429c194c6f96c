package offline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"ms-gatepass/internal/models"
)

// Outcome classifies the server's answer to a replayed intent.
type Outcome int

const (
	// OutcomeApplied: the transition was committed.
	OutcomeApplied Outcome = iota
	// OutcomeRejected: business-rule rejection; permanently decided,
	// nothing to retry.
	OutcomeRejected
	// OutcomeNotFound: unknown ticket; nothing to retry toward.
	OutcomeNotFound
)

type SubmitResult struct {
	Outcome   Outcome
	NewStatus string
	Reason    string
}

// Submitter pushes one intent through the same validator/executor
// pathway a live scan takes. A returned error (as opposed to a result)
// is always transient: network failure, timeout, or a 5xx.
type Submitter interface {
	Submit(ctx context.Context, intent models.ScanIntent) (*SubmitResult, error)
}

// HTTPSubmitter talks to the gate server's scan endpoint.
type HTTPSubmitter struct {
	BaseURL string
	Client  *http.Client
	Token   string // bearer token for the operator session, optional
}

type scanResponseBody struct {
	Success       bool   `json:"success"`
	NewStatus     string `json:"new_status"`
	Error         string `json:"error"`
	CurrentStatus string `json:"current_status"`
}

func (s *HTTPSubmitter) Submit(ctx context.Context, intent models.ScanIntent) (*SubmitResult, error) {
	body, err := json.Marshal(models.ScanRequest{
		TicketNumber: intent.TicketNumber,
		Action:       intent.Action,
		EntryType:    intent.EntryType,
		OperatorID:   intent.OperatorID,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL+"/api/scan", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.Token)
	}

	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var parsed scanResponseBody
	if decodeErr := json.NewDecoder(resp.Body).Decode(&parsed); decodeErr != nil && resp.StatusCode == http.StatusOK {
		return nil, fmt.Errorf("malformed scan response: %w", decodeErr)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return &SubmitResult{Outcome: OutcomeApplied, NewStatus: parsed.NewStatus}, nil
	case http.StatusConflict:
		return &SubmitResult{Outcome: OutcomeRejected, Reason: parsed.Error}, nil
	case http.StatusNotFound:
		return &SubmitResult{Outcome: OutcomeNotFound, Reason: parsed.Error}, nil
	default:
		return nil, fmt.Errorf("server returned status %d", resp.StatusCode)
	}
}
