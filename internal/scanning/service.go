package scanning

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"ms-gatepass/internal/logger"
	"ms-gatepass/internal/models"
)

// ScanDBLayer is the storage surface of the service, beyond what the
// executor already needs.
type ScanDBLayer interface {
	TicketStore
	ImportTickets(ctx context.Context, eventID, ticketType string, numbers []string) (int, int, error)
	SearchTicket(ctx context.Context, number, eventID string) (*models.Ticket, *models.ScanHistory, error)
	ListEventHistory(ctx context.Context, eventID string) ([]models.ScanHistory, error)
	CreateEvent(ctx context.Context, event models.Event) error
	DeleteEvent(ctx context.Context, eventID string) error
}

type KafkaPublisher interface {
	PublishTicketScanned(rec models.ScanHistory, newStatus string) error
	PublishTicketsImported(eventID string, imported, duplicates int) error
}

type Service struct {
	DB       ScanDBLayer
	Executor *Executor
	Kafka    KafkaPublisher
	Logger   *logger.Logger
}

func NewService(db ScanDBLayer, executor *Executor, kafka KafkaPublisher, log *logger.Logger) *Service {
	return &Service{DB: db, Executor: executor, Kafka: kafka, Logger: log}
}

// Scan runs one validated transition end to end and reports the applied
// result, or the rejection/not-found/transient error from the executor.
func (s *Service) Scan(ctx context.Context, req models.ScanRequest) (*models.ScanResult, error) {
	if err := req.Validate(); err != nil {
		return nil, &ValidationError{Reason: err.Error()}
	}

	result, err := s.Executor.Execute(ctx, req)
	if err != nil {
		s.Logger.LogScan(string(req.Action), req.TicketNumber, fmt.Sprintf("rejected: %v", err))
		return nil, err
	}

	s.Logger.LogScan(string(req.Action), req.TicketNumber, "applied, new status "+result.NewStatus)

	if s.Kafka != nil {
		// publish what the ledger recorded, not what was requested: a
		// re-entry goes out as ENTER, matching its history row
		rec := models.ScanHistory{
			TicketNumber: result.TicketNumber,
			EventID:      result.EventID,
			Action:       result.Action,
			OperatorID:   req.OperatorID,
		}
		if err := s.Kafka.PublishTicketScanned(rec, result.NewStatus); err != nil {
			// the transition is already committed; a lost event is not a
			// reason to fail the scan
			s.Logger.Error("KAFKA", fmt.Sprintf("failed to publish scan event for %s: %v", req.TicketNumber, err))
		}
	}
	return result, nil
}

type ImportRequest struct {
	EventID    string   `json:"event_id"`
	TicketType string   `json:"ticket_type"`
	Numbers    []string `json:"numbers"`
}

type ImportResult struct {
	Imported   int `json:"imported"`
	Duplicates int `json:"duplicates"`
}

// Import creates PENDING tickets for a batch of raw numbers. Numbers
// already present are counted as duplicates and never re-created.
func (s *Service) Import(ctx context.Context, req ImportRequest) (*ImportResult, error) {
	if req.EventID == "" {
		return nil, &ValidationError{Reason: "event_id is required"}
	}
	if len(req.Numbers) == 0 {
		return nil, &ValidationError{Reason: "no ticket numbers supplied"}
	}
	ticketType := req.TicketType
	if ticketType == "" {
		ticketType = models.TypeNormal
	}

	imported, duplicates, err := s.DB.ImportTickets(ctx, req.EventID, ticketType, req.Numbers)
	if err != nil {
		return nil, &TransientError{Op: "import tickets", Err: err}
	}

	s.Logger.LogDatabase("IMPORT", "tickets",
		fmt.Sprintf("event %s: %d imported, %d duplicates", req.EventID, imported, duplicates))

	if s.Kafka != nil {
		if err := s.Kafka.PublishTicketsImported(req.EventID, imported, duplicates); err != nil {
			s.Logger.Error("KAFKA", fmt.Sprintf("failed to publish import event: %v", err))
		}
	}
	return &ImportResult{Imported: imported, Duplicates: duplicates}, nil
}

type SearchResult struct {
	Found      bool                `json:"found"`
	Ticket     *models.Ticket      `json:"ticket,omitempty"`
	LastAction *models.ScanHistory `json:"last_action,omitempty"`
}

// Search looks a ticket up by number within an event. An unknown number
// is not an error here, just found=false.
func (s *Service) Search(ctx context.Context, number, eventID string) (*SearchResult, error) {
	ticket, last, err := s.DB.SearchTicket(ctx, number, eventID)
	if errors.Is(err, sql.ErrNoRows) {
		return &SearchResult{Found: false}, nil
	}
	if err != nil {
		return nil, &TransientError{Op: "search ticket", Err: err}
	}
	return &SearchResult{Found: true, Ticket: ticket, LastAction: last}, nil
}

// CurrentlyInside derives the admitted-but-not-exited count for an event
// from its history alone.
func (s *Service) CurrentlyInside(ctx context.Context, eventID string) (int, error) {
	history, err := s.DB.ListEventHistory(ctx, eventID)
	if err != nil {
		return 0, &TransientError{Op: "load event history", Err: err}
	}
	return CurrentlyInside(history), nil
}

func (s *Service) CreateEvent(ctx context.Context, event models.Event) error {
	if event.ID == "" || event.Name == "" {
		return &ValidationError{Reason: "event id and name are required"}
	}
	if err := s.DB.CreateEvent(ctx, event); err != nil {
		return &TransientError{Op: "create event", Err: err}
	}
	return nil
}

// DeleteEvent removes an event with its tickets and history. Explicit
// cleanup is the only deletion path in the system.
func (s *Service) DeleteEvent(ctx context.Context, eventID string) error {
	if err := s.DB.DeleteEvent(ctx, eventID); err != nil {
		return &TransientError{Op: "delete event", Err: err}
	}
	s.Logger.LogDatabase("DELETE", "events", "event "+eventID+" removed with tickets and history")
	return nil
}
