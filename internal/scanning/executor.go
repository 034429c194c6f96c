package scanning

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"ms-gatepass/internal/models"
	"ms-gatepass/internal/scanning/db"
)

// TicketStore is the storage surface the executor needs. Implemented by
// the bun layer in internal/scanning/db.
type TicketStore interface {
	GetTicketByNumber(ctx context.Context, number string) (*models.Ticket, error)
	ListHistory(ctx context.Context, number string) ([]models.ScanHistory, error)
	ApplyTransition(ctx context.Context, ticket models.Ticket, prevStatus string, rec models.ScanHistory) error
}

// TicketLocker serializes scans of one ticket number across server
// replicas. Optional; in-process serialization always applies.
type TicketLocker interface {
	LockTicket(ctx context.Context, number, token string) (bool, error)
	UnlockTicket(ctx context.Context, number, token string) error
}

// keyMutex hands out one mutex per ticket number so scans of different
// tickets never block each other.
type keyMutex struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

func newKeyMutex() *keyMutex {
	return &keyMutex{locks: make(map[string]*entry)}
}

func (k *keyMutex) lock(key string) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &entry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()
	e.mu.Lock()
}

func (k *keyMutex) unlock(key string) {
	k.mu.Lock()
	e := k.locks[key]
	e.refs--
	if e.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()
	e.mu.Unlock()
}

// Executor applies validated transitions atomically. The validate step
// always runs against the current persisted state: after taking the
// per-ticket lock the ticket is re-read, re-validated and committed with
// a compare-and-swap on the status the validator saw. Two concurrent
// ENTERs on one VENDU ticket therefore cannot both succeed; the loser
// observes ENTERED on its re-validation and is rejected.
type Executor struct {
	Store  TicketStore
	Locker TicketLocker
	keys   *keyMutex
}

func NewExecutor(store TicketStore, locker TicketLocker) *Executor {
	return &Executor{Store: store, Locker: locker, keys: newKeyMutex()}
}

// maxCASAttempts bounds the re-validate loop when the CAS loses a race
// to a writer outside this process.
const maxCASAttempts = 3

func (e *Executor) Execute(ctx context.Context, req models.ScanRequest) (*models.ScanResult, error) {
	e.keys.lock(req.TicketNumber)
	defer e.keys.unlock(req.TicketNumber)

	if e.Locker != nil {
		token := uuid.New().String()
		ok, err := e.Locker.LockTicket(ctx, req.TicketNumber, token)
		if err != nil {
			return nil, &TransientError{Op: "acquire scan lock", Err: err}
		}
		if !ok {
			return nil, &TransientError{Op: "acquire scan lock", Err: errors.New("ticket is being scanned elsewhere")}
		}
		defer func() {
			_ = e.Locker.UnlockTicket(ctx, req.TicketNumber, token)
		}()
	}

	var lastErr error
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		result, err := e.tryOnce(ctx, req)
		if errors.Is(err, db.ErrStaleStatus) {
			lastErr = err
			continue
		}
		return result, err
	}
	return nil, &TransientError{Op: "commit transition", Err: lastErr}
}

func (e *Executor) tryOnce(ctx context.Context, req models.ScanRequest) (*models.ScanResult, error) {
	ticket, err := e.Store.GetTicketByNumber(ctx, req.TicketNumber)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &NotFoundError{TicketNumber: req.TicketNumber}
		}
		return nil, &TransientError{Op: "load ticket", Err: err}
	}

	history, err := e.Store.ListHistory(ctx, req.TicketNumber)
	if err != nil {
		return nil, &TransientError{Op: "load history", Err: err}
	}

	transition, err := Decide(ticket.Status, history, req.Action)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	prevStatus := ticket.Status
	updated := *ticket
	updated.Status = transition.NewStatus
	if req.Action == models.ActionSold {
		updated.SoldAt = now
	} else {
		updated.ScannedAt = now
		entryType := req.EntryType
		if entryType == "" {
			entryType = models.EntryScan
		}
		updated.EntryType = entryType
	}

	rec := models.ScanHistory{
		TicketNumber: ticket.Number,
		EventID:      ticket.EventID,
		Action:       transition.HistoryAction,
		ScannedAt:    now,
		OperatorID:   req.OperatorID,
	}

	if err := e.Store.ApplyTransition(ctx, updated, prevStatus, rec); err != nil {
		if errors.Is(err, db.ErrStaleStatus) {
			return nil, err
		}
		return nil, &TransientError{Op: "commit transition", Err: err}
	}

	return &models.ScanResult{
		TicketNumber: ticket.Number,
		EventID:      ticket.EventID,
		NewStatus:    transition.NewStatus,
		Action:       transition.HistoryAction,
	}, nil
}
