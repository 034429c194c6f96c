package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"ms-gatepass/internal/models"
)

// ErrStaleStatus is returned by ApplyTransition when the ticket's
// persisted status no longer matches the status the transition was
// validated against, i.e. a concurrent scan committed first.
var ErrStaleStatus = errors.New("ticket status changed since validation")

type DB struct {
	Bun *bun.DB
}

// CreateSchema creates the server-side tables. Safe to call repeatedly.
func (d *DB) CreateSchema(ctx context.Context) error {
	for _, model := range []interface{}{
		(*models.Event)(nil),
		(*models.Ticket)(nil),
		(*models.ScanHistory)(nil),
	} {
		if _, err := d.Bun.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	return nil
}

func (d *DB) GetTicketByNumber(ctx context.Context, number string) (*models.Ticket, error) {
	var ticket models.Ticket
	err := d.Bun.NewSelect().
		Model(&ticket).
		Where("number = ?", number).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

// ListHistory returns the full scan history of one ticket in applied
// order. The id tiebreak keeps same-timestamp records stable.
func (d *DB) ListHistory(ctx context.Context, number string) ([]models.ScanHistory, error) {
	var history []models.ScanHistory
	err := d.Bun.NewSelect().
		Model(&history).
		Where("ticket_number = ?", number).
		Order("scanned_at ASC", "id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return history, nil
}

func (d *DB) ListEventHistory(ctx context.Context, eventID string) ([]models.ScanHistory, error) {
	var history []models.ScanHistory
	err := d.Bun.NewSelect().
		Model(&history).
		Where("event_id = ?", eventID).
		Order("scanned_at ASC", "id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return history, nil
}

// ApplyTransition commits one validated transition as a single unit:
// the status update and exactly one history append, or neither. The
// status update is a compare-and-swap on the status the validator saw;
// if the row was moved by a concurrent scan in the meantime, nothing is
// written and ErrStaleStatus comes back so the caller can re-validate.
func (d *DB) ApplyTransition(ctx context.Context, ticket models.Ticket, prevStatus string, rec models.ScanHistory) error {
	return d.Bun.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model(&ticket).
			Column("status", "entry_type", "sold_at", "scanned_at").
			Where("number = ?", ticket.Number).
			Where("status = ?", prevStatus).
			Exec(ctx)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return ErrStaleStatus
		}
		if _, err := tx.NewInsert().Model(&rec).Exec(ctx); err != nil {
			return err
		}
		return nil
	})
}

// ImportTickets inserts a batch of PENDING tickets, skipping numbers
// that already exist. Idempotent: re-importing the same file yields only
// duplicates, never re-created tickets.
func (d *DB) ImportTickets(ctx context.Context, eventID, ticketType string, numbers []string) (imported, duplicates int, err error) {
	now := time.Now()
	for _, number := range numbers {
		ticket := models.Ticket{
			Number:     number,
			EventID:    eventID,
			Status:     models.StatusPending,
			TicketType: ticketType,
			CreatedAt:  now,
		}
		res, insErr := d.Bun.NewInsert().
			Model(&ticket).
			On("CONFLICT (number) DO NOTHING").
			Exec(ctx)
		if insErr != nil {
			return imported, duplicates, fmt.Errorf("import %s: %w", number, insErr)
		}
		affected, affErr := res.RowsAffected()
		if affErr != nil {
			return imported, duplicates, affErr
		}
		if affected == 0 {
			duplicates++
		} else {
			imported++
		}
	}
	return imported, duplicates, nil
}

// SearchTicket returns a ticket scoped to an event together with its
// most recent history record, or sql.ErrNoRows when absent.
func (d *DB) SearchTicket(ctx context.Context, number, eventID string) (*models.Ticket, *models.ScanHistory, error) {
	var ticket models.Ticket
	err := d.Bun.NewSelect().
		Model(&ticket).
		Where("number = ?", number).
		Where("event_id = ?", eventID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, nil, err
	}

	var last models.ScanHistory
	err = d.Bun.NewSelect().
		Model(&last).
		Where("ticket_number = ?", number).
		Order("scanned_at DESC", "id DESC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return &ticket, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return &ticket, &last, nil
}

func (d *DB) CreateEvent(ctx context.Context, event models.Event) error {
	_, err := d.Bun.NewInsert().Model(&event).Exec(ctx)
	return err
}

// DeleteEvent removes an event with all its tickets and history. The
// only path that ever deletes tickets or history records.
func (d *DB) DeleteEvent(ctx context.Context, eventID string) error {
	return d.Bun.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().
			Model((*models.ScanHistory)(nil)).
			Where("event_id = ?", eventID).
			Exec(ctx); err != nil {
			return err
		}
		if _, err := tx.NewDelete().
			Model((*models.Ticket)(nil)).
			Where("event_id = ?", eventID).
			Exec(ctx); err != nil {
			return err
		}
		if _, err := tx.NewDelete().
			Model((*models.Event)(nil)).
			Where("id = ?", eventID).
			Exec(ctx); err != nil {
			return err
		}
		return nil
	})
}
