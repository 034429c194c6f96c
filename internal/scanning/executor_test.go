package scanning_test

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "github.com/uptrace/bun/driver/sqliteshim"

	"ms-gatepass/internal/models"
	"ms-gatepass/internal/scanning"
	scan_db "ms-gatepass/internal/scanning/db"
)

func setupExecutor(t *testing.T) (*scanning.Executor, *scan_db.DB) {
	sqldb, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	store := &scan_db.DB{Bun: bunDB}
	require.NoError(t, store.CreateSchema(context.Background()))
	t.Cleanup(func() { bunDB.Close() })

	return scanning.NewExecutor(store, nil), store
}

func importOne(t *testing.T, store *scan_db.DB, number string) {
	imported, _, err := store.ImportTickets(context.Background(), "evt-1", models.TypeNormal, []string{number})
	require.NoError(t, err)
	require.Equal(t, 1, imported)
}

func TestExecuteUnknownTicket(t *testing.T) {
	executor, _ := setupExecutor(t)

	_, err := executor.Execute(context.Background(), models.ScanRequest{
		TicketNumber: "missing",
		Action:       models.ActionEnter,
	})

	var nfErr *scanning.NotFoundError
	require.ErrorAs(t, err, &nfErr)
	assert.Equal(t, "missing", nfErr.TicketNumber)
}

// The TK1234 lifecycle against real storage: each step commits the
// status and appends exactly one history record.
func TestExecuteFullLifecycle(t *testing.T) {
	executor, store := setupExecutor(t)
	importOne(t, store, "TK1234")

	steps := []struct {
		action     models.Action
		wantStatus string
	}{
		{models.ActionSold, models.StatusVendu},
		{models.ActionEnter, models.StatusEntered},
		{models.ActionExit, models.StatusExited},
		{models.ActionReenter, models.StatusEntered},
		{models.ActionExit, models.StatusExited},
	}

	for _, step := range steps {
		result, err := executor.Execute(context.Background(), models.ScanRequest{
			TicketNumber: "TK1234",
			Action:       step.action,
			EntryType:    models.EntryScan,
			OperatorID:   "op-7",
		})
		require.NoError(t, err, "action %s", step.action)
		assert.Equal(t, step.wantStatus, result.NewStatus)
	}

	history, err := store.ListHistory(context.Background(), "TK1234")
	require.NoError(t, err)

	var actions []string
	for _, rec := range history {
		actions = append(actions, rec.Action)
	}
	assert.Equal(t, []string{
		models.HistorySold,
		models.HistoryEnter,
		models.HistoryExit,
		models.HistoryEnter,
		models.HistoryExit,
	}, actions)

	ticket, err := store.GetTicketByNumber(context.Background(), "TK1234")
	require.NoError(t, err)
	assert.Equal(t, scanning.Replay(history), ticket.Status)
	assert.Equal(t, "op-7", history[0].OperatorID)
}

// A duplicate ENTER right after a successful ENTER is rejected and
// leaves the ticket untouched.
func TestExecuteDuplicateEnter(t *testing.T) {
	executor, store := setupExecutor(t)
	importOne(t, store, "TK10")

	for _, action := range []models.Action{models.ActionSold, models.ActionEnter} {
		_, err := executor.Execute(context.Background(), models.ScanRequest{
			TicketNumber: "TK10",
			Action:       action,
		})
		require.NoError(t, err)
	}

	_, err := executor.Execute(context.Background(), models.ScanRequest{
		TicketNumber: "TK10",
		Action:       models.ActionEnter,
	})

	var vErr *scanning.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "already entered", vErr.Reason)
	assert.Equal(t, models.StatusEntered, vErr.CurrentStatus)

	history, err := store.ListHistory(context.Background(), "TK10")
	require.NoError(t, err)
	assert.Len(t, history, 2, "the rejected attempt must not append history")
}

// Two concurrent ENTERs on the same VENDU ticket: exactly one commits,
// the other observes ENTERED and is rejected.
func TestExecuteConcurrentScansSameTicket(t *testing.T) {
	executor, store := setupExecutor(t)
	importOne(t, store, "TK20")

	_, err := executor.Execute(context.Background(), models.ScanRequest{
		TicketNumber: "TK20",
		Action:       models.ActionSold,
	})
	require.NoError(t, err)

	const racers = 2
	errs := make([]error, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = executor.Execute(context.Background(), models.ScanRequest{
				TicketNumber: "TK20",
				Action:       models.ActionEnter,
			})
		}(i)
	}
	wg.Wait()

	var successes, rejections int
	for _, err := range errs {
		if err == nil {
			successes++
			continue
		}
		var vErr *scanning.ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Equal(t, "already entered", vErr.Reason)
		rejections++
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, rejections)

	history, err := store.ListHistory(context.Background(), "TK20")
	require.NoError(t, err)
	assert.Len(t, history, 2, "SOLD plus exactly one ENTER")
}

// Scans of different tickets proceed independently.
func TestExecuteConcurrentScansDifferentTickets(t *testing.T) {
	executor, store := setupExecutor(t)
	numbers := []string{"TK30", "TK31", "TK32", "TK33"}
	for _, number := range numbers {
		importOne(t, store, number)
	}

	var wg sync.WaitGroup
	errs := make([]error, len(numbers))
	for i, number := range numbers {
		wg.Add(1)
		go func(i int, number string) {
			defer wg.Done()
			_, errs[i] = executor.Execute(context.Background(), models.ScanRequest{
				TicketNumber: number,
				Action:       models.ActionSold,
			})
		}(i, number)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "ticket %s", numbers[i])
	}
}

func TestExecuteSetsEntryTypeAndTimestamps(t *testing.T) {
	executor, store := setupExecutor(t)
	importOne(t, store, "TK40")

	before := time.Now().Add(-time.Second)

	_, err := executor.Execute(context.Background(), models.ScanRequest{
		TicketNumber: "TK40",
		Action:       models.ActionSold,
	})
	require.NoError(t, err)

	ticket, err := store.GetTicketByNumber(context.Background(), "TK40")
	require.NoError(t, err)
	assert.True(t, ticket.SoldAt.After(before))

	_, err = executor.Execute(context.Background(), models.ScanRequest{
		TicketNumber: "TK40",
		Action:       models.ActionEnter,
		EntryType:    models.EntryManual,
	})
	require.NoError(t, err)

	ticket, err = store.GetTicketByNumber(context.Background(), "TK40")
	require.NoError(t, err)
	assert.Equal(t, models.EntryManual, ticket.EntryType)
	assert.True(t, ticket.ScannedAt.After(before))
}
