package offline_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-gatepass/internal/logger"
	"ms-gatepass/internal/models"
	"ms-gatepass/internal/offline"
)

// fakeChecker scripts the connectivity the reconciler observes.
type fakeChecker struct {
	online      bool
	probeResult bool
	// goOfflineAfter drops the link after N Online() checks
	goOfflineAfter int
	checks         int
}

func (f *fakeChecker) Online() bool {
	f.checks++
	if f.goOfflineAfter > 0 && f.checks > f.goOfflineAfter {
		return false
	}
	return f.online
}

func (f *fakeChecker) Probe(ctx context.Context) bool { return f.probeResult }

// scriptedSubmitter returns canned results per ticket number and records
// submission order.
type scriptedSubmitter struct {
	results   map[string]*offline.SubmitResult
	errors    map[string]error
	submitted []string
}

func (s *scriptedSubmitter) Submit(ctx context.Context, intent models.ScanIntent) (*offline.SubmitResult, error) {
	s.submitted = append(s.submitted, intent.TicketNumber)
	if err, ok := s.errors[intent.TicketNumber]; ok {
		return nil, err
	}
	if res, ok := s.results[intent.TicketNumber]; ok {
		return res, nil
	}
	return &offline.SubmitResult{Outcome: offline.OutcomeApplied, NewStatus: models.StatusEntered}, nil
}

func newDrainFixture(t *testing.T, checker offline.OnlineChecker, submitter offline.Submitter) (*offline.Queue, *offline.Reconciler) {
	queue := setupQueue(t)
	reconciler := offline.NewReconciler(queue, submitter, checker, logger.NewNop(), offline.RetryPolicy{})
	return queue, reconciler
}

func enqueueN(t *testing.T, queue *offline.Queue, n int) []models.ScanIntent {
	base := time.Now().Add(-time.Minute)
	intents := make([]models.ScanIntent, 0, n)
	for i := 0; i < n; i++ {
		intent := newIntent(fmt.Sprintf("TK%d", i), base.Add(time.Duration(i)*time.Second))
		require.NoError(t, queue.Enqueue(context.Background(), intent))
		intents = append(intents, intent)
	}
	return intents
}

// Five intents queued while offline all drain in enqueue order once the
// link is back; none are lost.
func TestDrainProcessesAllPendingInOrder(t *testing.T) {
	checker := &fakeChecker{online: true, probeResult: true}
	submitter := &scriptedSubmitter{}
	queue, reconciler := newDrainFixture(t, checker, submitter)

	enqueueN(t, queue, 5)

	require.NoError(t, reconciler.DrainOnce(context.Background()))

	assert.Equal(t, []string{"TK0", "TK1", "TK2", "TK3", "TK4"}, submitter.submitted)

	counts, err := queue.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, offline.Counts{Pending: 0, Synced: 5, Failed: 0}, counts)
}

func TestDrainDoesNothingWhileOffline(t *testing.T) {
	checker := &fakeChecker{online: false}
	submitter := &scriptedSubmitter{}
	queue, reconciler := newDrainFixture(t, checker, submitter)

	enqueueN(t, queue, 3)

	require.NoError(t, reconciler.DrainOnce(context.Background()))

	assert.Empty(t, submitter.submitted)
	counts, err := queue.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, counts.Pending)
}

// A server-side business rejection ends the intent as synced-terminal,
// with the reason kept for audit.
func TestDrainTreatsRejectionAsTerminal(t *testing.T) {
	checker := &fakeChecker{online: true, probeResult: true}
	submitter := &scriptedSubmitter{
		results: map[string]*offline.SubmitResult{
			"TK0": {Outcome: offline.OutcomeRejected, Reason: "already entered"},
			"TK1": {Outcome: offline.OutcomeNotFound, Reason: "ticket TK1 not found"},
		},
	}
	queue, reconciler := newDrainFixture(t, checker, submitter)

	enqueueN(t, queue, 2)

	require.NoError(t, reconciler.DrainOnce(context.Background()))

	counts, err := queue.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, offline.Counts{Pending: 0, Synced: 2, Failed: 0}, counts)

	var stored []models.ScanIntent
	require.NoError(t, queue.Bun.NewSelect().Model(&stored).Order("created_at ASC").Scan(context.Background()))
	assert.Equal(t, "already entered", stored[0].LastError)
}

// Transient failures count as attempts; after MaxRetry consecutive ones
// the intent is failed and excluded from future drains.
func TestDrainRetryBound(t *testing.T) {
	checker := &fakeChecker{online: true, probeResult: true}
	submitter := &scriptedSubmitter{
		errors: map[string]error{"TK0": errors.New("upstream 502")},
	}
	queue, reconciler := newDrainFixture(t, checker, submitter)

	enqueueN(t, queue, 1)

	for i := 0; i < offline.MaxRetry; i++ {
		require.NoError(t, reconciler.DrainOnce(context.Background()))
	}

	counts, err := queue.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, offline.Counts{Pending: 0, Synced: 0, Failed: 1}, counts)
	assert.Len(t, submitter.submitted, offline.MaxRetry)

	// a further drain cycle must not touch the failed intent
	require.NoError(t, reconciler.DrainOnce(context.Background()))
	assert.Len(t, submitter.submitted, offline.MaxRetry)
}

// Connectivity loss mid-drain abandons the cycle and leaves untouched
// intents pending; the interruption is not a failed attempt.
func TestDrainAbortsWhenConnectivityDropsMidCycle(t *testing.T) {
	checker := &fakeChecker{online: true, probeResult: true, goOfflineAfter: 2}
	submitter := &scriptedSubmitter{}
	queue, reconciler := newDrainFixture(t, checker, submitter)

	enqueueN(t, queue, 4)

	require.NoError(t, reconciler.DrainOnce(context.Background()))

	// one pre-drain check plus one per submitted intent
	assert.Less(t, len(submitter.submitted), 4)

	counts, err := queue.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, counts.Failed)
	assert.Equal(t, 4-len(submitter.submitted), counts.Pending, "unsubmitted intents stay pending")

	var remaining []models.ScanIntent
	require.NoError(t, queue.Bun.NewSelect().Model(&remaining).
		Where("sync_status = ?", models.SyncPending).Scan(context.Background()))
	for _, intent := range remaining {
		assert.Equal(t, 0, intent.RetryCount, "an interrupted cycle records no attempts")
	}
}

// A transient failure while the link is actually down ends the cycle:
// the failing intent burns no retry and the ones behind it are never
// submitted, so capture order holds once the link returns.
func TestDrainOfflineFailureDoesNotCountAsAttempt(t *testing.T) {
	checker := &fakeChecker{online: true, probeResult: false}
	submitter := &scriptedSubmitter{
		errors: map[string]error{"TK0": errors.New("dial tcp: no route to host")},
	}
	queue, reconciler := newDrainFixture(t, checker, submitter)

	enqueueN(t, queue, 2)

	require.NoError(t, reconciler.DrainOnce(context.Background()))

	assert.Equal(t, []string{"TK0"}, submitter.submitted, "the cycle stops at the failing intent")

	counts, err := queue.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, counts.Pending)

	pending, err := queue.ListPending(context.Background())
	require.NoError(t, err)
	for _, intent := range pending {
		assert.Equal(t, 0, intent.RetryCount)
	}
}

// The retry bound lives on the queue; a tightened queue bound takes
// effect without any reconciler configuration.
func TestDrainRetryBoundFollowsQueueOverride(t *testing.T) {
	checker := &fakeChecker{online: true, probeResult: true}
	submitter := &scriptedSubmitter{
		errors: map[string]error{"TK0": errors.New("upstream 502")},
	}
	queue, reconciler := newDrainFixture(t, checker, submitter)
	queue.MaxRetry = 2

	enqueueN(t, queue, 1)

	for i := 0; i < 2; i++ {
		require.NoError(t, reconciler.DrainOnce(context.Background()))
	}

	counts, err := queue.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, offline.Counts{Pending: 0, Synced: 0, Failed: 1}, counts)
	assert.Len(t, submitter.submitted, 2)
}

func TestRunDrainsOnKick(t *testing.T) {
	checker := &fakeChecker{online: true, probeResult: true}
	submitter := &scriptedSubmitter{}
	queue, reconciler := newDrainFixture(t, checker, submitter)

	enqueueN(t, queue, 2)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		reconciler.Run(ctx)
		close(done)
	}()

	reconciler.Kick()

	require.Eventually(t, func() bool {
		counts, err := queue.Counts(context.Background())
		return err == nil && counts.Synced == 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}
