package offline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ms-gatepass/internal/logger"
	"ms-gatepass/internal/models"
)

// RetryPolicy shapes how the reconciler paces failing submissions. The
// retry bound itself lives on the queue, which owns the intent rows.
type RetryPolicy struct {
	Backoff time.Duration
}

// errLinkDown ends a drain cycle early: a failed submission turned out
// to be our own connectivity, not the server.
var errLinkDown = errors.New("link down")

// IntentQueue is the queue surface the reconciler drains.
type IntentQueue interface {
	ListPending(ctx context.Context) ([]models.ScanIntent, error)
	MarkSynced(ctx context.Context, id string) error
	MarkRejected(ctx context.Context, id, reason string) error
	MarkAttemptFailed(ctx context.Context, id, reason string) (string, error)
	Prune(ctx context.Context, olderThan time.Time) (int, error)
}

// OnlineChecker is the slice of the connectivity monitor the reconciler
// consults before and during a drain.
type OnlineChecker interface {
	Online() bool
	Probe(ctx context.Context) bool
}

// Reconciler drains the offline queue through the server's scan pathway
// whenever connectivity is available. Draining is strictly sequential:
// one intent submitted and awaited at a time, so a ticket scanned
// several times while offline replays in capture order, and a failing
// network hurts at most one in-flight submission.
type Reconciler struct {
	Queue     IntentQueue
	Submitter Submitter
	Monitor   OnlineChecker
	Logger    *logger.Logger
	Policy    RetryPolicy

	Retention     time.Duration
	PruneInterval time.Duration

	kick chan struct{}
}

func NewReconciler(queue IntentQueue, submitter Submitter, monitor OnlineChecker, log *logger.Logger, policy RetryPolicy) *Reconciler {
	return &Reconciler{
		Queue:     queue,
		Submitter: submitter,
		Monitor:   monitor,
		Logger:    log,
		Policy:    policy,
		kick:      make(chan struct{}, 1),
	}
}

// Kick schedules a drain cycle. Coalesces: kicking a running drain just
// queues one more cycle. Called on enqueue and on offline→online
// transitions.
func (r *Reconciler) Kick() {
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

// Run is the single drain loop; there is never more than one drain in
// flight. Blocks until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	var pruneC <-chan time.Time
	if r.PruneInterval > 0 {
		ticker := time.NewTicker(r.PruneInterval)
		defer ticker.Stop()
		pruneC = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.kick:
			if err := r.DrainOnce(ctx); err != nil {
				r.Logger.Error("SYNC", fmt.Sprintf("drain aborted: %v", err))
			}
		case <-pruneC:
			r.pruneOnce(ctx)
		}
	}
}

// DrainOnce submits all currently pending intents, oldest first.
// Intents enqueued while the drain runs wait for the next cycle. If
// connectivity drops mid-drain the rest of the cycle is abandoned with
// those intents left pending; an interruption is not a failed attempt.
func (r *Reconciler) DrainOnce(ctx context.Context) error {
	if !r.Monitor.Online() {
		return nil
	}

	intents, err := r.Queue.ListPending(ctx)
	if err != nil {
		return fmt.Errorf("list pending: %w", err)
	}
	if len(intents) == 0 {
		return nil
	}

	r.Logger.Info("SYNC", fmt.Sprintf("draining %d pending intents", len(intents)))

	for _, intent := range intents {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !r.Monitor.Online() {
			r.Logger.Warn("SYNC", "connectivity lost mid-drain, leaving remaining intents pending")
			return nil
		}

		if err := r.submitOne(ctx, intent); err != nil {
			if errors.Is(err, errLinkDown) {
				return nil
			}
			return err
		}
	}
	return nil
}

// submitOne submits a single intent and classifies the server's answer.
// A non-nil return aborts the whole cycle; errLinkDown means the link
// itself dropped and the rest of the queue should stay pending.
func (r *Reconciler) submitOne(ctx context.Context, intent models.ScanIntent) error {
	result, err := r.Submitter.Submit(ctx, intent)
	if err != nil {
		// transient: distinguish "server struggling" from "we are
		// offline". An offline interruption leaves the intent pending
		// and untouched.
		if !r.Monitor.Probe(ctx) {
			r.Logger.Warn("SYNC", fmt.Sprintf("went offline while submitting %s, aborting cycle", intent.ID))
			return errLinkDown
		}
		r.Logger.LogSync("RETRY", intent.ID, fmt.Sprintf("transient failure: %v", err))
		status, markErr := r.Queue.MarkAttemptFailed(ctx, intent.ID, err.Error())
		if markErr != nil {
			return fmt.Errorf("mark attempt failed: %w", markErr)
		}
		if status == models.SyncFailed {
			r.Logger.Error("SYNC", fmt.Sprintf("intent %s exhausted its retries, parked for manual review", intent.ID))
		}
		if r.Policy.Backoff > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.Policy.Backoff):
			}
		}
		return nil
	}

	switch result.Outcome {
	case OutcomeApplied:
		r.Logger.LogSync("SYNCED", intent.ID, "applied, new status "+result.NewStatus)
		return r.Queue.MarkSynced(ctx, intent.ID)
	case OutcomeRejected:
		// the server's business rules have permanently decided this
		// intent; keep the reason on the row for audit
		r.Logger.Warn("SYNC", fmt.Sprintf("intent %s rejected by server: %s", intent.ID, result.Reason))
		return r.Queue.MarkRejected(ctx, intent.ID, result.Reason)
	case OutcomeNotFound:
		r.Logger.Warn("SYNC", fmt.Sprintf("intent %s references unknown ticket %s", intent.ID, intent.TicketNumber))
		return r.Queue.MarkRejected(ctx, intent.ID, result.Reason)
	}
	return fmt.Errorf("unknown submit outcome %d", result.Outcome)
}

func (r *Reconciler) pruneOnce(ctx context.Context) {
	if r.Retention <= 0 {
		return
	}
	cutoff := time.Now().Add(-r.Retention)
	pruned, err := r.Queue.Prune(ctx, cutoff)
	if err != nil {
		r.Logger.Error("SYNC", fmt.Sprintf("prune failed: %v", err))
		return
	}
	if pruned > 0 {
		r.Logger.Info("SYNC", fmt.Sprintf("pruned %d old intents", pruned))
	}
}
