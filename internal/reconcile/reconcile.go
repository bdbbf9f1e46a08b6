// Package reconcile settles payment transactions in the background when the
// synchronous confirmation path could not determine their outcome.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-checkout/internal/checkout"
	"github.com/noah-isme/toko-checkout/internal/obs"
	"github.com/noah-isme/toko-checkout/internal/payment"
	"github.com/noah-isme/toko-checkout/internal/resilience"
)

// TaskType is the asynq task name for a settlement check.
const TaskType = "payment:reconcile"

// Payload identifies the transaction to settle.
type Payload struct {
	Gateway       string `json:"gateway"`
	TransactionID string `json:"transactionId"`
}

// TaskID is the dedup key: one queued check per gateway transaction.
func TaskID(gatewayID, transactionID string) string {
	return fmt.Sprintf("reconcile:%s:%s", strings.ToLower(gatewayID), transactionID)
}

// NewTask builds the asynq task for a transaction.
func NewTask(gatewayID, transactionID string) (*asynq.Task, error) {
	if strings.TrimSpace(gatewayID) == "" || strings.TrimSpace(transactionID) == "" {
		return nil, errors.New("reconcile: gateway and transaction id are required")
	}
	payload, err := json.Marshal(Payload{Gateway: gatewayID, TransactionID: transactionID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskType, payload), nil
}

// TaskClient is the subset of *asynq.Client used for enqueueing.
type TaskClient interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// TaskInspector is the subset of *asynq.Inspector used to revive finished checks.
type TaskInspector interface {
	GetTaskInfo(queue, id string) (*asynq.TaskInfo, error)
	DeleteTask(queue, id string) error
}

// Enqueuer schedules settlement checks on asynq.
type Enqueuer struct {
	Client    TaskClient
	Inspector TaskInspector
	Queue     string
	MaxRetry  int
	Delay     time.Duration
}

// EnqueueReconcile queues a check. A check already queued for the transaction is not an error.
func (e Enqueuer) EnqueueReconcile(ctx context.Context, gatewayID, transactionID string) error {
	err := e.enqueue(ctx, gatewayID, transactionID)
	if isConflict(err) {
		return nil
	}
	return err
}

// RequeueReconcile queues a check even when an earlier one for the transaction
// already ran to completion or was archived after exhausting its retries.
// asynq keeps the task id of such tasks, so they are deleted and enqueued again.
func (e Enqueuer) RequeueReconcile(ctx context.Context, gatewayID, transactionID string) error {
	err := e.enqueue(ctx, gatewayID, transactionID)
	if !isConflict(err) {
		return err
	}
	if e.Inspector == nil {
		return nil
	}
	queue, id := e.queue(), TaskID(gatewayID, transactionID)
	info, err := e.Inspector.GetTaskInfo(queue, id)
	switch {
	case errors.Is(err, asynq.ErrTaskNotFound):
	case err != nil:
		return fmt.Errorf("inspect reconcile task: %w", err)
	case info.State == asynq.TaskStateArchived || info.State == asynq.TaskStateCompleted:
		if err := e.Inspector.DeleteTask(queue, id); err != nil && !errors.Is(err, asynq.ErrTaskNotFound) {
			return fmt.Errorf("delete finished reconcile task: %w", err)
		}
	default:
		// still pending, scheduled, retrying or running
		return nil
	}
	if err := e.enqueue(ctx, gatewayID, transactionID); err != nil && !isConflict(err) {
		return err
	}
	return nil
}

func (e Enqueuer) queue() string {
	if e.Queue == "" {
		return "default"
	}
	return e.Queue
}

func (e Enqueuer) enqueue(ctx context.Context, gatewayID, transactionID string) error {
	if e.Client == nil {
		return errors.New("reconcile: task client not configured")
	}
	task, err := NewTask(gatewayID, transactionID)
	if err != nil {
		return err
	}
	opts := []asynq.Option{asynq.TaskID(TaskID(gatewayID, transactionID)), asynq.Queue(e.queue())}
	if e.MaxRetry > 0 {
		opts = append(opts, asynq.MaxRetry(e.MaxRetry))
	}
	if e.Delay > 0 {
		opts = append(opts, asynq.ProcessIn(e.Delay))
	}
	_, err = e.Client.EnqueueContext(ctx, task, opts...)
	return err
}

func isConflict(err error) bool {
	return errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask)
}

// Settler performs the settlement; satisfied by *checkout.Orchestrator.
type Settler interface {
	Reconcile(ctx context.Context, gatewayID, transactionID string) error
}

// Handler processes reconcile tasks.
type Handler struct {
	Settler Settler
	Log     zerolog.Logger
}

// ProcessTask implements asynq.Handler. Undecodable payloads and unknown gateways are
// not retried; everything else returns its error so asynq backs off and retries.
func (h Handler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p Payload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		obs.CountReconcile("invalid")
		return fmt.Errorf("decode reconcile payload: %v: %w", err, asynq.SkipRetry)
	}
	log := h.Log.With().Str("gateway", p.Gateway).Str("transaction_id", p.TransactionID).Logger()
	err := h.Settler.Reconcile(ctx, p.Gateway, p.TransactionID)
	switch {
	case err == nil:
		obs.CountReconcile("settled")
		log.Info().Msg("reconcile_done")
		return nil
	case errors.Is(err, checkout.ErrSettlementPending):
		obs.CountReconcile("pending")
		log.Info().Msg("reconcile_pending")
		return err
	case errors.Is(err, payment.ErrUnknownGateway):
		obs.CountReconcile("invalid")
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	default:
		obs.CountReconcile("error")
		log.Warn().Err(err).Msg("reconcile_failed")
		return err
	}
}

// RetryDelay backs off exponentially from base with jitter, capped at max.
func RetryDelay(base, max time.Duration) asynq.RetryDelayFunc {
	return func(n int, _ error, _ *asynq.Task) time.Duration {
		attempt := n + 1
		if attempt > 20 {
			attempt = 20
		}
		d := resilience.Backoff(base, attempt, 0.2)
		if max > 0 && d > max {
			return max
		}
		return d
	}
}

// Mux routes reconcile tasks to h.
func Mux(h Handler) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Handle(TaskType, h)
	return mux
}

// PendingLister lists attempts stuck in pending_reconcile.
type PendingLister interface {
	ListPending(ctx context.Context, olderThan time.Time, limit int) ([]payment.Attempt, error)
}

// Requeuer schedules a check regardless of earlier finished tasks for the transaction.
type Requeuer interface {
	RequeueReconcile(ctx context.Context, gatewayID, transactionID string) error
}

// Sweeper re-enqueues pending attempts whose task was lost or gave up.
type Sweeper struct {
	Attempts  PendingLister
	Enqueuer  Requeuer
	OlderThan time.Duration
	Batch     int
	Interval  time.Duration
	Now       func() time.Time
	Log       zerolog.Logger
}

// Sweep enqueues one batch and reports how many attempts were scheduled.
func (s Sweeper) Sweep(ctx context.Context) (int, error) {
	now := time.Now()
	if s.Now != nil {
		now = s.Now()
	}
	batch := s.Batch
	if batch <= 0 {
		batch = 100
	}
	pending, err := s.Attempts.ListPending(ctx, now.Add(-s.OlderThan), batch)
	if err != nil {
		return 0, fmt.Errorf("list pending attempts: %w", err)
	}
	scheduled := 0
	for _, a := range pending {
		if err := s.Enqueuer.RequeueReconcile(ctx, a.Gateway, a.TransactionID); err != nil {
			s.Log.Warn().Err(err).Str("attempt_id", a.ID).Msg("sweep enqueue failed")
			continue
		}
		scheduled++
	}
	return scheduled, nil
}

// Run sweeps every Interval until ctx is cancelled.
func (s Sweeper) Run(ctx context.Context) error {
	interval := s.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := s.Sweep(ctx)
			if err != nil {
				s.Log.Error().Err(err).Msg("reconcile sweep failed")
				continue
			}
			if n > 0 {
				s.Log.Info().Int("scheduled", n).Msg("reconcile sweep")
			}
		}
	}
}
