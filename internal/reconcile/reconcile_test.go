package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-checkout/internal/checkout"
	"github.com/noah-isme/toko-checkout/internal/payment"
)

type stubClient struct {
	tasks []*asynq.Task
	opts  [][]asynq.Option
	err   error
}

func (s *stubClient) EnqueueContext(_ context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.tasks = append(s.tasks, task)
	s.opts = append(s.opts, opts)
	return &asynq.TaskInfo{ID: "id"}, nil
}

func TestEnqueueReconcile(t *testing.T) {
	client := &stubClient{}
	e := Enqueuer{Client: client, Queue: "payments", MaxRetry: 12, Delay: time.Minute}

	require.NoError(t, e.EnqueueReconcile(context.Background(), "paystack", "chk_123"))
	require.Len(t, client.tasks, 1)
	require.Equal(t, TaskType, client.tasks[0].Type())

	var p Payload
	require.NoError(t, json.Unmarshal(client.tasks[0].Payload(), &p))
	require.Equal(t, Payload{Gateway: "paystack", TransactionID: "chk_123"}, p)

	var taskID string
	for _, opt := range client.opts[0] {
		if opt.Type() == asynq.TaskIDOpt {
			taskID = opt.Value().(string)
		}
	}
	require.Equal(t, "reconcile:paystack:chk_123", taskID)
}

func TestEnqueueReconcileTreatsConflictAsQueued(t *testing.T) {
	e := Enqueuer{Client: &stubClient{err: asynq.ErrTaskIDConflict}}
	require.NoError(t, e.EnqueueReconcile(context.Background(), "stripe", "pi_1"))

	e = Enqueuer{Client: &stubClient{err: errors.New("redis down")}}
	require.Error(t, e.EnqueueReconcile(context.Background(), "stripe", "pi_1"))

	require.Error(t, Enqueuer{Client: &stubClient{}}.EnqueueReconcile(context.Background(), "", "pi_1"))
}

type stubSettler struct {
	err   error
	calls []string
}

func (s *stubSettler) Reconcile(_ context.Context, gatewayID, txn string) error {
	s.calls = append(s.calls, gatewayID+":"+txn)
	return s.err
}

func TestHandlerProcessTask(t *testing.T) {
	task, err := NewTask("paystack", "chk_123")
	require.NoError(t, err)

	settler := &stubSettler{}
	h := Handler{Settler: settler}
	require.NoError(t, h.ProcessTask(context.Background(), task))
	require.Equal(t, []string{"paystack:chk_123"}, settler.calls)

	settler.err = checkout.ErrSettlementPending
	err = h.ProcessTask(context.Background(), task)
	require.ErrorIs(t, err, checkout.ErrSettlementPending)
	require.False(t, errors.Is(err, asynq.SkipRetry))

	settler.err = payment.ErrUnknownGateway
	require.ErrorIs(t, h.ProcessTask(context.Background(), task), asynq.SkipRetry)

	bad := asynq.NewTask(TaskType, []byte("{"))
	require.ErrorIs(t, h.ProcessTask(context.Background(), bad), asynq.SkipRetry)
}

func TestRetryDelayIsCapped(t *testing.T) {
	delay := RetryDelay(time.Second, time.Minute)
	require.LessOrEqual(t, delay(0, nil, nil), 1200*time.Millisecond)
	require.Equal(t, time.Minute, delay(40, nil, nil))
}

type recordingEnqueuer struct{ jobs []string }

func (r *recordingEnqueuer) RequeueReconcile(_ context.Context, gatewayID, txn string) error {
	r.jobs = append(r.jobs, gatewayID+":"+txn)
	return nil
}

func TestSweeperEnqueuesStalePending(t *testing.T) {
	ctx := context.Background()
	attempts := payment.NewMemoryAttempts()
	stale, err := attempts.Create(ctx, payment.Attempt{CartID: "c1", Gateway: "paystack", TransactionID: "t1"})
	require.NoError(t, err)
	require.NoError(t, attempts.SetStatus(ctx, stale.ID, payment.AttemptPendingReconcile, "timeout"))
	_, err = attempts.Create(ctx, payment.Attempt{CartID: "c2", Gateway: "paystack", TransactionID: "t2"})
	require.NoError(t, err)

	enq := &recordingEnqueuer{}
	s := Sweeper{
		Attempts:  attempts,
		Enqueuer:  enq,
		OlderThan: time.Minute,
		Now:       func() time.Time { return time.Now().Add(time.Hour) },
	}
	n, err := s.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, []string{"paystack:t1"}, enq.jobs)

	s.Now = time.Now
	n, err = s.Sweep(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
}

func newTaskBackend(t *testing.T) (*asynq.Client, *asynq.Inspector) {
	t.Helper()
	mr := miniredis.RunT(t)
	opt := asynq.RedisClientOpt{Addr: mr.Addr()}
	client := asynq.NewClient(opt)
	inspector := asynq.NewInspector(opt)
	t.Cleanup(func() {
		_ = client.Close()
		_ = inspector.Close()
	})
	return client, inspector
}

func stalePending(t *testing.T, txn string) *payment.MemoryAttempts {
	t.Helper()
	ctx := context.Background()
	attempts := payment.NewMemoryAttempts()
	a, err := attempts.Create(ctx, payment.Attempt{CartID: "c1", Gateway: "paystack", TransactionID: txn})
	require.NoError(t, err)
	require.NoError(t, attempts.SetStatus(ctx, a.ID, payment.AttemptPendingReconcile, "timeout"))
	return attempts
}

func TestSweeperRevivesArchivedTask(t *testing.T) {
	ctx := context.Background()
	client, inspector := newTaskBackend(t)
	e := Enqueuer{Client: client, Inspector: inspector, Queue: "payments"}
	id := TaskID("paystack", "chk_1")

	require.NoError(t, e.EnqueueReconcile(ctx, "paystack", "chk_1"))
	require.NoError(t, inspector.ArchiveTask("payments", id))

	// a plain enqueue still sees the archived id and does nothing
	require.NoError(t, e.EnqueueReconcile(ctx, "paystack", "chk_1"))
	info, err := inspector.GetTaskInfo("payments", id)
	require.NoError(t, err)
	require.Equal(t, asynq.TaskStateArchived, info.State)

	s := Sweeper{
		Attempts:  stalePending(t, "chk_1"),
		Enqueuer:  e,
		OlderThan: time.Minute,
		Now:       func() time.Time { return time.Now().Add(time.Hour) },
	}
	n, err := s.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	info, err = inspector.GetTaskInfo("payments", id)
	require.NoError(t, err)
	require.Equal(t, asynq.TaskStatePending, info.State)
	archived, err := inspector.ListArchivedTasks("payments")
	require.NoError(t, err)
	require.Empty(t, archived)
}

func TestSweeperLeavesQueuedTaskAlone(t *testing.T) {
	ctx := context.Background()
	client, inspector := newTaskBackend(t)
	e := Enqueuer{Client: client, Inspector: inspector, Queue: "payments"}
	require.NoError(t, e.EnqueueReconcile(ctx, "paystack", "chk_2"))

	s := Sweeper{
		Attempts:  stalePending(t, "chk_2"),
		Enqueuer:  e,
		OlderThan: time.Minute,
		Now:       func() time.Time { return time.Now().Add(time.Hour) },
	}
	n, err := s.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	pending, err := inspector.ListPendingTasks("payments")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, TaskID("paystack", "chk_2"), pending[0].ID)
}
