package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/anshul1007/vermillion/internal/payload"
	"github.com/anshul1007/vermillion/internal/store"
)

// Queue is the ordered, at-least-once list of pending mutations.
//
// Thread-safety: every method is a single store call or a short
// read-modify-write; the sync engine is the only writer of status and
// attempts, so no extra locking is done here.
type Queue struct {
	store       *store.Store
	maxAttempts int
	logger      *slog.Logger
}

// Option configures a Queue.
type Option func(*Queue)

// WithMaxAttempts overrides the attempt ceiling (default MaxAttempts).
func WithMaxAttempts(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.maxAttempts = n
		}
	}
}

// WithLogger sets the logger used for queue transitions.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) {
		q.logger = l
	}
}

// New creates a Queue over the device store.
func New(s *store.Store, opts ...Option) *Queue {
	q := &Queue{
		store:       s,
		maxAttempts: MaxAttempts,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// MaxAttempts returns the configured attempt ceiling.
func (q *Queue) MaxAttempts() int {
	return q.maxAttempts
}

// Enqueue validates and persists an action. Create-type actions must
// already carry payload.clientId (see EnsureClientID); UploadPhoto must
// name the photo via payload.photoLocalId.
func (q *Queue) Enqueue(ctx context.Context, t ActionType, p payload.Object) (int64, error) {
	if !t.Valid() {
		return 0, fmt.Errorf("enqueue %q: %w", t, ErrUnknownActionType)
	}

	clientID, _ := p.GetString(KeyClientID)
	if t.IsCreate() && clientID == "" {
		return 0, fmt.Errorf("enqueue %s: %w", t, ErrMissingClientID)
	}
	if t == UploadPhoto {
		if ref, ok := p.GetString(KeyPhotoLocalID); !ok || ref == "" {
			return 0, fmt.Errorf("enqueue %s: payload.%s is required", t, KeyPhotoLocalID)
		}
	}

	id, err := q.store.AddAction(ctx, store.ActionRow{
		Type:     string(t),
		Payload:  p,
		ClientID: clientID,
		Status:   string(StatusPending),
	})
	if err != nil {
		return 0, fmt.Errorf("enqueue %s: %w", t, err)
	}

	q.logger.Debug("action enqueued", "id", id, "type", t, "client_id", clientID)
	return id, nil
}

// Get returns a single action.
func (q *Queue) Get(ctx context.Context, id int64) (Action, error) {
	row, err := q.store.GetAction(ctx, id)
	if err != nil {
		return Action{}, err
	}
	return fromRow(row), nil
}

// DequeueBatch returns up to limit pending actions in FIFO order.
// Actions are not claimed; the caller marks them processing.
func (q *Queue) DequeueBatch(ctx context.Context, limit int) ([]Action, error) {
	return q.DequeueAfter(ctx, 0, limit)
}

// DequeueAfter returns up to limit pending actions with id > afterID in
// FIFO order. A drain pass walks the queue with this cursor so actions
// deferred earlier in the pass are not picked up again.
func (q *Queue) DequeueAfter(ctx context.Context, afterID int64, limit int) ([]Action, error) {
	rows, err := q.store.ListActions(ctx, store.ActionFilter{
		Status:  string(StatusPending),
		AfterID: afterID,
		Limit:   limit,
	})
	if err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}
	return fromRows(rows), nil
}

// List returns every action with the given status, or all actions when
// status is empty.
func (q *Queue) List(ctx context.Context, status Status) ([]Action, error) {
	rows, err := q.store.ListActions(ctx, store.ActionFilter{Status: string(status)})
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	return fromRows(rows), nil
}

// SetStatus records a status transition with the current attempt count.
// attempts may not be lower than the stored value.
func (q *Queue) SetStatus(ctx context.Context, id int64, status Status, attempts int) error {
	if !status.Valid() {
		return fmt.Errorf("set status %d: invalid status %q", id, status)
	}
	cur, err := q.store.GetAction(ctx, id)
	if err != nil {
		return fmt.Errorf("set status %d: %w", id, err)
	}
	if attempts < cur.Attempts {
		return fmt.Errorf("set status %d: %d < %d: %w", id, attempts, cur.Attempts, ErrAttemptsDecreased)
	}

	s := string(status)
	if err := q.store.UpdateAction(ctx, id, store.ActionPatch{Status: &s, Attempts: &attempts}); err != nil {
		return fmt.Errorf("set status %d: %w", id, err)
	}
	return nil
}

// Fail records a failed attempt. attempts is the new total; once it
// reaches the ceiling the action is parked as failed, otherwise it
// returns to pending. Returns the resulting status.
func (q *Queue) Fail(ctx context.Context, id int64, attempts int, cause error) (Status, error) {
	status := StatusPending
	if attempts >= q.maxAttempts {
		status = StatusFailed
	}
	if err := q.record(ctx, id, status, attempts, cause); err != nil {
		return "", err
	}

	q.logger.Warn("action attempt failed",
		"id", id,
		"attempts", attempts,
		"status", status,
		"error", cause,
	)
	return status, nil
}

// Reject parks an action as failed immediately. Used for semantic
// rejections that retrying would not change.
func (q *Queue) Reject(ctx context.Context, id int64, attempts int, cause error) error {
	if err := q.record(ctx, id, StatusFailed, attempts, cause); err != nil {
		return err
	}
	q.logger.Warn("action rejected", "id", id, "attempts", attempts, "error", cause)
	return nil
}

func (q *Queue) record(ctx context.Context, id int64, status Status, attempts int, cause error) error {
	cur, err := q.store.GetAction(ctx, id)
	if err != nil {
		return fmt.Errorf("record failure %d: %w", id, err)
	}
	if attempts < cur.Attempts {
		return fmt.Errorf("record failure %d: %w", id, ErrAttemptsDecreased)
	}

	s := string(status)
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if err := q.store.UpdateAction(ctx, id, store.ActionPatch{
		Status:    &s,
		Attempts:  &attempts,
		LastError: &msg,
	}); err != nil {
		return fmt.Errorf("record failure %d: %w", id, err)
	}
	return nil
}

// Complete deletes an action the server has acknowledged.
// Completing an action that is already gone is not an error.
func (q *Queue) Complete(ctx context.Context, id int64) error {
	err := q.store.DeleteAction(ctx, id)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("complete %d: %w", id, err)
	}
	return nil
}

// Recover returns actions left in processing by an interrupted run to
// pending. Their attempt counts are kept.
func (q *Queue) Recover(ctx context.Context) (int, error) {
	stuck, err := q.List(ctx, StatusProcessing)
	if err != nil {
		return 0, fmt.Errorf("recover: %w", err)
	}
	pending := string(StatusPending)
	for _, a := range stuck {
		if err := q.store.UpdateAction(ctx, a.ID, store.ActionPatch{Status: &pending}); err != nil {
			return 0, fmt.Errorf("recover %d: %w", a.ID, err)
		}
	}
	if len(stuck) > 0 {
		q.logger.Info("recovered interrupted actions", "count", len(stuck))
	}
	return len(stuck), nil
}

// RetryFailed is the manual intervention path: every failed action goes
// back to pending with its attempt counter cleared.
func (q *Queue) RetryFailed(ctx context.Context) (int, error) {
	n, err := q.store.ResetActions(ctx, string(StatusFailed))
	if err != nil {
		return 0, fmt.Errorf("retry failed: %w", err)
	}
	q.logger.Info("failed actions reset", "count", n)
	return n, nil
}

// Stats counts actions per status.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	counts, err := q.store.CountActions(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("stats: %w", err)
	}
	st := Stats{
		Pending:    counts[string(StatusPending)],
		Processing: counts[string(StatusProcessing)],
		Failed:     counts[string(StatusFailed)],
	}
	for _, n := range counts {
		st.Total += n
	}
	return st, nil
}

// RewritePayloads applies fn to every queued payload in one transaction.
// fn must not modify its argument; it returns the new payload and
// whether it changed.
func (q *Queue) RewritePayloads(ctx context.Context, fn func(Action) (payload.Object, bool)) (int, error) {
	return q.store.RewritePayloads(ctx, func(row store.ActionRow) (payload.Object, bool) {
		return fn(fromRow(row))
	})
}

func fromRow(row store.ActionRow) Action {
	return Action{
		ID:        row.ID,
		Type:      ActionType(row.Type),
		Payload:   row.Payload,
		ClientID:  row.ClientID,
		Status:    Status(row.Status),
		Attempts:  row.Attempts,
		LastError: row.LastError,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
}

func fromRows(rows []store.ActionRow) []Action {
	out := make([]Action, len(rows))
	for i, r := range rows {
		out[i] = fromRow(r)
	}
	return out
}
