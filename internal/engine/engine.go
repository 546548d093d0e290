package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/anshul1007/vermillion/internal/api"
	"github.com/anshul1007/vermillion/internal/payload"
	"github.com/anshul1007/vermillion/internal/photo"
	"github.com/anshul1007/vermillion/internal/queue"
	"github.com/anshul1007/vermillion/internal/store"
)

// Defaults for the tunables exposed through options.
const (
	DefaultBatchSize       = 20
	DefaultMaxBatchOpBytes = 64 << 10
	DefaultReconcileLimit  = 500

	// settingBatchSupported persists the batch capability flag.
	settingBatchSupported = "batch_endpoint_supported"

	// maxDrainPasses bounds re-drains triggered by newly resolved person
	// ids within one run.
	maxDrainPasses = 3
)

// Remote is the server API the engine drives. *api.Client implements it.
type Remote interface {
	Ping(ctx context.Context) error
	RefreshToken(ctx context.Context) error
	UploadPhoto(ctx context.Context, up api.PhotoUpload) (string, error)
	RegisterPerson(ctx context.Context, body payload.Object) (api.Person, error)
	CreateRecord(ctx context.Context, body payload.Object) (api.Record, error)
	SubmitBatch(ctx context.Context, req api.BatchRequest) (api.BatchResponse, error)
	ListRecords(ctx context.Context, since time.Time, limit int) ([]api.Record, error)
}

// Engine drains the local queue against the server.
//
// Lifecycle of the two pieces of mutable state:
//   - running is set by SyncAll on entry and cleared on return. A call
//     that finds it set fails fast with ErrSyncInProgress.
//   - batchSupported starts true, is reloaded from the settings table at
//     the start of every run, and is cleared (and persisted) the first
//     time the batch endpoint answers with a plain 404. It is only
//     written by the goroutine holding running.
type Engine struct {
	queue  *queue.Queue
	store  *store.Store
	photos *photo.Stager
	remote Remote
	logger *slog.Logger

	backoff         Backoff
	batchSize       int
	maxBatchOpBytes int
	reconcileWindow time.Duration
	reconcileLimit  int

	sleep  func(context.Context, time.Duration) error
	jitter func(time.Duration) time.Duration
	now    func() time.Time

	running        atomic.Bool
	batchSupported atomic.Bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithBackoff overrides DefaultBackoff.
func WithBackoff(b Backoff) Option {
	return func(e *Engine) {
		e.backoff = b
	}
}

// WithBatchSize sets how many actions are read from the queue at a time.
func WithBatchSize(n int) Option {
	return func(e *Engine) {
		e.batchSize = n
	}
}

// WithMaxBatchOpBytes sets the size ceiling of one batched operation.
func WithMaxBatchOpBytes(n int) Option {
	return func(e *Engine) {
		e.maxBatchOpBytes = n
	}
}

// WithReconcile enables the reconciliation pull of records newer than
// window, at most limit of them. A zero window disables the pull.
func WithReconcile(window time.Duration, limit int) Option {
	return func(e *Engine) {
		e.reconcileWindow = window
		e.reconcileLimit = limit
	}
}

// WithSleep replaces the backoff sleep. Tests use it to record delays.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(e *Engine) {
		e.sleep = fn
	}
}

// WithJitter replaces the jitter source. fn returns a value in [0, max).
func WithJitter(fn func(max time.Duration) time.Duration) Option {
	return func(e *Engine) {
		e.jitter = fn
	}
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// New creates an Engine.
func New(q *queue.Queue, s *store.Store, photos *photo.Stager, remote Remote, opts ...Option) *Engine {
	e := &Engine{
		queue:           q,
		store:           s,
		photos:          photos,
		remote:          remote,
		logger:          slog.Default(),
		backoff:         DefaultBackoff,
		batchSize:       DefaultBatchSize,
		maxBatchOpBytes: DefaultMaxBatchOpBytes,
		reconcileLimit:  DefaultReconcileLimit,
		sleep:           sleepContext,
		jitter:          uniformJitter,
		now:             time.Now,
	}
	e.batchSupported.Store(true)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Running reports whether a sync run is active.
func (e *Engine) Running() bool {
	return e.running.Load()
}

// BatchSupported reports the cached batch capability flag.
func (e *Engine) BatchSupported() bool {
	return e.batchSupported.Load()
}

// ResetBatchSupport forgets a previously detected missing batch
// endpoint, e.g. after a server upgrade.
func (e *Engine) ResetBatchSupport(ctx context.Context) error {
	if err := e.store.SetSetting(ctx, settingBatchSupported, "true"); err != nil {
		return fmt.Errorf("reset batch support: %w", err)
	}
	e.batchSupported.Store(true)
	return nil
}

// Result summarizes one SyncAll run.
type Result struct {
	Recovered      int           `json:"recovered"`
	PhotosUploaded int           `json:"photosUploaded"`
	PhotosFailed   int           `json:"photosFailed"`
	Synced         int           `json:"synced"`
	Batched        int           `json:"batched"`
	Retrying       int           `json:"retrying"`
	Failed         int           `json:"failed"`
	Rejected       int           `json:"rejected"`
	Deferred       int           `json:"deferred"`
	Remapped       int           `json:"remapped"`
	Reconciled     int           `json:"reconciled"`
	AuthFailed     bool          `json:"authFailed"`
	ReconcileError string        `json:"reconcileError,omitempty"`
	Duration       time.Duration `json:"duration"`
}

// syncRun holds the state of one SyncAll invocation.
type syncRun struct {
	e   *Engine
	res *Result

	// pendingPersons holds client ids of locally registered persons that
	// have no server id yet.
	pendingPersons map[string]bool
	// liveRegistrations holds client ids of RegisterPerson actions that
	// are still pending or processing.
	liveRegistrations map[string]bool
	// resolved counts server ids learned during this run.
	resolved int
	// authFailed is set once a token refresh fails; remaining actions
	// stay queued for a later run.
	authFailed bool
	// batch collects actions whose dedicated endpoint is unavailable.
	batch []queue.Action
}

// SyncAll runs one full reconciliation: photo phase, action phase (with
// the batch fallback), then the reconciliation pull. Per-item failures
// are recorded on the item and never abort the run; the returned error
// is reserved for local storage failures and cancellation.
func (e *Engine) SyncAll(ctx context.Context) (*Result, error) {
	if !e.running.CompareAndSwap(false, true) {
		return nil, ErrSyncInProgress
	}
	defer e.running.Store(false)

	start := e.now()
	r := &syncRun{e: e, res: &Result{}}
	e.logger.Info("sync started")

	err := r.run(ctx)
	r.res.Duration = e.now().Sub(start)
	if err != nil {
		e.logger.Error("sync aborted", "error", err, "duration", r.res.Duration)
		return r.res, err
	}

	e.logger.Info("sync finished",
		"photos_uploaded", r.res.PhotosUploaded,
		"synced", r.res.Synced,
		"retrying", r.res.Retrying,
		"failed", r.res.Failed,
		"rejected", r.res.Rejected,
		"deferred", r.res.Deferred,
		"reconciled", r.res.Reconciled,
		"duration", r.res.Duration,
	)
	return r.res, nil
}

func (r *syncRun) run(ctx context.Context) error {
	n, err := r.e.queue.Recover(ctx)
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	r.res.Recovered = n

	if err := r.e.loadBatchFlag(ctx); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	if err := r.uploadPhotos(ctx); err != nil {
		return fmt.Errorf("sync photos: %w", err)
	}
	if err := r.drainActions(ctx); err != nil {
		return fmt.Errorf("sync actions: %w", err)
	}
	if r.e.reconcileWindow > 0 && !r.authFailed {
		if err := r.reconcile(ctx); err != nil {
			return fmt.Errorf("sync reconcile: %w", err)
		}
	}
	return nil
}

func (e *Engine) loadBatchFlag(ctx context.Context) error {
	v, found, err := e.store.GetSetting(ctx, settingBatchSupported)
	if err != nil {
		return fmt.Errorf("load batch flag: %w", err)
	}
	e.batchSupported.Store(!found || v != "false")
	return nil
}

func (r *syncRun) disableBatch(ctx context.Context) error {
	if !r.e.batchSupported.Swap(false) {
		return nil
	}
	r.e.logger.Warn("batch endpoint unavailable, disabling batch fallback")
	if err := r.e.store.SetSetting(ctx, settingBatchSupported, "false"); err != nil {
		return fmt.Errorf("persist batch flag: %w", err)
	}
	return nil
}
