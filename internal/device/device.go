package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/anshul1007/vermillion/internal/blob"
	"github.com/anshul1007/vermillion/internal/config"
	"github.com/anshul1007/vermillion/internal/engine"
	"github.com/anshul1007/vermillion/internal/payload"
	"github.com/anshul1007/vermillion/internal/photo"
	"github.com/anshul1007/vermillion/internal/queue"
	"github.com/anshul1007/vermillion/internal/store"
)

// KeyTimestamp is the capture time carried by CreateRecord payloads.
const KeyTimestamp = "timestamp"

// ErrInvalidPerson is returned by RegisterPersonOffline for an incomplete draft.
var ErrInvalidPerson = errors.New("invalid person")

// Device is the surface the UI layer talks to. It owns the local store
// and runs the sync engine against a remote.
type Device struct {
	store  *store.Store
	queue  *queue.Queue
	photos *photo.Stager
	engine *engine.Engine

	ids    queue.IDGenerator
	now    func() time.Time
	logger *slog.Logger
}

type options struct {
	ids         queue.IDGenerator
	now         func() time.Time
	logger      *slog.Logger
	maxAttempts int
	compress    *photo.CompressOptions
	engineOpts  []engine.Option
}

// Option configures a Device.
type Option func(*options)

// WithIDGenerator replaces the UUIDv7 client id generator.
func WithIDGenerator(g queue.IDGenerator) Option {
	return func(o *options) {
		o.ids = g
	}
}

// WithClock overrides the wall clock for stored timestamps and capture times.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithLogger sets the logger shared by every component.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithMaxAttempts sets the queue's attempt ceiling.
func WithMaxAttempts(n int) Option {
	return func(o *options) {
		o.maxAttempts = n
	}
}

// WithCompression sets the photo compression policy.
func WithCompression(c photo.CompressOptions) Option {
	return func(o *options) {
		o.compress = &c
	}
}

// WithEngineOptions passes options through to the sync engine.
func WithEngineOptions(opts ...engine.Option) Option {
	return func(o *options) {
		o.engineOpts = append(o.engineOpts, opts...)
	}
}

// Open opens the device store at dbPath, stages photos under photoDir
// and syncs against remote.
func Open(dbPath, photoDir string, remote engine.Remote, opts ...Option) (*Device, error) {
	o := options{
		ids:    queue.UUIDv7Generator{},
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("open device: %w", err)
	}
	s, err := store.Open(dbPath, store.WithClock(o.now))
	if err != nil {
		return nil, fmt.Errorf("open device: %w", err)
	}
	blobs, err := blob.NewStore(photoDir)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("open device: %w", err)
	}

	qOpts := []queue.Option{queue.WithLogger(o.logger)}
	if o.maxAttempts > 0 {
		qOpts = append(qOpts, queue.WithMaxAttempts(o.maxAttempts))
	}
	pOpts := []photo.Option{photo.WithLogger(o.logger)}
	if o.compress != nil {
		pOpts = append(pOpts, photo.WithCompression(*o.compress))
	}

	q := queue.New(s, qOpts...)
	photos := photo.NewStager(s, blobs, pOpts...)
	eOpts := append([]engine.Option{engine.WithLogger(o.logger), engine.WithClock(o.now)}, o.engineOpts...)

	return &Device{
		store:  s,
		queue:  q,
		photos: photos,
		engine: engine.New(q, s, photos, remote, eOpts...),
		ids:    o.ids,
		now:    o.now,
		logger: o.logger,
	}, nil
}

// FromConfig opens a device laid out under cfg.DataDir and tuned by cfg.
// opts are applied after the configured ones.
func FromConfig(cfg config.Config, remote engine.Remote, opts ...Option) (*Device, error) {
	sc := cfg.Sync
	base := []Option{
		WithMaxAttempts(sc.MaxAttempts),
		WithCompression(photo.CompressOptions{
			MaxBytes:     cfg.Photo.MaxBytes,
			MaxDimension: cfg.Photo.MaxDimension,
			StartQuality: cfg.Photo.StartQuality,
			MinQuality:   cfg.Photo.MinQuality,
			QualityStep:  cfg.Photo.QualityStep,
		}),
		WithEngineOptions(
			engine.WithBatchSize(sc.BatchSize),
			engine.WithMaxBatchOpBytes(sc.MaxBatchOpBytes),
			engine.WithBackoff(engine.Backoff{
				Base:     sc.BaseDelay(),
				Max:      sc.MaxDelay(),
				Attempts: engine.DefaultBackoff.Attempts,
			}),
			engine.WithReconcile(sc.ReconcileWindow(), sc.ReconcileLimit),
		),
	}
	return Open(cfg.DeviceDB(), cfg.DevicePhotoDir(), remote, append(base, opts...)...)
}

// Close closes the device store.
func (d *Device) Close() error {
	return d.store.Close()
}

// Engine returns the sync engine.
func (d *Device) Engine() *engine.Engine {
	return d.engine
}

// EnqueueAction queues a mutation. Create-type actions get a clientId if
// they have none, and CreateRecord gets its capture time now so a delayed
// sync does not move the event.
func (d *Device) EnqueueAction(ctx context.Context, t queue.ActionType, p payload.Object) (queue.Action, error) {
	if t.IsCreate() {
		p, _ = queue.EnsureClientID(p, d.ids)
	}
	if t == queue.CreateRecord {
		if _, ok := p[KeyTimestamp]; !ok {
			p = p.Clone()
			p[KeyTimestamp] = payload.String(d.now().UTC().Format(time.RFC3339))
		}
	}

	id, err := d.queue.Enqueue(ctx, t, p)
	if err != nil {
		return queue.Action{}, err
	}
	return d.queue.Get(ctx, id)
}

// QueuedActions lists queued actions with the given status, or all of
// them when status is empty.
func (d *Device) QueuedActions(ctx context.Context, status queue.Status) ([]queue.Action, error) {
	return d.queue.List(ctx, status)
}

// Stats summarizes the queue.
func (d *Device) Stats(ctx context.Context) (queue.Stats, error) {
	return d.queue.Stats(ctx)
}

// RetryFailed re-arms every failed action for another round of attempts.
func (d *Device) RetryFailed(ctx context.Context) (int, error) {
	return d.queue.RetryFailed(ctx)
}

// SyncAll runs one sync pass. See engine.Engine.SyncAll.
func (d *Device) SyncAll(ctx context.Context) (*engine.Result, error) {
	return d.engine.SyncAll(ctx)
}

// Watch syncs on connectivity changes until ctx is done.
func (d *Device) Watch(ctx context.Context, opts engine.WatchOptions) error {
	return d.engine.Watch(ctx, opts)
}

// SavePhoto stages a capture and returns its local handle.
func (d *Device) SavePhoto(ctx context.Context, data []byte, filename string, meta payload.Object) (photo.SaveResult, error) {
	return d.photos.Save(ctx, data, filename, meta)
}

// ResolveImage returns a displayable URL for src, preferring the local copy.
func (d *Device) ResolveImage(ctx context.Context, src string) (string, error) {
	return d.photos.Resolve(ctx, src)
}

// PersonDraft is a person captured while offline.
type PersonDraft struct {
	PersonType string
	Name       string
	Phone      string
	// PhotoLocalID optionally names a staged photo of the person.
	PhotoLocalID string
}

// RegisterPersonOffline queues a RegisterPerson action and records the
// person locally. The returned client id can be used as personRef in
// later CreateRecord payloads; it is replaced by the server id once the
// registration syncs.
func (d *Device) RegisterPersonOffline(ctx context.Context, draft PersonDraft) (string, queue.Action, error) {
	name := strings.TrimSpace(draft.Name)
	if name == "" {
		return "", queue.Action{}, fmt.Errorf("register person: %w: name is required", ErrInvalidPerson)
	}
	if draft.PersonType != "Labour" && draft.PersonType != "Visitor" {
		return "", queue.Action{}, fmt.Errorf("register person: %w: personType must be Labour or Visitor", ErrInvalidPerson)
	}

	p := payload.Object{
		"personType": payload.String(draft.PersonType),
		"name":       payload.String(name),
	}
	if draft.Phone != "" {
		p["phone"] = payload.String(draft.Phone)
	}
	if draft.PhotoLocalID != "" {
		p[queue.KeyPhotoLocalID] = payload.String(draft.PhotoLocalID)
	}
	p, clientID := queue.EnsureClientID(p, d.ids)

	// The action goes first: a person row without its action would leave
	// every dependent deferred forever.
	a, err := d.EnqueueAction(ctx, queue.RegisterPerson, p)
	if err != nil {
		return "", queue.Action{}, fmt.Errorf("register person: %w", err)
	}
	if _, err := d.store.AddPerson(ctx, store.LocalPerson{
		ClientID:   clientID,
		PersonType: draft.PersonType,
		Name:       name,
		Phone:      draft.Phone,
	}); err != nil {
		return "", queue.Action{}, fmt.Errorf("register person: %w", err)
	}
	d.logger.Info("person registered offline", "client_id", clientID, "action_id", a.ID)
	return clientID, a, nil
}

// Persons lists locally registered persons with their sync state.
func (d *Device) Persons(ctx context.Context) ([]store.LocalPerson, error) {
	return d.store.ListPersons(ctx)
}

// Records lists cached server records, newest first.
func (d *Device) Records(ctx context.Context, limit int) ([]store.CachedRecord, error) {
	return d.store.ListCachedRecords(ctx, limit)
}
