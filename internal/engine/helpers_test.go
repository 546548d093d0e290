package engine

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/anshul1007/vermillion/internal/api"
	"github.com/anshul1007/vermillion/internal/blob"
	"github.com/anshul1007/vermillion/internal/payload"
	"github.com/anshul1007/vermillion/internal/photo"
	"github.com/anshul1007/vermillion/internal/queue"
	"github.com/anshul1007/vermillion/internal/store"
	"github.com/anshul1007/vermillion/internal/testutil"
)

var epoch = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

// testEnv is a device-side stack on a temp dir.
type testEnv struct {
	store  *store.Store
	queue  *queue.Queue
	photos *photo.Stager
	sleeps *testutil.SleepRecorder
	clock  *testutil.StepClock
	dir    string
}

func createTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	clock := testutil.NewStepClock(epoch, time.Second)

	s, err := store.Open(filepath.Join(dir, "device.db"), store.WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	blobs, err := blob.NewStore(filepath.Join(dir, "photos"))
	require.NoError(t, err)

	return &testEnv{
		store:  s,
		queue:  queue.New(s),
		photos: photo.NewStager(s, blobs),
		sleeps: &testutil.SleepRecorder{},
		clock:  clock,
		dir:    dir,
	}
}

// engine builds an Engine over env with recorded sleeps and no jitter.
func (env *testEnv) engine(remote Remote, opts ...Option) *Engine {
	base := []Option{
		WithSleep(env.sleeps.Sleep),
		WithJitter(func(time.Duration) time.Duration { return 0 }),
		WithClock(env.clock.Now),
	}
	return New(env.queue, env.store, env.photos, remote, append(base, opts...)...)
}

func (env *testEnv) enqueue(t *testing.T, typ queue.ActionType, p payload.Object) int64 {
	t.Helper()
	id, err := env.queue.Enqueue(context.Background(), typ, p)
	require.NoError(t, err)
	return id
}

func recordPayload(clientID string, personRef payload.Value) payload.Object {
	return payload.Object{
		"personType": payload.String("Labour"),
		"personRef":  personRef,
		"action":     payload.String("Entry"),
		"clientId":   payload.String(clientID),
	}
}

func personPayload(clientID, name string) payload.Object {
	return payload.Object{
		"personType": payload.String("Labour"),
		"name":       payload.String(name),
		"clientId":   payload.String(clientID),
	}
}

func httpErr(status int, code string) error {
	return &api.Error{Status: status, Code: code, Message: http.StatusText(status)}
}

var (
	errUnavailable = httpErr(http.StatusServiceUnavailable, "")
	errNotRouted   = httpErr(http.StatusNotFound, "")
	errUnauth      = httpErr(http.StatusUnauthorized, api.CodeUnauthorized)
)

// fakeRemote is a scripted in-memory server.
type fakeRemote struct {
	mu sync.Mutex

	calls   []string
	sent    map[string]payload.Object // clientId -> last body sent
	uploads []api.PhotoUpload
	batches []api.BatchRequest

	errs map[string][]error // op -> errors returned before succeeding
	// always makes an op fail forever with the given error
	always map[string]error

	nextPersonID int64
	nextRecordID int64
	refreshes    int
	records      []api.Record
	pingErr      error

	// block, if set, is received from at the start of CreateRecord.
	block   chan struct{}
	entered chan struct{}
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		sent:         make(map[string]payload.Object),
		errs:         make(map[string][]error),
		always:       make(map[string]error),
		nextPersonID: 41,
		nextRecordID: 100,
	}
}

// failNext queues errors returned by op before it succeeds.
func (f *fakeRemote) failNext(op string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[op] = append(f.errs[op], errs...)
}

func (f *fakeRemote) failAlways(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.always[op] = err
}

func (f *fakeRemote) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeRemote) body(clientID string) payload.Object {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[clientID]
}

// enter records the call and returns the scripted error, if any.
// Callers hold f.mu.
func (f *fakeRemote) enter(op, id string) error {
	f.calls = append(f.calls, fmt.Sprintf("%s:%s", op, id))
	if err, ok := f.always[op]; ok {
		return err
	}
	if q := f.errs[op]; len(q) > 0 {
		f.errs[op] = q[1:]
		return q[0]
	}
	return nil
}

func (f *fakeRemote) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pingErr
}

func (f *fakeRemote) setPing(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pingErr = err
}

func (f *fakeRemote) RefreshToken(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	return f.enter("refresh", "")
}

func (f *fakeRemote) UploadPhoto(ctx context.Context, up api.PhotoUpload) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("upload", up.Filename); err != nil {
		return "", err
	}
	f.uploads = append(f.uploads, up)
	return "/photos/" + up.Filename, nil
}

func (f *fakeRemote) RegisterPerson(ctx context.Context, body payload.Object) (api.Person, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	clientID, _ := body.GetString("clientId")
	if err := f.enter("person", clientID); err != nil {
		return api.Person{}, err
	}
	f.sent[clientID] = body
	f.nextPersonID++
	name, _ := body.GetString("name")
	return api.Person{ID: f.nextPersonID, PersonType: "Labour", Name: name, ClientID: clientID}, nil
}

func (f *fakeRemote) CreateRecord(ctx context.Context, body payload.Object) (api.Record, error) {
	clientID, _ := body.GetString("clientId")
	f.mu.Lock()
	block, entered := f.block, f.entered
	f.mu.Unlock()
	if block != nil {
		entered <- struct{}{}
		<-block
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("record", clientID); err != nil {
		return api.Record{}, err
	}
	f.sent[clientID] = body
	f.nextRecordID++
	ref, _ := body.GetInt("personRef")
	return api.Record{ID: f.nextRecordID, PersonType: "Labour", PersonRef: ref, Action: "Entry", ClientID: clientID, Timestamp: epoch}, nil
}

func (f *fakeRemote) SubmitBatch(ctx context.Context, req api.BatchRequest) (api.BatchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("batch", fmt.Sprint(len(req.Operations))); err != nil {
		return api.BatchResponse{}, err
	}
	f.batches = append(f.batches, req)

	var resp api.BatchResponse
	for _, op := range req.Operations {
		f.sent[op.ClientID] = op.Data
		f.nextRecordID++
		data := fmt.Sprintf(`{"id":%d,"personType":"Labour","action":"Entry","clientId":%q,"timestamp":"2024-03-01T08:00:00Z"}`, f.nextRecordID, op.ClientID)
		resp.Results = append(resp.Results, api.BatchResult{ClientID: op.ClientID, Success: true, Data: []byte(data)})
	}
	return resp, nil
}

func (f *fakeRemote) ListRecords(ctx context.Context, since time.Time, limit int) ([]api.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("list", ""); err != nil {
		return nil, err
	}
	return f.records, nil
}
