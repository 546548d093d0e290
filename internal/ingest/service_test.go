package ingest

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anshul1007/vermillion/internal/blob"
	"github.com/anshul1007/vermillion/internal/payload"
	"github.com/anshul1007/vermillion/internal/testutil"
)

var baseTime = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

func createTestService(t *testing.T) *Service {
	t.Helper()

	dir := t.TempDir()
	photos, err := blob.NewStore(filepath.Join(dir, "photos"))
	require.NoError(t, err)

	clock := testutil.NewStepClock(baseTime, time.Second)
	svc, err := Open(filepath.Join(dir, "server.db"), photos, WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })
	return svc
}

func createTestPerson(t *testing.T, svc *Service, personType string) int64 {
	t.Helper()
	p, created, err := svc.RegisterPerson(context.Background(), PersonInput{PersonType: personType, Name: "Ravi"})
	require.NoError(t, err)
	require.True(t, created)
	return p.ID
}

func at(minutes int) *time.Time {
	ts := baseTime.Add(time.Duration(minutes) * time.Minute)
	return &ts
}

func TestCreateRecord_DuplicateClientIDReturnsOriginal(t *testing.T) {
	svc := createTestService(t)
	ctx := context.Background()
	ref := createTestPerson(t, svc, Labour)

	first, created, err := svc.CreateRecord(ctx, RecordInput{
		PersonType: Labour, PersonRef: ref, Action: ActionEntry, ClientID: "x1", Timestamp: at(1),
	}, "guard-1")
	require.NoError(t, err)
	assert.True(t, created)

	// The replay would violate the presence rule if it were evaluated;
	// the clientId match wins.
	second, created, err := svc.CreateRecord(ctx, RecordInput{
		PersonType: Labour, PersonRef: ref, Action: ActionEntry, ClientID: "x1", Timestamp: at(2),
	}, "guard-1")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first, second)

	records, err := svc.ListRecords(ctx, time.Time{}, 0)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestCreateRecord_EntryWhileInsideRejected(t *testing.T) {
	svc := createTestService(t)
	ctx := context.Background()
	ref := createTestPerson(t, svc, Labour)

	_, _, err := svc.CreateRecord(ctx, RecordInput{PersonType: Labour, PersonRef: ref, Action: ActionEntry, ClientID: "a", Timestamp: at(1)}, "")
	require.NoError(t, err)

	_, _, err = svc.CreateRecord(ctx, RecordInput{PersonType: Labour, PersonRef: ref, Action: ActionEntry, ClientID: "b", Timestamp: at(2)}, "")
	require.Error(t, err)
	assert.True(t, IsOpenSessionError(err))

	state, latest, err := svc.Presence(ctx, Labour, ref)
	require.NoError(t, err)
	assert.Equal(t, Inside, state)
	require.NotNil(t, latest)
	assert.Equal(t, "a", latest.ClientID)
}

func TestCreateRecord_PresenceCycle(t *testing.T) {
	svc := createTestService(t)
	ctx := context.Background()
	ref := createTestPerson(t, svc, Visitor)

	state, latest, err := svc.Presence(ctx, Visitor, ref)
	require.NoError(t, err)
	assert.Equal(t, Outside, state)
	assert.Nil(t, latest)

	steps := []struct {
		action string
		want   Presence
	}{
		{ActionEntry, Inside},
		{ActionExit, Outside},
		{ActionEntry, Inside},
		{ActionExit, Outside},
	}
	for i, step := range steps {
		_, created, err := svc.CreateRecord(ctx, RecordInput{
			PersonType: Visitor, PersonRef: ref, Action: step.action, Timestamp: at(i + 1),
		}, "")
		require.NoError(t, err, "step %d", i)
		assert.True(t, created)

		state, _, err := svc.Presence(ctx, Visitor, ref)
		require.NoError(t, err)
		assert.Equal(t, step.want, state, "step %d", i)
	}
}

func TestCreateRecord_ExitWhileOutsideAccepted(t *testing.T) {
	svc := createTestService(t)
	ctx := context.Background()
	ref := createTestPerson(t, svc, Labour)

	for i, id := range []string{"e1", "e2"} {
		_, created, err := svc.CreateRecord(ctx, RecordInput{
			PersonType: Labour, PersonRef: ref, Action: ActionExit, ClientID: id, Timestamp: at(i + 1),
		}, "")
		require.NoError(t, err)
		assert.True(t, created)
	}

	state, _, err := svc.Presence(ctx, Labour, ref)
	require.NoError(t, err)
	assert.Equal(t, Outside, state)
}

func TestCreateRecord_PresenceUsesTimestampNotInsertOrder(t *testing.T) {
	svc := createTestService(t)
	ctx := context.Background()
	ref := createTestPerson(t, svc, Labour)

	// An Exit recorded later but with an earlier timestamp arrives second.
	_, _, err := svc.CreateRecord(ctx, RecordInput{PersonType: Labour, PersonRef: ref, Action: ActionEntry, Timestamp: at(10)}, "")
	require.NoError(t, err)
	_, _, err = svc.CreateRecord(ctx, RecordInput{PersonType: Labour, PersonRef: ref, Action: ActionExit, Timestamp: at(5)}, "")
	require.NoError(t, err)

	state, latest, err := svc.Presence(ctx, Labour, ref)
	require.NoError(t, err)
	assert.Equal(t, Inside, state)
	assert.Equal(t, ActionEntry, latest.Action)
}

func TestCreateRecord_DefaultTimestampIsServerClock(t *testing.T) {
	svc := createTestService(t)
	ref := createTestPerson(t, svc, Labour)

	rec, _, err := svc.CreateRecord(context.Background(), RecordInput{PersonType: Labour, PersonRef: ref, Action: ActionEntry}, "")
	require.NoError(t, err)
	assert.True(t, rec.Timestamp.After(baseTime))
	assert.True(t, rec.Timestamp.Before(baseTime.Add(time.Minute)))
}

func TestCreateRecord_Validation(t *testing.T) {
	svc := createTestService(t)
	ctx := context.Background()
	ref := createTestPerson(t, svc, Labour)
	other := int64(99)

	tests := []struct {
		name string
		in   RecordInput
	}{
		{"bad person type", RecordInput{PersonType: "Staff", PersonRef: ref, Action: ActionEntry}},
		{"bad action", RecordInput{PersonType: Labour, PersonRef: ref, Action: "Enter"}},
		{"missing ref", RecordInput{PersonType: Labour, Action: ActionEntry}},
		{"both ids", RecordInput{PersonType: Labour, LabourID: &ref, VisitorID: &other, Action: ActionEntry}},
		{"visitor id on labour", RecordInput{PersonType: Labour, VisitorID: &ref, Action: ActionEntry}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := svc.CreateRecord(ctx, tt.in, "")
			require.Error(t, err)
			assert.True(t, IsValidationError(err), "got %v", err)
		})
	}
}

func TestCreateRecord_LabourIDAlias(t *testing.T) {
	svc := createTestService(t)
	ref := createTestPerson(t, svc, Labour)

	rec, created, err := svc.CreateRecord(context.Background(), RecordInput{PersonType: Labour, LabourID: &ref, Action: ActionEntry}, "")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, ref, rec.PersonRef)
}

func TestCreateRecord_PersonNotFound(t *testing.T) {
	svc := createTestService(t)
	ctx := context.Background()
	labour := createTestPerson(t, svc, Labour)

	_, _, err := svc.CreateRecord(ctx, RecordInput{PersonType: Labour, PersonRef: 404, Action: ActionEntry}, "")
	assert.True(t, IsPersonNotFound(err))

	// right id, wrong type
	_, _, err = svc.CreateRecord(ctx, RecordInput{PersonType: Visitor, PersonRef: labour, Action: ActionEntry}, "")
	assert.True(t, IsPersonNotFound(err))
}

func TestRegisterPerson_Dedupe(t *testing.T) {
	svc := createTestService(t)
	ctx := context.Background()

	in := PersonInput{PersonType: Visitor, Name: "  Asha ", Phone: "555", ClientID: "p-1"}
	first, created, err := svc.RegisterPerson(ctx, in)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "Asha", first.Name)

	second, created, err := svc.RegisterPerson(ctx, in)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	got, err := svc.GetPerson(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "p-1", got.ClientID)

	_, err = svc.GetPerson(ctx, 12345)
	assert.True(t, IsPersonNotFound(err))
}

func TestRegisterPerson_Validation(t *testing.T) {
	svc := createTestService(t)

	_, _, err := svc.RegisterPerson(context.Background(), PersonInput{PersonType: Labour, Name: "   "})
	assert.True(t, IsValidationError(err))

	_, _, err = svc.RegisterPerson(context.Background(), PersonInput{PersonType: "x", Name: "A"})
	assert.True(t, IsValidationError(err))
}

func TestListRecords_NewestFirstWithSinceAndLimit(t *testing.T) {
	svc := createTestService(t)
	ctx := context.Background()
	a := createTestPerson(t, svc, Labour)
	b := createTestPerson(t, svc, Labour)

	for i, ref := range []int64{a, b, a} {
		action := ActionEntry
		if i == 2 {
			action = ActionExit
		}
		_, _, err := svc.CreateRecord(ctx, RecordInput{PersonType: Labour, PersonRef: ref, Action: action, Timestamp: at(i + 1)}, "")
		require.NoError(t, err)
	}

	all, err := svc.ListRecords(ctx, time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, ActionExit, all[0].Action)
	assert.True(t, all[0].Timestamp.After(all[1].Timestamp))

	recent, err := svc.ListRecords(ctx, *at(2), 0)
	require.NoError(t, err)
	assert.Len(t, recent, 2)

	limited, err := svc.ListRecords(ctx, time.Time{}, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestStorePhoto_ContentAddressed(t *testing.T) {
	svc := createTestService(t)
	ctx := context.Background()

	p1, err := svc.StorePhoto(ctx, []byte("jpeg bytes"), ".jpg")
	require.NoError(t, err)
	p2, err := svc.StorePhoto(ctx, []byte("jpeg bytes"), ".jpg")
	require.NoError(t, err)
	assert.Equal(t, p1, p2)
	assert.Regexp(t, `^/photos/[0-9a-f]{2}/[0-9a-f]{2}/[0-9a-f]{64}\.jpg$`, p1)

	file, err := svc.PhotoFile(p1)
	require.NoError(t, err)
	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Equal(t, "jpeg bytes", string(data))

	_, err = svc.StorePhoto(ctx, nil, ".jpg")
	assert.True(t, IsValidationError(err))
}

func TestApplyBatch_PerOperationOutcomes(t *testing.T) {
	svc := createTestService(t)
	ctx := context.Background()

	outcomes := svc.ApplyBatch(ctx, []Operation{
		{
			OperationType: OpCreate, EntityType: EntityPerson, ClientID: "p-1",
			Data: payload.Object{"personType": payload.String(Labour), "name": payload.String("Ravi")},
		},
		{
			OperationType: OpCreate, EntityType: EntityRecord, ClientID: "r-1",
			Data: payload.Object{"personType": payload.String(Labour), "personRef": payload.Int(1), "action": payload.String(ActionEntry)},
		},
		{
			OperationType: OpCreate, EntityType: EntityRecord, ClientID: "r-2",
			Data: payload.Object{"personType": payload.String(Labour), "personRef": payload.Int(1), "action": payload.String(ActionEntry)},
		},
		{OperationType: "delete", EntityType: EntityRecord, ClientID: "r-3"},
		{OperationType: OpCreate, EntityType: "shift", ClientID: "r-4"},
	}, "guard-1")
	require.Len(t, outcomes, 5)

	require.NoError(t, outcomes[0].Err)
	person := outcomes[0].Result.(Person)
	assert.Equal(t, int64(1), person.ID)
	assert.Equal(t, "p-1", person.ClientID)

	require.NoError(t, outcomes[1].Err)
	rec := outcomes[1].Result.(Record)
	assert.Equal(t, "r-1", rec.ClientID)
	assert.Equal(t, "guard-1", rec.RecordedBy)

	assert.True(t, IsOpenSessionError(outcomes[2].Err))
	assert.True(t, IsValidationError(outcomes[3].Err))
	assert.True(t, IsValidationError(outcomes[4].Err))

	// replaying the whole batch is idempotent for the successes
	again := svc.ApplyBatch(ctx, []Operation{{
		OperationType: OpCreate, EntityType: EntityRecord, ClientID: "r-1",
		Data: payload.Object{"personType": payload.String(Labour), "personRef": payload.Int(1), "action": payload.String(ActionEntry)},
	}}, "guard-1")
	require.NoError(t, again[0].Err)
	assert.Equal(t, rec.ID, again[0].Result.(Record).ID)
}

func TestCreateRecord_ConcurrentDuplicatesInsertOnce(t *testing.T) {
	svc := createTestService(t)
	ctx := context.Background()
	ref := createTestPerson(t, svc, Labour)

	var wg sync.WaitGroup
	ids := make([]int64, 8)
	errs := make([]error, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec, _, err := svc.CreateRecord(ctx, RecordInput{
				PersonType: Labour, PersonRef: ref, Action: ActionEntry, ClientID: "same", Timestamp: at(1),
			}, "")
			ids[i], errs[i] = rec.ID, err
		}(i)
	}
	wg.Wait()

	for i := range ids {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}
	records, err := svc.ListRecords(ctx, time.Time{}, 0)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}
