package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/anshul1007/vermillion/internal/payload"
	"github.com/anshul1007/vermillion/internal/testutil"
)

// createTestStore opens a fresh store in a temp dir with a stepping clock.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	clock := testutil.NewStepClock(time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC), time.Second)
	s, err := Open(path, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createTestAction(actionType, clientID string, fields payload.Object) ActionRow {
	obj := payload.Object{}
	for k, v := range fields {
		obj[k] = v
	}
	if clientID != "" {
		obj["clientId"] = payload.String(clientID)
	}
	return ActionRow{
		Type:     actionType,
		Payload:  obj,
		ClientID: clientID,
	}
}

func ptr[T any](v T) *T {
	return &v
}
