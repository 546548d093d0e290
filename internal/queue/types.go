package queue

import (
	"errors"
	"time"

	"github.com/anshul1007/vermillion/internal/payload"
)

// MaxAttempts is the attempt ceiling. An action that has failed this many
// times is parked as StatusFailed and skipped by automatic drains.
const MaxAttempts = 5

// ActionType is the closed set of queued mutations.
type ActionType string

const (
	RegisterPerson ActionType = "RegisterPerson"
	CreateRecord   ActionType = "CreateRecord"
	UploadPhoto    ActionType = "UploadPhoto"
)

// ActionTypes lists every valid action type.
var ActionTypes = []ActionType{RegisterPerson, CreateRecord, UploadPhoto}

// Valid reports whether t is a known action type.
func (t ActionType) Valid() bool {
	switch t {
	case RegisterPerson, CreateRecord, UploadPhoto:
		return true
	default:
		return false
	}
}

// IsCreate reports whether t creates a server entity and therefore must
// carry a clientId for deduplication.
func (t ActionType) IsCreate() bool {
	return t == RegisterPerson || t == CreateRecord
}

// Status is the lifecycle state of a queued action.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusDone, StatusFailed:
		return true
	default:
		return false
	}
}

// Payload keys with queue-level meaning.
const (
	KeyClientID     = "clientId"
	KeyPhotoLocalID = "photoLocalId"
	KeyPhotoPath    = "photoPath"
)

var (
	// ErrMissingClientID is returned when a create-type action has no
	// clientId string in its payload.
	ErrMissingClientID = errors.New("create action requires payload.clientId")

	// ErrUnknownActionType is returned for action types outside the closed set.
	ErrUnknownActionType = errors.New("unknown action type")

	// ErrAttemptsDecreased is returned when a status update would lower
	// the attempt counter.
	ErrAttemptsDecreased = errors.New("attempts may not decrease")
)

// Action is a queued mutation as seen by the sync engine.
type Action struct {
	ID        int64
	Type      ActionType
	Payload   payload.Object
	ClientID  string
	Status    Status
	Attempts  int
	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Stats summarizes the queue by status.
type Stats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Failed     int `json:"failed"`
	Total      int `json:"total"`
}
