package ingest

import (
	"time"

	"github.com/anshul1007/vermillion/internal/payload"
)

// Person types.
const (
	Labour  = "Labour"
	Visitor = "Visitor"
)

// Record actions.
const (
	ActionEntry = "Entry"
	ActionExit  = "Exit"
)

// Presence is the state of one (personType, personRef) pair.
type Presence string

const (
	// Outside: no record, or the latest record is an Exit.
	Outside Presence = "Outside"
	// Inside: the latest record is an Entry.
	Inside Presence = "Inside"
)

// Record is a stored entry/exit event.
type Record struct {
	ID         int64     `json:"id"`
	PersonType string    `json:"personType"`
	PersonRef  int64     `json:"personRef"`
	Action     string    `json:"action"`
	Timestamp  time.Time `json:"timestamp"`
	ClientID   string    `json:"clientId,omitempty"`
	RecordedBy string    `json:"recordedBy,omitempty"`
	PhotoPath  string    `json:"photoPath,omitempty"`
}

// Person is a registered labourer or visitor.
type Person struct {
	ID         int64  `json:"id"`
	PersonType string `json:"personType"`
	Name       string `json:"name"`
	Phone      string `json:"phone,omitempty"`
	PhotoPath  string `json:"photoPath,omitempty"`
	ClientID   string `json:"clientId,omitempty"`
}

// RecordInput is a record creation request. The person may be named by
// personRef, or by exactly one of labourId / visitorId.
type RecordInput struct {
	PersonType string     `json:"personType"`
	PersonRef  int64      `json:"personRef,omitempty"`
	LabourID   *int64     `json:"labourId,omitempty"`
	VisitorID  *int64     `json:"visitorId,omitempty"`
	Action     string     `json:"action"`
	Timestamp  *time.Time `json:"timestamp,omitempty"`
	ClientID   string     `json:"clientId,omitempty"`
	PhotoPath  string     `json:"photoPath,omitempty"`
}

// PersonInput is a person registration request.
type PersonInput struct {
	PersonType string `json:"personType"`
	Name       string `json:"name"`
	Phone      string `json:"phone,omitempty"`
	PhotoPath  string `json:"photoPath,omitempty"`
	ClientID   string `json:"clientId,omitempty"`
}

// Batch operation and entity types.
const (
	OpCreate     = "create"
	EntityPerson = "person"
	EntityRecord = "entryExitRecord"
)

// Operation is one entry of a batch submission.
type Operation struct {
	OperationType string
	EntityType    string
	ClientID      string
	Data          payload.Object
}

// Outcome is the result of one batch operation. Exactly one of Result
// and Err is set.
type Outcome struct {
	ClientID string
	Result   any
	Err      error
}
