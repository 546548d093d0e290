package api

import (
	"encoding/json"
	"time"

	"github.com/anshul1007/vermillion/internal/payload"
)

// Envelope is the response wrapper every endpoint uses.
type Envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Errors  []ErrorDetail   `json:"errors,omitempty"`
}

// ErrorDetail is one entry of Envelope.Errors.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Record is a server entry/exit record.
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

// PhotoUpload is the body of the photo endpoint. Image is a base64 data
// URL.
type PhotoUpload struct {
	Filename string `json:"filename"`
	Image    string `json:"image"`
}

// PhotoResult is returned by the photo endpoint.
type PhotoResult struct {
	Path string `json:"path"`
}

// Batch operation types and entity types.
const (
	OpCreate = "create"

	EntityPerson = "person"
	EntityRecord = "entryExitRecord"
)

// BatchOperation is one queued mutation inside a batch submission.
type BatchOperation struct {
	OperationType string         `json:"operationType"`
	EntityType    string         `json:"entityType"`
	Data          payload.Object `json:"data"`
	ClientID      string         `json:"clientId"`
	Timestamp     int64          `json:"timestamp"` // unix millis of enqueue
}

// BatchRequest is the body of the batch endpoint.
type BatchRequest struct {
	Operations []BatchOperation `json:"operations"`
}

// BatchResult is the per-operation outcome. Data holds the created (or
// previously created) entity on success.
type BatchResult struct {
	ClientID string          `json:"clientId"`
	Success  bool            `json:"success"`
	Data     json.RawMessage `json:"data,omitempty"`
	Error    *ErrorDetail    `json:"error,omitempty"`
}

// BatchResponse is returned by the batch endpoint.
type BatchResponse struct {
	Results []BatchResult `json:"results"`
}

// RefreshRequest is the body of the token refresh endpoint.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// TokenPair is returned by the token refresh endpoint.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}
