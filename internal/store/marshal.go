package store

import (
	"database/sql"
	"fmt"

	"github.com/anshul1007/vermillion/internal/payload"
)

// marshalPayload converts a payload to canonical JSON TEXT for storage.
// A nil object is stored as "{}".
func marshalPayload(obj payload.Object) (string, error) {
	if obj == nil {
		return "{}", nil
	}
	data, err := payload.MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	return string(data), nil
}

// unmarshalPayload parses canonical JSON TEXT back into a payload.
func unmarshalPayload(data string) (payload.Object, error) {
	if data == "" || data == "{}" {
		return payload.Object{}, nil
	}
	obj, err := payload.ParseObject([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return obj, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func int64Ptr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func stringPtr(n sql.NullString) *string {
	if !n.Valid {
		return nil
	}
	v := n.String
	return &v
}
