package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anshul1007/vermillion/internal/api"
	"github.com/anshul1007/vermillion/internal/payload"
	"github.com/anshul1007/vermillion/internal/queue"
)

// inlineBlobMin is the length from which a base64-looking string is
// treated as embedded binary data.
const inlineBlobMin = 1024

var errMissingBatchResult = errors.New("batch response has no result for operation")

// flushBatch submits the actions collected for the batch fallback.
func (r *syncRun) flushBatch(ctx context.Context) error {
	if len(r.batch) == 0 {
		return nil
	}
	collected := r.batch
	r.batch = nil

	var (
		ops  []api.BatchOperation
		sent []queue.Action
	)
	for _, a := range collected {
		op := batchOperation(a)
		raw, err := json.Marshal(op)
		if err != nil {
			return fmt.Errorf("encode batch operation %d: %w", a.ID, err)
		}
		if len(raw) > r.e.maxBatchOpBytes {
			tooLarge := &OperationTooLargeError{ClientID: a.ClientID, Size: len(raw), Limit: r.e.maxBatchOpBytes}
			if err := r.handleFailure(ctx, a, tooLarge); err != nil {
				return err
			}
			continue
		}
		ops = append(ops, op)
		sent = append(sent, a)
	}
	if len(ops) == 0 {
		return nil
	}

	var resp api.BatchResponse
	err := r.call(ctx, "submit batch", func(ctx context.Context) error {
		var err error
		resp, err = r.e.remote.SubmitBatch(ctx, api.BatchRequest{Operations: ops})
		return err
	})
	if err != nil {
		if api.IsEndpointUnavailable(err) {
			if err := r.disableBatch(ctx); err != nil {
				return err
			}
		}
		for _, a := range sent {
			if err := r.handleFailure(ctx, a, err); err != nil {
				return err
			}
		}
		// handleFailure cannot re-collect: batch support is off or the
		// error was not an endpoint failure.
		r.batch = nil
		return nil
	}

	results := make(map[string]api.BatchResult, len(resp.Results))
	for _, res := range resp.Results {
		results[res.ClientID] = res
	}

	r.res.Batched += len(sent)
	for _, a := range sent {
		res, found := results[a.ClientID]
		switch {
		case !found:
			err = r.handleFailure(ctx, a, errMissingBatchResult)
		case res.Success:
			var k ack
			k, err = decodeBatchAck(a.Type, res.Data)
			if err == nil {
				err = r.acknowledge(ctx, a, k)
			} else {
				err = r.handleFailure(ctx, a, err)
			}
		default:
			err = r.handleFailure(ctx, a, batchError(res.Error))
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func batchOperation(a queue.Action) api.BatchOperation {
	entity := api.EntityRecord
	if a.Type == queue.RegisterPerson {
		entity = api.EntityPerson
	}
	return api.BatchOperation{
		OperationType: api.OpCreate,
		EntityType:    entity,
		Data:          SanitizeBatchPayload(a.Payload),
		ClientID:      a.ClientID,
		Timestamp:     a.CreatedAt.UnixMilli(),
	}
}

func decodeBatchAck(t queue.ActionType, data json.RawMessage) (ack, error) {
	switch t {
	case queue.RegisterPerson:
		var p api.Person
		if err := json.Unmarshal(data, &p); err != nil {
			return ack{}, fmt.Errorf("decode batch person: %w", err)
		}
		return ack{serverID: p.ID}, nil
	default:
		var rec api.Record
		if err := json.Unmarshal(data, &rec); err != nil {
			return ack{}, fmt.Errorf("decode batch record: %w", err)
		}
		return ack{serverID: rec.ID, record: &rec}, nil
	}
}

// batchError turns a per-operation failure into an *api.Error so it is
// classified like a response from a dedicated endpoint.
func batchError(detail *api.ErrorDetail) error {
	if detail == nil {
		return &api.Error{Status: http.StatusInternalServerError, Message: "batch operation failed"}
	}
	if detail.Code == api.CodeInternal || detail.Code == "" {
		return &api.Error{Status: http.StatusInternalServerError, Code: detail.Code, Message: detail.Message}
	}
	return &api.Error{Status: http.StatusUnprocessableEntity, Code: detail.Code, Message: detail.Message}
}

// SanitizeBatchPayload drops fields that carry inline image data: data:
// image URLs and long base64-looking strings, including inside arrays.
// The input is not modified.
func SanitizeBatchPayload(obj payload.Object) payload.Object {
	out, changed := payload.RewriteObjects(obj, func(_ payload.Path, o payload.Object) bool {
		changed := false
		for k, v := range o {
			switch val := v.(type) {
			case payload.String:
				if looksInline(string(val)) {
					delete(o, k)
					changed = true
				}
			case payload.Array:
				kept := make(payload.Array, 0, len(val))
				for _, elem := range val {
					if s, ok := elem.(payload.String); ok && looksInline(string(s)) {
						continue
					}
					kept = append(kept, elem)
				}
				if len(kept) != len(val) {
					o[k] = kept
					changed = true
				}
			}
		}
		return changed
	})
	if !changed {
		return obj
	}
	return out.(payload.Object)
}

func looksInline(s string) bool {
	if strings.HasPrefix(s, "data:image/") {
		return true
	}
	if len(s) < inlineBlobMin {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		case c == '+', c == '/', c == '=', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}
