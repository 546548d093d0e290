package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/anshul1007/vermillion/internal/api"
	"github.com/anshul1007/vermillion/internal/payload"
	"github.com/anshul1007/vermillion/internal/photo"
	"github.com/anshul1007/vermillion/internal/queue"
	"github.com/anshul1007/vermillion/internal/store"
)

// ack is what a successful create returned.
type ack struct {
	serverID int64
	record   *api.Record
}

// drainActions processes pending actions in FIFO order. When a pass
// learns new person ids and left actions deferred, another pass picks
// them up.
func (r *syncRun) drainActions(ctx context.Context) error {
	if err := r.loadPendingPersons(ctx); err != nil {
		return err
	}

	for pass := 0; pass < maxDrainPasses; pass++ {
		resolvedBefore := r.resolved
		deferred, err := r.drainOnce(ctx)
		if err != nil {
			return err
		}
		r.res.Deferred = deferred
		if deferred == 0 || r.resolved == resolvedBefore || r.authFailed {
			return nil
		}
		r.e.logger.Debug("re-draining deferred actions", "pass", pass+2, "deferred", deferred)
	}
	return nil
}

func (r *syncRun) loadPendingPersons(ctx context.Context) error {
	persons, err := r.e.store.ListPersons(ctx)
	if err != nil {
		return err
	}
	r.pendingPersons = make(map[string]bool)
	for _, p := range persons {
		if p.ServerID == nil {
			r.pendingPersons[p.ClientID] = true
		}
	}

	actions, err := r.e.queue.List(ctx, "")
	if err != nil {
		return err
	}
	r.liveRegistrations = make(map[string]bool)
	for _, a := range actions {
		if a.Type == queue.RegisterPerson && a.Status != queue.StatusFailed {
			r.liveRegistrations[a.ClientID] = true
		}
	}
	return nil
}

// drainOnce walks the pending actions once with an id cursor, so an
// action deferred in this pass is not revisited. Returns the number of
// deferred actions.
func (r *syncRun) drainOnce(ctx context.Context) (int, error) {
	var (
		cursor   int64
		deferred int
	)
	for {
		page, err := r.e.queue.DequeueAfter(ctx, cursor, r.e.batchSize)
		if err != nil {
			return deferred, err
		}
		if len(page) == 0 {
			return deferred, nil
		}

		for _, a := range page {
			cursor = a.ID
			if err := ctx.Err(); err != nil {
				return deferred, err
			}
			if r.authFailed {
				continue
			}

			// Re-read: a remap earlier in this page may have rewritten it.
			a, err := r.e.queue.Get(ctx, a.ID)
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			if err != nil {
				return deferred, err
			}
			if a.Status != queue.StatusPending {
				continue
			}

			a, err = r.settlePhotoRefs(ctx, a)
			if err != nil {
				if errors.Is(err, ErrInvalidPayload) {
					if err := r.handleFailure(ctx, a, err); err != nil {
						return deferred, err
					}
					continue
				}
				return deferred, err
			}

			if b, blocked := r.unresolved(a); blocked {
				if b.person != "" && !r.liveRegistrations[b.person] {
					if err := r.parkOrphan(ctx, a, b); err != nil {
						return deferred, err
					}
					continue
				}
				deferred++
				r.e.logger.Debug("action deferred on unresolved reference",
					"id", a.ID,
					"type", a.Type,
					"path", b.path,
				)
				continue
			}
			if err := r.process(ctx, a); err != nil {
				return deferred, err
			}
		}

		if err := r.flushBatch(ctx); err != nil {
			return deferred, err
		}
	}
}

// blocker is the first reference that keeps an action from being sent.
type blocker struct {
	path string
	// person is the client id of the unregistered person, empty for a
	// photo reference.
	person string
}

// unresolved reports whether a still references a photo that is not
// uploaded or a person with no server id. Such an action must not reach
// the server yet; it stays pending without consuming an attempt.
func (r *syncRun) unresolved(a queue.Action) (blocker, bool) {
	if a.Type == queue.UploadPhoto {
		return blocker{}, false
	}
	matches := payload.Find(a.Payload, func(path payload.Path, v payload.Value) bool {
		key := path.Key()
		if key == queue.KeyPhotoLocalID {
			return true
		}
		s, ok := v.(payload.String)
		return ok && key != queue.KeyClientID && r.pendingPersons[string(s)]
	})
	if len(matches) == 0 {
		return blocker{}, false
	}
	b := blocker{path: matches[0].Path.String()}
	if matches[0].Path.Key() != queue.KeyPhotoLocalID {
		s, _ := matches[0].Value.(payload.String)
		b.person = string(s)
	}
	return b, true
}

// settlePhotoRefs rewrites photoLocalId fields naming photos that were
// uploaded before this action was queued (a deduplicated save hands out
// the existing handle). Returns the action as stored afterwards. A
// reference to a photo that does not exist is ErrInvalidPayload.
func (r *syncRun) settlePhotoRefs(ctx context.Context, a queue.Action) (queue.Action, error) {
	if a.Type == queue.UploadPhoto {
		return a, nil
	}
	refs := payload.Find(a.Payload, func(path payload.Path, _ payload.Value) bool {
		return path.Key() == queue.KeyPhotoLocalID
	})

	remapped := false
	for _, m := range refs {
		s, _ := m.Value.(payload.String)
		ref := string(s)
		id, ok := photo.ParseLocalRef(ref)
		if !ok {
			return a, fmt.Errorf("photo reference %q at %s: %w", ref, m.Path, ErrInvalidPayload)
		}
		p, err := r.e.photos.Get(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return a, fmt.Errorf("photo %d at %s: %w", id, m.Path, ErrInvalidPayload)
		}
		if err != nil {
			return a, err
		}
		if !p.Uploaded || p.RemoteURL == nil {
			continue
		}
		if err := r.remapPhoto(ctx, ref, *p.RemoteURL); err != nil {
			return a, err
		}
		remapped = true
	}
	if !remapped {
		return a, nil
	}
	return r.e.queue.Get(ctx, a.ID)
}

// parkOrphan fails an action whose person can no longer be registered
// by this queue: no pending registration is left for it. RetryFailed
// re-arms both together.
func (r *syncRun) parkOrphan(ctx context.Context, a queue.Action, b blocker) error {
	cause := fmt.Errorf("%s names person %s whose registration is parked: %w", b.path, b.person, ErrUnresolvedReference)
	if err := r.e.queue.Reject(ctx, a.ID, a.Attempts, cause); err != nil {
		return err
	}
	r.res.Failed++
	r.e.logger.Warn("action parked on unresolved reference",
		"id", a.ID,
		"type", a.Type,
		"path", b.path,
		"person", b.person,
	)
	return nil
}

// process sends one action. Only local storage failures are returned;
// network outcomes are recorded on the action.
func (r *syncRun) process(ctx context.Context, a queue.Action) error {
	if err := r.e.queue.SetStatus(ctx, a.ID, queue.StatusProcessing, a.Attempts); err != nil {
		return err
	}

	k, err := r.dispatch(ctx, a)
	if err != nil {
		return r.handleFailure(ctx, a, err)
	}
	return r.acknowledge(ctx, a, k)
}

// dispatch maps each action type to its network call.
func (r *syncRun) dispatch(ctx context.Context, a queue.Action) (ack, error) {
	switch a.Type {
	case queue.RegisterPerson:
		var p api.Person
		err := r.call(ctx, "register person", func(ctx context.Context) error {
			var err error
			p, err = r.e.remote.RegisterPerson(ctx, a.Payload)
			return err
		})
		return ack{serverID: p.ID}, err

	case queue.CreateRecord:
		var rec api.Record
		err := r.call(ctx, "create record", func(ctx context.Context) error {
			var err error
			rec, err = r.e.remote.CreateRecord(ctx, a.Payload)
			return err
		})
		if err != nil {
			return ack{}, err
		}
		return ack{serverID: rec.ID, record: &rec}, nil

	case queue.UploadPhoto:
		return ack{}, r.uploadQueuedPhoto(ctx, a)

	default:
		return ack{}, fmt.Errorf("dispatch %q: %w: %w", a.Type, queue.ErrUnknownActionType, ErrInvalidPayload)
	}
}

// uploadQueuedPhoto handles an explicit UploadPhoto action. The photo
// phase has usually uploaded the photo already and rewritten the payload
// to carry photoPath, in which case there is nothing left to send.
func (r *syncRun) uploadQueuedPhoto(ctx context.Context, a queue.Action) error {
	if _, ok := a.Payload.GetString(queue.KeyPhotoPath); ok {
		return nil
	}

	ref, _ := a.Payload.GetString(queue.KeyPhotoLocalID)
	id, ok := photo.ParseLocalRef(ref)
	if !ok {
		return fmt.Errorf("photo reference %q: %w", ref, ErrInvalidPayload)
	}
	p, err := r.e.photos.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("photo %d: %w", id, ErrInvalidPayload)
	}
	if err != nil {
		return err
	}
	if p.Uploaded && p.RemoteURL != nil {
		return r.remapPhoto(ctx, ref, *p.RemoteURL)
	}
	_, err = r.uploadPhoto(ctx, p)
	return err
}

// handleFailure classifies a failed action:
//   - dedicated endpoint missing: queued for the batch fallback
//   - authorization lost: left pending, no attempt consumed
//   - semantic rejection: parked as failed
//   - anything else: one attempt consumed
func (r *syncRun) handleFailure(ctx context.Context, a queue.Action, cause error) error {
	switch {
	case ctx.Err() != nil:
		if err := r.e.queue.SetStatus(context.WithoutCancel(ctx), a.ID, queue.StatusPending, a.Attempts); err != nil {
			return err
		}
		return ctx.Err()

	case api.IsEndpointUnavailable(cause) && a.Type.IsCreate() && r.e.batchSupported.Load():
		r.batch = append(r.batch, a)
		return nil

	case api.IsUnauthorized(cause):
		r.authFailed = true
		r.res.AuthFailed = true
		r.e.logger.Warn("action left queued after authorization failure", "id", a.ID, "type", a.Type)
		return r.e.queue.SetStatus(ctx, a.ID, queue.StatusPending, a.Attempts)

	case api.IsRejection(cause) || errors.Is(cause, ErrInvalidPayload) || IsOperationTooLarge(cause):
		r.res.Rejected++
		r.parked(a)
		return r.e.queue.Reject(ctx, a.ID, a.Attempts+1, cause)

	default:
		status, err := r.e.queue.Fail(ctx, a.ID, a.Attempts+1, cause)
		if err != nil {
			return err
		}
		if status == queue.StatusFailed {
			r.res.Failed++
			r.parked(a)
		} else {
			r.res.Retrying++
		}
		r.e.logger.Warn("action failed",
			"id", a.ID,
			"type", a.Type,
			"attempts", a.Attempts+1,
			"status", status,
			"error", cause,
		)
		return nil
	}
}

// parked notes that a left the pending set for good, so dependents of
// a parked registration stop waiting on it.
func (r *syncRun) parked(a queue.Action) {
	if a.Type == queue.RegisterPerson {
		delete(r.liveRegistrations, a.ClientID)
	}
}

// acknowledge applies a successful create locally and removes the action.
// A create acknowledged without a server id was not stored and counts as
// a failed attempt.
func (r *syncRun) acknowledge(ctx context.Context, a queue.Action, k ack) error {
	if a.Type.IsCreate() && k.serverID == 0 {
		return r.handleFailure(ctx, a, errMissingServerID)
	}

	switch a.Type {
	case queue.RegisterPerson:
		if err := r.resolvePerson(ctx, a.ClientID, k.serverID); err != nil {
			return err
		}
	case queue.CreateRecord:
		if k.record != nil {
			if _, err := r.e.store.UpsertRecords(ctx, []store.CachedRecord{cachedRecord(*k.record)}); err != nil {
				return err
			}
		}
	}

	if err := r.e.queue.Complete(ctx, a.ID); err != nil {
		return err
	}
	r.res.Synced++
	r.e.logger.Info("action synced",
		"id", a.ID,
		"type", a.Type,
		"client_id", a.ClientID,
		"server_id", k.serverID,
	)
	return nil
}

// resolvePerson records the server id of a person and rewrites every
// queued reference to its client id. The clientId fields themselves are
// left alone.
func (r *syncRun) resolvePerson(ctx context.Context, clientID string, serverID int64) error {
	if clientID == "" || serverID == 0 {
		return nil
	}

	err := r.e.store.SetPersonServerID(ctx, clientID, serverID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("resolve person %s: %w", clientID, err)
	}
	delete(r.pendingPersons, clientID)
	r.resolved++

	n, err := r.e.queue.RewritePayloads(ctx, func(a queue.Action) (payload.Object, bool) {
		out, changed := payload.ReplaceString(a.Payload, clientID, payload.Int(serverID), queue.KeyClientID)
		if !changed {
			return nil, false
		}
		return out.(payload.Object), true
	})
	if err != nil {
		return fmt.Errorf("remap person %s: %w", clientID, err)
	}
	r.res.Remapped += n
	if n > 0 {
		r.e.logger.Info("person references remapped", "client_id", clientID, "server_id", serverID, "actions", n)
	}
	return nil
}

func cachedRecord(rec api.Record) store.CachedRecord {
	return store.CachedRecord{
		ID:         rec.ID,
		PersonType: rec.PersonType,
		PersonRef:  rec.PersonRef,
		Action:     rec.Action,
		Timestamp:  rec.Timestamp,
		ClientID:   rec.ClientID,
		RecordedBy: rec.RecordedBy,
		PhotoPath:  rec.PhotoPath,
	}
}
