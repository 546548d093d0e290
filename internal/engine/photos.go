package engine

import (
	"context"
	"fmt"

	"github.com/anshul1007/vermillion/internal/api"
	"github.com/anshul1007/vermillion/internal/payload"
	"github.com/anshul1007/vermillion/internal/photo"
	"github.com/anshul1007/vermillion/internal/queue"
	"github.com/anshul1007/vermillion/internal/store"
)

// uploadPhotos uploads every staged photo that has no server path yet.
// A photo that fails is left for the next run; actions referencing it
// are deferred by the action phase.
func (r *syncRun) uploadPhotos(ctx context.Context) error {
	pending, err := r.e.photos.Pending(ctx)
	if err != nil {
		return err
	}

	for _, p := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		if r.authFailed {
			return nil
		}
		if _, err := r.uploadPhoto(ctx, p); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.res.PhotosFailed++
			r.e.logger.Warn("photo upload failed",
				"photo_id", p.ID,
				"filename", p.Filename,
				"error", err,
			)
			continue
		}
		r.res.PhotosUploaded++
	}
	return nil
}

// uploadPhoto sends one photo, records its server path and rewrites
// queued references to it.
func (r *syncRun) uploadPhoto(ctx context.Context, p store.Photo) (string, error) {
	data, _, err := r.e.photos.Data(ctx, p.ID)
	if err != nil {
		return "", fmt.Errorf("read photo %d: %w", p.ID, err)
	}
	up := api.PhotoUpload{
		Filename: p.Filename,
		Image:    photo.EncodeDataURL(p.MIME, data),
	}

	var path string
	err = r.call(ctx, "upload photo", func(ctx context.Context) error {
		var err error
		path, err = r.e.remote.UploadPhoto(ctx, up)
		return err
	})
	if err != nil {
		return "", err
	}

	if err := r.e.photos.MarkUploaded(ctx, p.ID, path); err != nil {
		return "", fmt.Errorf("mark photo %d uploaded: %w", p.ID, err)
	}
	if err := r.remapPhoto(ctx, photo.LocalRef(p.ID), path); err != nil {
		return "", err
	}
	r.e.logger.Info("photo uploaded", "photo_id", p.ID, "path", path)
	return path, nil
}

// remapPhoto replaces every {photoLocalId: ref} field in queued payloads
// with {photoPath: path}.
func (r *syncRun) remapPhoto(ctx context.Context, ref, path string) error {
	n, err := r.e.queue.RewritePayloads(ctx, func(a queue.Action) (payload.Object, bool) {
		out, changed := payload.RewriteObjects(a.Payload, func(_ payload.Path, obj payload.Object) bool {
			v, ok := obj[queue.KeyPhotoLocalID].(payload.String)
			if !ok || string(v) != ref {
				return false
			}
			delete(obj, queue.KeyPhotoLocalID)
			obj[queue.KeyPhotoPath] = payload.String(path)
			return true
		})
		if !changed {
			return nil, false
		}
		return out.(payload.Object), true
	})
	if err != nil {
		return fmt.Errorf("remap photo %s: %w", ref, err)
	}
	r.res.Remapped += n
	return nil
}
