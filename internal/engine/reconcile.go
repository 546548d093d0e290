package engine

import (
	"context"

	"github.com/anshul1007/vermillion/internal/api"
	"github.com/anshul1007/vermillion/internal/store"
)

// reconcile pulls recent server records into the local read cache. A
// network failure is reported on the Result and does not fail the run.
func (r *syncRun) reconcile(ctx context.Context) error {
	since := r.e.now().Add(-r.e.reconcileWindow)

	var records []api.Record
	err := r.call(ctx, "list records", func(ctx context.Context) error {
		var err error
		records, err = r.e.remote.ListRecords(ctx, since, r.e.reconcileLimit)
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.res.ReconcileError = err.Error()
		r.e.logger.Warn("reconciliation pull failed", "error", err)
		return nil
	}

	cached := make([]store.CachedRecord, len(records))
	for i, rec := range records {
		cached[i] = cachedRecord(rec)
	}
	n, err := r.e.store.UpsertRecords(ctx, cached)
	if err != nil {
		return err
	}
	r.res.Reconciled = n
	return nil
}
