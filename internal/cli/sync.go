package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/anshul1007/vermillion/internal/engine"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	ResetBatch bool
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync pass against the server",
		Long: `Run one sync pass: upload staged photos, drain the action queue in FIFO
order and refresh the local record cache.

Exits 1 when some actions failed or authorization was lost, 2 when the
pass could not run at all.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(opts, cmd)
		},
	}
	cmd.Flags().BoolVar(&opts.ResetBatch, "reset-batch", false, "forget a previously detected missing batch endpoint")
	return cmd
}

func runSync(opts *SyncOptions, cmd *cobra.Command) error {
	out := opts.formatter(cmd)
	d, cfg, err := opts.openDevice(cmd)
	if err != nil {
		return err
	}
	defer d.Close()
	if err := requireServer(cfg); err != nil {
		return err
	}

	if opts.ResetBatch {
		if err := d.Engine().ResetBatchSupport(cmd.Context()); err != nil {
			return out.fail(ExitCommandError, ErrCodeStore, "reset batch support", err)
		}
	}

	res, err := d.SyncAll(cmd.Context())
	if errors.Is(err, engine.ErrSyncInProgress) {
		return out.fail(ExitFailure, ErrCodeSync, "a sync is already running", err)
	}
	if err != nil {
		return out.fail(ExitCommandError, ErrCodeSync, "sync aborted", err)
	}

	if err := out.Success(res, summarize(res)); err != nil {
		return err
	}
	switch {
	case res.AuthFailed:
		return NewExitError(ExitFailure, "authorization failed; actions left queued")
	case res.Failed > 0 || res.Rejected > 0:
		return NewExitError(ExitFailure, fmt.Sprintf("%d action(s) failed", res.Failed+res.Rejected))
	}
	return nil
}

func summarize(r *engine.Result) string {
	s := fmt.Sprintf("synced=%d batched=%d retrying=%d failed=%d rejected=%d deferred=%d photos=%d/%d reconciled=%d in %s",
		r.Synced, r.Batched, r.Retrying, r.Failed, r.Rejected, r.Deferred,
		r.PhotosUploaded, r.PhotosUploaded+r.PhotosFailed, r.Reconciled, r.Duration)
	if r.AuthFailed {
		s += " (authorization failed)"
	}
	if r.ReconcileError != "" {
		s += " (reconcile: " + r.ReconcileError + ")"
	}
	return s
}
