package cli

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/anshul1007/vermillion/internal/engine"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	Probe    time.Duration
	Interval time.Duration
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Sync whenever the server becomes reachable",
		Long: `Probe the server and run a sync pass each time it becomes reachable,
and periodically while it stays reachable. Runs until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(opts, cmd)
		},
	}
	cmd.Flags().DurationVar(&opts.Probe, "probe", 0, "connectivity probe interval (default from config)")
	cmd.Flags().DurationVar(&opts.Interval, "interval", -1, "periodic sync interval while online, 0 disables (default from config)")
	return cmd
}

func runWatch(opts *WatchOptions, cmd *cobra.Command) error {
	out := opts.formatter(cmd)
	d, cfg, err := opts.openDevice(cmd)
	if err != nil {
		return err
	}
	defer d.Close()
	if err := requireServer(cfg); err != nil {
		return err
	}

	wopts := engine.WatchOptions{
		ProbeInterval: cfg.Sync.ProbeInterval(),
		SyncInterval:  cfg.Sync.Interval(),
		OnSync: func(res *engine.Result, err error) {
			if err != nil {
				out.Error(ErrCodeSync, "sync aborted", err.Error())
				return
			}
			out.Success(res, summarize(res))
		},
	}
	if opts.Probe > 0 {
		wopts.ProbeInterval = opts.Probe
	}
	if opts.Interval >= 0 {
		wopts.SyncInterval = opts.Interval
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	out.VerboseLog("watching %s (probe %s, interval %s)", cfg.ServerURL, wopts.ProbeInterval, wopts.SyncInterval)
	return d.Watch(ctx, wopts)
}
