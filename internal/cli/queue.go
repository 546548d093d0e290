package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/anshul1007/vermillion/internal/payload"
	"github.com/anshul1007/vermillion/internal/queue"
)

// actionJSON is the CLI view of a queued action.
type actionJSON struct {
	ID        int64          `json:"id"`
	Type      string         `json:"type"`
	ClientID  string         `json:"clientId,omitempty"`
	Status    string         `json:"status"`
	Attempts  int            `json:"attempts"`
	LastError string         `json:"lastError,omitempty"`
	Payload   payload.Object `json:"payload"`
	CreatedAt time.Time      `json:"createdAt"`
}

func actionView(a queue.Action) actionJSON {
	return actionJSON{
		ID:        a.ID,
		Type:      string(a.Type),
		ClientID:  a.ClientID,
		Status:    string(a.Status),
		Attempts:  a.Attempts,
		LastError: a.LastError,
		Payload:   a.Payload,
		CreatedAt: a.CreatedAt,
	}
}

// NewQueueCommand creates the queue command group.
func NewQueueCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage queued actions",
	}
	cmd.AddCommand(newQueueListCommand(rootOpts))
	cmd.AddCommand(newQueueStatsCommand(rootOpts))
	cmd.AddCommand(newQueueRetryCommand(rootOpts))
	return cmd
}

func newQueueListCommand(rootOpts *RootOptions) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued actions in FIFO order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			if status != "" && !queue.Status(status).Valid() {
				return out.fail(ExitCommandError, ErrCodeInput, fmt.Sprintf("unknown status %q", status), nil)
			}
			d, _, err := rootOpts.openDevice(cmd)
			if err != nil {
				return err
			}
			defer d.Close()

			actions, err := d.QueuedActions(cmd.Context(), queue.Status(status))
			if err != nil {
				return out.fail(ExitCommandError, ErrCodeStore, "list failed", err)
			}
			views := make([]actionJSON, len(actions))
			for i, a := range actions {
				views[i] = actionView(a)
			}
			return out.Success(views, actionTable(actions))
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "only actions with this status (pending|processing|failed)")
	return cmd
}

func actionTable(actions []queue.Action) string {
	if len(actions) == 0 {
		return "queue is empty"
	}
	var b strings.Builder
	tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tSTATUS\tATTEMPTS\tCLIENT ID\tLAST ERROR")
	for _, a := range actions {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\t%s\n", a.ID, a.Type, a.Status, a.Attempts, a.ClientID, a.LastError)
	}
	tw.Flush()
	return strings.TrimRight(b.String(), "\n")
}

func newQueueStatsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Count queued actions by status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			d, _, err := rootOpts.openDevice(cmd)
			if err != nil {
				return err
			}
			defer d.Close()

			st, err := d.Stats(cmd.Context())
			if err != nil {
				return out.fail(ExitCommandError, ErrCodeStore, "stats failed", err)
			}
			return out.Success(st, fmt.Sprintf("pending=%d processing=%d failed=%d total=%d",
				st.Pending, st.Processing, st.Failed, st.Total))
		},
	}
}

func newQueueRetryCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "retry",
		Short: "Return failed actions to pending with a fresh attempt budget",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			d, _, err := rootOpts.openDevice(cmd)
			if err != nil {
				return err
			}
			defer d.Close()

			n, err := d.RetryFailed(cmd.Context())
			if err != nil {
				return out.fail(ExitCommandError, ErrCodeStore, "retry failed", err)
			}
			return out.Success(map[string]int{"requeued": n}, fmt.Sprintf("requeued %d action(s)", n))
		},
	}
}
