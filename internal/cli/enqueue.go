package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/anshul1007/vermillion/internal/payload"
	"github.com/anshul1007/vermillion/internal/queue"
)

// NewEnqueueCommand creates the enqueue command.
func NewEnqueueCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "enqueue <type> <json>",
		Short: "Queue a mutation for the next sync",
		Long: `Queue a mutation for the next sync. type is one of RegisterPerson,
CreateRecord or UploadPhoto. A clientId is generated for creates that
have none, and CreateRecord gets the current time as its timestamp.

Example:
  vermillion enqueue CreateRecord '{"personType":"Labour","personRef":12,"action":"Entry"}'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEnqueue(rootOpts, cmd, queue.ActionType(args[0]), args[1])
		},
	}
}

func runEnqueue(opts *RootOptions, cmd *cobra.Command, t queue.ActionType, raw string) error {
	out := opts.formatter(cmd)
	if !t.Valid() {
		return out.fail(ExitCommandError, ErrCodeInput, fmt.Sprintf("unknown action type %q", t), nil)
	}
	p, err := payload.ParseObject([]byte(raw))
	if err != nil {
		return out.fail(ExitCommandError, ErrCodeInput, "payload is not a JSON object", err)
	}

	d, _, err := opts.openDevice(cmd)
	if err != nil {
		return err
	}
	defer d.Close()

	a, err := d.EnqueueAction(cmd.Context(), t, p)
	if err != nil {
		return out.fail(ExitCommandError, ErrCodeStore, "enqueue failed", err)
	}
	return out.Success(actionView(a), fmt.Sprintf("queued %s #%d (clientId %s)", a.Type, a.ID, a.ClientID))
}
