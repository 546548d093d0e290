package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/anshul1007/vermillion/internal/device"
)

// NewPersonCommand creates the person command group.
func NewPersonCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "person",
		Short: "Register and list persons captured on this device",
	}
	cmd.AddCommand(newPersonRegisterCommand(rootOpts))
	cmd.AddCommand(newPersonListCommand(rootOpts))
	return cmd
}

func newPersonRegisterCommand(rootOpts *RootOptions) *cobra.Command {
	var draft device.PersonDraft
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a person offline",
		Long: `Register a person offline. The printed client id can be used as
personRef in CreateRecord payloads until the registration syncs.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			d, _, err := rootOpts.openDevice(cmd)
			if err != nil {
				return err
			}
			defer d.Close()

			clientID, a, err := d.RegisterPersonOffline(cmd.Context(), draft)
			if errors.Is(err, device.ErrInvalidPerson) {
				return out.fail(ExitCommandError, ErrCodeInput, "invalid person", err)
			}
			if err != nil {
				return out.fail(ExitCommandError, ErrCodeStore, "register person", err)
			}
			return out.Success(map[string]any{"clientId": clientID, "actionId": a.ID},
				fmt.Sprintf("registered %s (action #%d)", clientID, a.ID))
		},
	}
	cmd.Flags().StringVar(&draft.PersonType, "type", "Labour", "person type (Labour|Visitor)")
	cmd.Flags().StringVar(&draft.Name, "name", "", "full name")
	cmd.Flags().StringVar(&draft.Phone, "phone", "", "phone number")
	cmd.Flags().StringVar(&draft.PhotoLocalID, "photo", "", "local photo handle from 'photo save'")
	return cmd
}

// personJSON is the CLI view of a local person.
type personJSON struct {
	ClientID   string `json:"clientId"`
	ServerID   *int64 `json:"serverId,omitempty"`
	PersonType string `json:"personType"`
	Name       string `json:"name"`
	Status     string `json:"status"`
}

func newPersonListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List locally registered persons and their server ids",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			d, _, err := rootOpts.openDevice(cmd)
			if err != nil {
				return err
			}
			defer d.Close()

			persons, err := d.Persons(cmd.Context())
			if err != nil {
				return out.fail(ExitCommandError, ErrCodeStore, "list persons", err)
			}
			views := make([]personJSON, len(persons))
			for i, p := range persons {
				views[i] = personJSON{
					ClientID:   p.ClientID,
					ServerID:   p.ServerID,
					PersonType: p.PersonType,
					Name:       p.Name,
					Status:     p.Status,
				}
			}
			return out.Success(views, "")
		},
	}
}
