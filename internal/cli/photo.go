package cli

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/anshul1007/vermillion/internal/payload"
)

// NewPhotoCommand creates the photo command group.
func NewPhotoCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "photo",
		Short: "Stage and resolve captured photos",
	}
	cmd.AddCommand(newPhotoSaveCommand(rootOpts))
	cmd.AddCommand(newPhotoResolveCommand(rootOpts))
	return cmd
}

func newPhotoSaveCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		name string
		meta string
	)
	cmd := &cobra.Command{
		Use:   "save <file>",
		Short: "Stage an image file and print its local handle",
		Long: `Stage an image file. Oversized images are compressed; saving the same
capture twice returns the existing handle. Use the printed handle as
photoLocalId in queued payloads.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			data, err := os.ReadFile(args[0])
			if err != nil {
				return out.fail(ExitCommandError, ErrCodeInput, "read image", err)
			}
			var md payload.Object
			if meta != "" {
				md, err = payload.ParseObject([]byte(meta))
				if err != nil {
					return out.fail(ExitCommandError, ErrCodeInput, "metadata is not a JSON object", err)
				}
			}
			if name == "" {
				name = filepath.Base(args[0])
			}

			d, _, err := rootOpts.openDevice(cmd)
			if err != nil {
				return err
			}
			defer d.Close()

			res, err := d.SavePhoto(cmd.Context(), data, name, md)
			if err != nil {
				return out.fail(ExitCommandError, ErrCodeStore, "save photo", err)
			}
			text := res.LocalRef
			if res.Deduplicated {
				text += " (already staged)"
			}
			return out.Success(res, text)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "filename to record (default: base name of file)")
	cmd.Flags().StringVar(&meta, "meta", "", "capture metadata as a JSON object")
	return cmd
}

func newPhotoResolveCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <src>",
		Short: "Resolve a photo handle or URL to a displayable URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			d, _, err := rootOpts.openDevice(cmd)
			if err != nil {
				return err
			}
			defer d.Close()

			url, err := d.ResolveImage(cmd.Context(), args[0])
			if err != nil {
				return out.fail(ExitCommandError, ErrCodeStore, "resolve image", err)
			}
			return out.Success(map[string]string{"src": args[0], "url": url}, url)
		},
	}
}
