package cli

import (
	"github.com/spf13/cobra"

	"github.com/anshul1007/vermillion/internal/api"
	"github.com/anshul1007/vermillion/internal/config"
	"github.com/anshul1007/vermillion/internal/device"
)

// openDevice loads the config and opens the local device against the
// configured server. The caller closes the device.
func (o *RootOptions) openDevice(cmd *cobra.Command) (*device.Device, config.Config, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, config.Config{}, err
	}
	logger := o.logger(cmd.ErrOrStderr())

	// Rotated tokens are kept in memory only.
	tokens := api.NewTokenSource(cfg.AccessToken, cfg.RefreshToken, func(api.TokenPair) {
		logger.Info("access token refreshed")
	})
	client := api.NewClient(cfg.ServerURL, tokens)

	d, err := device.FromConfig(cfg, client, device.WithLogger(logger))
	if err != nil {
		return nil, config.Config{}, WrapExitError(ExitCommandError, "open device", err)
	}
	return d, cfg, nil
}

func requireServer(cfg config.Config) error {
	if cfg.ServerURL == "" {
		return NewExitError(ExitCommandError, "server_url is not configured")
	}
	return nil
}
