package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/anshul1007/vermillion/internal/blob"
	"github.com/anshul1007/vermillion/internal/config"
	"github.com/anshul1007/vermillion/internal/httpapi"
	"github.com/anshul1007/vermillion/internal/ingest"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the reference ingestion server",
		Long: `Run the reference ingestion server: record creation with clientId
deduplication and the entry/exit state machine, person registration,
photo upload, batch submission and the records listing.

Refresh tokens come from server.tokens in the config. If access_token is
set it is accepted as-is for the "device" user.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}
	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (default from config)")
	return cmd
}

// server is an opened ingestion service and its HTTP handler.
type server struct {
	svc     *ingest.Service
	handler http.Handler
}

func openServer(cfg config.Config, logger *slog.Logger) (*server, error) {
	photos, err := blob.NewStore(cfg.PhotoDir)
	if err != nil {
		return nil, err
	}
	svc, err := ingest.Open(cfg.ServerDB, photos, ingest.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	tokens := httpapi.NewTokens(cfg.Server.Tokens)
	if cfg.AccessToken != "" {
		tokens.Grant(cfg.AccessToken, "device")
	}
	h := httpapi.New(svc, tokens,
		httpapi.WithLogger(logger),
		httpapi.WithMaxBodyBytes(int64(cfg.Server.MaxBodyBytes)),
	)
	return &server{svc: svc, handler: h.Router()}, nil
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	out := opts.formatter(cmd)
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	if opts.Addr != "" {
		cfg.ListenAddr = opts.Addr
	}
	logger := opts.logger(cmd.ErrOrStderr())

	gin.SetMode(gin.ReleaseMode)
	srv, err := openServer(cfg, logger)
	if err != nil {
		return out.fail(ExitCommandError, ErrCodeServer, "open server", err)
	}
	defer srv.svc.Close()

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		logger.Info("ingestion server listening", "addr", cfg.ListenAddr, "db", cfg.ServerDB)
		errc <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return out.fail(ExitCommandError, ErrCodeServer, fmt.Sprintf("listen on %s", cfg.ListenAddr), err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return out.fail(ExitFailure, ErrCodeServer, "shutdown", err)
	}
	return nil
}
