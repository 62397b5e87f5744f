package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mcdev12/bazaar/go/internal/auction/room"
	"github.com/mcdev12/bazaar/go/internal/auction/viewhub"
)

const shutdownTimeout = 10 * time.Second

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
		Short: "Serve auction rooms to local views",
		Long: `Run the view hub: local views connect to /ws/auction?auction_id=... and
share one room per auction, and can query /api/auctions and
/api/auctions/{id}/state. Runs until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (default from hub.addr)")

	return cmd
}

func runServe(ctx context.Context, opts *ServeOptions, cmd *cobra.Command) error {
	cfg := opts.Config
	fetcher := opts.fetcher()
	rooms := room.NewRegistry(cfg.RoomDeps(fetcher))
	defer rooms.Close()

	hubConfig := viewhub.DefaultConfig()
	hubConfig.Addr = cfg.Hub.Addr
	if opts.Addr != "" {
		hubConfig.Addr = opts.Addr
	}
	hubConfig.AllowedOrigins = cfg.Hub.AllowedOrigins
	hub := viewhub.NewHub(hubConfig, rooms, fetcher)
	server := hub.Server()

	ln, err := net.Listen("tcp", server.Addr)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}
	opts.formatter(cmd).VerboseLog("view hub listening on %s", ln.Addr())

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", ln.Addr().String()).Msg("view hub starting")
		errCh <- server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return WrapExitError(ExitCommandError, "view hub failed", err)
		}
		return nil
	case <-ctx.Done():
		log.Info().Msg("shutting down view hub")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Hijacked websocket connections are not tracked by Shutdown.
	hub.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("view hub shutdown failed")
	}
	log.Info().Int("rooms", rooms.Len()).Msg("view hub stopped")
	return nil
}
