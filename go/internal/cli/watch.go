package cli

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mcdev12/bazaar/go/internal/auction/room"
	"github.com/mcdev12/bazaar/go/internal/auction/store"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	Duration time.Duration
	Ticks    bool
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch <auction-id>",
		Short: "Follow an auction room until it ends",
		Long: `Open the auction room, print its state, then print every update:
price changes, extensions, the countdown and connection changes. Stops when
the auction ends, after --duration, or on interrupt.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context(), opts, args[0], cmd)
		},
	}

	cmd.Flags().DurationVar(&opts.Duration, "duration", 0, "stop after this long (0 watches until the auction ends)")
	cmd.Flags().BoolVar(&opts.Ticks, "ticks", true, "print countdown ticks")

	return cmd
}

func runWatch(ctx context.Context, opts *WatchOptions, auctionID string, cmd *cobra.Command) error {
	out := opts.formatter(cmd)
	if opts.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	rm, err := room.Open(ctx, opts.Config.RoomDeps(opts.fetcher()), auctionID)
	if err != nil {
		return classify("failed to open auction", err)
	}
	defer rm.Close()

	updates, unsubscribe := rm.Subscribe(0)
	defer unsubscribe()

	view := rm.View()
	if err := out.Success(updateLine{Kind: store.UpdateState, View: view}); err != nil {
		return err
	}
	if ended(view) {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("auction_id", auctionID).Msg("watch stopped")
			return nil
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			if u.Kind == store.UpdateTick && !opts.Ticks {
				continue
			}
			if err := out.Success(updateLine(u)); err != nil {
				return err
			}
			if u.Kind == store.UpdateEnded || ended(u.View) {
				return nil
			}
		}
	}
}

func ended(v store.View) bool {
	return v.Snapshot != nil && v.Snapshot.Status.Terminal()
}
