package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/mcdev12/bazaar/go/internal/auction/bidding"
	"github.com/mcdev12/bazaar/go/internal/auction/room"
	"github.com/mcdev12/bazaar/go/internal/auction/store"
	"github.com/mcdev12/bazaar/go/internal/models"
)

// BidOptions holds flags for the bid command.
type BidOptions struct {
	*RootOptions
	Wait time.Duration
}

// NewBidCommand creates the bid command.
func NewBidCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BidOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "bid <auction-id> <amount>",
		Short: "Place a bid",
		Long: `Place one bid on an auction. The bid goes over the live channel when it
is connected and through the REST endpoint otherwise. A channel bid is only
accepted by the gateway; the command then waits for the price update that
confirms or outbids it.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBid(cmd.Context(), opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().DurationVar(&opts.Wait, "wait", 0, "how long to wait for the outcome of a channel bid (default: the bid TTL)")

	return cmd
}

func runBid(ctx context.Context, opts *BidOptions, auctionID, rawAmount string, cmd *cobra.Command) error {
	amount, err := decimal.NewFromString(rawAmount)
	if err != nil || !amount.IsPositive() {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid amount %q", rawAmount))
	}
	out := opts.formatter(cmd)

	rm, err := room.Open(ctx, opts.Config.RoomDeps(opts.fetcher()), auctionID)
	if err != nil {
		return classify("failed to open auction", err)
	}
	defer rm.Close()

	updates, unsubscribe := rm.Subscribe(0)
	defer unsubscribe()

	receipt, err := rm.PlaceBid(ctx, amount)
	if err != nil {
		return classify("bid failed", err)
	}
	out.VerboseLog("bid %s accepted via %s", receipt.Bid.ID, receipt.Path)

	report := bidReport{Receipt: receipt}
	if receipt.Path == bidding.PathFallback {
		report.Outcome = models.BidOutcomeConfirmed
	} else {
		wait := opts.Wait
		if wait <= 0 {
			wait = opts.Config.Sync.BidTTL + time.Second
		}
		report.Outcome, report.Message = awaitOutcome(ctx, updates, wait)
	}
	report.View = rm.View()

	if err := out.Success(report); err != nil {
		return err
	}
	switch report.Outcome {
	case models.BidOutcomeConfirmed, "":
		return nil
	default:
		return NewExitError(ExitFailure, fmt.Sprintf("bid %s", report.Outcome))
	}
}

// awaitOutcome waits for the room to settle the pending bid. Only one bid
// can be pending, so the first outcome after placing is ours.
func awaitOutcome(ctx context.Context, updates <-chan store.Update, wait time.Duration) (models.BidOutcome, string) {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return "", ""
		case <-timer.C:
			return "", ""
		case u, ok := <-updates:
			if !ok {
				return "", ""
			}
			if u.Kind == store.UpdateBidOutcome {
				return u.Outcome, u.Message
			}
		}
	}
}
