package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mcdev12/bazaar/go/internal/auction/snapshot"
	"github.com/mcdev12/bazaar/go/internal/models"
)

// ListOptions holds flags for the list command.
type ListOptions struct {
	*RootOptions
	Status   string
	Page     int
	PageSize int
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List auctions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Status, "status", "", "filter by status (scheduled|live|ended|cancelled)")
	cmd.Flags().IntVar(&opts.Page, "page", 1, "page number")
	cmd.Flags().IntVar(&opts.PageSize, "page-size", 20, "auctions per page")

	return cmd
}

func runList(ctx context.Context, opts *ListOptions, cmd *cobra.Command) error {
	status := models.AuctionStatus(opts.Status)
	if status != "" && !status.Valid() {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid status %q", opts.Status))
	}

	page, err := opts.fetcher().List(ctx, snapshot.ListQuery{
		Status:   status,
		Page:     opts.Page,
		PageSize: opts.PageSize,
	})
	if err != nil {
		return classify("failed to list auctions", err)
	}
	return opts.formatter(cmd).Success(pageReport(page))
}
