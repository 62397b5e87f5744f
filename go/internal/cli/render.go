package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/mcdev12/bazaar/go/internal/auction/bidding"
	"github.com/mcdev12/bazaar/go/internal/auction/store"
	"github.com/mcdev12/bazaar/go/internal/models"
)

// updateLine is one watched store update.
type updateLine store.Update

func (u updateLine) Text() string {
	line := formatView(u.View)
	switch {
	case u.Outcome != "":
		line += "  bid " + string(u.Outcome)
		if u.Message != "" {
			line += ": " + u.Message
		}
	case u.Message != "":
		line += "  " + u.Message
	}
	return fmt.Sprintf("%-10s %s", u.Kind, line)
}

// bidReport is the result of the bid command.
type bidReport struct {
	Receipt bidding.Receipt   `json:"receipt"`
	Outcome models.BidOutcome `json:"outcome,omitempty"`
	Message string            `json:"message,omitempty"`
	View    store.View        `json:"view"`
}

func (r bidReport) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "bid %s sent via %s", r.Receipt.Bid.Amount, r.Receipt.Path)
	if r.Outcome == "" {
		b.WriteString(", outcome still pending")
	} else {
		fmt.Fprintf(&b, ": %s", r.Outcome)
	}
	if r.Message != "" {
		fmt.Fprintf(&b, " (%s)", r.Message)
	}
	b.WriteString("\n")
	b.WriteString(formatView(r.View))
	return b.String()
}

// pageReport is one page of the auction listing.
type pageReport models.AuctionPage

func (p pageReport) Text() string {
	if len(p.Items) == 0 {
		return "no auctions"
	}
	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tSTATUS\tPRICE\tENDS")
	for _, a := range p.Items {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", a.AuctionID, a.Title, a.Status, a.CurrentPrice, a.EndAt.Local().Format(time.DateTime))
	}
	w.Flush()
	fmt.Fprintf(&b, "page %d, %d of %d auctions", p.Page, len(p.Items), p.Total)
	return b.String()
}

func formatView(v store.View) string {
	conn := v.Connection.String()
	if v.Stale {
		conn += ", stale"
	}
	if v.Snapshot == nil {
		return fmt.Sprintf("%s  waiting for snapshot  [%s]", v.AuctionID, conn)
	}

	s := v.Snapshot
	var b strings.Builder
	fmt.Fprintf(&b, "%s  %s  price %s", v.AuctionID, s.Status, s.CurrentPrice)
	if s.Status == models.AuctionStatusLive {
		fmt.Fprintf(&b, "  next %s", s.MinimumNextBid())
	}
	fmt.Fprintf(&b, "  %s", formatRemaining(v))
	if s.WinnerID != nil {
		fmt.Fprintf(&b, "  leader %s", *s.WinnerID)
	}
	if s.FinalPrice != nil {
		fmt.Fprintf(&b, "  final %s", *s.FinalPrice)
	}
	if v.PendingBid != nil {
		fmt.Fprintf(&b, "  pending %s", v.PendingBid.Amount)
	}
	fmt.Fprintf(&b, "  [%s]", conn)
	return b.String()
}

func formatRemaining(v store.View) string {
	switch {
	case v.Snapshot != nil && v.Snapshot.Status.Terminal():
		return "ended"
	case v.DisplayEnded:
		return "ending"
	}
	d := v.Remaining().Round(time.Second)
	h := int(d / time.Hour)
	m := int(d/time.Minute) % 60
	sec := int(d/time.Second) % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d left", h, m, sec)
	}
	return fmt.Sprintf("%02d:%02d left", m, sec)
}
