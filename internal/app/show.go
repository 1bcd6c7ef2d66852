package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
)

// Show prints the most recently seen items for one platform.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	p, err := store.EnsurePlatform(ctx, string(opts.Platform), opts.Platform.Name())
	if err != nil {
		return err
	}

	items, err := store.ListRecentItems(ctx, p.ID, opts.Limit)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Fprintln(os.Stdout, "no items found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "External ID\tTitle\tPrice\tBaseline\tDiscount\tObs\tStable\tLast seen (UTC)")

	for _, item := range items {
		lastSeen := ""
		if item.LastSeenAt != nil {
			lastSeen = item.LastSeenAt.UTC().Format(time.RFC3339)
		}
		discount := ""
		if item.Discount != nil {
			discount = fmt.Sprintf("%.0f%%", *item.Discount)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%d\t%t\t%s\n",
			item.ExternalID,
			truncateInline(item.Title, 48),
			formatPrice(item.CurrentPrice),
			formatPrice(item.BaselinePrice),
			discount,
			item.ObservationCount,
			item.Stable,
			lastSeen,
		)
	}

	writer.Flush()
	return nil
}

func formatPrice(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	return d.StringFixed(2)
}

func truncateInline(v string, max int) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\t", " ")
	if len(cleaned) > max {
		return cleaned[:max-1] + "…"
	}
	return cleaned
}
