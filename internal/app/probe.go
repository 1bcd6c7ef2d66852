package app

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
)

// Probe fetches one listing straight from the source and prints the
// normalized observation without touching the database. Useful for
// checking what the monitor would see for a given external id.
func (a *App) Probe(ctx context.Context, opts ProbeOptions) error {
	src := a.newSource(opts.Platform)

	observations, err := src.Observe(ctx, opts.Platform, []string{opts.ExternalID})
	if err != nil {
		return err
	}
	if len(observations) == 0 {
		fmt.Fprintln(os.Stdout, "source returned no observation")
		return nil
	}

	obs := observations[0]
	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "External ID\t%s\n", obs.ExternalID)
	fmt.Fprintf(writer, "Title\t%s\n", obs.Title)
	fmt.Fprintf(writer, "URL\t%s\n", obs.URL)
	fmt.Fprintf(writer, "Price\t%s\n", obs.Price.StringFixed(2))
	fmt.Fprintf(writer, "Old price\t%s\n", obs.OldPrice.StringFixed(2))
	fmt.Fprintf(writer, "Discount\t%s\n", formatFloat(obs.Discount))
	fmt.Fprintf(writer, "Stock\t%s\n", formatInt(obs.Stock))
	fmt.Fprintf(writer, "Rating\t%s\n", formatFloat(obs.Rating))
	fmt.Fprintf(writer, "Images\t%d\n", len(obs.ImageURLs))
	fmt.Fprintf(writer, "Complete\t%t\n", obs.Complete())
	if obs.IsFatal() {
		fmt.Fprintf(writer, "Fatal code\t%s\n", obs.FatalCode)
	}
	writer.Flush()
	return nil
}
