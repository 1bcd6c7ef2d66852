package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"deal-radar/internal/storage"
)

// Export renders one item's observed price history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	p, err := store.EnsurePlatform(ctx, string(opts.Platform), opts.Platform.Name())
	if err != nil {
		return err
	}
	item, err := store.GetItem(ctx, p.ID, opts.ExternalID)
	if err != nil {
		return err
	}
	if item == nil {
		return fmt.Errorf("item %s is not tracked on %s", opts.ExternalID, opts.Platform)
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}
	from := to.Add(-30 * 24 * time.Hour)
	if opts.From != nil {
		from = opts.From.UTC()
	}
	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	snapshots, err := store.ListSnapshotsBetween(ctx, item.ID, from, to)
	if err != nil {
		return err
	}
	if len(snapshots) == 0 {
		a.Logger.Info().Msg("no snapshots found for export window")
		return nil
	}
	a.Logger.Info().Int("snapshots", len(snapshots)).Msg("exporting price history")

	if opts.CSVPath != "" {
		if err := writeSnapshotsCSV(opts.CSVPath, snapshots); err != nil {
			return err
		}
	}
	if opts.PNGPath != "" {
		if err := writeSnapshotsPNG(opts.PNGPath, item.Title, snapshots); err != nil {
			return err
		}
	}
	return nil
}

func writeSnapshotsCSV(path string, snapshots []storage.Snapshot) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"observed_at", "price", "old_price", "discount", "stock", "rating"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, snap := range snapshots {
		record := []string{
			snap.ObservedAt.UTC().Format(time.RFC3339),
			formatPrice(snap.Price),
			formatPrice(snap.OldPrice),
			formatFloat(snap.Discount),
			formatInt(snap.Stock),
			formatFloat(snap.Rating),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeSnapshotsPNG(path, title string, snapshots []storage.Snapshot) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	var (
		x      []time.Time
		prices []float64
	)
	for _, snap := range snapshots {
		if snap.Price == nil {
			continue
		}
		x = append(x, snap.ObservedAt)
		prices = append(prices, snap.Price.InexactFloat64())
	}
	if len(x) < 2 {
		return errors.New("not enough priced snapshots to render a chart")
	}

	graph := chart.Chart{
		Title:  truncateInline(title, 64),
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name: "Price",
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.2f")
			},
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Price",
				XValues: x,
				YValues: prices,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func formatFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%.2f", *v)
}

func formatInt(v *int64) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%d", *v)
}
