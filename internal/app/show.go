package app

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"indexheat/internal/analytics"
	"indexheat/internal/storage"
)

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
	Sort  string
}

// Show prints the index catalog with current metrics.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	items, err := store.ListIndices(ctx, storage.ListOptions{Limit: opts.Limit, Sort: opts.Sort})
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Fprintln(os.Stdout, "no indices found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Code\tName\tAs Of\tPrice\tPct 1M\tPct 3Y\tPct All\tTemp")

	for _, item := range items {
		m := item.Metric
		if m == nil {
			fmt.Fprintf(writer, "%s\t%s\t-\t-\t-\t-\t-\t-\n", item.Index.Code, item.Index.Name)
			continue
		}

		price := "-"
		if m.CurrentPrice.Valid {
			price = m.CurrentPrice.Decimal.StringFixed(2)
		}
		temp := "-"
		if m.PercentileSinceInception != nil {
			temp = analytics.TemperatureStatus(*m.PercentileSinceInception, a.Config.Percentile.Low, a.Config.Percentile.High)
		}

		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			item.Index.Code,
			item.Index.Name,
			m.AsOfDate.Format("2006-01-02"),
			price,
			formatPercentile(m.Percentile1M),
			formatPercentile(m.Percentile3Y),
			formatPercentile(m.PercentileSinceInception),
			temp,
		)
	}

	writer.Flush()
	return nil
}

func formatPercentile(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *v)
}
