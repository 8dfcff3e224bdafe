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

	"indexheat/internal/provider"
)

// ExportOptions hold parameters for exporting one index's fetched history.
type ExportOptions struct {
	Code    string
	CSVPath string
	PNGPath string
}

// Export fetches the price history for one index straight from the
// providers and renders it as CSV and/or a PNG close-price chart. It does
// not touch the database.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.Code == "" {
		return errors.New("--code is required")
	}
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	fetcher := a.newFetcher()
	history, err := fetcher.FetchHistory(ctx, opts.Code, a.Config.Refresh.HistoryYears)
	if err != nil {
		return fmt.Errorf("fetch history for %s: %w", opts.Code, err)
	}

	a.Logger.Info().
		Str("code", opts.Code).
		Str("source", history.Source).
		Int("rows", len(history.Series)).
		Msg("exporting history")

	if opts.CSVPath != "" {
		if err := writeSeriesCSV(opts.CSVPath, history.Series); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeSeriesPNG(opts.PNGPath, opts.Code, history.Series); err != nil {
			return err
		}
	}

	return nil
}

func writeSeriesCSV(path string, series provider.Series) error {
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

	header := []string{"trade_date", "close", "high", "low", "pct_change"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, row := range series {
		pct := ""
		if row.PctChange != nil {
			pct = fmt.Sprintf("%.4f", *row.PctChange)
		}
		record := []string{
			row.TradeDate.Format("2006-01-02"),
			fmt.Sprintf("%.4f", row.Close),
			fmt.Sprintf("%.4f", row.High),
			fmt.Sprintf("%.4f", row.Low),
			pct,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeSeriesPNG(path, code string, series provider.Series) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(series))
	closes := make([]float64, len(series))
	for i, row := range series {
		x[i] = row.TradeDate
		closes[i] = row.Close
	}

	graph := chart.Chart{
		Title:  code,
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeDateValueFormatter,
		},
		YAxis: chart.YAxis{
			Name: "Close",
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Close",
				XValues: x,
				YValues: closes,
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
