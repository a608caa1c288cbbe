package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/johnayoung/go-trade-tape/internal/api"
	"github.com/johnayoung/go-trade-tape/internal/collector"
	"github.com/johnayoung/go-trade-tape/internal/exchange"
	"github.com/johnayoung/go-trade-tape/internal/history"
	"github.com/johnayoung/go-trade-tape/internal/models"
)

func outputJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func outputCSV(header []string, rows [][]string) error {
	writer := csv.NewWriter(os.Stdout)
	if err := writer.Write(header); err != nil {
		return err
	}
	if err := writer.WriteAll(rows); err != nil {
		return err
	}
	writer.Flush()
	return writer.Error()
}

func formatTime(secs float64) string {
	if secs == 0 {
		return "-"
	}
	return time.Unix(0, int64(secs*1e9)).UTC().Format("2006-01-02 15:04:05")
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', 10, 64)
}

func printSyncResult(r collector.SyncResult) {
	fmt.Printf("%s: %d rounds, %d fetched, %d added, %d resets, %d trimmed\n",
		r.Market, r.Rounds, r.Fetched, r.Added, r.Resets, r.Trimmed)
	fmt.Printf("  %d trades covering %.2fh, stopped: %s (%v)\n",
		r.Count, r.Duration/3600, r.Stopped, r.Elapsed.Round(time.Millisecond))
}

func outputRate(format, market string, s models.RateSummary) error {
	switch format {
	case "json":
		return outputJSON(map[string]any{"market": market, "rate": s})
	case "csv":
		return outputCSV([]string{"market", "rate", "min", "max", "trades"},
			[][]string{{market, formatFloat(s.Rate), formatFloat(s.Min), formatFloat(s.Max), strconv.Itoa(s.Trades)}})
	default:
		fmt.Printf("%s rate %.8f (min %.8f, max %.8f over %d trades)\n", market, s.Rate, s.Min, s.Max, s.Trades)
		return nil
	}
}

func outputBuckets(format string, buckets []models.Bucket) error {
	switch format {
	case "json":
		return outputJSON(buckets)
	case "csv":
		rows := make([][]string, len(buckets))
		for i, b := range buckets {
			rows[i] = []string{
				formatFloat(b.Start),
				formatFloat(b.Open), formatFloat(b.High), formatFloat(b.Low), formatFloat(b.Close),
				formatFloat(b.AmountBuy), formatFloat(b.TotalBuy),
				formatFloat(b.AmountSell), formatFloat(b.TotalSell),
				strconv.Itoa(b.Count),
			}
		}
		return outputCSV([]string{"start", "open", "high", "low", "close", "amount_buy", "total_buy", "amount_sell", "total_sell", "count"}, rows)
	}

	fmt.Printf("%-20s %12s %12s %12s %12s %14s %14s %6s\n", "START", "OPEN", "HIGH", "LOW", "CLOSE", "BUY", "SELL", "TRADES")
	for _, b := range buckets {
		fmt.Printf("%-20s %12.8f %12.8f %12.8f %12.8f %14.6f %14.6f %6d\n",
			formatTime(b.Start), b.Open, b.High, b.Low, b.Close, b.AmountBuy, b.AmountSell, b.Count)
	}
	fmt.Printf("\n%d buckets\n", len(buckets))
	return nil
}

func outputSeries(format string, times, values []float64) error {
	switch format {
	case "json":
		return outputJSON(map[string][]float64{"times": times, "vema": values})
	case "csv":
		rows := make([][]string, len(times))
		for i := range times {
			rows[i] = []string{formatFloat(times[i]), formatFloat(values[i])}
		}
		return outputCSV([]string{"time", "vema"}, rows)
	}

	for i := range times {
		fmt.Printf("%-20s %.8f\n", formatTime(times[i]), values[i])
	}
	return nil
}

func outputSignals(format string, report history.SignalReport) error {
	switch format {
	case "json":
		return outputJSON(report)
	case "csv":
		rows := make([][]string, len(report.Signals))
		for i, s := range report.Signals {
			rows[i] = []string{formatFloat(s.Time), string(s.Kind), formatFloat(s.Rate)}
		}
		return outputCSV([]string{"time", "kind", "rate"}, rows)
	}

	fmt.Printf("%s: %d buckets, %d signals\n\n", report.Market, report.Buckets, len(report.Signals))
	for _, s := range report.Signals {
		fmt.Printf("  %-20s %-4s %.8f\n", formatTime(s.Time), s.Kind, s.Rate)
	}
	if len(report.Trips) > 0 {
		fmt.Println()
		for _, t := range report.Trips {
			fmt.Printf("  buy %.8f -> sell %.8f  %+.2f%%\n", t.EntryRate, t.ExitRate, t.Return*100)
		}
	}
	fmt.Printf("\n%d round trips, %d wins, compound %+.2f%%\n",
		report.Summary.Trips, report.Summary.Wins, report.Summary.Compound*100)
	return nil
}

func outputMarkets(format string, markets []api.MarketSummary) error {
	if format == "json" {
		return outputJSON(markets)
	}
	if len(markets) == 0 {
		fmt.Println("No stored markets")
		return nil
	}
	fmt.Printf("%-12s %-24s %8s %-20s %-20s %8s\n", "MARKET", "NAME", "TRADES", "FIRST", "LAST", "HOURS")
	for _, m := range markets {
		fmt.Printf("%-12s %-24s %8d %-20s %-20s %8.2f\n",
			m.Market, m.Name, m.Trades, formatTime(m.FirstTime), formatTime(m.LastTime), m.Duration/3600)
	}
	return nil
}

func outputMarketInfo(format string, markets []exchange.MarketInfo) error {
	if format == "json" {
		return outputJSON(markets)
	}
	fmt.Printf("%-12s %-24s %14s %10s %14s %s\n", "MARKET", "NAME", "LAST", "CHANGE", "VOLUME", "")
	for _, m := range markets {
		frozen := ""
		if m.Frozen {
			frozen = "frozen"
		}
		fmt.Printf("%-12s %-24s %14.8f %9.2f%% %14.4f %s\n",
			m.Market, m.Name, m.Last, m.PercentChange*100, m.BaseVolume, frozen)
	}
	return nil
}
