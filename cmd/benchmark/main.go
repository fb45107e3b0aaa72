// Benchmark tool for replaying labeled PaySim data through Kestrel.
//
// Usage:
//
//	go run ./cmd/benchmark -csv /path/to/paysim.csv -url http://localhost:8080
//
// Each row is sent to POST /v1/evaluate with the originator as the user,
// the destination as the merchant and a per-user device. An "alert"
// action counts as a fraud prediction; the confusion matrix, precision,
// recall and latency are reported at the end.
package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// Row is the subset of a PaySim record the benchmark replays.
type Row struct {
	Type     string
	Amount   decimal.Decimal
	NameOrig string
	NameDest string
	IsFraud  bool
}

type evaluateRequest struct {
	UserID     string          `json:"userId"`
	DeviceID   string          `json:"deviceId"`
	MerchantID string          `json:"merchantId"`
	Amount     decimal.Decimal `json:"amount"`
}

type evaluateResponse struct {
	RiskScore int      `json:"riskScore"`
	RiskLevel string   `json:"riskLevel"`
	Action    string   `json:"action"`
	Reasons   []string `json:"reasons"`
}

// Results tracks the confusion matrix and timing.
type Results struct {
	TruePositives  atomic.Int64
	FalsePositives atomic.Int64
	TrueNegatives  atomic.Int64
	FalseNegatives atomic.Int64

	Errors    atomic.Int64
	LatencyMs atomic.Int64
}

func (r *Results) record(predicted, actual bool) {
	switch {
	case predicted && actual:
		r.TruePositives.Add(1)
	case predicted:
		r.FalsePositives.Add(1)
	case actual:
		r.FalseNegatives.Add(1)
	default:
		r.TrueNegatives.Add(1)
	}
}

func (r *Results) total() int64 {
	return r.TruePositives.Load() + r.FalsePositives.Load() + r.TrueNegatives.Load() + r.FalseNegatives.Load()
}

func main() {
	csvPath := flag.String("csv", "", "Path to PaySim CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	limit := flag.Int("limit", 10000, "Maximum transactions to replay (0 = all)")
	workers := flag.Int("workers", 10, "Concurrent requests")
	fraudOnly := flag.Bool("fraud-only", false, "Only replay fraud rows")
	verbose := flag.Bool("verbose", false, "Print each result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/paysim.csv [-url http://localhost:8080]")
		flag.PrintDefaults()
		os.Exit(1)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	if err := checkHealth(client, *baseURL); err != nil {
		fmt.Printf("ERROR: kestrel not reachable at %s: %v\n", *baseURL, err)
		os.Exit(1)
	}

	rows, err := readPaySim(*csvPath, *limit, *fraudOnly)
	if err != nil {
		fmt.Printf("ERROR: failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Loaded %d transactions from %s\n", len(rows), *csvPath)

	start := time.Now()
	res := run(context.Background(), client, *baseURL, rows, *workers, *verbose)
	printResults(res, time.Since(start))
}

func checkHealth(client *http.Client, baseURL string) error {
	resp, err := client.Get(baseURL + "/ready")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("not ready: status %d", resp.StatusCode)
	}
	return nil
}

func readPaySim(path string, limit int, fraudOnly bool) ([]Row, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(name)] = i
	}
	for _, required := range []string{"type", "amount", "nameorig", "namedest", "isfraud"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("missing column %q", required)
		}
	}

	var rows []Row
	for limit <= 0 || len(rows) < limit {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			continue
		}

		amount, err := decimal.NewFromString(record[col["amount"]])
		if err != nil || !amount.IsPositive() {
			continue
		}
		row := Row{
			Type:     record[col["type"]],
			Amount:   amount,
			NameOrig: record[col["nameorig"]],
			NameDest: record[col["namedest"]],
			IsFraud:  record[col["isfraud"]] == "1",
		}
		if fraudOnly && !row.IsFraud {
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func run(ctx context.Context, client *http.Client, baseURL string, rows []Row, workers int, verbose bool) *Results {
	res := &Results{}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))

	for _, row := range rows {
		g.Go(func() error {
			start := time.Now()
			out, err := evaluate(ctx, client, baseURL, row)
			res.LatencyMs.Add(time.Since(start).Milliseconds())
			if err != nil {
				res.Errors.Add(1)
				if verbose {
					fmt.Printf("ERROR %s: %v\n", row.NameOrig, err)
				}
				return nil
			}

			predicted := out.Action == "alert"
			res.record(predicted, row.IsFraud)
			if verbose {
				mark := "ok  "
				if predicted != row.IsFraud {
					mark = "MISS"
				}
				fmt.Printf("%s %-12s %-9s %14s fraud=%-5t score=%3d %s\n",
					mark, row.NameOrig, row.Type, row.Amount.StringFixed(2), row.IsFraud, out.RiskScore, out.RiskLevel)
			}
			return nil
		})
	}
	g.Wait()

	return res
}

func evaluate(ctx context.Context, client *http.Client, baseURL string, row Row) (*evaluateResponse, error) {
	body, err := json.Marshal(evaluateRequest{
		UserID:     row.NameOrig,
		DeviceID:   row.NameOrig + "-dev",
		MerchantID: row.NameDest,
		Amount:     row.Amount,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/evaluate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var out evaluateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

func ratio(num, den int64) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

func printResults(r *Results, duration time.Duration) {
	tp, fp := r.TruePositives.Load(), r.FalsePositives.Load()
	tn, fn := r.TrueNegatives.Load(), r.FalseNegatives.Load()
	total := r.total()

	fmt.Println()
	fmt.Println("CONFUSION MATRIX        alert      no-alert")
	fmt.Printf("   fraud           %8d   %8d\n", tp, fn)
	fmt.Printf("   legitimate      %8d   %8d\n", fp, tn)

	precision := ratio(tp, tp+fp)
	recall := ratio(tp, tp+fn)
	f1 := 0.0
	if precision+recall > 0 {
		f1 = 2 * precision * recall / (precision + recall)
	}

	fmt.Println()
	fmt.Printf("   Precision:   %.4f\n", precision)
	fmt.Printf("   Recall:      %.4f\n", recall)
	fmt.Printf("   F1-Score:    %.4f\n", f1)
	fmt.Printf("   Accuracy:    %.4f\n", ratio(tp+tn, total))
	fmt.Printf("   Errors:      %d\n", r.Errors.Load())

	fmt.Println()
	fmt.Printf("   Duration:    %v\n", duration.Round(time.Millisecond))
	if n := total + r.Errors.Load(); n > 0 {
		fmt.Printf("   Avg Latency: %.2f ms\n", float64(r.LatencyMs.Load())/float64(n))
		fmt.Printf("   Throughput:  %.2f tx/sec\n", float64(n)/duration.Seconds())
	}
	fmt.Println()
}
