// Benchmark tool for replaying labelled payment data through TrustScore.
//
// Usage:
//
//	go run ./cmd/benchmark -csv /path/to/payments.csv -url http://localhost:8080
//
// The CSV carries one payment per row with the columns
// tx_hash,from,to,amount,timestamp,block_height,is_fraud. A service (the
// "to" address) is labelled fraudulent when any of its rows has is_fraud=1.
//
// The tool:
//  1. Replays every payment through POST /ingest
//  2. Runs POST /fraud/{address}/evaluate once per service
//  3. Compares "flagged" (any finding) with the service label
//  4. Reports ingestion throughput, precision, recall and F1
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Payment is one CSV row, sent as-is to POST /ingest.
type Payment struct {
	TxHash      string `json:"txHash"`
	From        string `json:"from"`
	To          string `json:"to"`
	Amount      string `json:"amount"`
	Timestamp   int64  `json:"timestamp"`
	BlockHeight int64  `json:"blockHeight"`
	IsFraud     bool   `json:"-"`
}

// EvaluateResponse is the subset of the evaluate response the tool reads.
type EvaluateResponse struct {
	Findings []struct {
		Type     string `json:"type"`
		Severity int    `json:"severity"`
	} `json:"findings"`
}

// IngestStats tracks replay outcomes.
type IngestStats struct {
	Stored     int64
	Duplicates int64
	Rejected   int64
	Errors     int64
	LatencyMs  int64
}

// Confusion is the per-service detection outcome.
type Confusion struct {
	TruePositives  int
	FalsePositives int
	TrueNegatives  int
	FalseNegatives int
	Errors         int
}

type client struct {
	http    *http.Client
	baseURL string
	payment string
}

func main() {
	csvPath := flag.String("csv", "", "Path to labelled payments CSV")
	baseURL := flag.String("url", "http://localhost:8080", "TrustScore base URL")
	limit := flag.Int("limit", 0, "Maximum payments to replay (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent ingest workers")
	payment := flag.String("payment", "benchmark", "Value sent in X-Payment to bypass the free tier")
	verbose := flag.Bool("verbose", false, "Print each service verdict")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/payments.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	c := &client{
		http:    &http.Client{Timeout: 10 * time.Second},
		baseURL: strings.TrimRight(*baseURL, "/"),
		payment: *payment,
	}

	fmt.Println("== TRUSTSCORE BENCHMARK ==")
	fmt.Printf("CSV File:  %s\n", *csvPath)
	fmt.Printf("URL:       %s\n", c.baseURL)
	fmt.Printf("Workers:   %d\n", *workers)
	fmt.Println()

	if err := c.checkHealth(); err != nil {
		fmt.Printf("ERROR: TrustScore not reachable at %s: %v\n", c.baseURL, err)
		os.Exit(1)
	}

	f, err := os.Open(*csvPath)
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
	payments, err := readPayments(f, *limit)
	f.Close()
	if err != nil {
		fmt.Printf("ERROR: failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	labels := labelServices(payments)
	fmt.Printf("Loaded %d payments to %d services\n", len(payments), len(labels))

	start := time.Now()
	stats := c.replay(payments, *workers)
	ingestDuration := time.Since(start)

	confusion := c.evaluate(labels, *verbose)

	printResults(len(payments), stats, ingestDuration, confusion)
}

func (c *client) checkHealth() error {
	resp, err := c.http.Get(c.baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// readPayments parses the CSV by header name. Rows with missing or
// unparseable numeric fields are skipped.
func readPayments(r io.Reader, limit int) ([]Payment, error) {
	reader := csv.NewReader(r)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"tx_hash", "from", "to", "amount", "timestamp"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("missing column %q", required)
		}
	}
	field := func(rec []string, name string) string {
		if i, ok := col[name]; ok && i < len(rec) {
			return strings.TrimSpace(rec[i])
		}
		return ""
	}

	var out []Payment
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			continue
		}

		ts, err := strconv.ParseInt(field(rec, "timestamp"), 10, 64)
		if err != nil {
			continue
		}
		height, _ := strconv.ParseInt(field(rec, "block_height"), 10, 64)
		label := field(rec, "is_fraud")

		out = append(out, Payment{
			TxHash:      field(rec, "tx_hash"),
			From:        field(rec, "from"),
			To:          field(rec, "to"),
			Amount:      field(rec, "amount"),
			Timestamp:   ts,
			BlockHeight: height,
			IsFraud:     label == "1" || strings.EqualFold(label, "true"),
		})

		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// labelServices maps each recipient to its label.
func labelServices(payments []Payment) map[string]bool {
	labels := make(map[string]bool)
	for _, p := range payments {
		key := strings.ToLower(p.To)
		labels[key] = labels[key] || p.IsFraud
	}
	return labels
}

func (c *client) replay(payments []Payment, numWorkers int) *IngestStats {
	stats := &IngestStats{}
	work := make(chan Payment, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range work {
				start := time.Now()
				status, err := c.post("/ingest", p, nil)
				atomic.AddInt64(&stats.LatencyMs, time.Since(start).Milliseconds())

				switch {
				case err != nil:
					atomic.AddInt64(&stats.Errors, 1)
				case status == http.StatusCreated:
					atomic.AddInt64(&stats.Stored, 1)
				case status == http.StatusOK:
					atomic.AddInt64(&stats.Duplicates, 1)
				case status == http.StatusUnprocessableEntity:
					atomic.AddInt64(&stats.Rejected, 1)
				default:
					atomic.AddInt64(&stats.Errors, 1)
				}
			}
		}()
	}

	for _, p := range payments {
		work <- p
	}
	close(work)
	wg.Wait()

	return stats
}

func (c *client) evaluate(labels map[string]bool, verbose bool) Confusion {
	services := make([]string, 0, len(labels))
	for s := range labels {
		services = append(services, s)
	}
	sort.Strings(services)

	var conf Confusion
	for _, svc := range services {
		var resp EvaluateResponse
		status, err := c.post("/fraud/"+svc+"/evaluate", nil, &resp)
		if err != nil || status != http.StatusOK {
			conf.Errors++
			continue
		}

		predicted := len(resp.Findings) > 0
		conf.Record(predicted, labels[svc])

		if verbose {
			types := make([]string, 0, len(resp.Findings))
			for _, f := range resp.Findings {
				types = append(types, fmt.Sprintf("%s(%d)", f.Type, f.Severity))
			}
			fmt.Printf("%s label=%-5v flagged=%-5v %s\n", svc, labels[svc], predicted, strings.Join(types, ","))
		}
	}
	return conf
}

func (c *client) post(path string, body any, dst any) (int, error) {
	var buf io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		buf = bytes.NewReader(data)
	}

	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, buf)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.payment != "" {
		req.Header.Set("X-Payment", c.payment)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if dst != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}

// Record adds one service verdict.
func (c *Confusion) Record(predicted, actual bool) {
	switch {
	case predicted && actual:
		c.TruePositives++
	case predicted && !actual:
		c.FalsePositives++
	case !predicted && !actual:
		c.TrueNegatives++
	default:
		c.FalseNegatives++
	}
}

// Scores returns precision, recall and F1. Undefined ratios are zero.
func (c Confusion) Scores() (precision, recall, f1 float64) {
	if tp, fp := c.TruePositives, c.FalsePositives; tp+fp > 0 {
		precision = float64(tp) / float64(tp+fp)
	}
	if tp, fn := c.TruePositives, c.FalseNegatives; tp+fn > 0 {
		recall = float64(tp) / float64(tp+fn)
	}
	if precision+recall > 0 {
		f1 = 2 * precision * recall / (precision + recall)
	}
	return precision, recall, f1
}

func printResults(total int, s *IngestStats, d time.Duration, c Confusion) {
	fmt.Println("\n== INGESTION ==")
	fmt.Printf("   Payments:    %d\n", total)
	fmt.Printf("   Stored:      %d\n", s.Stored)
	fmt.Printf("   Duplicates:  %d\n", s.Duplicates)
	fmt.Printf("   Rejected:    %d\n", s.Rejected)
	fmt.Printf("   Errors:      %d\n", s.Errors)
	fmt.Printf("   Duration:    %v\n", d.Round(time.Millisecond))
	if total > 0 {
		fmt.Printf("   Avg Latency: %.2f ms\n", float64(s.LatencyMs)/float64(total))
		fmt.Printf("   Throughput:  %.2f events/sec\n", float64(total)/d.Seconds())
	}

	fmt.Println("\n== DETECTION (per service) ==")
	fmt.Println("                    Predicted")
	fmt.Println("                flagged     clean")
	fmt.Printf("   Actual  F   %8d  %8d   (TP, FN)\n", c.TruePositives, c.FalseNegatives)
	fmt.Printf("          NF   %8d  %8d   (FP, TN)\n", c.FalsePositives, c.TrueNegatives)
	if c.Errors > 0 {
		fmt.Printf("   Evaluation errors: %d\n", c.Errors)
	}

	precision, recall, f1 := c.Scores()
	fmt.Printf("\n   Precision:  %.4f\n", precision)
	fmt.Printf("   Recall:     %.4f\n", recall)
	fmt.Printf("   F1-Score:   %.4f\n", f1)
	fmt.Println()
}
