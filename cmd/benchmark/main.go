// Benchmark tool for testing Kestrel against labelled card transactions.
//
// Usage:
//
//	go run ./cmd/benchmark -csv /path/to/creditcard.csv -url http://localhost:8080
//
// The CSV uses the Time, V1..V28, Amount, Class layout. The tool:
//  1. Reads the labelled transactions
//  2. Sends each one to POST /evaluate with its V features as model features
//  3. Compares Kestrel's decision (anything but Approve flags) with the label
//  4. Reports precision, recall, F1, the confusion matrix and the ROC AUC of
//     the returned risk scores
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
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/model"
)

// LabelledTransaction is one row of the dataset.
type LabelledTransaction struct {
	Row      int
	Seconds  float64
	Amount   float64
	Features domain.FeatureVector
	IsFraud  bool
}

// Metrics tracks benchmark results
type Metrics struct {
	TruePositives  int64
	FalsePositives int64
	TrueNegatives  int64
	FalseNegatives int64

	TotalProcessed int64
	TotalFraud     int64
	TotalNonFraud  int64
	TotalErrors    int64
	TotalPartial   int64

	ProcessingTimeMs int64

	mu     sync.Mutex
	labels []bool
	scores []float64
}

func (m *Metrics) record(actual bool, score float64) {
	m.mu.Lock()
	m.labels = append(m.labels, actual)
	m.scores = append(m.scores, score)
	m.mu.Unlock()
}

func main() {
	csvPath := flag.String("csv", "", "Path to the labelled CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	currency := flag.String("currency", "EUR", "Currency attached to every amount")
	limit := flag.Int("limit", 10000, "Maximum transactions to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	fraudOnly := flag.Bool("fraud-only", false, "Only test fraud transactions")
	sampleRate := flag.Float64("sample", 1.0, "Sample rate for non-fraud (0.0-1.0)")
	verbose := flag.Bool("verbose", false, "Print each transaction result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/creditcard.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("KESTREL BENCHMARK - labelled card transactions")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	fmt.Printf("Kestrel URL: %s\n", *baseURL)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Limit:       %d\n", *limit)
	fmt.Printf("Fraud Only:  %v\n", *fraudOnly)
	fmt.Printf("Sample Rate: %.2f\n", *sampleRate)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  go run ./cmd/kestrel")
		os.Exit(1)
	}
	fmt.Println("Kestrel is healthy")

	file, err := os.Open(*csvPath)
	if err != nil {
		fmt.Printf("ERROR: failed to open CSV: %v\n", err)
		os.Exit(1)
	}
	transactions, err := readTransactions(file, *limit, *fraudOnly, *sampleRate)
	file.Close()
	if err != nil {
		fmt.Printf("ERROR: failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	if len(transactions) == 0 {
		fmt.Println("ERROR: no transactions selected")
		os.Exit(1)
	}
	fmt.Printf("Loaded %d transactions\n", len(transactions))

	fraudCount := 0
	for _, tx := range transactions {
		if tx.IsFraud {
			fraudCount++
		}
	}
	fmt.Printf("  - Fraud:     %d (%.2f%%)\n", fraudCount, 100*float64(fraudCount)/float64(len(transactions)))
	fmt.Printf("  - Non-fraud: %d (%.2f%%)\n", len(transactions)-fraudCount, 100*float64(len(transactions)-fraudCount)/float64(len(transactions)))

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(transactions, *baseURL, *currency, *workers, *verbose)
	duration := time.Since(startTime)

	printResults(metrics, duration)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// readTransactions parses the Time, V1..V28, Amount, Class layout. Column
// order does not matter; malformed rows are skipped.
func readTransactions(r io.Reader, limit int, fraudOnly bool, sampleRate float64) ([]LabelledTransaction, error) {
	reader := csv.NewReader(r)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	colIndex := make(map[string]int, len(header))
	for i, col := range header {
		colIndex[strings.ToLower(strings.Trim(col, `" `))] = i
	}
	for _, required := range []string{"amount", "class"} {
		if _, ok := colIndex[required]; !ok {
			return nil, fmt.Errorf("missing column %q", required)
		}
	}

	var transactions []LabelledTransaction
	sampleCounter := 0

	for row := 1; ; row++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			continue
		}

		isFraud := strings.Trim(record[colIndex["class"]], `"`) == "1"

		if fraudOnly && !isFraud {
			continue
		}
		if !isFraud && sampleRate < 1.0 {
			sampleCounter++
			if float64(sampleCounter%100)/100.0 >= sampleRate {
				continue
			}
		}

		amount, err := strconv.ParseFloat(record[colIndex["amount"]], 64)
		if err != nil {
			continue
		}

		tx := LabelledTransaction{
			Row:      row,
			Amount:   amount,
			Features: domain.FeatureVector{"Amount": amount},
			IsFraud:  isFraud,
		}
		if i, ok := colIndex["time"]; ok {
			tx.Seconds, _ = strconv.ParseFloat(record[i], 64)
			tx.Features["Time"] = tx.Seconds
		}
		for v := 1; v <= 28; v++ {
			name := fmt.Sprintf("V%d", v)
			i, ok := colIndex[strings.ToLower(name)]
			if !ok {
				continue
			}
			if f, err := strconv.ParseFloat(record[i], 64); err == nil {
				tx.Features[name] = f
			}
		}

		transactions = append(transactions, tx)

		if limit > 0 && len(transactions) >= limit {
			break
		}
	}

	return transactions, nil
}

// evaluationContext turns a row into the body of POST /evaluate.
func evaluationContext(tx LabelledTransaction, currency string, epoch time.Time) map[string]any {
	return map[string]any{
		"transaction": map[string]any{
			"transactionId": fmt.Sprintf("bench-%d-%s", tx.Row, uuid.New().String()[:8]),
			"amount":        tx.Amount,
			"currency":      currency,
			"timestamp":     epoch.Add(time.Duration(tx.Seconds * float64(time.Second))).Format(time.RFC3339),
		},
		"modelFeatures": tx.Features,
	}
}

func runBenchmark(transactions []LabelledTransaction, baseURL, currency string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}
	epoch := time.Now().UTC().Truncate(24 * time.Hour)

	work := make(chan LabelledTransaction, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for tx := range work {
				start := time.Now()
				result, err := evaluateTransaction(client, baseURL, evaluationContext(tx, currency, epoch))
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: row %d -> %v\n", tx.Row, err)
					}
					continue
				}

				if tx.IsFraud {
					atomic.AddInt64(&metrics.TotalFraud, 1)
				} else {
					atomic.AddInt64(&metrics.TotalNonFraud, 1)
				}
				if result.Status == domain.AnalysisPartialEvaluation {
					atomic.AddInt64(&metrics.TotalPartial, 1)
				}

				predicted := result.Decision != domain.DecisionApprove
				actual := tx.IsFraud
				metrics.record(actual, result.RiskScore)

				switch {
				case predicted && actual:
					atomic.AddInt64(&metrics.TruePositives, 1)
				case predicted && !actual:
					atomic.AddInt64(&metrics.FalsePositives, 1)
				case !predicted && !actual:
					atomic.AddInt64(&metrics.TrueNegatives, 1)
				default:
					atomic.AddInt64(&metrics.FalseNegatives, 1)
				}

				if verbose {
					mark := "ok"
					if predicted != actual {
						mark = "XX"
					}
					fmt.Printf("%s row %-7d | Amount: %10.2f | Fraud: %-5v | %-30s %-8s (%.3f)\n",
						mark, tx.Row, tx.Amount, tx.IsFraud, result.Decision, result.RiskLevel, result.RiskScore)
				}
			}
		}()
	}

	for _, tx := range transactions {
		work <- tx
	}
	close(work)

	wg.Wait()

	return metrics
}

func evaluateTransaction(client *http.Client, baseURL string, body map[string]any) (*domain.AnalysisResult, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/evaluate", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(api.ActorHeader, "benchmark")

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result api.EvaluateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	if result.Result == nil {
		return nil, errors.New("empty result")
	}
	return result.Result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\nBENCHMARK RESULTS")

	fmt.Printf("\nDATASET\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Total Fraud:      %d\n", m.TotalFraud)
	fmt.Printf("   Total Non-Fraud:  %d\n", m.TotalNonFraud)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)
	fmt.Printf("   Partial:          %d\n", m.TotalPartial)

	fmt.Printf("\nCONFUSION MATRIX\n")
	fmt.Println("                        Predicted")
	fmt.Println("                    Flagged   Approved")
	fmt.Printf("   Actual  F      %8d   %8d   (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Printf("          NF      %8d   %8d   (FP, TN)\n", m.FalsePositives, m.TrueNegatives)

	precision := float64(0)
	if m.TruePositives+m.FalsePositives > 0 {
		precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
	}

	recall := float64(0)
	if m.TruePositives+m.FalseNegatives > 0 {
		recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
	}

	f1 := float64(0)
	if precision+recall > 0 {
		f1 = 2 * (precision * recall) / (precision + recall)
	}

	accuracy := float64(0)
	total := m.TruePositives + m.TrueNegatives + m.FalsePositives + m.FalseNegatives
	if total > 0 {
		accuracy = float64(m.TruePositives+m.TrueNegatives) / float64(total)
	}

	fmt.Printf("\nDETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f\n", precision)
	fmt.Printf("   Recall:     %.4f\n", recall)
	fmt.Printf("   F1-Score:   %.4f\n", f1)
	fmt.Printf("   Accuracy:   %.4f\n", accuracy)

	if auc, err := model.AUC(m.labels, m.scores); err != nil {
		fmt.Printf("   ROC AUC:    n/a (%v)\n", err)
	} else {
		fmt.Printf("   ROC AUC:    %.4f\n", auc)
	}

	fmt.Printf("\nPERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		tps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f tx/sec\n", tps)
	}
	fmt.Println()
}
