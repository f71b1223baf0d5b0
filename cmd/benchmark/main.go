// Benchmark tool for testing Kestrel against labeled fraud data.
//
// Usage:
//   go run cmd/benchmark/main.go -csv /path/to/labeled.csv -url http://localhost:8080
//
// Expected CSV columns (header required, order free):
//   user_id, amount, currency, merchant_category, is_international,
//   country, latitude, longitude, is_fraud
//
// This tool:
//   1. Reads labeled transaction data
//   2. Sends each transaction to Kestrel for assessment
//   3. Feeds the actual label back via POST /feedback
//   4. Compares Kestrel's verdict (BLOCK/REVIEW = alert) with the labels
//   5. Calculates precision, recall, F1-score, and confusion matrix
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
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
)

// LabeledTransaction represents a row from the labeled dataset.
type LabeledTransaction struct {
	UserID           string
	Amount           string
	Currency         string
	MerchantCategory string
	IsInternational  bool
	Country          string
	Latitude         float64
	Longitude        float64
	IsFraud          bool
}

// AssessRequest is the Kestrel API request format.
type AssessRequest struct {
	UserID           string    `json:"userId"`
	Amount           string    `json:"amount"`
	Currency         string    `json:"currency"`
	MerchantCategory string    `json:"merchantCategory"`
	IsInternational  bool      `json:"isInternational"`
	Location         *Location `json:"location,omitempty"`
}

// Location is the optional geolocation payload.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Country   string  `json:"country"`
}

// AssessResponse is the Kestrel API response format.
type AssessResponse struct {
	AssessmentID string  `json:"assessmentId"`
	TxID         string  `json:"txId"`
	Probability  float64 `json:"probability"`
	Action       string  `json:"action"`
}

// Metrics tracks benchmark results.
type Metrics struct {
	TruePositives  int64 // Fraud assessed as BLOCK/REVIEW
	FalsePositives int64 // Non-fraud assessed as BLOCK/REVIEW
	TrueNegatives  int64 // Non-fraud assessed as MONITOR/APPROVE
	FalseNegatives int64 // Fraud assessed as MONITOR/APPROVE (missed fraud!)

	TotalProcessed int64
	TotalFraud     int64
	TotalNonFraud  int64
	TotalErrors    int64

	ProcessingTimeMs int64
}

func main() {
	// Parse flags
	csvPath := flag.String("csv", "", "Path to labeled transaction CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	limit := flag.Int("limit", 10000, "Maximum transactions to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	fraudOnly := flag.Bool("fraud-only", false, "Only test fraud transactions")
	feedback := flag.Bool("feedback", true, "Send actual labels back via POST /feedback")
	verbose := flag.Bool("verbose", false, "Print each transaction result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/labeled.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║          KESTREL BENCHMARK - Fraud Scoring Accuracy           ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	fmt.Printf("Kestrel URL: %s\n", *baseURL)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Limit:       %d\n", *limit)
	fmt.Printf("Fraud Only:  %v\n", *fraudOnly)
	fmt.Printf("Feedback:    %v\n", *feedback)
	fmt.Println()

	// Check Kestrel is running
	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  go run cmd/kestrel/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Kestrel is healthy")

	// Read labeled data
	fmt.Printf("\nReading labeled data from %s...\n", *csvPath)
	transactions, err := readLabeledCSV(*csvPath, *limit, *fraudOnly)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Loaded %d transactions\n", len(transactions))

	fraudCount := 0
	for _, tx := range transactions {
		if tx.IsFraud {
			fraudCount++
		}
	}
	fmt.Printf("  - Fraud:     %d (%.2f%%)\n", fraudCount, 100*float64(fraudCount)/float64(len(transactions)))
	fmt.Printf("  - Non-fraud: %d (%.2f%%)\n", len(transactions)-fraudCount, 100*float64(len(transactions)-fraudCount)/float64(len(transactions)))

	// Run benchmark
	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(transactions, *baseURL, *workers, *feedback, *verbose)
	duration := time.Since(startTime)

	printResults(metrics, duration)

	if *feedback {
		printModelMetrics(*baseURL)
	}
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

func readLabeledCSV(path string, limit int, fraudOnly bool) ([]LabeledTransaction, error) {
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

	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}

	field := func(record []string, name string) string {
		idx, ok := colIndex[name]
		if !ok || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	var transactions []LabeledTransaction

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}

		isFraud := field(record, "is_fraud") == "1" || strings.EqualFold(field(record, "is_fraud"), "true")
		if fraudOnly && !isFraud {
			continue
		}

		lat, _ := strconv.ParseFloat(field(record, "latitude"), 64)
		lon, _ := strconv.ParseFloat(field(record, "longitude"), 64)
		isIntl := field(record, "is_international") == "1" || strings.EqualFold(field(record, "is_international"), "true")

		currency := field(record, "currency")
		if currency == "" {
			currency = "USD"
		}

		tx := LabeledTransaction{
			UserID:           field(record, "user_id"),
			Amount:           field(record, "amount"),
			Currency:         currency,
			MerchantCategory: field(record, "merchant_category"),
			IsInternational:  isIntl,
			Country:          field(record, "country"),
			Latitude:         lat,
			Longitude:        lon,
			IsFraud:          isFraud,
		}
		if tx.UserID == "" || tx.Amount == "" {
			continue
		}

		transactions = append(transactions, tx)

		if limit > 0 && len(transactions) >= limit {
			break
		}
	}

	return transactions, nil
}

func runBenchmark(transactions []LabeledTransaction, baseURL string, numWorkers int, sendFeedback, verbose bool) *Metrics {
	metrics := &Metrics{}

	work := make(chan LabeledTransaction, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for tx := range work {
				start := time.Now()
				result, err := assessTransaction(client, baseURL, tx)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", tx.UserID, err)
					}
					continue
				}

				if sendFeedback {
					if err := recordFeedback(client, baseURL, result.TxID, tx.IsFraud); err != nil && verbose {
						fmt.Printf("FEEDBACK ERROR: %s -> %v\n", result.TxID, err)
					}
				}

				if tx.IsFraud {
					atomic.AddInt64(&metrics.TotalFraud, 1)
				} else {
					atomic.AddInt64(&metrics.TotalNonFraud, 1)
				}

				predicted := result.Action == "BLOCK" || result.Action == "REVIEW"
				actual := tx.IsFraud

				if predicted && actual {
					atomic.AddInt64(&metrics.TruePositives, 1)
				} else if predicted && !actual {
					atomic.AddInt64(&metrics.FalsePositives, 1)
				} else if !predicted && !actual {
					atomic.AddInt64(&metrics.TrueNegatives, 1)
				} else { // !predicted && actual
					atomic.AddInt64(&metrics.FalseNegatives, 1)
				}

				if verbose {
					status := "✓"
					if (predicted && !actual) || (!predicted && actual) {
						status = "✗"
					}
					fmt.Printf("%s %-12s | Category: %-18s | Amount: %12s | Fraud: %-5v | Kestrel: %-7s (%.2f)\n",
						status,
						tx.UserID,
						tx.MerchantCategory,
						tx.Amount,
						tx.IsFraud,
						result.Action,
						result.Probability,
					)
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

func assessTransaction(client *http.Client, baseURL string, tx LabeledTransaction) (*AssessResponse, error) {
	req := AssessRequest{
		UserID:           tx.UserID,
		Amount:           tx.Amount,
		Currency:         tx.Currency,
		MerchantCategory: tx.MerchantCategory,
		IsInternational:  tx.IsInternational,
	}
	if tx.Country != "" {
		req.Location = &Location{
			Latitude:  tx.Latitude,
			Longitude: tx.Longitude,
			Country:   tx.Country,
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/assess", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result AssessResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

func recordFeedback(client *http.Client, baseURL, txID string, actualFraud bool) error {
	body, err := json.Marshal(map[string]any{
		"transactionId": txID,
		"actualFraud":   actualFraud,
	})
	if err != nil {
		return err
	}

	resp, err := client.Post(baseURL+"/feedback", "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 DATASET STATISTICS\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Total Fraud:      %d\n", m.TotalFraud)
	fmt.Printf("   Total Non-Fraud:  %d\n", m.TotalNonFraud)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\n📈 CONFUSION MATRIX\n")
	fmt.Println("                        Predicted")
	fmt.Println("                   ALERT       CLEAR")
	fmt.Println("              ┌──────────┬──────────┐")
	fmt.Printf("   Actual  F  │ %8d │ %8d │  (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Println("              ├──────────┼──────────┤")
	fmt.Printf("          NF  │ %8d │ %8d │  (FP, TN)\n", m.FalsePositives, m.TrueNegatives)
	fmt.Println("              └──────────┴──────────┘")

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

	fmt.Printf("\n🎯 DETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of alerts, how many were actual fraud)\n", precision)
	fmt.Printf("   Recall:     %.4f  (of fraud, how many did we catch)\n", recall)
	fmt.Printf("   F1-Score:   %.4f  (harmonic mean of precision & recall)\n", f1)
	fmt.Printf("   Accuracy:   %.4f  (overall correct predictions)\n", accuracy)

	fmt.Printf("\n🔍 DETECTION ANALYSIS\n")
	if m.TotalFraud > 0 {
		detectionRate := float64(m.TruePositives) / float64(m.TotalFraud) * 100
		missRate := float64(m.FalseNegatives) / float64(m.TotalFraud) * 100
		fmt.Printf("   Fraud Detected:    %d / %d (%.2f%%)\n", m.TruePositives, m.TotalFraud, detectionRate)
		fmt.Printf("   Fraud Missed:      %d / %d (%.2f%%) ⚠️\n", m.FalseNegatives, m.TotalFraud, missRate)
	}
	if m.TotalNonFraud > 0 {
		falseAlarmRate := float64(m.FalsePositives) / float64(m.TotalNonFraud) * 100
		fmt.Printf("   False Alarms:      %d / %d (%.2f%%)\n", m.FalsePositives, m.TotalNonFraud, falseAlarmRate)
	}

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		tps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f tx/sec\n", tps)
	}

	fmt.Println()
}

// printModelMetrics fetches the server-side tracker snapshot after the run,
// which reflects the feedback labels just submitted.
func printModelMetrics(baseURL string) {
	resp, err := http.Get(baseURL + "/model/metrics")
	if err != nil {
		fmt.Printf("Failed to fetch model metrics: %v\n", err)
		return
	}
	defer resp.Body.Close()

	var metrics struct {
		SampleCount      int     `json:"sampleCount"`
		LabeledCount     int     `json:"labeledCount"`
		Baseline         bool    `json:"baseline"`
		AUCROC           float64 `json:"aucRoc"`
		AUCPR            float64 `json:"aucPr"`
		OptimalThreshold struct {
			Threshold float64 `json:"threshold"`
			Precision float64 `json:"precision"`
			Recall    float64 `json:"recall"`
			F1        float64 `json:"f1"`
		} `json:"optimalThreshold"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&metrics); err != nil {
		fmt.Printf("Failed to parse model metrics: %v\n", err)
		return
	}

	fmt.Printf("📉 SERVER MODEL METRICS\n")
	fmt.Printf("   Samples:    %d (labeled: %d)\n", metrics.SampleCount, metrics.LabeledCount)
	if metrics.Baseline {
		fmt.Println("   Baseline:   true (too few labels for stable estimates)")
	}
	fmt.Printf("   AUC-ROC:    %.4f\n", metrics.AUCROC)
	fmt.Printf("   AUC-PR:     %.4f\n", metrics.AUCPR)
	fmt.Printf("   Optimal F1: %.4f at threshold %.2f (P=%.4f R=%.4f)\n",
		metrics.OptimalThreshold.F1,
		metrics.OptimalThreshold.Threshold,
		metrics.OptimalThreshold.Precision,
		metrics.OptimalThreshold.Recall,
	)
	fmt.Println()
}
