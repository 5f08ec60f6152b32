// Benchmark tool for load testing Payguard payout scoring.
//
// Usage:
//
//	go run ./cmd/benchmark -url http://localhost:8080 -traders 200 -suspicious 0.2
//
// This tool:
//  1. Seeds legitimate traders with balanced trade histories via POST /trades
//  2. Seeds suspicious traders that deposit, barely trade and cash out
//  3. Fires one payout request per trader via POST /payouts
//  4. Reports latency percentiles, the decision mix and detection metrics
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Trade is the POST /trades request body.
type Trade struct {
	TraderID   string    `json:"trader_id"`
	Symbol     string    `json:"symbol"`
	Type       string    `json:"type"`
	TotalValue float64   `json:"total_value"`
	DeviceID   string    `json:"device_id"`
	IP         string    `json:"ip"`
	Country    string    `json:"country"`
	Timestamp  time.Time `json:"timestamp"`
}

// PayoutRequest is the POST /payouts request body.
type PayoutRequest struct {
	TraderID       string  `json:"trader_id"`
	Amount         float64 `json:"amount"`
	DeviceID       string  `json:"device_id"`
	IP             string  `json:"ip"`
	Country        string  `json:"country"`
	IsNewDevice    bool    `json:"is_new_device"`
	VPNDetected    bool    `json:"vpn_detected"`
	AccountAgeDays int     `json:"account_age_days"`
	DepositAmount  float64 `json:"deposit_amount"`
}

// PayoutResponse is the subset of the payout we read back.
type PayoutResponse struct {
	ID         string `json:"payout_id"`
	Status     string `json:"status"`
	Assessment struct {
		Score    float64 `json:"score"`
		Decision string  `json:"decision"`
	} `json:"assessment"`
}

type trader struct {
	id         string
	suspicious bool
	trades     []Trade
	payout     PayoutRequest
}

// Metrics tracks benchmark results
type Metrics struct {
	TruePositives  int64 // Suspicious trader held (blocked or review)
	FalsePositives int64 // Legitimate trader held
	TrueNegatives  int64 // Legitimate trader approved
	FalseNegatives int64 // Suspicious trader approved (missed fraud!)

	TotalProcessed int64
	TotalErrors    int64

	mu        sync.Mutex
	latencies []time.Duration
	decisions map[string]int
}

func (m *Metrics) record(d time.Duration, decision string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latencies = append(m.latencies, d)
	m.decisions[decision]++
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "Payguard base URL")
	traders := flag.Int("traders", 200, "Number of traders to simulate")
	suspicious := flag.Float64("suspicious", 0.2, "Share of suspicious traders (0.0-1.0)")
	tradesPer := flag.Int("trades", 12, "Trades seeded per legitimate trader")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	seed := flag.Uint64("seed", 42, "Random seed")
	verbose := flag.Bool("verbose", false, "Print each payout result")
	flag.Parse()

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║             PAYGUARD BENCHMARK - Payout Scoring               ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nPayguard URL: %s\n", *baseURL)
	fmt.Printf("Traders:      %d\n", *traders)
	fmt.Printf("Suspicious:   %.2f\n", *suspicious)
	fmt.Printf("Workers:      %d\n", *workers)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Payguard not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Payguard is running:")
		fmt.Println("  go run ./cmd/payguard")
		os.Exit(1)
	}
	fmt.Println("✓ Payguard is healthy")

	rng := rand.New(rand.NewPCG(*seed, *seed^0x9e3779b97f4a7c15))
	population := generate(rng, *traders, *suspicious, *tradesPer)

	client := &http.Client{Timeout: 10 * time.Second}

	fmt.Printf("\nSeeding trades...\n")
	seeded, seedErrs := seedTrades(client, *baseURL, population, *workers)
	fmt.Printf("✓ Seeded %d trades (%d errors)\n", seeded, seedErrs)

	fmt.Printf("\nRunning payouts with %d workers...\n", *workers)
	start := time.Now()
	m := runPayouts(client, *baseURL, population, *workers, *verbose)
	printResults(m, time.Since(start))
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

var symbols = []string{"AAPL", "MSFT", "TSLA", "NVDA", "AMZN", "GOOG"}

func generate(rng *rand.Rand, n int, suspiciousShare float64, tradesPer int) []*trader {
	run := time.Now().UnixNano() % 100000
	now := time.Now().UTC()
	out := make([]*trader, 0, n)

	for i := 0; i < n; i++ {
		t := &trader{
			id:         fmt.Sprintf("BENCH-%05d-%04d", run, i),
			suspicious: rng.Float64() < suspiciousShare,
		}
		device := "dev-" + t.id
		ip := fmt.Sprintf("10.%d.%d.%d", rng.IntN(256), rng.IntN(256), 1+rng.IntN(254))

		if t.suspicious {
			// deposit, one or two token trades, cash out from a new device
			deposit := 20000 + rng.Float64()*80000
			for j := 0; j < 1+rng.IntN(2); j++ {
				t.trades = append(t.trades, Trade{
					TraderID:   t.id,
					Symbol:     symbols[rng.IntN(len(symbols))],
					Type:       "BUY",
					TotalValue: 200 + rng.Float64()*600,
					DeviceID:   device,
					IP:         ip,
					Country:    "US",
					Timestamp:  now.Add(-time.Duration(j+1) * time.Hour),
				})
			}
			t.payout = PayoutRequest{
				TraderID:       t.id,
				Amount:         deposit * 0.95,
				DeviceID:       "dev-new-" + t.id,
				IP:             ip,
				Country:        "US",
				IsNewDevice:    true,
				VPNDetected:    rng.Float64() < 0.5,
				AccountAgeDays: 1 + rng.IntN(5),
				DepositAmount:  deposit,
			}
		} else {
			deposit := 5000 + rng.Float64()*20000
			for j := 0; j < tradesPer; j++ {
				side := "BUY"
				if j%2 == 1 {
					side = "SELL"
				}
				t.trades = append(t.trades, Trade{
					TraderID:   t.id,
					Symbol:     symbols[rng.IntN(len(symbols))],
					Type:       side,
					TotalValue: deposit * (0.3 + rng.Float64()*0.4),
					DeviceID:   device,
					IP:         ip,
					Country:    "US",
					Timestamp:  now.Add(-time.Duration(tradesPer-j) * 24 * time.Hour),
				})
			}
			t.payout = PayoutRequest{
				TraderID:       t.id,
				Amount:         deposit * (0.05 + rng.Float64()*0.15),
				DeviceID:       device,
				IP:             ip,
				Country:        "US",
				AccountAgeDays: 90 + rng.IntN(700),
				DepositAmount:  deposit,
			}
		}
		out = append(out, t)
	}
	return out
}

func seedTrades(client *http.Client, baseURL string, population []*trader, numWorkers int) (int64, int64) {
	var seeded, errs int64
	work := make(chan *trader, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// one trader per worker at a time keeps each history in order
			for t := range work {
				for _, trade := range t.trades {
					if err := post(client, baseURL+"/trades", trade, nil); err != nil {
						atomic.AddInt64(&errs, 1)
						continue
					}
					atomic.AddInt64(&seeded, 1)
				}
			}
		}()
	}

	for _, t := range population {
		work <- t
	}
	close(work)
	wg.Wait()
	return seeded, errs
}

func runPayouts(client *http.Client, baseURL string, population []*trader, numWorkers int, verbose bool) *Metrics {
	m := &Metrics{decisions: make(map[string]int)}
	work := make(chan *trader, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range work {
				start := time.Now()
				var resp PayoutResponse
				err := post(client, baseURL+"/payouts", t.payout, &resp)
				elapsed := time.Since(start)
				atomic.AddInt64(&m.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&m.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", t.id, err)
					}
					continue
				}
				m.record(elapsed, resp.Assessment.Decision)

				held := resp.Assessment.Decision != "APPROVED"
				switch {
				case held && t.suspicious:
					atomic.AddInt64(&m.TruePositives, 1)
				case held && !t.suspicious:
					atomic.AddInt64(&m.FalsePositives, 1)
				case !held && !t.suspicious:
					atomic.AddInt64(&m.TrueNegatives, 1)
				default:
					atomic.AddInt64(&m.FalseNegatives, 1)
				}

				if verbose {
					status := "✓"
					if held != t.suspicious {
						status = "✗"
					}
					fmt.Printf("%s %-20s | Amount: $%10.2f | Suspicious: %-5v | %-13s (%.2f)\n",
						status, t.id, t.payout.Amount, t.suspicious, resp.Assessment.Decision, resp.Assessment.Score)
				}
			}
		}()
	}

	for _, t := range population {
		work <- t
	}
	close(work)
	wg.Wait()
	return m
}

func post(client *http.Client, url string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := client.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 DECISION MIX\n")
	for _, d := range []string{"APPROVED", "MANUAL_REVIEW", "BLOCKED"} {
		n := m.decisions[d]
		share := 0.0
		if len(m.latencies) > 0 {
			share = 100 * float64(n) / float64(len(m.latencies))
		}
		fmt.Printf("   %-14s %6d (%.1f%%)\n", d, n, share)
	}
	fmt.Printf("   Errors:        %6d\n", m.TotalErrors)

	fmt.Printf("\n📈 CONFUSION MATRIX\n")
	fmt.Println("                        Predicted")
	fmt.Println("                    HELD      APPROVED")
	fmt.Println("              ┌──────────┬──────────┐")
	fmt.Printf("   Actual  S  │ %8d │ %8d │  (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Println("              ├──────────┼──────────┤")
	fmt.Printf("           L  │ %8d │ %8d │  (FP, TN)\n", m.FalsePositives, m.TrueNegatives)
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

	fmt.Printf("\n🎯 DETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of held payouts, how many were suspicious)\n", precision)
	fmt.Printf("   Recall:     %.4f  (of suspicious payouts, how many were held)\n", recall)
	fmt.Printf("   F1-Score:   %.4f\n", f1)

	sort.Slice(m.latencies, func(i, j int) bool { return m.latencies[i] < m.latencies[j] })

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	fmt.Printf("   p50 Latency:      %v\n", percentile(m.latencies, 0.50).Round(time.Microsecond))
	fmt.Printf("   p95 Latency:      %v\n", percentile(m.latencies, 0.95).Round(time.Microsecond))
	fmt.Printf("   p99 Latency:      %v\n", percentile(m.latencies, 0.99).Round(time.Microsecond))
	if m.TotalProcessed > 0 {
		fmt.Printf("   Throughput:       %.2f payouts/sec\n", float64(m.TotalProcessed)/duration.Seconds())
	}
	fmt.Println()
}
