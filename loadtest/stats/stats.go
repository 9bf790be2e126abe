// Package stats provides a goroutine-safe metrics collector that aggregates
// performance data from many load test clients and prints a summary report
// with percentile distributions.
package stats

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Collector aggregates metrics from many load test clients. All methods are
// goroutine-safe.
type Collector struct {
	mu               sync.Mutex
	connectLatencies []time.Duration
	pickLatencies    []time.Duration
	rounds           []float64
	reasons          map[string]int
	errors           int
	violations       int
	connections      int
	startTime        time.Time
	scraper          *Scraper
}

// NewCollector creates a Collector with the start time set to now.
func NewCollector() *Collector {
	return &Collector{startTime: time.Now(), reasons: make(map[string]int)}
}

// SetScraper attaches a Prometheus scraper whose figures Report includes.
func (c *Collector) SetScraper(s *Scraper) {
	c.mu.Lock()
	c.scraper = s
	c.mu.Unlock()
}

// AddConnect records a successful connection with the given connect latency.
func (c *Collector) AddConnect(d time.Duration) {
	c.mu.Lock()
	c.connectLatencies = append(c.connectLatencies, d)
	c.connections++
	c.mu.Unlock()
}

// AddPickLatency records the time from sending a pick to seeing the reveal.
func (c *Collector) AddPickLatency(d time.Duration) {
	c.mu.Lock()
	c.pickLatencies = append(c.pickLatencies, d)
	c.mu.Unlock()
}

// AddSession records a session that reached the exhausted state.
func (c *Collector) AddSession(rounds int, reason string) {
	c.mu.Lock()
	c.rounds = append(c.rounds, float64(rounds))
	c.reasons[reason]++
	c.mu.Unlock()
}

// AddError increments the error counter.
func (c *Collector) AddError() {
	c.mu.Lock()
	c.errors++
	c.mu.Unlock()
}

// AddViolation counts a broken session invariant, such as an eliminated
// profile being offered again.
func (c *Collector) AddViolation() {
	c.mu.Lock()
	c.violations++
	c.mu.Unlock()
}

// ConnectionCount returns the number of recorded connections.
func (c *Collector) ConnectionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connections
}

// ErrorCount returns the number of recorded errors.
func (c *Collector) ErrorCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errors
}

// SessionCount returns the number of completed sessions.
func (c *Collector) SessionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.rounds)
}

// ViolationCount returns the number of broken invariants seen.
func (c *Collector) ViolationCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.violations
}

// Report writes a summary of the collected metrics to out.
func (c *Collector) Report(out io.Writer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elapsed := time.Since(c.startTime)

	fmt.Fprintln(out, "\n=== Load Test Results ===")
	fmt.Fprintf(out, "Duration:     %s\n", elapsed.Round(time.Second))
	fmt.Fprintf(out, "Connections:  %d\n", c.connections)
	fmt.Fprintf(out, "Errors:       %d\n", c.errors)
	fmt.Fprintf(out, "Violations:   %d\n", c.violations)

	if c.connections > 0 {
		errorRate := float64(c.errors) / float64(c.connections) * 100
		fmt.Fprintf(out, "Error rate:   %.2f%%\n", errorRate)
	}

	if len(c.connectLatencies) > 0 {
		fmt.Fprintln(out, "\n--- Connect Latency ---")
		printPercentiles(out, c.connectLatencies)
	}

	if len(c.pickLatencies) > 0 {
		fmt.Fprintln(out, "\n--- Pick Latency ---")
		printPercentiles(out, c.pickLatencies)
	}

	if len(c.rounds) > 0 {
		mean, std := stat.MeanStdDev(c.rounds, nil)
		fmt.Fprintln(out, "\n--- Sessions ---")
		fmt.Fprintf(out, "  completed: %d  rounds mean: %.2f  std: %.2f\n", len(c.rounds), mean, std)

		reasons := make([]string, 0, len(c.reasons))
		for r := range c.reasons {
			reasons = append(reasons, r)
		}
		sort.Strings(reasons)
		for _, r := range reasons {
			fmt.Fprintf(out, "  %-20s %d\n", r, c.reasons[r])
		}
	}

	if c.scraper != nil {
		c.scraper.Report(out)
	}

	fmt.Fprintln(out)
}

// Percentiles summarizes a latency sample.
type Percentiles struct {
	Avg, P50, P95, P99, Max time.Duration
	N                       int
}

// Summarize computes Percentiles over durations. The input is not modified.
func Summarize(durations []time.Duration) Percentiles {
	n := len(durations)
	if n == 0 {
		return Percentiles{}
	}

	xs := make([]float64, n)
	for i, d := range durations {
		xs[i] = float64(d)
	}
	sort.Float64s(xs)

	q := func(p float64) time.Duration {
		return time.Duration(stat.Quantile(p, stat.Empirical, xs, nil))
	}
	return Percentiles{
		Avg: time.Duration(stat.Mean(xs, nil)),
		P50: q(0.50),
		P95: q(0.95),
		P99: q(0.99),
		Max: time.Duration(xs[n-1]),
		N:   n,
	}
}

func printPercentiles(out io.Writer, durations []time.Duration) {
	p := Summarize(durations)
	fmt.Fprintf(out, "  avg: %v  p50: %v  p95: %v  p99: %v  max: %v  (n=%d)\n",
		p.Avg.Round(time.Microsecond),
		p.P50.Round(time.Microsecond),
		p.P95.Round(time.Microsecond),
		p.P99.Round(time.Microsecond),
		p.Max.Round(time.Microsecond),
		p.N,
	)
}
