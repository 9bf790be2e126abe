package stats

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"text/tabwriter"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/prometheus/common/model"
)

// counters are the server series shown as rows of the report, in order.
var counters = []struct {
	label  string
	metric string
}{
	{"connections", "arena_connections_total"},
	{"sessions", "arena_active_sessions"},
	{"picks", "arena_picks_total"},
	{"ignored picks", "arena_ignored_picks_total"},
	{"exhaustions", "arena_exhaustions_total"},
	{"rate limited", "arena_rate_limited_total"},
	{"evictions", "arena_heartbeat_evictions_total"},
}

// histograms are averaged over the run from their _sum and _count series.
var histograms = []struct {
	label  string
	metric string
}{
	{"sampler draws", "arena_sampler_attempts"},
	{"session rounds", "arena_rounds_per_session"},
}

// sample is one scrape: every series value keyed by metric name, summed over
// label sets. Histograms contribute <name>_sum and <name>_count.
type sample struct {
	at     time.Time
	values map[string]float64
}

// Scraper polls the server's /metrics endpoint during a run so the report
// can show how server-side counters moved.
type Scraper struct {
	url      string
	interval time.Duration
	client   *http.Client

	mu      sync.Mutex
	samples []sample

	stop context.CancelFunc
	done chan struct{}
}

func NewScraper(metricsURL string, interval time.Duration) *Scraper {
	return &Scraper{
		url:      metricsURL,
		interval: interval,
		client:   &http.Client{Timeout: 5 * time.Second},
		done:     make(chan struct{}),
	}
}

// Start records a first sample, then polls every interval until ctx ends
// or Stop is called. A last sample is taken on the way out.
func (s *Scraper) Start(ctx context.Context) {
	ctx, s.stop = context.WithCancel(ctx)
	s.poll(ctx)

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.poll(ctx)
			case <-ctx.Done():
				s.poll(context.Background())
				return
			}
		}
	}()
}

func (s *Scraper) Stop() {
	if s.stop == nil {
		return
	}
	s.stop()
	<-s.done
}

// poll drops failed scrapes; the server may not be listening yet.
func (s *Scraper) poll(ctx context.Context) {
	values, err := s.scrape(ctx)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.samples = append(s.samples, sample{at: time.Now(), values: values})
	s.mu.Unlock()
}

func (s *Scraper) scrape(ctx context.Context) (map[string]float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("scrape %s: %s", s.url, resp.Status)
	}
	return parseExposition(resp.Body)
}

// parseExposition reads the Prometheus text format into per-name totals.
func parseExposition(r io.Reader) (map[string]float64, error) {
	parser := expfmt.NewTextParser(model.LegacyValidation)
	families, err := parser.TextToMetricFamilies(r)
	if err != nil {
		return nil, fmt.Errorf("parse metrics: %w", err)
	}

	values := make(map[string]float64, len(families))
	for name, mf := range families {
		for _, m := range mf.GetMetric() {
			switch mf.GetType() {
			case dto.MetricType_COUNTER:
				values[name] += m.GetCounter().GetValue()
			case dto.MetricType_GAUGE:
				values[name] += m.GetGauge().GetValue()
			case dto.MetricType_HISTOGRAM:
				values[name+"_sum"] += m.GetHistogram().GetSampleSum()
				values[name+"_count"] += float64(m.GetHistogram().GetSampleCount())
			default:
				values[name] += m.GetUntyped().GetValue()
			}
		}
	}
	return values, nil
}

// Report prints start, end, change and high-water mark of each counter,
// followed by histogram averages over the run.
func (s *Scraper) Report(out io.Writer) {
	s.mu.Lock()
	samples := append([]sample(nil), s.samples...)
	s.mu.Unlock()

	if len(samples) == 0 {
		fmt.Fprintln(out, "\n--- Server Metrics (no data collected) ---")
		return
	}
	first, last := samples[0], samples[len(samples)-1]

	fmt.Fprintln(out, "\n--- Server Metrics (Prometheus) ---")
	fmt.Fprintf(out, "  %d scrapes over %s\n\n",
		len(samples), last.at.Sub(first.at).Round(time.Second))

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "  series\tstart\tend\tchange\thigh\t")
	for _, c := range counters {
		high := first.values[c.metric]
		for _, smp := range samples[1:] {
			high = max(high, smp.values[c.metric])
		}
		start, end := first.values[c.metric], last.values[c.metric]
		fmt.Fprintf(tw, "  %s\t%.0f\t%.0f\t%+.0f\t%.0f\t\n", c.label, start, end, end-start, high)
	}
	_ = tw.Flush()

	fmt.Fprintln(out)
	for _, h := range histograms {
		sum := last.values[h.metric+"_sum"] - first.values[h.metric+"_sum"]
		count := last.values[h.metric+"_count"] - first.values[h.metric+"_count"]
		if count <= 0 {
			fmt.Fprintf(out, "  %s: no observations\n", h.label)
			continue
		}
		fmt.Fprintf(out, "  %s: mean %.2f over %.0f\n", h.label, sum/count, count)
	}
}
