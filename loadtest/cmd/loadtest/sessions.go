package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tunematch/arena/loadtest/client"
	"github.com/tunematch/arena/loadtest/stats"
)

var sessionsOpts struct {
	players int
	timeout time.Duration
	resets  int
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Play concurrent sessions until every one is exhausted",
	Long: `Connects --players players over --ramp. Each one picks alternating sides
until the server reports its session exhausted, then resets and plays again
--resets more times. Pick latency is the time from sending a pick until the
reveal arrives. An eliminated profile that shows up again in a later pair is
counted as a violation, and the command fails if any were seen.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if sessionsOpts.players < 1 {
			return fmt.Errorf("--players must be at least 1")
		}
		return runSessions(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
	f := sessionsCmd.Flags()
	f.IntVarP(&sessionsOpts.players, "players", "n", 200, "Number of concurrent players")
	f.DurationVar(&sessionsOpts.timeout, "session-timeout", 5*time.Minute, "Per-player timeout for all of its sessions")
	f.IntVar(&sessionsOpts.resets, "resets", 0, "Extra sessions each player plays after resetting")
}

func runSessions(parent context.Context) error {
	fmt.Printf("Sessions test: %d players to %s (ramp=%s, resets=%d, concurrency=%d)\n",
		sessionsOpts.players, opts.url, opts.ramp, sessionsOpts.resets, opts.concurrency)

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector, stopScraper := newCollector(ctx)

	interval := opts.ramp / time.Duration(sessionsOpts.players)
	if interval <= 0 {
		interval = time.Millisecond
	}

	sem := make(chan struct{}, opts.concurrency)
	var wg sync.WaitGroup

	progressStop := make(chan struct{})
	var progressWg sync.WaitGroup
	progressWg.Add(1)
	go func() {
		defer progressWg.Done()
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				fmt.Printf("  [play] connected: %d  sessions done: %d  errors: %d  violations: %d\n",
					collector.ConnectionCount(), collector.SessionCount(),
					collector.ErrorCount(), collector.ViolationCount())
			case <-progressStop:
				return
			}
		}
	}()

	rampTicker := time.NewTicker(interval)
	start := time.Now()

launch:
	for launched := 0; launched < sessionsOpts.players; launched++ {
		select {
		case <-ctx.Done():
			fmt.Println("\nInterrupted during ramp-up.")
			break launch
		case <-rampTicker.C:
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			playPlayer(ctx, sem, collector)
		}()
	}
	rampTicker.Stop()

	wg.Wait()
	close(progressStop)
	progressWg.Wait()
	stopScraper()

	fmt.Printf("\nAll players finished in %s\n", time.Since(start).Round(time.Millisecond))
	collector.Report(os.Stdout)

	if n := collector.ViolationCount(); n > 0 {
		return fmt.Errorf("%d eliminated profiles were offered again", n)
	}
	return nil
}

// playPlayer connects one player under the connect semaphore and plays
// 1+resets sessions.
func playPlayer(ctx context.Context, sem chan struct{}, collector *stats.Collector) {
	ctx, cancel := context.WithTimeout(ctx, sessionsOpts.timeout)
	defer cancel()

	sem <- struct{}{}
	c, err := client.New(ctx, opts.url)
	if err == nil {
		err = c.WaitForSession(ctx)
	}
	<-sem
	if err != nil {
		collector.AddError()
		if c != nil {
			c.Close()
		}
		return
	}
	defer c.Close()
	collector.AddConnect(c.GetMetrics().ConnectLatency)

	sides := client.Sides()
	for i := 0; i <= sessionsOpts.resets; i++ {
		if i > 0 {
			if _, err := c.Restart(ctx); err != nil {
				collector.AddError()
				return
			}
		}

		res, err := c.Play(ctx, sides)
		for _, d := range res.Latencies {
			collector.AddPickLatency(d)
		}
		for n := 0; n < res.Violations; n++ {
			collector.AddViolation()
		}
		if err != nil {
			collector.AddError()
			return
		}
		collector.AddSession(res.Rounds, res.Reason)
	}
}
