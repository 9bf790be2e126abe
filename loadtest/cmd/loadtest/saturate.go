package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tunematch/arena/loadtest/client"
	"github.com/tunematch/arena/loadtest/stats"
)

var saturateOpts struct {
	connections int
	hold        time.Duration
}

var saturateCmd = &cobra.Command{
	Use:   "saturate",
	Short: "Open N idle player connections and hold them",
	Long: `Opens the requested number of connections, ramping up over --ramp, then
holds them open for --hold while watching for drops. Each connection is a
player with a live session, so this finds how many idle sessions a server
carries before it rejects or drops connections.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if saturateOpts.connections < 1 {
			return fmt.Errorf("--connections must be at least 1")
		}
		runSaturate(cmd.Context())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(saturateCmd)
	saturateCmd.Flags().IntVarP(&saturateOpts.connections, "connections", "n", 1000, "Number of connections to open")
	saturateCmd.Flags().DurationVar(&saturateOpts.hold, "hold", 30*time.Second, "Hold duration after all connections are open")
}

// newCollector creates a collector and, when --metrics-url is set, starts
// scraping the server. The returned func stops the scraper.
func newCollector(ctx context.Context) (*stats.Collector, func()) {
	collector := stats.NewCollector()
	if opts.metricsURL == "" {
		return collector, func() {}
	}
	scraper := stats.NewScraper(opts.metricsURL, opts.scrapeInterval)
	collector.SetScraper(scraper)
	scraper.Start(ctx)
	return collector, scraper.Stop
}

// runSaturate implements the connection saturation test.
func runSaturate(parent context.Context) {
	fmt.Printf("Saturate test: %d connections to %s (ramp=%s, hold=%s, concurrency=%d)\n",
		saturateOpts.connections, opts.url, opts.ramp, saturateOpts.hold, opts.concurrency)

	if parent == nil {
		parent = context.Background()
	}
	// Set up signal handling for graceful shutdown.
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector, stopScraper := newCollector(ctx)

	// Slice to track all open connections for cleanup.
	var mu sync.Mutex
	clients := make([]*client.Client, 0, saturateOpts.connections)

	// Track connection drops during the hold phase.
	var dropped atomic.Int64

	// Track whether ramp-up was interrupted so we can skip the hold phase.
	interrupted := false

	// -----------------------------------------------------------------------
	// Ramp-up phase
	// -----------------------------------------------------------------------
	fmt.Println("\n--- Ramp-up phase ---")

	// Calculate the interval between connection launches.
	interval := opts.ramp / time.Duration(saturateOpts.connections)
	if interval <= 0 {
		interval = time.Millisecond
	}

	// Semaphore to bound concurrent connection attempts.
	sem := make(chan struct{}, opts.concurrency)
	var wg sync.WaitGroup

	// Progress reporting: every 1 second during ramp-up.
	progressStop := make(chan struct{})
	var progressWg sync.WaitGroup
	progressWg.Add(1)
	go func() {
		defer progressWg.Done()
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()
		lastCount := 0
		lastTime := time.Now()
		for {
			select {
			case <-ticker.C:
				now := time.Now()
				currentConns := collector.ConnectionCount()
				currentErrs := collector.ErrorCount()
				dt := now.Sub(lastTime).Seconds()
				rate := float64(currentConns-lastCount) / dt
				fmt.Printf("  [ramp] connections: %d/%d  errors: %d  rate: %.1f conn/s\n",
					currentConns, saturateOpts.connections, currentErrs, rate)
				lastCount = currentConns
				lastTime = now
			case <-progressStop:
				return
			}
		}
	}()

	rampStart := time.Now()
	rampTicker := time.NewTicker(interval)

	launched := 0
	for launched < saturateOpts.connections {
		select {
		case <-ctx.Done():
			fmt.Println("\nInterrupted during ramp-up.")
			interrupted = true
			launched = saturateOpts.connections // Break the loop.
		case <-rampTicker.C:
			launched++
			wg.Add(1)
			sem <- struct{}{} // Acquire semaphore slot.

			go func() {
				defer wg.Done()
				defer func() { <-sem }() // Release semaphore slot.

				// Create connection with a per-connection timeout.
				connCtx, connCancel := context.WithTimeout(ctx, 10*time.Second)
				defer connCancel()

				c, err := client.New(connCtx, opts.url)
				if err != nil {
					collector.AddError()
					return
				}

				// Wait for the session handshake to complete.
				if err := c.WaitForSession(connCtx); err != nil {
					collector.AddError()
					c.Close()
					return
				}

				// Record connect latency from client metrics.
				m := c.GetMetrics()
				collector.AddConnect(m.ConnectLatency)

				// Add to the tracked clients slice.
				mu.Lock()
				clients = append(clients, c)
				mu.Unlock()
			}()
		}
	}

	rampTicker.Stop()

	// Wait for all in-flight connection goroutines to finish.
	wg.Wait()

	// Stop the progress reporting goroutine.
	close(progressStop)
	progressWg.Wait()

	rampElapsed := time.Since(rampStart)
	fmt.Printf("\nRamp-up complete: %d/%d connections in %s (%d errors)\n",
		collector.ConnectionCount(), saturateOpts.connections,
		rampElapsed.Round(time.Millisecond), collector.ErrorCount())

	// -----------------------------------------------------------------------
	// Hold phase (skipped if ramp-up was interrupted)
	// -----------------------------------------------------------------------
	if !interrupted {
		fmt.Println("\n--- Hold phase ---")

		mu.Lock()
		initialAlive := len(clients)
		mu.Unlock()
		fmt.Printf("Holding %d connections for %s...\n", initialAlive, saturateOpts.hold)

		holdTimer := time.NewTimer(saturateOpts.hold)
		statusTicker := time.NewTicker(5 * time.Second)

	holdLoop:
		for {
			select {
			case <-ctx.Done():
				fmt.Println("\nInterrupted during hold phase.")
				break holdLoop
			case <-holdTimer.C:
				fmt.Println("\nHold period complete.")
				break holdLoop
			case <-statusTicker.C:
				mu.Lock()
				alive := 0
				for _, c := range clients {
					select {
					case <-c.Done():
					default:
						alive++
					}
				}
				mu.Unlock()
				droppedNow := int64(initialAlive - alive)
				dropped.Store(droppedNow)
				fmt.Printf("  [hold] alive: %d/%d  dropped: %d\n",
					alive, initialAlive, droppedNow)
			}
		}

		holdTimer.Stop()
		statusTicker.Stop()
	}

	// -----------------------------------------------------------------------
	// Cleanup
	// -----------------------------------------------------------------------
	fmt.Println("\n--- Cleanup ---")
	mu.Lock()
	total := len(clients)
	fmt.Printf("Closing %d connections...\n", total)
	for _, c := range clients {
		c.Close()
	}
	mu.Unlock()
	fmt.Println("All connections closed.")

	// -----------------------------------------------------------------------
	// Final report
	// -----------------------------------------------------------------------
	stopScraper()
	if d := dropped.Load(); d > 0 {
		fmt.Printf("\nConnections dropped during hold: %d\n", d)
	}
	collector.Report(os.Stdout)
}
