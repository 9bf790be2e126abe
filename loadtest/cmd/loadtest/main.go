// Command loadtest drives an arena server with simulated players.
//
//	loadtest saturate   open N idle connections and hold them
//	loadtest sessions   play N concurrent sessions to exhaustion
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var opts struct {
	url            string
	metricsURL     string
	scrapeInterval time.Duration
	ramp           time.Duration
	concurrency    int
}

var rootCmd = &cobra.Command{
	Use:          "loadtest",
	Short:        "Load test scenarios for the arena server",
	SilenceUsage: true,
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVar(&opts.url, "url", "ws://localhost:8080/ws", "WebSocket server URL")
	f.StringVar(&opts.metricsURL, "metrics-url", "", "Prometheus metrics endpoint URL (empty disables scraping)")
	f.DurationVar(&opts.scrapeInterval, "scrape-interval", 2*time.Second, "Interval between metrics scrapes")
	f.DurationVar(&opts.ramp, "ramp", 10*time.Second, "Ramp-up duration")
	f.IntVar(&opts.concurrency, "concurrency", 50, "Maximum simultaneous connection attempts during ramp-up")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
