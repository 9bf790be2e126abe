package main

import (
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"sort"

	"github.com/cheggaaa/pb/v3"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/tunematch/arena/internal/arena"
)

type simConfig struct {
	sessions int
	profiles int // synthetic roster size; 0 uses the loaded roster
	seed     uint64
	budget   int
	progress bool
}

// simReport summarizes a batch of headless sessions.
type simReport struct {
	Sessions  int
	Profiles  int
	Rounds    []float64 // picks per session
	Remaining []float64 // pool size at exhaustion
	Reasons   map[arena.ExhaustionReason]int
}

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Play many sessions with random picks and report how they end",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		defer log.Sync()

		flags := cmd.Flags()
		sc := simConfig{budget: cfg.Game.AttemptBudget, progress: true}
		sc.sessions, _ = flags.GetInt("sessions")
		sc.profiles, _ = flags.GetInt("profiles")
		sc.seed, _ = flags.GetUint64("seed")

		var ids []string
		if sc.profiles > 0 {
			ids = syntheticIDs(sc.profiles)
		} else {
			r, _, closeDB, err := loadRoster(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			closeDB()
			ids = r.IDs()
		}

		report, err := simulate(ids, sc, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		report.print(cmd.OutOrStdout())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(simulateCmd)

	simulateCmd.Flags().IntP("sessions", "n", 10000, "number of sessions to play")
	simulateCmd.Flags().IntP("profiles", "p", 0, "synthetic roster size (default: the loaded roster)")
	simulateCmd.Flags().Uint64("seed", 1, "random seed")
}

func syntheticIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("person%d", i+1)
	}
	return ids
}

// simulate plays sc.sessions sessions over ids, picking a random side each
// round. Sessions run on a manual clock, so reveal and transition cost
// nothing.
func simulate(ids []string, sc simConfig, progress io.Writer) (*simReport, error) {
	if sc.sessions <= 0 {
		return nil, errors.New("sessions must be positive")
	}

	report := &simReport{
		Sessions:  sc.sessions,
		Profiles:  len(ids),
		Rounds:    make([]float64, 0, sc.sessions),
		Remaining: make([]float64, 0, sc.sessions),
		Reasons:   make(map[arena.ExhaustionReason]int),
	}

	if !sc.progress || progress == nil {
		progress = io.Discard
	}
	bar := pb.New(sc.sessions).SetWriter(progress).Start()
	defer bar.Finish()

	timings := arena.DefaultTimings()
	for i := 0; i < sc.sessions; i++ {
		rng := rand.New(rand.NewPCG(sc.seed, uint64(i)))
		clock := &arena.ManualClock{}
		ctrl := arena.NewController(arena.Config{
			Timings:       timings,
			AttemptBudget: sc.budget,
			Scheduler:     clock,
			Rand:          rng,
		})

		if err := ctrl.Start(ids); err != nil && !errors.Is(err, arena.ErrTooFewCandidates) {
			return nil, err
		}

		// Every accepted pick shrinks the pool, so this ends within len(ids) rounds.
		for ctrl.Snapshot().State == arena.StateAwaitingPick {
			side := arena.SideLeft
			if rng.IntN(2) == 1 {
				side = arena.SideRight
			}
			if _, err := ctrl.Pick(side); err != nil {
				return nil, err
			}
			clock.Advance(timings.Reveal + timings.Transition)
		}

		snap := ctrl.Snapshot()
		ctrl.Close()

		report.Rounds = append(report.Rounds, float64(snap.Round))
		report.Remaining = append(report.Remaining, float64(snap.PoolSize))
		report.Reasons[snap.Reason]++
		bar.Increment()
	}
	return report, nil
}

func (r *simReport) print(out io.Writer) {
	p := message.NewPrinter(language.English)

	mean, std := stat.MeanStdDev(r.Rounds, nil)
	sorted := append([]float64(nil), r.Rounds...)
	sort.Float64s(sorted)
	median := stat.Quantile(0.5, stat.Empirical, sorted, nil)

	p.Fprintf(out, "sessions:  %d over %d profiles\n", r.Sessions, r.Profiles)
	p.Fprintf(out, "rounds:    mean %.2f, std %.2f, median %.0f, min %.0f, max %.0f\n",
		mean, std, median, floats.Min(r.Rounds), floats.Max(r.Rounds))
	p.Fprintf(out, "remaining: mean %.2f\n", stat.Mean(r.Remaining, nil))

	reasons := make([]string, 0, len(r.Reasons))
	for reason := range r.Reasons {
		reasons = append(reasons, string(reason))
	}
	sort.Strings(reasons)
	for _, reason := range reasons {
		n := r.Reasons[arena.ExhaustionReason(reason)]
		p.Fprintf(out, "  %-20s %d (%.1f%%)\n", reason, n, 100*float64(n)/float64(r.Sessions))
	}
}
