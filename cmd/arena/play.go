package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/tunematch/arena/internal/arena"
	"github.com/tunematch/arena/internal/profile"
)

const (
	PromptStartOver = "Start over"
	PromptQuit      = "Quit"
)

const (
	actionLeft  = "left"
	actionRight = "right"
	actionReset = "reset"
	actionQuit  = "quit"
)

var playCmd = &cobra.Command{
	Use:   "play",
	Short: "Play an elimination session in the terminal",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		defer log.Sync()

		r, _, closeDB, err := loadRoster(cmd.Context(), cfg, log)
		if err != nil {
			return err
		}
		defer closeDB()

		snaps := make(chan arena.Snapshot, 16)
		ctrl := arena.NewController(arena.Config{
			Timings:       arena.Timings{Reveal: cfg.Game.Reveal, Transition: cfg.Game.Transition},
			AttemptBudget: cfg.Game.AttemptBudget,
			Observer:      func(s arena.Snapshot) { snaps <- s },
		})
		defer ctrl.Close()

		return play(cmd.OutOrStdout(), r, ctrl, snaps)
	},
}

func init() {
	rootCmd.AddCommand(playCmd)
}

// play drives ctrl from terminal prompts until the user quits.
func play(out io.Writer, r *profile.Roster, ctrl *arena.Controller, snaps <-chan arena.Snapshot) error {
	if err := ctrl.Start(r.IDs()); err != nil && !errors.Is(err, arena.ErrTooFewCandidates) {
		return err
	}

	for snap := range snaps {
		var items, actions []string
		switch snap.State {
		case arena.StateRevealingChoice:
			fmt.Fprintf(out, "\nYou picked %s. %s is out.\n", r.Card(snap.Chosen).Name, r.Card(snap.Eliminated).Name)
			continue
		case arena.StateTransitioning:
			continue
		case arena.StateAwaitingPick:
			left, right := r.Card(snap.Pair.Left), r.Card(snap.Pair.Right)
			fmt.Fprintf(out, "\nRound %d, %d profiles left\n", snap.Round+1, snap.PoolSize)
			fmt.Fprintln(out, "  left:  "+describe(left))
			fmt.Fprintln(out, "  right: "+describe(right))
			items = []string{left.Name, right.Name, PromptStartOver, PromptQuit}
			actions = []string{actionLeft, actionRight, actionReset, actionQuit}
		case arena.StateExhausted:
			fmt.Fprintf(out, "\nNo more pairs (%s) after %d rounds.\n", snap.Reason, snap.Round)
			names := make([]string, 0, len(snap.Remaining))
			for _, id := range snap.Remaining {
				names = append(names, r.Card(id).Name)
			}
			if len(names) > 0 {
				fmt.Fprintf(out, "Still standing: %s\n", strings.Join(names, ", "))
			}
			items = []string{PromptStartOver, PromptQuit}
			actions = []string{actionReset, actionQuit}
		default:
			continue
		}

		prompt := promptui.Select{Label: "Who matches your taste?", Items: items}
		idx, _, err := prompt.Run()
		if err != nil {
			if errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrEOF) {
				return nil
			}
			return err
		}

		switch actions[idx] {
		case actionQuit:
			return nil
		case actionReset:
			err = ctrl.Reset()
		case actionLeft:
			_, err = ctrl.Pick(arena.SideLeft)
		case actionRight:
			_, err = ctrl.Pick(arena.SideRight)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// describe renders a card on one line.
func describe(c profile.Card) string {
	var b strings.Builder
	b.WriteString(c.Name)
	if len(c.Genres) > 0 {
		b.WriteString(" | " + strings.Join(c.Genres, ", "))
	}
	if len(c.Artists) > 0 {
		b.WriteString(" | " + strings.Join(c.Artists, ", "))
	}
	return b.String()
}
