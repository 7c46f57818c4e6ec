package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/joescharf/am/internal/health"
	"github.com/joescharf/am/internal/models"
	"github.com/joescharf/am/internal/output"
)

var (
	sessionsLimit int
	eventsLimit   int
)

var sessionsCmd = &cobra.Command{
	Use:     "sessions",
	Aliases: []string{"ls"},
	Short:   "List tracked agent sessions",
	Long: `List tracked sessions with their status and a liveliness score.

The score (0-100) weighs event recency, event rate over the last half
hour, blocker history, and the session's current status.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionsListRun()
	},
}

var sessionsEventsCmd = &cobra.Command{
	Use:   "events <session-id>",
	Short: "Show the recent event log for a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionsEventsRun(args[0])
	},
}

func init() {
	sessionsCmd.Flags().IntVar(&sessionsLimit, "limit", 50, "Max sessions to show")
	sessionsEventsCmd.Flags().IntVar(&eventsLimit, "limit", 30, "Max events to show")
	sessionsCmd.AddCommand(sessionsEventsCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func sessionsListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	bubbles, err := s.ListBubbles(ctx, sessionsLimit)
	if err != nil {
		return err
	}
	if len(bubbles) == 0 {
		ui.Info("No sessions tracked. Use 'am watch' to start monitoring.")
		return nil
	}

	d, err := getDetector()
	if err != nil {
		return err
	}
	scorer := health.NewScorer()

	table := ui.Table([]string{"Project", "Session", "Status", "Health", "Updated"})
	for _, b := range bubbles {
		events, err := s.ListEvents(ctx, b.SessionID, 200)
		if err != nil {
			events = nil
		}

		blockerCount := 0
		for _, ev := range events {
			if ev.Type == models.EventAssistantMessage && d.Detect(ev.Text, false) != nil {
				blockerCount++
			}
		}
		score := scorer.Score(events, blockerCount, b.Status)

		table.Append([]string{
			b.ProjectName,
			shortID(b.SessionID),
			output.StatusColor(string(b.Status)),
			output.HealthColor(score.Total),
			humanAge(b.UpdatedAt),
		})
	}
	return table.Render()
}

func sessionsEventsRun(sessionID string) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	events, err := s.ListEvents(context.Background(), sessionID, eventsLimit)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		ui.Info("No events recorded for session %s.", sessionID)
		return nil
	}

	for _, ev := range events {
		fmt.Fprintf(ui.Out, "%s  %-10s %s\n",
			ev.Timestamp.Local().Format("15:04:05"), ev.Type, truncateLine(ev.Text, 100))
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func truncateLine(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-3]) + "..."
}

func humanAge(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
