package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/spf13/cobra"
)

var (
	detectSessionEnded bool
	detectAssess       bool
	detectJSON         bool
)

var detectCmd = &cobra.Command{
	Use:   "detect [file]",
	Short: "Classify text for blocker signals",
	Long: `Run the blocker pattern scan over a piece of agent output.

Reads the text from the given file, or from stdin when no file is
given. With --assess, a detected blocker is additionally judged by the
assessment oracle (the Anthropic API when configured, a local
heuristic otherwise).`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var path string
		if len(args) == 1 {
			path = args[0]
		}
		return detectRun(path)
	},
}

func init() {
	detectCmd.Flags().BoolVar(&detectSessionEnded, "session-ended", false, "Treat the text as the tail of an exited session")
	detectCmd.Flags().BoolVar(&detectAssess, "assess", false, "Assess a detected blocker with the oracle")
	detectCmd.Flags().BoolVar(&detectJSON, "json", false, "Emit the result as JSON")
	rootCmd.AddCommand(detectCmd)
}

func detectRun(path string) error {
	var (
		data []byte
		err  error
	)
	if path != "" {
		data, err = os.ReadFile(path)
	} else {
		data, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	d, err := getDetector()
	if err != nil {
		return err
	}

	blocker := d.Detect(string(data), detectSessionEnded)
	if blocker == nil {
		if detectJSON {
			fmt.Fprintln(ui.Out, `{"detected": false}`)
			return nil
		}
		ui.Success("no blocker detected")
		return nil
	}

	out := map[string]any{
		"detected":          true,
		"reason":            blocker.Reason,
		"matched_patterns":  blocker.MatchedPatterns,
		"extracted_context": blocker.ExtractedContext,
	}

	var verdict string
	if detectAssess {
		assessment := getAssessor().AssessBlocker(context.Background(), blocker, nil, sessionStatusLabel())
		out["assessment"] = assessment
		verdict = fmt.Sprintf("false positive (confidence %.2f): %s", assessment.Confidence, assessment.Reasoning)
		if assessment.IsRealBlocker {
			verdict = fmt.Sprintf("real blocker (confidence %.2f): %s", assessment.Confidence, assessment.Reasoning)
		}
	}

	if detectJSON {
		enc := json.NewEncoder(ui.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	ui.Warning("blocker detected: %s", blocker.Reason)
	for _, p := range blocker.MatchedPatterns {
		ui.VerboseLog("matched %s", p)
	}
	if len(blocker.ExtractedContext) > 0 {
		keys := make([]string, 0, len(blocker.ExtractedContext))
		for k := range blocker.ExtractedContext {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(ui.Out, "  %s: %s\n", k, blocker.ExtractedContext[k])
		}
	}
	if verdict != "" {
		ui.Info("assessment: %s", verdict)
	}
	return nil
}

func sessionStatusLabel() string {
	if detectSessionEnded {
		return "exited"
	}
	return "running"
}
