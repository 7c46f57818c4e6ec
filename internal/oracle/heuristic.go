package oracle

import (
	"context"
	"encoding/json"

	"github.com/joescharf/am/internal/detect"
	"github.com/joescharf/am/internal/models"
)

// HeuristicOracle is the deterministic reference fallback used when no API
// oracle is configured. It judges the prompt text itself, cheapest signal
// first: completion phrasing beats everything, list/criteria context is a
// quoted checklist rather than live state, funding is almost never a false
// positive, and anything else is conservatively treated as real.
type HeuristicOracle struct {
	classifier *detect.Classifier
}

// NewHeuristicOracle creates the fallback oracle.
func NewHeuristicOracle() *HeuristicOracle {
	return &HeuristicOracle{classifier: detect.NewClassifier()}
}

// Assess returns a JSON-encoded assessment derived from the prompt text.
// It never fails and never auto-handles.
func (o *HeuristicOracle) Assess(ctx context.Context, system, prompt string) (string, error) {
	a := o.judge(prompt)
	data, err := json.Marshal(a)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (o *HeuristicOracle) judge(text string) models.BlockerAssessment {
	if detect.HasCompletionSignal(text) {
		return models.BlockerAssessment{
			IsRealBlocker: false,
			Confidence:    0.9,
			Reasoning:     "message contains a completion signal",
		}
	}
	if detect.IsListLike(text) {
		return models.BlockerAssessment{
			IsRealBlocker: false,
			Confidence:    0.85,
			Reasoning:     "message is list/criteria content, likely quoted rather than live state",
		}
	}
	for _, m := range o.classifier.Classify(text) {
		if m.Category == detect.CategoryFundingNeeded {
			return models.BlockerAssessment{
				IsRealBlocker: true,
				Confidence:    0.9,
				Reasoning:     "funding request detected",
			}
		}
	}
	return models.BlockerAssessment{
		IsRealBlocker: true,
		Confidence:    0.6,
		Reasoning:     "no counter-signal found, treating as a real blocker",
	}
}
