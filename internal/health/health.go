package health

import (
	"time"

	"github.com/joescharf/am/internal/models"
)

// SessionScore represents the computed liveliness of an agent session.
type SessionScore struct {
	Total          int
	EventRecency   int // 0-40
	EventRate      int // 0-25
	BlockerBurden  int // 0-20
	StatusStanding int // 0-15
}

// Scorer computes liveliness scores for sessions.
type Scorer struct{}

// NewScorer returns a new session Scorer.
func NewScorer() *Scorer {
	return &Scorer{}
}

// Score computes a liveliness score (0-100) for a session from its event
// stream, recent blocker count, and bubble status.
func (s *Scorer) Score(events []models.SessionEvent, blockerCount int, status models.BubbleStatus) *SessionScore {
	h := &SessionScore{}

	// Event recency (40 pts) - a quiet stream is the primary stall signal.
	var last time.Time
	if len(events) > 0 {
		last = events[len(events)-1].Timestamp
	}
	h.EventRecency = scoreRecency(last, 40)

	// Event rate (25 pts) - sustained output in the last half hour.
	h.EventRate = scoreRate(events, 25)

	// Blocker burden (20 pts) - repeated blockers drag the score down.
	h.BlockerBurden = scoreBlockers(blockerCount, 20)

	// Status standing (15 pts).
	switch status {
	case models.BubbleStatusRunning:
		h.StatusStanding = 15
	case models.BubbleStatusCompleted:
		h.StatusStanding = 12
	case models.BubbleStatusWaiting:
		h.StatusStanding = 8
	case models.BubbleStatusBlocked, models.BubbleStatusFailed:
		h.StatusStanding = 3
	}

	h.Total = h.EventRecency + h.EventRate + h.BlockerBurden + h.StatusStanding
	return h
}

// scoreRecency converts time since the last event to points.
func scoreRecency(t time.Time, maxPoints int) int {
	if t.IsZero() {
		return 0
	}
	mins := int(time.Since(t).Minutes())
	switch {
	case mins <= 1:
		return maxPoints
	case mins <= 5:
		return int(float64(maxPoints) * 0.9)
	case mins <= 15:
		return int(float64(maxPoints) * 0.7)
	case mins <= 60:
		return int(float64(maxPoints) * 0.4)
	case mins <= 240:
		return int(float64(maxPoints) * 0.2)
	default:
		return int(float64(maxPoints) * 0.1)
	}
}

// scoreRate rewards sustained event flow over the trailing 30 minutes.
func scoreRate(events []models.SessionEvent, maxPoints int) int {
	if len(events) == 0 {
		return 0
	}
	cutoff := time.Now().Add(-30 * time.Minute)
	recent := 0
	for _, ev := range events {
		if ev.Timestamp.After(cutoff) {
			recent++
		}
	}
	switch {
	case recent >= 20:
		return maxPoints
	case recent >= 10:
		return int(float64(maxPoints) * 0.8)
	case recent >= 5:
		return int(float64(maxPoints) * 0.6)
	case recent >= 1:
		return int(float64(maxPoints) * 0.4)
	default:
		return int(float64(maxPoints) * 0.2)
	}
}

// scoreBlockers penalizes sessions that keep hitting blockers.
func scoreBlockers(count, maxPoints int) int {
	switch {
	case count == 0:
		return maxPoints
	case count == 1:
		return int(float64(maxPoints) * 0.6)
	case count <= 3:
		return int(float64(maxPoints) * 0.3)
	default:
		return 0
	}
}
