package models

// BlockerInfo describes a detected condition where a session cannot proceed
// without outside intervention. Constructed only by the detector; treated as
// immutable by everything downstream.
type BlockerInfo struct {
	Reason           string
	LastMessage      string
	MatchedPatterns  []string
	ExtractedContext map[string]string
}

// BlockerAssessment is the judgment oracle's verdict on a candidate blocker.
type BlockerAssessment struct {
	IsRealBlocker bool    `json:"is_real_blocker"`
	Confidence    float64 `json:"confidence"`
	Reasoning     string  `json:"reasoning"`
	CanAutoHandle bool    `json:"can_auto_handle,omitempty"`
	AutoResponse  string  `json:"auto_response,omitempty"`
}

// InterventionResult is the outcome of a realtime intervention check on a
// single streaming assistant message.
type InterventionResult struct {
	Intervened bool
	Response   string
	Reasoning  string
}
