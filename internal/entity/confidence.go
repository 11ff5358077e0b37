package entity

import "github.com/joseph-ayodele/receipts-intake/constants"

// SubScores are the four weighted inputs to the composite confidence.
type SubScores struct {
	OCR        float64 `json:"ocr"`
	Extraction float64 `json:"extraction"`
	Pattern    float64 `json:"pattern"`
	Validation float64 `json:"validation"`
}

// ConfidenceResult is the scored outcome for one document.
type ConfidenceResult struct {
	Score     float64        `json:"score"`
	Tier      constants.Tier `json:"tier"`
	Breakdown SubScores      `json:"breakdown"`
	Issues    []string       `json:"issues,omitempty"`
	Capped    string         `json:"capped,omitempty"` // reason a ceiling was applied
}
