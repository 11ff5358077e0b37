package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/receipts-intake/constants"
)

// QueueItem represents one physical document moving through the pipeline.
type QueueItem struct {
	ID               uuid.UUID             `json:"id"`
	Filename         string                `json:"filename"`
	FilePath         string                `json:"file_path"`
	CallingAppID     string                `json:"calling_app_id"`
	DocumentTypeHint string                `json:"document_type_hint,omitempty"`
	VendorHint       string                `json:"vendor_hint,omitempty"`
	Attempt          int                   `json:"attempt"`
	Status           constants.QueueStatus `json:"status"`
	DocumentType     *string               `json:"document_type,omitempty"`
	RequiresReview   bool                  `json:"requires_review"`
	ReviewType       constants.ReviewType  `json:"review_type,omitempty"`
	Action           constants.Action      `json:"action,omitempty"`
	Classification   *Classification       `json:"classification,omitempty"`
	Flags            []string              `json:"flags,omitempty"`
	FailureReason    string                `json:"failure_reason,omitempty"`
	CancelRequested  bool                  `json:"cancel_requested"`
	Review           *ReviewMetadata       `json:"review,omitempty"`
	ArrivedAt        time.Time             `json:"arrived_at"`
	StartedAt        *time.Time            `json:"started_at,omitempty"`
	FinishedAt       *time.Time            `json:"finished_at,omitempty"`
	UpdatedAt        time.Time             `json:"updated_at"`
}

// AwaitingReview reports whether the item was routed to a human and not yet finalized.
func (q QueueItem) AwaitingReview() bool {
	return q.Status == constants.QueueStatusProcessing && q.RequiresReview && q.Classification != nil
}

// HasFlag reports whether flag is set on the item.
func (q QueueItem) HasFlag(flag string) bool {
	for _, f := range q.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// Candidate is one ranked template match.
type Candidate struct {
	TemplateID uuid.UUID `json:"template_id"`
	FormatName string    `json:"format_name"`
	Vendor     string    `json:"vendor"`
	Similarity float64   `json:"similarity"`
}

// Classification is the structured result of one pipeline run.
type Classification struct {
	TemplateID    *uuid.UUID       `json:"template_id,omitempty"`
	DocumentType  string           `json:"document_type"`
	Vendor        string           `json:"vendor,omitempty"`
	FormatName    string           `json:"format_name,omitempty"`
	UnknownFormat bool             `json:"unknown_format"`
	Similarity    float64          `json:"similarity"`
	Candidates    []Candidate      `json:"candidates,omitempty"`
	Confidence    ConfidenceResult `json:"confidence"`
	Extraction    ExtractionResult `json:"extraction"`
}

// ReviewMetadata records the human review outcome.
type ReviewMetadata struct {
	Reviewer    string            `json:"reviewer"`
	ReviewedAt  time.Time         `json:"reviewed_at"`
	Corrections map[string]string `json:"corrections,omitempty"`
}

// FinalRecord is the finalized field set handed to persistence.
type FinalRecord struct {
	ItemID       uuid.UUID         `json:"item_id"`
	CallingAppID string            `json:"calling_app_id"`
	FilePath     string            `json:"file_path"`
	TemplateID   *uuid.UUID        `json:"template_id,omitempty"`
	DocumentType string            `json:"document_type"`
	Fields       map[string]string `json:"fields"`
	LineItems    []LineItem        `json:"line_items,omitempty"`
	Confidence   float64           `json:"confidence"`
	Tier         constants.Tier    `json:"tier"`
	Reviewed     bool              `json:"reviewed"`
	Reviewer     string            `json:"reviewer,omitempty"`
	FinalizedAt  time.Time         `json:"finalized_at"`
}
