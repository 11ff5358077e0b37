package constants

// QueueStatus is the lifecycle status stored on queue_items rows.
type QueueStatus string

// Stable values (store these exact strings in DB).
const (
	QueueStatusPending    QueueStatus = "pending"    // registered, waiting for a worker
	QueueStatusProcessing QueueStatus = "processing" // claimed by exactly one worker
	QueueStatusCompleted  QueueStatus = "completed"  // terminal: handed to persistence
	QueueStatusFailed     QueueStatus = "failed"     // terminal failure
)

// IsTerminal reports whether no further transition is allowed from s.
func (s QueueStatus) IsTerminal() bool {
	return s == QueueStatusCompleted || s == QueueStatusFailed
}

// CanTransition reports whether from -> to is a legal forward transition.
func CanTransition(from, to QueueStatus) bool {
	switch from {
	case QueueStatusPending:
		return to == QueueStatusProcessing
	case QueueStatusProcessing:
		return to == QueueStatusCompleted || to == QueueStatusFailed
	default:
		return false
	}
}

// Tier is the discrete confidence bucket.
type Tier string

const (
	TierHigh   Tier = "high"
	TierMedium Tier = "medium"
	TierLow    Tier = "low"
)

// ReviewType tells the review UI how much work a document needs.
type ReviewType string

const (
	ReviewNone  ReviewType = ""
	ReviewQuick ReviewType = "quick"
	ReviewFull  ReviewType = "full"
)

// Action is the routing outcome for a classified document.
type Action string

const (
	ActionAutoAccept  Action = "auto_accept"
	ActionQuickReview Action = "quick_review"
	ActionFullReview  Action = "full_review"
)

// Item status flags.
const (
	FlagOCRFailed     = "ocr_failed"
	FlagUnknownFormat = "unknown_format"
	FlagUnreconciled  = "totals_unreconciled"
)

// Failure reasons recorded on failed items.
const (
	ReasonCancelled   = "cancelled"
	ReasonInterrupted = "interrupted" // claimed by a run that stopped before routing
)
