// Package routing maps a confidence tier onto a review decision.
package routing

import (
	"fmt"

	"github.com/joseph-ayodele/receipts-intake/constants"
	"github.com/joseph-ayodele/receipts-intake/internal/entity"
)

// Decision is what should happen to a classified item.
type Decision struct {
	Action         constants.Action
	RequiresReview bool
	ReviewType     constants.ReviewType
}

// Finalize reports whether the result goes straight to persistence.
func (d Decision) Finalize() bool { return d.Action == constants.ActionAutoAccept }

// Decide has no side effects. Unknown tiers get a full review.
func Decide(tier constants.Tier) Decision {
	switch tier {
	case constants.TierHigh:
		return Decision{Action: constants.ActionAutoAccept}
	case constants.TierMedium:
		return Decision{Action: constants.ActionQuickReview, RequiresReview: true, ReviewType: constants.ReviewQuick}
	default:
		return Decision{Action: constants.ActionFullReview, RequiresReview: true, ReviewType: constants.ReviewFull}
	}
}

// Apply sets the routing fields of item and nothing else.
func Apply(item *entity.QueueItem, d Decision) {
	item.Action = d.Action
	item.RequiresReview = d.RequiresReview
	item.ReviewType = d.ReviewType
}

func (d Decision) String() string {
	if !d.RequiresReview {
		return string(d.Action)
	}
	return fmt.Sprintf("%s (%s review)", d.Action, d.ReviewType)
}
