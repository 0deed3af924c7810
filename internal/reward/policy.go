// Package reward maps classification results to deposit rewards.
package reward

import (
	"strings"

	"github.com/zombor/recycle-rewards/internal/vision"
)

// Category identifies what kind of recyclable was recognized
type Category string

const (
	CategoryBottle Category = "bottle"
	CategoryCan    Category = "can"
	CategoryNone   Category = "none"
)

// Reward amounts in cents
const (
	bottleRewardCents int64 = 10
	canRewardCents    int64 = 50
)

// Decision is the reward derived from one classification result
type Decision struct {
	Category Category `json:"category"`
	// Amount in cents
	Amount int64 `json:"amount"`
}

// Decide maps a classification result to a reward decision. Matching is a
// case-insensitive substring check against each label name. Bottles are
// checked before cans on purpose: when an image carries both keyword
// families the bottle reward applies.
func Decide(result *vision.ClassificationResult) Decision {
	if result == nil {
		return Decision{Category: CategoryNone}
	}

	if anyLabelContains(result.Labels, "bottle", "plastic") {
		return Decision{Category: CategoryBottle, Amount: bottleRewardCents}
	}
	if anyLabelContains(result.Labels, "can", "aluminum") {
		return Decision{Category: CategoryCan, Amount: canRewardCents}
	}
	return Decision{Category: CategoryNone}
}

func anyLabelContains(labels []vision.Label, keywords ...string) bool {
	for _, label := range labels {
		name := strings.ToLower(label.Name)
		for _, kw := range keywords {
			if strings.Contains(name, kw) {
				return true
			}
		}
	}
	return false
}
