package service

import (
	"github.com/bank_turns/backend/internal/models"
)

var premiumTiers = map[models.CardTier]bool{
	models.TierPlatinum: true,
	models.TierGold:     true,
}

var priorityPrefix = map[models.Priority]string{
	models.PriorityHigh:   "A",
	models.PriorityMedium: "B",
	models.PriorityLow:    "C",
}

// DerivePriority maps the optional customer and card of a request to a
// priority class. Registered customers without a qualifying card still rank
// above walk-ins.
func DerivePriority(customer *models.CustomerRef, card *models.CardRef) models.Priority {
	if card != nil {
		if premiumTiers[card.Tier] {
			return models.PriorityHigh
		}
		return models.PriorityMedium
	}
	if customer != nil && customer.ID != "" {
		return models.PriorityMedium
	}
	return models.PriorityLow
}

func PrefixFor(p models.Priority) (string, bool) {
	prefix, ok := priorityPrefix[p]
	return prefix, ok
}
