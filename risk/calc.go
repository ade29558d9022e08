package risk

import "math"

// PlannedRisk is the account-currency loss if the stop is hit.
func PlannedRisk(units, entry, stop, quoteToAccountRate float64) float64 {
	return math.Abs(units) * math.Abs(entry-stop) * quoteToAccountRate
}

// RR is the reward-to-risk ratio of a bracket.
func RR(entry, stop, takeProfit float64) float64 {
	risk := math.Abs(entry - stop)
	if risk == 0 {
		return 0
	}
	return math.Abs(takeProfit-entry) / risk
}
