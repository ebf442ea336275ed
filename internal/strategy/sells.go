package strategy

import (
	"fmt"

	"TierTrader/internal/model"
)

// EvaluateSells emits a take-profit decision for every open trade whose
// target has been reached. It is pure; each decision is executed on its own.
func EvaluateSells(open []model.Trade, price float64) []model.SellDecision {
	var out []model.SellDecision
	for _, t := range open {
		if t.Closed || t.TakeProfitPrice <= 0 || price < t.TakeProfitPrice {
			continue
		}
		profit := t.ProfitPct(price)
		out = append(out, model.SellDecision{
			Trade:       t,
			Kind:        model.SellTakeProfit,
			Reason:      fmt.Sprintf("take-profit reached: %.2f EUR (profit %.2f%%)", t.TakeProfitPrice, profit),
			TargetPrice: t.TakeProfitPrice,
			ProfitPct:   profit,
		})
	}
	return out
}

// ForcedSells closes every open trade regardless of its target.
func ForcedSells(open []model.Trade, price float64) []model.SellDecision {
	out := make([]model.SellDecision, 0, len(open))
	for _, t := range open {
		if t.Closed {
			continue
		}
		out = append(out, model.SellDecision{
			Trade:       t,
			Kind:        model.SellForced,
			Reason:      fmt.Sprintf("forced sell at %.2f EUR (profit %.2f%%)", price, t.ProfitPct(price)),
			TargetPrice: price,
			ProfitPct:   t.ProfitPct(price),
		})
	}
	return out
}
