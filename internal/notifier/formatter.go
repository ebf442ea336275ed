package notifier

import (
	"fmt"
	"html"
	"sort"
	"strings"

	"TierTrader/internal/model"
)

// FormatCycleReport renders a cycle or admin action result.
func FormatCycleReport(rep *model.CycleReport) string {
	var b strings.Builder

	icon := "✅"
	if !rep.Success {
		icon = "⚠️"
	}
	fmt.Fprintf(&b, "%s <b>TierTrader</b> | %s\n\n", icon, rep.Action)
	if rep.Price > 0 {
		fmt.Fprintf(&b, "BTC: %.2f EUR (drawdown %.2f%%, %d sources", rep.Price, rep.DrawdownPct, rep.SourcesUsed)
		if rep.Fallback {
			b.WriteString(", fallback")
		}
		b.WriteString(")\n")
	}
	if rep.Tier != nil {
		fmt.Fprintf(&b, "Tier: %s | capital %.1f%% | TP %.1f%% | confidence %d (%s)\n",
			html.EscapeString(rep.Tier.Name), rep.Tier.CapitalPct, rep.Tier.TakeProfitPct,
			rep.Tier.Confidence.Overall, rep.Tier.Confidence.Label)
	}

	for _, s := range rep.Sells {
		if s.Success && s.Fill != nil {
			fmt.Fprintf(&b, "🔴 SELL %s: %.8f BTC @ %.2f (PnL %+.2f%%)\n", s.TradeID, s.Fill.Quantity, s.Fill.Price, s.Fill.ProfitPct)
		} else {
			fmt.Fprintf(&b, "❌ SELL %s failed: %s\n", s.TradeID, html.EscapeString(s.Error))
		}
	}
	if o := rep.BuyOutcome; o != nil {
		switch {
		case o.Success && o.Fill != nil:
			fmt.Fprintf(&b, "🟢 BUY %.2f EUR → %.8f BTC @ %.2f\n", o.Fill.Amount, o.Fill.Quantity, o.Fill.Price)
		case o.Skipped:
			fmt.Fprintf(&b, "⏭ BUY skipped: %s\n", html.EscapeString(o.Error))
		default:
			fmt.Fprintf(&b, "❌ BUY failed: %s\n", html.EscapeString(o.Error))
		}
	}

	fmt.Fprintf(&b, "\n%s\n<code>%s</code>", html.EscapeString(rep.Reason), rep.ExecutionID)
	return b.String()
}

// FormatStatus renders the read-only system status.
func FormatStatus(st *model.StatusReport) string {
	var b strings.Builder
	b.WriteString("📦 <b>Status</b>\n\n")
	if st.Price != nil {
		fmt.Fprintf(&b, "BTC: %.2f EUR (drawdown %.2f%%, %d/%d sources)\n",
			st.Price.Price, st.Price.Drawdown(), st.Price.SourcesUsed, st.Price.TotalSources)
	} else {
		fmt.Fprintf(&b, "BTC: unavailable (%s)\n", html.EscapeString(st.PriceError))
	}
	if st.Balances != nil {
		fmt.Fprintf(&b, "Balance: %.2f EUR | %.8f BTC\n", st.Balances.EUR, st.Balances.BTC)
	} else {
		fmt.Fprintf(&b, "Balance: unavailable (%s)\n", html.EscapeString(st.BalanceError))
	}
	fmt.Fprintf(&b, "Open trades: %d | buys today: %d\n", st.OpenTrades, st.BuysToday)
	writeTiers(&b, st.BuysPerTier)
	fmt.Fprintf(&b, "\nUpdated: %s", st.GeneratedAt.Format("2006-01-02 15:04"))
	return b.String()
}

// FormatDailyReport renders one day of trading.
func FormatDailyReport(rep *model.DailyReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📅 <b>Daily report</b> | %s\n\n", rep.Date)
	fmt.Fprintf(&b, "Buys: %d (%.2f EUR)\n", rep.Buys, rep.InvestedTotal)
	fmt.Fprintf(&b, "Sells: %d (realized %+.2f EUR)\n", rep.Sells, rep.RealizedTotal)
	writeTiers(&b, rep.BuysPerTier)

	if len(rep.SourceStats) > 0 {
		b.WriteString("\nSources:\n")
		for _, s := range rep.SourceStats {
			rate := 0.0
			if s.Total > 0 {
				rate = float64(s.Success) / float64(s.Total) * 100
			}
			fmt.Fprintf(&b, "  %s: %.0f%% ok, %.2fs avg\n", s.Source, rate, s.AvgLatency)
		}
	}
	return b.String()
}

func FormatAlert(text string) string {
	return "🚨 <b>ALERT</b>\n\n" + html.EscapeString(text)
}

// Help lists the chat commands.
const Help = "Commands:\n/status - system status\n/report - today's report\n/run - run a cycle now"

func writeTiers(b *strings.Builder, perTier map[string]int) {
	if len(perTier) == 0 {
		return
	}
	names := make([]string, 0, len(perTier))
	for name := range perTier {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(b, "  • %s: %d\n", html.EscapeString(name), perTier[name])
	}
}
