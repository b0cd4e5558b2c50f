package notifier

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"SweepSentinel/internal/model"
)

const timeLayout = "2006-01-02 15:04 UTC"

func biasIcon(b model.Bias) string {
	if b == model.BiasBullish {
		return "🟢"
	}
	return "🔴"
}

// FormatConfirmation formats a completed sequence into a Telegram message.
func FormatConfirmation(c *model.Confirmation) string {
	seq := c.Sequence
	var b strings.Builder

	b.WriteString(fmt.Sprintf("%s <b>%s confirmation</b> | %s\n\n", biasIcon(seq.Bias), seq.Bias, seq.UpdatedAt.UTC().Format(timeLayout)))

	if sw := c.Sweep; sw != nil {
		b.WriteString(fmt.Sprintf("Sweep: %s swept at %s (%s)\n", sw.Direction, sw.Price, sw.Time.UTC().Format(timeLayout)))
	}
	if lvl := c.Swing; lvl != nil {
		b.WriteString(fmt.Sprintf("Level: %s %s from %s\n", lvl.Resolution, lvl.Price, lvl.Time.UTC().Format(timeLayout)))
	}
	b.WriteString("\n📈 <b>Sequence:</b>\n")
	if seq.Change != nil {
		b.WriteString(fmt.Sprintf("  Change: %s @ %s\n", seq.Change.Price, seq.Change.Time.UTC().Format(timeLayout)))
	}
	if seq.Gap != nil {
		b.WriteString(fmt.Sprintf("  Gap: [%s, %s] formed %s\n", seq.Gap.Low, seq.Gap.High, seq.Gap.FormedAt.UTC().Format(timeLayout)))
	}
	if seq.Fill != nil {
		b.WriteString(fmt.Sprintf("  Fill: %s @ %s\n", seq.Fill.Price, seq.Fill.Time.UTC().Format(timeLayout)))
	}
	if seq.Break != nil {
		b.WriteString(fmt.Sprintf("  Break: %s @ %s\n", seq.Break.Price, seq.Break.Time.UTC().Format(timeLayout)))
	}
	b.WriteString(fmt.Sprintf("\nSequence ID: <code>%s</code>", seq.ID))
	return b.String()
}

func mark(found bool) string {
	if found {
		return "✅"
	}
	return "⏳"
}

// FormatStatus formats one sequence for the /status command.
func FormatStatus(s model.Status) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("🔎 <b>Sequence</b> <code>%s</code>\n\n", s.ID))
	b.WriteString(fmt.Sprintf("Bias: %s %s\n", biasIcon(s.Bias), s.Bias))
	b.WriteString(fmt.Sprintf("Stage: %s\n", s.Stage))
	b.WriteString(fmt.Sprintf("Change %s | Gap %s | Fill %s | Break %s\n",
		mark(s.ChangeFound), mark(s.GapFound), mark(s.GapFilled), mark(s.BreakFound)))
	b.WriteString(fmt.Sprintf("Created: %s\n", s.CreatedAt.UTC().Format(timeLayout)))
	if s.Stage.Terminal() {
		if s.ExpiredReason != "" {
			b.WriteString(fmt.Sprintf("Expired: %s\n", s.ExpiredReason))
		}
	} else {
		b.WriteString(fmt.Sprintf("Expires in: %s\n", s.TimeToExpiry.Truncate(time.Minute)))
	}
	return b.String()
}

// FormatHealth formats the /health summary.
func FormatHealth(h model.Health) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("🩺 <b>Health</b> | %s\n\n", h.CheckedAt.UTC().Format(timeLayout)))
	b.WriteString(fmt.Sprintf("Active sequences: %d\n", h.Active))
	for _, st := range []model.Stage{model.StageAwaitingChange, model.StageAwaitingGap, model.StageAwaitingBreak} {
		b.WriteString(fmt.Sprintf("  %s: %d\n", st, h.ByStage[st]))
	}
	b.WriteString(fmt.Sprintf("Bullish: %d | Bearish: %d\n", h.ByBias[model.BiasBullish], h.ByBias[model.BiasBearish]))
	if h.ActiveSweepID != "" {
		b.WriteString(fmt.Sprintf("Active sweep: <code>%s</code>\n", h.ActiveSweepID))
	} else {
		b.WriteString("Active sweep: none\n")
	}
	if len(h.NearExpiry) > 0 {
		ids := append([]string(nil), h.NearExpiry...)
		sort.Strings(ids)
		b.WriteString(fmt.Sprintf("\n⚠️ Expiring within the hour: %s\n", strings.Join(ids, ", ")))
	}
	return b.String()
}
