package summary

import (
	"fmt"
	"strings"
	"time"

	"github.com/bnema/gmail-fleet/internal/domain"
	"github.com/charmbracelet/lipgloss"
)

type RenderOptions struct {
	// Verbose adds per-account failure detail under each entry.
	Verbose bool
}

func renderView(summary domain.RunSummary, opts RenderOptions, s styles) string {
	lines := []string{
		s.title.Render("Account Run Summary"),
		s.header.Render(headerLine(summary)),
	}

	if len(summary.Results) == 0 {
		lines = append(lines, s.empty.Render("No accounts were processed."))
		return lipgloss.JoinVertical(lipgloss.Left, lines...)
	}

	for _, result := range summary.Results {
		lines = append(lines, s.section.Render(renderResult(result, opts, s)))
	}

	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func headerLine(summary domain.RunSummary) string {
	elapsed := summary.FinishedAt.Sub(summary.StartedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	return fmt.Sprintf("accounts: %d  completed: %d  failed: %d  elapsed: %s",
		summary.Total, summary.Completed, summary.Failed, formatElapsed(elapsed))
}

func renderResult(result domain.AccountResult, opts RenderOptions, s styles) string {
	parts := []string{
		lipgloss.JoinHorizontal(
			lipgloss.Top,
			outcomeBadge(result, s),
			" ",
			s.account.Render(string(result.AccountID)),
			annotations(result, s),
		),
	}

	if opts.Verbose {
		if result.Err != nil {
			parts = append(parts, s.detail.Render("  error: "+result.Err.Error()))
		}
		for _, action := range result.FailedActions {
			parts = append(parts, s.detail.Render("  action failed: "+string(action)))
		}
	}

	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func outcomeBadge(result domain.AccountResult, s styles) string {
	if result.Outcome == domain.OutcomeCompleted {
		return s.completed.Render("ok ")
	}
	return s.failed.Render("FAIL")
}

func annotations(result domain.AccountResult, s styles) string {
	var notes []string
	if len(result.FailedActions) > 0 {
		notes = append(notes, fmt.Sprintf("%d action(s) failed", len(result.FailedActions)))
	}
	if result.KeptOpen {
		notes = append(notes, "browser kept open")
	}
	if len(notes) == 0 {
		return ""
	}
	return " " + s.warning.Render("["+strings.Join(notes, ", ")+"]")
}

func formatElapsed(d time.Duration) string {
	if d >= time.Minute {
		return d.Round(time.Second).String()
	}
	return d.Round(10 * time.Millisecond).String()
}
