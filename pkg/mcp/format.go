package mcp

import (
	"fmt"
	"strings"

	"github.com/pario-ai/chargeback/pkg/models"
)

func shortKey(key string) string {
	if len(key) > 20 {
		return key[:8] + "..." + key[len(key)-8:]
	}
	return key
}

func formatSummary(rows []models.UsageSummary) string {
	if len(rows) == 0 {
		return "No usage data found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %-15s %8s %8s %10s %10s %10s\n",
		"App Key", "Operation", "Requests", "Streamed", "Prompt", "Completion", "Total")
	b.WriteString(strings.Repeat("-", 87) + "\n")
	for _, r := range rows {
		fmt.Fprintf(&b, "%-20s %-15s %8d %8d %10d %10d %10d\n",
			shortKey(r.AppKey), r.Operation, r.RequestCount, r.StreamCount, r.TotalPrompt, r.TotalCompletion, r.TotalTokens)
	}
	return b.String()
}

func formatRecords(recs []models.StoredUsage) string {
	if len(recs) == 0 {
		return "No usage records found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %-36s %-15s %-6s %8s %10s %8s\n",
		"Recorded", "Token Info ID", "Operation", "Stream", "Prompt", "Completion", "Total")
	b.WriteString(strings.Repeat("-", 111) + "\n")
	for _, r := range recs {
		fmt.Fprintf(&b, "%-20s %-36s %-15s %-6t %8d %10d %8d\n",
			r.RecordedAt.Format("2006-01-02 15:04:05"), r.ID, r.Operation, r.Stream,
			r.PromptTokens, r.CompletionTokens, r.TotalTokens())
	}
	return b.String()
}

func formatBudgetStatus(statuses []models.BudgetStatus) string {
	if len(statuses) == 0 {
		return "No budget policies found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %-15s %-8s %12s %12s %12s %6s\n",
		"App Key", "Operation", "Period", "Max Tokens", "Used", "Remaining", "Usage%")
	b.WriteString(strings.Repeat("-", 90) + "\n")
	for _, s := range statuses {
		op := s.Policy.Operation.String()
		if op == "" {
			op = "*"
		}
		pct := float64(0)
		if s.Policy.MaxTokens > 0 {
			pct = float64(s.Used) / float64(s.Policy.MaxTokens) * 100
		}
		fmt.Fprintf(&b, "%-20s %-15s %-8s %12d %12d %12d %5.1f%%\n",
			shortKey(s.Policy.AppKey), op, s.Policy.Period, s.Policy.MaxTokens, s.Used, s.Remaining, pct)
	}
	return b.String()
}

func formatFailures(records []models.FailedRecord) string {
	if len(records) == 0 {
		return "No failed records."
	}
	var b strings.Builder
	for _, r := range records {
		fmt.Fprintf(&b, "#%d  %s  source=%s batch=%s index=%d\n    %s\n",
			r.ID, r.CreatedAt.Format("2006-01-02 15:04:05"), r.Source, r.BatchID, r.Index, r.Error)
	}
	return b.String()
}

func formatFailureStats(stats []models.FailureStat) string {
	if len(stats) == 0 {
		return "No failed records."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-10s %-8s %8s\n", "Day", "Source", "Failed")
	b.WriteString(strings.Repeat("-", 28) + "\n")
	for _, st := range stats {
		fmt.Fprintf(&b, "%-10s %-8s %8d\n", st.Day, st.Source, st.Count)
	}
	return b.String()
}
