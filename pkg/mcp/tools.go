package mcp

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pario-ai/chargeback/pkg/models"
)

type tool struct {
	def    ToolDefinition
	handle func(ctx context.Context, s *Server, args json.RawMessage) ToolCallResult
}

type toolArgs struct {
	AppKey  string `json:"app_key"`
	Since   string `json:"since"`
	BatchID string `json:"batch_id"`
	Source  string `json:"source"`
	Limit   int    `json:"limit"`
}

func stringProp(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func objectSchema(props map[string]any, required ...string) map[string]any {
	schema := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

var tools = []tool{
	{
		def: ToolDefinition{
			Name:        "chargeback_usage",
			Description: "Token usage per app key and API operation, optionally for one app key.",
			InputSchema: objectSchema(map[string]any{
				"app_key": stringProp("App subscription key (optional, omit for all keys)"),
			}),
		},
		handle: handleUsage,
	},
	{
		def: ToolDefinition{
			Name:        "chargeback_usage_records",
			Description: "Individual usage records of one app key since a date.",
			InputSchema: objectSchema(map[string]any{
				"app_key": stringProp("App subscription key"),
				"since":   stringProp("Start date in YYYY-MM-DD format (optional, defaults to start of month)"),
			}, "app_key"),
		},
		handle: handleUsageRecords,
	},
	{
		def: ToolDefinition{
			Name:        "chargeback_budget",
			Description: "Budget usage against limits for an app key.",
			InputSchema: objectSchema(map[string]any{
				"app_key": stringProp("App subscription key (optional, omit for wildcard policies)"),
			}),
		},
		handle: handleBudget,
	},
	{
		def: ToolDefinition{
			Name:        "chargeback_failures",
			Description: "Batch records that failed metering and have not been replayed.",
			InputSchema: objectSchema(map[string]any{
				"batch_id": stringProp("Filter by batch id (optional)"),
				"source":   stringProp("Filter by source: http, queue, spool, cli or replay (optional)"),
				"since":    stringProp("Start date in YYYY-MM-DD format (optional)"),
			}),
		},
		handle: handleFailures,
	},
	{
		def: ToolDefinition{
			Name:        "chargeback_failure_stats",
			Description: "Failed record counts per source and day.",
			InputSchema: objectSchema(map[string]any{}),
		},
		handle: handleFailureStats,
	},
}

func toolDefinitions() []ToolDefinition {
	defs := make([]ToolDefinition, len(tools))
	for i, t := range tools {
		defs[i] = t.def
	}
	return defs
}

func findTool(name string) (tool, bool) {
	for _, t := range tools {
		if t.def.Name == name {
			return t, true
		}
	}
	return tool{}, false
}

func textResult(text string) ToolCallResult {
	return ToolCallResult{Content: []ContentBlock{{Type: "text", Text: text}}}
}

func errorResult(text string) ToolCallResult {
	return ToolCallResult{Content: []ContentBlock{{Type: "text", Text: text}}, IsError: true}
}

func parseArgs(raw json.RawMessage) (toolArgs, error) {
	var args toolArgs
	if len(raw) == 0 {
		return args, nil
	}
	err := json.Unmarshal(raw, &args)
	return args, err
}

func parseDate(s string, def time.Time) (time.Time, error) {
	if s == "" {
		return def, nil
	}
	return time.Parse("2006-01-02", s)
}

func beginningOfMonth() time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func handleUsage(ctx context.Context, s *Server, raw json.RawMessage) ToolCallResult {
	args, err := parseArgs(raw)
	if err != nil {
		return errorResult("Invalid arguments: " + err.Error())
	}
	rows, err := s.usage.Summary(ctx, args.AppKey)
	if err != nil {
		return errorResult("Error fetching usage: " + err.Error())
	}
	return textResult(formatSummary(rows))
}

func handleUsageRecords(ctx context.Context, s *Server, raw json.RawMessage) ToolCallResult {
	args, err := parseArgs(raw)
	if err != nil {
		return errorResult("Invalid arguments: " + err.Error())
	}
	if args.AppKey == "" {
		return errorResult("app_key is required")
	}
	since, err := parseDate(args.Since, beginningOfMonth())
	if err != nil {
		return errorResult("Invalid since date (use YYYY-MM-DD): " + err.Error())
	}
	recs, err := s.usage.QueryByKey(ctx, args.AppKey, since)
	if err != nil {
		return errorResult("Error fetching usage records: " + err.Error())
	}
	return textResult(formatRecords(recs))
}

func handleBudget(ctx context.Context, s *Server, raw json.RawMessage) ToolCallResult {
	if s.budgets == nil {
		return textResult("Budgets are not configured.")
	}
	args, err := parseArgs(raw)
	if err != nil {
		return errorResult("Invalid arguments: " + err.Error())
	}
	key := args.AppKey
	if key == "" {
		key = "*"
	}
	statuses, err := s.budgets.Status(ctx, key)
	if err != nil {
		return errorResult("Error fetching budget status: " + err.Error())
	}
	return textResult(formatBudgetStatus(statuses))
}

func handleFailures(ctx context.Context, s *Server, raw json.RawMessage) ToolCallResult {
	if s.failures == nil {
		return textResult("The dead-letter store is not configured.")
	}
	args, err := parseArgs(raw)
	if err != nil {
		return errorResult("Invalid arguments: " + err.Error())
	}
	since, err := parseDate(args.Since, time.Time{})
	if err != nil {
		return errorResult("Invalid since date (use YYYY-MM-DD): " + err.Error())
	}
	limit := args.Limit
	if limit <= 0 {
		limit = 50
	}
	records, err := s.failures.Query(ctx, models.FailedQueryOpts{
		BatchID: args.BatchID,
		Source:  args.Source,
		Since:   since,
		Limit:   limit,
	})
	if err != nil {
		return errorResult("Error fetching failed records: " + err.Error())
	}
	return textResult(formatFailures(records))
}

func handleFailureStats(ctx context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	if s.failures == nil {
		return textResult("The dead-letter store is not configured.")
	}
	stats, err := s.failures.Stats(ctx)
	if err != nil {
		return errorResult("Error fetching failure stats: " + err.Error())
	}
	return textResult(formatFailureStats(stats))
}
