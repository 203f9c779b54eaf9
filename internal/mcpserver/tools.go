package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/joestump/skillwatch/internal/store"
)

// Defaults applied when a tool call omits the argument.
const (
	defaultChangeDays     = 7
	defaultActivityDays   = 7
	defaultActivityLimit  = 50
	defaultValidationRows = 10
)

// --- Tool Definitions ---

func recentChangesTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"recent_changes",
		"List changes detected in upstream documentation and source repositories, newest first.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"days": {
					"type": "integer",
					"description": "Look back this many days (default: 7)"
				},
				"classification": {
					"type": "string",
					"enum": ["BREAKING", "ADDITIVE", "COSMETIC", "ERROR", "NONE"],
					"description": "Only return changes with this classification"
				}
			}
		}`),
	)
}

func skillFreshnessTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"skill_freshness",
		"Show when each skill last had an upstream change detected and when it was last validated.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"skill": {
					"type": "string",
					"description": "Skill name (default: every skill)"
				}
			}
		}`),
	)
}

func skillBudgetTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"skill_budget",
		"Show the estimated token cost of each skill from its latest content measurements.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"skill": {
					"type": "string",
					"description": "Skill name (default: every skill)"
				}
			}
		}`),
	)
}

func skillBudgetTrendTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"skill_budget_trend",
		"Show the daily token cost of a skill over time, oldest first.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"skill": {
					"type": "string",
					"description": "Skill name (default: every skill)"
				}
			}
		}`),
	)
}

func latestWatermarkTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"latest_watermark",
		"Get the most recent Last-Modified/ETag probe of a documentation source.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"source": {
					"type": "string",
					"description": "Source name"
				}
			},
			"required": ["source"]
		}`),
	)
}

func pageFingerprintsTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"page_fingerprints",
		"List the latest content hash of every page of a documentation source.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"source": {
					"type": "string",
					"description": "Source name"
				}
			},
			"required": ["source"]
		}`),
	)
}

func recentValidationsTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"recent_validations",
		"List the latest skill validation results, newest first.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"skill": {
					"type": "string",
					"description": "Skill name (default: every skill)"
				},
				"limit": {
					"type": "integer",
					"description": "Maximum rows (default: 10)"
				}
			}
		}`),
	)
}

func sessionActivityTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"session_activity",
		"List recent editing-session events, newest first.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"session_id": {
					"type": "string",
					"description": "Only events of this session"
				},
				"days": {
					"type": "integer",
					"description": "Look back this many days (default: 7)"
				},
				"limit": {
					"type": "integer",
					"description": "Maximum rows (default: 50)"
				}
			}
		}`),
	)
}

// --- Tool Handlers ---

// queryArgs covers the arguments of every tool. Pointers tell an omitted
// number from zero.
type queryArgs struct {
	Days           *int   `json:"days"`
	Limit          *int   `json:"limit"`
	Classification string `json:"classification"`
	Skill          string `json:"skill"`
	Source         string `json:"source"`
	SessionID      string `json:"session_id"`
}

func bindArgs(req mcp.CallToolRequest) (queryArgs, *mcp.CallToolResult) {
	var args queryArgs
	if req.Params.Arguments == nil {
		return args, nil
	}
	if err := req.BindArguments(&args); err != nil {
		return args, mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err))
	}
	if args.Days != nil && *args.Days < 0 {
		return args, mcp.NewToolResultError("days must not be negative")
	}
	if args.Limit != nil && *args.Limit <= 0 {
		return args, mcp.NewToolResultError("limit must be positive")
	}
	return args, nil
}

func orDefault(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

func (s *Server) handleRecentChanges(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, bad := bindArgs(req)
	if bad != nil {
		return bad, nil
	}
	changes, err := s.store.RecentChanges(orDefault(args.Days, defaultChangeDays), args.Classification)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("recent changes: %v", err)), nil
	}
	return resultJSON(nonNil(changes))
}

func (s *Server) handleSkillFreshness(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, bad := bindArgs(req)
	if bad != nil {
		return bad, nil
	}
	rows, err := s.store.SkillFreshness(args.Skill)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("skill freshness: %v", err)), nil
	}
	return resultJSON(nonNil(rows))
}

func (s *Server) handleSkillBudget(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, bad := bindArgs(req)
	if bad != nil {
		return bad, nil
	}
	rows, err := s.store.SkillBudget(args.Skill)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("skill budget: %v", err)), nil
	}
	return resultJSON(nonNil(rows))
}

func (s *Server) handleSkillBudgetTrend(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, bad := bindArgs(req)
	if bad != nil {
		return bad, nil
	}
	rows, err := s.store.SkillBudgetTrend(args.Skill)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("skill budget trend: %v", err)), nil
	}
	return resultJSON(nonNil(rows))
}

func (s *Server) handleLatestWatermark(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, bad := bindArgs(req)
	if bad != nil {
		return bad, nil
	}
	if args.Source == "" {
		return mcp.NewToolResultError("source is required"), nil
	}
	wm, err := s.store.LatestWatermark(args.Source)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("latest watermark: %v", err)), nil
	}
	return resultJSON(wm)
}

func (s *Server) handlePageFingerprints(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, bad := bindArgs(req)
	if bad != nil {
		return bad, nil
	}
	if args.Source == "" {
		return mcp.NewToolResultError("source is required"), nil
	}
	pages, err := s.store.PageHashes(args.Source)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("page fingerprints: %v", err)), nil
	}
	out := make([]store.PageHash, 0, len(pages))
	for _, p := range pages {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return resultJSON(out)
}

func (s *Server) handleRecentValidations(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, bad := bindArgs(req)
	if bad != nil {
		return bad, nil
	}
	rows, err := s.store.RecentValidations(args.Skill, orDefault(args.Limit, defaultValidationRows))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("recent validations: %v", err)), nil
	}
	return resultJSON(nonNil(rows))
}

func (s *Server) handleSessionActivity(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, bad := bindArgs(req)
	if bad != nil {
		return bad, nil
	}
	rows, err := s.store.SessionActivity(args.SessionID,
		orDefault(args.Days, defaultActivityDays), orDefault(args.Limit, defaultActivityLimit))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("session activity: %v", err)), nil
	}
	return resultJSON(nonNil(rows))
}

func nonNil[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}

// resultJSON marshals v to JSON and returns it as a tool result.
func resultJSON(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
