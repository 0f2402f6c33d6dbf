package llm

import (
	"encoding/json"
	"fmt"
)

// Fixed response schemas for the structured endpoints. Clients never supply
// schemas of their own; these are the only shapes the API hands back.

// ScopingReply is the structured turn of a goal-scoping conversation.
type ScopingReply struct {
	Reply       string `json:"reply"`
	GoalTitle   string `json:"goal_title"`
	GoalSummary string `json:"goal_summary"`
	ReadyToPlan bool   `json:"ready_to_plan"`
}

// OverviewResult is the first planning step.
type OverviewResult struct {
	Title      string   `json:"title"`
	Summary    string   `json:"summary"`
	Skills     []string `json:"skills"`
	TotalWeeks int      `json:"total_weeks"`
	Milestones []string `json:"milestones"`
}

// BreakdownResult is the second planning step.
type BreakdownResult struct {
	Weeks []BreakdownWeek `json:"weeks"`
}

type BreakdownWeek struct {
	WeekNumber  int      `json:"week_number"`
	Title       string   `json:"title"`
	Objectives  []string `json:"objectives"`
	Concepts    []string `json:"concepts"`
	Deliverable string   `json:"deliverable"`
}

func stringArray() map[string]any {
	return map[string]any{
		"type":  "ARRAY",
		"items": map[string]any{"type": "STRING"},
	}
}

func ScopingReplySchema() map[string]any {
	return map[string]any{
		"type": "OBJECT",
		"properties": map[string]any{
			"reply":         map[string]any{"type": "STRING"},
			"goal_title":    map[string]any{"type": "STRING"},
			"goal_summary":  map[string]any{"type": "STRING"},
			"ready_to_plan": map[string]any{"type": "BOOLEAN"},
		},
		"required": []string{"reply", "ready_to_plan"},
	}
}

func OverviewSchema() map[string]any {
	return map[string]any{
		"type": "OBJECT",
		"properties": map[string]any{
			"title":       map[string]any{"type": "STRING"},
			"summary":     map[string]any{"type": "STRING"},
			"skills":      stringArray(),
			"total_weeks": map[string]any{"type": "INTEGER"},
			"milestones":  stringArray(),
		},
		"required": []string{"title", "summary", "total_weeks"},
	}
}

func BreakdownSchema() map[string]any {
	return map[string]any{
		"type": "OBJECT",
		"properties": map[string]any{
			"weeks": map[string]any{
				"type": "ARRAY",
				"items": map[string]any{
					"type": "OBJECT",
					"properties": map[string]any{
						"week_number": map[string]any{"type": "INTEGER"},
						"title":       map[string]any{"type": "STRING"},
						"objectives":  stringArray(),
						"concepts":    stringArray(),
						"deliverable": map[string]any{"type": "STRING"},
					},
					"required": []string{"week_number", "title", "objectives"},
				},
			},
		},
		"required": []string{"weeks"},
	}
}

// DecodeScopingReply parses a schema-constrained scoping response.
func DecodeScopingReply(raw string) (ScopingReply, error) {
	var reply ScopingReply
	if err := json.Unmarshal([]byte(raw), &reply); err != nil {
		return ScopingReply{}, fmt.Errorf("decode scoping reply: %w", err)
	}
	if reply.Reply == "" {
		return ScopingReply{}, fmt.Errorf("decode scoping reply: empty reply")
	}
	return reply, nil
}

// DecodeOverview parses a schema-constrained overview response.
func DecodeOverview(raw string) (OverviewResult, error) {
	var overview OverviewResult
	if err := json.Unmarshal([]byte(raw), &overview); err != nil {
		return OverviewResult{}, fmt.Errorf("decode overview: %w", err)
	}
	if overview.Title == "" || overview.TotalWeeks <= 0 {
		return OverviewResult{}, fmt.Errorf("decode overview: missing title or total_weeks")
	}
	return overview, nil
}

// DecodeBreakdown parses a schema-constrained breakdown response.
func DecodeBreakdown(raw string) (BreakdownResult, error) {
	var breakdown BreakdownResult
	if err := json.Unmarshal([]byte(raw), &breakdown); err != nil {
		return BreakdownResult{}, fmt.Errorf("decode breakdown: %w", err)
	}
	if len(breakdown.Weeks) == 0 {
		return BreakdownResult{}, fmt.Errorf("decode breakdown: no weeks")
	}
	for i, week := range breakdown.Weeks {
		if week.WeekNumber != i+1 {
			return BreakdownResult{}, fmt.Errorf("decode breakdown: week %d out of order", week.WeekNumber)
		}
		if week.Title == "" {
			return BreakdownResult{}, fmt.Errorf("decode breakdown: week %d missing title", week.WeekNumber)
		}
	}
	return breakdown, nil
}
