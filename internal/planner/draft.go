package planner

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aristath/cowork/internal/scheduler"
)

// draftTask is one task as the planner wrote it. Deps are positions in the
// draft list and never leave this package.
type draftTask struct {
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Deps         []int    `json:"deps"`
	AssigneeRole string   `json:"assigneeRole"`
	ResourceMode string   `json:"resourceMode"`
	Questions    []string `json:"questions"`
}

type draftPlan struct {
	Tasks []draftTask `json:"tasks"`
}

// extractJSON returns the text between the first '{' and the last '}'.
func extractJSON(text string) (string, error) {
	start := strings.Index(text, "{")
	if start < 0 {
		return "", fmt.Errorf("%w: planner output did not contain a JSON object", scheduler.ErrAIClient)
	}
	end := strings.LastIndex(text, "}")
	if end < start {
		return "", fmt.Errorf("%w: planner output did not contain a JSON object end", scheduler.ErrAIClient)
	}
	return text[start : end+1], nil
}

// parseDraft decodes and checks the planner payload.
func parseDraft(text string) (draftPlan, error) {
	raw, err := extractJSON(text)
	if err != nil {
		return draftPlan{}, err
	}

	var plan draftPlan
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		return draftPlan{}, fmt.Errorf("%w: failed to parse plan JSON: %v", scheduler.ErrAIClient, err)
	}
	if len(plan.Tasks) == 0 {
		return draftPlan{}, fmt.Errorf("%w: planner returned empty tasks list", scheduler.ErrAIClient)
	}

	for i, t := range plan.Tasks {
		if strings.TrimSpace(t.Title) == "" {
			return draftPlan{}, fmt.Errorf("%w: task %d has no title", scheduler.ErrAIClient, i)
		}
		for _, dep := range t.Deps {
			switch {
			case dep < 0 || dep >= len(plan.Tasks):
				return draftPlan{}, fmt.Errorf("%w: task %d depends on index %d outside 0..%d", scheduler.ErrAIClient, i, dep, len(plan.Tasks)-1)
			case dep == i:
				return draftPlan{}, fmt.Errorf("%w: task %d depends on itself", scheduler.ErrAIClient, i)
			}
		}
	}
	return plan, nil
}
