package qc

import "strings"

// ChecklistItem is a single check a reviewer answers.
type ChecklistItem struct {
	ID       string `json:"id"`
	Prompt   string `json:"prompt"`
	Required bool   `json:"required"`
}

// Checklist is the fixed set of checks for a task category.
type Checklist struct {
	Category string          `json:"category"`
	Items    []ChecklistItem `json:"items"`
}

// checklists holds the fixed per-category checklists. Task types map onto a
// category by substring, falling back to default.
var checklists = map[string]Checklist{
	"audit": {
		Category: "audit",
		Items: []ChecklistItem{
			{ID: "aud-scope", Prompt: "Engagement scope matches the signed letter", Required: true},
			{ID: "aud-evidence", Prompt: "Audit evidence cross-referenced to workpapers", Required: true},
			{ID: "aud-materiality", Prompt: "Materiality thresholds applied and documented", Required: true},
			{ID: "aud-independence", Prompt: "Independence confirmations on file", Required: true},
			{ID: "aud-review-notes", Prompt: "Prior review notes cleared", Required: false},
		},
	},
	"tax": {
		Category: "tax",
		Items: []ChecklistItem{
			{ID: "tax-basis", Prompt: "Filing positions tied to legal sources", Required: true},
			{ID: "tax-figures", Prompt: "Figures reconciled to financial records", Required: true},
			{ID: "tax-deadlines", Prompt: "Statutory deadlines verified", Required: true},
			{ID: "tax-elections", Prompt: "Elections and disclosures considered", Required: false},
		},
	},
	"accounting": {
		Category: "accounting",
		Items: []ChecklistItem{
			{ID: "acc-reconciliation", Prompt: "Control accounts reconciled", Required: true},
			{ID: "acc-cutoff", Prompt: "Period cut-off applied correctly", Required: true},
			{ID: "acc-disclosure", Prompt: "Disclosure checklist completed", Required: false},
		},
	},
	"default": {
		Category: "default",
		Items: []ChecklistItem{
			{ID: "gen-instruction", Prompt: "Client instruction on file and current", Required: true},
			{ID: "gen-evidence", Prompt: "Supporting evidence linked", Required: true},
			{ID: "gen-format", Prompt: "Deliverable format matches house style", Required: false},
		},
	},
}

// GetChecklist returns the checklist for a task type. The task type is
// matched by substring against the known categories.
func GetChecklist(taskType string) Checklist {
	lowered := strings.ToLower(taskType)
	for _, category := range []string{"audit", "tax", "accounting"} {
		if strings.Contains(lowered, category) {
			return checklists[category]
		}
	}
	return checklists["default"]
}

// ChecklistResult is the outcome of evaluating reviewer responses.
type ChecklistResult struct {
	Passed      bool     `json:"passed"`
	Score       int      `json:"score"` // passed items over all items, 0-100
	PassedItems []string `json:"passed_items,omitempty"`
	FailedItems []string `json:"failed_items,omitempty"`
}

// EvaluateChecklist scores reviewer responses against a checklist. The score
// counts every item regardless of the required flag; only required items
// that failed or went unanswered block a pass and appear in FailedItems.
func EvaluateChecklist(checklist Checklist, responses map[string]bool) ChecklistResult {
	result := ChecklistResult{Passed: true}
	for _, item := range checklist.Items {
		passed, answered := responses[item.ID]
		if answered && passed {
			result.PassedItems = append(result.PassedItems, item.ID)
			continue
		}
		if item.Required {
			result.FailedItems = append(result.FailedItems, item.ID)
			result.Passed = false
		}
	}
	if total := len(checklist.Items); total > 0 {
		result.Score = len(result.PassedItems) * 100 / total
	}
	return result
}
