package api

import (
	"encoding/json"
	"sort"
	"strconv"
)

// Issue is one finding of a review's final result.
type Issue struct {
	// ID is the position of the issue in the final result, used when marking it.
	ID                   string `json:"id" yaml:"id"`
	Severity             string `json:"severity" yaml:"severity"`
	File                 string `json:"file" yaml:"file"`
	Line                 string `json:"line" yaml:"line"`
	BugType              string `json:"bug_type" yaml:"bug_type"`
	Description          string `json:"description" yaml:"description"`
	Suggestion           string `json:"suggestion" yaml:"suggestion"`
	BugCodeExample       string `json:"bug_code_example,omitempty" yaml:"bug_code_example,omitempty"`
	OptimizedCodeExample string `json:"optimized_code_example,omitempty" yaml:"optimized_code_example,omitempty"`
	HistoricalMention    bool   `json:"historical_mention,omitempty" yaml:"historical_mention,omitempty"`
	Marked               bool   `json:"marked" yaml:"marked"`
}

// Issues decodes the final result entries in key order. Numeric keys sort numerically.
// Entries that are not objects are skipped.
func (r *Review) Issues() []Issue {
	keys := make([]string, 0, len(r.FinalResult))
	for k := range r.FinalResult {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, errA := strconv.Atoi(keys[i])
		b, errB := strconv.Atoi(keys[j])
		if errA == nil && errB == nil {
			return a < b
		}
		return keys[i] < keys[j]
	})

	marked := make(map[string]bool, len(r.MarkedIssues))
	for _, id := range r.MarkedIssues {
		marked[id] = true
	}

	issues := make([]Issue, 0, len(keys))
	for _, k := range keys {
		raw, ok := r.FinalResult[k].(map[string]interface{})
		if !ok {
			continue
		}
		issue := Issue{
			Severity:             stringField(raw, "severity"),
			File:                 stringField(raw, "file"),
			Line:                 stringField(raw, "line"),
			BugType:              stringField(raw, "bug_type"),
			Description:          stringField(raw, "description"),
			Suggestion:           stringField(raw, "suggestion"),
			BugCodeExample:       stringField(raw, "bug_code_example"),
			OptimizedCodeExample: stringField(raw, "optimized_code_example"),
		}
		if issue.OptimizedCodeExample == "" {
			issue.OptimizedCodeExample = stringField(raw, "good_code_example")
		}
		issue.HistoricalMention, _ = raw["historical_mention"].(bool)
		issue.ID = strconv.Itoa(len(issues))
		issue.Marked = marked[issue.ID]
		issues = append(issues, issue)
	}
	return issues
}

// stringField reads a string, number or other scalar as text.
func stringField(m map[string]interface{}, key string) string {
	switch v := m[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(data)
	}
}
