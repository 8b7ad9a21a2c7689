package registrations

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/eventhorizon/server/internal/domain/events"
	"github.com/eventhorizon/server/internal/sanitize"
)

// AnswersFromForm reads answer_<question id> fields for every question in
// the schema. Checkbox answers are booleans, true only for "on"; all
// other answers are strings, empty when missing.
func AnswersFromForm(schema []events.Question, form url.Values) map[string]any {
	answers := make(map[string]any, len(schema))
	for _, q := range schema {
		key := "answer_" + q.ID
		if q.Type == events.QuestionCheckbox {
			answers[q.ID] = form.Get(key) == "on"
			continue
		}
		answers[q.ID] = sanitize.Text(form.Get(key))
	}
	return answers
}

// CleanAnswers strips markup from string answers submitted through the API
// and drops nothing else.
func CleanAnswers(answers map[string]any) map[string]any {
	out := make(map[string]any, len(answers))
	for k, v := range answers {
		if s, ok := v.(string); ok {
			out[k] = sanitize.Text(s)
			continue
		}
		out[k] = v
	}
	return out
}

// AnswerItem is one answer prepared for display.
type AnswerItem struct {
	ID    string
	Label string
	Value string
}

// AnswerItems lists the answers in schema order, followed by answers to
// questions no longer in the schema sorted by key. Unanswered schema
// questions are omitted.
func AnswerItems(schema []events.Question, answers map[string]any) []AnswerItem {
	labels := make(map[string]string, len(schema))
	inSchema := make(map[string]bool, len(schema))
	items := make([]AnswerItem, 0, len(answers))

	for _, q := range schema {
		if q.ID == "" {
			continue
		}
		inSchema[q.ID] = true
		label := q.Label
		if label == "" {
			label = q.ID
		}
		labels[q.ID] = label
	}

	for _, q := range schema {
		if q.ID == "" {
			continue
		}
		value, ok := answers[q.ID]
		if !ok {
			continue
		}
		items = append(items, AnswerItem{ID: q.ID, Label: labels[q.ID], Value: FormatAnswer(value)})
	}

	extra := make([]string, 0)
	for key := range answers {
		if !inSchema[key] {
			extra = append(extra, key)
		}
	}
	sort.Strings(extra)
	for _, key := range extra {
		items = append(items, AnswerItem{ID: key, Label: key, Value: FormatAnswer(answers[key])})
	}

	return items
}

// FormatAnswer renders an answer value as text: booleans as Yes/No, nil as
// empty, lists joined with ", " and objects as indented JSON.
func FormatAnswer(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case bool:
		if v {
			return "Yes"
		}
		return "No"
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			parts = append(parts, FormatAnswer(item))
		}
		return strings.Join(parts, ", ")
	case []string:
		return strings.Join(v, ", ")
	case map[string]any:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(data)
	default:
		return fmt.Sprint(v)
	}
}
