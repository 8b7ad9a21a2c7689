package events

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/eventhorizon/server/internal/sanitize"
	"github.com/eventhorizon/server/internal/validation"
)

// Question types supported in registration forms.
const (
	QuestionText     = "text"
	QuestionTextarea = "textarea"
	QuestionCheckbox = "checkbox"
	QuestionEmail    = "email"
	QuestionNumber   = "number"
)

var questionTypes = map[string]bool{
	QuestionText:     true,
	QuestionTextarea: true,
	QuestionCheckbox: true,
	QuestionEmail:    true,
	QuestionNumber:   true,
}

// QuestionTypes lists the selectable question types in display order.
var QuestionTypes = []string{QuestionText, QuestionTextarea, QuestionCheckbox, QuestionEmail, QuestionNumber}

// Question is one entry of an event's custom registration form.
type Question struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Type  string `json:"type"`
}

const (
	formLabelPrefix = "question_label_"
	formTypePrefix  = "question_type_"
	formIDPrefix    = "question_id_"
)

// ExtractRegistrationSchema builds the question list from the dynamic
// fields of the event form: question_label_N, question_type_N and
// question_id_N. Questions with an empty label are dropped, a missing id
// becomes q_N and a missing or unknown type becomes text. Numeric indexes
// keep their numeric order.
func ExtractRegistrationSchema(form url.Values) []Question {
	type draft struct {
		label, typ, id string
	}
	drafts := map[string]*draft{}
	get := func(index string) *draft {
		d, ok := drafts[index]
		if !ok {
			d = &draft{}
			drafts[index] = d
		}
		return d
	}

	for key, values := range form {
		if len(values) == 0 {
			continue
		}
		value := values[0]
		switch {
		case strings.HasPrefix(key, formLabelPrefix):
			get(strings.TrimPrefix(key, formLabelPrefix)).label = value
		case strings.HasPrefix(key, formTypePrefix):
			get(strings.TrimPrefix(key, formTypePrefix)).typ = value
		case strings.HasPrefix(key, formIDPrefix):
			get(strings.TrimPrefix(key, formIDPrefix)).id = value
		}
	}

	indexes := make([]string, 0, len(drafts))
	for index := range drafts {
		indexes = append(indexes, index)
	}
	sort.Slice(indexes, func(i, j int) bool {
		a, errA := strconv.Atoi(indexes[i])
		b, errB := strconv.Atoi(indexes[j])
		switch {
		case errA == nil && errB == nil:
			return a < b
		case errA == nil:
			return true
		case errB == nil:
			return false
		default:
			return indexes[i] < indexes[j]
		}
	})

	schema := make([]Question, 0, len(indexes))
	for _, index := range indexes {
		d := drafts[index]
		label := strings.TrimSpace(d.label)
		if label == "" {
			continue
		}
		id := strings.TrimSpace(d.id)
		if id == "" {
			id = "q_" + index
		}
		schema = append(schema, Question{ID: id, Label: label, Type: d.typ})
	}
	return NormalizeSchema(schema)
}

// NormalizeSchema trims labels, strips markup and defaults question types.
func NormalizeSchema(schema []Question) []Question {
	if schema == nil {
		return []Question{}
	}
	out := make([]Question, 0, len(schema))
	for _, q := range schema {
		q.ID = strings.TrimSpace(q.ID)
		q.Label = sanitize.Text(q.Label)
		q.Type = strings.ToLower(strings.TrimSpace(q.Type))
		if !questionTypes[q.Type] {
			q.Type = QuestionText
		}
		out = append(out, q)
	}
	return out
}

func validateSchema(schema []Question, errs *validation.FieldErrors) {
	seen := make(map[string]bool, len(schema))
	for i, q := range schema {
		field := fmt.Sprintf("registration_schema[%d]", i)
		if q.ID == "" {
			errs.Add(field+".id", "This field is required.")
		} else if seen[q.ID] {
			errs.Add(field+".id", fmt.Sprintf("Duplicate question id %q.", q.ID))
		}
		seen[q.ID] = true
		if q.Label == "" {
			errs.Add(field+".label", "This field is required.")
		}
		if len(q.Label) > 200 {
			errs.Add(field+".label", "Ensure this field has no more than 200 characters.")
		}
	}
}
