// Package quiz grades multiple-choice quizzes and turns the grade into a
// mastery delta for the quizzed concept.
package quiz

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"sapling-graph/backend/internal/constants"
	"sapling-graph/backend/internal/mastery"
)

// Option is one answer choice
type Option struct {
	Label   string `json:"label"`
	Text    string `json:"text"`
	Correct bool   `json:"correct"`
}

// Question is one multiple-choice question
type Question struct {
	ID          string   `json:"id"`
	Question    string   `json:"question"`
	Options     []Option `json:"options"`
	Explanation string   `json:"explanation,omitempty"`
}

// UnmarshalJSON accepts numeric ids and a question-level correct_answer
// label in place of a flagged option
func (q *Question) UnmarshalJSON(data []byte) error {
	type plain Question
	var raw struct {
		plain
		ID            any    `json:"id"`
		CorrectAnswer string `json:"correct_answer"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*q = Question(raw.plain)
	q.ID = idString(raw.ID)

	key := strings.TrimSpace(raw.CorrectAnswer)
	if key == "" {
		return nil
	}
	for _, o := range q.Options {
		if o.Correct {
			return nil
		}
	}
	for i := range q.Options {
		if strings.EqualFold(strings.TrimSpace(q.Options[i].Label), key) {
			q.Options[i].Correct = true
		}
	}
	return nil
}

// Answer is the label a learner picked for a question
type Answer struct {
	QuestionID    string `json:"question_id"`
	SelectedLabel string `json:"selected_label"`
}

// UnmarshalJSON accepts numeric question ids
func (a *Answer) UnmarshalJSON(data []byte) error {
	var raw struct {
		QuestionID    any    `json:"question_id"`
		SelectedLabel string `json:"selected_label"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	a.QuestionID = idString(raw.QuestionID)
	a.SelectedLabel = raw.SelectedLabel
	return nil
}

// idString renders a JSON id that may arrive as a string or a number
func idString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}

// QuestionResult is the graded outcome of one question
type QuestionResult struct {
	QuestionID    string `json:"question_id"`
	Selected      string `json:"selected"`
	Correct       bool   `json:"correct"`
	CorrectAnswer string `json:"correct_answer"`
	Explanation   string `json:"explanation"`
}

// Result is a graded quiz
type Result struct {
	Correct int              `json:"score"`
	Total   int              `json:"total"`
	Results []QuestionResult `json:"results"`
}

// Score grades answers against questions. Unanswered questions count as
// wrong; answers to unknown questions are ignored. Labels compare without
// regard to case or surrounding space.
func Score(questions []Question, answers []Answer) Result {
	selected := make(map[string]string, len(answers))
	for _, a := range answers {
		selected[a.QuestionID] = strings.TrimSpace(a.SelectedLabel)
	}

	res := Result{Total: len(questions), Results: make([]QuestionResult, 0, len(questions))}
	for _, q := range questions {
		correctLabel := ""
		for _, o := range q.Options {
			if o.Correct {
				correctLabel = o.Label
				break
			}
		}
		pick := selected[q.ID]
		ok := pick != "" && strings.EqualFold(pick, strings.TrimSpace(correctLabel))
		if ok {
			res.Correct++
		}
		res.Results = append(res.Results, QuestionResult{
			QuestionID:    q.ID,
			Selected:      pick,
			Correct:       ok,
			CorrectAnswer: correctLabel,
			Explanation:   q.Explanation,
		})
	}
	return res
}

// MasteryDelta rewards each correct answer and penalizes each wrong one
func MasteryDelta(correct, total int) float64 {
	if total <= 0 {
		return 0
	}
	correct = max(0, min(correct, total))
	delta := float64(correct)*constants.QuizCorrectDelta - float64(total-correct)*constants.QuizIncorrectDelta
	return mastery.Round(delta, 4)
}

// Normalize keeps only gradable questions: at least two options and
// exactly one marked correct. Labels are trimmed, and questions without an
// id or with a repeated one are numbered q1, q2, ... by position.
func Normalize(questions []Question) []Question {
	out := make([]Question, 0, len(questions))
	seen := make(map[string]bool, len(questions))
	for _, q := range questions {
		if len(q.Options) < 2 {
			continue
		}
		correct := 0
		opts := make([]Option, 0, len(q.Options))
		for _, o := range q.Options {
			o.Label = strings.TrimSpace(o.Label)
			if o.Label == "" {
				continue
			}
			if o.Correct {
				correct++
			}
			opts = append(opts, o)
		}
		if correct != 1 || len(opts) < 2 {
			continue
		}
		q.Options = opts
		q.ID = strings.TrimSpace(q.ID)
		if q.ID == "" || seen[q.ID] {
			for n := len(out) + 1; ; n++ {
				if id := fmt.Sprintf("q%d", n); !seen[id] {
					q.ID = id
					break
				}
			}
		}
		seen[q.ID] = true
		out = append(out, q)
	}
	return out
}

// Public strips the answer key and explanations so questions can be shown
// before grading
func Public(questions []Question) []Question {
	out := make([]Question, len(questions))
	for i, q := range questions {
		opts := make([]Option, len(q.Options))
		for j, o := range q.Options {
			opts[j] = Option{Label: o.Label, Text: o.Text}
		}
		out[i] = Question{ID: q.ID, Question: q.Question, Options: opts}
	}
	return out
}
