package agent

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"sapling-graph/backend/internal/constants"
	"sapling-graph/backend/internal/graph"
	"sapling-graph/backend/internal/mastery"
)

const tutorInstructions = `You are a patient tutor helping a student build a map of what they know.

Answer the student conversationally. After your answer, append exactly one
<graph_update> block containing a JSON object with this shape:

<graph_update>
{
  "new_nodes": [{"concept_name": "...", "subject": "...", "initial_mastery": 0.0}],
  "updated_nodes": [{"concept_name": "...", "mastery_delta": 0.0}],
  "new_edges": [{"source": "...", "target": "...", "strength": 0.5}]
}
</graph_update>

Rules:
- Mastery values are between 0 and 1. Deltas are small, usually between -0.1 and 0.1.
- Only list a concept in updated_nodes if it already exists in the student's graph or in new_nodes.
- Edges connect concept names, never ids.
- Use empty lists when nothing changed.`

const reviewInstructions = `You maintain a running review profile of one student for one concept.
Merge the new quiz results into the existing profile and reply with only a
JSON object of this shape:

{
  "common_mistakes": ["..."],
  "weak_areas": ["..."],
  "strengths": ["..."],
  "notes": "..."
}

Keep each list short and deduplicated. Carry over entries from the existing
profile that the new results do not contradict.`

const quizInstructions = `You write multiple-choice quizzes that test one concept.
Reply with only a JSON object of this shape:

{
  "questions": [
    {
      "id": "q1",
      "question": "...",
      "options": [
        {"label": "A", "text": "...", "correct": false},
        {"label": "B", "text": "...", "correct": true}
      ],
      "explanation": "..."
    }
  ]
}

Rules:
- Every question has four options labelled A to D and exactly one is correct.
- Aim questions at the student's current mastery and the requested difficulty.
- Target the weak areas and common mistakes in the review profile when there are any.`

const roomSummaryInstructions = `You describe study groups. Write a 2-3 sentence summary of the group's
collective knowledge. Focus on complementary strengths and shared goals.
Reply with plain text only.`

// modeInstructions shape how the tutor teaches within a learning session
var modeInstructions = map[string]string{
	constants.ModeSocratic: `## Teaching Mode: Socratic
Teach by asking questions. Lead the student to each idea with one guiding
question at a time and do not hand over answers outright.`,
	constants.ModeExpository: `## Teaching Mode: Expository
Teach by explaining. Give a clear, structured explanation with a worked
example, then check understanding with one short question.`,
	constants.ModeTeachback: `## Teaching Mode: Teach-back
Ask the student to explain the concept back to you as if they were teaching
it. Point out gaps in their explanation and correct misconceptions gently.`,
}

// actionInstructions are the quick actions a learner can take mid-session
var actionInstructions = map[string]string{
	"hint":     "The student asked for a hint. Give a small scaffold or clue without giving away the answer.",
	"confused": "The student said they are confused. Identify the likely point of confusion and re-explain with a different analogy.",
	"skip":     "The student wants to skip this concept. Acknowledge and transition to the next recommended concept.",
}

// ValidAction reports whether action is a known session quick action
func ValidAction(action string) bool {
	_, ok := actionInstructions[action]
	return ok
}

// conceptSummary is how a node is shown to the model
type conceptSummary struct {
	Concept string  `json:"concept"`
	Subject string  `json:"subject"`
	Mastery float64 `json:"mastery"`
	Tier    string  `json:"tier"`
}

// buildTutorPrompt renders the learner's current graph into the system prompt
func buildTutorPrompt(studentName string, nodes []graph.ConceptNode) (string, error) {
	summaries := make([]conceptSummary, 0, len(nodes))
	for _, n := range nodes {
		if n.IsSubjectRoot {
			continue
		}
		summaries = append(summaries, conceptSummary{
			Concept: n.ConceptName,
			Subject: n.Subject,
			Mastery: mastery.Round(n.MasteryScore, 2),
			Tier:    mastery.Tier(n.MasteryScore),
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].Subject != summaries[j].Subject {
			return summaries[i].Subject < summaries[j].Subject
		}
		return summaries[i].Concept < summaries[j].Concept
	})

	graphJSON, err := json.MarshalIndent(summaries, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal graph summary: %w", err)
	}

	if strings.TrimSpace(studentName) == "" {
		studentName = "the student"
	}

	var b strings.Builder
	b.WriteString(tutorInstructions)
	fmt.Fprintf(&b, "\n\n## Student\n%s\n", studentName)
	fmt.Fprintf(&b, "\n## Current Knowledge Graph\n%s\n", string(graphJSON))
	return b.String(), nil
}

// buildSessionPrompt adds the teaching mode and the previous session's
// recap to the tutor prompt
func buildSessionPrompt(studentName string, nodes []graph.ConceptNode, mode, lastSummary string) (string, error) {
	system, err := buildTutorPrompt(studentName, nodes)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString(system)
	if strings.TrimSpace(lastSummary) != "" {
		fmt.Fprintf(&b, "\n## Last Session\n%s\n", lastSummary)
	}
	if text, ok := modeInstructions[mode]; ok {
		fmt.Fprintf(&b, "\n%s\n", text)
	}
	return b.String(), nil
}

// renderTurn builds the user message of a tutoring turn. A bare message
// with no history is sent as is.
func renderTurn(req TutorRequest) string {
	if req.Opening {
		topic := strings.TrimSpace(req.Topic)
		if topic == "" {
			topic = "whatever they find most useful next"
		}
		return fmt.Sprintf("Student wants to learn about: %s\n\n"+
			"Begin the session with a warm greeting and your first question or explanation.", topic)
	}
	if len(req.History) == 0 && req.Action == "" {
		return req.Message
	}

	var b strings.Builder
	if len(req.History) > 0 {
		b.WriteString("CONVERSATION SO FAR:\n")
		for i, t := range req.History {
			if i > 0 {
				b.WriteString("\n\n")
			}
			speaker := "Sapling"
			if t.Role == RoleUser {
				speaker = "Student"
			}
			fmt.Fprintf(&b, "%s: %s", speaker, t.Content)
		}
		b.WriteString("\n\n")
	}
	if req.Action != "" {
		fmt.Fprintf(&b, "[ACTION: %s]", actionInstructions[req.Action])
	} else {
		fmt.Fprintf(&b, "Student: %s", req.Message)
	}
	b.WriteString("\n\nSapling:")
	return b.String()
}

// buildQuizPrompt renders the quizzed concept, the surrounding graph and
// the review profile
func buildQuizPrompt(req QuizRequest) (string, error) {
	summaries := make([]conceptSummary, 0, len(req.Nodes))
	for _, n := range req.Nodes {
		if n.IsSubjectRoot {
			continue
		}
		summaries = append(summaries, conceptSummary{
			Concept: n.ConceptName,
			Subject: n.Subject,
			Mastery: mastery.Round(n.MasteryScore, 2),
			Tier:    mastery.Tier(n.MasteryScore),
		})
		if len(summaries) == constants.QuizGraphContextNodes {
			break
		}
	}
	graphJSON, err := json.MarshalIndent(summaries, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal graph summary: %w", err)
	}

	history := "No previous quiz history."
	if len(req.Review) > 0 {
		reviewJSON, err := json.MarshalIndent(req.Review, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to marshal review context: %w", err)
		}
		history = string(reviewJSON)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Concept: %s\n", req.ConceptName)
	fmt.Fprintf(&b, "Current mastery: %d%%\n", int(math.Round(req.Mastery*100)))
	fmt.Fprintf(&b, "Difficulty: %s\n", req.Difficulty)
	fmt.Fprintf(&b, "Number of questions: %d\n\n", req.NumQuestions)
	fmt.Fprintf(&b, "## Related Concepts\n%s\n\n", string(graphJSON))
	fmt.Fprintf(&b, "## Review Profile\n%s\n", history)
	return b.String(), nil
}

// buildReviewPrompt renders a quiz outcome for the review profile update
func buildReviewPrompt(in ReviewInput) (string, error) {
	existing := in.Existing
	if existing == nil {
		existing = map[string]any{}
	}
	existingJSON, err := json.MarshalIndent(existing, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal review context: %w", err)
	}
	resultsJSON, err := json.MarshalIndent(in.Results, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal quiz results: %w", err)
	}

	studentName := in.StudentName
	if strings.TrimSpace(studentName) == "" {
		studentName = "Student"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Concept: %s\n", in.ConceptName)
	fmt.Fprintf(&b, "Student: %s\n", studentName)
	fmt.Fprintf(&b, "Score: %d/%d\n\n", in.Score, in.Total)
	fmt.Fprintf(&b, "## Existing Profile\n%s\n\n", string(existingJSON))
	fmt.Fprintf(&b, "## Quiz Results\n%s\n", string(resultsJSON))
	return b.String(), nil
}
