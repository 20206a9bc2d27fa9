package graph

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"sapling-graph/backend/internal/constants"
)

// NewNode proposes a concept to create
type NewNode struct {
	ConceptName    string  `json:"concept_name"`
	Subject        string  `json:"subject"`
	InitialMastery float64 `json:"initial_mastery"`
}

// NodeUpdate proposes a mastery delta for an existing concept
type NodeUpdate struct {
	ConceptName  string  `json:"concept_name"`
	MasteryDelta float64 `json:"mastery_delta"`
}

// NewEdge proposes a relation between two concepts by name
type NewEdge struct {
	Source   string   `json:"source"`
	Target   string   `json:"target"`
	Strength *float64 `json:"strength,omitempty"`
}

// UpdatePayload is a graph delta proposed after a learning interaction.
// Decoding is lenient: entries missing a required field are dropped and
// counted in Skipped instead of failing the whole payload.
type UpdatePayload struct {
	NewNodes     []NewNode    `json:"new_nodes"`
	UpdatedNodes []NodeUpdate `json:"updated_nodes"`
	NewEdges     []NewEdge    `json:"new_edges"`
	Skipped      int          `json:"-"`
}

// IsEmpty reports whether the payload would change nothing
func (p UpdatePayload) IsEmpty() bool {
	return len(p.NewNodes) == 0 && len(p.UpdatedNodes) == 0 && len(p.NewEdges) == 0
}

// EdgeStrength returns the proposed strength, or the default when omitted
func (e NewEdge) EdgeStrength() float64 {
	if e.Strength == nil {
		return constants.DefaultEdgeStrength
	}
	return *e.Strength
}

// UnmarshalJSON decodes each entry on its own so one bad entry cannot sink
// the rest. A top-level value that is not an object is an error.
func (p *UpdatePayload) UnmarshalJSON(data []byte) error {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return err
	}
	*p = UpdatePayload{
		NewNodes:     []NewNode{},
		UpdatedNodes: []NodeUpdate{},
		NewEdges:     []NewEdge{},
	}

	for _, entry := range entries(top, "new_nodes", "newNodes") {
		name := firstString(entry, "concept_name", "concept", "name")
		if name == "" {
			p.Skipped++
			continue
		}
		initial, _ := firstNumber(entry, "initial_mastery", "mastery", "mastery_score")
		subject := firstString(entry, "subject", "course")
		if subject == "" {
			subject = constants.DefaultSubject
		}
		p.NewNodes = append(p.NewNodes, NewNode{
			ConceptName:    name,
			Subject:        subject,
			InitialMastery: initial,
		})
	}

	for _, entry := range entries(top, "updated_nodes", "updatedNodes") {
		name := firstString(entry, "concept_name", "concept", "name")
		delta, ok := firstNumber(entry, "mastery_delta", "delta")
		if name == "" || !ok {
			p.Skipped++
			continue
		}
		p.UpdatedNodes = append(p.UpdatedNodes, NodeUpdate{ConceptName: name, MasteryDelta: delta})
	}

	for _, entry := range entries(top, "new_edges", "newEdges") {
		source := firstString(entry, "source", "source_concept", "from")
		target := firstString(entry, "target", "target_concept", "to")
		if source == "" || target == "" {
			p.Skipped++
			continue
		}
		edge := NewEdge{Source: source, Target: target}
		if strength, ok := firstNumber(entry, "strength", "weight"); ok {
			edge.Strength = &strength
		}
		p.NewEdges = append(p.NewEdges, edge)
	}

	return nil
}

// entries returns every object in the first list found under keys. Items
// that are not objects are returned as nil maps so callers count them skipped.
func entries(top map[string]json.RawMessage, keys ...string) []map[string]any {
	for _, key := range keys {
		raw, ok := top[key]
		if !ok {
			continue
		}
		var list []json.RawMessage
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil
		}
		out := make([]map[string]any, 0, len(list))
		for _, item := range list {
			var entry map[string]any
			if err := json.Unmarshal(item, &entry); err != nil {
				entry = nil
			}
			out = append(out, entry)
		}
		return out
	}
	return nil
}

func firstString(entry map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := entry[key].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

// firstNumber accepts finite JSON numbers and numeric strings
func firstNumber(entry map[string]any, keys ...string) (float64, bool) {
	for _, key := range keys {
		var f float64
		switch v := entry[key].(type) {
		case float64:
			f = v
		case string:
			parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				continue
			}
			f = parsed
		default:
			continue
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			continue
		}
		return f, true
	}
	return 0, false
}
