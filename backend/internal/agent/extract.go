package agent

import (
	"encoding/json"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"sapling-graph/backend/internal/graph"
	apperrors "sapling-graph/backend/pkg/errors"
	"sapling-graph/backend/pkg/logger"
)

var (
	graphUpdateBlock = regexp.MustCompile(`(?s)<graph_update>(.*?)</graph_update>`)
	fencedBlock      = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")
)

// EmptyPayload is the no-op update used whenever model output is unusable
func EmptyPayload() graph.UpdatePayload {
	return graph.UpdatePayload{
		NewNodes:     []graph.NewNode{},
		UpdatedNodes: []graph.NodeUpdate{},
		NewEdges:     []graph.NewEdge{},
	}
}

// ExtractGraphUpdate splits a tutoring reply into the text shown to the
// learner and the graph update carried in its <graph_update> block. A
// missing or unparseable block yields an empty payload.
func ExtractGraphUpdate(reply string) (string, graph.UpdatePayload) {
	loc := graphUpdateBlock.FindStringSubmatchIndex(reply)
	if loc == nil {
		return strings.TrimSpace(reply), EmptyPayload()
	}

	conversational := strings.TrimSpace(reply[:loc[0]] + reply[loc[1]:])
	payload, err := ParseUpdatePayload(reply[loc[2]:loc[3]])
	if err != nil {
		logger.Get().Warn("Discarding malformed graph update block", zap.Error(err))
		return conversational, EmptyPayload()
	}
	return conversational, payload
}

// ParseUpdatePayload decodes model output into an update payload. Code
// fences and prose around the JSON object are tolerated.
func ParseUpdatePayload(raw string) (graph.UpdatePayload, error) {
	cleaned, ok := ExtractJSON(raw)
	if !ok {
		return EmptyPayload(), apperrors.NewAIResponseInvalid("no JSON object found", nil)
	}
	var payload graph.UpdatePayload
	if err := json.Unmarshal([]byte(cleaned), &payload); err != nil {
		return EmptyPayload(), apperrors.NewAIResponseInvalid("graph update is not an object", err)
	}
	if payload.Skipped > 0 {
		logger.Get().Warn("Skipped malformed graph update entries", zap.Int("skipped", payload.Skipped))
	}
	return payload, nil
}

// ParseObject decodes model output that must be a single JSON object
func ParseObject(raw string) (map[string]any, error) {
	cleaned, ok := ExtractJSON(raw)
	if !ok {
		return nil, apperrors.NewAIResponseInvalid("no JSON object found", nil)
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(cleaned), &out); err != nil || out == nil {
		return nil, apperrors.NewAIResponseInvalid("response is not an object", err)
	}
	return out, nil
}

// ExtractJSON returns the first complete JSON value in text. A fenced
// block holding valid JSON is preferred; otherwise the whole text, and
// failing that the earliest balanced object or array found by scanning.
func ExtractJSON(text string) (string, bool) {
	text = strings.TrimSpace(text)
	for _, m := range fencedBlock.FindAllStringSubmatch(text, -1) {
		if block := strings.TrimSpace(m[1]); block != "" && json.Valid([]byte(block)) {
			return block, true
		}
	}
	if text != "" && json.Valid([]byte(text)) {
		return text, true
	}
	for i := 0; i < len(text); i++ {
		if text[i] != '{' && text[i] != '[' {
			continue
		}
		if candidate, ok := balanced(text[i:]); ok && json.Valid([]byte(candidate)) {
			return candidate, true
		}
	}
	return "", false
}

// balanced returns the prefix of s up to the bracket closing s[0].
// Brackets inside string literals are ignored.
func balanced(s string) (string, bool) {
	open := s[0]
	closing := byte('}')
	if open == '[' {
		closing = ']'
	}
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case closing:
			depth--
			if depth == 0 {
				return s[:i+1], true
			}
		}
	}
	return "", false
}
