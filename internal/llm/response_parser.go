package llm

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
)

// Decision actions.
const (
	ActionNone   = "none"
	ActionCreate = "create"
	ActionUpdate = "update"
)

// MemoryOperation is one create or update proposed by the reasoning service.
type MemoryOperation struct {
	Action  string `json:"action"`
	ID      string `json:"id,omitempty"`
	Content string `json:"content"`
}

// MemoryDecision is the parsed extraction response.
type MemoryDecision struct {
	Action   string            `json:"action"`
	Memories []MemoryOperation `json:"memories"`
}

// IsNoop reports whether the decision has nothing to apply.
func (d *MemoryDecision) IsNoop() bool {
	return d.Action == ActionNone || len(d.Memories) == 0
}

// extractJSON extracts the first JSON object from a string that may contain
// extra text, tolerating markdown code fences around it.
func extractJSON(text string) string {
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")
	text = strings.TrimSpace(text)

	start := strings.Index(text, "{")
	if start == -1 {
		return text
	}

	braceCount := 0
	inString := false
	escape := false

	for i := start; i < len(text); i++ {
		char := text[i]

		if escape {
			escape = false
			continue
		}
		if char == '\\' {
			escape = true
			continue
		}
		if char == '"' {
			inString = !inString
			continue
		}

		if !inString {
			switch char {
			case '{':
				braceCount++
			case '}':
				braceCount--
				if braceCount == 0 {
					return text[start : i+1]
				}
			}
		}
	}

	return text
}

// ParseMemoryDecision parses an extraction response. Operations with an
// unknown action, empty content, or an update without an id are dropped
// rather than failing the whole decision. Returns an error wrapping
// ErrParse only when no decision can be decoded at all.
func ParseMemoryDecision(raw string) (*MemoryDecision, error) {
	var decision MemoryDecision
	if err := json.Unmarshal([]byte(extractJSON(raw)), &decision); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	decision.Action = strings.ToLower(strings.TrimSpace(decision.Action))
	switch decision.Action {
	case ActionNone:
		decision.Memories = nil
		return &decision, nil
	case ActionCreate, ActionUpdate, "":
	default:
		return nil, fmt.Errorf("%w: unknown action %q", ErrParse, decision.Action)
	}

	valid := decision.Memories[:0]
	for _, op := range decision.Memories {
		op.Action = strings.ToLower(strings.TrimSpace(op.Action))
		op.ID = strings.TrimSpace(op.ID)
		op.Content = strings.TrimSpace(op.Content)

		switch {
		case op.Content == "":
			log.Printf("llm: skipping %s operation with empty content", op.Action)
			continue
		case op.Action == ActionCreate:
		case op.Action == ActionUpdate && op.ID != "":
		default:
			log.Printf("llm: skipping invalid operation (action=%q id=%q)", op.Action, op.ID)
			continue
		}
		valid = append(valid, op)
	}
	decision.Memories = valid

	if decision.Action == "" {
		decision.Action = ActionNone
		if len(valid) > 0 {
			decision.Action = valid[0].Action
		}
	}

	return &decision, nil
}
