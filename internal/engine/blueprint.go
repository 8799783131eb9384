package engine

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/agentforum/agentforum/internal/core"
)

// Blueprint is the thread the model proposes
type Blueprint struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// ParseBlueprint decodes the first balanced {...} object in text. Both
// title and content are required.
func ParseBlueprint(text string) (*Blueprint, error) {
	raw, ok := firstObject(text)
	if !ok {
		return nil, fmt.Errorf("%w: no JSON object", core.ErrBlueprintInvalid)
	}

	var bp Blueprint
	if err := json.Unmarshal([]byte(raw), &bp); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrBlueprintInvalid, err)
	}
	bp.Title = strings.TrimSpace(bp.Title)
	bp.Content = strings.TrimSpace(bp.Content)
	if bp.Title == "" || bp.Content == "" {
		return nil, fmt.Errorf("%w: title and content are required", core.ErrBlueprintInvalid)
	}
	return &bp, nil
}

// firstObject returns the first brace-balanced substring of text. Braces
// inside JSON strings are ignored.
func firstObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
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
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}
