package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrBadReply marks model output that could not be decoded into the expected
// shape even after the corrective re-prompt. Callers treat it as a data
// failure, not a transient one.
var ErrBadReply = errors.New("model returned undecodable output")

// DecodeJSON decodes a model reply into dst, tolerating code fences and
// surrounding prose. Callers that receive raw text (vision replies) use this
// where CompleteJSON is not available.
func DecodeJSON(text string, dst any) error {
	return decodeJSONReply(text, dst)
}

// decodeJSONReply decodes a model reply into dst, tolerating code fences and
// surrounding prose by extracting the outermost JSON value first.
func decodeJSONReply(text string, dst any) error {
	extracted := extractJSON(text)
	if extracted == "" {
		return fmt.Errorf("%w: no JSON value found in reply", ErrBadReply)
	}
	if err := json.Unmarshal([]byte(extracted), dst); err != nil {
		return fmt.Errorf("%w: invalid JSON: %v", ErrBadReply, err)
	}
	return nil
}

// extractJSON pulls the outermost JSON object or array out of a reply that
// may wrap it in ``` fences or prose. Returns "" when none is found.
func extractJSON(text string) string {
	text = strings.TrimSpace(text)

	// Prefer the content of a fenced block when present.
	if idx := strings.Index(text, "```"); idx >= 0 {
		rest := text[idx+3:]
		rest = strings.TrimPrefix(rest, "json")
		if end := strings.Index(rest, "```"); end >= 0 {
			text = strings.TrimSpace(rest[:end])
		}
	}

	start := -1
	var open, closer byte
	for i := 0; i < len(text); i++ {
		if text[i] == '{' || text[i] == '[' {
			start = i
			open = text[i]
			if open == '{' {
				closer = '}'
			} else {
				closer = ']'
			}
			break
		}
	}
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch ch {
			case '\\':
				i++
			case '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case open:
			depth++
		case closer:
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}
