package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var (
	fencePattern    = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")
	citationPattern = regexp.MustCompile(`\b(?:DOC|THR|MSN|HIST|COLL)-\w+\b`)
)

// parseStructured extracts the JSON payload from a model response and
// validates it against the schema. Models wrap JSON in markdown fences or
// surrounding prose often enough that both are stripped before parsing.
func parseStructured(text string, schema *Schema) (map[string]any, error) {
	payload := extractJSON(text)
	if payload == "" {
		return nil, fmt.Errorf("%w: no JSON object in response", ErrSchemaViolation)
	}

	var content map[string]any
	if err := json.Unmarshal([]byte(payload), &content); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON: %v", ErrSchemaViolation, err)
	}

	if schema != nil {
		if err := schema.Validate(content); err != nil {
			return nil, err
		}
	}
	return content, nil
}

func extractJSON(text string) string {
	if m := fencePattern.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}

// ExtractCitations returns the element IDs referenced in the text, in
// first-appearance order with duplicates removed.
func ExtractCitations(text string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, id := range citationPattern.FindAllString(text, -1) {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
