package vision

import (
	"encoding/json"
	"fmt"
	"strings"
)

// parseLabelJSON parses the JSON label list from a vision model response
func parseLabelJSON(text string) ([]Label, error) {
	text = trimMarkdownFences(text)

	// Find the JSON array boundaries - look for first [ and last ]
	startIdx := strings.Index(text, "[")
	if startIdx == -1 {
		return nil, fmt.Errorf("no JSON array found in response")
	}

	endIdx := strings.LastIndex(text, "]")
	if endIdx == -1 || endIdx < startIdx {
		return nil, fmt.Errorf("invalid JSON array in response")
	}

	text = text[startIdx : endIdx+1]

	var labels []Label
	if err := json.Unmarshal([]byte(text), &labels); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}

	// Drop nameless entries, clamp confidence to the 0-100 scale
	cleaned := make([]Label, 0, len(labels))
	for _, l := range labels {
		l.Name = strings.TrimSpace(l.Name)
		if l.Name == "" {
			continue
		}
		if l.Confidence < 0 {
			l.Confidence = 0
		}
		if l.Confidence > 100 {
			l.Confidence = 100
		}
		cleaned = append(cleaned, l)
	}

	return cleaned, nil
}
