package generate

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spherical/module-creator/internal/domain"
)

// extractJSON trims markdown fences and any chatter around the outermost
// JSON object in a completion.
func extractJSON(content string) (string, error) {
	content = strings.TrimSpace(content)

	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")

	if start == -1 || end == -1 || end <= start {
		return "", fmt.Errorf("no valid JSON found in response")
	}

	return content[start : end+1], nil
}

func decode(content string, v interface{}) error {
	raw, err := extractJSON(content)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("failed to parse JSON: %w", err)
	}
	return nil
}

// parseModuleSet parses and validates a module-stage completion.
func parseModuleSet(content string) (*domain.ModuleSet, error) {
	var set domain.ModuleSet
	if err := decode(content, &set); err != nil {
		return nil, domain.MalformedResponseError("module response is not valid JSON", err)
	}
	if err := set.Validate(); err != nil {
		return nil, domain.MalformedResponseError("module response does not match schema", err)
	}
	return &set, nil
}

// parseAssessment parses and validates an assessment-stage completion.
func parseAssessment(content string) (*domain.Assessment, error) {
	var a domain.Assessment
	if err := decode(content, &a); err != nil {
		return nil, domain.MalformedResponseError("assessment response is not valid JSON", err)
	}
	if err := a.Validate(); err != nil {
		return nil, domain.MalformedResponseError("assessment response does not match schema", err)
	}
	return &a, nil
}
