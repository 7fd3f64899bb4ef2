package translate

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/minios-linux/lokstudio/model"
)

// ---------------------------------------------------------------------------
// Response parsing
// ---------------------------------------------------------------------------

var markdownCodeBlock = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")
var retryInMessage = regexp.MustCompile(`(?i)try again in ([0-9.]+)s`)

// fixInvalidEscapesInJSON doubles backslashes that do not start a valid
// JSON escape inside string values. Models return sequences like \[dq],
// \& or \m unescaped when the source text contains them.
func fixInvalidEscapesInJSON(jsonContent string) string {
	var fixed strings.Builder
	inQuote := false
	escaped := false

	for i := 0; i < len(jsonContent); i++ {
		c := jsonContent[i]

		if c == '"' && !escaped {
			inQuote = !inQuote
			fixed.WriteByte(c)
			escaped = false
			continue
		}

		if inQuote && c == '\\' && !escaped {
			if i+1 < len(jsonContent) {
				switch jsonContent[i+1] {
				case '"', '\\', '/', 'b', 'f', 'n', 'r', 't', 'u':
					fixed.WriteByte(c)
					escaped = true
					continue
				}
			}
			fixed.WriteString("\\\\")
			escaped = false
			continue
		}

		fixed.WriteByte(c)
		escaped = c == '\\' && !escaped
	}

	return fixed.String()
}

// extractJSONObject strips code fences and surrounding prose from a model
// response, leaving the outermost JSON object.
func extractJSONObject(content string) string {
	content = strings.TrimSpace(content)
	if m := markdownCodeBlock.FindStringSubmatch(content); len(m) > 1 {
		content = m[1]
	}
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start >= 0 && end > start {
		content = content[start : end+1]
	}
	return fixInvalidEscapesInJSON(content)
}

type translation struct {
	ID         string `json:"id"`
	TargetText string `json:"targetText"`
}

// parseTranslations decodes {"translations": [{"id", "targetText"}]}.
// Numeric ids are accepted and converted to strings.
func parseTranslations(content string) ([]translation, error) {
	content = extractJSONObject(content)
	var resp struct {
		Translations []struct {
			ID         json.RawMessage `json:"id"`
			TargetText string          `json:"targetText"`
		} `json:"translations"`
	}
	if err := json.Unmarshal([]byte(content), &resp); err != nil {
		return nil, fmt.Errorf("failed to parse translation response as JSON: %w\nResponse: %s", err, truncate(content, 300))
	}
	if resp.Translations == nil {
		return nil, fmt.Errorf("translation response has no \"translations\" array: %s", truncate(content, 300))
	}
	out := make([]translation, 0, len(resp.Translations))
	for _, t := range resp.Translations {
		var id string
		if err := json.Unmarshal(t.ID, &id); err != nil {
			id = strings.TrimSpace(string(t.ID))
		}
		out = append(out, translation{ID: id, TargetText: t.TargetText})
	}
	return out, nil
}

// parseTerms decodes {"terms": [...]} from the terminology scan.
func parseTerms(content string) ([]model.Term, error) {
	content = extractJSONObject(content)
	var resp struct {
		Terms []model.Term `json:"terms"`
	}
	if err := json.Unmarshal([]byte(content), &resp); err != nil {
		return nil, fmt.Errorf("failed to parse terminology response as JSON: %w\nResponse: %s", err, truncate(content, 300))
	}
	return resp.Terms, nil
}
