package analyzer

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"

	"github.com/devradar/devradar/pkg/models"
)

// ErrNoJSONFound is returned by ParseResponse when neither a fenced json
// block nor a bare {...} span can be located in the model's text.
var ErrNoJSONFound = errors.New("analyzer: no JSON object found in response")

// fencedJSONPattern matches a ```json ... ``` fenced block, preferred over
// the raw-span fallback.
var fencedJSONPattern = regexp.MustCompile("(?s)```json\\s*(\\{.*?\\})\\s*```")

// rawResponse mirrors the JSON object the system preamble asks the model
// for; every field is optional so a partial response still parses, with
// missing fields taking the documented defaults.
type rawResponse struct {
	Summary         string                  `json:"summary"`
	TechStack       *models.TechStack       `json:"techStack"`
	Complexity      string                  `json:"complexity"`
	Recommendations []models.Recommendation `json:"recommendations"`
	CompletionScore *int                    `json:"completionScore"`
	MaturityLevel   string                  `json:"maturityLevel"`
	ProductionGaps  []string                `json:"productionGaps"`
	EstimatedValue  *models.EstimatedValue  `json:"estimatedValue"`
}

// ParseResponse extracts and decodes the JSON object the model returned,
// applying the documented defaults for any field it omits. It never panics
// on malformed input; a decode
// failure returns ErrNoJSONFound (or the underlying json error) so the
// caller can substitute the fallback result instead.
func ParseResponse(text string) (*models.Analysis, error) {
	jsonText, ok := extractJSON(text)
	if !ok {
		return nil, ErrNoJSONFound
	}

	var raw rawResponse
	if err := json.Unmarshal([]byte(jsonText), &raw); err != nil {
		return nil, err
	}

	result := &models.Analysis{
		Summary:         raw.Summary,
		Complexity:      defaultString(raw.Complexity, "moderate"),
		Recommendations: raw.Recommendations,
		MaturityLevel:   defaultString(raw.MaturityLevel, "poc"),
		ProductionGaps:  raw.ProductionGaps,
	}
	if raw.TechStack != nil {
		result.TechStack = *raw.TechStack
	}
	if raw.CompletionScore != nil {
		result.CompletionScore = clamp(*raw.CompletionScore, 0, 100)
	}
	if raw.EstimatedValue != nil {
		result.EstimatedValue = *raw.EstimatedValue
	} else {
		result.EstimatedValue = models.EstimatedValue{Confidence: "low"}
	}
	return result, nil
}

// extractJSON prefers a fenced ```json block; failing that, it falls back
// to the first balanced {...} span in text.
func extractJSON(text string) (string, bool) {
	if m := fencedJSONPattern.FindStringSubmatch(text); len(m) == 2 {
		return m[1], true
	}
	return firstBraceSpan(text)
}

// firstBraceSpan returns the substring from the first "{" to its matching
// "}", tracking nesting depth so embedded objects don't truncate the span
// early.
func firstBraceSpan(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	for i := start; i < len(text); i++ {
		switch text[i] {
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

func defaultString(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// fallbackResult is the result substituted when the model's response could
// not be parsed at all: a high-priority tooling recommendation directing a
// human to review the project manually. Parse failure is never retried.
func fallbackResult() *models.Analysis {
	return &models.Analysis{
		Summary:    "Automated analysis could not parse the model's response; manual review is required.",
		Complexity: "moderate",
		Recommendations: []models.Recommendation{{
			Kind:        "tooling",
			Priority:    "high",
			Description: "The analyzer's response could not be parsed as structured JSON; please review this project manually.",
		}},
		MaturityLevel:  "poc",
		EstimatedValue: models.EstimatedValue{Confidence: "low"},
	}
}
