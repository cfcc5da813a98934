package classify

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Relevance is the tri-state outcome of one classification.
type Relevance string

const (
	RelevanceYes   Relevance = "yes"
	RelevanceNo    Relevance = "no"
	RelevanceError Relevance = "error"
)

// Verdict is the parsed answer for one fragment. Raw keeps the provider
// text when it could not be parsed.
type Verdict struct {
	Relevant Relevance `json:"relevant"`
	Why      string    `json:"why"`
	Raw      string    `json:"raw,omitempty"`
}

// Actionable reports whether the fragment should be kept. Error verdicts
// are treated like "no".
func (v Verdict) Actionable() bool {
	return v.Relevant == RelevanceYes
}

var (
	fenceOpen  = regexp.MustCompile("(?i)^```(?:json)?\\s*")
	fenceClose = regexp.MustCompile("\\s*```$")
)

// StripFences removes a surrounding markdown code fence, if any.
func StripFences(raw string) string {
	raw = strings.TrimSpace(raw)
	raw = fenceOpen.ReplaceAllString(raw, "")
	return fenceClose.ReplaceAllString(raw, "")
}

// ParseVerdict turns provider text into a Verdict. It never fails: invalid
// JSON or a missing "relevant" key yields an error verdict with a diagnostic.
func ParseVerdict(text string) Verdict {
	var data map[string]any
	if err := json.Unmarshal([]byte(StripFences(text)), &data); err != nil {
		return Verdict{
			Relevant: RelevanceError,
			Why:      fmt.Sprintf("invalid JSON (%v)", err),
			Raw:      text,
		}
	}

	why, _ := data["why"].(string)
	rel, ok := data["relevant"]
	if !ok {
		if why == "" {
			why = "missing 'relevant' key"
		}
		return Verdict{Relevant: RelevanceError, Why: why, Raw: text}
	}

	switch v := rel.(type) {
	case string:
		s := strings.ToLower(strings.TrimSpace(v))
		switch {
		case strings.HasPrefix(s, "y"):
			return Verdict{Relevant: RelevanceYes, Why: why}
		case s == string(RelevanceError):
			return Verdict{Relevant: RelevanceError, Why: why, Raw: text}
		default:
			return Verdict{Relevant: RelevanceNo, Why: why}
		}
	case bool:
		if v {
			return Verdict{Relevant: RelevanceYes, Why: why}
		}
		return Verdict{Relevant: RelevanceNo, Why: why}
	default:
		return Verdict{
			Relevant: RelevanceError,
			Why:      fmt.Sprintf("unexpected 'relevant' value %v", rel),
			Raw:      text,
		}
	}
}
