package classify

import (
	"fmt"
	"strings"

	"github.com/kiranshivaraju/raven/pkg/models"
)

const paragraphTemplate = `You are a fundamental-analysis assistant.
Below is a **paragraph** from an SEC filing, surrounded by up to five neighboring chunks before and after it.

Decide if the TARGET paragraph is useful for fundamental analysis.
Reply JSON → {"relevant":"yes|no","why":"…"}

%s`

const tableTemplate = `You are a fundamental-analysis assistant.
Below is a **table excerpt** from an SEC filing (+context).

Mark relevant only if it holds financial data.
Reply JSON → {"relevant":"yes|no","why":"…"}

%s`

const tableFormatSystem = `Convert the following SEC table into structured data and detect units.
Return ONLY JSON with keys: title, units, headers, rows.
If no data → {"title":"","units":"","headers":[],"rows":[]}`

func contextBlock(chunks []string) string {
	if len(chunks) == 0 {
		return "(none)"
	}
	return strings.Join(chunks, "\n\n")
}

// BuildPrompt renders the classification prompt for a task.
func BuildPrompt(t Task) models.Prompt {
	ctx := "----- BEFORE -----\n" + contextBlock(t.Before) + "\n\n" +
		"===== TARGET =====\n" + t.Fragment.Excerpt() + "\n\n" +
		"----- AFTER ------\n" + contextBlock(t.After)

	tmpl := paragraphTemplate
	if t.Fragment.Kind == KindTable {
		tmpl = tableTemplate
	}
	return models.Prompt{User: fmt.Sprintf(tmpl, ctx), JSON: true}
}

// EstimateWeight approximates the token cost of a prompt: a quarter of the
// characters in each message (at least one) plus headroom for the reply.
func EstimateWeight(p models.Prompt) int {
	w := roughTokens(p.User)
	if p.System != "" {
		w += roughTokens(p.System)
	}
	return w + 150
}

func roughTokens(s string) int {
	return max(1, len(s)/4)
}
