// Package nlq answers natural-language KPI questions. It detects the one
// supported intent (compare CAC/ROAS, last 30 vs prior 30 days) with
// keyword matching and optionally asks an LLM to summarize the computed
// table.
package nlq

import (
	"fmt"
	"regexp"
)

var (
	kpiPattern     = regexp.MustCompile(`(?i)\b(cac|roas)\b`)
	comparePattern = regexp.MustCompile(`(?i)\b(compare|vs|versus|comparar)\b`)
	last30Pattern  = regexp.MustCompile(`(?i)(\b(last|past)\s*30\b|últimos\s*30)`)
	prior30Pattern = regexp.MustCompile(`(?i)(\b(prior|previous|prev)\s*30\b|anteriores\s*30)`)
)

// WantsCompare reports whether the question carries the KPI compare
// intent: a KPI name, a comparison word, and both window references.
func WantsCompare(question string) bool {
	return kpiPattern.MatchString(question) &&
		comparePattern.MatchString(question) &&
		last30Pattern.MatchString(question) &&
		prior30Pattern.MatchString(question)
}

const systemPrompt = "You are a friendly but precise marketing analyst. " +
	"Explain KPI changes factually using the table provided. " +
	"Call out notable increases/decreases in CAC and ROAS, and mention any caveats."

// BuildPrompts assembles the system and user prompts sent to the
// summarizer, embedding the question, the anchor date and the markdown
// metrics table.
func BuildPrompts(question, anchorDate, markdownTable string) (string, string) {
	user := fmt.Sprintf(
		"Question: %s\n\n"+
			"Anchor date (end of last-30 window): %s\n"+
			"Metrics table (last 30 vs prior 30):\n%s\n\n"+
			"Summarize CAC and ROAS changes in 1-2 short sentences.",
		question, anchorDate, markdownTable,
	)
	return systemPrompt, user
}
