// Package enrich runs the staged enrichment pipeline for captured content:
// analysis, summaries, extraction, tagging, connection discovery, follow-ups
// and questions, card generation, and the tri-store persistence pass.
package enrich

import (
	"regexp"
	"strings"

	"github.com/scrypster/recall/pkg/types"
)

var parenRe = regexp.MustCompile(`\(([^()]*)\)`)

// CanonicalName normalizes a concept name into its graph merge key:
// lowercase, parenthesized aliases stripped, whitespace collapsed.
// "Behavior Cloning (BC)" and "behavior cloning" collapse to the same key.
func CanonicalName(raw string) string {
	stripped := parenRe.ReplaceAllString(raw, " ")
	return strings.ToLower(strings.Join(strings.Fields(stripped), " "))
}

// ExtractAliases returns the parenthesized tokens of a raw concept name as
// additional names, e.g. "Behavior Cloning (BC)" yields ["BC"].
func ExtractAliases(raw string) []string {
	var aliases []string
	for _, m := range parenRe.FindAllStringSubmatch(raw, -1) {
		alias := strings.TrimSpace(m[1])
		if alias != "" {
			aliases = append(aliases, alias)
		}
	}
	return aliases
}

// NormalizeConcept fills the derived identity fields of an extracted
// concept in place: canonical name, aliases unioned with any the model
// already provided, and a default importance.
func NormalizeConcept(c *types.Concept) {
	c.Name = strings.TrimSpace(c.Name)
	c.CanonicalName = CanonicalName(c.Name)
	c.Aliases = unionStrings(c.Aliases, ExtractAliases(c.Name))
	if c.Importance == "" {
		c.Importance = types.ImportanceSupporting
	}
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, s := range append(append([]string{}, a...), b...) {
		s = strings.TrimSpace(s)
		key := strings.ToLower(s)
		if s == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	return out
}
