package enrich

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/scrypster/recall/pkg/types"
)

func TestCanonicalName(t *testing.T) {
	cases := map[string]string{
		"Behavior Cloning (BC)":          "behavior cloning",
		"behavior   cloning":             "behavior cloning",
		"LoRA (Low-Rank Adaptation)":     "lora",
		"Transformer":                    "transformer",
		"  Mixed   Case  With Spaces  ":  "mixed case with spaces",
		"A (B) C (D)":                    "a c",
	}
	for raw, want := range cases {
		assert.Equal(t, want, CanonicalName(raw), raw)
	}
}

func TestExtractAliases(t *testing.T) {
	assert.Equal(t, []string{"BC"}, ExtractAliases("Behavior Cloning (BC)"))
	assert.Equal(t, []string{"B", "D"}, ExtractAliases("A (B) C (D)"))
	assert.Nil(t, ExtractAliases("no aliases here"))
	assert.Nil(t, ExtractAliases("empty parens ()"))
}

func TestNormalizeConcept(t *testing.T) {
	c := types.Concept{Name: " Behavior Cloning (BC) ", Aliases: []string{"imitation baseline"}}
	NormalizeConcept(&c)

	assert.Equal(t, "Behavior Cloning (BC)", c.Name)
	assert.Equal(t, "behavior cloning", c.CanonicalName)
	assert.Equal(t, []string{"imitation baseline", "BC"}, c.Aliases)
	assert.Equal(t, types.ImportanceSupporting, c.Importance)

	// Two spellings of the same concept share a merge key.
	other := types.Concept{Name: "behavior cloning"}
	NormalizeConcept(&other)
	assert.Equal(t, c.CanonicalName, other.CanonicalName)
}
