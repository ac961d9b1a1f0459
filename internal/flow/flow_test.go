package flow

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"policycopilot/internal/models"
)

func TestTableHasNineUniqueFlows(t *testing.T) {
	table := Table()
	require.Len(t, table, 9)
	seen := map[Key]bool{}
	for _, e := range table {
		assert.False(t, seen[e.Key], "duplicate key %s", e.Key)
		seen[e.Key] = true
		assert.NotEmpty(t, e.Answer)
		assert.NotEmpty(t, e.Citation.DocumentName)
		assert.Positive(t, e.Citation.Page)
	}
}

func TestTableReturnsCopies(t *testing.T) {
	table := Table()
	table[0].Suggestions[0] = "mutated"
	e, ok := Lookup(table[0].Key)
	require.True(t, ok)
	assert.NotEqual(t, "mutated", e.Suggestions[0])
}

func TestClassify(t *testing.T) {
	cases := []struct {
		in   string
		want Key
	}{
		{"battery", KeyBattery},
		{"Check Battery Swapping rules", KeyBattery},
		{"How does the Payment Security Mechanism work?", KeyPayment},
		{"FAME II Incentives Cap", KeyFame},
		{"fame and battery and payment", KeyFame},
		{"battery risk", KeyBattery},
		{"Show Battery Specs", KeyTechStandards},
		{"Does it cover State Guarantees?", KeyStateGuarantee},
		{"Analyze Risk Factors", KeyRisk},
		{"charging connectors", KeyTechStandards},
		{"Fiscal Incentives details", KeyFiscal},
		{"registration fee", KeyFiscal},
		{"How does this compare to Vietnam?", KeyVietnamCompare},
		{"india", KeyVietnamCompare},
		{"What about Indonesia?", KeyIndonesiaCompare},
		{"any other incentive?", KeyPayment},
		{"incentive guarantee", KeyStateGuarantee},
		{"risk incentive", KeyRisk},
	}
	for _, tc := range cases {
		got, ok := Classify(tc.in)
		assert.True(t, ok, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}

	_, ok := Classify("hello there")
	assert.False(t, ok)
	_, ok = Classify("")
	assert.False(t, ok)
}

func TestEverySuggestionLabelIsRouted(t *testing.T) {
	unrouted := map[string]bool{"Back to Main Menu": true}
	for _, e := range Table() {
		for _, s := range e.Suggestions {
			_, ok := Classify(s)
			if unrouted[s] {
				assert.False(t, ok, s)
				continue
			}
			assert.True(t, ok, "suggestion %q of %s has no rule", s, e.Key)
		}
	}
}

func TestRulesOrderStartsWithFame(t *testing.T) {
	r := Rules()
	require.NotEmpty(t, r)
	assert.Equal(t, KeyFame, r[0].Key)
	r[0].Any[0] = "changed"
	assert.Equal(t, "fame", Rules()[0].Any[0])
}

func TestResolvePaymentScenario(t *testing.T) {
	reply := Resolve("How does the Payment Security Mechanism work?", SourceTyped)
	assert.Equal(t, KeyPayment, reply.Key)
	assert.Contains(t, reply.Content, "revolving fund")
	require.Len(t, reply.Citations, 1)
	assert.Equal(t, "CESL Tender", reply.Citations[0].DocumentName)
	assert.Equal(t, 12, reply.Citations[0].Page)
}

func TestResolveFallbackAsymmetry(t *testing.T) {
	typed := Resolve("tell me something", SourceTyped)
	assert.True(t, typed.Clarified())
	assert.Empty(t, typed.Citations)
	assert.Equal(t, []string{"Fiscal Incentives", "Technical Standards"}, typed.Suggestions)

	clicked := Resolve("Back to Main Menu", SourceSuggestion)
	assert.Equal(t, KeyPayment, clicked.Key)
	assert.Contains(t, clicked.Content, "revolving fund")
}

func TestGreeting(t *testing.T) {
	in := Greeting(models.Workspace{ID: "in", Name: "India Exchange"}, "")
	assert.True(t, strings.HasPrefix(in.Content, "Hello Arjun."))
	assert.Contains(t, in.Content, "**India Exchange**")
	assert.Len(t, in.Suggestions, 3)

	vn := Greeting(models.Workspace{ID: "vn", Name: "Vietnam Exchange"}, "Lan")
	assert.True(t, strings.HasPrefix(vn.Content, "Hello Lan."))
	assert.NotEqual(t, in.Suggestions, vn.Suggestions)

	other := Greeting(models.Workspace{ID: "xx", Name: "Elsewhere"}, "")
	assert.True(t, strings.HasPrefix(other.Content, "Hello there."))
	assert.Empty(t, other.Citations)
}

func TestSpans(t *testing.T) {
	spans := Spans("The **PSM** uses a **revolving fund** structure.")
	assert.Equal(t, []Span{
		{Text: "The "},
		{Text: "PSM", Bold: true},
		{Text: " uses a "},
		{Text: "revolving fund", Bold: true},
		{Text: " structure."},
	}, spans)
	assert.Nil(t, Spans(""))
	assert.Equal(t, []Span{{Text: "plain"}}, Spans("plain"))
}

func TestParseSource(t *testing.T) {
	assert.Equal(t, SourceSuggestion, ParseSource(" Suggestion "))
	assert.Equal(t, SourceTyped, ParseSource("typed"))
	assert.Equal(t, SourceTyped, ParseSource(""))
	assert.Equal(t, "suggestion", SourceSuggestion.String())
}
