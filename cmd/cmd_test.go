package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()
	askSuggestion = false
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		askSuggestion = false
	})
	require.NoError(t, rootCmd.Execute())
	return out.String()
}

func TestAskTyped(t *testing.T) {
	out := execute(t, "ask", "How does the Payment Security Mechanism work?")

	assert.Contains(t, out, "flow: payment (typed)")
	assert.Contains(t, out, "REVOLVING FUND")
	assert.Contains(t, out, "source: CESL Tender, page 12")
	assert.NotContains(t, out, "**")
}

func TestAskFallbackDependsOnSource(t *testing.T) {
	out := execute(t, "ask", "hello there")
	assert.Contains(t, out, "flow: clarify (typed)")
	assert.Contains(t, out, "next: Fiscal Incentives | Technical Standards")
	assert.NotContains(t, out, "source:")

	out = execute(t, "ask", "--suggestion", "hello there")
	assert.Contains(t, out, "flow: payment (suggestion)")
}

func TestFlowsListsRulesInOrder(t *testing.T) {
	out := execute(t, "flows")

	assert.Contains(t, out, "KEY")
	assert.Contains(t, out, "vietnam_compare")
	assert.Contains(t, out, "indonesia_compare")
	assert.Contains(t, out, "1   fame")
	assert.Contains(t, out, "10  payment")
}
