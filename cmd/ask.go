package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"policycopilot/internal/flow"
)

var askSuggestion bool

var askCmd = &cobra.Command{
	Use:   "ask [--suggestion] <text>",
	Short: "Classify a question offline and print the reply",
	Long: `ask runs the intent classifier on the given text without starting the
service and prints the reply the copilot would give, with its citation and
follow-up suggestions.

Example:
  policycopilot ask "What is the state guarantee?"
  policycopilot ask --suggestion "Show Technical Standards"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	rootCmd.AddCommand(askCmd)
	askCmd.Flags().BoolVar(&askSuggestion, "suggestion", false, "treat the text as a clicked suggestion")
}

func runAsk(cmd *cobra.Command, args []string) error {
	text := strings.TrimSpace(strings.Join(args, " "))
	if text == "" {
		return errors.New("question text is required")
	}
	src := flow.SourceTyped
	if askSuggestion {
		src = flow.SourceSuggestion
	}
	reply := flow.Resolve(text, src)

	out := cmd.OutOrStdout()
	key := string(reply.Key)
	if reply.Clarified() {
		key = "clarify"
	}
	fmt.Fprintf(out, "flow: %s (%s)\n\n", key, src)
	for _, line := range strings.Split(reply.Content, "\n") {
		var b strings.Builder
		for _, span := range flow.Spans(line) {
			if span.Bold {
				b.WriteString(strings.ToUpper(span.Text))
			} else {
				b.WriteString(span.Text)
			}
		}
		fmt.Fprintln(out, b.String())
	}
	for _, c := range reply.Citations {
		fmt.Fprintf(out, "\nsource: %s, page %d\n", c.DocumentName, c.Page)
	}
	if len(reply.Suggestions) > 0 {
		fmt.Fprintf(out, "\nnext: %s\n", strings.Join(reply.Suggestions, " | "))
	}
	return nil
}
