package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"policycopilot/internal/flow"
)

var flowsCmd = &cobra.Command{
	Use:   "flows",
	Short: "Print the flow table and the classifier rules",
	Args:  cobra.NoArgs,
	RunE:  runFlows,
}

func init() {
	rootCmd.AddCommand(flowsCmd)
}

func runFlows(cmd *cobra.Command, _ []string) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tPROMPT\tCITATION")
	for _, e := range flow.Table() {
		fmt.Fprintf(w, "%s\t%s\t%s p.%d\n", e.Key, e.Prompt, e.Citation.DocumentName, e.Citation.Page)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "#\tKEY\tMATCHES\tUNLESS")
	for i, r := range flow.Rules() {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", i+1, r.Key, strings.Join(r.Any, " | "), strings.Join(r.None, " | "))
	}
	return w.Flush()
}
