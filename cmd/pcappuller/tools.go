package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"pcappuller/internal/tools"
)

var toolsJSONFlag bool

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Check that the external capture tools are installed",
	Long: `List the Wireshark command-line tools pcappuller uses and where they were found.

mergecap and editcap are always required. capinfos is needed for
--precise-filter, --report and --summary; tshark for --display-filter.`,
	Args: cobra.NoArgs,
	RunE: runTools,
}

func init() {
	toolsCmd.Flags().BoolVar(&toolsJSONFlag, "json", false, "Output as JSON")
	rootCmd.AddCommand(toolsCmd)
}

func runTools(cmd *cobra.Command, _ []string) error {
	tc := tools.New(tools.NewExecRunner(cfg.Tools.Timeout), toolNames(), logger)
	statuses := tc.Check(tools.Requirements{})
	out := cmd.OutOrStdout()

	if toolsJSONFlag {
		data, err := json.MarshalIndent(statuses, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
	} else {
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ROLE\tTOOL\tSTATUS\tPATH")
		for _, s := range statuses {
			status := "found"
			if !s.Found {
				status = "missing"
				if !s.Required {
					status = "missing (optional)"
				}
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.Role, s.Name, status, s.Path)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	return tc.Ensure(tools.Requirements{})
}
