package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

func newProvidersCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "providers",
		Short: "List configured sources and their circuit state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			runtime, err := opts.runtime(cmd)
			if err != nil {
				return err
			}
			defer runtime.Close()

			diagnostics := runtime.Service.Diagnostics(time.Now())
			out := cmd.OutOrStdout()
			if lo.Must(cmd.Flags().GetBool("json")) {
				encoder := json.NewEncoder(out)
				encoder.SetIndent("", "  ")
				return encoder.Encode(diagnostics)
			}

			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tSTATE\tFAILURES\tCOOLDOWN")
			for _, item := range diagnostics {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", item.Name, item.State, item.ConsecutiveFailures, lo.Ternary(item.Cooldown == "", "-", item.Cooldown))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolP("json", "j", false, "Print diagnostics as JSON")
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the musicsearch version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println(Version)
		},
	}
}
