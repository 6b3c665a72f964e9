package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newQuotaCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "quota",
		Short: "Show the remaining trace.moe search quota",
		Long: `Shows the search quota trace.moe grants to this IP address, or to the
API key in TRACE_MOE_KEY when one is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts, false)
			if err != nil {
				return err
			}

			quota, err := a.client.Me(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to fetch quota: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "Priority", "Concurrency", "Used", "Quota"},
				[][]string{{
					quota.ID,
					fmt.Sprintf("%d", quota.Priority),
					fmt.Sprintf("%d", quota.Concurrency),
					fmt.Sprintf("%d", quota.QuotaUsed),
					fmt.Sprintf("%d", quota.Quota),
				}},
				[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight},
			))
			return nil
		},
	}
}
