package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newKeysCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Inspect trust lists",
	}
	cmd.AddCommand(newKeysListCommand(opts))
	return cmd
}

func newKeysListCommand(opts *options) *cobra.Command {
	flags := &keyFlags{}
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the key identifiers in a trust list",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			keys, err := flags.openKeys(cmd.Context(), opts.logger(cmd))
			if err != nil {
				return err
			}
			summaries, err := keys.List(cmd.Context())
			if err != nil {
				return err
			}
			if opts.output != outputText {
				return writeStructured(cmd.OutOrStdout(), opts.output, summaries)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KID\tDISPLAY")
			for _, k := range summaries {
				fmt.Fprintf(tw, "%s\t%s\n", k.KeyID, k.Display)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d keys\n", len(summaries))
			return nil
		},
	}
	flags.register(cmd, true)
	return cmd
}
