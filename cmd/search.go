package cmd

import (
	"fmt"

	"github.com/gosuri/uiprogress"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type searchOptions struct {
	Progress bool
}

func addSearchFlags(flagSet *pflag.FlagSet, opts *searchOptions) {
	flagSet.BoolVarP(&opts.Progress, "progress", "p", false, "Show a progress bar while manifests are fetched.")
}

func searchCommand() *cobra.Command {
	opts := &searchOptions{}
	cmd := &cobra.Command{
		Use:   "search <key> <value>",
		Short: "Print the tags whose manifest carries the label key=value.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := newClient(ctx, Conf.ClientOptions())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			s := c.SearchLabels(ctx, args[0], args[1])
			if !opts.Progress {
				for s.Next() {
					fmt.Fprintln(out, s.Tag())
				}
				return s.Err()
			}

			tags, err := c.ListTags(ctx, false)
			if err != nil {
				return err
			}
			uiprogress.Start()
			bar := uiprogress.AddBar(len(tags)).AppendCompleted().PrependElapsed()
			var matches []string
			for s.Next() {
				matches = append(matches, s.Tag())
				scanned, _ := s.Scanned()
				_ = bar.Set(scanned)
			}
			_ = bar.Set(len(tags))
			uiprogress.Stop()

			for _, tag := range matches {
				fmt.Fprintln(out, tag)
			}
			return s.Err()
		},
	}
	cmd.Flags().SortFlags = false
	addSearchFlags(cmd.Flags(), opts)
	return cmd
}
