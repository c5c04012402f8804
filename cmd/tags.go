package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type tagsOptions struct {
	Prefetch    bool
	Concurrency int
}

func addTagsFlags(flagSet *pflag.FlagSet, opts *tagsOptions) {
	flagSet.BoolVar(&opts.Prefetch, "prefetch", false, "Also fetch the manifest of every tag.")
	flagSet.IntVar(&opts.Concurrency, "concurrency", 4, "Manifests fetched at once with --prefetch.")
}

func tagsCommand() *cobra.Command {
	opts := &tagsOptions{}
	cmd := &cobra.Command{
		Use:   "tags",
		Short: "List the tags of the repository.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := newClient(ctx, Conf.ClientOptions())
			if err != nil {
				return err
			}
			tags, err := c.ListTags(ctx, false)
			if err != nil {
				return err
			}
			if opts.Prefetch {
				if err = c.Prefetch(ctx, opts.Concurrency); err != nil {
					return err
				}
			}
			out := cmd.OutOrStdout()
			for _, tag := range tags {
				fmt.Fprintln(out, tag)
			}
			return nil
		},
	}
	cmd.Flags().SortFlags = false
	addTagsFlags(cmd.Flags(), opts)
	return cmd
}
