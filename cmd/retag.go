package cmd

import (
	"github.com/spf13/cobra"

	"github.com/shipengqi/registry-api/pkg/docker/registry/client"
	"github.com/shipengqi/registry-api/pkg/log"
)

func retagCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retag <tag|image> <new-tag>",
		Short: "Push the manifest of a tag again under a new tag of the same repository.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, tag, err := clientFor(ctx, args[0])
			if err != nil {
				return err
			}
			m, err := c.GetManifest(ctx, tag, false)
			if err != nil {
				return err
			}
			if _, err = c.ReTag(ctx, m, args[1]); err != nil {
				return err
			}
			d, err := client.Digest(m)
			if err != nil {
				return err
			}
			log.Infof("Tagged %s:%s as %s (%s).", c.Repository(), tag, args[1], d)
			return nil
		},
	}
	cmd.Flags().SortFlags = false
	return cmd
}
