package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v2"

	"github.com/shipengqi/registry-api/pkg/docker/registry/client"
	"github.com/shipengqi/registry-api/pkg/docker/registry/manifest"
)

const (
	outputJSON = "json"
	outputYAML = "yaml"
)

type manifestOptions struct {
	Output string
}

func addManifestFlags(flagSet *pflag.FlagSet, opts *manifestOptions) {
	flagSet.StringVarP(&opts.Output, "output", "o", outputJSON, "Output format, json or yaml.")
}

func manifestCommand() *cobra.Command {
	opts := &manifestOptions{}
	cmd := &cobra.Command{
		Use:   "manifest <tag|image>",
		Short: "Print the decoded manifest of a tag and its digest.",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.Output != outputJSON && opts.Output != outputYAML {
				return errors.Errorf("unknown output format %q", opts.Output)
			}
			return nil
		},
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
			d, err := client.Digest(m)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if err = printManifest(out, m, opts.Output); err != nil {
				return err
			}
			fmt.Fprintf(out, "Digest: %s\n", d)
			return nil
		},
	}
	cmd.Flags().SortFlags = false
	addManifestFlags(cmd.Flags(), opts)
	return cmd
}

func printManifest(w io.Writer, m manifest.Manifest, output string) error {
	var (
		data []byte
		err  error
	)
	switch output {
	case outputYAML:
		data, err = yaml.Marshal(yamlValue(map[string]interface{}(m)))
	default:
		data, err = json.MarshalIndent(m, "", "  ")
		data = append(data, '\n')
	}
	if err != nil {
		return errors.Wrapf(err, "%s marshal", output)
	}
	_, err = w.Write(data)
	return err
}

// yamlValue turns json.Number values back into plain numbers so they are not
// quoted in the yaml output.
func yamlValue(v interface{}) interface{} {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			out[k] = yamlValue(e)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = yamlValue(e)
		}
		return out
	case []map[string]interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = yamlValue(e)
		}
		return out
	}
	return v
}
