package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/wp-labs/wp-open-api/config"
)

func newSchemaCmd(opts *rootOptions) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema of pipeline files",
		Long: "Prints the JSON Schema that run and validate check every pipeline file\n" +
			"against. Editors can use it for completion of YAML and JSON pipelines.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			schema := config.Schema()
			if out == "" {
				_, err := cmd.OutOrStdout().Write(schema)
				return err
			}
			if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
				return fmt.Errorf("create output directory: %w", err)
			}
			if err := os.WriteFile(out, schema, 0o644); err != nil {
				return fmt.Errorf("write schema: %w", err)
			}
			opts.logger.Info("Schema written", "path", out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Write the schema to this file instead of stdout")
	return cmd
}
