package main

import (
	stderrors "errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/wp-labs/wp-open-api/config"
	"github.com/wp-labs/wp-open-api/connector"
	"github.com/wp-labs/wp-open-api/registry"
)

func newValidateCmd(opts *rootOptions) *cobra.Command {
	var configPaths []string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a pipeline without starting it",
		Long: "Loads the pipeline files, checks them against the schema and asks every\n" +
			"connector factory to validate its parameters. Nothing is connected.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configPaths)
			if err != nil {
				return err
			}
			reg := registry.New()
			if err := registry.RegisterBuiltins(reg, connector.Dependencies{Logger: opts.logger}); err != nil {
				return err
			}
			if err := validatePipeline(cmd.OutOrStdout(), cfg, reg); err != nil {
				return err
			}
			opts.logger.Info("Configuration is valid")
			return nil
		},
	}
	configFlag(cmd, &configPaths)
	return cmd
}

// validatePipeline runs ValidateSpec for every source and sink and prints
// one line per instance. All problems are reported together.
func validatePipeline(w io.Writer, cfg *config.Config, reg *registry.Registry) error {
	sources, err := cfg.SourceSpecs(reg)
	if err != nil {
		return err
	}
	groups, err := cfg.ResolveSinkGroups(reg)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ROLE\tNAME\tKIND\tSTATUS")

	var errs []error
	status := func(err error) string {
		if err != nil {
			errs = append(errs, err)
			return "invalid: " + err.Error()
		}
		return "ok"
	}

	for _, spec := range sources {
		f, err := reg.Source(spec.Kind)
		if err == nil {
			err = f.ValidateSpec(spec)
		}
		if err != nil {
			err = fmt.Errorf("source %s: %w", spec.Name, err)
		}
		fmt.Fprintf(tw, "source\t%s\t%s\t%s\n", spec.Name, spec.Kind, status(err))
	}
	for _, g := range groups {
		for _, spec := range g.Specs {
			f, err := reg.Sink(spec.Kind)
			if err == nil {
				err = f.ValidateSpec(spec)
			}
			if err != nil {
				err = fmt.Errorf("sink %s: %w", spec.FullName(), err)
			}
			fmt.Fprintf(tw, "sink x%d\t%s\t%s\t%s\n", g.Replicas, spec.FullName(), spec.Kind, status(err))
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	return stderrors.Join(errs...)
}
