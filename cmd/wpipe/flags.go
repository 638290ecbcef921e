package main

import (
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// rootOptions holds the persistent flags shared by every sub-command.
type rootOptions struct {
	LogLevel  string
	LogFormat string
	Debug     bool

	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           appName,
		Short:         "Run connector pipelines",
		Version:       fmt.Sprintf("%s (build %s)", Version, BuildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if opts.Debug {
				opts.LogLevel = "debug"
			}
			if err := validateLogFlags(opts); err != nil {
				return err
			}
			opts.logger = setupLogger(opts.LogLevel, opts.LogFormat, cmd.ErrOrStderr())
			slog.SetDefault(opts.logger)
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.LogLevel, "log-level", getEnv("WPIPE_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: WPIPE_LOG_LEVEL)")
	flags.StringVar(&opts.LogFormat, "log-format", getEnv("WPIPE_LOG_FORMAT", "text"),
		"Log format: json, text (env: WPIPE_LOG_FORMAT)")
	flags.BoolVar(&opts.Debug, "debug", getEnvBool("WPIPE_DEBUG", false),
		"Enable debug logging (env: WPIPE_DEBUG)")

	cmd.AddCommand(
		newRunCmd(opts),
		newValidateCmd(opts),
		newDataTypesCmd(),
		newControlCmd(opts),
		newSchemaCmd(opts),
	)
	return cmd
}

// configFlag registers the repeatable --config flag. Later files override
// earlier ones.
func configFlag(cmd *cobra.Command, dst *[]string) {
	def := []string{"pipeline.yaml"}
	if env := getEnv("WPIPE_CONFIG", ""); env != "" {
		def = strings.Split(env, ",")
	}
	cmd.Flags().StringSliceVarP(dst, "config", "c", def,
		"Pipeline file(s), later files override earlier ones (env: WPIPE_CONFIG)")
}

func validateLogFlags(opts *rootOptions) error {
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, strings.ToLower(opts.LogLevel)) {
		return fmt.Errorf("invalid log level: %s", opts.LogLevel)
	}
	if !slices.Contains([]string{"json", "text"}, strings.ToLower(opts.LogFormat)) {
		return fmt.Errorf("invalid log format: %s", opts.LogFormat)
	}
	return nil
}

// Environment variable helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
