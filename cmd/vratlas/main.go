package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/Auros/VRAtlas.API-sub000/internal/config"
)

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

// exitError carries a process exit code through cobra.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func fail(code int, format string, args ...any) error {
	return &exitError{code: code, err: fmt.Errorf(format, args...)}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		os.Exit(exitRuntimeError)
	}
}

func newRootCmd() *cobra.Command {
	var envFile string

	root := &cobra.Command{
		Use:           "vratlas",
		Short:         "VRAtlas event lifecycle, scheduling and notification service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if envFile != "" {
				if err := godotenv.Load(envFile); err != nil {
					return fail(exitInvalidConfig, "load %s: %v", envFile, err)
				}
				return nil
			}
			// A missing default .env is fine.
			_ = godotenv.Load()
			return nil
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", "", "load environment variables from this file first")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Start the API, event bus, scheduler and reconciler",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := loadValid()
				if err != nil {
					return err
				}
				return serve(cmd.Context(), cfg)
			},
		},
		&cobra.Command{
			Use:   "validate",
			Short: "Validate configuration (no connections made)",
			RunE: func(cmd *cobra.Command, args []string) error {
				if _, err := loadValid(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "configuration valid")
				return nil
			},
		},
		&cobra.Command{
			Use:   "config",
			Short: "Print effective configuration as JSON (secrets masked)",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := config.Load()
				if err != nil {
					return fail(exitInvalidConfig, "%v", err)
				}
				data, err := cfg.MaskedJSON()
				if err != nil {
					return fail(exitRuntimeError, "marshal config: %v", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return nil
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "vratlas version %s (commit: %s)\n", version, commit)
			},
		},
	)
	return root
}

func loadValid() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, fail(exitInvalidConfig, "configuration error: %v", err)
	}
	if err := config.Validate(cfg); err != nil {
		return cfg, fail(exitInvalidConfig, "configuration error: %v", err)
	}
	return cfg, nil
}
