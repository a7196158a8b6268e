// Command cronhook runs the recurring webhook scheduler and its HTTP API.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/djlord-it/cronhook/internal/config"
	"github.com/djlord-it/cronhook/internal/errors"
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

// exitError carries a process exit code out of a cobra RunE.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func withCode(code int, err error) error {
	return &exitError{code: code, err: err}
}

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

// execute runs the CLI with args and returns the process exit code.
func execute(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)

	err := root.Execute()
	if err == nil {
		return exitSuccess
	}
	fmt.Fprintln(stderr, err)

	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	// Unknown command or bad flags.
	return exitRuntimeError
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:   "cronhook",
		Short: "cronhook - recurring webhook scheduler",
		Long: `cronhook runs named jobs on cron schedules and calls a webhook on every firing.

Jobs are kept in a single JSON file (STORE_PATH) and managed over HTTP:
  GET    /health
  GET    /jobs
  POST   /jobs
  GET    /jobs/{id}
  DELETE /jobs/{id}
  GET    /jobs/{id}/executions

Configuration comes from environment variables, optionally layered over a
config file given with --config. Run "cronhook config" to see every setting.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVar(&configFile, "config", "", "config file (yaml, json or toml) read beneath the environment")

	load := func() (config.Config, error) {
		v, err := config.NewViper(configFile)
		if err != nil {
			return config.Config{}, withCode(exitInvalidConfig, err)
		}
		return config.LoadWithViper(v), nil
	}

	root.AddCommand(
		newServeCmd(load),
		newValidateCmd(load),
		newConfigCmd(load),
		newVersionCmd(),
		newCheckScheduleCmd(),
	)
	return root
}

type loadFunc func() (config.Config, error)

func newValidateCmd(load loadFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration (no files opened, no connections made)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if err := config.Validate(cfg); err != nil {
				return withCode(exitInvalidConfig, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "configuration valid")
			return nil
		},
	}
}

func newConfigCmd(load loadFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print effective configuration as JSON (secrets masked)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			data, err := cfg.MaskedJSON()
			if err != nil {
				return withCode(exitRuntimeError, errors.Wrap(err, "marshal config"))
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "cronhook version %s (commit: %s)\n", version, commit)
		},
	}
}
