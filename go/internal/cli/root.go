// Package cli is the bazaar command line: watch a room, place a bid, list
// auctions, or serve local views.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mcdev12/bazaar/go/clients/marketplace_client"
	"github.com/mcdev12/bazaar/go/internal/auction/snapshot"
	"github.com/mcdev12/bazaar/go/internal/config"
	"github.com/mcdev12/bazaar/go/internal/logging"
)

// RootOptions holds global flags and what PersistentPreRunE loads from them.
type RootOptions struct {
	ConfigPath string
	EnvFiles   []string
	Verbose    bool
	Format     string // "json" | "text"

	Config    *config.Config
	logCloser io.Closer
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// Execute runs the CLI with args and returns the process exit code. Errors
// are reported once here, in the selected format.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd, opts := newRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	opts.close()
	if err == nil {
		return ExitSuccess
	}

	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		err = WrapExitError(ExitCommandError, "invalid usage", err)
	}

	format := opts.Format
	if !slices.Contains(ValidFormats, format) {
		format = "text"
	}
	out := &OutputFormatter{Format: format, Writer: stdout, ErrWriter: stderr}
	out.Error(err)
	return GetExitCode(err)
}

// NewRootCommand creates the root command for the bazaar CLI.
func NewRootCommand() *cobra.Command {
	cmd, _ := newRootCommand()
	return cmd
}

func newRootCommand() (*cobra.Command, *RootOptions) {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "bazaar",
		Short:         "Live auction client",
		Long:          "Follow live auctions with a server-synchronized countdown and place bids over the live channel or the REST fallback.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return opts.load(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return opts.close()
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to a YAML config file")
	cmd.PersistentFlags().StringSliceVar(&opts.EnvFiles, "env-file", []string{".env"}, "env files to load before reading the environment")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewBidCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))

	return cmd, opts
}

func (o *RootOptions) load(cmd *cobra.Command) error {
	if err := config.LoadEnvFiles(o.EnvFiles...); err != nil {
		return WrapExitError(ExitCommandError, "failed to load env files", err)
	}
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if o.Verbose {
		cfg.Logging.Level = "debug"
	}

	closer, err := logging.Setup(logging.Options{
		Level:      cfg.Logging.Level,
		JSON:       cfg.Logging.JSON,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Out:        cmd.ErrOrStderr(),
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to set up logging", err)
	}

	o.Config = cfg
	o.logCloser = closer
	log.Debug().
		Str("api", cfg.API.BaseURL).
		Str("transport", cfg.Channel.Transport).
		Msg("configuration loaded")
	return nil
}

func (o *RootOptions) close() error {
	if o.logCloser == nil {
		return nil
	}
	err := o.logCloser.Close()
	o.logCloser = nil
	return err
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// fetcher builds the REST snapshot source from the loaded config.
func (o *RootOptions) fetcher() *snapshot.Fetcher {
	client := marketplace_client.NewMarketplaceClient(o.Config.API.BaseURL, o.Config.API.Token)
	return snapshot.NewFetcher(client, nil, o.Config.SnapshotConfig())
}
