package cli

import (
	"context"
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/attrstore/internal/client"
)

// DefaultAddr is the server URL client commands talk to unless --addr is set.
const DefaultAddr = "http://127.0.0.1:7070"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	Addr    string // server base URL for client commands
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// client returns a client for the configured server.
func (o *RootOptions) client() *client.Client {
	return client.New(o.Addr)
}

// formatter returns an OutputFormatter bound to cmd's streams.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// NewRootCommand creates the root command for the attrstore CLI.
func NewRootCommand() *cobra.Command {
	cmd, _ := newRootCommand()
	return cmd
}

func newRootCommand() (*cobra.Command, *RootOptions) {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "attrstore",
		Short: "attrstore - versioned entity-attribute store",
		Long: `A versioned entity-attribute store with typed attributes, boolean
queries, and watch streams of matching entities.

Run "attrstore serve" to start a store; the other commands talk to a running
server at --addr.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Addr, "addr", DefaultAddr, "server URL")

	// Add subcommands
	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewPingCommand(opts))
	cmd.AddCommand(NewCreateAttributeTypeCommand(opts))
	cmd.AddCommand(NewGetCommand(opts))
	cmd.AddCommand(NewQueryCommand(opts))
	cmd.AddCommand(NewUpdateCommand(opts))
	cmd.AddCommand(NewDeleteCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewWatchRowsCommand(opts))
	cmd.AddCommand(NewLogCommand(opts))

	return cmd, opts
}

// Execute runs the CLI with args and returns the process exit code. Errors
// are reported once, in the format selected by --format.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd, opts := newRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return ExitSuccess
	}
	if !slices.Contains(ValidFormats, opts.Format) {
		opts.Format = "text"
	}
	f := &OutputFormatter{Format: opts.Format, Writer: stdout, ErrWriter: stderr, Verbose: opts.Verbose}
	_ = f.Fail(err)
	return GetExitCode(err)
}
