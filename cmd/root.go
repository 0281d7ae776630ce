// Package cmd defines the cmdgate command line.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/cmdgate/internal/config"
)

// options carries persistent flag values for one command tree.
type options struct {
	cfgFile string
}

func (o *options) load() (config.Config, error) {
	cfg, err := config.Load(o.cfgFile)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// newRootCmd creates the root command and its subcommands.
func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "cmdgate",
		Short: "A tiny command server speaking minimal HTTP over raw TCP.",
		Long: `cmdgate accepts one-line GET/HEAD requests such as
"GET /play?file=a.mp3 HTTP/1.1", fires the named command at its in-process
subscribers and answers with a minimal HTTP response.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (YAML, JSON or TOML)")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newLookupCmd(opts))
	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
