package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/cmdgate/internal/archive"
	"github.com/JakeFAU/cmdgate/internal/config"
	"github.com/JakeFAU/cmdgate/internal/server"
)

func newLookupCmd(opts *options) *cobra.Command {
	var driver, dsn string
	cmd := &cobra.Command{
		Use:   "lookup <url> <timestamp>",
		Short: "Print the archived capture of url closest to timestamp",
		Long: `lookup queries the archive index directly, without starting the server.
The timestamp may be "2012-04-23 23:45:02", 2012-04-23T23:45:02 or
20120423234502 and is read as UTC.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			archiveCfg := cfg.Archive
			if driver != "" {
				archiveCfg.Driver = driver
			}
			if dsn != "" {
				archiveCfg.DSN = dsn
			}
			ref, err := parseTimestamp(args[1])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return runLookup(ctx, cmd, archiveCfg, args[0], ref)
		},
	}
	cmd.Flags().StringVar(&driver, "driver", "", "archive driver (sqlite or postgres); overrides archive.driver")
	cmd.Flags().StringVar(&dsn, "dsn", "", "archive DSN or sqlite path; overrides archive.dsn")
	return cmd
}

func runLookup(ctx context.Context, cmd *cobra.Command, cfg config.ArchiveConfig, url string, ref time.Time) error {
	if cfg.DSN == "" {
		return fmt.Errorf("archive dsn is required (set archive.dsn or --dsn)")
	}
	store, err := server.OpenArchive(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close() //nolint:errcheck // read-only

	res, err := archive.NewIndex(store).Closest(ctx, url, ref)
	if err != nil {
		return fmt.Errorf("lookup %s: %w", url, err)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), res.String())
	return err
}

func parseTimestamp(s string) (time.Time, error) {
	if t, err := archive.ParseDate(s); err == nil {
		return t, nil
	}
	return archive.ParseDateParam(s)
}
