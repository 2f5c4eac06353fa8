package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"jpegsweep/internal/config"
	"jpegsweep/internal/database"
	"jpegsweep/internal/exitcodes"
)

type historyOptions struct {
	dbPath      string
	recent      int
	stats       bool
	days        int
	action      string
	pathPattern string
	largest     int
	pruneDays   int
	jsonOutput  bool
}

var errNoHistoryDB = errors.New("no history database: pass --db or set database_path")

func newHistoryCmd(root *rootOptions) *cobra.Command {
	opts := &historyOptions{}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Query the audit history written by --history-db",
		Example: `  jpegsweep history --recent 10            # 10 most recent actions
  jpegsweep history --stats --days 7        # totals for the last week
  jpegsweep history --action CONVERT        # only PNG conversions
  jpegsweep history --path '/photos/%'      # actions under /photos
  jpegsweep history --largest 10            # 10 rewrites that saved the most
  jpegsweep history --prune-days 90         # drop records older than 90 days`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHistory(cmd, root, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.dbPath, "db", "", "path to the history database (default: database_path from --config)")
	f.IntVar(&opts.recent, "recent", 0, "show the N most recent actions")
	f.BoolVar(&opts.stats, "stats", false, "show action statistics")
	f.IntVar(&opts.days, "days", 30, "number of days covered by --stats")
	f.StringVar(&opts.action, "action", "", "filter by action (RECOMPRESS, CONVERT, DELETE, SKIP, ERROR, DRY_RUN)")
	f.StringVar(&opts.pathPattern, "path", "", "filter by path pattern (SQL LIKE syntax)")
	f.IntVar(&opts.largest, "largest", 0, "show the N rewrites that saved the most bytes")
	f.IntVar(&opts.pruneDays, "prune-days", 0, "delete records older than N days and compact the database")
	f.BoolVar(&opts.jsonOutput, "json", false, "output in JSON format")

	return cmd
}

func runHistory(cmd *cobra.Command, root *rootOptions, opts *historyOptions) error {
	dbPath := opts.dbPath
	if dbPath == "" {
		cfg, err := config.Load(root.configPath)
		if err != nil {
			return withCode(exitcodes.InvalidConfig, fmt.Errorf("load config: %w", err))
		}
		dbPath = cfg.DatabasePath
	}
	if dbPath == "" {
		return withCode(exitcodes.InvalidConfig, errNoHistoryDB)
	}

	db, err := database.NewHistoryDB(dbPath)
	if err != nil {
		return withCode(exitcodes.RuntimeError, fmt.Errorf("open database %s: %w", dbPath, err))
	}
	defer db.Close()

	out := cmd.OutOrStdout()

	switch {
	case opts.pruneDays > 0:
		err = prune(out, db, opts.pruneDays)
	case opts.stats:
		err = showStats(out, db, opts.days, opts.jsonOutput)
	case opts.recent > 0:
		err = showRecords(out, opts.jsonOutput, "", func() ([]database.ActionRecord, error) {
			return db.GetRecentActions(opts.recent)
		})
	case opts.action != "":
		err = showRecords(out, opts.jsonOutput, fmt.Sprintf("Records with action: %s", opts.action), func() ([]database.ActionRecord, error) {
			return db.GetActionsByAction(opts.action)
		})
	case opts.pathPattern != "":
		err = showRecords(out, opts.jsonOutput, fmt.Sprintf("Records matching path pattern: %s", opts.pathPattern), func() ([]database.ActionRecord, error) {
			return db.GetActionsByPath(opts.pathPattern)
		})
	case opts.largest > 0:
		err = showRecords(out, opts.jsonOutput, fmt.Sprintf("Largest %d savings:", opts.largest), func() ([]database.ActionRecord, error) {
			return db.GetLargestSavings(opts.largest)
		})
	default:
		_ = cmd.Usage()
		return withCode(exitcodes.InvalidConfig, nil)
	}

	if err != nil {
		return withCode(exitcodes.RuntimeError, err)
	}
	return nil
}

func prune(out io.Writer, db *database.HistoryDB, days int) error {
	removed, err := db.DeleteOldRecords(days)
	if err != nil {
		return fmt.Errorf("delete old records: %w", err)
	}
	if err := db.Vacuum(); err != nil {
		return fmt.Errorf("vacuum: %w", err)
	}
	fmt.Fprintf(out, "Removed %d records older than %d days\n", removed, days)
	return nil
}

func showStats(out io.Writer, db *database.HistoryDB, days int, jsonOutput bool) error {
	stats, err := db.GetActionStats(days)
	if err != nil {
		return fmt.Errorf("get statistics: %w", err)
	}

	if jsonOutput {
		return writeJSON(out, stats)
	}

	fmt.Fprintf(out, "Action Statistics (Last %d days)\n", days)
	fmt.Fprintf(out, "Period: %s to %s\n\n", stats.StartDate.Format("2006-01-02"), stats.EndDate.Format("2006-01-02"))
	fmt.Fprintf(out, "Recompressed:     %d\n", stats.Recompressed)
	fmt.Fprintf(out, "Converted:        %d\n", stats.Converted)
	fmt.Fprintf(out, "Deleted:          %d\n", stats.Deleted)
	fmt.Fprintf(out, "Skipped:          %d\n", stats.Skipped)
	fmt.Fprintf(out, "Errors:           %d\n", stats.Errors)
	fmt.Fprintf(out, "Space Saved:      %s\n\n", formatBytes(stats.BytesSaved))

	printCounts(out, "By Operation:", stats.ByOperation)
	printCounts(out, "By Action:", stats.ByAction)
	return nil
}

func printCounts(out io.Writer, title string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Fprintln(out, title)
	for _, k := range keys {
		fmt.Fprintf(out, "  %-15s %d\n", k, counts[k])
	}
	fmt.Fprintln(out)
}

func showRecords(out io.Writer, jsonOutput bool, title string, query func() ([]database.ActionRecord, error)) error {
	records, err := query()
	if err != nil {
		return fmt.Errorf("query history: %w", err)
	}

	if jsonOutput {
		return writeJSON(out, records)
	}

	if title != "" {
		fmt.Fprintf(out, "%s\n\n", title)
	}
	printRecords(out, records)
	return nil
}

func writeJSON(out io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}

func printRecords(out io.Writer, records []database.ActionRecord) {
	if len(records) == 0 {
		fmt.Fprintln(out, "No records found")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tTimestamp\tAction\tOp\tBefore\tAfter\tDetail\tPath")
	_, _ = fmt.Fprintln(w, "--\t---------\t------\t--\t------\t-----\t------\t----")

	for _, r := range records {
		after := "-"
		if r.SizeAfter > 0 {
			after = formatBytes(r.SizeAfter)
		}
		detail := r.Reason
		if r.ErrorMessage != "" {
			detail = r.ErrorMessage
		}
		if detail == "" {
			detail = "-"
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.Timestamp.Format("2006-01-02 15:04:05"), r.Action, r.Operation,
			formatBytes(r.SizeBefore), after, detail, r.Path)
	}
	_ = w.Flush()
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
