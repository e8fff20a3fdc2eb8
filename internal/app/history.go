package app

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/clxrityy/tapbump/internal/output"
	"github.com/clxrityy/tapbump/internal/store"
)

var (
	historyPackage string
	historyLimit   int
	historyRuns    bool

	historyCmd = &cobra.Command{
		Use:   "history",
		Short: "Show recorded checks and updates",
		Long: `Show the per-package results recorded by previous update, check and
watch runs, newest first. With --runs, list the runs themselves.`,
		Example: `  tapbump history
  tapbump history --package gatenet --limit 5
  tapbump history --runs`,
		Args: cobra.NoArgs,
		RunE: runHistory,
	}
)

func init() {
	historyCmd.Flags().StringVarP(&historyPackage, "package", "p", "", "only show this package")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "maximum rows to show (0 for all)")
	historyCmd.Flags().BoolVar(&historyRuns, "runs", false, "list runs instead of package checks")
}

func runHistory(cmd *cobra.Command, args []string) error {
	if historyLimit < 0 {
		return fmt.Errorf("--limit must be >= 0, got %d", historyLimit)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	st, err := store.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open history database: %w", err)
	}
	defer st.Close()

	out := cmd.OutOrStdout()

	if historyRuns {
		runs, err := st.ListRuns(historyLimit)
		if errors.Is(err, store.ErrNotInitialized) {
			fmt.Fprintln(out, "No history recorded yet.")
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Fprint(out, output.RenderRunsTable(runs))
		return nil
	}

	checks, err := st.ListChecks(historyPackage, historyLimit)
	if errors.Is(err, store.ErrNotInitialized) {
		fmt.Fprintln(out, "No history recorded yet.")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprint(out, output.RenderHistoryTable(checks))

	if historyPackage != "" {
		last, err := st.LastUpdate(historyPackage)
		if err != nil {
			return err
		}
		if last != nil {
			fmt.Fprintf(out, "\nLast bumped %s → %s on %s\n",
				last.CurrentVersion, last.LatestVersion, last.CheckedAt.Local().Format("2006-01-02 15:04"))
		}
	}
	return nil
}
