package app

import (
	"github.com/spf13/cobra"
)

var (
	updatePackages []string
	updateDryRun   bool
	updateStyle    bool
	updateAudit    bool
	updateStrict   bool

	updateCmd = &cobra.Command{
		Use:   "update",
		Short: "Bump formulas that are behind PyPI",
		Long: `Check every configured package against PyPI and rewrite the formulas
that are behind: the source URL is pointed at the new release archive and
the sha256 is replaced with the digest of the downloaded archive.

Packages are processed one at a time. A package that cannot be read,
fetched, hashed or rewritten is reported and skipped; its formula is left
untouched. The command succeeds regardless unless --strict is given.

With --dry-run nothing is downloaded or written; packages that are behind
are reported as "update available".`,
		Example: `  # Update every formula in the current tap
  tapbump update

  # Update one formula and lint it with brew style
  tapbump update --package gatenet --style

  # Also run brew audit --strict on each rewritten formula
  tapbump update --audit

  # Fail the command if any package could not be processed (for CI)
  tapbump update --strict`,
		Args: cobra.NoArgs,
		RunE: runUpdate,
	}
)

func init() {
	updateCmd.Flags().StringSliceVarP(&updatePackages, "package", "p", nil, "only process these packages (repeatable)")
	updateCmd.Flags().BoolVar(&updateDryRun, "dry-run", false, "report available updates without downloading or writing")
	updateCmd.Flags().BoolVar(&updateStyle, "style", false, "run 'brew style' on each rewritten formula")
	updateCmd.Flags().BoolVar(&updateAudit, "audit", false, "also run 'brew audit --strict' on each rewritten formula (implies --style)")
	updateCmd.Flags().BoolVar(&updateStrict, "strict", false, "exit non-zero if any package failed")
}

func runUpdate(cmd *cobra.Command, args []string) error {
	return runPackages(cmd, runOptions{
		only:   updatePackages,
		apply:  !updateDryRun,
		style:  updateStyle || updateAudit,
		audit:  updateAudit,
		strict: updateStrict,
	})
}
