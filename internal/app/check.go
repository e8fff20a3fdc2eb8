package app

import (
	"github.com/spf13/cobra"
)

var (
	checkPackages []string

	checkCmd = &cobra.Command{
		Use:   "check",
		Short: "Report which formulas are behind PyPI",
		Long: `Compare each configured formula's version with the latest release on
PyPI. No archive is downloaded and no formula is written.`,
		Example: `  tapbump check
  tapbump check --package autochange`,
		Args: cobra.NoArgs,
		RunE: runCheck,
	}
)

func init() {
	checkCmd.Flags().StringSliceVarP(&checkPackages, "package", "p", nil, "only check these packages (repeatable)")
}

func runCheck(cmd *cobra.Command, args []string) error {
	return runPackages(cmd, runOptions{only: checkPackages})
}
