package cli

import (
	"github.com/spf13/cobra"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

var rootCmd = &cobra.Command{
	Use:   "mend",
	Short: "mend — an iterative test-repair engine",
	Long: `mend clones a failing repository, runs its test suite, localizes each
failure to a source file, asks an LLM for a fix, and commits one fix at a
time until the suite passes or the iteration budget runs out. Results are
pushed to a fix branch and opened as a pull request.

Run history is stored in ~/.mend/ (SQLite).`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(runsCmd)
}
