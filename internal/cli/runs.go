package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var runsFlags struct {
	limit      int
	configPath string
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent repair runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(runsFlags.configPath)
		if err != nil {
			return err
		}
		eng, err := buildEngine(cfg, true)
		if err != nil {
			return err
		}
		defer eng.store.Close()

		records, err := eng.store.ListRuns(runsFlags.limit)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no runs recorded")
			return nil
		}

		green := color.New(color.FgGreen).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tREPO\tPHASE\tFIXES\tSCORE\tSTARTED")
		for _, r := range records {
			phase := r.Phase
			switch phase {
			case "completed":
				phase = green(phase)
			case "failed":
				phase = red(phase)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
				shortID(r.ID), r.RepoURL, phase, r.TotalFixes, r.Score,
				r.StartedAt.Format("2006-01-02 15:04"))
		}
		return w.Flush()
	},
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	runsCmd.Flags().IntVar(&runsFlags.limit, "limit", 20, "maximum runs to list")
	runsCmd.Flags().StringVar(&runsFlags.configPath, "config", "", "path to config file")
}
