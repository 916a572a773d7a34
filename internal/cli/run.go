package cli

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/raidx545/mend/internal/model"
)

var runFlags struct {
	team       string
	leader     string
	configPath string
	maxIter    int
}

var runCmd = &cobra.Command{
	Use:   "run <repo-url>",
	Short: "Repair a repository from the command line",
	Long: `Clones the repository, repairs its failing tests, and pushes the fix
branch with a pull request. Blocks until the run finishes and prints the
summary.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return errNoRepo
		}
		cfg, err := loadConfig(runFlags.configPath)
		if err != nil {
			return err
		}
		if runFlags.maxIter > 0 {
			cfg.Repair.MaxIterations = runFlags.maxIter
		}

		eng, err := buildEngine(cfg, true)
		if err != nil {
			return err
		}
		defer eng.store.Close()

		runID := uuid.New().String()
		req := model.RunRequest{
			RepoURL:    args[0],
			TeamName:   runFlags.team,
			LeaderName: runFlags.leader,
		}

		summary, err := eng.agent.Run(context.Background(), runID, req)
		printSummary(cmd, summary)
		return err
	},
}

func printSummary(cmd *cobra.Command, s *model.RunSummary) {
	if s == nil {
		return
	}
	out := cmd.OutOrStdout()
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	bold := color.New(color.Bold).SprintFunc()

	status := red(string(s.Phase))
	if s.Phase == model.PhaseCompleted {
		status = green(string(s.Phase))
	}
	fmt.Fprintf(out, "\n%s %s\n", bold("Run:"), status)
	fmt.Fprintf(out, "%s %s (%s)\n", bold("Repo:"), s.RepoURL, s.Language)
	fmt.Fprintf(out, "%s %s\n", bold("Branch:"), s.Branch)
	if s.PRURL != "" {
		fmt.Fprintf(out, "%s %s\n", bold("PR:"), s.PRURL)
	}
	fmt.Fprintf(out, "%s %d detected, %d fixed over %d iterations\n",
		bold("Failures:"), s.TotalFailuresDetected, s.TotalFixesApplied, len(s.Iterations))
	fmt.Fprintf(out, "%s %s\n", bold("CI:"), string(s.CIStatus))
	fmt.Fprintf(out, "%s %d (base %d, speed +%d, penalty -%d)\n",
		bold("Score:"), s.Score.FinalScore, s.Score.BaseScore,
		s.Score.SpeedBonus, s.Score.EfficiencyPenalty)
	fmt.Fprintf(out, "%s %.1fs\n", bold("Duration:"), s.TotalSeconds)
}

func init() {
	runCmd.Flags().StringVar(&runFlags.team, "team", "TEAM", "team name recorded in the summary")
	runCmd.Flags().StringVar(&runFlags.leader, "leader", "LEADER", "leader name recorded in the summary")
	runCmd.Flags().StringVar(&runFlags.configPath, "config", "", "path to config file")
	runCmd.Flags().IntVar(&runFlags.maxIter, "max-iterations", 0, "override the iteration budget")
}
