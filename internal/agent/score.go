package agent

import (
	"time"

	"github.com/raidx545/mend/internal/model"
)

const (
	baseScore        = 100
	speedBonus       = 10
	speedBonusWindow = 5 * time.Minute
	freeCommits      = 20
	commitPenalty    = 2
)

// Score computes the run's score: a fixed base, a bonus for finishing
// quickly, and a penalty for each commit past the free allowance. The final
// score never goes below zero.
func Score(summary *model.RunSummary) model.ScoreBreakdown {
	s := model.ScoreBreakdown{BaseScore: baseScore}

	if summary.TotalSeconds > 0 && summary.TotalSeconds < speedBonusWindow.Seconds() {
		s.SpeedBonus = speedBonus
	}

	commits := summary.TotalFixesApplied
	if commits > freeCommits {
		s.EfficiencyPenalty = (commits - freeCommits) * commitPenalty
	}

	s.FinalScore = s.BaseScore + s.SpeedBonus - s.EfficiencyPenalty
	if s.FinalScore < 0 {
		s.FinalScore = 0
	}
	return s
}
