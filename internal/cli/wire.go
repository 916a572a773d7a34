package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/raidx545/mend/internal/agent"
	"github.com/raidx545/mend/internal/config"
	"github.com/raidx545/mend/internal/db"
	"github.com/raidx545/mend/internal/events"
	"github.com/raidx545/mend/internal/fix"
	"github.com/raidx545/mend/internal/github"
	"github.com/raidx545/mend/internal/gitops"
	"github.com/raidx545/mend/internal/locate"
	"github.com/raidx545/mend/internal/model"
	"github.com/raidx545/mend/internal/repo"
	"github.com/raidx545/mend/internal/testrun"
)

// engine bundles everything a command needs to execute or serve runs.
type engine struct {
	agent       *agent.Agent
	store       *db.DB
	broadcaster *events.Broadcaster
	cfg         *config.Config
}

// buildEngine assembles the production dependency graph from configuration.
func buildEngine(cfg *config.Config, withStore bool) (*engine, error) {
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(log)

	var store *db.DB
	if withStore {
		path := cfg.Server.DBPath
		if path == "" {
			var err error
			path, err = db.DefaultDBPath()
			if err != nil {
				return nil, err
			}
		}
		var err error
		store, err = db.Open(path)
		if err != nil {
			return nil, err
		}
		if err := store.Migrate(); err != nil {
			store.Close()
			return nil, err
		}
	}

	git := &gitops.ExecGit{}
	broadcaster := events.NewBroadcaster(log)

	var oracle fix.Oracle
	if cfg.Oracle.APIKey != "" {
		oracle = fix.NewOpenAIOracle(cfg.Oracle.APIKey, cfg.Oracle.BaseURL, cfg.Oracle.Model)
	} else {
		log.Warn("no oracle API key configured, only programmatic fixes will apply")
	}

	deps := agent.Deps{
		Cloner: repo.NewCloner(git, cfg.Repair.WorkDir, cfg.Git.Token, log),
		Runner: testrun.NewRunner(&testrun.ExecRunner{}, cfg.TestTimeout(), log),
		Detect: repo.Detect,
		NewRepo: func(dir string) agent.GitRepo {
			return gitops.NewRepo(git, dir, log)
		},
		NewFixer: func(dir string) agent.Fixer {
			return fix.NewApplier(dir, oracle, log)
		},
		NewLocalizer: func(dir string) agent.Localizer {
			return locate.New(dir)
		},
		NewPublisher: func(repoURL string) (agent.Publisher, error) {
			client, err := github.NewClient(nil, repoURL, cfg.Git.Token, log)
			if err != nil {
				return nil, err
			}
			return &ghPublisher{client: client, timeout: cfg.CITimeout()}, nil
		},
		Broadcaster: broadcaster,
		Store:       store,
		Log:         log,
	}

	a := agent.New(deps, cfg.Repair.MaxIterations,
		cfg.Git.AuthorName, cfg.Git.AuthorEmail, cfg.Git.Token)
	return &engine{agent: a, store: store, broadcaster: broadcaster, cfg: cfg}, nil
}

// ghPublisher adapts the GitHub client to the agent's publishing interface.
type ghPublisher struct {
	client  *github.Client
	timeout time.Duration
}

func (p *ghPublisher) CreatePullRequest(ctx context.Context, head, title, body string) (string, error) {
	pr, err := p.client.CreatePullRequest(ctx, head, title, body)
	if err != nil {
		return "", err
	}
	return pr.HTMLURL, nil
}

func (p *ghPublisher) WatchCI(ctx context.Context, branch string, onUpdate func(model.CIStatus)) model.CIStatus {
	return p.client.WatchCI(ctx, branch, p.timeout, 15*time.Second, onUpdate)
}

// loadConfig resolves the config file flag or falls back to the default
// search locations.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	return config.LoadDefault()
}

var errNoRepo = fmt.Errorf("repository URL required")
