package cli

import (
	"context"
	"io"
	"os"

	"github.com/clean-dependency-project/fundlaunch/internal/config"
	"github.com/clean-dependency-project/fundlaunch/internal/console"
	"github.com/clean-dependency-project/fundlaunch/internal/endoflife"
	gh "github.com/clean-dependency-project/fundlaunch/internal/github"
	"github.com/clean-dependency-project/fundlaunch/internal/runner"
	"github.com/clean-dependency-project/fundlaunch/internal/storage"
)

// UpdateChecker abstracts the GitHub release lookup for testing.
// Following Dave Cheney's principle: "Accept interfaces, return structs"
type UpdateChecker interface {
	// CheckForUpdate compares current against the latest published release.
	CheckForUpdate(ctx context.Context, current string) (*gh.Update, error)

	// Repository returns the "owner/repo" being queried.
	Repository() string
}

// Deps are the collaborators command actions are built from. Tests replace
// them to run commands without real processes or a terminal.
type Deps struct {
	Runner    runner.CommandRunner
	Pauser    console.Pauser
	Stdout    io.Writer // command results (resolve, history, check-update)
	LogOutput io.Writer // structured logs

	OpenStore    func(path string) (storage.Store, error)
	NewLifecycle func() endoflife.Client
	NewUpdater   func(token, repository string) (UpdateChecker, error)
}

// DefaultDeps wires the real implementations.
func DefaultDeps() Deps {
	return Deps{
		Runner:    runner.NewExecRunner(),
		Pauser:    console.New(),
		Stdout:    os.Stdout,
		LogOutput: os.Stderr,
		OpenStore: func(path string) (storage.Store, error) {
			db, err := storage.InitDB(storage.Config{DatabasePath: path, LogLevel: "silent"})
			if err != nil {
				return nil, err
			}
			return db, nil
		},
		NewLifecycle: func() endoflife.Client {
			return endoflife.NewClient(endoflife.DefaultConfig())
		},
		NewUpdater: func(token, repository string) (UpdateChecker, error) {
			client, err := gh.NewClient(token, repository)
			if err != nil {
				return nil, err
			}
			return client, nil
		},
	}
}

// configStore opens the launch database when history or the install cache
// needs it.
func (d Deps) configStore(cfg *config.Config, workDir string) (storage.Store, error) {
	if !cfg.Storage.History && !cfg.Install.Cache {
		return nil, nil
	}
	return d.OpenStore(resolvePath(workDir, cfg.Storage.DatabasePath))
}
