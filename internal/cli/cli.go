// Package cli provides the fundlaunch command-line interface.
// It loads the optional YAML configuration and drives the launcher pipeline.
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/clean-dependency-project/fundlaunch/internal/config"
	"github.com/clean-dependency-project/fundlaunch/internal/launcher"
	"github.com/clean-dependency-project/fundlaunch/internal/runner"
	"github.com/clean-dependency-project/fundlaunch/internal/storage"
)

// Version is stamped at build time with -ldflags "-X .../internal/cli.Version=v1.2.3".
var Version = "dev"

// NewApp creates and configures the main CLI application.
func NewApp() *cli.App {
	return NewAppWithDeps(DefaultDeps())
}

// NewAppWithDeps builds the application around the given collaborators.
func NewAppWithDeps(deps Deps) *cli.App {
	a := &actions{deps: deps}

	return &cli.App{
		Name:      "fundlaunch",
		Usage:     "Prepare the Python environment and start the fund assistant",
		UsageText: "fundlaunch [global options] [command] [-- app args...]",
		Version:   Version,
		Authors: []*cli.Author{
			{
				Name:  "Clean Dependency Project",
				Email: "info@example.com",
			},
		},
		Writer:    deps.Stdout,
		ErrWriter: deps.LogOutput,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   config.DefaultConfigFile,
				Usage:   "path to launcher configuration file, relative to --dir (defaults apply when it does not exist)",
				EnvVars: []string{"FUNDLAUNCH_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "dir",
				Aliases: []string{"C"},
				Value:   ".",
				Usage:   "application directory containing the app and requirements file",
				EnvVars: []string{"FUNDLAUNCH_DIR"},
			},
			&cli.StringFlag{
				Name:    "python",
				Usage:   "interpreter to use instead of the virtual environment search",
				EnvVars: []string{"FUNDLAUNCH_PYTHON"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				Usage:   "log level (debug, info, warn, error)",
				EnvVars: []string{"FUNDLAUNCH_LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "log-format",
				Value:   "text",
				Usage:   "log format (text, json)",
				EnvVars: []string{"FUNDLAUNCH_LOG_FORMAT"},
			},
		},
		Action: a.run,
		Commands: []*cli.Command{
			{
				Name:      "run",
				Usage:     "Install requirements, start the application and pause (the default)",
				ArgsUsage: "[-- app args...]",
				Flags: []cli.Flag{
					requirementsFlag(),
					appFlag(),
					forceInstallFlag(),
					&cli.BoolFlag{
						Name:  "skip-install",
						Usage: "do not run pip before starting the application",
					},
					pauseFlag(),
					noHistoryFlag(),
				},
				Action: a.run,
			},
			{
				Name:  "install",
				Usage: "Install the requirements file with the resolved interpreter",
				Flags: []cli.Flag{
					requirementsFlag(),
					forceInstallFlag(),
					noHistoryFlag(),
				},
				Action: a.install,
			},
			{
				Name:      "launch",
				Usage:     "Start the application without installing requirements",
				ArgsUsage: "[-- app args...]",
				Flags: []cli.Flag{
					appFlag(),
					pauseFlag(),
					noHistoryFlag(),
				},
				Action: a.launch,
			},
			{
				Name:  "resolve",
				Usage: "Show which interpreter and runner would be used",
				Flags: []cli.Flag{
					outputFlag(),
				},
				Action: a.resolve,
			},
			{
				Name:  "init",
				Usage: "Create the local virtual environment and optionally install requirements",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "install",
						Usage: "install the requirements file into the new environment",
					},
					&cli.BoolFlag{
						Name:  "write-config",
						Usage: "write the effective configuration to --config if it does not exist",
					},
				},
				Action: a.init,
			},
			{
				Name:  "history",
				Usage: "List recorded launches",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "limit",
						Aliases: []string{"n"},
						Value:   20,
						Usage:   "maximum number of launches to list (0 for all)",
					},
					&cli.BoolFlag{
						Name:  "all",
						Usage: "include launches from every application directory",
					},
					&cli.UintFlag{
						Name:  "id",
						Usage: "show a single launch by ID",
					},
					&cli.BoolFlag{
						Name:  "stats",
						Usage: "show aggregate statistics instead of individual launches",
					},
					outputFlag(),
				},
				Action: a.history,
			},
			{
				Name:  "check-update",
				Usage: "Check GitHub for a newer fundlaunch release",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "repository",
						Usage: "GitHub repository in owner/repo format (overrides update.repository)",
					},
					&cli.StringFlag{
						Name:    "token",
						Usage:   "GitHub token for authenticated requests",
						EnvVars: []string{"GITHUB_TOKEN"},
					},
					outputFlag(),
				},
				Action: a.checkUpdate,
			},
		},
	}
}

func requirementsFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "requirements",
		Aliases: []string{"r"},
		Usage:   "requirements file (overrides requirements.file)",
	}
}

func appFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "app",
		Usage: "application script (overrides launch.app)",
	}
}

func forceInstallFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:    "force-install",
		Aliases: []string{"f"},
		Usage:   "run pip even when the requirements file is unchanged",
	}
}

func pauseFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "pause",
		Usage: "pause policy (always, on-error, never); overrides the configuration",
	}
}

func noHistoryFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:  "no-history",
		Usage: "do not record this run in the launch history",
	}
}

func outputFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "output",
		Value: "text",
		Usage: "output format (text, json)",
	}
}

type actions struct {
	deps Deps
}

// session is the state shared by every command: loggers, the effective
// configuration and the absolute application directory.
type session struct {
	stdout  *slog.Logger
	stderr  *slog.Logger
	cfg     *config.Config
	workDir string
}

func (a *actions) setup(c *cli.Context) (*session, error) {
	level := ParseLogLevelOrDefault(c.String("log-level"))
	stdout, stderr, err := NewLoggers(a.deps.LogOutput, level, c.String("log-format"))
	if err != nil {
		return nil, fmt.Errorf("failed to create loggers: %w", err)
	}

	workDir, err := filepath.Abs(c.String("dir"))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve application directory: %w", err)
	}

	configPath := resolvePath(workDir, c.String("config"))
	cfg, loaded, err := config.LoadOrDefault(configPath)
	if err != nil {
		stderr.Error("failed to load config", "path", configPath, "error", err)
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if !loaded && c.IsSet("config") {
		return nil, fmt.Errorf("config file %s does not exist", configPath)
	}
	if loaded {
		stdout.Debug("loaded configuration", "path", configPath)
	}

	if v := c.String("requirements"); v != "" {
		cfg.Requirements.File = v
	}
	if v := c.String("app"); v != "" {
		cfg.Launch.App = v
	}
	if v := c.String("pause"); v != "" {
		if err := config.ValidatePause(v); err != nil {
			return nil, err
		}
	}

	return &session{stdout: stdout, stderr: stderr, cfg: cfg, workDir: workDir}, nil
}

// pipeline assembles the launcher for a session. The returned cleanup closes
// the history database.
func (a *actions) pipeline(s *session, noHistory bool) (*launcher.Pipeline, func()) {
	p := launcher.New(s.cfg, a.deps.Runner, s.stdout, s.stderr)
	p.Pauser = a.deps.Pauser
	if s.cfg.Python.CheckEOL && a.deps.NewLifecycle != nil {
		p.Lifecycle = a.deps.NewLifecycle()
	}

	cleanup := func() {}
	if noHistory && !s.cfg.Install.Cache {
		return p, cleanup
	}
	store, err := a.deps.configStore(s.cfg, s.workDir)
	if err != nil {
		s.stderr.Warn("launch history unavailable", "error", err)
		return p, cleanup
	}
	if store == nil {
		return p, cleanup
	}
	p.Store = store
	cleanup = func() {
		if err := store.Close(); err != nil {
			s.stderr.Warn("failed to close database", "error", err)
		}
	}
	return p, cleanup
}

func (a *actions) options(c *cli.Context, s *session) launcher.Options {
	return launcher.Options{
		WorkDir:      s.workDir,
		Override:     c.String("python"),
		AppArgs:      c.Args().Slice(),
		ForceInstall: c.Bool("force-install"),
		SkipInstall:  c.Bool("skip-install"),
		NoHistory:    c.Bool("no-history"),
		Pause:        c.String("pause"),
	}
}

func (a *actions) run(c *cli.Context) error {
	return a.execute(c, func(opts *launcher.Options) {})
}

func (a *actions) install(c *cli.Context) error {
	return a.execute(c, func(opts *launcher.Options) {
		opts.SkipLaunch = true
		opts.Pause = config.PauseNever
	})
}

func (a *actions) launch(c *cli.Context) error {
	return a.execute(c, func(opts *launcher.Options) {
		opts.SkipInstall = true
	})
}

func (a *actions) execute(c *cli.Context, adjust func(*launcher.Options)) error {
	s, err := a.setup(c)
	if err != nil {
		pending := launcher.Options{Pause: c.String("pause")}
		adjust(&pending)
		a.pauseAfterFailure(c, pending.Pause)
		return err
	}

	p, cleanup := a.pipeline(s, c.Bool("no-history"))
	defer cleanup()

	opts := a.options(c, s)
	adjust(&opts)

	s.stdout.Info("starting", "app", displayName(s.workDir), "dir", s.workDir, "version", Version)
	report, err := p.Run(c.Context, opts)
	if err != nil {
		if code, ok := runner.ExitCodeOf(err); ok && report != nil && report.Launched {
			s.stderr.Error("application exited with an error", "exit_code", code)
		} else {
			s.stderr.Error("launch failed", "error", err)
		}
		return err
	}

	s.stdout.Info("finished",
		"install", report.Install.Status,
		"launched", report.Launched,
		"duration", report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))
	return nil
}

// pauseAfterFailure keeps the console open when a command fails before the
// pipeline, and with it the configured pause, could run. An unusable policy
// falls back to the default.
func (a *actions) pauseAfterFailure(c *cli.Context, policy string) {
	if config.ValidatePause(policy) != nil {
		policy = config.DefaultConfig().Pause
	}
	if policy == config.PauseNever || a.deps.Pauser == nil || c.Context.Err() != nil {
		return
	}
	_ = a.deps.Pauser.Pause()
}

func (a *actions) resolve(c *cli.Context) error {
	s, err := a.setup(c)
	if err != nil {
		return err
	}

	p := launcher.New(s.cfg, a.deps.Runner, s.stdout, s.stderr)
	res, err := p.Resolve(s.workDir, c.String("python"))
	if err != nil {
		s.stderr.Error("failed to resolve interpreter", "error", err)
		return fmt.Errorf("failed to resolve interpreter: %w", err)
	}
	cmd := p.LaunchCommand(s.workDir, res, nil)

	if c.String("output") == "json" {
		return writeJSON(a.deps.Stdout, struct {
			Name    string   `json:"name"`
			Python  string   `json:"python"`
			Runner  string   `json:"runner"`
			Source  string   `json:"source"`
			VenvDir string   `json:"venv_dir,omitempty"`
			Command []string `json:"command"`
		}{
			Name:    displayName(s.workDir),
			Python:  res.Python,
			Runner:  res.Runner,
			Source:  string(res.Source),
			VenvDir: res.VenvDir,
			Command: append([]string{cmd.Name}, cmd.Args...),
		})
	}

	w := tabwriter.NewWriter(a.deps.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "name:\t%s\n", displayName(s.workDir))
	fmt.Fprintf(w, "python:\t%s\n", res.Python)
	fmt.Fprintf(w, "runner:\t%s\n", res.Runner)
	fmt.Fprintf(w, "source:\t%s\n", res.Source)
	if res.VenvDir != "" {
		fmt.Fprintf(w, "venv:\t%s\n", res.VenvDir)
	}
	fmt.Fprintf(w, "command:\t%s\n", cmd.String())
	return w.Flush()
}

func (a *actions) init(c *cli.Context) error {
	s, err := a.setup(c)
	if err != nil {
		return err
	}

	if c.Bool("write-config") {
		path := resolvePath(s.workDir, c.String("config"))
		if err := writeConfigIfMissing(s.cfg, path); err != nil {
			s.stderr.Error("failed to write config", "path", path, "error", err)
			return err
		}
	}

	p, cleanup := a.pipeline(s, false)
	defer cleanup()

	res, err := p.CreateVenv(c.Context, s.workDir, c.String("python"))
	switch {
	case errors.Is(err, launcher.ErrVenvExists):
		s.stdout.Info("virtual environment already exists", "python", res.Python)
	case err != nil:
		s.stderr.Error("failed to create virtual environment", "error", err)
		return err
	default:
		s.stdout.Info("created virtual environment", "python", res.Python)
	}

	if !c.Bool("install") {
		return nil
	}
	_, err = p.Run(c.Context, launcher.Options{
		WorkDir:    s.workDir,
		Override:   res.Python,
		SkipLaunch: true,
		Pause:      config.PauseNever,
	})
	if err != nil {
		s.stderr.Error("failed to install requirements", "error", err)
		return err
	}
	return nil
}

func (a *actions) history(c *cli.Context) error {
	s, err := a.setup(c)
	if err != nil {
		return err
	}

	dbPath := resolvePath(s.workDir, s.cfg.Storage.DatabasePath)
	store, err := a.deps.OpenStore(dbPath)
	if err != nil {
		s.stderr.Error("failed to open database", "path", dbPath, "error", err)
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			s.stderr.Warn("failed to close database", "error", closeErr)
		}
	}()

	if c.IsSet("id") {
		launch, err := store.GetLaunch(c.Uint("id"))
		if err != nil {
			return fmt.Errorf("failed to get launch %d: %w", c.Uint("id"), err)
		}
		if c.String("output") == "json" {
			return writeJSON(a.deps.Stdout, launch)
		}
		return writeLaunch(a.deps.Stdout, launch)
	}

	if c.Bool("stats") {
		stats, err := store.GetStats()
		if err != nil {
			return fmt.Errorf("failed to get stats: %w", err)
		}
		return writeJSON(a.deps.Stdout, stats)
	}

	var launches []*storage.Launch
	if c.Bool("all") {
		launches, err = store.ListLaunches(c.Int("limit"))
	} else {
		launches, err = store.ListByWorkDir(s.workDir, c.Int("limit"))
	}
	if err != nil {
		return fmt.Errorf("failed to list launches: %w", err)
	}

	if c.String("output") == "json" {
		return writeJSON(a.deps.Stdout, launches)
	}
	if len(launches) == 0 {
		fmt.Fprintln(a.deps.Stdout, "no launches recorded")
		return nil
	}

	w := tabwriter.NewWriter(a.deps.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTARTED\tSTATUS\tSOURCE\tPYTHON\tINSTALL\tEXIT\tDURATION")
	for _, l := range launches {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			l.ID,
			l.StartedAt.Local().Format("2006-01-02 15:04:05"),
			launchStatus(l),
			l.Source,
			orDash(l.PythonVersion),
			orDash(l.InstallStatus),
			l.LaunchExitCode,
			l.Duration().Round(time.Second))
	}
	return w.Flush()
}

func writeLaunch(out io.Writer, l *storage.Launch) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "id:\t%d\n", l.ID)
	fmt.Fprintf(w, "status:\t%s\n", launchStatus(l))
	fmt.Fprintf(w, "dir:\t%s\n", l.WorkDir)
	fmt.Fprintf(w, "python:\t%s (%s)\n", l.Python, l.Source)
	fmt.Fprintf(w, "version:\t%s\n", orDash(l.PythonVersion))
	fmt.Fprintf(w, "app:\t%s\n", l.App)
	fmt.Fprintf(w, "started:\t%s\n", l.StartedAt.Local().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "duration:\t%s\n", l.Duration().Round(time.Millisecond))
	fmt.Fprintf(w, "install:\t%s (exit %d)\n", orDash(l.InstallStatus), l.InstallExitCode)
	fmt.Fprintf(w, "exit code:\t%d\n", l.LaunchExitCode)
	if l.ErrorMessage != "" {
		fmt.Fprintf(w, "error:\t%s\n", l.ErrorMessage)
	}
	return w.Flush()
}

func launchStatus(l *storage.Launch) string {
	if l.Succeeded() {
		return "ok"
	}
	return "failed"
}

func (a *actions) checkUpdate(c *cli.Context) error {
	s, err := a.setup(c)
	if err != nil {
		return err
	}

	repository := c.String("repository")
	if repository == "" {
		repository = s.cfg.Update.Repository
	}
	if repository == "" {
		return fmt.Errorf("no repository configured: set update.repository or pass --repository")
	}

	checker, err := a.deps.NewUpdater(c.String("token"), repository)
	if err != nil {
		return fmt.Errorf("failed to create GitHub client: %w", err)
	}

	update, err := checker.CheckForUpdate(c.Context, Version)
	if err != nil {
		s.stderr.Error("update check failed", "repository", checker.Repository(), "error", err)
		return fmt.Errorf("update check failed: %w", err)
	}

	if c.String("output") == "json" {
		return writeJSON(a.deps.Stdout, update)
	}
	if update.Available {
		fmt.Fprintf(a.deps.Stdout, "fundlaunch %s is available (current %s): %s\n",
			update.Latest.Tag, update.Current, update.Latest.URL)
		return nil
	}
	fmt.Fprintf(a.deps.Stdout, "fundlaunch %s is up to date\n", update.Current)
	return nil
}

// displayName turns the application directory into a title, e.g.
// "fund-assistant" becomes "Fund Assistant".
func displayName(workDir string) string {
	base := filepath.Base(workDir)
	base = strings.NewReplacer("-", " ", "_", " ", ".", " ").Replace(base)
	return cases.Title(language.English).String(strings.TrimSpace(base))
}

func resolvePath(dir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

func writeConfigIfMissing(cfg *config.Config, path string) error {
	_, loaded, err := config.LoadOrDefault(path)
	if err != nil {
		return err
	}
	if loaded {
		return nil
	}
	return config.SaveConfig(cfg, path)
}

func writeJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// ExitCode maps an error returned by the app to a process exit code: the
// application's own code when it exited non-zero, 1 for any other failure.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if code, ok := runner.ExitCodeOf(err); ok && code > 0 {
		return code
	}
	return 1
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
