// Package launcher runs the bootstrap pipeline: resolve the interpreter,
// install the application's dependencies, start the application and keep
// the console open afterwards.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/clean-dependency-project/fundlaunch/internal/config"
	"github.com/clean-dependency-project/fundlaunch/internal/console"
	"github.com/clean-dependency-project/fundlaunch/internal/endoflife"
	"github.com/clean-dependency-project/fundlaunch/internal/gpg"
	"github.com/clean-dependency-project/fundlaunch/internal/interpreter"
	"github.com/clean-dependency-project/fundlaunch/internal/platform"
	"github.com/clean-dependency-project/fundlaunch/internal/runner"
	"github.com/clean-dependency-project/fundlaunch/internal/storage"
	"github.com/clean-dependency-project/fundlaunch/internal/version"
)

var (
	ErrInstallFailed     = errors.New("dependency installation failed")
	ErrUnsupportedPython = errors.New("unsupported python version")
	ErrSignature         = errors.New("requirements signature verification failed")
	ErrVenvExists        = errors.New("virtual environment already exists")
)

// Options are the per-invocation switches layered over the configuration.
type Options struct {
	WorkDir      string
	Override     string   // interpreter override from flag or environment
	AppArgs      []string // appended after the configured launch args
	ForceInstall bool
	SkipInstall  bool
	SkipLaunch   bool
	NoHistory    bool
	Pause        string // overrides config.Pause when set
}

// InstallOutcome describes what the install step did.
type InstallOutcome struct {
	Status   string `json:"status"`
	ExitCode int    `json:"exit_code"`
	Reason   string `json:"reason,omitempty"`
}

// Report summarises one pipeline run.
type Report struct {
	Resolution     interpreter.Resolution `json:"resolution"`
	PythonVersion  string                 `json:"python_version,omitempty"`
	Lifecycle      string                 `json:"lifecycle,omitempty"`
	Install        InstallOutcome         `json:"install"`
	Launched       bool                   `json:"launched"`
	LaunchExitCode int                    `json:"launch_exit_code"`
	StartedAt      time.Time              `json:"started_at"`
	FinishedAt     time.Time              `json:"finished_at"`
}

// KeyRingLoader loads the keys used to check the requirements signature.
type KeyRingLoader func(dir string) (gpg.KeyRing, error)

// Pipeline holds the collaborators of a run. Store, Lifecycle and Pauser
// are optional; a nil value disables the matching step.
type Pipeline struct {
	Config      *config.Config
	Runner      runner.CommandRunner
	Store       storage.Store
	Lifecycle   endoflife.Client
	LoadKeyRing KeyRingLoader
	Pauser      console.Pauser
	Platform    platform.Platform
	FS          interpreter.FileSystem
	LookPath    func(file string) (string, error) // locates bare interpreter names

	stdout *slog.Logger
	stderr *slog.Logger
	now    func() time.Time
}

// New creates a pipeline with the default platform, filesystem and key loader.
func New(cfg *config.Config, r runner.CommandRunner, stdout, stderr *slog.Logger) *Pipeline {
	return &Pipeline{
		Config:      cfg,
		Runner:      r,
		LoadKeyRing: gpg.LoadKeyRingFromPath,
		Platform:    platform.CurrentPlatform(),
		FS:          interpreter.OSFileSystem,
		LookPath:    exec.LookPath,
		stdout:      stdout,
		stderr:      stderr,
		now:         time.Now,
	}
}

// Run executes the pipeline. The returned error wraps *runner.ExitError when
// the application itself exited non-zero.
func (p *Pipeline) Run(ctx context.Context, opts Options) (*Report, error) {
	report := &Report{
		StartedAt: p.now(),
		Install:   InstallOutcome{Status: storage.InstallSkipped},
	}

	workDir, err := filepath.Abs(orDefault(opts.WorkDir, "."))
	if err != nil {
		return report, fmt.Errorf("failed to resolve working directory: %w", err)
	}

	runErr := p.run(ctx, workDir, opts, report)
	report.FinishedAt = p.now()

	p.record(workDir, opts, report, runErr)
	if pauseErr := p.pause(ctx, opts, runErr); pauseErr != nil {
		p.stderr.Warn("pause failed", "error", pauseErr)
	}
	return report, runErr
}

func (p *Pipeline) run(ctx context.Context, workDir string, opts Options, report *Report) error {
	res, err := p.Resolve(workDir, opts.Override)
	if err != nil {
		return err
	}
	report.Resolution = res
	p.stdout.Info("resolved interpreter",
		"python", res.Python,
		"runner", res.Runner,
		"source", string(res.Source))

	if err := p.checkPython(ctx, res, report); err != nil {
		return err
	}

	if !opts.SkipInstall {
		if err := p.install(ctx, workDir, res, opts, report); err != nil {
			return err
		}
	}

	if opts.SkipLaunch {
		return nil
	}
	return p.launch(ctx, workDir, res, opts, report)
}

// Resolve picks the interpreter for workDir. An empty override falls back to
// the configured one.
func (p *Pipeline) Resolve(workDir, override string) (interpreter.Resolution, error) {
	ic := p.Config.Interpreter
	res, err := interpreter.Resolve(interpreter.Options{
		WorkDir:    workDir,
		VenvDir:    ic.VenvDir,
		Search:     ic.Search,
		Override:   orDefault(override, ic.Python),
		PythonName: ic.PythonName,
		RunnerName: ic.RunnerName,
		Platform:   p.Platform,
		FS:         p.FS,
	})
	if err != nil {
		return interpreter.Resolution{}, fmt.Errorf("failed to resolve interpreter: %w", err)
	}
	return res, nil
}

// checkPython probes the interpreter version, enforces the configured
// constraint and reports the lifecycle. Only a constraint violation is fatal.
func (p *Pipeline) checkPython(ctx context.Context, res interpreter.Resolution, report *Report) error {
	pc := p.Config.Python
	if pc.Constraint == "" && !pc.CheckEOL {
		return nil
	}

	v, err := interpreter.ProbeVersion(ctx, p.Runner, res.Python)
	if err != nil {
		p.stderr.Warn("could not determine python version", "python", res.Python, "error", err)
		return nil
	}
	report.PythonVersion = v.String()
	p.stdout.Debug("python version", "version", v.String())

	if err := version.Satisfies(v, pc.Constraint); err != nil {
		if errors.Is(err, version.ErrConstraintUnmet) {
			return fmt.Errorf("%w: %w", ErrUnsupportedPython, err)
		}
		return err
	}

	if pc.CheckEOL && p.Lifecycle != nil {
		p.checkLifecycle(ctx, v, report)
	}
	return nil
}

func (p *Pipeline) checkLifecycle(ctx context.Context, v *semver.Version, report *Report) {
	cycle, err := version.ExtractPattern(v, version.PatternMajorMinor)
	if err != nil {
		return
	}

	product := orDefault(p.Config.Python.EOLProduct, "python")
	info, err := p.Lifecycle.CycleStatus(ctx, product, cycle)
	if err != nil {
		p.stderr.Warn("lifecycle check failed", "product", product, "cycle", cycle, "error", err)
		return
	}

	report.Lifecycle = info.GetLifecycleStatus()
	switch {
	case info.IsEOL:
		p.stderr.Warn("python release is end of life",
			"cycle", cycle,
			"eol_date", info.EOLDate,
			"latest", info.LatestPatch)
	case info.IsSecurityOnly():
		p.stdout.Info("python release receives security fixes only", "cycle", cycle, "eol_date", info.EOLDate)
	default:
		p.stdout.Debug("python release supported", "cycle", cycle, "status", report.Lifecycle)
	}
}

func (p *Pipeline) install(ctx context.Context, workDir string, res interpreter.Resolution, opts Options, report *Report) error {
	rc := p.Config.Requirements
	reqPath := absUnder(workDir, rc.File)

	if _, err := os.Stat(reqPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			p.stderr.Warn("requirements file not found, skipping install", "path", reqPath)
			report.Install = InstallOutcome{Status: storage.InstallSkipped, Reason: "requirements file not found"}
			return nil
		}
		return fmt.Errorf("failed to stat requirements file: %w", err)
	}

	if rc.Signature != "" {
		if err := p.verifySignature(workDir, reqPath); err != nil {
			return err
		}
	}

	hash, err := storage.HashFile(reqPath)
	if err != nil {
		return err
	}

	useCache := p.Config.Install.Cache && p.Store != nil
	var stamp string
	if useCache {
		stamp = p.interpreterStamp(res)
		switch {
		case opts.ForceInstall:
			p.forgetInstall(res.Python, reqPath)
		case stamp == "":
			p.stdout.Debug("interpreter not found on disk, install cache bypassed", "python", res.Python)
		default:
			rec, err := p.Store.GetInstall(res.Python, reqPath)
			switch {
			case err == nil && rec.Matches(hash, stamp):
				p.stdout.Info("requirements unchanged since last install, skipping",
					"requirements", reqPath,
					"installed_at", rec.InstalledAt)
				report.Install = InstallOutcome{Status: storage.InstallCached, Reason: "requirements unchanged"}
				return nil
			case err != nil && !errors.Is(err, storage.ErrInstallNotFound):
				p.stderr.Warn("install cache lookup failed", "error", err)
			}
		}
	}

	args := append([]string{"-m", "pip", "install", "-r", reqPath}, p.Config.Install.ExtraArgs...)
	cmd := runner.Command{Name: res.Python, Args: args, Dir: workDir}
	p.stdout.Info("installing requirements", "command", cmd.String())

	result, err := p.Runner.Run(ctx, cmd)
	if err == nil {
		report.Install = InstallOutcome{Status: storage.InstallSucceeded}
		if useCache && stamp != "" {
			rec := &storage.InstallRecord{
				Python:           res.Python,
				Requirements:     reqPath,
				RequirementsHash: hash,
				Interpreter:      stamp,
			}
			if err := p.Store.UpsertInstall(rec); err != nil {
				p.stderr.Warn("failed to update install cache", "error", err)
			}
		}
		return nil
	}

	if useCache {
		p.forgetInstall(res.Python, reqPath)
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	report.Install = InstallOutcome{Status: storage.InstallFailed, ExitCode: result.ExitCode, Reason: err.Error()}
	if p.Config.Install.OnFailure == config.OnFailureAbort {
		return fmt.Errorf("%w: %w", ErrInstallFailed, err)
	}
	p.stderr.Error("dependency installation failed, launching anyway",
		"exit_code", result.ExitCode,
		"error", err)
	return nil
}

func (p *Pipeline) forgetInstall(python, reqPath string) {
	if err := p.Store.DeleteInstall(python, reqPath); err != nil {
		p.stderr.Warn("failed to clear install cache", "error", err)
	}
}

// interpreterStamp fingerprints the interpreter binary: its path, size and
// modification time, plus pyvenv.cfg's modification time inside a venv.
// It is empty when the interpreter cannot be found.
func (p *Pipeline) interpreterStamp(res interpreter.Resolution) string {
	path := res.Python
	if !strings.ContainsAny(path, `/\`) {
		if p.LookPath == nil {
			return ""
		}
		found, err := p.LookPath(path)
		if err != nil {
			return ""
		}
		path = found
	}

	info, err := p.FS.Stat(path)
	if err != nil || info.IsDir() {
		return ""
	}
	stamp := fmt.Sprintf("%s|%d|%d", path, info.Size(), info.ModTime().UnixNano())
	if res.VenvDir != "" {
		if cfg, err := p.FS.Stat(filepath.Join(res.VenvDir, "pyvenv.cfg")); err == nil {
			stamp += fmt.Sprintf("|%d", cfg.ModTime().UnixNano())
		}
	}
	return stamp
}

func (p *Pipeline) verifySignature(workDir, reqPath string) error {
	rc := p.Config.Requirements
	if p.LoadKeyRing == nil {
		return fmt.Errorf("%w: no key loader configured", ErrSignature)
	}
	ring, err := p.LoadKeyRing(absUnder(workDir, rc.KeysDir))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignature, err)
	}
	if err := gpg.VerifyDetachedSignature(ring, reqPath, absUnder(workDir, rc.Signature)); err != nil {
		return fmt.Errorf("%w: %v", ErrSignature, err)
	}
	p.stdout.Info("requirements signature verified", "keys", len(ring.Fingerprints()))
	return nil
}

// LaunchCommand builds the command that starts the application.
func (p *Pipeline) LaunchCommand(workDir string, res interpreter.Resolution, appArgs []string) runner.Command {
	lc := p.Config.Launch
	tail := append([]string{"run", lc.App}, lc.Args...)
	tail = append(tail, appArgs...)

	if lc.Mode == config.LaunchModeRunner {
		return runner.Command{Name: res.Runner, Args: tail, Dir: workDir}
	}
	module := orDefault(p.Config.Interpreter.RunnerName, "streamlit")
	return runner.Command{Name: res.Python, Args: append([]string{"-m", module}, tail...), Dir: workDir}
}

func (p *Pipeline) launch(ctx context.Context, workDir string, res interpreter.Resolution, opts Options, report *Report) error {
	cmd := p.LaunchCommand(workDir, res, opts.AppArgs)
	p.stdout.Info("launching application", "command", cmd.String())

	result, err := p.Runner.Run(ctx, cmd)
	report.Launched = true
	report.LaunchExitCode = result.ExitCode
	if err != nil {
		return fmt.Errorf("failed to launch %s: %w", p.Config.Launch.App, err)
	}
	p.stdout.Info("application exited", "duration", result.Duration.Round(time.Millisecond))
	return nil
}

func (p *Pipeline) record(workDir string, opts Options, report *Report, runErr error) {
	if p.Store == nil || !p.Config.Storage.History || opts.NoHistory {
		return
	}
	launch := &storage.Launch{
		WorkDir:         workDir,
		Python:          report.Resolution.Python,
		Source:          string(report.Resolution.Source),
		PythonVersion:   report.PythonVersion,
		App:             p.Config.Launch.App,
		StartedAt:       report.StartedAt,
		FinishedAt:      report.FinishedAt,
		InstallStatus:   report.Install.Status,
		InstallExitCode: report.Install.ExitCode,
		LaunchExitCode:  report.LaunchExitCode,
	}
	if launch.Python == "" {
		launch.Python = "-"
		launch.Source = "-"
	}
	if runErr != nil {
		launch.ErrorMessage = runErr.Error()
	}
	if err := p.Store.RecordLaunch(launch); err != nil {
		p.stderr.Warn("failed to record launch", "error", err)
	}
}

// pause is skipped after cancellation: the user already interrupted the run.
func (p *Pipeline) pause(ctx context.Context, opts Options, runErr error) error {
	if p.Pauser == nil || ctx.Err() != nil {
		return nil
	}
	switch orDefault(opts.Pause, p.Config.Pause) {
	case config.PauseNever:
		return nil
	case config.PauseOnError:
		if runErr == nil {
			return nil
		}
	}
	return p.Pauser.Pause()
}

// CreateVenv creates <workDir>/<venv_dir> with "<python> -m venv", where
// python is the override or the bare interpreter name. When the venv already
// exists it returns its Resolution together with ErrVenvExists.
func (p *Pipeline) CreateVenv(ctx context.Context, workDir, override string) (interpreter.Resolution, error) {
	workDir, err := filepath.Abs(orDefault(workDir, "."))
	if err != nil {
		return interpreter.Resolution{}, fmt.Errorf("failed to resolve working directory: %w", err)
	}

	ic := p.Config.Interpreter
	venv := filepath.Join(workDir, ic.VenvDir)
	local := interpreter.Resolution{
		Python:  p.Platform.VenvExecutable(venv, ic.PythonName),
		Runner:  p.Platform.VenvExecutable(venv, ic.RunnerName),
		Source:  interpreter.SourceLocalVenv,
		VenvDir: venv,
	}
	if _, err := p.FS.Stat(local.Python); err == nil {
		return local, fmt.Errorf("%w: %s", ErrVenvExists, venv)
	}

	python := orDefault(override, orDefault(ic.Python, ic.PythonName))

	cmd := runner.Command{Name: python, Args: []string{"-m", "venv", ic.VenvDir}, Dir: workDir}
	p.stdout.Info("creating virtual environment", "command", cmd.String())
	if _, err := p.Runner.Run(ctx, cmd); err != nil {
		return interpreter.Resolution{}, fmt.Errorf("failed to create virtual environment: %w", err)
	}
	return local, nil
}

func absUnder(dir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

func orDefault(v, def string) string {
	if v != "" {
		return v
	}
	return def
}
