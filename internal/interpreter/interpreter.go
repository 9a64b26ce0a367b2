// Package interpreter resolves which Python interpreter and application
// runner the launcher drives.
//
// Resolution order:
//
//  1. an explicit override (flag, config or FUNDLAUNCH_PYTHON)
//  2. a virtual environment under each search root, in order
//     (by default the parent directory, then the working directory)
//  3. the bare command names, left to the command search path
package interpreter

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/clean-dependency-project/fundlaunch/internal/platform"
	"github.com/clean-dependency-project/fundlaunch/internal/runner"
	"github.com/clean-dependency-project/fundlaunch/internal/version"
)

// EnvOverride names the environment variable that forces an interpreter.
const EnvOverride = "FUNDLAUNCH_PYTHON"

// Source records where a resolution came from.
type Source string

const (
	SourceOverride   Source = "override"
	SourceParentVenv Source = "parent-venv"
	SourceLocalVenv  Source = "local-venv"
	SourcePath       Source = "path"
)

var (
	ErrNotFound     = errors.New("interpreter not found")
	ErrEmptyVenvDir = errors.New("virtual environment directory name cannot be empty")
)

// Resolution is the interpreter and runner chosen for a run.
type Resolution struct {
	Python  string `json:"python"`
	Runner  string `json:"runner"`
	Source  Source `json:"source"`
	VenvDir string `json:"venv_dir,omitempty"`
}

// InVenv reports whether the interpreter belongs to a virtual environment.
func (r Resolution) InVenv() bool {
	return r.Source == SourceParentVenv || r.Source == SourceLocalVenv
}

// FileSystem abstracts the existence checks so resolution can be tested
// against arbitrary directory states.
type FileSystem interface {
	Stat(name string) (fs.FileInfo, error)
}

type osFS struct{}

func (osFS) Stat(name string) (fs.FileInfo, error) { return os.Stat(name) }

// OSFileSystem is the real filesystem.
var OSFileSystem FileSystem = osFS{}

// Options controls Resolve.
type Options struct {
	WorkDir    string   // directory search roots are relative to
	VenvDir    string   // e.g. ".venv"
	Search     []string // e.g. ["..", "."]
	Override   string   // explicit interpreter path, wins over everything
	PythonName string   // bare interpreter command, default "python"
	RunnerName string   // bare runner command, default "streamlit"
	Platform   platform.Platform
	FS         FileSystem
}

func (o *Options) applyDefaults() {
	if o.WorkDir == "" {
		o.WorkDir = "."
	}
	if len(o.Search) == 0 {
		o.Search = []string{"..", "."}
	}
	if o.PythonName == "" {
		o.PythonName = "python"
	}
	if o.RunnerName == "" {
		o.RunnerName = "streamlit"
	}
	if o.Platform.BinDir == "" {
		o.Platform = platform.CurrentPlatform()
	}
	if o.FS == nil {
		o.FS = OSFileSystem
	}
}

// Resolve picks the interpreter. The first search root whose virtual
// environment holds an interpreter wins; later roots are not consulted.
func Resolve(opts Options) (Resolution, error) {
	opts.applyDefaults()

	if opts.Override != "" {
		python := opts.Override
		if !filepath.IsAbs(python) && strings.ContainsAny(python, `/\`) {
			python = filepath.Join(opts.WorkDir, python)
		}
		if strings.ContainsAny(python, `/\`) && !isFile(opts.FS, python) {
			return Resolution{}, fmt.Errorf("%w: %s", ErrNotFound, python)
		}
		return Resolution{
			Python: python,
			Runner: siblingRunner(opts, python),
			Source: SourceOverride,
		}, nil
	}

	if opts.VenvDir == "" {
		return Resolution{}, ErrEmptyVenvDir
	}
	for _, root := range opts.Search {
		venv := filepath.Join(opts.WorkDir, root, opts.VenvDir)
		python := opts.Platform.VenvExecutable(venv, opts.PythonName)
		if !isFile(opts.FS, python) {
			continue
		}
		return Resolution{
			Python:  python,
			Runner:  opts.Platform.VenvExecutable(venv, opts.RunnerName),
			Source:  sourceFor(opts.WorkDir, root),
			VenvDir: venv,
		}, nil
	}

	return Resolution{
		Python: opts.PythonName,
		Runner: opts.RunnerName,
		Source: SourcePath,
	}, nil
}

// sourceFor labels a search root relative to the working directory.
func sourceFor(workDir, root string) Source {
	if filepath.Clean(root) == "." {
		return SourceLocalVenv
	}
	abs, errA := filepath.Abs(filepath.Join(workDir, root))
	wd, errB := filepath.Abs(workDir)
	if errA == nil && errB == nil && abs == wd {
		return SourceLocalVenv
	}
	return SourceParentVenv
}

// siblingRunner returns the runner next to an overridden interpreter, or the
// bare runner name when the interpreter is itself a bare name.
func siblingRunner(opts Options, python string) string {
	if !strings.ContainsAny(python, `/\`) {
		return opts.RunnerName
	}
	candidate := filepath.Join(filepath.Dir(python), opts.Platform.Executable(opts.RunnerName))
	if isFile(opts.FS, candidate) {
		return candidate
	}
	return opts.RunnerName
}

func isFile(fsys FileSystem, name string) bool {
	info, err := fsys.Stat(name)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// ProbeVersion runs "<python> --version" and parses the banner. Python 2
// printed the banner on stderr, which Output captures as well.
func ProbeVersion(ctx context.Context, r runner.CommandRunner, python string) (*semver.Version, error) {
	out, err := r.Output(ctx, runner.Command{Name: python, Args: []string{"--version"}})
	if err != nil {
		return nil, fmt.Errorf("failed to probe %s: %w", python, err)
	}
	v, err := version.ParseBanner(string(out))
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s version: %w", python, err)
	}
	return v, nil
}
