package launcher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/clean-dependency-project/fundlaunch/internal/config"
	"github.com/clean-dependency-project/fundlaunch/internal/endoflife"
	"github.com/clean-dependency-project/fundlaunch/internal/gpg"
	"github.com/clean-dependency-project/fundlaunch/internal/interpreter"
	"github.com/clean-dependency-project/fundlaunch/internal/platform"
	"github.com/clean-dependency-project/fundlaunch/internal/runner"
	"github.com/clean-dependency-project/fundlaunch/internal/storage"
)

type countingPauser struct{ n int }

func (c *countingPauser) Pause() error {
	c.n++
	return nil
}

type stubKeyRing struct{ err error }

func (s stubKeyRing) VerifyDetached([]byte, []byte) error { return s.err }
func (s stubKeyRing) AddKey(gpg.Key) error                { return nil }
func (s stubKeyRing) Fingerprints() []string              { return []string{"ABCD"} }

// project lays out <root>/fund with app.py and requirements.txt and returns
// the working directory.
type project struct {
	root string
	work string
}

func newProject(t *testing.T) project {
	t.Helper()
	root := t.TempDir()
	work := filepath.Join(root, "fund")
	writeFile(t, filepath.Join(work, "app.py"), "import streamlit as st\n")
	writeFile(t, filepath.Join(work, "requirements.txt"), "streamlit\nakshare\n")
	return project{root: root, work: work}
}

func (p project) parentPython() string {
	return filepath.Join(p.root, ".venv", "Scripts", "python.exe")
}

func (p project) localPython() string {
	return filepath.Join(p.work, ".venv", "Scripts", "python.exe")
}

func (p project) requirements() string {
	return filepath.Join(p.work, "requirements.txt")
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestPipeline(t *testing.T, cfg *config.Config, r runner.CommandRunner) (*Pipeline, *countingPauser) {
	t.Helper()
	win, err := platform.FindPlatform("windows-x64")
	if err != nil {
		t.Fatal(err)
	}
	p := New(cfg, r, discardLogger(), discardLogger())
	p.Platform = win
	pauser := &countingPauser{}
	p.Pauser = pauser
	return p, pauser
}

func newMemoryStore(t *testing.T) *storage.DB {
	t.Helper()
	db, err := storage.InitDB(storage.Config{DatabasePath: ":memory:", LogLevel: "silent"})
	if err != nil {
		t.Fatalf("InitDB() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func isPip(cmd runner.Command) bool {
	return len(cmd.Args) > 1 && cmd.Args[0] == "-m" && cmd.Args[1] == "pip"
}

func isApp(cmd runner.Command) bool {
	return len(cmd.Args) > 1 && cmd.Args[0] == "-m" && cmd.Args[1] == "streamlit"
}

func exitWith(code int) func(runner.Command) (runner.Result, []byte, error) {
	return func(cmd runner.Command) (runner.Result, []byte, error) {
		return runner.Result{ExitCode: code}, nil, &runner.ExitError{Command: cmd.String(), ExitCode: code}
	}
}

func TestRun_DefaultPipeline(t *testing.T) {
	proj := newProject(t)
	writeFile(t, proj.parentPython(), "")
	writeFile(t, proj.localPython(), "")

	mock := &runner.MockCommandRunner{}
	p, pauser := newTestPipeline(t, config.DefaultConfig(), mock)

	report, err := p.Run(context.Background(), Options{WorkDir: proj.work})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := []string{
		proj.parentPython() + " -m pip install -r " + proj.requirements(),
		proj.parentPython() + " -m streamlit run app.py",
	}
	got := mock.CallLines()
	if len(got) != len(want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("call[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	for _, c := range mock.Calls {
		if c.Dir != proj.work {
			t.Errorf("command %q ran in %q, want %q", c.String(), c.Dir, proj.work)
		}
	}

	if report.Resolution.Source != interpreter.SourceParentVenv {
		t.Errorf("Source = %q, want parent-venv", report.Resolution.Source)
	}
	if report.Install.Status != storage.InstallSucceeded {
		t.Errorf("Install.Status = %q", report.Install.Status)
	}
	if !report.Launched || report.LaunchExitCode != 0 {
		t.Errorf("Launched = %v, LaunchExitCode = %d", report.Launched, report.LaunchExitCode)
	}
	if pauser.n != 1 {
		t.Errorf("pause count = %d, want 1", pauser.n)
	}
}

func TestRun_InterpreterPrecedence(t *testing.T) {
	tests := []struct {
		name       string
		parent     bool
		local      bool
		wantPython func(project) string
	}{
		{name: "both venvs", parent: true, local: true, wantPython: project.parentPython},
		{name: "parent only", parent: true, wantPython: project.parentPython},
		{name: "local only", local: true, wantPython: project.localPython},
		{name: "neither", wantPython: func(project) string { return "python" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proj := newProject(t)
			if tt.parent {
				writeFile(t, proj.parentPython(), "")
			}
			if tt.local {
				writeFile(t, proj.localPython(), "")
			}

			mock := &runner.MockCommandRunner{}
			p, _ := newTestPipeline(t, config.DefaultConfig(), mock)
			if _, err := p.Run(context.Background(), Options{WorkDir: proj.work}); err != nil {
				t.Fatalf("Run() error = %v", err)
			}

			want := tt.wantPython(proj)
			for _, c := range mock.Calls {
				if c.Name != want {
					t.Errorf("command %q uses %q, want %q", c.String(), c.Name, want)
				}
			}
		})
	}
}

func TestRun_InstallFailurePolicy(t *testing.T) {
	tests := []struct {
		name         string
		onFailure    string
		wantErr      error
		wantLaunched bool
	}{
		{name: "continue launches anyway", onFailure: config.OnFailureContinue, wantLaunched: true},
		{name: "abort stops before launch", onFailure: config.OnFailureAbort, wantErr: ErrInstallFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proj := newProject(t)
			cfg := config.DefaultConfig()
			cfg.Install.OnFailure = tt.onFailure

			mock := &runner.MockCommandRunner{
				Respond: func(cmd runner.Command) (runner.Result, []byte, error) {
					if isPip(cmd) {
						return exitWith(1)(cmd)
					}
					return runner.Result{}, nil, nil
				},
			}
			p, _ := newTestPipeline(t, cfg, mock)

			report, err := p.Run(context.Background(), Options{WorkDir: proj.work})
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Run() error = %v, want %v", err, tt.wantErr)
				}
				if code, ok := runner.ExitCodeOf(err); !ok || code != 1 {
					t.Errorf("ExitCodeOf() = %d, %v; want installer exit code 1", code, ok)
				}
			} else if err != nil {
				t.Fatalf("Run() error = %v", err)
			}

			if report.Launched != tt.wantLaunched {
				t.Errorf("Launched = %v, want %v", report.Launched, tt.wantLaunched)
			}
			if report.Install.Status != storage.InstallFailed || report.Install.ExitCode != 1 {
				t.Errorf("Install = %+v", report.Install)
			}
		})
	}
}

func TestRun_ExitCodeAndPausePolicy(t *testing.T) {
	tests := []struct {
		name      string
		pause     string
		appExit   int
		wantPause int
	}{
		{name: "always after success", pause: config.PauseAlways, wantPause: 1},
		{name: "always after failure", pause: config.PauseAlways, appExit: 3, wantPause: 1},
		{name: "on-error after success", pause: config.PauseOnError},
		{name: "on-error after failure", pause: config.PauseOnError, appExit: 3, wantPause: 1},
		{name: "never", pause: config.PauseNever, appExit: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proj := newProject(t)
			mock := &runner.MockCommandRunner{
				Respond: func(cmd runner.Command) (runner.Result, []byte, error) {
					if isApp(cmd) && tt.appExit != 0 {
						return exitWith(tt.appExit)(cmd)
					}
					return runner.Result{}, nil, nil
				},
			}
			p, pauser := newTestPipeline(t, config.DefaultConfig(), mock)

			report, err := p.Run(context.Background(), Options{WorkDir: proj.work, Pause: tt.pause})
			if tt.appExit == 0 && err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if tt.appExit != 0 {
				code, ok := runner.ExitCodeOf(err)
				if !ok || code != tt.appExit {
					t.Errorf("ExitCodeOf(%v) = %d, %v; want %d", err, code, ok, tt.appExit)
				}
			}
			if report.LaunchExitCode != tt.appExit {
				t.Errorf("LaunchExitCode = %d, want %d", report.LaunchExitCode, tt.appExit)
			}
			if pauser.n != tt.wantPause {
				t.Errorf("pause count = %d, want %d", pauser.n, tt.wantPause)
			}
		})
	}
}

func TestRun_ConfigPausePolicy(t *testing.T) {
	proj := newProject(t)
	cfg := config.DefaultConfig()
	cfg.Pause = config.PauseNever

	p, pauser := newTestPipeline(t, cfg, &runner.MockCommandRunner{})
	if _, err := p.Run(context.Background(), Options{WorkDir: proj.work}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if pauser.n != 0 {
		t.Errorf("pause count = %d, want 0", pauser.n)
	}
}

func TestRun_InstallCache(t *testing.T) {
	proj := newProject(t)
	writeFile(t, proj.localPython(), "")
	store := newMemoryStore(t)

	mock := &runner.MockCommandRunner{}
	p, _ := newTestPipeline(t, cachingConfig(), mock)
	p.Store = store

	pipCalls := func() int { return countPip(mock) }

	run := func(opts Options) *Report {
		t.Helper()
		opts.WorkDir = proj.work
		report, err := p.Run(context.Background(), opts)
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		return report
	}

	if r := run(Options{}); r.Install.Status != storage.InstallSucceeded {
		t.Errorf("first run install = %q, want success", r.Install.Status)
	}
	if r := run(Options{}); r.Install.Status != storage.InstallCached {
		t.Errorf("second run install = %q, want cached", r.Install.Status)
	}
	if pipCalls() != 1 {
		t.Errorf("pip calls = %d, want 1", pipCalls())
	}

	if r := run(Options{ForceInstall: true}); r.Install.Status != storage.InstallSucceeded {
		t.Errorf("forced install = %q, want success", r.Install.Status)
	}

	writeFile(t, proj.requirements(), "streamlit\nakshare\npandas\n")
	if r := run(Options{}); r.Install.Status != storage.InstallSucceeded {
		t.Errorf("install after change = %q, want success", r.Install.Status)
	}
	if pipCalls() != 3 {
		t.Errorf("pip calls = %d, want 3", pipCalls())
	}

	run(Options{NoHistory: true})
	launches, err := store.ListLaunches(0)
	if err != nil {
		t.Fatalf("ListLaunches() error = %v", err)
	}
	if len(launches) != 4 {
		t.Errorf("recorded launches = %d, want 4", len(launches))
	}
	if launches[0].Source != string(interpreter.SourceLocalVenv) {
		t.Errorf("recorded source = %q", launches[0].Source)
	}
}

func cachingConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Install.Cache = true
	return cfg
}

func countPip(mock *runner.MockCommandRunner) int {
	n := 0
	for _, c := range mock.CallLines() {
		if strings.Contains(c, " -m pip install ") {
			n++
		}
	}
	return n
}

func TestRun_InstallsEveryRunByDefault(t *testing.T) {
	proj := newProject(t)
	writeFile(t, proj.localPython(), "")

	mock := &runner.MockCommandRunner{}
	p, _ := newTestPipeline(t, config.DefaultConfig(), mock)
	p.Store = newMemoryStore(t)

	for i := 0; i < 2; i++ {
		report, err := p.Run(context.Background(), Options{WorkDir: proj.work})
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if report.Install.Status != storage.InstallSucceeded {
			t.Errorf("run %d install = %q, want success", i, report.Install.Status)
		}
	}
	if got := countPip(mock); got != 2 {
		t.Errorf("pip calls = %d, want 2", got)
	}
}

func TestRun_InstallCacheFollowsInterpreter(t *testing.T) {
	run := func(t *testing.T, p *Pipeline, work string) *Report {
		t.Helper()
		report, err := p.Run(context.Background(), Options{WorkDir: work})
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		return report
	}

	t.Run("recreated venv reinstalls", func(t *testing.T) {
		proj := newProject(t)
		writeFile(t, proj.localPython(), "old interpreter")
		mock := &runner.MockCommandRunner{}
		p, _ := newTestPipeline(t, cachingConfig(), mock)
		p.Store = newMemoryStore(t)

		run(t, p, proj.work)
		if r := run(t, p, proj.work); r.Install.Status != storage.InstallCached {
			t.Fatalf("unchanged venv install = %q, want cached", r.Install.Status)
		}

		if err := os.RemoveAll(filepath.Join(proj.work, ".venv")); err != nil {
			t.Fatal(err)
		}
		writeFile(t, proj.localPython(), "new interpreter")
		later := time.Now().Add(time.Hour)
		if err := os.Chtimes(proj.localPython(), later, later); err != nil {
			t.Fatal(err)
		}

		if r := run(t, p, proj.work); r.Install.Status != storage.InstallSucceeded {
			t.Errorf("recreated venv install = %q, want success", r.Install.Status)
		}
		if got := countPip(mock); got != 2 {
			t.Errorf("pip calls = %d, want 2", got)
		}
	})

	t.Run("different python on PATH reinstalls", func(t *testing.T) {
		proj := newProject(t)
		first := filepath.Join(proj.root, "bin1", "python.exe")
		second := filepath.Join(proj.root, "bin2", "python.exe")
		writeFile(t, first, "")
		writeFile(t, second, "")

		mock := &runner.MockCommandRunner{}
		p, _ := newTestPipeline(t, cachingConfig(), mock)
		p.Store = newMemoryStore(t)
		onPath := first
		p.LookPath = func(string) (string, error) { return onPath, nil }

		run(t, p, proj.work)
		if r := run(t, p, proj.work); r.Install.Status != storage.InstallCached {
			t.Fatalf("same python install = %q, want cached", r.Install.Status)
		}
		onPath = second
		if r := run(t, p, proj.work); r.Install.Status != storage.InstallSucceeded {
			t.Errorf("new python install = %q, want success", r.Install.Status)
		}
	})

	t.Run("python missing from PATH never caches", func(t *testing.T) {
		proj := newProject(t)
		mock := &runner.MockCommandRunner{}
		p, _ := newTestPipeline(t, cachingConfig(), mock)
		p.Store = newMemoryStore(t)
		p.LookPath = func(file string) (string, error) { return "", errors.New("not found") }

		run(t, p, proj.work)
		run(t, p, proj.work)
		if got := countPip(mock); got != 2 {
			t.Errorf("pip calls = %d, want 2", got)
		}
	})
}

func TestRun_FailedInstallIsNotCached(t *testing.T) {
	proj := newProject(t)
	store := newMemoryStore(t)
	stale := &storage.InstallRecord{
		Python:           "python",
		Requirements:     proj.requirements(),
		RequirementsHash: "outdated",
		Interpreter:      "python|0|0",
	}
	if err := store.UpsertInstall(stale); err != nil {
		t.Fatal(err)
	}

	mock := &runner.MockCommandRunner{
		Respond: func(cmd runner.Command) (runner.Result, []byte, error) {
			if isPip(cmd) {
				return exitWith(2)(cmd)
			}
			return runner.Result{}, nil, nil
		},
	}
	p, _ := newTestPipeline(t, cachingConfig(), mock)
	p.Store = store

	for i := 0; i < 2; i++ {
		report, err := p.Run(context.Background(), Options{WorkDir: proj.work})
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if report.Install.Status != storage.InstallFailed {
			t.Errorf("run %d install = %q, want failed", i, report.Install.Status)
		}
	}

	stats, err := store.GetStats()
	if err != nil {
		t.Fatalf("GetStats() error = %v", err)
	}
	if stats["total_launches"] != int64(2) {
		t.Errorf("total_launches = %v", stats["total_launches"])
	}
	if _, err := store.GetInstall("python", proj.requirements()); !errors.Is(err, storage.ErrInstallNotFound) {
		t.Errorf("stale install record kept after failed install, GetInstall() error = %v", err)
	}
}

func TestRun_MissingRequirements(t *testing.T) {
	proj := newProject(t)
	if err := os.Remove(proj.requirements()); err != nil {
		t.Fatal(err)
	}

	mock := &runner.MockCommandRunner{}
	p, _ := newTestPipeline(t, config.DefaultConfig(), mock)

	report, err := p.Run(context.Background(), Options{WorkDir: proj.work})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Install.Status != storage.InstallSkipped {
		t.Errorf("Install.Status = %q, want skipped", report.Install.Status)
	}
	if len(mock.Calls) != 1 || !isApp(mock.Calls[0]) {
		t.Errorf("calls = %v, want only the launch", mock.CallLines())
	}
}

func TestRun_SkipSteps(t *testing.T) {
	proj := newProject(t)

	t.Run("skip install", func(t *testing.T) {
		mock := &runner.MockCommandRunner{}
		p, _ := newTestPipeline(t, config.DefaultConfig(), mock)
		if _, err := p.Run(context.Background(), Options{WorkDir: proj.work, SkipInstall: true}); err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if len(mock.Calls) != 1 || !isApp(mock.Calls[0]) {
			t.Errorf("calls = %v", mock.CallLines())
		}
	})

	t.Run("skip launch", func(t *testing.T) {
		mock := &runner.MockCommandRunner{}
		p, _ := newTestPipeline(t, config.DefaultConfig(), mock)
		report, err := p.Run(context.Background(), Options{WorkDir: proj.work, SkipLaunch: true})
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if report.Launched {
			t.Error("Launched = true with SkipLaunch")
		}
		if len(mock.Calls) != 1 || !isPip(mock.Calls[0]) {
			t.Errorf("calls = %v", mock.CallLines())
		}
	})
}

func TestRun_Override(t *testing.T) {
	proj := newProject(t)
	writeFile(t, proj.parentPython(), "")
	custom := filepath.Join(proj.root, "py312", "python.exe")
	writeFile(t, custom, "")

	mock := &runner.MockCommandRunner{}
	p, _ := newTestPipeline(t, config.DefaultConfig(), mock)

	report, err := p.Run(context.Background(), Options{WorkDir: proj.work, Override: custom})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Resolution.Source != interpreter.SourceOverride || report.Resolution.Python != custom {
		t.Errorf("Resolution = %+v", report.Resolution)
	}

	_, err = p.Run(context.Background(), Options{WorkDir: proj.work, Override: filepath.Join(proj.root, "missing", "python.exe")})
	if !errors.Is(err, interpreter.ErrNotFound) {
		t.Errorf("Run() with missing override error = %v, want ErrNotFound", err)
	}
}

func TestRun_PythonConstraint(t *testing.T) {
	tests := []struct {
		name       string
		banner     string
		versionErr error
		constraint string
		wantErr    error
		wantCalls  int
	}{
		{name: "satisfied", banner: "Python 3.12.1\n", constraint: ">= 3.9", wantCalls: 3},
		{name: "too old", banner: "Python 3.8.10\n", constraint: ">= 3.9", wantErr: ErrUnsupportedPython, wantCalls: 1},
		{name: "version query fails", versionErr: errors.New("no such file"), constraint: ">= 3.9", wantCalls: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proj := newProject(t)
			cfg := config.DefaultConfig()
			cfg.Python.Constraint = tt.constraint

			mock := &runner.MockCommandRunner{
				Respond: func(cmd runner.Command) (runner.Result, []byte, error) {
					if len(cmd.Args) == 1 && cmd.Args[0] == "--version" {
						return runner.Result{}, []byte(tt.banner), tt.versionErr
					}
					return runner.Result{}, nil, nil
				},
			}
			p, _ := newTestPipeline(t, cfg, mock)

			_, err := p.Run(context.Background(), Options{WorkDir: proj.work})
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Run() error = %v, want %v", err, tt.wantErr)
				}
			} else if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if len(mock.Calls) != tt.wantCalls {
				t.Errorf("calls = %v, want %d", mock.CallLines(), tt.wantCalls)
			}
		})
	}
}

func TestRun_Lifecycle(t *testing.T) {
	tests := []struct {
		name   string
		banner string
		client endoflife.Client
		want   string
	}{
		{name: "end of life", banner: "Python 3.8.20", client: endoflife.NewMockClient(), want: "End of Life"},
		{name: "maintained", banner: "Python 3.12.7", client: endoflife.NewMockClient(), want: "Active Support"},
		{name: "api down", banner: "Python 3.12.7", client: &endoflife.MockClient{Err: endoflife.ErrAPIError{StatusCode: 503}}, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proj := newProject(t)
			cfg := config.DefaultConfig()
			cfg.Python.CheckEOL = true

			mock := &runner.MockCommandRunner{
				Respond: func(cmd runner.Command) (runner.Result, []byte, error) {
					if len(cmd.Args) == 1 && cmd.Args[0] == "--version" {
						return runner.Result{}, []byte(tt.banner), nil
					}
					return runner.Result{}, nil, nil
				},
			}
			p, _ := newTestPipeline(t, cfg, mock)
			p.Lifecycle = tt.client

			report, err := p.Run(context.Background(), Options{WorkDir: proj.work})
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if report.Lifecycle != tt.want {
				t.Errorf("Lifecycle = %q, want %q", report.Lifecycle, tt.want)
			}
			if !report.Launched {
				t.Error("lifecycle check must never block the launch")
			}
		})
	}
}

func TestRun_Signature(t *testing.T) {
	tests := []struct {
		name      string
		ringErr   error
		verifyErr error
		noSigFile bool
		wantErr   bool
	}{
		{name: "valid signature"},
		{name: "bad signature", verifyErr: errors.New("signature mismatch"), wantErr: true},
		{name: "no keys", ringErr: errors.New("no .asc keys found"), wantErr: true},
		{name: "missing signature file", noSigFile: true, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proj := newProject(t)
			if !tt.noSigFile {
				writeFile(t, filepath.Join(proj.work, "requirements.txt.asc"), "sig")
			}
			cfg := config.DefaultConfig()
			cfg.Requirements.Signature = "requirements.txt.asc"

			mock := &runner.MockCommandRunner{}
			p, _ := newTestPipeline(t, cfg, mock)
			var gotDir string
			p.LoadKeyRing = func(dir string) (gpg.KeyRing, error) {
				gotDir = dir
				if tt.ringErr != nil {
					return nil, tt.ringErr
				}
				return stubKeyRing{err: tt.verifyErr}, nil
			}

			report, err := p.Run(context.Background(), Options{WorkDir: proj.work})
			if gotDir != filepath.Join(proj.work, "keys") {
				t.Errorf("keys dir = %q", gotDir)
			}
			if tt.wantErr {
				if !errors.Is(err, ErrSignature) {
					t.Fatalf("Run() error = %v, want ErrSignature", err)
				}
				if len(mock.Calls) != 0 || report.Launched {
					t.Errorf("commands ran after signature failure: %v", mock.CallLines())
				}
				return
			}
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if len(mock.Calls) != 2 {
				t.Errorf("calls = %v", mock.CallLines())
			}
		})
	}
}

func TestRun_CancelledSkipsPause(t *testing.T) {
	proj := newProject(t)
	ctx, cancel := context.WithCancel(context.Background())

	mock := &runner.MockCommandRunner{
		Respond: func(cmd runner.Command) (runner.Result, []byte, error) {
			if isApp(cmd) {
				cancel()
				return runner.Result{ExitCode: -1}, nil, context.Canceled
			}
			return runner.Result{}, nil, nil
		},
	}
	p, pauser := newTestPipeline(t, config.DefaultConfig(), mock)

	if _, err := p.Run(ctx, Options{WorkDir: proj.work}); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if pauser.n != 0 {
		t.Errorf("pause count = %d, want 0 after cancellation", pauser.n)
	}
}

func TestLaunchCommand(t *testing.T) {
	res := interpreter.Resolution{Python: "py", Runner: "st"}

	tests := []struct {
		name    string
		mutate  func(*config.Config)
		appArgs []string
		want    string
	}{
		{name: "module mode", want: "py -m streamlit run app.py"},
		{name: "runner mode", mutate: func(c *config.Config) { c.Launch.Mode = config.LaunchModeRunner }, want: "st run app.py"},
		{
			name:    "configured and extra args",
			mutate:  func(c *config.Config) { c.Launch.Args = []string{"--server.port", "8502"} },
			appArgs: []string{"--", "--debug"},
			want:    "py -m streamlit run app.py --server.port 8502 -- --debug",
		},
		{name: "custom app", mutate: func(c *config.Config) { c.Launch.App = "main.py" }, want: "py -m streamlit run main.py"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			if tt.mutate != nil {
				tt.mutate(cfg)
			}
			p, _ := newTestPipeline(t, cfg, &runner.MockCommandRunner{})
			cmd := p.LaunchCommand("/work", res, tt.appArgs)
			if cmd.String() != tt.want {
				t.Errorf("LaunchCommand() = %q, want %q", cmd.String(), tt.want)
			}
			if cmd.Dir != "/work" {
				t.Errorf("Dir = %q", cmd.Dir)
			}
		})
	}
}

func TestCreateVenv(t *testing.T) {
	proj := newProject(t)
	mock := &runner.MockCommandRunner{}
	p, _ := newTestPipeline(t, config.DefaultConfig(), mock)

	res, err := p.CreateVenv(context.Background(), proj.work, "")
	if err != nil {
		t.Fatalf("CreateVenv() error = %v", err)
	}
	if got := strings.Join(mock.CallLines(), "\n"); got != "python -m venv .venv" {
		t.Errorf("calls = %q", got)
	}
	if res.Python != proj.localPython() || res.Source != interpreter.SourceLocalVenv {
		t.Errorf("Resolution = %+v", res)
	}

	writeFile(t, proj.localPython(), "")
	writeFile(t, proj.parentPython(), "")
	existing, err := p.CreateVenv(context.Background(), proj.work, "")
	if !errors.Is(err, ErrVenvExists) {
		t.Errorf("CreateVenv() on existing venv error = %v, want ErrVenvExists", err)
	}
	if existing.Python != proj.localPython() || existing.Source != interpreter.SourceLocalVenv {
		t.Errorf("existing venv Resolution = %+v, want the local venv", existing)
	}
	if len(mock.Calls) != 1 {
		t.Errorf("calls = %v, venv module should not rerun", mock.CallLines())
	}

	failing := &runner.MockCommandRunner{Respond: exitWith(1)}
	p2, _ := newTestPipeline(t, config.DefaultConfig(), failing)
	other := newProject(t)
	if _, err := p2.CreateVenv(context.Background(), other.work, "python3"); err == nil {
		t.Error("CreateVenv() error = nil when venv module fails")
	}
	if failing.Calls[0].Name != "python3" {
		t.Errorf("base interpreter = %q, want override", failing.Calls[0].Name)
	}
}
