// Package config provides configuration management for the launcher.
// It handles the YAML launcher file, defaults, and validation.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the configuration file looked up when none is given.
const DefaultConfigFile = "launcher.yaml"

// Install failure policies.
const (
	OnFailureContinue = "continue"
	OnFailureAbort    = "abort"
)

// Launch modes.
const (
	LaunchModeModule = "module" // python -m streamlit run app.py
	LaunchModeRunner = "runner" // streamlit run app.py
)

// Pause policies.
const (
	PauseAlways  = "always"
	PauseOnError = "on-error"
	PauseNever   = "never"
)

// Sentinel errors for configuration validation
var (
	ErrVersionRequired     = errors.New("version is required")
	ErrVenvDirRequired     = errors.New("interpreter.venv_dir is required")
	ErrSearchRequired      = errors.New("interpreter.search must list at least one directory")
	ErrRequirementsFile    = errors.New("requirements.file is required")
	ErrKeysDirRequired     = errors.New("requirements.keys_dir is required when requirements.signature is set")
	ErrInvalidOnFailure    = errors.New("install.on_failure must be 'continue' or 'abort'")
	ErrAppRequired         = errors.New("launch.app is required")
	ErrInvalidLaunchMode   = errors.New("launch.mode must be 'module' or 'runner'")
	ErrInvalidPause        = errors.New("pause must be 'always', 'on-error' or 'never'")
	ErrDatabasePath        = errors.New("storage.database_path is required when history or install cache is enabled")
	ErrInvalidRepository   = errors.New("update.repository must be in format 'owner/repo'")
	ErrInvalidPythonModule = errors.New("interpreter.python_name and interpreter.runner_name are required")
)

// Config represents the top-level configuration structure.
type Config struct {
	Version      string             `yaml:"version"`
	Interpreter  InterpreterConfig  `yaml:"interpreter"`
	Python       PythonConfig       `yaml:"python"`
	Requirements RequirementsConfig `yaml:"requirements"`
	Install      InstallConfig      `yaml:"install"`
	Launch       LaunchConfig       `yaml:"launch"`
	Pause        string             `yaml:"pause"`
	Storage      StorageConfig      `yaml:"storage"`
	Update       UpdateConfig       `yaml:"update"`
}

// InterpreterConfig controls where the Python interpreter is looked up.
type InterpreterConfig struct {
	VenvDir    string   `yaml:"venv_dir"`    // virtual environment directory name
	Search     []string `yaml:"search"`      // roots searched for VenvDir, in precedence order
	Python     string   `yaml:"python"`      // explicit interpreter override
	PythonName string   `yaml:"python_name"` // bare interpreter command
	RunnerName string   `yaml:"runner_name"` // bare application runner command
}

// PythonConfig holds interpreter version requirements.
type PythonConfig struct {
	Constraint string `yaml:"constraint"` // semver constraint, e.g. ">= 3.9"
	CheckEOL   bool   `yaml:"check_eol"`
	EOLProduct string `yaml:"eol_product"`
}

// RequirementsConfig describes the dependency manifest.
type RequirementsConfig struct {
	File      string `yaml:"file"`
	Signature string `yaml:"signature"` // detached OpenPGP signature of File
	KeysDir   string `yaml:"keys_dir"`
}

// InstallConfig controls the dependency installation step.
type InstallConfig struct {
	ExtraArgs []string `yaml:"extra_args"`
	OnFailure string   `yaml:"on_failure"`
	Cache     bool     `yaml:"cache"`
}

// LaunchConfig controls how the application is started.
type LaunchConfig struct {
	App  string   `yaml:"app"`
	Mode string   `yaml:"mode"`
	Args []string `yaml:"args"`
}

// StorageConfig represents storage configuration for launch tracking.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
	History      bool   `yaml:"history"`
}

// UpdateConfig names the repository whose releases publish the launcher.
type UpdateConfig struct {
	Repository string `yaml:"repository"`
}

// DefaultConfig returns the classic launcher behaviour: parent venv, then
// local venv, then PATH; pip install; streamlit run app.py; pause.
func DefaultConfig() *Config {
	return &Config{
		Version: "1",
		Interpreter: InterpreterConfig{
			VenvDir:    ".venv",
			Search:     []string{"..", "."},
			PythonName: "python",
			RunnerName: "streamlit",
		},
		Python: PythonConfig{
			EOLProduct: "python",
		},
		Requirements: RequirementsConfig{
			File:    "requirements.txt",
			KeysDir: "keys",
		},
		Install: InstallConfig{
			OnFailure: OnFailureContinue,
		},
		Launch: LaunchConfig{
			App:  "app.py",
			Mode: LaunchModeModule,
		},
		Pause: PauseAlways,
		Storage: StorageConfig{
			DatabasePath: ".fundlaunch.db",
			History:      true,
		},
	}
}

// LoadConfig loads and parses the launcher configuration from a YAML file.
// Keys missing from the file keep their default values.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filePath, err)
	}
	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filePath, err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

// LoadOrDefault loads filePath if it exists and falls back to DefaultConfig
// otherwise. The second return value reports whether the file was read.
func LoadOrDefault(filePath string) (*Config, bool, error) {
	if filePath == "" {
		return DefaultConfig(), false, nil
	}
	if _, err := os.Stat(filePath); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), false, nil
	}
	cfg, err := LoadConfig(filePath)
	if err != nil {
		return nil, false, err
	}
	return cfg, true, nil
}

// Validate validates the configuration structure and required fields.
func (c *Config) Validate() error {
	if c.Version == "" {
		return ErrVersionRequired
	}
	if err := c.Interpreter.Validate(); err != nil {
		return err
	}
	if c.Requirements.File == "" {
		return ErrRequirementsFile
	}
	if c.Requirements.Signature != "" && c.Requirements.KeysDir == "" {
		return ErrKeysDirRequired
	}
	switch c.Install.OnFailure {
	case OnFailureContinue, OnFailureAbort:
	default:
		return fmt.Errorf("%w: got %q", ErrInvalidOnFailure, c.Install.OnFailure)
	}
	if c.Launch.App == "" {
		return ErrAppRequired
	}
	switch c.Launch.Mode {
	case LaunchModeModule, LaunchModeRunner:
	default:
		return fmt.Errorf("%w: got %q", ErrInvalidLaunchMode, c.Launch.Mode)
	}
	if err := ValidatePause(c.Pause); err != nil {
		return err
	}
	if (c.Storage.History || c.Install.Cache) && c.Storage.DatabasePath == "" {
		return ErrDatabasePath
	}
	if c.Update.Repository != "" {
		parts := strings.Split(c.Update.Repository, "/")
		if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" || strings.TrimSpace(parts[1]) == "" {
			return fmt.Errorf("%w: got %s", ErrInvalidRepository, c.Update.Repository)
		}
	}
	return nil
}

// Validate validates the interpreter lookup settings.
func (i *InterpreterConfig) Validate() error {
	if i.VenvDir == "" {
		return ErrVenvDirRequired
	}
	if len(i.Search) == 0 {
		return ErrSearchRequired
	}
	if i.PythonName == "" || i.RunnerName == "" {
		return ErrInvalidPythonModule
	}
	return nil
}

// ValidatePause checks a pause policy value.
func ValidatePause(pause string) error {
	switch pause {
	case PauseAlways, PauseOnError, PauseNever:
		return nil
	default:
		return fmt.Errorf("%w: got %q", ErrInvalidPause, pause)
	}
}

// SaveConfig saves the configuration to a YAML file.
func SaveConfig(config *Config, filePath string) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", filePath, err)
	}
	return nil
}
