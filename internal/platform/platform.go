// Package platform describes the host OS/architecture and the on-disk
// layout of Python virtual environments on each OS.
package platform

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
)

// Platform represents a target OS/Architecture combination
type Platform struct {
	OS         string // windows, linux, mac
	Arch       string // x64, aarch64
	ExeSuffix  string // ".exe" on windows
	BinDir     string // directory inside a virtual environment holding executables
	Classifier string // e.g. windows-x64
}

// PredefinedPlatforms returns common platform combinations
func PredefinedPlatforms() []Platform {
	return []Platform{
		{OS: "windows", Arch: "x64", ExeSuffix: ".exe", BinDir: "Scripts", Classifier: "windows-x64"},
		{OS: "windows", Arch: "aarch64", ExeSuffix: ".exe", BinDir: "Scripts", Classifier: "windows-aarch64"},
		{OS: "mac", Arch: "x64", BinDir: "bin", Classifier: "mac-x64"},
		{OS: "mac", Arch: "aarch64", BinDir: "bin", Classifier: "mac-aarch64"},
		{OS: "linux", Arch: "x64", BinDir: "bin", Classifier: "linux-x64"},
		{OS: "linux", Arch: "aarch64", BinDir: "bin", Classifier: "linux-aarch64"},
	}
}

// FindPlatform finds a platform by its classifier or OS-Arch combination
func FindPlatform(platformStr string) (Platform, error) {
	for _, p := range PredefinedPlatforms() {
		if p.Classifier == platformStr {
			return p, nil
		}
		if fmt.Sprintf("%s-%s", p.OS, p.Arch) == platformStr {
			return p, nil
		}
	}

	return Platform{}, fmt.Errorf("unknown platform: %s", platformStr)
}

// CurrentPlatform returns the platform for the current system
func CurrentPlatform() Platform {
	os := mapOS(runtime.GOOS)
	arch := mapArch(runtime.GOARCH)

	for _, p := range PredefinedPlatforms() {
		if p.OS == os && p.Arch == arch {
			return p
		}
	}

	return buildPlatform(os, arch)
}

// IsWindows reports whether the platform uses the Windows venv layout.
func (p Platform) IsWindows() bool {
	return p.OS == "windows"
}

// Executable returns the file name of an executable on this platform.
func (p Platform) Executable(name string) string {
	if p.ExeSuffix == "" || strings.HasSuffix(strings.ToLower(name), p.ExeSuffix) {
		return name
	}
	return name + p.ExeSuffix
}

// VenvExecutable returns the path of an executable inside the virtual
// environment rooted at venvDir, e.g. .venv/Scripts/python.exe.
func (p Platform) VenvExecutable(venvDir, name string) string {
	return filepath.Join(venvDir, p.BinDir, p.Executable(name))
}

// mapOS converts Go's GOOS to our platform OS naming
func mapOS(goos string) string {
	switch goos {
	case "windows":
		return "windows"
	case "darwin":
		return "mac"
	default:
		return "linux"
	}
}

// mapArch converts Go's GOARCH to our platform architecture naming
func mapArch(goarch string) string {
	switch goarch {
	case "arm64":
		return "aarch64"
	default:
		return "x64"
	}
}

// buildPlatform constructs a Platform from OS and architecture strings
func buildPlatform(os, arch string) Platform {
	p := Platform{
		OS:         os,
		Arch:       arch,
		BinDir:     "bin",
		Classifier: fmt.Sprintf("%s-%s", os, arch),
	}
	if os == "windows" {
		p.ExeSuffix = ".exe"
		p.BinDir = "Scripts"
	}
	return p
}
