package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// GoblinsConfigFile is the project configuration the worker loads.
const GoblinsConfigFile = "goblins.yaml"

// ConfigNotFoundError is returned when no goblins.yaml could be located.
type ConfigNotFoundError struct {
	Searched []string
}

func (e *ConfigNotFoundError) Error() string {
	msg := GoblinsConfigFile + " not found in current project; set GOBLINOS_CONFIG to a path to your project's " + GoblinsConfigFile
	if len(e.Searched) > 0 {
		msg += fmt.Sprintf(" (searched from %s)", strings.Join(e.Searched, ", "))
	}
	return msg
}

// RuntimeDirNotFoundError is returned when the worker package directory is missing.
type RuntimeDirNotFoundError struct {
	Candidates []string
}

func (e *RuntimeDirNotFoundError) Error() string {
	return "goblin runtime directory not found; set GOBLIN_RUNTIME_DIR or place goblin-runtime in ./packages or ./goblin-runtime"
}

// ConfigSearch describes where to look for goblins.yaml, in priority order:
// ProjectRoot, ConfigPath, then upward from WorkDir, then upward from ExecDir.
type ConfigSearch struct {
	ProjectRoot string
	ConfigPath  string
	WorkDir     string
	ExecDir     string
}

// NewConfigSearch fills the search from runtime settings and the process
// working directory and executable location.
func NewConfigSearch(rc RuntimeConfig) ConfigSearch {
	s := ConfigSearch{
		ProjectRoot: rc.ProjectRoot,
		ConfigPath:  rc.ConfigPath,
	}
	if wd, err := os.Getwd(); err == nil {
		s.WorkDir = wd
	}
	if exe, err := os.Executable(); err == nil {
		s.ExecDir = filepath.Dir(exe)
	}
	return s
}

// Find returns the first goblins.yaml that exists.
func (s ConfigSearch) Find() (string, error) {
	if s.ProjectRoot != "" {
		candidate := filepath.Join(s.ProjectRoot, GoblinsConfigFile)
		if exists(candidate) {
			return candidate, nil
		}
	}

	if s.ConfigPath != "" && exists(s.ConfigPath) {
		return s.ConfigPath, nil
	}

	var searched []string
	for _, start := range []string{s.WorkDir, s.ExecDir} {
		if start == "" {
			continue
		}
		searched = append(searched, start)
		if path, ok := searchUpward(start, GoblinsConfigFile); ok {
			return path, nil
		}
	}

	return "", &ConfigNotFoundError{Searched: searched}
}

// FindGoblinsConfig resolves goblins.yaml for the given runtime settings.
func FindGoblinsConfig(rc RuntimeConfig) (string, error) {
	return NewConfigSearch(rc).Find()
}

// LocateRuntimeDir returns the worker package directory. An explicit dir is
// used as is; otherwise ./packages/goblin-runtime and ./goblin-runtime
// under workDir are tried in order.
func LocateRuntimeDir(explicit, workDir string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	candidates := []string{
		filepath.Join(workDir, "packages", "goblin-runtime"),
		filepath.Join(workDir, "goblin-runtime"),
	}
	for _, c := range candidates {
		if exists(c) {
			return c, nil
		}
	}
	return "", &RuntimeDirNotFoundError{Candidates: candidates}
}

func searchUpward(start, name string) (string, bool) {
	dir, err := filepath.Abs(start)
	if err != nil {
		dir = start
	}
	for {
		candidate := filepath.Join(dir, name)
		if exists(candidate) {
			return candidate, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
