// Package configloader reads YAML overrides (prompt templates, model params)
// from a base directory, falling back to the executable's directory.
package configloader

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Loader is a YAML configuration loader rooted at baseDir.
type Loader struct {
	baseDir string
}

// NewLoader creates a new configuration loader.
func NewLoader(baseDir string) *Loader {
	return &Loader{
		baseDir: baseDir,
	}
}

// Load loads a single YAML file and unmarshals it into target.
func (l *Loader) Load(subPath string, target any) error {
	data, err := l.ReadFileWithFallback(subPath)
	if err != nil {
		return fmt.Errorf("read file %s: %w", subPath, err)
	}

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("unmarshal YAML %s: %w", subPath, err)
	}

	return nil
}

// LoadOptional behaves like Load but reports found=false instead of an error
// when the file does not exist. Fields missing from the file keep the values
// already present in target.
func (l *Loader) LoadOptional(subPath string, target any) (bool, error) {
	err := l.Load(subPath, target)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ReadFileWithFallback tries to read file from path relative to baseDir,
// then falls back to executable directory for installed builds.
func (l *Loader) ReadFileWithFallback(path string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(l.baseDir, path))
	if err == nil {
		return data, nil
	}
	if filepath.IsAbs(l.baseDir) {
		return nil, err
	}

	execPath, execErr := os.Executable()
	if execErr != nil {
		return nil, err
	}

	return os.ReadFile(filepath.Join(filepath.Dir(execPath), l.baseDir, path))
}
