// Package manifest reads the identity of a publishable package from its
// Cargo-style TOML manifest.
package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// Info is the package identity declared in a manifest's [package] table.
type Info struct {
	Name    string
	Version string
}

type document struct {
	Package struct {
		Name    string `toml:"name"`
		Version string `toml:"version"`
	} `toml:"package"`
}

// Read extracts the [package] name and version from the manifest at path.
// Workspace-inherited fields are not resolved; the manifest must carry its
// own name and version.
func Read(path string) (Info, error) {
	raw, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Info{}, fmt.Errorf("read package manifest: %w", err)
	}
	return parse(raw, path)
}

func parse(raw []byte, path string) (Info, error) {
	var doc document
	if err := toml.Unmarshal(raw, &doc); err != nil {
		return Info{}, fmt.Errorf("parse package manifest %s: %w", path, err)
	}
	if doc.Package.Name == "" {
		return Info{}, fmt.Errorf("package manifest %s: %w", path, errNoPackageTable)
	}
	return Info{Name: doc.Package.Name, Version: doc.Package.Version}, nil
}

var errNoPackageTable = errors.New("missing [package] name")
