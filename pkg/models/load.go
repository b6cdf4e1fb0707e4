package models

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads and validates a release manifest.
func Load(path string) (ReleaseFile, error) {
	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return ReleaseFile{}, fmt.Errorf("read release manifest: %w", err)
	}
	return Parse(contents)
}

// Parse decodes a release manifest from raw yaml and validates it.
func Parse(contents []byte) (ReleaseFile, error) {
	var file ReleaseFile
	if err := yaml.Unmarshal(contents, &file); err != nil {
		return ReleaseFile{}, fmt.Errorf("parse release manifest: %w", err)
	}
	if err := validate.Struct(file); err != nil {
		return ReleaseFile{}, fmt.Errorf("validate release manifest: %w", err)
	}
	if err := checkPackages(file.Packages); err != nil {
		return ReleaseFile{}, err
	}
	if _, err := file.Registry.PollIntervalDuration(); err != nil {
		return ReleaseFile{}, fmt.Errorf("registry pollInterval: %w", err)
	}
	for _, pkg := range file.Packages {
		if _, err := pkg.IndexWaitDuration(); err != nil {
			return ReleaseFile{}, fmt.Errorf("package %s indexWait: %w", pkg.Name, err)
		}
	}
	return file, nil
}

func checkPackages(packages []Package) error {
	declared := make(map[string]struct{}, len(packages))
	for _, pkg := range packages {
		if _, ok := declared[pkg.Name]; ok {
			return fmt.Errorf("package %s declared twice", pkg.Name)
		}
		declared[pkg.Name] = struct{}{}
	}
	for _, pkg := range packages {
		for _, dep := range pkg.DependsOn {
			if dep == pkg.Name {
				return fmt.Errorf("package %s depends on itself", pkg.Name)
			}
			if _, ok := declared[dep]; !ok {
				return fmt.Errorf("package %s depends on undeclared package %s", pkg.Name, dep)
			}
		}
	}
	return nil
}
