package models

import (
	"fmt"
	"time"
)

const (
	// DefaultIndexWait is how long a package with dependents is given to
	// become visible in the registry index before its dependents publish.
	DefaultIndexWait = 60 * time.Second

	// DefaultPollInterval is the probe spacing used by the poll wait mode.
	DefaultPollInterval = 5 * time.Second

	DefaultIndexURL       = "https://index.crates.io"
	DefaultTokenEnv       = "CARGO_REGISTRY_TOKEN"
	DefaultPublishCommand = "cargo"
)

// WaitMode selects how the gap between a dependency publish and its
// dependents is bridged.
type WaitMode string

const (
	// WaitFixed sleeps the package's full indexWait unconditionally.
	WaitFixed WaitMode = "fixed"
	// WaitPoll probes the registry index until the version is visible,
	// giving up and proceeding once indexWait has elapsed.
	WaitPoll WaitMode = "poll"
)

// ReleaseFile is the parsed ferry.yml release manifest.
type ReleaseFile struct {
	Registry Registry  `yaml:"registry"`
	Publish  Publish   `yaml:"publish"`
	Packages []Package `yaml:"packages" validate:"required,min=1,dive"`
}

// Registry describes the target registry's read API and credential source.
type Registry struct {
	IndexURL     string   `yaml:"index"`
	TokenEnv     string   `yaml:"tokenEnv"`
	Wait         WaitMode `yaml:"wait" validate:"omitempty,oneof=fixed poll"`
	PollInterval string   `yaml:"pollInterval"`
}

// Publish describes the external package-manager command that performs the
// actual publish. The command is treated as a black box: ferry only builds
// its argument list and interprets its exit status.
type Publish struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

// Package is one publishable unit of the release.
type Package struct {
	Name        string   `yaml:"name" validate:"required"`
	Manifest    string   `yaml:"manifest" validate:"required"`
	AllFeatures bool     `yaml:"allFeatures"`
	DependsOn   []string `yaml:"dependsOn" validate:"omitempty,dive,required"`
	IndexWait   string   `yaml:"indexWait"`
}

// IndexWaitDuration parses the package's indexWait, falling back to
// DefaultIndexWait when unset.
func (p Package) IndexWaitDuration() (time.Duration, error) {
	return parseDuration(p.IndexWait, DefaultIndexWait)
}

// PollIntervalDuration parses the registry pollInterval, falling back to
// DefaultPollInterval when unset.
func (r Registry) PollIntervalDuration() (time.Duration, error) {
	return parseDuration(r.PollInterval, DefaultPollInterval)
}

// WaitModeOrDefault returns the configured wait mode, defaulting to WaitFixed.
func (r Registry) WaitModeOrDefault() WaitMode {
	if r.Wait == "" {
		return WaitFixed
	}
	return r.Wait
}

// IndexURLOrDefault returns the configured index base URL or the crates.io
// sparse index.
func (r Registry) IndexURLOrDefault() string {
	if r.IndexURL == "" {
		return DefaultIndexURL
	}
	return r.IndexURL
}

// TokenEnvOrDefault returns the environment variable the credential is read
// from and forwarded as.
func (r Registry) TokenEnvOrDefault() string {
	if r.TokenEnv == "" {
		return DefaultTokenEnv
	}
	return r.TokenEnv
}

// CommandOrDefault returns the publish binary, defaulting to cargo.
func (p Publish) CommandOrDefault() string {
	if p.Command == "" {
		return DefaultPublishCommand
	}
	return p.Command
}

// ArgsOrDefault returns the subcommand arguments placed before the generated
// per-package flags, defaulting to ["publish"].
func (p Publish) ArgsOrDefault() []string {
	if len(p.Args) == 0 {
		return []string{"publish"}
	}
	out := make([]string, len(p.Args))
	copy(out, p.Args)
	return out
}

func parseDuration(value string, fallback time.Duration) (time.Duration, error) {
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", value, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", value)
	}
	return d, nil
}
