// Package pipeline turns a release manifest into an ordered publish plan and
// runs it. Packages publish strictly in dependency order, one at a time, and
// a wait separates every dependency from the dependents that need to see it
// in the registry index. The first failure stops the release.
package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/opnlabs/ferry/pkg/manifest"
	"github.com/opnlabs/ferry/pkg/models"
)

// StepStatus tracks one publish step's outcome.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// JobStatus is the aggregate outcome of a release run.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// Step is one package publish within a release run. Wait is the post-publish
// pause scheduled before the next step; it is zero for packages nothing
// depends on. Version is filled in by ResolveVersions when the package
// manifest can be read.
type Step struct {
	Package     string
	Manifest    string
	Version     string
	AllFeatures bool
	Wait        time.Duration
	Dependents  []string
	Status      StepStatus
	Err         error
	StartedAt   time.Time
	Duration    time.Duration
	Waited      time.Duration
}

// Job is one end-to-end release run.
type Job struct {
	ID     string
	Tag    string
	Status JobStatus
	Steps  []Step
}

// Plan derives the publish order for the release manifest. Dependencies come
// before dependents; packages with no ordering relation keep their declared
// order. A dependency cycle is a planning error.
func Plan(file models.ReleaseFile, tag string) (*Job, error) {
	ordered, err := order(file.Packages)
	if err != nil {
		return nil, err
	}

	dependents := make(map[string][]string)
	for _, pkg := range file.Packages {
		for _, dep := range pkg.DependsOn {
			dependents[dep] = append(dependents[dep], pkg.Name)
		}
	}

	steps := make([]Step, 0, len(ordered))
	for _, pkg := range ordered {
		step := Step{
			Package:     pkg.Name,
			Manifest:    pkg.Manifest,
			AllFeatures: pkg.AllFeatures,
			Dependents:  dependents[pkg.Name],
			Status:      StepPending,
		}
		if len(step.Dependents) > 0 {
			wait, err := pkg.IndexWaitDuration()
			if err != nil {
				return nil, fmt.Errorf("package %s: %w", pkg.Name, err)
			}
			step.Wait = wait
		}
		steps = append(steps, step)
	}

	return &Job{
		ID:     uuid.NewString(),
		Tag:    tag,
		Status: JobPending,
		Steps:  steps,
	}, nil
}

// order topologically sorts the packages, keeping declared order among
// packages the dependency edges leave unordered.
func order(packages []models.Package) ([]models.Package, error) {
	remaining := append([]models.Package{}, packages...)
	placed := make(map[string]bool, len(packages))
	ordered := make([]models.Package, 0, len(packages))

	for len(remaining) > 0 {
		progressed := false
		for i, pkg := range remaining {
			if !depsPlaced(pkg, placed) {
				continue
			}
			ordered = append(ordered, pkg)
			placed[pkg.Name] = true
			remaining = append(remaining[:i], remaining[i+1:]...)
			progressed = true
			break
		}
		if !progressed {
			names := make([]string, 0, len(remaining))
			for _, pkg := range remaining {
				names = append(names, pkg.Name)
			}
			return nil, fmt.Errorf("dependency cycle among packages: %s", strings.Join(names, ", "))
		}
	}
	return ordered, nil
}

func depsPlaced(pkg models.Package, placed map[string]bool) bool {
	for _, dep := range pkg.DependsOn {
		if !placed[dep] {
			return false
		}
	}
	return true
}

// ResolveVersions reads each step's package manifest and attaches the version
// it declares. Resolution is best effort: the publish command is the
// authority on manifest contents, so unreadable or mismatched manifests only
// cost the plan its version labels.
func (j *Job) ResolveVersions(read func(string) (manifest.Info, error), logger *log.Logger) {
	for i := range j.Steps {
		step := &j.Steps[i]
		info, err := read(step.Manifest)
		if err != nil {
			if logger != nil {
				logger.Warn("unable to read package manifest", "package", step.Package, "err", err)
			}
			continue
		}
		if info.Name != step.Package {
			if logger != nil {
				logger.Warn("package manifest names a different package",
					"package", step.Package, "manifest", step.Manifest, "found", info.Name)
			}
			continue
		}
		step.Version = info.Version
	}
}
