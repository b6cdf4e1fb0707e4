package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/opnlabs/ferry/pkg/manifest"
	"github.com/opnlabs/ferry/pkg/models"
	"github.com/opnlabs/ferry/pkg/publisher"
	"github.com/opnlabs/ferry/pkg/store"
	"github.com/opnlabs/ferry/pkg/wait"
)

type publishCall struct {
	name string
	at   time.Time
}

// fakeRegistry stands in for the external publish command plus the registry
// behind it. It remembers what was published so a second publish of the same
// package conflicts, like a real registry would.
type fakeRegistry struct {
	calls     []publishCall
	failures  map[string]error
	published map[string]bool
}

func (f *fakeRegistry) Publish(_ context.Context, ref publisher.PackageRef, token string) error {
	f.calls = append(f.calls, publishCall{name: ref.Name, at: time.Now()})
	if token == "" {
		return &publisher.Error{Package: ref.Name, Err: errors.New("registry credential is empty")}
	}
	if err, ok := f.failures[ref.Name]; ok {
		return &publisher.Error{Package: ref.Name, Err: err}
	}
	if f.published[ref.Name] {
		return &publisher.Error{Package: ref.Name, Err: errors.New("version already exists on the registry")}
	}
	if f.published == nil {
		f.published = make(map[string]bool)
	}
	f.published[ref.Name] = true
	return nil
}

func (f *fakeRegistry) names() []string {
	names := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		names = append(names, c.name)
	}
	return names
}

type recordingWaiter struct {
	targets []wait.Target
}

func (r *recordingWaiter) Wait(_ context.Context, target wait.Target) {
	r.targets = append(r.targets, target)
}

func releaseFile(waitBudget string) models.ReleaseFile {
	return models.ReleaseFile{
		Packages: []models.Package{
			{Name: "cairo-vm", Manifest: "Cargo.toml", AllFeatures: true, DependsOn: []string{"felt"}},
			{Name: "felt", Manifest: "felt/Cargo.toml", IndexWait: waitBudget},
		},
	}
}

func TestPlanOrdersDependenciesFirst(t *testing.T) {
	job, err := Plan(releaseFile(""), "v1.0.0")
	if err != nil {
		t.Fatal(err)
	}

	if len(job.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(job.Steps))
	}
	if job.Steps[0].Package != "felt" || job.Steps[1].Package != "cairo-vm" {
		t.Errorf("expected felt before cairo-vm, got %v", []string{job.Steps[0].Package, job.Steps[1].Package})
	}
	if got := job.Steps[0].Dependents; len(got) != 1 || got[0] != "cairo-vm" {
		t.Errorf("expected cairo-vm to await felt, got %v", got)
	}
	if job.Steps[0].Wait != models.DefaultIndexWait {
		t.Errorf("expected the default wait for felt, got %v", job.Steps[0].Wait)
	}
	if job.Steps[1].Wait != 0 {
		t.Errorf("expected no wait after the last package, got %v", job.Steps[1].Wait)
	}
	if !job.Steps[1].AllFeatures {
		t.Error("expected allFeatures to carry into the plan")
	}
	if job.ID == "" {
		t.Error("expected a run id")
	}
}

func TestPlanKeepsDeclaredOrderAmongIndependents(t *testing.T) {
	file := models.ReleaseFile{
		Packages: []models.Package{
			{Name: "c", Manifest: "c/Cargo.toml"},
			{Name: "a", Manifest: "a/Cargo.toml"},
			{Name: "b", Manifest: "b/Cargo.toml", DependsOn: []string{"a"}},
		},
	}
	job, err := Plan(file, "")
	if err != nil {
		t.Fatal(err)
	}

	got := []string{job.Steps[0].Package, job.Steps[1].Package, job.Steps[2].Package}
	want := []string{"c", "a", "b"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, got)
		}
	}
}

func TestPlanRejectsDependencyCycle(t *testing.T) {
	file := models.ReleaseFile{
		Packages: []models.Package{
			{Name: "a", Manifest: "a/Cargo.toml", DependsOn: []string{"b"}},
			{Name: "b", Manifest: "b/Cargo.toml", DependsOn: []string{"a"}},
		},
	}
	_, err := Plan(file, "")
	if err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("expected a cycle error, got %v", err)
	}
}

func TestResolveVersions(t *testing.T) {
	dir := t.TempDir()
	feltManifest := filepath.Join(dir, "Cargo.toml")
	contents := "[package]\nname = \"felt\"\nversion = \"0.8.2\"\n"
	if err := os.WriteFile(feltManifest, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}

	job := &Job{Steps: []Step{
		{Package: "felt", Manifest: feltManifest},
		{Package: "cairo-vm", Manifest: filepath.Join(dir, "missing", "Cargo.toml")},
		{Package: "other", Manifest: feltManifest},
	}}
	job.ResolveVersions(manifest.Read, nil)

	if job.Steps[0].Version != "0.8.2" {
		t.Errorf("expected felt 0.8.2, got %q", job.Steps[0].Version)
	}
	if job.Steps[1].Version != "" {
		t.Errorf("expected no version for an unreadable manifest, got %q", job.Steps[1].Version)
	}
	if job.Steps[2].Version != "" {
		t.Errorf("expected no version for a mismatched manifest, got %q", job.Steps[2].Version)
	}
}

func TestRunPublishesInOrderAndWaits(t *testing.T) {
	registry := &fakeRegistry{}
	outcomes := store.NewMemStore()
	runner := NewRunner(registry, wait.NewFixed(nil), WithStore(outcomes))

	job, err := Plan(releaseFile("50ms"), "v1.0.0")
	if err != nil {
		t.Fatal(err)
	}

	result := runner.Run(context.Background(), job, "s3cret")
	if !result.Succeeded() {
		t.Fatalf("expected the release to succeed, got %+v", result)
	}

	got := registry.names()
	if len(got) != 2 || got[0] != "felt" || got[1] != "cairo-vm" {
		t.Fatalf("expected publishes [felt cairo-vm], got %v", got)
	}
	if gap := registry.calls[1].at.Sub(registry.calls[0].at); gap < 50*time.Millisecond {
		t.Errorf("expected at least the wait budget between publishes, got %v", gap)
	}
	if job.Steps[0].Waited < 50*time.Millisecond {
		t.Errorf("expected the felt step to record its wait, got %v", job.Steps[0].Waited)
	}
	if job.Steps[1].Waited != 0 {
		t.Errorf("expected no wait after the last package, got %v", job.Steps[1].Waited)
	}
	if job.Status != JobSucceeded {
		t.Errorf("expected job status succeeded, got %s", job.Status)
	}

	for _, pkg := range []string{"felt", "cairo-vm"} {
		outcome, err := outcomes.Get(pkg)
		if err != nil {
			t.Fatalf("expected a recorded outcome for %s: %v", pkg, err)
		}
		if outcome != string(StepSucceeded) {
			t.Errorf("expected %s to succeed, got %v", pkg, outcome)
		}
	}
}

func TestRunStopsAtFirstFailure(t *testing.T) {
	registry := &fakeRegistry{failures: map[string]error{
		"felt": errors.New("the remote server responded with an error: 401 Unauthorized"),
	}}
	waiter := &recordingWaiter{}
	outcomes := store.NewMemStore()
	runner := NewRunner(registry, waiter, WithStore(outcomes))

	job, err := Plan(releaseFile("50ms"), "v1.0.0")
	if err != nil {
		t.Fatal(err)
	}

	result := runner.Run(context.Background(), job, "s3cret")
	if result.Succeeded() {
		t.Fatal("expected the release to fail")
	}
	if result.Failed == nil || result.Failed.Package != "felt" {
		t.Fatalf("expected the failure to name felt, got %+v", result.Failed)
	}

	var perr *publisher.Error
	if !errors.As(result.Err, &perr) {
		t.Fatalf("expected a publish error, got %T", result.Err)
	}

	if got := registry.names(); len(got) != 1 || got[0] != "felt" {
		t.Errorf("expected no publish after the failure, got %v", got)
	}
	if len(waiter.targets) != 0 {
		t.Errorf("expected no wait after a failed publish, got %v", waiter.targets)
	}
	if job.Steps[1].Status != StepSkipped {
		t.Errorf("expected cairo-vm to be skipped, got %s", job.Steps[1].Status)
	}

	if outcome, err := outcomes.Get("felt"); err != nil || outcome != string(StepFailed) {
		t.Errorf("expected felt recorded as failed, got %v (%v)", outcome, err)
	}
	if outcome, err := outcomes.Get("cairo-vm"); err != nil || outcome != string(StepSkipped) {
		t.Errorf("expected cairo-vm recorded as skipped, got %v (%v)", outcome, err)
	}
}

func TestRunKeepsDependencyWhenDependentFails(t *testing.T) {
	registry := &fakeRegistry{failures: map[string]error{
		"cairo-vm": errors.New("failed to parse manifest"),
	}}
	runner := NewRunner(registry, &recordingWaiter{})

	job, err := Plan(releaseFile("50ms"), "v1.0.0")
	if err != nil {
		t.Fatal(err)
	}

	result := runner.Run(context.Background(), job, "s3cret")
	if result.Succeeded() {
		t.Fatal("expected the release to fail")
	}
	if result.Failed.Package != "cairo-vm" {
		t.Errorf("expected the failure to name cairo-vm, got %s", result.Failed.Package)
	}
	if got := registry.names(); len(got) != 2 {
		t.Fatalf("expected both publishes to be attempted, got %v", got)
	}
	if !registry.published["felt"] {
		t.Error("expected felt to stay published on the registry")
	}
	if job.Steps[0].Status != StepSucceeded {
		t.Errorf("expected felt to remain succeeded, got %s", job.Steps[0].Status)
	}
}

func TestRunSurfacesConflictOnRerun(t *testing.T) {
	registry := &fakeRegistry{failures: map[string]error{
		"cairo-vm": errors.New("failed to parse manifest"),
	}}
	runner := NewRunner(registry, &recordingWaiter{})

	job, err := Plan(releaseFile("50ms"), "v1.0.0")
	if err != nil {
		t.Fatal(err)
	}
	if result := runner.Run(context.Background(), job, "s3cret"); result.Succeeded() {
		t.Fatal("expected the first run to fail")
	}

	// The operator fixes cairo-vm and reruns the whole release. felt is
	// already on the registry, so its publish now conflicts and the rerun
	// stops before reaching cairo-vm.
	delete(registry.failures, "cairo-vm")
	rerun, err := Plan(releaseFile("50ms"), "v1.0.0")
	if err != nil {
		t.Fatal(err)
	}

	result := runner.Run(context.Background(), rerun, "s3cret")
	if result.Succeeded() {
		t.Fatal("expected the rerun to hit a conflict")
	}
	if result.Failed.Package != "felt" {
		t.Errorf("expected the conflict on felt, got %s", result.Failed.Package)
	}
	if !strings.Contains(result.Err.Error(), "already exists") {
		t.Errorf("expected a conflict error, got %v", result.Err)
	}
	if got := registry.names(); got[len(got)-1] != "felt" {
		t.Errorf("expected the rerun to stop at felt, got %v", got)
	}
}

func TestRunRequiresCredential(t *testing.T) {
	registry := &fakeRegistry{}
	runner := NewRunner(registry, &recordingWaiter{})

	job, err := Plan(releaseFile(""), "v1.0.0")
	if err != nil {
		t.Fatal(err)
	}

	result := runner.Run(context.Background(), job, "")
	if result.Succeeded() {
		t.Fatal("expected the release to fail without a credential")
	}
	if result.Failed.Package != "felt" {
		t.Errorf("expected the first step to fail, got %s", result.Failed.Package)
	}
}

func TestReportShowsOutcomes(t *testing.T) {
	registry := &fakeRegistry{failures: map[string]error{
		"cairo-vm": errors.New("failed to parse manifest"),
	}}
	outcomes := store.NewMemStore()
	runner := NewRunner(registry, &recordingWaiter{}, WithStore(outcomes))

	job, err := Plan(releaseFile("50ms"), "v1.0.0")
	if err != nil {
		t.Fatal(err)
	}
	runner.Run(context.Background(), job, "s3cret")

	report := Report(job, outcomes)
	for _, want := range []string{"felt", "cairo-vm", string(StepSucceeded), string(StepFailed)} {
		if !strings.Contains(report, want) {
			t.Errorf("expected report to mention %q:\n%s", want, report)
		}
	}
}

func TestPlanReportShowsOrderAndWaits(t *testing.T) {
	job, err := Plan(releaseFile("45s"), "v1.0.0")
	if err != nil {
		t.Fatal(err)
	}

	report := PlanReport(job)
	for _, want := range []string{"felt", "cairo-vm", "45s", "felt/Cargo.toml"} {
		if !strings.Contains(report, want) {
			t.Errorf("expected plan report to mention %q:\n%s", want, report)
		}
	}
}
