package pipeline

import (
	"context"
	"io"
	"time"

	"github.com/charmbracelet/log"

	"github.com/opnlabs/ferry/pkg/publisher"
	"github.com/opnlabs/ferry/pkg/store"
	"github.com/opnlabs/ferry/pkg/wait"
)

// Result is the outcome of a release run. Failed points at the step that
// stopped the release when Status is JobFailed.
type Result struct {
	Status JobStatus
	Failed *Step
	Err    error
}

func (r Result) Succeeded() bool {
	return r.Status == JobSucceeded
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithLogger routes run progress to the given logger.
func WithLogger(logger *log.Logger) RunnerOption {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithStore records step outcomes in the given store instead of a fresh
// in-memory one.
func WithStore(s store.Store) RunnerOption {
	return func(r *Runner) {
		if s != nil {
			r.outcomes = s
		}
	}
}

// Runner executes a planned release job sequentially.
type Runner struct {
	publisher publisher.Publisher
	waiter    wait.Waiter
	outcomes  store.Store
	logger    *log.Logger
}

// NewRunner wires a runner around the publisher that performs each step and
// the waiter that bridges the index gap after each dependency. A nil waiter
// falls back to a fixed sleep.
func NewRunner(pub publisher.Publisher, waiter wait.Waiter, opts ...RunnerOption) *Runner {
	r := &Runner{
		publisher: pub,
		waiter:    waiter,
		outcomes:  store.NewMemStore(),
		logger:    log.New(io.Discard),
	}
	if r.waiter == nil {
		r.waiter = wait.NewFixed(nil)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run publishes every step of the job in order, stopping at the first
// failure. The credential is handed to each publish invocation and nothing
// else; it is never logged or recorded. Steps after a failed one are marked
// skipped and the registry keeps whatever was already published.
func (r *Runner) Run(ctx context.Context, job *Job, token string) Result {
	job.Status = JobRunning
	r.logger.Info("starting release", "run", job.ID, "tag", job.Tag, "steps", len(job.Steps))

	for i := range job.Steps {
		step := &job.Steps[i]
		step.Status = StepRunning
		step.StartedAt = time.Now()
		r.logger.Info("publishing package", "package", step.Package, "version", step.Version)

		ref := publisher.PackageRef{
			Name:        step.Package,
			Manifest:    step.Manifest,
			AllFeatures: step.AllFeatures,
		}
		err := r.publisher.Publish(ctx, ref, token)
		step.Duration = time.Since(step.StartedAt)

		if err != nil {
			step.Status = StepFailed
			step.Err = err
			r.record(step.Package, StepFailed)
			for j := i + 1; j < len(job.Steps); j++ {
				job.Steps[j].Status = StepSkipped
				r.record(job.Steps[j].Package, StepSkipped)
			}
			job.Status = JobFailed
			r.logger.Error("publish failed, stopping the release",
				"package", step.Package, "err", err)
			return Result{Status: JobFailed, Failed: step, Err: err}
		}

		step.Status = StepSucceeded
		r.record(step.Package, StepSucceeded)
		r.logger.Info("published", "package", step.Package,
			"duration", step.Duration.Truncate(time.Millisecond))

		if len(step.Dependents) > 0 && step.Wait > 0 {
			waitStart := time.Now()
			r.waiter.Wait(ctx, wait.Target{
				Package: step.Package,
				Version: step.Version,
				Budget:  step.Wait,
			})
			step.Waited = time.Since(waitStart)
		}
	}

	job.Status = JobSucceeded
	r.logger.Info("release complete", "run", job.ID, "tag", job.Tag)
	return Result{Status: JobSucceeded}
}

// record stores a step's final outcome. Each step gets exactly one outcome
// per run, which the first-write-wins store enforces.
func (r *Runner) record(pkg string, status StepStatus) {
	if err := r.outcomes.Set(pkg, string(status)); err != nil {
		r.logger.Warn("step outcome already recorded", "package", pkg, "err", err)
	}
}
