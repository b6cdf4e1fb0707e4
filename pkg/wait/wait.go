// Package wait bridges the gap between a package being accepted by the
// registry and the registry's index actually serving it. A release that
// publishes a dependent too early fails with a missing-dependency error even
// though nothing is wrong, so the pipeline waits between a dependency and its
// dependents.
//
// Waiting never fails: the worst case is waiting the full budget and moving
// on. If the index still lags after that, the next publish fails on its own
// and the pipeline stops there.
package wait

import (
	"context"
	"io"
	"time"

	"github.com/charmbracelet/log"
)

// Target names the freshly published version the next steps depend on.
// Version may be empty when the package manifest could not be resolved.
type Target struct {
	Package string
	Version string
	Budget  time.Duration
}

// Waiter blocks until the published target is assumed visible to dependents.
type Waiter interface {
	Wait(ctx context.Context, target Target)
}

// Fixed sleeps the full budget, with no early wake and no cancellation.
type Fixed struct {
	logger *log.Logger
}

func NewFixed(logger *log.Logger) *Fixed {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Fixed{logger: logger}
}

func (f *Fixed) Wait(_ context.Context, target Target) {
	if target.Budget <= 0 {
		return
	}
	f.logger.Info("waiting for the registry index to catch up",
		"package", target.Package, "wait", target.Budget)
	time.Sleep(target.Budget)
}

// VersionChecker reports whether the index serves a version yet.
type VersionChecker interface {
	HasVersion(ctx context.Context, name, version string) (bool, error)
}

// IndexPoll probes the index until the target version shows up or the budget
// runs out, then proceeds either way. Probe failures count as not visible.
type IndexPoll struct {
	index    VersionChecker
	interval time.Duration
	logger   *log.Logger
}

func NewIndexPoll(index VersionChecker, interval time.Duration, logger *log.Logger) *IndexPoll {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &IndexPoll{index: index, interval: interval, logger: logger}
}

func (p *IndexPoll) Wait(ctx context.Context, target Target) {
	if target.Budget <= 0 {
		return
	}
	if target.Version == "" {
		p.logger.Warn("no version resolved, falling back to a fixed wait",
			"package", target.Package, "wait", target.Budget)
		time.Sleep(target.Budget)
		return
	}

	p.logger.Info("polling the registry index",
		"package", target.Package, "version", target.Version, "budget", target.Budget)

	deadline := time.Now().Add(target.Budget)
	for {
		visible, err := p.index.HasVersion(ctx, target.Package, target.Version)
		if err != nil {
			p.logger.Debug("index probe failed", "package", target.Package, "err", err)
		}
		if visible {
			p.logger.Info("version is visible in the index",
				"package", target.Package, "version", target.Version)
			return
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			p.logger.Warn("wait budget spent without seeing the version, proceeding anyway",
				"package", target.Package, "version", target.Version)
			return
		}
		if remaining < p.interval {
			time.Sleep(remaining)
		} else {
			time.Sleep(p.interval)
		}
	}
}
