// Package publisher wraps the external package-manager publish command for a
// single package. The command is a black box: publisher builds its argument
// list, injects the registry credential into its environment, streams its
// output, and maps a non-zero exit onto a publish error.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/opnlabs/ferry/pkg/utils"
)

// Error is the one failure kind a publish step surfaces. Authentication
// rejections, version conflicts, registry downtime and malformed manifests
// all end up here; ferry does not tell them apart.
type Error struct {
	Package string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("publish %s: %v", e.Package, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// PackageRef identifies one package to publish.
type PackageRef struct {
	Name        string
	Manifest    string
	AllFeatures bool
}

// Publisher publishes a single package version to the registry.
type Publisher interface {
	Publish(ctx context.Context, ref PackageRef, token string) error
}

// Command is one runnable publish invocation handed to an Executor. Env holds
// KEY=VALUE pairs appended to the inherited environment; the credential only
// ever travels there, never in Args.
type Command struct {
	Name   string
	Binary string
	Args   []string
	Env    []string
	Stdout io.Writer
	Stderr io.Writer
}

// Executor runs a publish command to completion and reports whether it
// succeeded.
type Executor interface {
	Run(ctx context.Context, cmd Command) error
}

// Option configures a CommandPublisher.
type Option func(*CommandPublisher)

// WithExecutor injects a custom executor, used to run publishes in a
// container or to fake them in tests.
func WithExecutor(exec Executor) Option {
	return func(p *CommandPublisher) {
		if exec != nil {
			p.exec = exec
		}
	}
}

// WithDryRun appends --dry-run to every publish invocation.
func WithDryRun(enabled bool) Option {
	return func(p *CommandPublisher) {
		p.dryRun = enabled
	}
}

// WithExtraEnv adds KEY=VALUE pairs to every publish invocation's
// environment.
func WithExtraEnv(env []string) Option {
	return func(p *CommandPublisher) {
		p.extraEnv = append(p.extraEnv, env...)
	}
}

// WithOutput redirects the streamed command output.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(p *CommandPublisher) {
		if stdout != nil {
			p.stdout = stdout
		}
		if stderr != nil {
			p.stderr = stderr
		}
	}
}

// CommandPublisher shells out to the configured package-manager binary, one
// invocation per package.
type CommandPublisher struct {
	binary   string
	args     []string
	tokenEnv string
	dryRun   bool
	extraEnv []string
	exec     Executor
	stdout   io.Writer
	stderr   io.Writer
}

// New constructs a publisher around the given binary and subcommand
// arguments. tokenEnv names the environment variable the registry credential
// is forwarded as.
func New(binary string, args []string, tokenEnv string, opts ...Option) (*CommandPublisher, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		return nil, errors.New("publish command required")
	}
	tokenEnv = strings.TrimSpace(tokenEnv)
	if tokenEnv == "" {
		return nil, errors.New("credential environment variable required")
	}

	p := &CommandPublisher{
		binary:   binary,
		args:     append([]string{}, args...),
		tokenEnv: tokenEnv,
		exec:     HostExecutor{},
		stdout:   os.Stdout,
		stderr:   os.Stderr,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Publish runs one publish invocation for ref. Success means the registry
// accepted the artifact; any failure is reported as a *Error naming the
// package.
func (p *CommandPublisher) Publish(ctx context.Context, ref PackageRef, token string) error {
	if strings.TrimSpace(ref.Name) == "" {
		return &Error{Package: ref.Name, Err: errors.New("package name required")}
	}
	if strings.TrimSpace(token) == "" {
		return &Error{Package: ref.Name, Err: errors.New("registry credential is empty")}
	}

	args := append([]string{}, p.args...)
	args = append(args, "--manifest-path", ref.Manifest)
	if ref.AllFeatures {
		args = append(args, "--all-features")
	}
	if p.dryRun {
		args = append(args, "--dry-run")
	}

	env := append([]string{}, p.extraEnv...)
	env = append(env, p.tokenEnv+"="+token)

	cmd := Command{
		Name:   ref.Name,
		Binary: p.binary,
		Args:   args,
		Env:    env,
		Stdout: utils.NewColorLogger(ref.Name, p.stdout, true),
		Stderr: utils.NewColorLogger(ref.Name, p.stderr, false),
	}
	if err := p.exec.Run(ctx, cmd); err != nil {
		return &Error{Package: ref.Name, Err: err}
	}
	return nil
}
