package publisher

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"

	"golang.org/x/sync/errgroup"
)

// HostExecutor runs publish commands directly on the host, inheriting the
// current environment. This is the default executor and what CI runners use.
type HostExecutor struct{}

func (HostExecutor) Run(ctx context.Context, c Command) error {
	cmd := exec.CommandContext(ctx, c.Binary, c.Args...)
	cmd.Env = cmd.Environ()
	cmd.Env = append(cmd.Env, c.Env...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("unable to open stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("unable to open stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("unable to start %s: %w", c.Binary, err)
	}

	var g errgroup.Group
	g.Go(stream(stdout, c.Stdout))
	g.Go(stream(stderr, c.Stderr))
	streamErr := g.Wait()

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("%s: %w", c.Binary, err)
	}
	if streamErr != nil {
		return fmt.Errorf("unable to read %s output: %w", c.Binary, streamErr)
	}
	return nil
}

func stream(r io.Reader, w io.Writer) func() error {
	return func() error {
		if w == nil {
			_, err := io.Copy(io.Discard, r)
			return err
		}
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			fmt.Fprintln(w, scanner.Text())
		}
		return scanner.Err()
	}
}
