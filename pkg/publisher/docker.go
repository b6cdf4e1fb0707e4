package publisher

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
)

const WORKING_DIR = "/workspace"

// DockerExecutorOptions configures a DockerExecutor. Image is the toolchain
// image the publish command runs in and is required. Workspace is the host
// directory bind-mounted as the container working directory; it defaults to
// the current directory, so relative manifest paths keep resolving.
type DockerExecutorOptions struct {
	Image         string
	Workspace     string
	ShowImagePull bool
}

// DockerExecutor runs each publish command in a fresh container with the
// source tree bind-mounted as its working directory.
type DockerExecutor struct {
	image         string
	workspace     string
	showImagePull bool
}

func NewDockerExecutor(opts DockerExecutorOptions) (*DockerExecutor, error) {
	if opts.Image == "" {
		return nil, fmt.Errorf("docker executor requires an image")
	}
	workspace := opts.Workspace
	if workspace == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("unable to determine workspace directory: %w", err)
		}
		workspace = wd
	}
	return &DockerExecutor{
		image:         opts.Image,
		workspace:     filepath.Clean(workspace),
		showImagePull: opts.ShowImagePull,
	}, nil
}

func (d *DockerExecutor) Run(ctx context.Context, c Command) error {
	name := slug.Make(c.Name + uuid.NewString())
	stdout, stderr := c.Stdout, c.Stderr
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return fmt.Errorf("unable to create docker client to create container %s: %v", name, err)
	}
	defer cli.Close()

	reader, err := cli.ImagePull(ctx, d.image, types.ImagePullOptions{})
	if err != nil {
		return fmt.Errorf("unable to pull image to create container %s: %v", name, err)
	}
	defer reader.Close()
	pullLogs := io.Discard
	if d.showImagePull {
		pullLogs = stdout
	}
	if _, err := io.Copy(pullLogs, reader); err != nil {
		return fmt.Errorf("unable to read image pull logs for %s: %v", name, err)
	}

	resp, err := cli.ContainerCreate(ctx, &container.Config{
		Image:      d.image,
		Env:        c.Env,
		Cmd:        append([]string{c.Binary}, c.Args...),
		WorkingDir: WORKING_DIR,
	}, &container.HostConfig{
		Mounts: []mount.Mount{
			{
				Type:   mount.TypeBind,
				Source: d.workspace,
				Target: WORKING_DIR,
			},
		},
	}, nil, nil, name)
	if err != nil {
		return fmt.Errorf("unable to create container %s: %v", name, err)
	}
	defer cli.ContainerRemove(ctx, resp.ID, types.ContainerRemoveOptions{})

	if err := cli.ContainerStart(ctx, resp.ID, types.ContainerStartOptions{}); err != nil {
		return fmt.Errorf("unable to start container %s: %v", name, err)
	}

	logs, err := cli.ContainerLogs(ctx, resp.ID, types.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		return fmt.Errorf("unable to attach logs for %s: %v", name, err)
	}
	defer logs.Close()

	// The log stream is multiplexed while the container runs without a TTY.
	if _, err := stdcopy.StdCopy(stdout, stderr, logs); err != nil {
		return fmt.Errorf("unable to read container logs from %s: %v", name, err)
	}

	statusCh, errCh := cli.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		return fmt.Errorf("error waiting for container %s to stop: %v", name, err)
	case status := <-statusCh:
		if status.Error != nil {
			return fmt.Errorf("container %s failed: %s", name, status.Error.Message)
		}
		if status.StatusCode != 0 {
			return fmt.Errorf("%s exited with status %d", c.Binary, status.StatusCode)
		}
	case <-ctx.Done():
		return fmt.Errorf("context timed out, stopping container %s", name)
	}

	return nil
}
