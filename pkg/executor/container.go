package executor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// containerWorkDir is where the instance workspace is mounted inside the
// container.
const containerWorkDir = "/workspace"

// Container executes commands in throwaway docker containers. Each call
// provisions a fresh container from the configured image with the instance
// workspace bind-mounted, waits for it to exit, collects its output, and
// removes it.
type Container struct {
	image string
	cli   *client.Client
}

// NewContainer creates a container executor for the given image.
func NewContainer(image string) (*Container, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	return &Container{image: image, cli: cli}, nil
}

func (c *Container) Run(ctx context.Context, spec Spec) (Result, error) {
	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	if err := c.ensureImage(ctx); err != nil {
		return Result{}, err
	}

	resp, err := c.cli.ContainerCreate(ctx, &container.Config{
		Image:      c.image,
		Cmd:        []string{"sh", "-c", spec.Command},
		Env:        flattenEnv(spec.Env),
		WorkingDir: path.Join(containerWorkDir, spec.SubDir),
		Tty:        false,
	}, &container.HostConfig{
		Binds: []string{spec.Dir + ":" + containerWorkDir},
	}, nil, nil, "")
	if err != nil {
		return Result{}, fmt.Errorf("creating container: %w", err)
	}

	id := resp.ID
	defer func() {
		// Removal must survive a cancelled step context.
		_ = c.cli.ContainerRemove(context.Background(), id, types.ContainerRemoveOptions{Force: true})
	}()

	if err := c.cli.ContainerStart(ctx, id, types.ContainerStartOptions{}); err != nil {
		return Result{}, fmt.Errorf("starting container: %w", err)
	}

	exitCode := 0
	statusCh, errCh := c.cli.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	select {
	case waitErr := <-errCh:
		if waitErr != nil {
			if ctx.Err() != nil {
				return Result{ExitCode: -1}, fmt.Errorf("command aborted: %w", ctx.Err())
			}
			return Result{}, fmt.Errorf("waiting for container: %w", waitErr)
		}
	case status := <-statusCh:
		exitCode = int(status.StatusCode)
	}

	logs, err := c.cli.ContainerLogs(ctx, id, types.ContainerLogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return Result{ExitCode: exitCode}, fmt.Errorf("reading container logs: %w", err)
	}
	defer logs.Close()

	var out bytes.Buffer
	if _, err := stdcopy.StdCopy(&out, &out, logs); err != nil {
		return Result{ExitCode: exitCode}, fmt.Errorf("demultiplexing container logs: %w", err)
	}

	return Result{ExitCode: exitCode, Output: out.Bytes()}, nil
}

// ensureImage pulls the image when it is not present locally.
func (c *Container) ensureImage(ctx context.Context) error {
	_, _, err := c.cli.ImageInspectWithRaw(ctx, c.image)
	if err == nil {
		return nil
	}
	if !client.IsErrNotFound(err) {
		return fmt.Errorf("inspecting image %s: %w", c.image, err)
	}

	reader, err := c.cli.ImagePull(ctx, c.image, types.ImagePullOptions{})
	if err != nil {
		return fmt.Errorf("pulling image %s: %w", c.image, err)
	}
	defer reader.Close()

	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("pulling image %s: %w", c.image, err)
	}
	return nil
}
