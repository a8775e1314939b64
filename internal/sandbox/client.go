// Package sandbox implements the Sandbox Executor (C7): an ephemeral,
// isolated execution environment with a maximum lifetime that provides
// write-file, run-command, and kill primitives for opaque external tooling
// (container image builds, terraform plan/apply/destroy). See §4.7.
//
// The "ephemeral isolated VM" is realized here as an ephemeral Docker
// container, adapted from agents/shared/docker/client.go — that package's
// own sandbox primitive is container-backed, not microVM-backed, so this
// keeps that mechanism rather than inventing a VM-provisioning layer.
package sandbox

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

type dockerClient struct {
	api *client.Client
}

func newDockerClient() (*dockerClient, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}
	if err := pingClient(cli); err == nil {
		return &dockerClient{api: cli}, nil
	} else if os.Getenv("DOCKER_HOST") != "" {
		_ = cli.Close()
		return nil, err
	}
	_ = cli.Close()
	return nil, fmt.Errorf("sandbox: no reachable docker host")
}

func pingClient(cli *client.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := cli.Ping(ctx)
	return err
}

func (c *dockerClient) close() error {
	if c == nil || c.api == nil {
		return nil
	}
	return c.api.Close()
}

func (c *dockerClient) createContainer(ctx context.Context, cfg *container.Config, hostCfg *container.HostConfig, name string) (string, error) {
	resp, err := c.api.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (c *dockerClient) startContainer(ctx context.Context, containerID string) error {
	return c.api.ContainerStart(ctx, containerID, container.StartOptions{})
}

func (c *dockerClient) removeContainer(ctx context.Context, containerID string, force bool) error {
	if strings.TrimSpace(containerID) == "" {
		return nil
	}
	return c.api.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: force, RemoveVolumes: true})
}

type execOptions struct {
	Env     []string
	WorkDir string
}

// exec runs a command to completion, demuxing stdout/stderr into the
// caller-supplied writers via stdcopy, the run-command primitive's
// mechanism (§4.7).
func (c *dockerClient) exec(ctx context.Context, containerID string, cmd []string, opts execOptions, stdout, stderr io.Writer) (int, error) {
	if strings.TrimSpace(containerID) == "" {
		return -1, errors.New("container id required")
	}
	if len(cmd) == 0 {
		return -1, errors.New("command required")
	}
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}

	execResp, err := c.api.ContainerExecCreate(ctx, containerID, types.ExecConfig{
		AttachStdout: true,
		AttachStderr: true,
		Cmd:          cmd,
		Env:          opts.Env,
		WorkingDir:   opts.WorkDir,
	})
	if err != nil {
		return -1, err
	}

	attach, err := c.api.ContainerExecAttach(ctx, execResp.ID, types.ExecStartCheck{})
	if err != nil {
		return -1, err
	}
	defer attach.Close()

	if _, err := stdcopy.StdCopy(stdout, stderr, attach.Reader); err != nil {
		return -1, err
	}

	inspect, err := c.api.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return -1, err
	}
	return inspect.ExitCode, nil
}

// copyFileToContainer writes a file at path inside the container,
// implementing the write-file primitive.
func (c *dockerClient) copyFileToContainer(ctx context.Context, containerID, destPath string, data []byte, mode int64) error {
	if strings.TrimSpace(containerID) == "" {
		return errors.New("container id required")
	}
	destPath = strings.TrimSpace(destPath)
	if destPath == "" {
		return errors.New("destination path required")
	}
	if mode == 0 {
		mode = 0o644
	}
	destDir := path.Dir(destPath)
	name := path.Base(destPath)

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	hdr := &tar.Header{Name: name, Mode: mode, Size: int64(len(data)), ModTime: time.Now()}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	if _, err := tw.Write(data); err != nil {
		return err
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return c.api.CopyToContainer(ctx, containerID, destDir, &buf, types.CopyToContainerOptions{AllowOverwriteDirWithFile: true})
}
