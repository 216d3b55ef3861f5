// Package runtime wraps the Docker SDK behind the narrow surface this
// fabric needs: build+push on the coordinator, container lifecycle and log
// streaming on the worker. Both roles share one client type because both
// talk to the same opaque "container runtime" the spec describes.
package runtime

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	dockertypes "github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	registrytypes "github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/client"

	"github.com/danpasecinic/deployd/internal/types"
)

// Client wraps Docker SDK functionality for image build/push and container
// management.
type Client struct {
	cli *client.Client
}

// NewClient creates a new Docker client from the environment.
func NewClient() (*Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &Client{cli: cli}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.cli != nil {
		return c.cli.Close()
	}
	return nil
}

// BuildImage builds an image from the given build context directory,
// tagging it imageTag. The context is tarred in memory; build contexts for
// this fabric are small (a single uploaded bundle).
func (c *Client) BuildImage(ctx context.Context, contextDir, imageTag string) error {
	buildCtx, err := tarDirectory(contextDir)
	if err != nil {
		return fmt.Errorf("failed to tar build context: %w", err)
	}

	resp, err := c.cli.ImageBuild(
		ctx, buildCtx, dockertypes.ImageBuildOptions{
			Tags:       []string{imageTag},
			Dockerfile: "Dockerfile",
			Remove:     true,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to build image %s: %w", imageTag, err)
	}
	defer func() { _ = resp.Body.Close() }()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read build output: %w", err)
	}
	if err := lastBuildError(out); err != nil {
		return fmt.Errorf("build failed for %s: %w", imageTag, err)
	}
	return nil
}

// PushImage pushes imageTag to its registry using the given credentials.
func (c *Client) PushImage(ctx context.Context, imageTag, username, password string) error {
	authConfig := registrytypes.AuthConfig{Username: username, Password: password}
	encoded, err := json.Marshal(authConfig)
	if err != nil {
		return fmt.Errorf("failed to encode registry auth: %w", err)
	}

	reader, err := c.cli.ImagePush(
		ctx, imageTag, image.PushOptions{RegistryAuth: base64.URLEncoding.EncodeToString(encoded)},
	)
	if err != nil {
		return fmt.Errorf("failed to push image %s: %w", imageTag, err)
	}
	defer func() { _ = reader.Close() }()

	out, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("failed to read push output: %w", err)
	}
	if err := lastBuildError(out); err != nil {
		return fmt.Errorf("push failed for %s: %w", imageTag, err)
	}
	return nil
}

// CreateContainer creates a detached container publishing all exposed ports
// to host-chosen ports (PublishAllPorts lets Docker pick each host port).
func (c *Client) CreateContainer(ctx context.Context, imageTag, containerName string) (string, error) {
	config := &container.Config{
		Image: imageTag,
		Labels: map[string]string{
			"deployd.io/managed": "true",
		},
	}

	resp, err := c.cli.ContainerCreate(ctx, config, &container.HostConfig{
		PublishAllPorts: true,
	}, nil, nil, containerName)
	if err != nil {
		return "", fmt.Errorf("failed to create container %s: %w", containerName, err)
	}
	return resp.ID, nil
}

// StartContainer starts a created container.
func (c *Client) StartContainer(ctx context.Context, containerID string) error {
	if err := c.cli.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start container %s: %w", containerID, err)
	}
	return nil
}

// StopContainer requests a graceful stop.
func (c *Client) StopContainer(ctx context.Context, containerID string) error {
	timeout := 10
	if err := c.cli.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("failed to stop container %s: %w", containerID, err)
	}
	return nil
}

// RemoveContainer force-removes a container.
func (c *Client) RemoveContainer(ctx context.Context, containerID string) error {
	if err := c.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("failed to remove container %s: %w", containerID, err)
	}
	return nil
}

// RemoveImage force-removes an image.
func (c *Client) RemoveImage(ctx context.Context, imageTag string) error {
	if _, err := c.cli.ImageRemove(ctx, imageTag, image.RemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("failed to remove image %s: %w", imageTag, err)
	}
	return nil
}

// WaitContainer blocks until the container exits, returning its exit code.
func (c *Client) WaitContainer(ctx context.Context, containerID string) (int64, error) {
	statusCh, errCh := c.cli.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if err != nil {
			return -1, fmt.Errorf("error waiting for container %s: %w", containerID, err)
		}
		return 0, nil
	case status := <-statusCh:
		return status.StatusCode, nil
	}
}

// StreamLogs returns a live, following reader over the container's combined
// stdout/stderr stream. The caller is responsible for closing it.
func (c *Client) StreamLogs(ctx context.Context, containerID string) (io.ReadCloser, error) {
	reader, err := c.cli.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to stream logs for container %s: %w", containerID, err)
	}
	return reader, nil
}

// PublishedPorts inspects a container and returns its published port map.
func (c *Client) PublishedPorts(ctx context.Context, containerID string) (types.PortMap, error) {
	inspect, err := c.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect container %s: %w", containerID, err)
	}

	ports := types.PortMap{}
	if inspect.NetworkSettings == nil {
		return ports, nil
	}
	for natPort, bindings := range inspect.NetworkSettings.Ports {
		key := types.PortKey(string(natPort))
		for _, b := range bindings {
			ports[key] = append(ports[key], types.HostBinding{HostIP: b.HostIP, HostPort: b.HostPort})
		}
	}
	return ports, nil
}

// tarDirectory packages dir into an in-memory tar stream suitable as a
// Docker build context. Build contexts here are small (one uploaded
// bundle), so buffering in memory keeps this simple.
func tarDirectory(dir string) (io.Reader, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}

		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)

		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()

		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	return &buf, nil
}

// lastBuildError scans a Docker build/push JSON-stream response for an
// error message. The SDK reports build/push failures inline in the
// stream rather than as a Go error.
func lastBuildError(stream []byte) error {
	dec := json.NewDecoder(bytes.NewReader(stream))
	for {
		var msg struct {
			Error       string `json:"error"`
			ErrorDetail struct {
				Message string `json:"message"`
			} `json:"errorDetail"`
		}
		if err := dec.Decode(&msg); err != nil {
			if err == io.EOF {
				return nil
			}
			return nil
		}
		if msg.Error != "" {
			return fmt.Errorf("%s", msg.Error)
		}
		if msg.ErrorDetail.Message != "" {
			return fmt.Errorf("%s", msg.ErrorDetail.Message)
		}
	}
}

