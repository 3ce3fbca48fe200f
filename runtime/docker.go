package runtime

import (
	"archive/tar"
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"github.com/rs/zerolog/log"
)

const stopGraceSeconds = 10

// DockerRuntime implements Runtime against the local Docker daemon.
type DockerRuntime struct {
	cli *client.Client
}

// NewDockerRuntime connects to the daemon using the standard environment
// configuration (DOCKER_HOST etc.) with API version negotiation.
func NewDockerRuntime() (*DockerRuntime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	return &DockerRuntime{cli: cli}, nil
}

func (d *DockerRuntime) CreateNetwork(ctx context.Context, name string) error {
	_, err := d.cli.NetworkCreate(ctx, name, network.CreateOptions{Driver: "bridge"})
	if err != nil {
		return fmt.Errorf("failed to create network %s: %w", name, err)
	}

	return nil
}

func (d *DockerRuntime) RemoveNetwork(ctx context.Context, name string) error {
	return d.cli.NetworkRemove(ctx, name)
}

func (d *DockerRuntime) CreateContainer(ctx context.Context, spec ContainerSpec) (string, error) {
	if err := d.ensureImage(ctx, spec.Image); err != nil {
		return "", err
	}

	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	for _, p := range spec.ExposedPorts {
		exposed[tcpPort(p)] = struct{}{}
	}
	for _, pb := range spec.PortBindings {
		port := tcpPort(pb.ContainerPort)
		exposed[port] = struct{}{}
		bindings[port] = append(bindings[port], nat.PortBinding{
			HostIP:   "0.0.0.0",
			HostPort: strconv.Itoa(pb.HostPort),
		})
	}

	env := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}

	binds := make([]string, 0, len(spec.Binds))
	for _, b := range spec.Binds {
		binds = append(binds, fmt.Sprintf("%s:%s:ro", b.HostPath, b.ContainerPath))
	}

	var endpoints map[string]*network.EndpointSettings
	if spec.Network != "" {
		endpoints = map[string]*network.EndpointSettings{
			spec.Network: {Aliases: spec.NetworkAliases},
		}
	}

	resp, err := d.cli.ContainerCreate(ctx,
		&container.Config{
			Hostname:     spec.Hostname,
			Image:        spec.Image,
			Env:          env,
			Entrypoint:   spec.Entrypoint,
			Cmd:          spec.Cmd,
			ExposedPorts: exposed,
		},
		&container.HostConfig{
			Binds:           binds,
			PortBindings:    bindings,
			PublishAllPorts: len(spec.ExposedPorts) > 0,
		},
		&network.NetworkingConfig{EndpointsConfig: endpoints},
		nil,
		spec.Name,
	)
	if err != nil {
		return "", fmt.Errorf("failed to create container %s: %w", spec.Name, err)
	}

	return resp.ID, nil
}

func (d *DockerRuntime) StartContainer(ctx context.Context, id string) error {
	if err := d.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start container %s: %w", shortID(id), err)
	}

	return nil
}

func (d *DockerRuntime) StopContainer(ctx context.Context, id string) error {
	grace := stopGraceSeconds
	err := d.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &grace})
	if err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("failed to stop container %s: %w", shortID(id), err)
	}

	err = d.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true, RemoveVolumes: true})
	if err != nil && !errdefs.IsNotFound(err) {
		log.Warn().Err(err).Str("container", shortID(id)).Msg("Failed to remove container")
	}

	return nil
}

func (d *DockerRuntime) CopyToContainer(ctx context.Context, id string, file File) error {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	hdr := &tar.Header{
		Name: strings.TrimPrefix(file.Path, "/"),
		Mode: file.Mode,
		Size: int64(len(file.Contents)),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("failed to write tar header for %s: %w", file.Path, err)
	}
	if _, err := tw.Write(file.Contents); err != nil {
		return fmt.Errorf("failed to write tar contents for %s: %w", file.Path, err)
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("failed to finalize tar for %s: %w", file.Path, err)
	}

	err := d.cli.CopyToContainer(ctx, id, "/", &buf, container.CopyToContainerOptions{})
	if err != nil {
		return fmt.Errorf("failed to copy %s to container %s: %w", file.Path, shortID(id), err)
	}

	return nil
}

func (d *DockerRuntime) Exec(ctx context.Context, id string, cmd []string) (ExecResult, error) {
	created, err := d.cli.ContainerExecCreate(ctx, id, container.ExecOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return ExecResult{}, fmt.Errorf("failed to create exec in %s: %w", shortID(id), err)
	}

	attach, err := d.cli.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return ExecResult{}, fmt.Errorf("failed to attach exec in %s: %w", shortID(id), err)
	}
	defer attach.Close()

	var output bytes.Buffer
	if _, err := stdcopy.StdCopy(&output, &output, attach.Reader); err != nil {
		return ExecResult{}, fmt.Errorf("failed to read exec output: %w", err)
	}

	// The exec may report running for a brief moment after output closes.
	for {
		inspect, err := d.cli.ContainerExecInspect(ctx, created.ID)
		if err != nil {
			return ExecResult{}, fmt.Errorf("failed to inspect exec: %w", err)
		}
		if !inspect.Running {
			return ExecResult{ExitCode: inspect.ExitCode, Output: output.String()}, nil
		}

		select {
		case <-ctx.Done():
			return ExecResult{}, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func (d *DockerRuntime) MappedPort(ctx context.Context, id string, containerPort int) (int, error) {
	inspect, err := d.cli.ContainerInspect(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("failed to inspect container %s: %w", shortID(id), err)
	}

	if inspect.NetworkSettings == nil {
		return 0, fmt.Errorf("container %s has no network settings", shortID(id))
	}

	bindings := inspect.NetworkSettings.Ports[tcpPort(containerPort)]
	if len(bindings) == 0 {
		return 0, fmt.Errorf("port %d is not mapped on container %s", containerPort, shortID(id))
	}

	mapped, err := strconv.Atoi(bindings[0].HostPort)
	if err != nil {
		return 0, fmt.Errorf("unparseable host port %q: %w", bindings[0].HostPort, err)
	}

	return mapped, nil
}

func (d *DockerRuntime) FollowLogs(ctx context.Context, id string, fn func(line string)) (func(), error) {
	streamCtx, cancel := context.WithCancel(ctx)

	reader, err := d.cli.ContainerLogs(streamCtx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open log stream for %s: %w", shortID(id), err)
	}

	pr, pw := io.Pipe()
	go func() {
		_, err := stdcopy.StdCopy(pw, pw, reader)
		pw.CloseWithError(err)
	}()

	go func() {
		scanner := bufio.NewScanner(pr)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			fn(scanner.Text())
		}
	}()

	stop := func() {
		cancel()
		reader.Close()
	}

	return stop, nil
}

func (d *DockerRuntime) Logs(ctx context.Context, id string) (string, error) {
	reader, err := d.cli.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return "", fmt.Errorf("failed to read logs for %s: %w", shortID(id), err)
	}
	defer reader.Close()

	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, reader); err != nil {
		return "", fmt.Errorf("failed to demux logs for %s: %w", shortID(id), err)
	}

	return buf.String(), nil
}

func (d *DockerRuntime) ensureImage(ctx context.Context, ref string) error {
	_, _, err := d.cli.ImageInspectWithRaw(ctx, ref)
	if err == nil {
		return nil
	}
	if !errdefs.IsNotFound(err) {
		return fmt.Errorf("failed to inspect image %s: %w", ref, err)
	}

	log.Info().Str("image", ref).Msg("Pulling image")
	reader, err := d.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", ref, err)
	}
	defer reader.Close()

	// Drain so the pull runs to completion.
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("failed to pull image %s: %w", ref, err)
	}

	return nil
}

func tcpPort(p int) nat.Port {
	return nat.Port(fmt.Sprintf("%d/tcp", p))
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
