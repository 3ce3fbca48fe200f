// Package runtime isolates the container engine behind a small interface so
// the orchestration layers can be exercised without Docker. The Docker
// implementation is the production path; MemoryRuntime backs the tests.
package runtime

import "context"

// BindMount is a read-only host directory mounted into a container.
type BindMount struct {
	HostPath      string
	ContainerPath string
}

// PortBinding pins a container port to a fixed host port.
type PortBinding struct {
	HostPort      int
	ContainerPort int
}

// File is a payload copied into a container filesystem.
type File struct {
	Path     string
	Mode     int64
	Contents []byte
}

// ContainerSpec carries everything needed to create one container.
type ContainerSpec struct {
	Name           string
	Hostname       string
	Image          string
	Network        string
	NetworkAliases []string
	Env            map[string]string
	Entrypoint     []string
	Cmd            []string
	ExposedPorts   []int
	PortBindings   []PortBinding
	Binds          []BindMount
}

// ExecResult is the combined outcome of an in-container command.
type ExecResult struct {
	ExitCode int
	Output   string
}

// Runtime is the container engine surface the orchestrator depends on.
// Implementations must be safe for use from the orchestrating goroutine plus
// any log-callback goroutines they spawn themselves.
type Runtime interface {
	// CreateNetwork creates a private bridge network.
	CreateNetwork(ctx context.Context, name string) error

	// RemoveNetwork removes a network created by CreateNetwork.
	RemoveNetwork(ctx context.Context, name string) error

	// CreateContainer creates (but does not start) a container and returns
	// its engine identifier.
	CreateContainer(ctx context.Context, spec ContainerSpec) (string, error)

	// StartContainer starts a created container.
	StartContainer(ctx context.Context, id string) error

	// StopContainer stops and removes a container. Stopping an already
	// stopped container is not an error.
	StopContainer(ctx context.Context, id string) error

	// CopyToContainer writes a single file into the container filesystem.
	CopyToContainer(ctx context.Context, id string, file File) error

	// Exec runs a command inside a running container and returns its
	// combined output and exit code.
	Exec(ctx context.Context, id string, cmd []string) (ExecResult, error)

	// MappedPort resolves the ephemeral host port the engine assigned to an
	// exposed container port.
	MappedPort(ctx context.Context, id string, containerPort int) (int, error)

	// FollowLogs streams container log lines to fn from a background
	// goroutine until the returned stop function is called.
	FollowLogs(ctx context.Context, id string, fn func(line string)) (func(), error)

	// Logs returns the accumulated container log output.
	Logs(ctx context.Context, id string) (string, error)
}
