package member

import "time"

// MutationKind tags a declarative member mutation.
type MutationKind int

const (
	// MutEnv sets an environment variable on the container.
	MutEnv MutationKind = iota
	// MutArg appends one argument to the startup command line. Later
	// arguments override earlier ones at the process level; both remain
	// present on the command line.
	MutArg
	// MutBind mounts a host directory read-only; bound paths are joined into
	// the member's classpath flag.
	MutBind
	// MutPortBinding exposes a fixed host:container port binding (same port
	// on both sides).
	MutPortBinding
	// MutCopyFile copies a file into the container. As a pre-start hook it
	// runs after creation, before the process entrypoint executes.
	MutCopyFile
	// MutLogConsumer subscribes a callback to the member's log lines.
	MutLogConsumer
	// MutTimeout overrides the member's startup timeout.
	MutTimeout
	// MutClientHostname overrides the hostname-for-clients flag.
	MutClientHostname
)

// Mutation is one deferred, inspectable configuration step. Mutations carry
// plain data rather than closures over live container handles, so a member's
// pending configuration can be examined and tested without creating anything.
type Mutation struct {
	Kind MutationKind

	Key   string
	Value string

	Arg string

	HostPath      string
	ContainerPath string

	Port int

	FilePath     string
	FileMode     int64
	FileContents []byte

	LogFn func(memberName, line string)

	Timeout time.Duration

	Hostname string
}

// SetEnv sets an environment variable at container build time.
func SetEnv(key, value string) Mutation {
	return Mutation{Kind: MutEnv, Key: key, Value: value}
}

// AppendArg appends an argument to the member's startup command line.
func AppendArg(arg string) Mutation {
	return Mutation{Kind: MutArg, Arg: arg}
}

// Bind mounts hostPath read-only at containerPath.
func Bind(hostPath, containerPath string) Mutation {
	return Mutation{Kind: MutBind, HostPath: hostPath, ContainerPath: containerPath}
}

// BindPort exposes port as a fixed host binding (port:port).
func BindPort(port int) Mutation {
	return Mutation{Kind: MutPortBinding, Port: port}
}

// CopyFile copies contents into the container at path with the given mode.
func CopyFile(path string, mode int64, contents []byte) Mutation {
	return Mutation{Kind: MutCopyFile, FilePath: path, FileMode: mode, FileContents: contents}
}

// SubscribeLogs registers a consumer for the member's log lines.
func SubscribeLogs(fn func(memberName, line string)) Mutation {
	return Mutation{Kind: MutLogConsumer, LogFn: fn}
}

// WithTimeout overrides the startup timeout for this member.
func WithTimeout(d time.Duration) Mutation {
	return Mutation{Kind: MutTimeout, Timeout: d}
}

// ClientHostname overrides the hostname advertised to cache clients.
func ClientHostname(hostname string) Mutation {
	return Mutation{Kind: MutClientHostname, Hostname: hostname}
}
