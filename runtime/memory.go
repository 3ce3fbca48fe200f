package runtime

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// memoryPortBase is where the fake engine starts handing out "ephemeral"
// host ports. Real engines allocate from the IANA ephemeral range.
const memoryPortBase = 49152

// MemoryContainer is the in-memory record of one created container.
type MemoryContainer struct {
	ID   string
	Spec ContainerSpec

	mu      sync.Mutex
	started bool
	stopped bool
	files   map[string]File
	mapped  map[int]int
	logFns  []func(string)
	lines   []string
	execs   [][]string
}

// File returns a copy of a file previously written with CopyToContainer and
// whether it exists.
func (c *MemoryContainer) File(path string) (File, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.files[path]
	return f, ok
}

// Started reports whether StartContainer was called.
func (c *MemoryContainer) Started() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started
}

// Stopped reports whether StopContainer was called.
func (c *MemoryContainer) Stopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

// ExecHistory returns all commands run against this container.
func (c *MemoryContainer) ExecHistory() [][]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]string, len(c.execs))
	copy(out, c.execs)
	return out
}

// MemoryRuntime is an in-memory Runtime used by tests, mirroring the role the
// in-memory stores play for the persistent ones. Behavior specific to the
// image under test is injected through StartHook and ExecHook.
type MemoryRuntime struct {
	mu         sync.Mutex
	seq        int
	nextPort   int
	networks   map[string]bool
	containers map[string]*MemoryContainer
	events     []string

	// StartHook runs synchronously when a container starts; tests use it to
	// emulate the containerized process (emit log lines, etc.).
	StartHook func(c *MemoryContainer)

	// ExecHook produces the result of an in-container command. When nil,
	// every command succeeds with empty output.
	ExecHook func(c *MemoryContainer, cmd []string) ExecResult
}

// NewMemoryRuntime creates an empty in-memory runtime.
func NewMemoryRuntime() *MemoryRuntime {
	return &MemoryRuntime{
		nextPort:   memoryPortBase,
		networks:   make(map[string]bool),
		containers: make(map[string]*MemoryContainer),
	}
}

func (m *MemoryRuntime) CreateNetwork(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.networks[name] {
		return fmt.Errorf("network %s already exists", name)
	}
	m.networks[name] = true
	m.events = append(m.events, "network-create "+name)

	return nil
}

func (m *MemoryRuntime) RemoveNetwork(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.networks[name] {
		return fmt.Errorf("network %s not found", name)
	}
	delete(m.networks, name)
	m.events = append(m.events, "network-remove "+name)

	return nil
}

func (m *MemoryRuntime) CreateContainer(_ context.Context, spec ContainerSpec) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	id := fmt.Sprintf("mem-%04d", m.seq)
	m.containers[id] = &MemoryContainer{
		ID:     id,
		Spec:   spec,
		files:  make(map[string]File),
		mapped: make(map[int]int),
	}
	m.events = append(m.events, "create "+spec.Name)

	return id, nil
}

func (m *MemoryRuntime) StartContainer(_ context.Context, id string) error {
	c, err := m.container(id)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.started = true
	c.mu.Unlock()

	m.mu.Lock()
	m.events = append(m.events, "start "+c.Spec.Name)
	hook := m.StartHook
	m.mu.Unlock()

	if hook != nil {
		hook(c)
	}

	return nil
}

func (m *MemoryRuntime) StopContainer(_ context.Context, id string) error {
	c, err := m.container(id)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()

	m.mu.Lock()
	m.events = append(m.events, "stop "+c.Spec.Name)
	m.mu.Unlock()

	return nil
}

func (m *MemoryRuntime) CopyToContainer(_ context.Context, id string, file File) error {
	c, err := m.container(id)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.files[file.Path] = file
	c.mu.Unlock()

	return nil
}

func (m *MemoryRuntime) Exec(_ context.Context, id string, cmd []string) (ExecResult, error) {
	c, err := m.container(id)
	if err != nil {
		return ExecResult{}, err
	}

	c.mu.Lock()
	c.execs = append(c.execs, cmd)
	c.mu.Unlock()

	m.mu.Lock()
	m.events = append(m.events, "exec "+c.Spec.Name+" "+strings.Join(cmd, " "))
	hook := m.ExecHook
	m.mu.Unlock()

	if hook != nil {
		return hook(c, cmd), nil
	}

	return ExecResult{}, nil
}

func (m *MemoryRuntime) MappedPort(_ context.Context, id string, containerPort int) (int, error) {
	c, err := m.container(id)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if mapped, ok := c.mapped[containerPort]; ok {
		return mapped, nil
	}

	exposed := false
	for _, p := range c.Spec.ExposedPorts {
		if p == containerPort {
			exposed = true
			break
		}
	}
	for _, pb := range c.Spec.PortBindings {
		if pb.ContainerPort == containerPort {
			return pb.HostPort, nil
		}
	}
	if !exposed {
		return 0, fmt.Errorf("port %d is not exposed on container %s", containerPort, c.Spec.Name)
	}

	m.mu.Lock()
	mapped := m.nextPort
	m.nextPort++
	m.mu.Unlock()

	c.mapped[containerPort] = mapped
	return mapped, nil
}

func (m *MemoryRuntime) FollowLogs(_ context.Context, id string, fn func(line string)) (func(), error) {
	c, err := m.container(id)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	// Replay what already arrived, then subscribe. The real engine streams
	// from the beginning of the log too.
	replay := make([]string, len(c.lines))
	copy(replay, c.lines)
	c.logFns = append(c.logFns, fn)
	c.mu.Unlock()

	for _, line := range replay {
		fn(line)
	}

	return func() {}, nil
}

func (m *MemoryRuntime) Logs(_ context.Context, id string) (string, error) {
	c, err := m.container(id)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return strings.Join(c.lines, "\n"), nil
}

// EmitLog injects a log line as if the containerized process wrote it.
func (m *MemoryRuntime) EmitLog(id string, line string) {
	c, err := m.container(id)
	if err != nil {
		return
	}

	c.mu.Lock()
	c.lines = append(c.lines, line)
	fns := make([]func(string), len(c.logFns))
	copy(fns, c.logFns)
	c.mu.Unlock()

	for _, fn := range fns {
		fn(line)
	}
}

// ContainerByName finds a created container by its spec name.
func (m *MemoryRuntime) ContainerByName(name string) (*MemoryContainer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range m.containers {
		if c.Spec.Name == name {
			return c, true
		}
	}
	return nil, false
}

// Containers returns every created container.
func (m *MemoryRuntime) Containers() []*MemoryContainer {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*MemoryContainer, 0, len(m.containers))
	for _, c := range m.containers {
		out = append(out, c)
	}
	return out
}

// Events returns the ordered operation log (create/start/exec/stop per
// container name), used to assert phase ordering.
func (m *MemoryRuntime) Events() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, len(m.events))
	copy(out, m.events)
	return out
}

func (m *MemoryRuntime) container(id string) (*MemoryContainer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.containers[id]
	if !ok {
		return nil, fmt.Errorf("container %s not found", id)
	}
	return c, nil
}
