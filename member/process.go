package member

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gridcage/gridcage/runtime"
)

// DefaultStartupTimeout bounds the wait for a member's readiness marker.
const DefaultStartupTimeout = 120 * time.Second

// logTailLimit caps the lines retained for timeout diagnostics.
const logTailLimit = 200

const locatorReadyMarker = "Locator started on"

var defaultLocatorArgs = []string{
	"--J=-Dgemfire.use-cluster-configuration=true",
	"--J=-Dgemfire.jmx-manager-start=true",
}

var defaultServerArgs = []string{
	"--J=-Dgemfire.use-cluster-configuration=true",
	"--J=-Dgemfire.locator-wait-time=120",
}

// Process owns one member container. It translates the member record plus
// role defaults into a runnable command line and observes readiness through
// the container's log stream.
type Process struct {
	rec              *Record
	rt               runtime.Runtime
	image            string
	network          string
	locatorAddresses string

	ready              *Signal
	timeout            time.Duration
	hostnameForClients string
	echoLogs           bool

	mu        sync.Mutex
	logTail   []string
	consumers []func(memberName, line string)

	containerID string
	stopLogs    func()
}

// NewLocator builds the process for a locator record.
func NewLocator(rec *Record, rt runtime.Runtime, image, network, locatorAddresses string, echoLogs bool) *Process {
	return newProcess(rec, rt, image, network, locatorAddresses, echoLogs)
}

// NewServer builds the process for a server record.
func NewServer(rec *Record, rt runtime.Runtime, image, network, locatorAddresses string, echoLogs bool) *Process {
	return newProcess(rec, rt, image, network, locatorAddresses, echoLogs)
}

func newProcess(rec *Record, rt runtime.Runtime, image, network, locatorAddresses string, echoLogs bool) *Process {
	return &Process{
		rec:                rec,
		rt:                 rt,
		image:              image,
		network:            network,
		locatorAddresses:   locatorAddresses,
		ready:              NewSignal(),
		timeout:            DefaultStartupTimeout,
		hostnameForClients: "localhost",
		echoLogs:           echoLogs,
	}
}

// Record returns the member record this process was built from.
func (p *Process) Record() *Record { return p.rec }

// SetTimeout sets the baseline startup timeout. A WithTimeout mutation on the
// record still overrides it at build time.
func (p *Process) SetTimeout(d time.Duration) { p.timeout = d }

// ContainerID returns the engine identifier, empty before Create.
func (p *Process) ContainerID() string { return p.containerID }

// readyMarker is the role-specific log line that signals completed startup.
// The server marker embeds the member's own name so another member's success
// line can never release this signal.
func (p *Process) readyMarker() string {
	if p.rec.Role() == RoleLocator {
		return locatorReadyMarker
	}
	return fmt.Sprintf("Server %s startup completed", p.rec.Name())
}

// buildState is the interpreted form of the record's mutation list.
type buildState struct {
	env          map[string]string
	args         []string
	binds        []runtime.BindMount
	portBindings []runtime.PortBinding
}

func (p *Process) interpret() buildState {
	b := buildState{env: make(map[string]string)}

	if p.rec.Role() == RoleLocator {
		b.args = append(b.args, defaultLocatorArgs...)
	} else {
		b.args = append(b.args, defaultServerArgs...)
	}

	for _, m := range p.rec.Mutations() {
		switch m.Kind {
		case MutEnv:
			b.env[m.Key] = m.Value
		case MutArg:
			b.args = append(b.args, m.Arg)
		case MutBind:
			b.binds = append(b.binds, runtime.BindMount{HostPath: m.HostPath, ContainerPath: m.ContainerPath})
		case MutPortBinding:
			b.portBindings = append(b.portBindings, runtime.PortBinding{HostPort: m.Port, ContainerPort: m.Port})
		case MutLogConsumer:
			p.consumers = append(p.consumers, m.LogFn)
		case MutTimeout:
			p.timeout = m.Timeout
		case MutClientHostname:
			p.hostnameForClients = m.Hostname
		case MutCopyFile:
			// Copies only make sense once the container exists; see Create.
		}
	}

	if p.rec.Pinned() {
		b.portBindings = append(b.portBindings, runtime.PortBinding{
			HostPort:      p.rec.Port(),
			ContainerPort: p.rec.Port(),
		})
	}

	return b
}

// command assembles the ordered argument list: role defaults, queued
// property mutations, then the member identity flags.
func (p *Process) command(b buildState) []string {
	cmd := []string{"gfsh", "start", string(p.rec.Role())}
	cmd = append(cmd, "--name="+p.rec.Name())

	if p.rec.Role() == RoleLocator {
		cmd = append(cmd, fmt.Sprintf("--port=%d", p.rec.Port()))
	} else {
		cmd = append(cmd, fmt.Sprintf("--server-port=%d", p.rec.Port()))
	}

	cmd = append(cmd, "--locators="+p.locatorAddresses)

	if p.rec.Role() == RoleLocator && p.rec.PublicHTTPPort() > 0 {
		cmd = append(cmd, fmt.Sprintf("--J=-Dgemfire.http-service-port=%d", p.rec.PublicHTTPPort()))
	}

	cmd = append(cmd, "--hostname-for-clients="+p.hostnameForClients)
	cmd = append(cmd, b.args...)

	if len(b.binds) > 0 {
		paths := make([]string, len(b.binds))
		for i, bind := range b.binds {
			paths[i] = bind.ContainerPath
		}
		cmd = append(cmd, "--classpath="+strings.Join(paths, ":"))
	}

	return cmd
}

// Create builds the container from the record and role defaults, subscribes
// the readiness scan to its log stream, and runs the pre-start hooks.
func (p *Process) Create(ctx context.Context) error {
	p.rec.BindProcess(p)
	b := p.interpret()

	spec := runtime.ContainerSpec{
		Name:           p.rec.Hostname(),
		Hostname:       p.rec.Hostname(),
		Image:          p.image,
		Network:        p.network,
		NetworkAliases: []string{p.rec.Name()},
		Env:            b.env,
		Cmd:            p.command(b),
		PortBindings:   b.portBindings,
		Binds:          b.binds,
	}

	id, err := p.rt.CreateContainer(ctx, spec)
	if err != nil {
		return fmt.Errorf("failed to create member %s: %w", p.rec.Name(), err)
	}
	p.containerID = id

	stop, err := p.rt.FollowLogs(ctx, id, p.onLogLine)
	if err != nil {
		return fmt.Errorf("failed to follow logs of %s: %w", p.rec.Name(), err)
	}
	p.stopLogs = stop

	for _, m := range p.rec.PreStartMutations() {
		if m.Kind != MutCopyFile {
			log.Warn().
				Str("member", p.rec.Name()).
				Int("kind", int(m.Kind)).
				Msg("Ignoring pre-start mutation that is not a file copy")
			continue
		}
		file := runtime.File{Path: m.FilePath, Mode: m.FileMode, Contents: m.FileContents}
		if err := p.rt.CopyToContainer(ctx, id, file); err != nil {
			return fmt.Errorf("failed pre-start copy to %s: %w", p.rec.Name(), err)
		}
	}

	return nil
}

// Start launches the container entrypoint.
func (p *Process) Start(ctx context.Context) error {
	log.Info().
		Str("member", p.rec.Name()).
		Int("port", p.rec.Port()).
		Msg("Starting member")

	if err := p.rt.StartContainer(ctx, p.containerID); err != nil {
		return fmt.Errorf("failed to start member %s: %w", p.rec.Name(), err)
	}

	return nil
}

// WaitToStart blocks until the readiness marker has been observed or the
// timeout elapses. On timeout the accumulated log tail is dumped and a
// StartupTimeoutError returned; the member is left as-is for diagnosis.
func (p *Process) WaitToStart(ctx context.Context) error {
	if p.ready.Wait(p.timeout) {
		return nil
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	tail := p.LogTail()
	log.Error().
		Str("member", p.rec.Name()).
		Dur("timeout", p.timeout).
		Msg("Member failed to start; dumping captured logs")
	for _, line := range strings.Split(tail, "\n") {
		log.Error().Str("member", p.rec.Name()).Msg(line)
	}

	return &StartupTimeoutError{Member: p.rec.Name(), Timeout: p.timeout, LogTail: tail}
}

// Ready reports whether the readiness marker has been observed.
func (p *Process) Ready() bool { return p.ready.Fired() }

// Stop detaches the log stream and stops the container.
func (p *Process) Stop(ctx context.Context) error {
	if p.containerID == "" {
		return nil
	}

	if p.stopLogs != nil {
		p.stopLogs()
	}

	return p.rt.StopContainer(ctx, p.containerID)
}

// LogTail returns the retained tail of the member's log output.
func (p *Process) LogTail() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return strings.Join(p.logTail, "\n")
}

// onLogLine runs on the log-streaming goroutine.
func (p *Process) onLogLine(line string) {
	if p.echoLogs {
		log.Info().Str("member", p.rec.Name()).Msg(line)
	}

	p.mu.Lock()
	p.logTail = append(p.logTail, line)
	if len(p.logTail) > logTailLimit {
		p.logTail = p.logTail[len(p.logTail)-logTailLimit:]
	}
	consumers := p.consumers
	p.mu.Unlock()

	for _, fn := range consumers {
		fn(p.rec.Name(), line)
	}

	// Once fired, later lines are irrelevant for readiness.
	if !p.ready.Fired() && strings.Contains(line, p.readyMarker()) {
		p.ready.Fire()
	}
}
