// Package cluster provisions and manages an ephemeral distributed-cache
// cluster inside isolated containers, for use as a disposable test fixture.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"

	"github.com/gridcage/gridcage/cfg"
	"github.com/gridcage/gridcage/gfsh"
	"github.com/gridcage/gridcage/member"
	"github.com/gridcage/gridcage/proxy"
	"github.com/gridcage/gridcage/runtime"
	"github.com/gridcage/gridcage/telemetry"
)

// Member selector globs for the configuration API, alongside the
// "all"/"all locators"/"all servers" convenience selectors.
const (
	AllGlob     = "*"
	LocatorGlob = "locator-*"
	ServerGlob  = "server-*"
)

// Default topology when none is requested.
const (
	DefaultLocatorCount = 1
	DefaultServerCount  = 2
)

// State is the cluster lifecycle state. Stopped is terminal; a cluster
// instance is not restartable.
type State int32

const (
	StateUnstarted State = iota
	StateStarting
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// Cluster orchestrates the full member set and the port bridge. A cluster is
// driven by exactly one goroutine: all configuration calls and Start happen
// from the same caller, per the intended test-fixture usage.
type Cluster struct {
	settings cfg.Settings
	rt       runtime.Runtime
	registry *member.Registry
	suffix   string
	network  string

	bridge    *proxy.Bridge
	processes *xsync.MapOf[string, *member.Process]
	state     atomic.Int32

	preServerGfsh  func(ctx context.Context) error
	postDeployGfsh func(ctx context.Context) error

	locatorPorts []int
	serverPorts  []int
}

// New constructs a cluster of locatorCount locators and serverCount servers.
// Members are named "locator-0..N" and "server-0..N". Nothing is created
// until Start.
func New(settings cfg.Settings, rt runtime.Runtime, locatorCount, serverCount int) (*Cluster, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	if locatorCount < 1 || serverCount < 1 {
		return nil, fmt.Errorf("cluster needs at least one locator and one server, got %d/%d",
			locatorCount, serverCount)
	}

	telemetry.Initialize(settings.MetricsEnabled)

	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return &Cluster{
		settings:  settings,
		rt:        rt,
		registry:  member.NewRegistry(locatorCount, serverCount, suffix),
		suffix:    suffix,
		network:   "gemfire-" + suffix,
		processes: xsync.NewMapOf[string, *member.Process](),
	}, nil
}

// NewDefault constructs a cluster with the default topology.
func NewDefault(settings cfg.Settings, rt runtime.Runtime) (*Cluster, error) {
	return New(settings, rt, DefaultLocatorCount, DefaultServerCount)
}

// State returns the current lifecycle state.
func (c *Cluster) State() State { return State(c.state.Load()) }

// Network returns the private network name shared by all members.
func (c *Cluster) Network() string { return c.network }

// Start brings the cluster up in strict phases: create the network and port
// bridge, start all locators and wait for each to become ready, run the
// deferred pre-server admin action, start all servers and wait for each, then
// run the deferred post-deploy admin action.
//
// When a member times out mid-start, earlier members are deliberately left
// running so their logs stay inspectable; callers must Close regardless of
// the Start outcome.
func (c *Cluster) Start(ctx context.Context) error {
	if !c.state.CompareAndSwap(int32(StateUnstarted), int32(StateStarting)) {
		return fmt.Errorf("cluster is %s; a cluster instance can only start once", c.State())
	}

	log.Info().
		Str("network", c.network).
		Int("locators", len(c.registry.Locators())).
		Int("servers", len(c.registry.Servers())).
		Msg("Starting cluster")

	if err := c.rt.CreateNetwork(ctx, c.network); err != nil {
		return err
	}

	c.bridge = proxy.New(c.rt, c.network, c.settings.ProxyImage, c.registry)
	if err := c.bridge.Start(ctx); err != nil {
		return err
	}

	// Every member must know the complete locator set at launch; with
	// multiple locators a partial list would split the management plane.
	addresses := make([]string, len(c.registry.Locators()))
	for i, rec := range c.registry.Locators() {
		addresses[i] = fmt.Sprintf("%s[%d]", rec.Hostname(), rec.Port())
	}
	locatorAddresses := strings.Join(addresses, ",")

	for _, rec := range c.registry.Locators() {
		p := member.NewLocator(rec, c.rt, c.settings.Image, c.network, locatorAddresses, c.settings.EchoLogs)
		if err := c.launch(ctx, rec, p); err != nil {
			return err
		}
		c.locatorPorts = append(c.locatorPorts, rec.Port())
	}

	if err := c.awaitAll(ctx, c.registry.Locators()); err != nil {
		return err
	}

	if c.preServerGfsh != nil {
		if err := c.preServerGfsh(ctx); err != nil {
			return err
		}
	}

	for _, rec := range c.registry.Servers() {
		p := member.NewServer(rec, c.rt, c.settings.Image, c.network, locatorAddresses, c.settings.EchoLogs)
		if err := c.launch(ctx, rec, p); err != nil {
			return err
		}
		c.serverPorts = append(c.serverPorts, rec.Port())
	}

	if err := c.awaitAll(ctx, c.registry.Servers()); err != nil {
		return err
	}

	if c.postDeployGfsh != nil {
		if err := c.postDeployGfsh(ctx); err != nil {
			return err
		}
	}

	c.state.Store(int32(StateRunning))
	telemetry.ClustersStarted.Inc()
	log.Info().Str("network", c.network).Msg("Cluster running")

	return nil
}

func (c *Cluster) launch(ctx context.Context, rec *member.Record, p *member.Process) error {
	p.SetTimeout(time.Duration(c.settings.StartupTimeoutSeconds) * time.Second)
	c.processes.Store(rec.Name(), p)

	if err := p.Create(ctx); err != nil {
		return err
	}

	return p.Start(ctx)
}

func (c *Cluster) awaitAll(ctx context.Context, recs []*member.Record) error {
	for _, rec := range recs {
		started := time.Now()
		if err := rec.Process().WaitToStart(ctx); err != nil {
			return err
		}
		telemetry.MemberStartupSeconds.With(string(rec.Role())).Observe(time.Since(started).Seconds())
	}

	return nil
}

// Close stops the bridge, then every server, then every locator. Each step
// is independently best-effort: one failing stop never prevents the rest.
// Closing a cluster that never started is a silent no-op, and Close is
// idempotent.
func (c *Cluster) Close() error {
	prev := State(c.state.Swap(int32(StateStopped)))
	if prev == StateUnstarted || prev == StateStopped {
		return nil
	}

	ctx := context.Background()
	var errs []error

	if c.bridge != nil {
		if err := c.bridge.Stop(ctx); err != nil {
			log.Warn().Err(err).Msg("Failed to stop port bridge")
			errs = append(errs, err)
		}
	}

	for _, rec := range c.registry.Servers() {
		errs = append(errs, c.stopMember(ctx, rec))
	}
	for _, rec := range c.registry.Locators() {
		errs = append(errs, c.stopMember(ctx, rec))
	}

	if err := c.rt.RemoveNetwork(ctx, c.network); err != nil {
		log.Warn().Err(err).Str("network", c.network).Msg("Failed to remove network")
	}

	return errors.Join(errs...)
}

func (c *Cluster) stopMember(ctx context.Context, rec *member.Record) error {
	p := rec.Process()
	if p == nil {
		return nil
	}

	if err := p.Stop(ctx); err != nil {
		log.Warn().Err(err).Str("member", rec.Name()).Msg("Failed to stop member")
		return err
	}

	return nil
}

// WithConfiguration appends build-time mutations to every member matching the
// selector. Like all configuration calls, this only affects members whose
// process has not been created yet; calling it after Start has no effect.
func (c *Cluster) WithConfiguration(selector string, muts ...member.Mutation) error {
	recs, err := c.registry.Resolve(selector)
	if err != nil {
		return err
	}

	for _, rec := range recs {
		rec.AddConfig(muts...)
	}

	return nil
}

// WithPreStart appends mutations applied after container creation but before
// the member process starts, e.g. seeding TLS material referenced by path.
func (c *Cluster) WithPreStart(selector string, muts ...member.Mutation) error {
	recs, err := c.registry.Resolve(selector)
	if err != nil {
		return err
	}

	for _, rec := range recs {
		rec.AddPreStart(muts...)
	}

	return nil
}

// WithEnv sets an environment variable on the matched members' containers.
func (c *Cluster) WithEnv(selector, key, value string) error {
	return c.WithConfiguration(selector, member.SetEnv(key, value))
}

// AcceptLicense accepts the cache license terms for every member. Without it
// the image refuses to start and the cluster start times out.
func (c *Cluster) AcceptLicense() error {
	return c.WithEnv(AllGlob, "ACCEPT_TERMS", "y")
}

// WithGemFireProperty sets a cache system property on the matched members.
// The property name is automatically prefixed with "gemfire.".
func (c *Cluster) WithGemFireProperty(selector, name, value string) error {
	return c.WithConfiguration(selector,
		member.AppendArg(fmt.Sprintf("--J=-Dgemfire.%s=%s", name, value)))
}

// WithClasspath bind-mounts the given local paths read-only at
// /classpath/0, /classpath/1, ... on the matched members and adds them to the
// started process's classpath.
func (c *Cluster) WithClasspath(selector string, classpaths ...string) error {
	muts := make([]member.Mutation, 0, len(classpaths))
	for i, path := range classpaths {
		abs, err := filepath.Abs(path)
		if err != nil {
			return &ResourceReadError{Resource: path, Err: err}
		}
		if _, err := os.Stat(abs); err != nil {
			return &ResourceReadError{Resource: path, Err: err}
		}
		muts = append(muts, member.Bind(abs, fmt.Sprintf("/classpath/%d", i)))
	}

	return c.WithConfiguration(selector, muts...)
}

// WithCacheXml copies a local cache XML file to /cache.xml on the matched
// members and points the process at it.
func (c *Cluster) WithCacheXml(selector, path string) error {
	contents, err := os.ReadFile(path)
	if err != nil {
		return &ResourceReadError{Resource: path, Err: err}
	}

	if err := c.WithConfiguration(selector,
		member.AppendArg("--J=-Dgemfire.cache-xml-file=/cache.xml")); err != nil {
		return err
	}

	return c.WithPreStart(selector, member.CopyFile("/cache.xml", 0o666, contents))
}

// WithDebugPort assigns basePort, basePort+1, ... across the matched members
// in resolution order, each as a fixed host binding with the JVM suspended
// until a debugger attaches. This intentionally blocks startup of the
// affected members until a debugger connects.
func (c *Cluster) WithDebugPort(selector string, basePort int) error {
	recs, err := c.registry.Resolve(selector)
	if err != nil {
		return err
	}

	for i, rec := range recs {
		port := basePort + i
		rec.AddConfig(
			member.BindPort(port),
			member.AppendArg(fmt.Sprintf(
				"--J=-agentlib:jdwp=transport=dt_socket,server=y,suspend=y,address=0.0.0.0:%d", port)),
		)
		log.Warn().Str("member", rec.Name()).Int("port", port).
			Msg("Member will wait for a debugger to connect")
	}

	return nil
}

// WithPorts pins explicit, externally bound ports onto the matched members.
// The number of ports must equal the number of matched members. Pinned
// members bypass the port bridge.
func (c *Cluster) WithPorts(selector string, ports ...int) error {
	recs, err := c.registry.Resolve(selector)
	if err != nil {
		return err
	}

	if len(recs) != len(ports) {
		return &PortCountMismatchError{Selector: selector, Matched: len(recs), Supplied: len(ports)}
	}

	for i, rec := range recs {
		rec.PinPort(ports[i])
	}

	return nil
}

// WithPdx registers the PDX serialization configuration to run after the
// locators are ready but before any server joins, since it affects how
// servers register their metadata.
func (c *Cluster) WithPdx(autoSerializerPattern string, readSerialized bool) {
	c.preServerGfsh = func(ctx context.Context) error {
		_, err := c.Gfsh(ctx, true, fmt.Sprintf(
			"configure pdx --disk-store=DEFAULT --read-serialized=%v --auto-serializable-classes=%s",
			readSerialized, autoSerializerPattern))
		return err
	}
}

// WithGfsh registers admin commands to run as the final phase of Start.
func (c *Cluster) WithGfsh(logOutput bool, commands ...string) {
	c.postDeployGfsh = func(ctx context.Context) error {
		_, err := c.Gfsh(ctx, logOutput, commands...)
		return err
	}
}

// WithLogConsumer subscribes fn to every log line of the matched members.
// fn receives the member name and the line, and may be called from a
// log-streaming goroutine.
func (c *Cluster) WithLogConsumer(selector string, fn func(memberName, line string)) error {
	return c.WithConfiguration(selector, member.SubscribeLogs(fn))
}

// WithStartupTimeout overrides the readiness wait for the matched members.
func (c *Cluster) WithStartupTimeout(selector string, timeout time.Duration) error {
	return c.WithConfiguration(selector, member.WithTimeout(timeout))
}

// WithHostnameForClients overrides the hostname members advertise to cache
// clients. Only needed for special scenarios such as SNI proxies.
func (c *Cluster) WithHostnameForClients(selector, hostname string) error {
	return c.WithConfiguration(selector, member.ClientHostname(hostname))
}

// Gfsh executes the commands as one admin script against the first locator.
// There is no need for an explicit connect command unless extra connection
// parameters are required; use GfshBuilder for credentials and TLS.
func (c *Cluster) Gfsh(ctx context.Context, logOutput bool, commands ...string) (string, error) {
	return c.GfshBuilder().WithLogging(logOutput).Build().Run(ctx, commands...)
}

// GfshBuilder returns a builder targeting the first locator. The cluster
// must be started before the built session is run.
func (c *Cluster) GfshBuilder() *gfsh.Builder {
	var containerID string
	if p := c.registry.Locators()[0].Process(); p != nil {
		containerID = p.ContainerID()
	}
	return gfsh.NewBuilder(c.rt, containerID)
}

// LocatorPort returns the first locator's advertised port, for client
// connections.
func (c *Cluster) LocatorPort() int {
	if len(c.locatorPorts) == 0 {
		return 0
	}
	return c.locatorPorts[0]
}

// LocatorPorts returns every locator's advertised port.
func (c *Cluster) LocatorPorts() []int {
	return append([]int(nil), c.locatorPorts...)
}

// ServerPorts returns every server's advertised port.
func (c *Cluster) ServerPorts() []int {
	return append([]int(nil), c.serverPorts...)
}

// HTTPPorts returns the host-mapped HTTP management ports of the matched
// members.
func (c *Cluster) HTTPPorts(selector string) ([]int, error) {
	recs, err := c.registry.Resolve(selector)
	if err != nil {
		return nil, err
	}

	ports := make([]int, len(recs))
	for i, rec := range recs {
		ports[i] = rec.PublicHTTPPort()
	}

	return ports, nil
}

// Containers returns the started member processes keyed by member name.
func (c *Cluster) Containers() map[string]*member.Process {
	out := make(map[string]*member.Process)
	c.processes.Range(func(name string, p *member.Process) bool {
		out[name] = p
		return true
	})
	return out
}
