// Package member holds the per-member configuration records, the selector
// registry, and the container-backed member process for locators and servers.
package member

import "fmt"

// Role identifies the kind of cluster member.
type Role string

const (
	RoleLocator Role = "locator"
	RoleServer  Role = "server"
)

// Well-known in-container ports of the cache image.
const (
	// HTTPServicePort is where a member serves its HTTP management endpoint.
	HTTPServicePort = 7070

	// JMXPort is the management port the admin CLI connects to on a locator.
	JMXPort = 1099
)

// Record is the configuration record for a single member. Records are built
// when the cluster is constructed and accumulate mutations until the owning
// process is created, at which point the hook lists freeze.
type Record struct {
	role     Role
	index    int
	name     string
	hostname string

	proxyListenPort     int
	proxyHTTPListenPort int
	publicPort          int
	publicHTTPPort      int
	pinnedPort          int

	mutations []Mutation
	preStart  []Mutation
	frozen    bool

	proc *Process
}

// NewRecord creates the record for one member. The member name is
// "{role}-{index}"; the hostname appends the cluster suffix so that members
// of concurrently running clusters never collide.
func NewRecord(role Role, index int, suffix string) *Record {
	name := fmt.Sprintf("%s-%d", role, index)
	return &Record{
		role:     role,
		index:    index,
		name:     name,
		hostname: fmt.Sprintf("%s-%s", name, suffix),
	}
}

// Name returns the glob-matchable member name, e.g. "server-1".
func (r *Record) Name() string { return r.name }

// Hostname returns the network-unique hostname for this process lifetime.
func (r *Record) Hostname() string { return r.hostname }

// Role returns the member role.
func (r *Record) Role() Role { return r.role }

// Index returns the per-role index.
func (r *Record) Index() int { return r.index }

// Port returns the port the member listens on and advertises to peers: the
// pinned port when one was requested, otherwise the bridge-resolved public
// port (0 until the bridge has started).
func (r *Record) Port() int {
	if r.pinnedPort != 0 {
		return r.pinnedPort
	}
	return r.publicPort
}

// PinPort requests a fixed, externally bound port for this member. The port
// bridge skips pinned members entirely.
func (r *Record) PinPort(port int) { r.pinnedPort = port }

// Pinned reports whether an explicit port was requested.
func (r *Record) Pinned() bool { return r.pinnedPort != 0 }

// SetProxyPorts records the bridge relay ports allocated for this member.
func (r *Record) SetProxyPorts(listenPort, httpListenPort int) {
	r.proxyListenPort = listenPort
	r.proxyHTTPListenPort = httpListenPort
}

// ProxyListenPort returns the bridge relay port for the primary port kind.
func (r *Record) ProxyListenPort() int { return r.proxyListenPort }

// ProxyHTTPListenPort returns the bridge relay port for the HTTP port kind.
func (r *Record) ProxyHTTPListenPort() int { return r.proxyHTTPListenPort }

// SetPublicPorts stores the host-mapped ports resolved by the bridge.
func (r *Record) SetPublicPorts(port, httpPort int) {
	r.publicPort = port
	r.publicHTTPPort = httpPort
}

// PublicHTTPPort returns the host-mapped HTTP port, 0 for pinned members.
func (r *Record) PublicHTTPPort() int { return r.publicHTTPPort }

// AddConfig appends build-time mutations. Appending after the owning process
// has been created is a deliberate no-op: reconfiguring a live process is out
// of scope.
func (r *Record) AddConfig(muts ...Mutation) {
	if r.frozen {
		return
	}
	r.mutations = append(r.mutations, muts...)
}

// AddPreStart appends mutations applied after container creation but before
// the process starts (file copies, typically). Same freeze semantics as
// AddConfig.
func (r *Record) AddPreStart(muts ...Mutation) {
	if r.frozen {
		return
	}
	r.preStart = append(r.preStart, muts...)
}

// Mutations returns the build-time hook list in application order.
func (r *Record) Mutations() []Mutation { return r.mutations }

// PreStartMutations returns the pre-start hook list in application order.
func (r *Record) PreStartMutations() []Mutation { return r.preStart }

func (r *Record) freeze() { r.frozen = true }

// BindProcess attaches the owning process handle and freezes the hook lists.
func (r *Record) BindProcess(p *Process) {
	r.proc = p
	r.freeze()
}

// Process returns the owning process handle, nil before startup.
func (r *Record) Process() *Process { return r.proc }
