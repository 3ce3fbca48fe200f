package cluster

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/gridcage/gridcage/cfg"
	"github.com/gridcage/gridcage/runtime"
)

// cacheEmulation drives a MemoryRuntime like the real cache image would:
// members emit their readiness marker only after the license terms were
// accepted, and admin command batches produce plausible output.
type cacheEmulation struct {
	mu      sync.Mutex
	started []string
}

// startedMembers returns the names of members that reached readiness.
func (e *cacheEmulation) startedMembers() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.started))
	copy(out, e.started)
	return out
}

// memberNameFromCmd extracts the --name= flag of a member start command.
func memberNameFromCmd(cmd []string) string {
	for _, arg := range cmd {
		if name, ok := strings.CutPrefix(arg, "--name="); ok {
			return name
		}
	}
	return ""
}

// emulateCacheImage installs start and exec hooks on the runtime. Member
// containers log a startup banner, then the role's readiness marker, unless
// ACCEPT_TERMS was never set, in which case they log a refusal and stall like
// the real image does. The bridge container is left alone.
func emulateCacheImage(rt *runtime.MemoryRuntime) *cacheEmulation {
	e := &cacheEmulation{}

	rt.StartHook = func(c *runtime.MemoryContainer) {
		cmd := c.Spec.Cmd
		if len(cmd) < 3 || cmd[0] != "gfsh" || cmd[1] != "start" {
			return
		}

		name := memberNameFromCmd(cmd)
		rt.EmitLog(c.ID, fmt.Sprintf("Starting %s in %s", name, c.Spec.Hostname))

		if c.Spec.Env["ACCEPT_TERMS"] != "y" {
			rt.EmitLog(c.ID, "The terms have not been accepted; set ACCEPT_TERMS=y to proceed")
			return
		}

		if cmd[2] == "locator" {
			rt.EmitLog(c.ID, fmt.Sprintf("Locator started on %s", c.Spec.Hostname))
		} else {
			rt.EmitLog(c.ID, fmt.Sprintf("Server %s startup completed in 1234 ms", name))
		}

		e.mu.Lock()
		e.started = append(e.started, name)
		e.mu.Unlock()
	}

	rt.ExecHook = func(c *runtime.MemoryContainer, cmd []string) runtime.ExecResult {
		script, ok := c.File("/script.gfsh")
		if !ok {
			return runtime.ExecResult{ExitCode: 1, Output: "no script staged"}
		}

		var out []string
		for _, line := range strings.Split(string(script.Contents), "\n") {
			switch {
			case strings.HasPrefix(line, "connect"):
				out = append(out, "Successfully connected to: JMX Manager")
			case line == "list members":
				out = append(out, "Member Count : "+fmt.Sprint(len(e.startedMembers())))
				out = append(out, e.startedMembers()...)
			case strings.HasPrefix(line, "fail"):
				out = append(out, "Error: "+line)
				return runtime.ExecResult{ExitCode: 1, Output: strings.Join(out, "\n")}
			default:
				out = append(out, "OK: "+line)
			}
		}

		return runtime.ExecResult{Output: strings.Join(out, "\n")}
	}

	return e
}

func testSettings() cfg.Settings {
	return cfg.Settings{
		Image:                 "gemfire/gemfire:10.1",
		ProxyImage:            "alpine/socat:1.8.0.0",
		StartupTimeoutSeconds: 30,
	}
}

// newTestCluster builds an unstarted cluster against an emulated runtime with
// the license pre-accepted.
func newTestCluster(t *testing.T, locators, servers int) (*Cluster, *runtime.MemoryRuntime, *cacheEmulation) {
	t.Helper()

	rt := runtime.NewMemoryRuntime()
	e := emulateCacheImage(rt)

	c, err := New(testSettings(), rt, locators, servers)
	if err != nil {
		t.Fatalf("Failed to build cluster: %v", err)
	}

	if err := c.AcceptLicense(); err != nil {
		t.Fatalf("Failed to accept license: %v", err)
	}

	return c, rt, e
}
