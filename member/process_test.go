package member

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/gridcage/gridcage/runtime"
)

const testImage = "gemfire/gemfire:10.1"

func newTestRecord(t *testing.T, role Role) *Record {
	t.Helper()

	rec := NewRecord(role, 0, "abcd1234")
	rec.SetPublicPorts(49152, 49153)
	return rec
}

func TestProcess_LocatorCommandLine(t *testing.T) {
	rt := runtime.NewMemoryRuntime()
	rec := newTestRecord(t, RoleLocator)

	p := NewLocator(rec, rt, testImage, "net", "locator-0-abcd1234[49152]", false)
	if err := p.Create(context.Background()); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	cont, ok := rt.ContainerByName("locator-0-abcd1234")
	if !ok {
		t.Fatal("container was never created")
	}

	want := []string{
		"gfsh", "start", "locator",
		"--name=locator-0",
		"--port=49152",
		"--locators=locator-0-abcd1234[49152]",
		"--J=-Dgemfire.http-service-port=49153",
		"--hostname-for-clients=localhost",
		"--J=-Dgemfire.use-cluster-configuration=true",
		"--J=-Dgemfire.jmx-manager-start=true",
	}
	if !reflect.DeepEqual(cont.Spec.Cmd, want) {
		t.Fatalf("Cmd = %v, want %v", cont.Spec.Cmd, want)
	}

	if len(cont.Spec.NetworkAliases) != 1 || cont.Spec.NetworkAliases[0] != "locator-0" {
		t.Fatalf("NetworkAliases = %v, want member name", cont.Spec.NetworkAliases)
	}
}

func TestProcess_ServerCommandLine(t *testing.T) {
	rt := runtime.NewMemoryRuntime()
	rec := newTestRecord(t, RoleServer)
	rec.AddConfig(SetEnv("ACCEPT_TERMS", "y"), AppendArg("--J=-Dgemfire.log-level=fine"))

	p := NewServer(rec, rt, testImage, "net", "locator-0-abcd1234[49152]", false)
	if err := p.Create(context.Background()); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	cont, ok := rt.ContainerByName("server-0-abcd1234")
	if !ok {
		t.Fatal("container was never created")
	}

	want := []string{
		"gfsh", "start", "server",
		"--name=server-0",
		"--server-port=49152",
		"--locators=locator-0-abcd1234[49152]",
		"--hostname-for-clients=localhost",
		"--J=-Dgemfire.use-cluster-configuration=true",
		"--J=-Dgemfire.locator-wait-time=120",
		"--J=-Dgemfire.log-level=fine",
	}
	if !reflect.DeepEqual(cont.Spec.Cmd, want) {
		t.Fatalf("Cmd = %v, want %v", cont.Spec.Cmd, want)
	}

	if cont.Spec.Env["ACCEPT_TERMS"] != "y" {
		t.Fatalf("Env = %v, want ACCEPT_TERMS=y", cont.Spec.Env)
	}

	for _, arg := range cont.Spec.Cmd {
		if strings.Contains(arg, "http-service-port") {
			t.Fatalf("server command carries the locator-only HTTP port flag: %v", cont.Spec.Cmd)
		}
	}
}

func TestProcess_ReadinessIgnoresOtherMembers(t *testing.T) {
	rt := runtime.NewMemoryRuntime()
	rec := newTestRecord(t, RoleServer)

	p := NewServer(rec, rt, testImage, "net", "locators", false)
	if err := p.Create(context.Background()); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	rt.EmitLog(p.ContainerID(), "Server server-1 startup completed in 10 ms")
	if p.Ready() {
		t.Fatal("another member's success line released the readiness signal")
	}

	rt.EmitLog(p.ContainerID(), "Server server-0 startup completed in 10 ms")
	if !p.Ready() {
		t.Fatal("own success line did not release the readiness signal")
	}

	if err := p.WaitToStart(context.Background()); err != nil {
		t.Fatalf("WaitToStart() error = %v", err)
	}
}

func TestProcess_LocatorReadiness(t *testing.T) {
	rt := runtime.NewMemoryRuntime()
	rec := newTestRecord(t, RoleLocator)

	p := NewLocator(rec, rt, testImage, "net", "locators", false)
	if err := p.Create(context.Background()); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	rt.EmitLog(p.ContainerID(), "Locator started on locator-0-abcd1234[49152]")
	if !p.Ready() {
		t.Fatal("locator marker did not release the readiness signal")
	}
}

func TestProcess_WaitToStartTimeout(t *testing.T) {
	rt := runtime.NewMemoryRuntime()
	rec := newTestRecord(t, RoleServer)
	rec.AddConfig(WithTimeout(50 * time.Millisecond))

	p := NewServer(rec, rt, testImage, "net", "locators", false)
	if err := p.Create(context.Background()); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	rt.EmitLog(p.ContainerID(), "Exception in thread main: something broke")

	err := p.WaitToStart(context.Background())
	var timeoutErr *StartupTimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("WaitToStart() error = %v, want StartupTimeoutError", err)
	}
	if timeoutErr.Member != "server-0" {
		t.Fatalf("StartupTimeoutError.Member = %q, want server-0", timeoutErr.Member)
	}
	if !strings.Contains(timeoutErr.LogTail, "something broke") {
		t.Fatalf("LogTail = %q, want captured failure line", timeoutErr.LogTail)
	}
}

func TestProcess_CreateFreezesRecord(t *testing.T) {
	rt := runtime.NewMemoryRuntime()
	rec := newTestRecord(t, RoleServer)

	p := NewServer(rec, rt, testImage, "net", "locators", false)
	if err := p.Create(context.Background()); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	before := len(rec.Mutations())
	rec.AddConfig(AppendArg("--J=-Dgemfire.too-late=true"))
	rec.AddPreStart(CopyFile("/late.txt", 0o666, []byte("late")))

	if len(rec.Mutations()) != before {
		t.Fatal("AddConfig() mutated a frozen record")
	}
	if len(rec.PreStartMutations()) != 0 {
		t.Fatal("AddPreStart() mutated a frozen record")
	}
	if rec.Process() != p {
		t.Fatal("Process() does not return the bound process")
	}
}

func TestProcess_PreStartCopy(t *testing.T) {
	rt := runtime.NewMemoryRuntime()
	rec := newTestRecord(t, RoleServer)
	rec.AddPreStart(CopyFile("/cache.xml", 0o666, []byte("<cache/>")))

	p := NewServer(rec, rt, testImage, "net", "locators", false)
	if err := p.Create(context.Background()); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	cont, _ := rt.ContainerByName("server-0-abcd1234")
	file, ok := cont.File("/cache.xml")
	if !ok {
		t.Fatal("pre-start file was never copied")
	}
	if string(file.Contents) != "<cache/>" {
		t.Fatalf("file contents = %q", file.Contents)
	}
	if cont.Started() {
		t.Fatal("Create() must not start the container")
	}
}

func TestProcess_StopBeforeCreateIsNoOp(t *testing.T) {
	rt := runtime.NewMemoryRuntime()
	rec := newTestRecord(t, RoleServer)

	p := NewServer(rec, rt, testImage, "net", "locators", false)
	if err := p.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() before Create() error = %v", err)
	}
}

func TestProcess_LogTailIsBounded(t *testing.T) {
	rt := runtime.NewMemoryRuntime()
	rec := newTestRecord(t, RoleServer)

	p := NewServer(rec, rt, testImage, "net", "locators", false)
	if err := p.Create(context.Background()); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	for i := 0; i < logTailLimit+50; i++ {
		rt.EmitLog(p.ContainerID(), "line")
	}

	tail := strings.Split(p.LogTail(), "\n")
	if len(tail) != logTailLimit {
		t.Fatalf("tail holds %d lines, want %d", len(tail), logTailLimit)
	}
}
