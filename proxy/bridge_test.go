package proxy

import (
	"context"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridcage/gridcage/member"
	"github.com/gridcage/gridcage/runtime"
)

func TestNew_AllocatesRelayPortPairs(t *testing.T) {
	rt := runtime.NewMemoryRuntime()
	reg := member.NewRegistry(1, 2, "abcd1234")

	New(rt, "gemfire-abcd1234", "alpine/socat:1.8.0.0", reg)

	all := reg.All()
	assert.Equal(t, BasePort, all[0].ProxyListenPort())
	assert.Equal(t, BasePort+1, all[0].ProxyHTTPListenPort())
	assert.Equal(t, BasePort+2, all[1].ProxyListenPort())
	assert.Equal(t, BasePort+3, all[1].ProxyHTTPListenPort())
	assert.Equal(t, BasePort+4, all[2].ProxyListenPort())
	assert.Equal(t, BasePort+5, all[2].ProxyHTTPListenPort())
}

func TestNew_SkipsPinnedMembers(t *testing.T) {
	rt := runtime.NewMemoryRuntime()
	reg := member.NewRegistry(1, 2, "abcd1234")
	reg.Servers()[0].PinPort(40404)

	b := New(rt, "gemfire-abcd1234", "alpine/socat:1.8.0.0", reg)

	pinned := reg.Servers()[0]
	assert.Zero(t, pinned.ProxyListenPort())

	// The pinned member's pair is not left as a hole; the next member takes it.
	assert.Equal(t, BasePort+2, reg.Servers()[1].ProxyListenPort())
	assert.Len(t, b.exposed, 4)
}

func TestStart_ResolvesPublicPortsAndWritesScript(t *testing.T) {
	rt := runtime.NewMemoryRuntime()
	reg := member.NewRegistry(1, 1, "abcd1234")

	b := New(rt, "gemfire-abcd1234", "alpine/socat:1.8.0.0", reg)
	require.NoError(t, b.Start(context.Background()))

	locator := reg.Locators()[0]
	server := reg.Servers()[0]
	assert.Greater(t, locator.Port(), 0)
	assert.Greater(t, locator.PublicHTTPPort(), 0)
	assert.Greater(t, server.Port(), 0)
	assert.NotEqual(t, locator.Port(), server.Port())

	cont, ok := rt.ContainerByName("gemfire-abcd1234-proxy")
	require.True(t, ok)
	assert.True(t, cont.Started())
	assert.Equal(t, []string{"sh"}, cont.Spec.Entrypoint)
	assert.Contains(t, cont.Spec.Cmd[1], "/gridcage_proxy_start.sh")

	script, ok := cont.File("/gridcage_proxy_start.sh")
	require.True(t, ok, "relay script was never written")
	assert.Equal(t, int64(0o777), script.Mode)

	text := string(script.Contents)
	assert.True(t, strings.HasPrefix(text, "#!/bin/sh\n"))

	// Primary relays forward to the member's advertised (host-mapped) port;
	// HTTP relays forward to the fixed in-container HTTP service port.
	assert.Contains(t, text, "socat TCP-LISTEN:2000,fork,reuseaddr TCP:locator-0-abcd1234:"+strconv.Itoa(locator.Port()))
	assert.Contains(t, text, "socat TCP-LISTEN:2001,fork,reuseaddr TCP:locator-0-abcd1234:"+strconv.Itoa(member.HTTPServicePort))
	assert.Contains(t, text, "socat TCP-LISTEN:2002,fork,reuseaddr TCP:server-0-abcd1234:"+strconv.Itoa(server.Port()))

	relays := strings.Split(strings.TrimPrefix(text, "#!/bin/sh\n"), " & ")
	assert.Len(t, relays, 4)
}

func TestStop_BeforeStartIsNoOp(t *testing.T) {
	rt := runtime.NewMemoryRuntime()
	reg := member.NewRegistry(1, 1, "abcd1234")

	b := New(rt, "gemfire-abcd1234", "alpine/socat:1.8.0.0", reg)
	require.NoError(t, b.Stop(context.Background()))
	assert.Empty(t, rt.Events())
}

func TestStop_StopsTheRelayContainer(t *testing.T) {
	rt := runtime.NewMemoryRuntime()
	reg := member.NewRegistry(1, 1, "abcd1234")

	b := New(rt, "gemfire-abcd1234", "alpine/socat:1.8.0.0", reg)
	require.NoError(t, b.Start(context.Background()))
	require.NoError(t, b.Stop(context.Background()))

	cont, ok := rt.ContainerByName("gemfire-abcd1234-proxy")
	require.True(t, ok)
	assert.True(t, cont.Stopped())
}
