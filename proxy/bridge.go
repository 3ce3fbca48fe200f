// Package proxy implements the port bridge: a single socat relay container
// that decouples the fixed port each member advertises to its peers from the
// ephemeral host port the container engine actually assigns.
package proxy

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/gridcage/gridcage/member"
	"github.com/gridcage/gridcage/runtime"
)

// BasePort is the first relay port; members are assigned pairs sequentially.
const BasePort = 2000

// starterScript is the in-container path the bridge polls for. The relay
// wiring cannot be known until the bridge's own mapped ports exist, so the
// container boots into a wait loop and the script is written afterwards. The
// filesystem is the only medium shared with the bridge process, which is why
// this hand-off is a file poll rather than an in-process primitive.
const starterScript = "/gridcage_proxy_start.sh"

// Bridge owns the relay container. Allocation happens at construction so
// that members can learn their bridge-facing ports before any member
// container exists.
type Bridge struct {
	rt      runtime.Runtime
	network string
	image   string
	name    string

	members     []*member.Record
	exposed     []int
	containerID string
}

// New allocates two relay ports (primary and HTTP) per member, locators
// first, starting at BasePort. Members with pinned ports are skipped: their
// fixed host binding makes the bridge unnecessary for them.
func New(rt runtime.Runtime, network, image string, reg *member.Registry) *Bridge {
	b := &Bridge{
		rt:      rt,
		network: network,
		image:   image,
		name:    network + "-proxy",
	}

	port := BasePort
	for _, rec := range reg.All() {
		if rec.Pinned() {
			continue
		}
		rec.SetProxyPorts(port, port+1)
		b.exposed = append(b.exposed, port, port+1)
		b.members = append(b.members, rec)
		port += 2
	}

	return b
}

// Start creates and starts the bridge container, reads back the host-mapped
// port for every relay port, stores the results on the member records, and
// writes the relay script that unblocks the container's wait loop.
func (b *Bridge) Start(ctx context.Context) error {
	spec := runtime.ContainerSpec{
		Name:           b.name,
		Hostname:       b.name,
		Image:          b.image,
		Network:        b.network,
		NetworkAliases: []string{"proxy"},
		Entrypoint:     []string{"sh"},
		Cmd: []string{"-c",
			"while [ ! -f " + starterScript + " ]; do sleep 0.1; done; " + starterScript},
		ExposedPorts: b.exposed,
	}

	id, err := b.rt.CreateContainer(ctx, spec)
	if err != nil {
		return fmt.Errorf("failed to create proxy container: %w", err)
	}
	b.containerID = id

	if err := b.rt.StartContainer(ctx, id); err != nil {
		return fmt.Errorf("failed to start proxy container: %w", err)
	}

	relays := make([]string, 0, len(b.members)*2)
	for _, rec := range b.members {
		mapped, err := b.rt.MappedPort(ctx, id, rec.ProxyListenPort())
		if err != nil {
			return fmt.Errorf("failed to resolve relay port for %s: %w", rec.Name(), err)
		}

		httpMapped, err := b.rt.MappedPort(ctx, id, rec.ProxyHTTPListenPort())
		if err != nil {
			return fmt.Errorf("failed to resolve HTTP relay port for %s: %w", rec.Name(), err)
		}

		rec.SetPublicPorts(mapped, httpMapped)

		relay := fmt.Sprintf("socat TCP-LISTEN:%d,fork,reuseaddr TCP:%s:%d",
			rec.ProxyListenPort(), rec.Hostname(), mapped)
		httpRelay := fmt.Sprintf("socat TCP-LISTEN:%d,fork,reuseaddr TCP:%s:%d",
			rec.ProxyHTTPListenPort(), rec.Hostname(), member.HTTPServicePort)

		log.Debug().Str("member", rec.Name()).Msg(relay)
		log.Debug().Str("member", rec.Name()).Msg(httpRelay)
		relays = append(relays, relay, httpRelay)
	}

	script := "#!/bin/sh\n" + strings.Join(relays, " & ")
	file := runtime.File{Path: starterScript, Mode: 0o777, Contents: []byte(script)}
	if err := b.rt.CopyToContainer(ctx, id, file); err != nil {
		return fmt.Errorf("failed to write proxy relay script: %w", err)
	}

	log.Info().Int("relays", len(relays)).Msg("Port bridge started")
	return nil
}

// Stop stops the bridge container. Stopping a bridge that never started is a
// no-op.
func (b *Bridge) Stop(ctx context.Context) error {
	if b.containerID == "" {
		return nil
	}
	return b.rt.StopContainer(ctx, b.containerID)
}
