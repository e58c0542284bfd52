package plugin

import (
	"context"
	"fmt"

	"github.com/grandcat/zeroconf"

	"github.com/dotside-studios/cardterm/buildinfo"
)

// ServiceType is the mDNS/DNS-SD service type this terminal service
// advertises itself under, so remote drivers (see drivers/remote) can
// find a running agent on the local network.
const ServiceType = "_cardterm._tcp"

// Advertisement wraps the mDNS server registered for this process. Close
// it to stop announcing the service.
type Advertisement struct {
	server *zeroconf.Server
}

// Advertise registers an mDNS service announcing this process as a
// cardterm agent listening on port, with readerNames published as a TXT
// record so browsers can pick a specific reader without connecting
// first.
func Advertise(instanceName string, port int, readerNames []string) (*Advertisement, error) {
	txt := []string{
		fmt.Sprintf("version=%s", buildinfo.Version),
	}
	for _, name := range readerNames {
		txt = append(txt, "reader="+name)
	}

	server, err := zeroconf.Register(instanceName, ServiceType, "local.", port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("plugin: mDNS registration failed: %w", err)
	}
	return &Advertisement{server: server}, nil
}

// Close stops advertising the service.
func (a *Advertisement) Close() {
	if a.server != nil {
		a.server.Shutdown()
	}
}

// DiscoveredAgent is one cardterm agent found on the network.
type DiscoveredAgent struct {
	InstanceName string
	HostName     string
	Port         int
	ReaderNames  []string
}

// Discover browses the local network for cardterm agents for the given
// duration (bounded by ctx) and returns whatever was found.
func Discover(ctx context.Context, resolver *zeroconf.Resolver) ([]DiscoveredAgent, error) {
	entries := make(chan *zeroconf.ServiceEntry)
	var found []DiscoveredAgent
	done := make(chan struct{})

	go func() {
		defer close(done)
		for entry := range entries {
			agent := DiscoveredAgent{
				InstanceName: entry.Instance,
				HostName:     entry.HostName,
				Port:         entry.Port,
			}
			for _, txt := range entry.Text {
				if len(txt) > len("reader=") && txt[:len("reader=")] == "reader=" {
					agent.ReaderNames = append(agent.ReaderNames, txt[len("reader="):])
				}
			}
			found = append(found, agent)
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, "local.", entries); err != nil {
		return nil, fmt.Errorf("plugin: mDNS browse failed: %w", err)
	}

	<-ctx.Done()
	<-done
	return found, nil
}
