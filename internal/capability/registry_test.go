package capability

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/loqalabs/loqa-listen/internal/bus"
	"github.com/loqalabs/loqa-listen/internal/config"
	"github.com/loqalabs/loqa-listen/internal/natsserver"
	"github.com/loqalabs/loqa-listen/internal/protocol"
	"github.com/nats-io/nats.go"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newBus(t *testing.T) *bus.Client {
	t.Helper()
	srv, err := natsserver.Start(config.BusConfig{Enabled: true, Embedded: true, Port: -1}, newLogger())
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}
	t.Cleanup(srv.Shutdown)
	conn, err := nats.Connect(srv.ClientURL())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	client := bus.NewFromConn(conn, newLogger())
	t.Cleanup(client.Close)
	return client
}

func nodeConfig(id string) config.NodeConfig {
	return config.NodeConfig{ID: id, HeartbeatInterval: 50, HeartbeatTimeout: 500}
}

func TestRegistryDiscoversRemoteProvider(t *testing.T) {
	client := newBus(t)

	host, err := NewRegistry(t.Context(), nodeConfig("host"), client, []string{protocol.CapabilityRecognize}, newLogger())
	if err != nil {
		t.Fatalf("host registry: %v", err)
	}
	defer host.Close()

	listener, err := NewRegistry(t.Context(), nodeConfig("listener"), client, nil, newLogger())
	if err != nil {
		t.Fatalf("listener registry: %v", err)
	}
	defer listener.Close()

	deadline := time.Now().Add(2 * time.Second)
	for {
		providers := listener.Providers(protocol.CapabilityRecognize)
		if len(providers) == 1 && providers[0].ID == "host" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("listener never saw host, got %+v", providers)
		}
		time.Sleep(20 * time.Millisecond)
	}

	if !listener.Healthy() {
		t.Fatalf("expected listener to see its own heartbeat")
	}
	if got := listener.Providers("tts.synthesize"); len(got) != 0 {
		t.Fatalf("unexpected providers %+v", got)
	}
}

func TestRegistryMarksSilentNodesUnhealthy(t *testing.T) {
	client := newBus(t)
	r, err := NewRegistry(t.Context(), nodeConfig("solo"), client, []string{protocol.CapabilityRecognize}, newLogger())
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	defer r.Close()

	r.updateNode("remote", []string{protocol.CapabilityRecognize}, time.Now().Add(-time.Minute))
	r.evaluateHealth()

	for _, node := range r.Providers(protocol.CapabilityRecognize) {
		if node.ID == "remote" {
			t.Fatalf("expected stale node to be excluded")
		}
	}
	if len(r.Providers(protocol.CapabilityRecognize)) != 1 {
		t.Fatalf("expected only the local node to remain")
	}
}
