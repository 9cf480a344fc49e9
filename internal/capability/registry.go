package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/loqalabs/loqa-listen/internal/bus"
	"github.com/loqalabs/loqa-listen/internal/config"
	"github.com/loqalabs/loqa-listen/internal/protocol"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

type NodeInfo struct {
	ID           string    `json:"id"`
	Capabilities []string  `json:"capabilities"`
	LastSeen     time.Time `json:"last_seen"`
	Healthy      bool      `json:"healthy"`
}

type announceMessage struct {
	NodeID       string    `json:"node_id"`
	Capabilities []string  `json:"capabilities"`
	Timestamp    time.Time `json:"timestamp"`
}

type heartbeatMessage struct {
	NodeID       string    `json:"node_id"`
	Capabilities []string  `json:"capabilities,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Registry tracks which nodes on the bus offer which capabilities. Nodes
// announce themselves on start and keep a heartbeat; a node that misses
// heartbeats for longer than the configured timeout is marked unhealthy.
type Registry struct {
	cfg   config.NodeConfig
	log   *slog.Logger
	bus   *bus.Client
	local []string
	clock func() time.Time

	mu     sync.RWMutex
	nodes  map[string]*NodeInfo
	cancel context.CancelFunc
	subs   []*nats.Subscription
	wg     sync.WaitGroup
}

func NewRegistry(ctx context.Context, cfg config.NodeConfig, busClient *bus.Client, local []string, log *slog.Logger) (*Registry, error) {
	ctx, cancel := context.WithCancel(ctx)
	r := &Registry{
		cfg:    cfg,
		log:    log.With(slog.String("component", "capability-registry")),
		bus:    busClient,
		local:  append([]string(nil), local...),
		clock:  time.Now,
		nodes:  make(map[string]*NodeInfo),
		cancel: cancel,
	}

	if err := r.initMetrics(); err != nil {
		r.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}

	if err := r.subscribe(); err != nil {
		cancel()
		return nil, err
	}

	r.wg.Add(2)
	go r.runHeartbeat(ctx)
	go r.monitorHealth(ctx)

	if err := r.announce(); err != nil {
		r.log.Warn("failed to announce node", slog.String("error", err.Error()))
	}

	return r, nil
}

func (r *Registry) Close() {
	if r.cancel != nil {
		r.cancel()
	}
	for _, sub := range r.subs {
		_ = sub.Drain()
	}
	r.wg.Wait()
}

func (r *Registry) subscribe() error {
	conn := r.bus.Conn()
	announceSub, err := conn.Subscribe(protocol.SubjectNodeAnnounce, r.handleAnnounce)
	if err != nil {
		return fmt.Errorf("subscribe announce: %w", err)
	}
	r.subs = append(r.subs, announceSub)

	heartbeatSub, err := conn.Subscribe(protocol.SubjectNodeHeartbeatPrefix+".*", r.handleHeartbeat)
	if err != nil {
		return fmt.Errorf("subscribe heartbeat: %w", err)
	}
	r.subs = append(r.subs, heartbeatSub)
	return nil
}

func (r *Registry) runHeartbeat(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(time.Duration(r.cfg.HeartbeatInterval) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.publishHeartbeat(); err != nil {
				r.log.Warn("failed to publish heartbeat", slog.String("error", err.Error()))
			}
		}
	}
}

func (r *Registry) monitorHealth(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.evaluateHealth()
		}
	}
}

func (r *Registry) announce() error {
	msg := announceMessage{
		NodeID:       r.cfg.ID,
		Capabilities: r.local,
		Timestamp:    r.clock().UTC(),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	r.updateNode(msg.NodeID, msg.Capabilities, msg.Timestamp)
	return r.bus.Conn().Publish(protocol.SubjectNodeAnnounce, payload)
}

func (r *Registry) publishHeartbeat() error {
	msg := heartbeatMessage{
		NodeID:       r.cfg.ID,
		Capabilities: r.local,
		Timestamp:    r.clock().UTC(),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	subject := fmt.Sprintf("%s.%s", protocol.SubjectNodeHeartbeatPrefix, r.cfg.ID)
	return r.bus.Conn().Publish(subject, payload)
}

func (r *Registry) handleAnnounce(msg *nats.Msg) {
	var announcement announceMessage
	if err := json.Unmarshal(msg.Data, &announcement); err != nil {
		r.log.Warn("invalid announce message", slog.String("error", err.Error()))
		return
	}
	if announcement.Timestamp.IsZero() {
		announcement.Timestamp = r.clock().UTC()
	}
	r.updateNode(announcement.NodeID, announcement.Capabilities, announcement.Timestamp)
}

func (r *Registry) handleHeartbeat(msg *nats.Msg) {
	var hb heartbeatMessage
	if err := json.Unmarshal(msg.Data, &hb); err != nil {
		r.log.Warn("invalid heartbeat message", slog.String("error", err.Error()))
		return
	}
	if hb.Timestamp.IsZero() {
		hb.Timestamp = r.clock().UTC()
	}
	r.updateNode(hb.NodeID, hb.Capabilities, hb.Timestamp)
}

func (r *Registry) updateNode(nodeID string, capabilities []string, timestamp time.Time) {
	if nodeID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.nodes[nodeID]
	if !ok {
		node = &NodeInfo{ID: nodeID}
		r.nodes[nodeID] = node
	}
	if len(capabilities) > 0 {
		node.Capabilities = append([]string(nil), capabilities...)
	}
	node.LastSeen = timestamp
	node.Healthy = true
}

func (r *Registry) evaluateHealth() {
	r.mu.Lock()
	defer r.mu.Unlock()

	timeout := time.Duration(r.cfg.HeartbeatTimeout) * time.Millisecond
	now := r.clock()
	for _, node := range r.nodes {
		if now.Sub(node.LastSeen) > timeout {
			node.Healthy = false
		}
	}
}

// Healthy reports whether this node still sees its own heartbeat.
func (r *Registry) Healthy() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	node, ok := r.nodes[r.cfg.ID]
	if !ok {
		return false
	}
	return node.Healthy
}

// Providers returns healthy nodes offering capability, ordered by most
// recently seen first.
func (r *Registry) Providers(capability string) []NodeInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []NodeInfo
	for _, node := range r.nodes {
		if !node.Healthy {
			continue
		}
		for _, c := range node.Capabilities {
			if c == capability {
				results = append(results, *node)
				break
			}
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].LastSeen.After(results[j].LastSeen) })
	return results
}

func (r *Registry) initMetrics() error {
	meter := otel.Meter("github.com/loqalabs/loqa-listen/capability")
	gauge, err := meter.Int64ObservableGauge("loqa.capabilities.nodes", metric.WithDescription("Number of known nodes"))
	if err != nil {
		return err
	}
	_, err = meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
		r.mu.RLock()
		count := int64(len(r.nodes))
		r.mu.RUnlock()
		obs.ObserveInt64(gauge, count)
		return nil
	}, gauge)
	return err
}
