package guard

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// LifecycleKind names a container lifecycle transition observed by the
// monitor.
type LifecycleKind string

const (
	LifecycleCreated             LifecycleKind = "created"
	LifecycleStarted             LifecycleKind = "started"
	LifecycleStopped             LifecycleKind = "stopped"
	LifecycleDeleted             LifecycleKind = "deleted"
	LifecyclePaused              LifecycleKind = "paused"
	LifecycleUnpaused            LifecycleKind = "unpaused"
	LifecycleNetworkDisconnected LifecycleKind = "network_disconnected"
)

// LifecycleEvent reports one observed container transition.
type LifecycleEvent struct {
	ContainerID   string
	ContainerName string
	Kind          LifecycleKind
	// Network is set for network_disconnected events.
	Network string
}

func (e LifecycleEvent) String() string {
	if e.Network != "" {
		return fmt.Sprintf("%s(%s) %s network=%s", e.ContainerName, shortID(e.ContainerID), e.Kind, e.Network)
	}
	return fmt.Sprintf("%s(%s) %s", e.ContainerName, shortID(e.ContainerID), e.Kind)
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// Monitor polls the container list, maintains an inventory keyed by
// container id, and derives lifecycle events from state diffs.
type Monitor struct {
	docker   DockerClient
	interval time.Duration
	logger   *slog.Logger

	mu        sync.RWMutex
	inventory map[string]ContainerDetail

	// OnEvent, when set, receives each derived lifecycle event.
	OnEvent func(LifecycleEvent)
}

// NewMonitor creates a monitor polling at the given interval.
func NewMonitor(docker DockerClient, interval time.Duration, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Monitor{
		docker:    docker,
		interval:  interval,
		logger:    logger,
		inventory: make(map[string]ContainerDetail),
	}
}

// Run polls until ctx is cancelled. The first poll seeds the inventory
// without emitting events.
func (m *Monitor) Run(ctx context.Context) error {
	if err := m.poll(ctx, false); err != nil {
		m.logger.Warn("initial container poll failed", slog.String("error", err.Error()))
	}
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := m.poll(ctx, true); err != nil {
				m.logger.Warn("container poll failed", slog.String("error", err.Error()))
			}
		}
	}
}

// poll lists containers, refreshes the inventory and emits diffs.
func (m *Monitor) poll(ctx context.Context, emitEvents bool) error {
	list, err := m.docker.ListContainers(ctx)
	if err != nil {
		return err
	}

	fresh := make(map[string]ContainerDetail, len(list))
	for _, info := range list {
		detail, err := m.docker.Inspect(ctx, info.ID)
		if err != nil {
			// keep listing data when inspect races a removal
			detail = ContainerDetail{ContainerInfo: info}
		}
		fresh[info.ID] = detail
	}

	m.mu.Lock()
	previous := m.inventory
	m.inventory = fresh
	m.mu.Unlock()

	if !emitEvents {
		return nil
	}
	for id, cur := range fresh {
		prev, existed := previous[id]
		if !existed {
			m.emit(LifecycleEvent{ContainerID: id, ContainerName: cur.Name, Kind: LifecycleCreated})
			if cur.Status == "running" {
				m.emit(LifecycleEvent{ContainerID: id, ContainerName: cur.Name, Kind: LifecycleStarted})
			}
			continue
		}
		if prev.Status != cur.Status {
			if kind, ok := transitionKind(prev.Status, cur.Status); ok {
				m.emit(LifecycleEvent{ContainerID: id, ContainerName: cur.Name, Kind: kind})
			}
		}
		for _, network := range missingNetworks(prev.Networks, cur.Networks) {
			m.emit(LifecycleEvent{
				ContainerID:   id,
				ContainerName: cur.Name,
				Kind:          LifecycleNetworkDisconnected,
				Network:       network,
			})
		}
	}
	for id, prev := range previous {
		if _, still := fresh[id]; !still {
			m.emit(LifecycleEvent{ContainerID: id, ContainerName: prev.Name, Kind: LifecycleDeleted})
		}
	}
	return nil
}

func transitionKind(prev, cur string) (LifecycleKind, bool) {
	switch cur {
	case "running":
		if prev == "paused" {
			return LifecycleUnpaused, true
		}
		return LifecycleStarted, true
	case "paused":
		return LifecyclePaused, true
	case "exited", "dead":
		return LifecycleStopped, true
	default:
		return "", false
	}
}

func missingNetworks(prev, cur []string) []string {
	current := make(map[string]struct{}, len(cur))
	for _, n := range cur {
		current[n] = struct{}{}
	}
	var gone []string
	for _, n := range prev {
		if _, ok := current[n]; !ok {
			gone = append(gone, n)
		}
	}
	return gone
}

func (m *Monitor) emit(ev LifecycleEvent) {
	m.logger.Debug("container lifecycle event", slog.String("event", ev.String()))
	if m.OnEvent != nil {
		m.OnEvent(ev)
	}
}

// ByID returns the inventory entry for a container id.
func (m *Monitor) ByID(id string) (ContainerDetail, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.inventory[id]
	return d, ok
}

// ByIP finds the container holding the given address.
func (m *Monitor) ByIP(ip string) (ContainerDetail, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, d := range m.inventory {
		for _, addr := range d.IPAddresses {
			if addr == ip {
				return d, true
			}
		}
	}
	return ContainerDetail{}, false
}

// List returns a snapshot of the inventory.
func (m *Monitor) List() []ContainerDetail {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ContainerDetail, 0, len(m.inventory))
	for _, d := range m.inventory {
		out = append(out, d)
	}
	return out
}

// seedForTest replaces the inventory.
func (m *Monitor) seedForTest(details []ContainerDetail) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inventory = make(map[string]ContainerDetail, len(details))
	for _, d := range details {
		m.inventory[d.ID] = d
	}
}
