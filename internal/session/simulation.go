package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"opsdesk.org/internal/kv"
	"opsdesk.org/internal/obs"
	"opsdesk.org/internal/roles"
)

const (
	simulationKey  = "simulation.identity"
	suppressionKey = "simulation.suppressed"

	// suppressionWindow blocks auto-restore of a stopped simulation.
	suppressionWindow = time.Hour
)

// SimulatedIdentity is an administrative role override layered on top of
// the real session for testing privilege-gated screens.
type SimulatedIdentity struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	DisplayName string     `json:"display_name"`
	Position    string     `json:"position"`
	Role        roles.Role `json:"role"`
}

func (s SimulatedIdentity) complete() bool {
	return s.ID != "" && s.Email != "" && s.Role.Valid()
}

// suppressionMarker records the last intentional stop. While fresh, it
// always wins over a present snapshot.
type suppressionMarker struct {
	EndedAtEpochMillis int64 `json:"ended_at"`
}

// SimulationStore replicates a simulated-identity snapshot across the
// three persistence tiers and reconciles them while a simulation runs.
type SimulationStore struct {
	rep *kv.Replicated
	now func() time.Time

	mu      sync.Mutex
	current *SimulatedIdentity
}

// NewSimulationStore composes the three tiers (durable, session-scoped,
// signed cookie) in read-priority order.
func NewSimulationStore(rep *kv.Replicated) *SimulationStore {
	return &SimulationStore{rep: rep, now: time.Now}
}

// Start writes the snapshot to every tier and clears any suppression
// marker so the new simulation survives reloads.
func (s *SimulationStore) Start(ctx context.Context, sim SimulatedIdentity) error {
	if sim.ID == "" {
		sim.ID = uuid.NewString()
	}
	if !sim.complete() {
		return ErrInvalidSnapshot
	}
	data, err := json.Marshal(sim)
	if err != nil {
		return err
	}
	if err := s.rep.Set(ctx, simulationKey, string(data), 0); err != nil {
		return fmt.Errorf("persist simulation: %w", err)
	}
	_ = s.rep.Remove(ctx, suppressionKey)

	s.mu.Lock()
	s.current = &sim
	s.mu.Unlock()
	obs.SetSimulationActive(true)
	return nil
}

// Stop clears the snapshot from every tier, then writes a suppression
// marker to all of them. Even if one tier failed to clear, the marker
// still blocks restoration.
func (s *SimulationStore) Stop(ctx context.Context) error {
	_ = s.rep.Remove(ctx, simulationKey)

	marker := suppressionMarker{EndedAtEpochMillis: s.now().UnixMilli()}
	data, err := json.Marshal(marker)
	if err != nil {
		return err
	}
	if err := s.rep.Set(ctx, suppressionKey, string(data), suppressionWindow); err != nil {
		return fmt.Errorf("persist suppression marker: %w", err)
	}

	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()
	obs.SetSimulationActive(false)
	return nil
}

// Active returns the in-memory snapshot, nil when no simulation runs.
func (s *SimulationStore) Active() *SimulatedIdentity {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	sim := *s.current
	return &sim
}

// RestoreIfPresent is checked once at startup. Any tier holding a
// suppression marker fresher than the window vetoes restoration; the
// marker is left to expire naturally to guard against a fast reload
// race. An unreadable snapshot wipes all tiers and restores nothing.
func (s *SimulationStore) RestoreIfPresent(ctx context.Context) *SimulatedIdentity {
	if s.suppressed(ctx) {
		return nil
	}
	raw, err := s.rep.Get(ctx, simulationKey)
	if err != nil {
		return nil
	}
	var sim SimulatedIdentity
	if err := json.Unmarshal([]byte(raw), &sim); err != nil || !sim.complete() {
		// Corrupt state is discarded, not merged.
		_ = s.rep.Remove(ctx, simulationKey)
		return nil
	}

	s.mu.Lock()
	s.current = &sim
	s.mu.Unlock()
	obs.SetSimulationActive(true)
	restored := sim
	return &restored
}

func (s *SimulationStore) suppressed(ctx context.Context) bool {
	now := s.now().UnixMilli()
	for _, tier := range s.rep.Tiers() {
		raw, err := tier.Get(ctx, suppressionKey)
		if err != nil {
			continue
		}
		var marker suppressionMarker
		if err := json.Unmarshal([]byte(raw), &marker); err != nil {
			_ = tier.Remove(ctx, suppressionKey)
			continue
		}
		if now-marker.EndedAtEpochMillis < suppressionWindow.Milliseconds() {
			return true
		}
	}
	return false
}

// Reconcile compares the in-memory snapshot to tier-1's copy and rewrites
// every tier on divergence, covering the case where another view of the
// app cleared a tier without a corresponding Stop.
func (s *SimulationStore) Reconcile(ctx context.Context) {
	s.mu.Lock()
	current := s.current
	s.mu.Unlock()
	if current == nil {
		return
	}

	want, err := json.Marshal(current)
	if err != nil {
		obs.ObserveReconcile("error")
		return
	}

	primary := s.rep.Tiers()[0]
	raw, err := primary.Get(ctx, simulationKey)
	if err == nil && raw == string(want) {
		obs.ObserveReconcile("clean")
		return
	}
	if err := s.rep.Set(ctx, simulationKey, string(want), 0); err != nil {
		obs.ObserveReconcile("error")
		return
	}
	obs.ObserveReconcile("rewrite")
}

// Run reconciles on the given interval until the context ends.
func (s *SimulationStore) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Reconcile(ctx)
		}
	}
}
