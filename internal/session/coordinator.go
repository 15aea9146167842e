package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"opsdesk.org/internal/idp"
	"opsdesk.org/internal/roles"
)

const (
	// reconcileInterval re-asserts an active simulation across tiers.
	reconcileInterval = 3 * time.Second
	// bridgeWindow lets a token slightly past expiry seed a provisional
	// identity while the live-session check would run. Older tokens are
	// treated as absent.
	bridgeWindow = 15 * time.Minute
)

// AuthState is the one observable the rest of the application reads.
// Role, Position and Permissions are not meaningful until Initialized is
// true; Loading true means privilege-gated UI must not render yet. While
// Simulation is non-nil it overrides role and permissions but never the
// identity of the underlying real session.
type AuthState struct {
	Identity     *Identity           `json:"identity"`
	Role         roles.Role          `json:"role"`
	Position     string              `json:"position,omitempty"`
	Permissions  roles.PermissionSet `json:"permissions"`
	Loading      bool                `json:"loading"`
	Initialized  bool                `json:"initialized"`
	RoleResolved bool                `json:"role_resolved"`
	Simulation   *SimulatedIdentity  `json:"simulation,omitempty"`
}

// realState is the identity bookkeeping kept underneath a simulation so
// that stopping it reveals correct real state without a network round
// trip.
type realState struct {
	identity     *Identity
	role         roles.Role
	position     string
	permissions  roles.PermissionSet
	roleResolved bool
}

// Config wires the coordinator's collaborators.
type Config struct {
	Tokens      *TokenStore
	Gateway     idp.Gateway
	Resolver    *roles.Resolver
	Simulations *SimulationStore
}

// Coordinator is the orchestrating state machine and the single writer of
// AuthState. All other components read snapshots or request mutations
// through its public operations.
type Coordinator struct {
	tokens    *TokenStore
	gw        idp.Gateway
	resolver  *roles.Resolver
	sims      *SimulationStore
	now       func() time.Time
	refresher *Refresher

	runCtx    context.Context
	cancelRun context.CancelFunc

	mu              sync.Mutex
	state           AuthState
	real            realState
	resolveSeq      uint64
	cancelRefresh   context.CancelFunc
	cancelReconcile context.CancelFunc

	subsMu sync.Mutex
	subs   map[int]chan AuthState
	next   int
}

// NewCoordinator builds an uninitialized coordinator; call Init to run the
// startup sequence.
func NewCoordinator(cfg Config) *Coordinator {
	runCtx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		tokens:    cfg.Tokens,
		gw:        cfg.Gateway,
		resolver:  cfg.Resolver,
		sims:      cfg.Simulations,
		now:       time.Now,
		refresher: NewRefresher(cfg.Tokens, cfg.Gateway),
		runCtx:    runCtx,
		cancelRun: cancel,
		state:     AuthState{Role: roles.RoleCustomer, Loading: true},
		real:      realState{role: roles.RoleCustomer},
		subs:      make(map[int]chan AuthState),
	}
}

// Init runs the startup resolution: simulation short-circuit first, then
// stored-token reconstruction, then a live provider query, then the
// signed-out fallback. It always leaves the state initialized with
// loading false; total failure of every dependency degrades to a
// signed-out customer, never a stuck loading state.
func (c *Coordinator) Init(ctx context.Context) error {
	// The simulation check is applied before any session-resolution work
	// is scheduled. An active, non-suppressed snapshot is a hard
	// short-circuit, not a merge.
	if sim := c.sims.RestoreIfPresent(ctx); sim != nil {
		c.mu.Lock()
		c.applySimulationLocked(sim)
		c.state.Initialized = true
		c.state.Loading = false
		c.startReconcileLocked()
		c.mu.Unlock()
		c.publish()
		go c.consumeEvents()
		return nil
	}

	if c.restoreRealFromToken(ctx) {
		go c.consumeEvents()
		return nil
	}

	session, err := c.gw.GetSession(ctx)
	if err == nil && session != nil {
		if session.Token.Valid() {
			_ = c.tokens.Save(ctx, session.Token)
		}
		c.bootstrapIdentity(identityFromSession(session))
		go c.consumeEvents()
		return nil
	}

	// No session anywhere: settle as a signed-out customer.
	c.mu.Lock()
	c.real = realState{role: roles.RoleCustomer, roleResolved: true}
	c.applyRealLocked()
	c.state.Initialized = true
	c.state.Loading = false
	c.mu.Unlock()
	c.publish()
	go c.consumeEvents()
	return nil
}

// restoreRealFromToken rebuilds the real session from the stored token
// without a network round trip. A token already past expiry but inside
// the bridge window still seeds the identity, backed by one immediate
// refresh attempt whose failure treats the session as absent. A token
// expired beyond the window or undecodable is cleared; the caller
// decides what comes next.
func (c *Coordinator) restoreRealFromToken(ctx context.Context) bool {
	token, err := c.tokens.Load(ctx)
	if err != nil {
		return false
	}
	expiry := time.Unix(token.ExpiresAt, 0)
	if !c.now().Before(expiry.Add(bridgeWindow)) {
		_ = c.tokens.Clear(ctx)
		return false
	}
	identity, err := DecodeIdentity(token.AccessToken)
	if err != nil {
		_ = c.tokens.Clear(ctx)
		return false
	}
	c.bootstrapIdentity(identity)
	if !c.now().Before(expiry) {
		go c.bridgeRefresh()
	}
	return true
}

// bridgeRefresh backs an identity seeded from an expired token with one
// immediate refresh attempt. On failure the session is treated as
// absent: the stale token is cleared and the state folds to a signed-out
// customer.
func (c *Coordinator) bridgeRefresh() {
	if err := c.refresher.Tick(c.runCtx); err == nil {
		return
	}
	_ = c.tokens.Clear(c.runCtx)
	c.mu.Lock()
	c.real = realState{role: roles.RoleCustomer, roleResolved: true}
	if c.state.Simulation == nil {
		c.applyRealLocked()
	}
	c.resolveSeq++ // supersede the provisional resolution
	c.stopRefreshLocked()
	c.mu.Unlock()
	c.publish()
}

// bootstrapIdentity makes the identity visible immediately and resolves
// the role asynchronously. Permissions stay empty until the resolver
// answers, so the provisional identity never gates privileged actions.
func (c *Coordinator) bootstrapIdentity(identity Identity) {
	c.mu.Lock()
	c.real = realState{identity: &identity, role: roles.RoleCustomer}
	c.applyRealLocked()
	c.state.Initialized = true
	c.state.Loading = false
	c.startRefreshLocked()
	c.mu.Unlock()
	c.publish()
	c.triggerResolve(identity.Email)
}

// triggerResolve schedules one role resolution; a later trigger
// supersedes the completion of an earlier one.
func (c *Coordinator) triggerResolve(email string) {
	c.mu.Lock()
	c.resolveSeq++
	seq := c.resolveSeq
	c.mu.Unlock()

	go func() {
		res := c.resolver.Resolve(c.runCtx, email)
		c.mu.Lock()
		if seq != c.resolveSeq || c.real.identity == nil || c.real.identity.Email != email {
			c.mu.Unlock()
			return
		}
		c.real.role = res.Role
		c.real.position = res.Position
		c.real.permissions = res.Permissions
		c.real.roleResolved = true
		if res.DisplayName != "" && c.real.identity.DisplayName == "" {
			refined := *c.real.identity
			refined.DisplayName = res.DisplayName
			c.real.identity = &refined
		}
		if c.state.Simulation == nil {
			c.applyRealLocked()
		} else {
			// Simulation overlay stays observable; only bookkeeping moved.
			c.state.Identity = c.real.identity
		}
		c.mu.Unlock()
		c.publish()
	}()
}

// consumeEvents mirrors provider auth events for the lifetime of the
// process.
func (c *Coordinator) consumeEvents() {
	events := c.gw.SubscribeAuthEvents(c.runCtx)
	for evt := range events {
		c.applyEvent(evt)
	}
}

func (c *Coordinator) applyEvent(evt idp.Event) {
	switch evt.Kind {
	case idp.EventSignedIn, idp.EventInitialSession:
		if evt.Session == nil {
			return
		}
		if evt.Session.Token.Valid() {
			_ = c.tokens.Save(c.runCtx, evt.Session.Token)
		}
		identity := identityFromSession(evt.Session)
		c.mu.Lock()
		c.real.identity = &identity
		c.real.roleResolved = false
		simulated := c.state.Simulation != nil
		if !simulated {
			c.applyRealLocked()
			c.startRefreshLocked()
		} else {
			c.state.Identity = c.real.identity
		}
		c.mu.Unlock()
		c.publish()
		c.triggerResolve(identity.Email)

	case idp.EventTokenRefreshed:
		if evt.Session == nil {
			return
		}
		if evt.Session.Token.Valid() {
			_ = c.tokens.Save(c.runCtx, evt.Session.Token)
		}
		identity := identityFromSession(evt.Session)
		c.mu.Lock()
		// Identity bookkeeping continues underneath; the externally
		// observable role and permissions are never touched here.
		if c.real.identity != nil && c.real.identity.DisplayName != "" && identity.DisplayName == "" {
			identity.DisplayName = c.real.identity.DisplayName
		}
		c.real.identity = &identity
		c.state.Identity = c.real.identity
		c.mu.Unlock()
		c.publish()

	case idp.EventSignedOut:
		c.mu.Lock()
		_ = c.tokens.Clear(c.runCtx)
		c.real = realState{role: roles.RoleCustomer, roleResolved: true}
		simulated := c.state.Simulation != nil
		if !simulated {
			c.applyRealLocked()
			c.stopRefreshLocked()
		}
		c.mu.Unlock()
		c.publish()
	}
}

// SignOut stops any active simulation, terminates the provider session
// best-effort, and clears identity, role, permissions and the token store
// atomically.
func (c *Coordinator) SignOut(ctx context.Context) error {
	var errs []error
	if c.sims.Active() != nil {
		if err := c.sims.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.gw.SignOut(ctx); err != nil {
		errs = append(errs, err)
	}

	c.mu.Lock()
	if err := c.tokens.Clear(ctx); err != nil {
		errs = append(errs, err)
	}
	c.real = realState{role: roles.RoleCustomer, roleResolved: true}
	c.state.Simulation = nil
	c.applyRealLocked()
	c.state.Initialized = true
	c.state.Loading = false
	c.resolveSeq++ // supersede any in-flight resolution
	c.stopRefreshLocked()
	c.stopReconcileLocked()
	c.mu.Unlock()
	c.publish()
	return errors.Join(errs...)
}

// StartSimulation activates the role override. Callers are responsible
// for their own authorization check before invoking. The refresh loop is
// torn down and reconciliation takes its place; the two never run
// together.
func (c *Coordinator) StartSimulation(ctx context.Context, sim SimulatedIdentity) error {
	if err := c.sims.Start(ctx, sim); err != nil {
		return err
	}
	active := c.sims.Active()

	c.mu.Lock()
	c.applySimulationLocked(active)
	c.state.Initialized = true
	c.state.Loading = false
	c.stopRefreshLocked()
	c.startReconcileLocked()
	c.mu.Unlock()
	c.publish()
	return nil
}

// StopSimulation clears the override and reveals the real state kept
// underneath, without a fresh network round trip. When the simulation
// was restored at startup, session resolution was suppressed until now;
// the real session is then rebuilt locally from the stored token.
func (c *Coordinator) StopSimulation(ctx context.Context) error {
	if c.sims.Active() == nil {
		return ErrSimulationInactive
	}
	if err := c.sims.Stop(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	c.state.Simulation = nil
	c.stopReconcileLocked()
	hasRealSession := c.real.identity != nil
	needsResolve := hasRealSession && !c.real.roleResolved
	var email string
	if needsResolve {
		email = c.real.identity.Email
	}
	if hasRealSession {
		c.applyRealLocked()
		c.startRefreshLocked()
	}
	c.mu.Unlock()

	if hasRealSession {
		c.publish()
		if needsResolve {
			c.triggerResolve(email)
		}
		return nil
	}

	if c.restoreRealFromToken(ctx) {
		return nil
	}

	// No usable token either: settle as a signed-out customer.
	c.mu.Lock()
	c.real = realState{role: roles.RoleCustomer, roleResolved: true}
	c.applyRealLocked()
	c.mu.Unlock()
	c.publish()
	return nil
}

// State returns a snapshot of the observable auth state.
func (c *Coordinator) State() AuthState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// HasPermission reports a named permission of the current effective
// permission set.
func (c *Coordinator) HasPermission(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Permissions.Has(name)
}

// Subscribe registers a state observer. The channel receives a snapshot
// after every transition and is closed when the context ends.
func (c *Coordinator) Subscribe(ctx context.Context) <-chan AuthState {
	ch := make(chan AuthState, 16)

	c.subsMu.Lock()
	id := c.next
	c.next++
	c.subs[id] = ch
	c.subsMu.Unlock()

	go func() {
		<-ctx.Done()
		c.subsMu.Lock()
		delete(c.subs, id)
		close(ch)
		c.subsMu.Unlock()
	}()

	return ch
}

// Close tears down background loops and the event subscription.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.stopRefreshLocked()
	c.stopReconcileLocked()
	c.mu.Unlock()
	c.cancelRun()
}

// --- internals ---

func (c *Coordinator) publish() {
	c.mu.Lock()
	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- snapshot:
		default:
			// Drop when a subscriber is slow to avoid blocking.
		}
	}
}

func (c *Coordinator) snapshotLocked() AuthState {
	snapshot := c.state
	if c.state.Identity != nil {
		identity := *c.state.Identity
		snapshot.Identity = &identity
	}
	if c.state.Simulation != nil {
		sim := *c.state.Simulation
		snapshot.Simulation = &sim
	}
	return snapshot
}

// applyRealLocked projects the real bookkeeping into the observable
// state. Callers hold c.mu.
func (c *Coordinator) applyRealLocked() {
	c.state.Identity = c.real.identity
	c.state.Role = c.real.role
	c.state.Position = c.real.position
	c.state.Permissions = c.real.permissions
	c.state.RoleResolved = c.real.roleResolved
}

func (c *Coordinator) applySimulationLocked(sim *SimulatedIdentity) {
	c.state.Simulation = sim
	c.state.Role = sim.Role
	c.state.Position = sim.Position
	c.state.Permissions = roles.PermissionsFor(sim.Role)
	c.state.RoleResolved = true
	c.state.Identity = c.real.identity
}

func (c *Coordinator) startRefreshLocked() {
	if c.cancelRefresh != nil {
		return
	}
	ctx, cancel := context.WithCancel(c.runCtx)
	c.cancelRefresh = cancel
	go c.refresher.Run(ctx, refreshInterval)
}

func (c *Coordinator) stopRefreshLocked() {
	if c.cancelRefresh != nil {
		c.cancelRefresh()
		c.cancelRefresh = nil
	}
}

func (c *Coordinator) startReconcileLocked() {
	if c.cancelReconcile != nil {
		return
	}
	ctx, cancel := context.WithCancel(c.runCtx)
	c.cancelReconcile = cancel
	go c.sims.Run(ctx, reconcileInterval)
}

func (c *Coordinator) stopReconcileLocked() {
	if c.cancelReconcile != nil {
		c.cancelReconcile()
		c.cancelReconcile = nil
	}
}

func identityFromSession(session *idp.Session) Identity {
	return Identity{
		ID:          session.UserID,
		Email:       session.Email,
		DisplayName: session.DisplayName,
		AvatarURL:   session.AvatarURL,
		CreatedAt:   session.CreatedAt,
	}
}
