package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"

	"opsdesk.org/internal/audit"
	"opsdesk.org/internal/obs"
	"opsdesk.org/internal/roles"
	"opsdesk.org/internal/session"
)

// ReadyProbe checks readiness (for example, pinging the durable tier).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the administrative HTTP surface over the session core.
type API struct {
	mux        *http.ServeMux
	coord      *session.Coordinator
	readyProbe ReadyProbe
	version    string
}

func New(coord *session.Coordinator, rp ReadyProbe, version string) *API {
	a := &API{
		mux:        http.NewServeMux(),
		coord:      coord,
		readyProbe: rp,
		version:    version,
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/state", a.State)
	a.mux.HandleFunc("/v1/simulation", a.Simulation)
	a.mux.HandleFunc("/v1/signout", a.SignOut)

	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	return obs.Instrument(Logging(SecurityHeaders(RateLimit(a.mux, 20, 10))))
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "opsdesk-sessiond",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

// State exposes the current auth state read-only. Consumers must not act
// on role or permission fields while initialized is false.
func (a *API) State(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, a.coord.State())
}

// Simulation starts (POST) or stops (DELETE) a role simulation. The
// effective permission set must include canImpersonate.
func (a *API) Simulation(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.startSimulation(w, r)
	case http.MethodDelete:
		a.stopSimulation(w, r)
	default:
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

type simulationRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Position    string `json:"position"`
	Role        string `json:"role"`
}

func (a *API) startSimulation(w http.ResponseWriter, r *http.Request) {
	if !a.coord.HasPermission("canImpersonate") {
		respondError(w, http.StatusForbidden, "impersonation not permitted")
		return
	}
	var req simulationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	role := roles.Role(req.Role)
	if !role.Valid() {
		respondError(w, http.StatusBadRequest, "unknown role")
		return
	}
	sim := session.SimulatedIdentity{
		Email:       req.Email,
		DisplayName: req.DisplayName,
		Position:    req.Position,
		Role:        role,
	}
	ctx := a.actorContext(r)
	if err := a.coord.StartSimulation(ctx, sim); err != nil {
		if errors.Is(err, session.ErrInvalidSnapshot) {
			respondError(w, http.StatusBadRequest, "incomplete simulation identity")
			return
		}
		respondError(w, http.StatusInternalServerError, "simulation start failed")
		return
	}
	_ = audit.LogEvent(ctx, "simulation.start", map[string]any{
		"email": req.Email,
		"role":  req.Role,
	})
	writeJSON(w, http.StatusOK, a.coord.State())
}

func (a *API) stopSimulation(w http.ResponseWriter, r *http.Request) {
	ctx := a.actorContext(r)
	if err := a.coord.StopSimulation(ctx); err != nil {
		if errors.Is(err, session.ErrSimulationInactive) {
			respondError(w, http.StatusConflict, "no active simulation")
			return
		}
		respondError(w, http.StatusInternalServerError, "simulation stop failed")
		return
	}
	_ = audit.LogEvent(ctx, "simulation.stop", nil)
	writeJSON(w, http.StatusOK, a.coord.State())
}

// SignOut terminates the session; any active simulation stops with it.
func (a *API) SignOut(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	ctx := a.actorContext(r)
	if err := a.coord.SignOut(ctx); err != nil {
		_ = audit.LogEvent(ctx, "session.signout_degraded", map[string]any{"error": err.Error()})
	} else {
		_ = audit.LogEvent(ctx, "session.signout", nil)
	}
	writeJSON(w, http.StatusOK, a.coord.State())
}

func (a *API) actorContext(r *http.Request) context.Context {
	ctx := r.Context()
	if state := a.coord.State(); state.Identity != nil {
		ctx = session.ContextWithActor(ctx, state.Identity.Email)
	}
	return ctx
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}
