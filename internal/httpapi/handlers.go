// Package httpapi is the admin HTTP surface: health, readiness, service
// info, metrics, audit trail queries and capability health. Operations on
// behalf of a child always go through the coordinator so they run inside
// a scope.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"kidsgate.org/internal/audit"
	"kidsgate.org/internal/coordinator"
	"kidsgate.org/internal/obs"
)

const serviceName = "kidsgate-api"

// ReadyProbe pings the database when one is configured.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

type readinessChecker interface {
	Check(ctx context.Context) error
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string
	log        *audit.Log
	coord      *coordinator.Coordinator
}

// New wires the admin routes.
func New(rp ReadyProbe, version string, log *audit.Log, coord *coordinator.Coordinator) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		log:        log,
		coord:      coord,
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.HandleFunc("/v1/audit", a.AuditTrail)
	a.mux.HandleFunc("/v1/health/capabilities", a.CapabilityHealth)

	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the full middleware chain around the mux.
func (a *API) Handler() http.Handler {
	h := http.Handler(a.mux)
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, 20, 10)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	profiles := 0
	if a.coord != nil {
		profiles = len(a.coord.Roster())
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"name":     serviceName,
		"time":     time.Now().UTC().Format(time.RFC3339),
		"version":  a.version,
		"profiles": profiles,
	})
}

// AuditTrail returns the entries for one profile display name inside an
// optional [from, to] window. Defaults to the last 24 hours.
func (a *API) AuditTrail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if a.log == nil {
		writeError(w, r, http.StatusServiceUnavailable, "audit log unavailable")
		return
	}
	profileName := r.URL.Query().Get("profile")
	if profileName == "" {
		writeError(w, r, http.StatusBadRequest, "profile query parameter is required")
		return
	}

	to := time.Now().UTC()
	from := to.Add(-24 * time.Hour)
	var err error
	if raw := r.URL.Query().Get("from"); raw != "" {
		if from, err = time.Parse(time.RFC3339, raw); err != nil {
			writeError(w, r, http.StatusBadRequest, "from must be RFC3339")
			return
		}
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		if to, err = time.Parse(time.RFC3339, raw); err != nil {
			writeError(w, r, http.StatusBadRequest, "to must be RFC3339")
			return
		}
	}

	entries := a.log.Trail(profileName, from, to)
	if entries == nil {
		entries = []audit.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"profile": profileName,
		"from":    from.Format(time.RFC3339),
		"to":      to.Format(time.RFC3339),
		"entries": entries,
	})
}

// CapabilityHealth resolves every registered capability in a probe scope
// and reports per-capability status.
func (a *API) CapabilityHealth(w http.ResponseWriter, r *http.Request) {
	if a.coord == nil {
		writeError(w, r, http.StatusServiceUnavailable, "coordinator unavailable")
		return
	}
	health, err := a.coord.HealthCheck(r.Context(), nil)
	if err != nil {
		writeError(w, r, http.StatusServiceUnavailable, err.Error())
		return
	}
	status := http.StatusOK
	if len(coordinator.Unhealthy(health)) > 0 {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"capabilities": health,
		"unhealthy":    coordinator.Unhealthy(health),
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeJSON(w, code, map[string]any{
		"error":      msg,
		"request_id": RequestIDFromContext(r.Context()),
	})
}
