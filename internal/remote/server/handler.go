package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/kilupskalvis/recordfetch/internal/localdb"
	"github.com/kilupskalvis/recordfetch/internal/logging"
	"github.com/kilupskalvis/recordfetch/internal/metrics"
	"github.com/kilupskalvis/recordfetch/internal/models"
	"github.com/kilupskalvis/recordfetch/internal/remote"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ServerConfig holds configurable limits for the server.
type ServerConfig struct {
	Namespace         string // path prefix, without slashes
	Token             string // bearer token for API routes; empty disables auth
	RequestsPerMinute int    // per-client rate limit; zero disables it
}

// DefaultServerConfig returns reasonable defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Namespace:         "api/v1",
		RequestsPerMinute: 600,
	}
}

// Handler creates the HTTP handler with all routes and middleware.
// The returned cleanup function stops background goroutines and should be
// called on server shutdown.
func Handler(db *localdb.DB, registry *models.Registry, cfg *ServerConfig, logger *slog.Logger) (http.Handler, func()) {
	if cfg == nil {
		cfg = DefaultServerConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	rl := newRateLimiter(cfg.RequestsPerMinute)
	api := func(h http.HandlerFunc) http.Handler {
		return applyMiddleware(h, authMiddleware(cfg.Token), rl.middleware, gzipMiddleware)
	}

	h := &handlers{db: db, registry: registry}
	prefix := "/"
	if cfg.Namespace != "" {
		prefix = "/" + cfg.Namespace + "/"
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealthz)
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if _, err := db.Revision(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("not ready: database unavailable"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	mux.Handle("GET "+prefix+"{plural}", api(h.list))
	mux.Handle("GET "+prefix+"{plural}/{id}", api(h.get))
	mux.Handle("GET "+prefix+"{plural}/{id}/{relationship}", api(h.related))

	handler := applyMiddleware(mux,
		requestIDMiddleware(logger),
		loggingMiddleware,
		recoveryMiddleware,
	)

	return handler, rl.Stop
}

// applyMiddleware applies middleware in reverse order so the first in the list runs first.
func applyMiddleware(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

type handlers struct {
	db       *localdb.DB
	registry *models.Registry
}

// typeClass resolves the {plural} path segment, writing 404 when unknown.
func (h *handlers) typeClass(w http.ResponseWriter, r *http.Request) *models.TypeClass {
	key := r.PathValue("plural")
	for _, name := range h.registry.Names() {
		tc := h.registry.ForName(name)
		if key == tc.PluralName() || key == tc.Name {
			return tc
		}
	}
	writeError(w, http.StatusNotFound, "not_found", fmt.Sprintf("unknown resource type '%s'", key))
	return nil
}

// get serves GET /<plural>/<id> as {"<type>": {...}}.
func (h *handlers) get(w http.ResponseWriter, r *http.Request) {
	tc := h.typeClass(w, r)
	if tc == nil {
		return
	}
	id := r.PathValue("id")

	doc, err := h.db.Get(r.Context(), tc.Name, id)
	if errors.Is(err, localdb.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", fmt.Sprintf("%s '%s' not found", tc.Name, id))
		return
	}
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{tc.Name: doc})
}

// list serves GET /<plural>. "ids[]" selects by id; "since" returns changes
// after a revision with the current one in meta.since; other parameters
// filter by field.
func (h *handlers) list(w http.ResponseWriter, r *http.Request) {
	tc := h.typeClass(w, r)
	if tc == nil {
		return
	}
	values := r.URL.Query()
	ctx := r.Context()

	var docs []map[string]interface{}
	var meta map[string]interface{}
	var err error

	switch {
	case values.Has(remote.ParamIDs):
		docs, err = h.db.GetMany(ctx, tc.Name, values[remote.ParamIDs])
	case len(values) == 0 || (len(values) == 1 && values.Has(remote.ParamSince)):
		var since, rev int64
		if s := values.Get(remote.ParamSince); s != "" {
			since, err = strconv.ParseInt(s, 10, 64)
			if err != nil {
				writeError(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("invalid since token %q", s))
				return
			}
		}
		docs, rev, err = h.db.List(ctx, tc.Name, since)
		meta = map[string]interface{}{"since": strconv.FormatInt(rev, 10)}
	default:
		docs, err = h.db.Query(ctx, tc.Name, remote.DecodeQuery(values))
	}
	if err != nil {
		h.internalError(w, r, err)
		return
	}

	body := map[string]interface{}{tc.PluralName(): nonNil(docs)}
	if meta != nil {
		body["meta"] = meta
	}
	writeJSON(w, http.StatusOK, body)
}

// related serves GET /<plural>/<id>/<relationship>. A has-many answers with
// the referenced ids, or with every target whose inverse belongs-to points
// at the owner. A belongs-to answers with the single target or null.
func (h *handlers) related(w http.ResponseWriter, r *http.Request) {
	tc := h.typeClass(w, r)
	if tc == nil {
		return
	}
	id := r.PathValue("id")
	name := r.PathValue("relationship")
	rel := tc.Relationship(name)
	if rel == nil {
		writeError(w, http.StatusNotFound, "not_found", fmt.Sprintf("%s has no relationship '%s'", tc.Name, name))
		return
	}
	target := rel.TargetType()
	ctx := r.Context()

	owner, err := h.db.Get(ctx, tc.Name, id)
	if errors.Is(err, localdb.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", fmt.Sprintf("%s '%s' not found", tc.Name, id))
		return
	}
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	ids := models.RelatedIDs(owner[name])

	if rel.Kind == models.BelongsTo {
		var doc interface{}
		if len(ids) > 0 {
			docs, err := h.db.GetMany(ctx, target.Name, ids[:1])
			if err != nil {
				h.internalError(w, r, err)
				return
			}
			if len(docs) > 0 {
				doc = docs[0]
			}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{target.Name: doc})
		return
	}

	var docs []map[string]interface{}
	if len(ids) > 0 {
		docs, err = h.db.GetMany(ctx, target.Name, ids)
	} else if inverse := h.inverseOf(tc, target); inverse != "" {
		docs, err = h.db.Query(ctx, target.Name, map[string]interface{}{inverse: id})
	}
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{target.PluralName(): nonNil(docs)})
}

// inverseOf returns the belongs-to on target that points back at owner.
func (h *handlers) inverseOf(owner, target *models.TypeClass) string {
	if target == nil {
		return ""
	}
	for _, rel := range target.Relationships {
		if rel.Kind == models.BelongsTo && rel.Type == owner.Name {
			return rel.Name
		}
	}
	return ""
}

func (h *handlers) internalError(w http.ResponseWriter, r *http.Request, err error) {
	logging.FromContext(r.Context()).Error("request failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// --- Helpers ---

func nonNil(docs []map[string]interface{}) []map[string]interface{} {
	if docs == nil {
		return []map[string]interface{}{}
	}
	return docs
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, remote.ErrorResponse{Error: code, Message: message})
}
