package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"zoho-order-sync/internal/catalog"
	"zoho-order-sync/internal/config"
	"zoho-order-sync/internal/models"
	"zoho-order-sync/internal/ratelimit"
	"zoho-order-sync/internal/store"
	"zoho-order-sync/internal/telemetry"
	"zoho-order-sync/internal/worker"
	"zoho-order-sync/internal/zoho"
)

// Dispatcher accepts sync triggers.
type Dispatcher interface {
	OrderPlaced(ctx context.Context, orderID int64, mode worker.Mode) error
	ScheduleProcessQueue(ctx context.Context) error
	ScheduleCatalogRebuild(ctx context.Context) error
}

// QueueReader exposes the sync queue for inspection.
type QueueReader interface {
	Get(ctx context.Context, orderID int64) (models.QueueEntry, error)
	List(ctx context.Context, f store.ListFilter) ([]models.QueueEntry, error)
}

// CatalogReader exposes the catalog cache for inspection.
type CatalogReader interface {
	Status(ctx context.Context) (catalog.Status, error)
	LookupTax(ctx context.Context, percentage decimal.Decimal, name string) (zoho.Tax, bool, error)
}

// Limiter consumes one token per request for a key.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, float64, error)
}

// Server wires HTTP handlers for the sync triggers and inspection endpoints.
type Server struct {
	site     string
	maxTries int
	dispatch Dispatcher
	queue    QueueReader
	catalog  CatalogReader
	limiter  Limiter
	log      *zap.Logger
}

// New constructs the API server. limiter may be nil.
func New(cfg config.Config, d Dispatcher, q QueueReader, c CatalogReader, limiter Limiter, log *zap.Logger) *Server {
	return &Server{
		site:     cfg.Sync.SiteID,
		maxTries: cfg.Sync.MaxTries,
		dispatch: d,
		queue:    q,
		catalog:  c,
		limiter:  limiter,
		log:      log.Named("api"),
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Mount("/metrics", telemetry.Handler())

	r.Get("/orders/{id}/sync", s.handleGetEntry)
	r.Get("/queue", s.handleListQueue)
	r.Get("/catalog/status", s.handleCatalogStatus)
	r.Get("/catalog/taxes/lookup", s.handleTaxLookup)

	r.Group(func(r chi.Router) {
		r.Use(s.rateLimit)
		r.Post("/orders/{id}/sync", s.handleSyncOrder)
		r.Post("/orders/sync", s.handleBulkSync)
		r.Post("/queue/process", s.handleProcessQueue)
		r.Post("/catalog/rebuild", s.handleRebuildCatalog)
	})
	return r
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		allowed, _, err := s.limiter.Allow(r.Context(), ratelimit.Key(s.siteFromRequest(r)))
		if err != nil {
			s.log.Warn("rate limiter unavailable", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "rate limit error")
			return
		}
		if !allowed {
			telemetry.RateLimitRejects.Inc()
			writeError(w, http.StatusTooManyRequests, "rate limited")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleSyncOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	mode, err := worker.ParseMode(r.URL.Query().Get("mode"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.dispatch.OrderPlaced(r.Context(), id, mode); err != nil {
		s.log.Error("order placed failed", zap.Int64("order_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not enqueue order")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"order_id": id, "mode": mode})
}

type bulkRequest struct {
	OrderIDs []int64 `json:"order_ids"`
}

type bulkResponse struct {
	Accepted []int64          `json:"accepted"`
	Failed   map[int64]string `json:"failed,omitempty"`
}

// handleBulkSync pushes a selection of orders right away.
func (s *Server) handleBulkSync(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if len(req.OrderIDs) == 0 {
		writeError(w, http.StatusBadRequest, "order_ids is required")
		return
	}

	resp := bulkResponse{Accepted: []int64{}}
	for _, id := range req.OrderIDs {
		if err := s.dispatch.OrderPlaced(r.Context(), id, worker.ModeImmediate); err != nil {
			if resp.Failed == nil {
				resp.Failed = make(map[int64]string)
			}
			resp.Failed[id] = err.Error()
			continue
		}
		resp.Accepted = append(resp.Accepted, id)
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (s *Server) handleGetEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	entry, err := s.queue.Get(r.Context(), id)
	if errors.Is(err, store.ErrEntryNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, entryView{QueueEntry: entry, Exhausted: entry.Exhausted(s.maxTries)})
}

type entryView struct {
	models.QueueEntry
	Exhausted bool `json:"exhausted"`
}

func (s *Server) handleListQueue(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.ListFilter{Status: models.SyncStatus(q.Get("status"))}
	if f.Status != "" && !f.Status.Valid() {
		writeError(w, http.StatusBadRequest, "unknown status")
		return
	}
	if q.Get("exhausted") == "true" {
		f.ExhaustedAbove = s.maxTries
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		f.Limit = n
	}

	entries, err := s.queue.List(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]entryView, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryView{QueueEntry: e, Exhausted: e.Exhausted(s.maxTries)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

func (s *Server) handleProcessQueue(w http.ResponseWriter, r *http.Request) {
	if err := s.dispatch.ScheduleProcessQueue(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "could not schedule queue run")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
}

func (s *Server) handleRebuildCatalog(w http.ResponseWriter, r *http.Request) {
	if err := s.dispatch.ScheduleCatalogRebuild(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "could not schedule rebuild")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
}

func (s *Server) handleCatalogStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.catalog.Status(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleTaxLookup(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	name := q.Get("name")
	pct := decimal.Zero
	if v := q.Get("percentage"); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid percentage")
			return
		}
		pct = d
	}
	if name == "" && pct.IsZero() {
		writeError(w, http.StatusBadRequest, "name or percentage is required")
		return
	}

	tax, found, err := s.catalog.LookupTax(r.Context(), pct, name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "tax not found")
		return
	}
	writeJSON(w, http.StatusOK, tax)
}

func (s *Server) siteFromRequest(r *http.Request) string {
	if v := r.Header.Get("X-Site-ID"); v != "" {
		return v
	}
	return s.site
}

func orderID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return 0, false
	}
	return id, true
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
