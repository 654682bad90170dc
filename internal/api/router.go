// Package api exposes autofill decisions, page evidence, and audit intake
// over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/evidence-cli/internal/autofill"
	"github.com/sells-group/evidence-cli/internal/model"
)

// EvidenceService is the query and audit surface the handlers use.
// *evidence.Service satisfies it.
type EvidenceService interface {
	ForField(ctx context.Context, fieldID string, recordType model.RecordType) []model.EvidenceRef
	ForDocumentPage(ctx context.Context, documentID string, page int) []model.EvidenceRef
	LogView(ctx context.Context, fieldID string, recordType model.RecordType, evidenceRefID, documentID string, page int, tierUsed string)
	RecordAutofillDecision(ctx context.Context, templateID, fieldID, predicateID string, decision model.DecisionOutcome, confidence float64)
}

// Options configures the router's middleware.
type Options struct {
	AllowedOrigins []string
	// RateLimit is requests per second across all clients; 0 disables it.
	RateLimit float64
	RateBurst int
}

// Handler serves the API.
type Handler struct {
	evidence EvidenceService
	engine   *autofill.Engine
	fields   *model.FieldRegistry
}

// NewHandler creates a Handler. fields may be nil, in which case every field
// is treated as unregistered.
func NewHandler(svc EvidenceService, engine *autofill.Engine, fields *model.FieldRegistry) *Handler {
	return &Handler{evidence: svc, engine: engine, fields: fields}
}

// Router builds the chi router with middleware and routes.
func (h *Handler) Router(opts Options) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst <= 0 {
			burst = int(opts.RateLimit) + 1
		}
		r.Use(rateLimit(rate.NewLimiter(rate.Limit(opts.RateLimit), burst)))
	}

	r.Get("/health", h.health)
	r.Get("/fields/{recordType}/{fieldID}/decision", h.fieldDecision)
	r.Get("/documents/{documentID}/pages/{page}/evidence", h.pageEvidence)
	r.Post("/views", h.logView)
	r.Post("/autofill-decisions", h.recordDecision)
	return r
}

func rateLimit(l *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.Allow() {
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
