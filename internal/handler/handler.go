package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/alex-user-go/fares/internal/manager"
	"github.com/alex-user-go/fares/internal/middleware"
	"github.com/alex-user-go/fares/internal/obs"
	"github.com/alex-user-go/fares/internal/search"
	"github.com/alex-user-go/fares/internal/search/cache"
	"github.com/alex-user-go/fares/internal/search/ratelimit"
	"github.com/alex-user-go/fares/internal/search/types"
)

const dateLayout = "2006-01-02"

// Searcher runs a fare search across managers.
type Searcher interface {
	Search(ctx context.Context, q types.Query) (*types.Result, error)
}

// Handler handles HTTP requests.
type Handler struct {
	searcher    Searcher
	registry    *manager.Registry
	cache       *cache.Cache[*types.Result]
	rateLimiter *ratelimit.Limiter
	metrics     *obs.Metrics
	logger      *slog.Logger
}

// New creates a new Handler.
func New(
	searcher Searcher,
	registry *manager.Registry,
	searchCache *cache.Cache[*types.Result],
	rateLimiter *ratelimit.Limiter,
	metrics *obs.Metrics,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		searcher:    searcher,
		registry:    registry,
		cache:       searchCache,
		rateLimiter: rateLimiter,
		metrics:     metrics,
		logger:      logger,
	}
}

// Register mounts the API routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Get("/search", h.SearchHandler)
	r.Get("/managers", h.ListManagers)
	r.Get("/managers/{id}", h.GetManager)
}

// SearchResponse represents the complete API response.
type SearchResponse struct {
	Search   types.Query   `json:"search"`
	Stats    SearchStats   `json:"stats"`
	Managers []ManagerView `json:"managers"`
	Combined InfoView      `json:"combined"`
}

// SearchStats contains search statistics.
type SearchStats struct {
	ManagersTotal     int    `json:"managers_total"`
	ManagersSucceeded int    `json:"managers_succeeded"`
	ManagersGaveUp    int    `json:"managers_gave_up"`
	ManagersFailed    int    `json:"managers_failed"`
	Cache             string `json:"cache"`
	DurationMs        int64  `json:"duration_ms"`
}

// SearchHandler handles /search requests.
func (h *Handler) SearchHandler(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	logger := middleware.Logger(r.Context(), h.logger)

	ip := ExtractIP(r)
	if ok, retryAfter := h.rateLimiter.Allow(ip); !ok {
		h.metrics.IncRateLimited()
		logger.Warn("rate limit exceeded", "ip", ip)
		w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Round(time.Second).Seconds())))
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	q, err := ParseSearchParams(r)
	if err != nil {
		logger.Debug("invalid request parameters", "error", err, "ip", ip)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.metrics.IncSearches()

	// Searches outlive the client that started them; the session timeout
	// bounds them.
	searchCtx := context.WithoutCancel(r.Context())
	result, cacheHit, err := h.cache.GetOrFetch(r.Context(), q.Key(), func() (*types.Result, error) {
		return h.searcher.Search(searchCtx, q)
	})
	if err != nil {
		logger.Error("search failed",
			"error", err,
			"origin", q.Origin,
			"destination", q.Destination,
			"departure", q.Departure,
			"ip", ip,
		)
		if errors.Is(err, search.ErrNoManagers) {
			writeError(w, http.StatusServiceUnavailable, "no fare providers configured")
			return
		}
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}

	cacheStatus := "miss"
	if cacheHit {
		cacheStatus = "hit"
		h.metrics.IncCacheHits()
	}

	writeJSON(w, http.StatusOK, NewSearchResponse(q, result, cacheStatus, time.Since(startTime)), logger)
}

// NewSearchResponse renders a search result in response form.
func NewSearchResponse(q types.Query, result *types.Result, cacheStatus string, elapsed time.Duration) SearchResponse {
	managers := make([]ManagerView, 0, len(result.Managers))
	for _, m := range result.Managers {
		managers = append(managers, newManagerView(m))
	}

	return SearchResponse{
		Search: q,
		Stats: SearchStats{
			ManagersTotal:     result.ManagersTotal,
			ManagersSucceeded: result.ManagersSucceeded,
			ManagersGaveUp:    result.ManagersGaveUp,
			ManagersFailed:    result.ManagersFailed,
			Cache:             cacheStatus,
			DurationMs:        elapsed.Milliseconds(),
		},
		Managers: managers,
		Combined: newInfoView(result.Combined),
	}
}

// ListManagers handles /managers requests.
func (h *Handler) ListManagers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.registry.List(), middleware.Logger(r.Context(), h.logger))
}

// ManagerConfigView is the public form of a manager configuration.
type ManagerConfigView struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	GapTimeServer string `json:"gap_time_server"`
	MaxWaiting    int    `json:"max_waiting"`
	Order         int    `json:"order"`
	Method        string `json:"method,omitempty"`
	Enabled       bool   `json:"enabled"`
}

// GetManager handles /managers/{id} requests.
func (h *Handler) GetManager(w http.ResponseWriter, r *http.Request) {
	c := h.registry.Get(chi.URLParam(r, "id"))
	if c.IsZero() {
		writeError(w, http.StatusNotFound, "manager not found")
		return
	}

	writeJSON(w, http.StatusOK, ManagerConfigView{
		ID:            c.ID,
		Name:          c.Name,
		GapTimeServer: c.GapTimeServer.String(),
		MaxWaiting:    c.MaxWaiting,
		Order:         c.Order,
		Method:        c.Method,
		Enabled:       c.URL != "",
	}, middleware.Logger(r.Context(), h.logger))
}

// ParseSearchParams parses and validates search parameters from the request.
func ParseSearchParams(r *http.Request) (types.Query, error) {
	return ParseQuery(r.URL.Query())
}

// ParseQuery validates search parameters given as URL values.
func ParseQuery(query url.Values) (types.Query, error) {

	origin, err := airportParam(query.Get("origin"), "origin")
	if err != nil {
		return types.Query{}, err
	}
	destination, err := airportParam(query.Get("destination"), "destination")
	if err != nil {
		return types.Query{}, err
	}
	if origin == destination {
		return types.Query{}, fmt.Errorf("origin and destination must differ")
	}

	// Departure - required, YYYY-MM-DD format
	departure := strings.TrimSpace(query.Get("departure"))
	if departure == "" {
		return types.Query{}, fmt.Errorf("departure is required")
	}
	departureDate, err := time.Parse(dateLayout, departure)
	if err != nil {
		return types.Query{}, fmt.Errorf("departure must be in YYYY-MM-DD format")
	}

	// Return - optional, not before departure
	ret := strings.TrimSpace(query.Get("return"))
	if ret != "" {
		returnDate, err := time.Parse(dateLayout, ret)
		if err != nil {
			return types.Query{}, fmt.Errorf("return must be in YYYY-MM-DD format")
		}
		if returnDate.Before(departureDate) {
			return types.Query{}, fmt.Errorf("return must not be before departure")
		}
	}

	// Adults - optional, positive integer
	adults := 1
	if s := query.Get("adults"); s != "" {
		adults, err = strconv.Atoi(s)
		if err != nil || adults <= 0 {
			return types.Query{}, fmt.Errorf("adults must be a positive integer")
		}
	}

	return types.Query{
		Origin:      origin,
		Destination: destination,
		Departure:   departure,
		Return:      ret,
		Adults:      adults,
	}, nil
}

func airportParam(value, name string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(value))
	if code == "" {
		return "", fmt.Errorf("%s is required", name)
	}
	if len(code) != 3 || strings.IndexFunc(code, func(r rune) bool { return r < 'A' || r > 'Z' }) >= 0 {
		return "", fmt.Errorf("%s must be a 3-letter airport code", name)
	}
	return code, nil
}

// ExtractIP extracts the client IP from the request.
// Checks X-Forwarded-For, X-Real-IP, then falls back to RemoteAddr.
func ExtractIP(r *http.Request) string {
	// Check X-Forwarded-For (first IP in the list)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ip, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(ip)
	}

	// Check X-Real-IP
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	// Fallback to RemoteAddr (strip port)
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

func writeJSON(w http.ResponseWriter, status int, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Can't change status after WriteHeader, just log
		logger.Error("failed to encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
