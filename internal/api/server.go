// Package api provides REST API endpoints for VIN decoding and fleet
// decode history.
package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/cardog-ai/corgi/internal/decode"
	"github.com/cardog-ai/corgi/internal/storage"
)

// DecodeServer provides REST API access to the decoder and, when a
// Postgres pool is configured, the fleet decode history.
type DecodeServer struct {
	decoder     *decode.Decoder
	pg          *storage.PostgresDB // Optional; history endpoints 404 without it.
	port        int
	authEnabled bool
	apiKeys     map[string]bool // Simple API key auth (when enabled).
}

// Config holds configuration for the decode API server.
type Config struct {
	Port        int
	AuthEnabled bool
	APIKeys     []string // List of valid API keys.
}

// NewDecodeServer creates a new decode API server. pg may be nil.
func NewDecodeServer(decoder *decode.Decoder, pg *storage.PostgresDB, cfg Config) *DecodeServer {
	keys := make(map[string]bool)
	for _, k := range cfg.APIKeys {
		if k != "" {
			keys[k] = true
		}
	}

	return &DecodeServer{
		decoder:     decoder,
		pg:          pg,
		port:        cfg.Port,
		authEnabled: cfg.AuthEnabled,
		apiKeys:     keys,
	}
}

// Run starts the HTTP server.
func (s *DecodeServer) Run() error {
	r := chi.NewRouter()

	// Standard middleware.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))

	// CORS for browser access.
	r.Use(corsMiddleware)

	// Optional authentication.
	if s.authEnabled {
		r.Use(s.authMiddleware)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Mount("/", s.Router())
	})

	addr := ":" + strconv.Itoa(s.port)
	log.Printf("Decode API starting at http://localhost%s", addr)
	if s.authEnabled {
		log.Printf("Authentication: ENABLED (API key required)")
	} else {
		log.Printf("Authentication: DISABLED (open access)")
	}

	return http.ListenAndServe(addr, r)
}

// Router returns the configured chi router for embedding in other servers.
func (s *DecodeServer) Router() chi.Router {
	r := chi.NewRouter()

	r.Get("/health", s.handleHealth)
	r.Get("/decode/{vin}", s.handleDecode)
	r.Post("/decode/batch", s.handleBatchDecode)
	r.Get("/history/{vin}", s.handleHistory)

	return r
}

// corsMiddleware adds CORS headers for browser access.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-API-Key")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// authMiddleware validates the API key from header, bearer token, or query
// parameter.
func (s *DecodeServer) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Check X-API-Key header first.
		apiKey := r.Header.Get("X-API-Key")

		// Fall back to Authorization: Bearer <key>.
		if apiKey == "" {
			auth := r.Header.Get("Authorization")
			if strings.HasPrefix(auth, "Bearer ") {
				apiKey = strings.TrimPrefix(auth, "Bearer ")
			}
		}

		// Fall back to query parameter (for simple testing).
		if apiKey == "" {
			apiKey = r.URL.Query().Get("api_key")
		}

		if apiKey == "" {
			writeError(w, http.StatusUnauthorized, "API key required")
			return
		}

		if !s.apiKeys[apiKey] {
			writeError(w, http.StatusForbidden, "Invalid API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *DecodeServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// decodeOptionsFromQuery maps query parameters onto decode options.
func decodeOptionsFromQuery(r *http.Request) *decode.Options {
	q := r.URL.Query()
	opts := &decode.Options{
		IncludePatternDetails: q.Get("patterns") == "true" || q.Get("patterns") == "1",
		IncludeRawData:        q.Get("raw") == "true" || q.Get("raw") == "1",
		IncludeDiagnostics:    q.Get("diagnostics") == "true" || q.Get("diagnostics") == "1",
	}
	if y := q.Get("model_year"); y != "" {
		if year, err := strconv.Atoi(y); err == nil {
			opts.ModelYear = year
		}
	}
	return opts
}

// handleDecode decodes a single VIN. A structurally invalid VIN is still a
// 200: the result envelope carries the errors.
func (s *DecodeServer) handleDecode(w http.ResponseWriter, r *http.Request) {
	vinParam := chi.URLParam(r, "vin")
	if vinParam == "" {
		writeError(w, http.StatusBadRequest, "vin is required")
		return
	}
	res := s.decoder.Decode(r.Context(), vinParam, decodeOptionsFromQuery(r))
	writeJSON(w, http.StatusOK, res)
}

// BatchRequest is the body of a batch decode call.
type BatchRequest struct {
	VINs    []string        `json:"vins"`
	Options *decode.Options `json:"options,omitempty"`
}

// BatchResponse maps each requested VIN to its result.
type BatchResponse struct {
	Results []*decode.Result `json:"results"`
}

func (s *DecodeServer) handleBatchDecode(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return
	}

	if len(req.VINs) == 0 {
		writeError(w, http.StatusBadRequest, "No VINs specified")
		return
	}

	if len(req.VINs) > 100 {
		writeError(w, http.StatusBadRequest, "Maximum 100 VINs per batch request")
		return
	}

	resp := BatchResponse{Results: make([]*decode.Result, 0, len(req.VINs))}
	for _, v := range req.VINs {
		resp.Results = append(resp.Results, s.decoder.Decode(r.Context(), v, req.Options))
	}

	writeJSON(w, http.StatusOK, resp)
}

// HistoryResponse is the JSON rendering of a stored decode.
type HistoryResponse struct {
	VIN         string  `json:"vin"`
	DecodedAt   string  `json:"decoded_at"`
	Valid       bool    `json:"valid"`
	Make        string  `json:"make,omitempty"`
	Model       string  `json:"model,omitempty"`
	ModelYear   int     `json:"model_year,omitempty"`
	BodyClass   string  `json:"body_class,omitempty"`
	Country     string  `json:"country,omitempty"`
	Confidence  float64 `json:"confidence,omitempty"`
	ErrorCodes  string  `json:"error_codes,omitempty"`
	DecodeCount int     `json:"decode_count,omitempty"`
}

func (s *DecodeServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.pg == nil {
		writeError(w, http.StatusNotFound, "History store not configured")
		return
	}
	vinParam := strings.ToUpper(chi.URLParam(r, "vin"))

	record, err := s.pg.GetByVIN(r.Context(), vinParam)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if record == nil {
		writeError(w, http.StatusNotFound, "No decode history for VIN")
		return
	}

	writeJSON(w, http.StatusOK, HistoryResponse{
		VIN:        record.VIN,
		DecodedAt:  record.DecodedAt.UTC().Format(time.RFC3339),
		Valid:      record.Valid,
		Make:       record.Make,
		Model:      record.Model,
		ModelYear:  record.ModelYear,
		BodyClass:  record.BodyClass,
		Country:    record.Country,
		Confidence: record.Confidence,
		ErrorCodes: record.ErrorCodes,
	})
}

// Helper functions.

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
