package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/elys-network/cellar/internal/bootstrap"
	"github.com/elys-network/cellar/internal/cellar"
	"github.com/elys-network/cellar/internal/logger"
	"github.com/elys-network/cellar/internal/state"
	"github.com/elys-network/cellar/internal/types"
	"github.com/elys-network/cellar/internal/withdrawqueue"
)

var webLogger = logger.GetForComponent("web_server")

var errUnknownVault = errors.New("unknown vault")

// WebServer exposes a read-only view of the world over HTTP
type WebServer struct {
	router  *mux.Router
	port    string
	world   *bootstrap.World
	started time.Time
}

// NewWebServer creates a new web server instance
func NewWebServer(port string, world *bootstrap.World) *WebServer {
	if port == "" {
		port = "8080"
	}

	server := &WebServer{
		router:  mux.NewRouter(),
		port:    port,
		world:   world,
		started: time.Now(),
	}

	server.setupRoutes()
	return server
}

// setupRoutes configures all HTTP routes
func (ws *WebServer) setupRoutes() {
	ws.router.HandleFunc("/health", ws.handleHealth).Methods("GET")
	ws.router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// API endpoints
	api := ws.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", ws.handleHealth).Methods("GET")
	api.HandleFunc("/vaults", ws.handleGetVaults).Methods("GET")
	api.HandleFunc("/vaults/{address}", ws.handleGetVault).Methods("GET")
	api.HandleFunc("/vaults/{address}/oracle", ws.handleGetOracle).Methods("GET")
	api.HandleFunc("/vaults/{address}/fees", ws.handleGetFees).Methods("GET")
	api.HandleFunc("/vaults/{address}/withdraw-requests/{user}", ws.handleGetWithdrawRequest).Methods("GET")
	api.HandleFunc("/snapshots", ws.handleGetSnapshots).Methods("GET")

	ws.router.Use(ws.corsMiddleware)
	ws.router.Use(ws.loggingMiddleware)
}

// Handler returns the routed handler, used by tests and embedding servers.
func (ws *WebServer) Handler() http.Handler { return ws.router }

// Start starts the web server
func (ws *WebServer) Start() error {
	webLogger.Info().Str("port", ws.port).Msg("Starting web server")

	server := &http.Server{
		Addr:         ":" + ws.port,
		Handler:      ws.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return server.ListenAndServe()
}

// handleHealth reports process stats and database status. A missing database is not an
// error, the service runs without persistence.
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	dbStatus := "disabled"
	hasErrors := false
	if state.DB != nil {
		dbStatus = "healthy"
		if err := state.TestDBConnection(); err != nil {
			dbStatus = "unreachable"
			hasErrors = true
		}
	}

	overallStatus := "OK"
	if hasErrors {
		overallStatus = "DEGRADED"
	}

	response := map[string]interface{}{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"system": map[string]interface{}{
			"version":            runtime.Version(),
			"goroutines_count":   runtime.NumGoroutine(),
			"total_alloc_bytes":  memStats.TotalAlloc,
			"heap_objects_count": memStats.HeapObjects,
			"alloc_bytes":        memStats.Alloc,
			"sys_bytes":          memStats.Sys,
			"gc_cycles":          memStats.NumGC,
			"uptime_seconds":     int64(time.Since(ws.started).Seconds()),
		},
		"component": map[string]interface{}{
			"name":    "cellar",
			"version": "1.0.0",
		},
		"cellar_status": map[string]interface{}{
			"database": dbStatus,
			"vaults":   len(ws.world.Cellars),
			"now":      ws.world.Clock.Now().UTC(),
		},
	}

	statusCode := http.StatusOK
	if hasErrors {
		statusCode = http.StatusServiceUnavailable
	}
	ws.writeJSONResponse(w, statusCode, response)
}

func (ws *WebServer) handleGetVaults(w http.ResponseWriter, r *http.Request) {
	summaries := make([]types.VaultSummary, 0, len(ws.world.Cellars))
	err := ws.world.View(func() error {
		for _, c := range ws.world.Cellars {
			s, err := c.Summary()
			if err != nil {
				return err
			}
			summaries = append(summaries, s)
		}
		return nil
	})
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to summarise vaults")
		ws.writeKindError(w, err)
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"vaults": summaries,
		"count":  len(summaries),
	})
}

// vault resolves the {address} route variable to a cellar.
func (ws *WebServer) vault(r *http.Request) (*cellar.Cellar, error) {
	raw := mux.Vars(r)["address"]
	if !common.IsHexAddress(raw) {
		return nil, types.ErrInvalidInput
	}
	c, ok := ws.world.Cellar(common.HexToAddress(raw))
	if !ok {
		return nil, errUnknownVault
	}
	return c, nil
}

func (ws *WebServer) handleGetVault(w http.ResponseWriter, r *http.Request) {
	c, err := ws.vault(r)
	if err != nil {
		ws.writeKindError(w, err)
		return
	}
	var summary types.VaultSummary
	if err := ws.world.View(func() error {
		var err error
		summary, err = c.Summary()
		return err
	}); err != nil {
		webLogger.Error().Err(err).Str("vault", c.Name()).Msg("Failed to summarise vault")
		ws.writeKindError(w, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, summary)
}

func (ws *WebServer) handleGetOracle(w http.ResponseWriter, r *http.Request) {
	c, err := ws.vault(r)
	if err != nil {
		ws.writeKindError(w, err)
		return
	}
	o, ok := ws.world.Oracles[c.Address()]
	if !ok {
		ws.writeErrorResponse(w, http.StatusNotFound, "NOT_FOUND", "Vault has no share price oracle")
		return
	}

	var response map[string]interface{}
	_ = ws.world.View(func() error {
		answer, twaa, notSafe := o.GetLatest()
		response = map[string]interface{}{
			"oracle":         o.Address().Hex(),
			"answer":         answer,
			"twaa":           twaa,
			"not_safe":       notSafe,
			"share_listed":   ws.world.Router.IsSupported(c.ShareDenom()),
			"observed_until": ws.world.Clock.Now().UTC(),
		}
		return nil
	})
	ws.writeJSONResponse(w, http.StatusOK, response)
}

func (ws *WebServer) handleGetFees(w http.ResponseWriter, r *http.Request) {
	c, err := ws.vault(r)
	if err != nil {
		ws.writeKindError(w, err)
		return
	}
	var meta types.FeeMetaData
	if err := ws.world.View(func() error {
		var err error
		meta, err = ws.world.Fees.MetaData(c.Address())
		return err
	}); err != nil {
		ws.writeKindError(w, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, meta)
}

func (ws *WebServer) handleGetWithdrawRequest(w http.ResponseWriter, r *http.Request) {
	c, err := ws.vault(r)
	if err != nil {
		ws.writeKindError(w, err)
		return
	}
	rawUser := mux.Vars(r)["user"]
	if !common.IsHexAddress(rawUser) {
		ws.writeKindError(w, types.ErrInvalidInput)
		return
	}
	user := common.HexToAddress(rawUser)

	var (
		req      withdrawqueue.Request
		found    bool
		valid    bool
		validErr error
	)
	_ = ws.world.View(func() error {
		req, found = ws.world.Queue.GetUserWithdrawRequest(c.Address(), user)
		if found {
			valid, validErr = ws.world.Queue.IsWithdrawRequestValid(c.Address(), user)
		}
		return nil
	})
	if !found {
		ws.writeErrorResponse(w, http.StatusNotFound, "NOT_FOUND", "No withdraw request for user")
		return
	}

	response := map[string]interface{}{
		"vault":   c.Address().Hex(),
		"user":    user.Hex(),
		"request": req,
		"valid":   valid,
	}
	if validErr != nil {
		response["reason"] = validErr.Error()
		response["kind"] = types.ErrorKind(validErr)
	}
	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetSnapshots returns the most recent persisted snapshots
func (ws *WebServer) handleGetSnapshots(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 && parsedLimit <= 100 {
			limit = parsedLimit
		}
	}

	snapshots, err := state.GetRecentSnapshots(r.Context(), limit)
	if errors.Is(err, state.ErrNotInitialized) {
		ws.writeErrorResponse(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Snapshots are not persisted")
		return
	}
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get recent snapshots")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "INTERNAL", "Failed to retrieve snapshots")
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"snapshots": snapshots,
		"count":     len(snapshots),
		"limit":     limit,
	})
}

// writeJSONResponse writes a JSON response
func (ws *WebServer) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		webLogger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error response
func (ws *WebServer) writeErrorResponse(w http.ResponseWriter, statusCode int, code, message string) {
	response := map[string]interface{}{
		"error":     true,
		"code":      code,
		"message":   message,
		"timestamp": time.Now().UTC(),
	}

	ws.writeJSONResponse(w, statusCode, response)
}

// writeKindError maps err to its error kind and a matching status code.
func (ws *WebServer) writeKindError(w http.ResponseWriter, err error) {
	if errors.Is(err, errUnknownVault) {
		ws.writeErrorResponse(w, http.StatusNotFound, "NOT_FOUND", err.Error())
		return
	}
	kind := types.ErrorKind(err)
	status := http.StatusInternalServerError
	switch kind {
	case "INVALID_INPUT":
		status = http.StatusBadRequest
	case "UNAUTHORIZED":
		status = http.StatusForbidden
	case "STALENESS", "LIQUIDITY", "SHUTDOWN":
		status = http.StatusServiceUnavailable
	case "CONFIGURATION":
		status = http.StatusUnprocessableEntity
	}
	ws.writeErrorResponse(w, status, kind, err.Error())
}

// corsMiddleware adds CORS headers
func (ws *WebServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (ws *WebServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapper := &responseWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r)

		webLogger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Int("status", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

// responseWriterWrapper wraps http.ResponseWriter to capture status code
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriterWrapper) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
