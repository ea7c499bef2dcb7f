package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/basketlabs/bvm/internal/logger"
	"github.com/basketlabs/bvm/internal/oracle"
	"github.com/basketlabs/bvm/internal/state"
	"github.com/basketlabs/bvm/internal/types"
	"github.com/basketlabs/bvm/internal/utils"
	"github.com/basketlabs/bvm/internal/vault"
)

var webLogger = logger.GetForComponent("web_server")

// WebServer handles HTTP requests for vault data and operations
type WebServer struct {
	router    *mux.Router
	port      string
	vaultName string
	engine    *vault.Engine
	quotes    *oracle.ManualProvider
}

// NewWebServer creates a new web server instance. The engine and manual quote
// provider may be nil; operation endpoints then reply 503.
func NewWebServer(port, vaultName string, engine *vault.Engine, quotes *oracle.ManualProvider) *WebServer {
	if port == "" {
		port = "8080"
	}

	server := &WebServer{
		router:    mux.NewRouter(),
		port:      port,
		vaultName: vaultName,
		engine:    engine,
		quotes:    quotes,
	}

	server.setupRoutes()
	return server
}

// setupRoutes configures all HTTP routes
func (ws *WebServer) setupRoutes() {
	// Health endpoint (direct route)
	ws.router.HandleFunc("/health", ws.handleHealth).Methods("GET")

	// API endpoints
	api := ws.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", ws.handleHealth).Methods("GET")
	api.HandleFunc("/cycles", ws.handleGetCycles).Methods("GET")
	api.HandleFunc("/cycles/latest", ws.handleGetLatestCycle).Methods("GET")
	api.HandleFunc("/vault/summary", ws.handleGetVaultSummary).Methods("GET")
	api.HandleFunc("/vault/share-price", ws.handleGetSharePriceHistory).Methods("GET")

	// Operation endpoints
	api.HandleFunc("/vault/deposit", ws.handleDeposit).Methods("POST")
	api.HandleFunc("/vault/withdraw", ws.handleWithdraw).Methods("POST")
	api.HandleFunc("/oracle/quote", ws.handleSetQuote).Methods("POST")

	// Add CORS middleware
	ws.router.Use(ws.corsMiddleware)
	ws.router.Use(ws.loggingMiddleware)
}

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

// handleHealth returns server health status
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	var hasErrors bool

	// Get latest cycle information
	var cycleInfo map[string]interface{}
	latest, cycleErr := state.GetLatestCycleSnapshot(ws.vaultName)
	if cycleErr == nil {
		cycleInfo = map[string]interface{}{
			"cycle_id":        latest.CycleID,
			"cycle_number":    latest.CycleNumber,
			"last_cycle_time": latest.Timestamp,
			"executed":        latest.Executed,
		}
	} else {
		cycleInfo = map[string]interface{}{
			"cycle_id":        nil,
			"cycle_number":    0,
			"last_cycle_time": nil,
			"executed":        false,
		}
		hasErrors = true
	}

	// Get database connection status
	dbHealthy := true
	if err := state.TestDBConnection(); err != nil {
		dbHealthy = false
		hasErrors = true
	}

	overallStatus := "OK"
	statusCode := http.StatusOK
	if hasErrors {
		overallStatus = "DEGRADED"
		statusCode = http.StatusServiceUnavailable
	}

	response := map[string]interface{}{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"system": map[string]interface{}{
			"version":          runtime.Version(),
			"goroutines_count": runtime.NumGoroutine(),
			"alloc_bytes":      memStats.Alloc,
			"sys_bytes":        memStats.Sys,
			"gc_cycles":        memStats.NumGC,
		},
		"component": map[string]interface{}{
			"name":    "bvm-basket-vault-manager",
			"version": "1.0.0",
		},
		"bvm_status": map[string]interface{}{
			"vault_name":       ws.vaultName,
			"database_healthy": dbHealthy,
			"cycle_info":       cycleInfo,
		},
	}

	ws.writeJSONResponse(w, statusCode, response)
}

// handleGetCycles returns paginated cycle data
func (ws *WebServer) handleGetCycles(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 && parsedLimit <= 100 {
			limit = parsedLimit
		}
	}

	cycles, err := state.GetRecentCycleSnapshots(ws.vaultName, limit)
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get recent cycles")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve cycles")
		return
	}

	response := map[string]interface{}{
		"cycles": cycles,
		"count":  len(cycles),
		"limit":  limit,
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetLatestCycle returns the most recent cycle
func (ws *WebServer) handleGetLatestCycle(w http.ResponseWriter, r *http.Request) {
	latest, err := state.GetLatestCycleSnapshot(ws.vaultName)
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get latest cycle")
		ws.writeErrorResponse(w, http.StatusNotFound, "No cycles found")
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, latest)
}

// handleGetVaultSummary returns vault summary statistics
func (ws *WebServer) handleGetVaultSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := state.GetVaultSummary(ws.vaultName)
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get vault summary")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve vault summary")
		return
	}

	response := map[string]interface{}{
		"summary":         summary,
		"tvl_usd":         utils.UsdMicroToDollars(summary.TvlUsdMicro),
		"share_price_usd": utils.UsdMicroToDollars(summary.SharePriceMicro),
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetSharePriceHistory returns the share price series
func (ws *WebServer) handleGetSharePriceHistory(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 && parsedLimit <= 1000 {
			limit = parsedLimit
		}
	}

	points, err := state.GetSharePriceHistory(ws.vaultName, limit)
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get share price history")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve share price history")
		return
	}

	response := map[string]interface{}{
		"points": points,
		"count":  len(points),
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleDeposit accepts a settlement-asset deposit for a holder
func (ws *WebServer) handleDeposit(w http.ResponseWriter, r *http.Request) {
	if ws.engine == nil {
		ws.writeErrorResponse(w, http.StatusServiceUnavailable, "Vault engine not available")
		return
	}

	var req struct {
		Holder string `json:"holder"`
		Amount uint64 `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	receipt, err := ws.engine.Deposit(r.Context(), req.Holder, req.Amount)
	if err != nil {
		webLogger.Error().Err(err).Str("holder", req.Holder).Msg("Deposit failed")
		ws.writeErrorResponse(w, operationStatus(err), err.Error())
		return
	}

	if err := state.SaveDepositReceipt(ws.vaultName, receipt); err != nil {
		webLogger.Error().Err(err).Msg("Failed to persist deposit receipt")
	}

	ws.writeJSONResponse(w, http.StatusOK, receipt)
}

// handleWithdraw burns a holder's shares and reports the released amounts
func (ws *WebServer) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	if ws.engine == nil {
		ws.writeErrorResponse(w, http.StatusServiceUnavailable, "Vault engine not available")
		return
	}

	var req struct {
		Holder string `json:"holder"`
		Shares uint64 `json:"shares"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	receipt, err := ws.engine.Withdraw(r.Context(), req.Holder, req.Shares)
	if err != nil {
		webLogger.Error().Err(err).Str("holder", req.Holder).Msg("Withdrawal failed")
		ws.writeErrorResponse(w, operationStatus(err), err.Error())
		return
	}

	if err := state.SaveWithdrawReceipt(ws.vaultName, receipt); err != nil {
		webLogger.Error().Err(err).Msg("Failed to persist withdrawal receipt")
	}

	ws.writeJSONResponse(w, http.StatusOK, receipt)
}

// handleSetQuote pushes a price quote onto the manual oracle provider
func (ws *WebServer) handleSetQuote(w http.ResponseWriter, r *http.Request) {
	if ws.quotes == nil {
		ws.writeErrorResponse(w, http.StatusServiceUnavailable, "Manual oracle not available")
		return
	}

	var req struct {
		Caller   string `json:"caller"`
		Denom    string `json:"denom"`
		RawPrice int64  `json:"raw_price"`
		RawExpo  int32  `json:"raw_expo"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := ws.quotes.SetQuote(req.Caller, req.Denom, req.RawPrice, req.RawExpo, time.Now()); err != nil {
		ws.writeErrorResponse(w, operationStatus(err), err.Error())
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"denom":     req.Denom,
		"raw_price": req.RawPrice,
		"raw_expo":  req.RawExpo,
	})
}

// operationStatus maps engine errors onto HTTP status codes.
func operationStatus(err error) int {
	switch {
	case errors.Is(err, types.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, types.ErrInvalidAmount),
		errors.Is(err, types.ErrInvalidName),
		errors.Is(err, types.ErrInsufficientShares),
		errors.Is(err, types.ErrInsufficientBalance),
		errors.Is(err, types.ErrInvalidPrice),
		errors.Is(err, types.ErrInvalidQuote),
		errors.Is(err, types.ErrStaleQuote):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
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
func (ws *WebServer) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	response := map[string]interface{}{
		"error":     true,
		"message":   message,
		"timestamp": time.Now().UTC(),
	}

	ws.writeJSONResponse(w, statusCode, response)
}

// corsMiddleware adds CORS headers
func (ws *WebServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
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

		// Wrap the response writer to capture the status code
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
