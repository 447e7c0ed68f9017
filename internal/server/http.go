package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sserrano44/GibberWallet/internal/airlink"
	"github.com/sserrano44/GibberWallet/internal/channel"
	"github.com/sserrano44/GibberWallet/internal/config"
	"github.com/sserrano44/GibberWallet/internal/message"
	"github.com/sserrano44/GibberWallet/internal/metrics"
	"github.com/sserrano44/GibberWallet/internal/session"
)

const serviceName = "gibber-wallet"

// ChannelSource reports channel adapter statistics
type ChannelSource interface {
	Stats() channel.Stats
}

// ClientSource reports the client session state
type ClientSource interface {
	Active() bool
	Snapshot() session.Snapshot
}

// SignerSource reports signer side counters
type SignerSource interface {
	Stats() session.ResponderStats
}

// LinkSource reports UDP air-link statistics
type LinkSource interface {
	GetStatistics() airlink.LinkStatistics
}

// Sources are the components the server reports on. Client and Signer are
// mutually exclusive; Link is only set for UDP devices.
type Sources struct {
	Channel ChannelSource
	Client  ClientSource
	Signer  SignerSource
	Link    LinkSource
}

// HTTPServer provides HTTP endpoints for monitoring a wallet device
type HTTPServer struct {
	server   *http.Server
	handler  http.Handler
	logger   *slog.Logger
	config   *config.Config
	sources  Sources
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer

	// Server state
	startTime time.Time
	mu        sync.RWMutex
	running   bool
}

// NewHTTPServer creates a monitoring server. gatherer may be nil to expose the
// default Prometheus registry.
func NewHTTPServer(cfg config.HTTPConfig, logger *slog.Logger, appConfig *config.Config,
	sources Sources, m *metrics.Metrics, gatherer prometheus.Gatherer) *HTTPServer {

	if logger == nil {
		logger = slog.Default()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	h := &HTTPServer{
		logger:    logger,
		config:    appConfig,
		sources:   sources,
		metrics:   m,
		gatherer:  gatherer,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)
	h.handler = mux

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("/session", h.withMetrics("/session", h.handleSession))
	mux.HandleFunc("/channel", h.withMetrics("/channel", h.handleChannel))
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))

	// no request metrics for the metrics endpoint itself
	mux.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Handler returns the routed handler, for embedding and tests
func (h *HTTPServer) Handler() http.Handler {
	return h.handler
}

// Start starts serving in the background
func (h *HTTPServer) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		return fmt.Errorf("http server already running")
	}
	h.running = true

	h.logger.Info("Starting HTTP monitoring server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.running {
		return nil
	}
	h.running = false

	h.logger.Info("Stopping HTTP monitoring server...")
	return h.server.Shutdown(ctx)
}

func (h *HTTPServer) role() string {
	switch {
	case h.sources.Signer != nil:
		return "signer"
	case h.sources.Client != nil:
		return "client"
	default:
		return "unknown"
	}
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	components := map[string]interface{}{}

	if h.sources.Channel != nil {
		stats := h.sources.Channel.Stats()
		components["channel"] = map[string]interface{}{
			"listening":       stats.Listening,
			"signal":          stats.Signal,
			"transmissions":   stats.Transmissions,
			"transmit_errors": stats.TransmitErrors,
			"envelopes":       stats.Envelopes,
		}
	}

	if h.sources.Client != nil {
		components["session"] = map[string]interface{}{
			"active": h.sources.Client.Active(),
			"state":  h.sources.Client.Snapshot().State,
		}
	}

	if h.sources.Signer != nil {
		stats := h.sources.Signer.Stats()
		components["signer"] = map[string]interface{}{
			"state":    stats.State,
			"requests": stats.Requests,
			"signed":   stats.Signed,
		}
	}

	if h.sources.Link != nil {
		stats := h.sources.Link.GetStatistics()
		components["link"] = map[string]interface{}{
			"packets_sent":     stats.PacketsSent,
			"packets_received": stats.PacketsReceived,
			"frames_lost":      stats.FramesLost,
		}
	}

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]interface{}{
			"name":             serviceName,
			"role":             h.role(),
			"protocol_version": message.ProtocolVersion,
		},
		"components": components,
	}

	writeJSON(w, health)
}

// handleSession implements the /session endpoint
func (h *HTTPServer) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	switch {
	case h.sources.Client != nil:
		writeJSON(w, map[string]interface{}{
			"role":      "client",
			"active":    h.sources.Client.Active(),
			"session":   h.sources.Client.Snapshot(),
			"timestamp": time.Now().UTC(),
		})
	case h.sources.Signer != nil:
		writeJSON(w, map[string]interface{}{
			"role":      "signer",
			"signer":    h.sources.Signer.Stats(),
			"timestamp": time.Now().UTC(),
		})
	default:
		http.Error(w, "No session on this device", http.StatusNotFound)
	}
}

// handleChannel implements the /channel endpoint
func (h *HTTPServer) handleChannel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if h.sources.Channel == nil {
		http.Error(w, "No channel on this device", http.StatusNotFound)
		return
	}

	response := map[string]interface{}{
		"channel":   h.sources.Channel.Stats(),
		"timestamp": time.Now().UTC(),
	}
	if h.sources.Link != nil {
		response["link"] = h.sources.Link.GetStatistics()
	}

	writeJSON(w, response)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if h.config == nil {
		http.Error(w, "No configuration loaded", http.StatusNotFound)
		return
	}

	// the key file path is omitted by the json tags
	writeJSON(w, h.config)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]interface{}{
		"service": "Gibber acoustic wallet",
		"role":    h.role(),
		"endpoints": map[string]interface{}{
			"GET /":        "API documentation",
			"GET /health":  "Device health check",
			"GET /session": "Client session or signer state",
			"GET /channel": "Acoustic channel statistics",
			"GET /config":  "Device configuration",
			"GET /metrics": "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	writeJSON(w, apiDoc)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
