package rest

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/splunk-bridge/splunk-mcp-bridge/internal/domain/bridge"
	"github.com/splunk-bridge/splunk-mcp-bridge/internal/service"
)

// maxRequestBodySize bounds tool invocation bodies.
const maxRequestBodySize = 4 * 1024 * 1024

// RouterConfig carries the REST adapter's configuration.
type RouterConfig struct {
	// Version is reported by / and /health.
	Version string
	// ServerURL is the remote MCP endpoint, echoed in the service info.
	ServerURL string
	// APIKeyHash enables X-API-Key checking when non-empty ("sha256:<hex>").
	APIKeyHash string
	// CORSOrigins enables CORS when non-empty.
	CORSOrigins []string
	// LogPayloads enables debug logging of tool invocation bodies.
	LogPayloads bool
}

// Handler serves the REST boundary of the bridge.
type Handler struct {
	bridge  *service.BridgeService
	manager *service.SessionManager
	audit   *service.AuditService
	metrics *Metrics
	logger  *slog.Logger
	cfg     RouterConfig
}

// NewHandler creates the REST handler. audit may be nil.
func NewHandler(bridgeSvc *service.BridgeService, manager *service.SessionManager, auditSvc *service.AuditService, metrics *Metrics, logger *slog.Logger, cfg RouterConfig) *Handler {
	return &Handler{
		bridge:  bridgeSvc,
		manager: manager,
		audit:   auditSvc,
		metrics: metrics,
		logger:  logger,
		cfg:     cfg,
	}
}

// Router builds the chi router with the full middleware chain.
func (h *Handler) Router(registry *prometheus.Registry) http.Handler {
	r := chi.NewRouter()

	if len(h.cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: h.cfg.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"*"},
		}))
	}
	r.Use(RequestIDMiddleware(h.logger))
	if h.metrics != nil {
		r.Use(MetricsMiddleware(h.metrics))
	}

	r.Get("/", h.handleRoot)
	r.Get("/health", h.handleHealth)
	if registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(ar chi.Router) {
		ar.Use(APIKeyMiddleware(h.cfg.APIKeyHash))
		if h.cfg.LogPayloads {
			ar.Use(PayloadLoggingMiddleware())
		}
		ar.Get("/tools", h.handleListTools)
		ar.Post("/tools/{tool_name}", h.handleExecuteTool)
		ar.Get("/resources", h.handleListResources)
		ar.Get("/resources/*", h.handleReadResource)
	})

	return r
}

// serviceInfo is the GET / response body.
type serviceInfo struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	Status    string `json:"status"`
	ServerURL string `json:"mcp_server_url"`
}

func (h *Handler) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, serviceInfo{
		Name:      "splunk-mcp-bridge",
		Version:   h.cfg.Version,
		Status:    h.manager.Status().State,
		ServerURL: h.cfg.ServerURL,
	})
}

func (h *Handler) handleListTools(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.bridge.ListTools(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

// toolCallBody is the POST /api/tools/{tool_name} request body.
type toolCallBody struct {
	Arguments json.RawMessage `json:"arguments"`
}

func (h *Handler) handleExecuteTool(w http.ResponseWriter, r *http.Request) {
	toolName := chi.URLParam(r, "tool_name")

	var body toolCallBody
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize))
	if err != nil {
		h.writeError(w, r, bridge.ValidationError("failed to read request body"))
		return
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &body); err != nil {
			h.writeError(w, r, bridge.ValidationError("request body must be JSON with an arguments object"))
			return
		}
	}

	result, err := h.bridge.ExecuteTool(r.Context(), toolName, body.Arguments)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	// Tool-reported failures (isError true) are data: still HTTP 200.
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleListResources(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.bridge.ListResources(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (h *Handler) handleReadResource(w http.ResponseWriter, r *http.Request) {
	uri := chi.URLParam(r, "*")
	contents, err := h.bridge.ReadResource(r.Context(), uri)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, contents)
}

// errorEnvelope is the uniform REST error body.
type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// writeError maps a normalized error onto the uniform envelope with the
// taxonomy's HTTP status.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	bErr := bridge.Normalize(err)
	if errors.Is(err, r.Context().Err()) && r.Context().Err() != nil {
		// Client went away; nothing useful to write.
		return
	}

	LoggerFromContext(r.Context()).Warn("request failed",
		"path", r.URL.Path,
		"code", bErr.Code(),
		"error", bErr,
	)
	writeJSON(w, bErr.HTTPStatus(), errorEnvelope{Error: errorBody{
		Code:      bErr.Code(),
		Message:   bErr.Message,
		Retryable: bErr.Retryable(),
	}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
