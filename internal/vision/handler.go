package vision

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/meshcall/signal-relay/internal/httpserver"
	"github.com/meshcall/signal-relay/internal/metrics"
)

const maxRequestBytes = 10 << 20 // data URLs of captured frames get large

// Handler exposes the image-analysis proxy over HTTP. A nil client (no API
// key configured) leaves the route registered but permanently unavailable.
type Handler struct {
	client  *Client
	log     *slog.Logger
	metrics *metrics.Metrics
}

func NewHandler(client *Client, log *slog.Logger, m *metrics.Metrics) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{client: client, log: log, metrics: m}
}

func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /vision/describe", h.handleDescribe)
}

type describeRequest struct {
	Image  string `json:"image"`
	Prompt string `json:"prompt,omitempty"`
}

type describeResponse struct {
	Description string `json:"description"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *Handler) handleDescribe(w http.ResponseWriter, r *http.Request) {
	if h.client == nil {
		writeError(w, http.StatusServiceUnavailable, "not_configured", "image analysis is not configured")
		return
	}

	var req describeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	if !strings.HasPrefix(req.Image, "data:image/") {
		writeError(w, http.StatusBadRequest, "bad_request", "image must be a data URL")
		return
	}

	answer, err := h.client.Describe(r.Context(), req.Image, req.Prompt)
	if err != nil {
		h.metrics.Inc(metrics.VisionRequestFailed)
		h.log.Warn("image analysis failed", "err", err)
		writeError(w, http.StatusBadGateway, "upstream_error", "image analysis failed")
		return
	}

	h.metrics.Inc(metrics.VisionRequestOK)
	httpserver.WriteJSON(w, http.StatusOK, describeResponse{Description: answer})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	httpserver.WriteJSON(w, status, errorResponse{Code: code, Message: message})
}
