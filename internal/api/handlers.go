package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/hyperengineering/ripple/internal/queue"
	"github.com/hyperengineering/ripple/internal/types"
	"github.com/hyperengineering/ripple/internal/validation"
)

const (
	defaultDrainLimit = 100
	maxDrainLimit     = 1000
)

// Committer accepts the changes of one committed transaction.
type Committer interface {
	OnCommit(ctx context.Context, changes []types.EntityChange) error
}

// Handler implements the API handlers
type Handler struct {
	committer   Committer
	queue       queue.Queue
	queueName   string
	fingerprint string
	apiKey      string
	version     string
}

// HandlerConfig carries the values reported by Health and the API key.
type HandlerConfig struct {
	QueueName   string
	Fingerprint string
	APIKey      string
	Version     string
}

// NewHandler creates a Handler over the coordinator and the queue it feeds.
func NewHandler(c Committer, q queue.Queue, cfg HandlerConfig) *Handler {
	return &Handler{
		committer:   c,
		queue:       q,
		queueName:   cfg.QueueName,
		fingerprint: cfg.Fingerprint,
		apiKey:      cfg.APIKey,
		version:     cfg.Version,
	}
}

// HealthResponse is the body of GET /api/v1/health.
type HealthResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	Queue       string `json:"queue"`
	QueueSize   int    `json:"queue_size"`
	Fingerprint string `json:"registry_fingerprint"`
}

// CommitRequest is the body of POST /api/v1/commits.
type CommitRequest struct {
	Changes []types.EntityChange `json:"changes"`
}

// CommitResponse reports how many changes were processed.
type CommitResponse struct {
	Changes int `json:"changes"`
}

// QueueResponse is the body of GET /api/v1/queue.
type QueueResponse struct {
	Queue string `json:"queue"`
	Size  int    `json:"size"`
}

// ContainsResponse is the body of GET /api/v1/queue/contains.
type ContainsResponse struct {
	Root      string                  `json:"root"`
	Operation types.IndexingOperation `json:"operation"`
	Pending   bool                    `json:"pending"`
}

// ItemsBody carries queue items for drain and requeue.
type ItemsBody struct {
	Items []types.QueueItem `json:"items"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "component", "api", "error", err)
	}
}

// Health returns the health status
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	size, err := h.queue.Size(r.Context())
	if err != nil {
		slog.Error("health check failed", "component", "api", "error", err)
		WriteProblem(w, r, http.StatusServiceUnavailable, "Queue backend unavailable")
		return
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:      "healthy",
		Version:     h.version,
		Queue:       h.queueName,
		QueueSize:   size,
		Fingerprint: h.fingerprint,
	})
}

// Commit handles POST /api/v1/commits
func (h *Handler) Commit(w http.ResponseWriter, r *http.Request) {
	var req CommitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return
	}

	if errs := validation.ValidateChanges(req.Changes); len(errs) > 0 {
		WriteProblemWithErrors(w, r, "Change set contains invalid entries", errs)
		return
	}

	if err := h.committer.OnCommit(r.Context(), req.Changes); err != nil {
		slog.Error("commit failed", "component", "api", "changes", len(req.Changes), "error", err)
		MapError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, CommitResponse{Changes: len(req.Changes)})
}

// QueueStats handles GET /api/v1/queue
func (h *Handler) QueueStats(w http.ResponseWriter, r *http.Request) {
	size, err := h.queue.Size(r.Context())
	if err != nil {
		MapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, QueueResponse{Queue: h.queueName, Size: size})
}

// Contains handles GET /api/v1/queue/contains?root=Type#ID&operation=INDEX
func (h *Handler) Contains(w http.ResponseWriter, r *http.Request) {
	root, err := types.ParseEntityRef(r.URL.Query().Get("root"))
	if err != nil {
		WriteProblem(w, r, http.StatusBadRequest, "root must be Type#ID")
		return
	}
	op := types.IndexingOperation(r.URL.Query().Get("operation"))
	if op == "" {
		op = types.OpIndex
	}
	if !op.Valid() {
		WriteProblem(w, r, http.StatusBadRequest, "operation must be INDEX or DELETE")
		return
	}

	pending, err := h.queue.Contains(r.Context(), root, op)
	if err != nil {
		MapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ContainsResponse{Root: root.String(), Operation: op, Pending: pending})
}

// Drain handles POST /api/v1/queue/drain?limit=N for pull consumers.
// Items are removed; consumers hand failed items back through Requeue.
func (h *Handler) Drain(w http.ResponseWriter, r *http.Request) {
	limit := defaultDrainLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			WriteProblem(w, r, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxDrainLimit)
	}

	items, err := h.queue.Drain(r.Context(), limit)
	if err != nil {
		MapError(w, r, err)
		return
	}
	if items == nil {
		items = []types.QueueItem{}
	}
	writeJSON(w, http.StatusOK, ItemsBody{Items: items})
}

// Requeue handles POST /api/v1/queue/requeue
func (h *Handler) Requeue(w http.ResponseWriter, r *http.Request) {
	var body ItemsBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return
	}
	if errs := validation.ValidateQueueItems(body.Items); len(errs) > 0 {
		WriteProblemWithErrors(w, r, "Items contain invalid entries", errs)
		return
	}
	if err := h.queue.Requeue(r.Context(), body.Items); err != nil {
		MapError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
