// Package api exposes indexing and retrieval over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/lexisearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/lexisearch/internal/ingest"
	"github.com/Adithya-Monish-Kumar-K/lexisearch/internal/retriever"
	"github.com/Adithya-Monish-Kumar-K/lexisearch/internal/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/lexisearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/lexisearch/pkg/logger"
)

const maxBodyBytes = 2 << 20

type DocumentIndexer interface {
	Index(ctx context.Context, req indexer.IndexRequest) (indexer.Result, error)
	Delete(ctx context.Context, url string) error
}

type Searcher interface {
	Search(ctx context.Context, query string, limit int) (*retriever.SearchResult, error)
	InvalidateCache(ctx context.Context) error
}

// Queue accepts documents for asynchronous indexing.
type Queue interface {
	Publish(ctx context.Context, req ingest.DocumentRequest) (ingest.Accepted, error)
}

type Handler struct {
	indexer  DocumentIndexer
	searcher Searcher
	reader   store.Reader
	queue    Queue
	logger   *slog.Logger
}

// NewHandler wires the endpoints. queue may be nil, which disables
// ?async=true on document uploads.
func NewHandler(ix DocumentIndexer, s Searcher, r store.Reader, q Queue) *Handler {
	return &Handler{
		indexer:  ix,
		searcher: s,
		reader:   r,
		queue:    q,
		logger:   logger.WithComponent("api"),
	}
}

type documentResponse struct {
	Document store.Document          `json:"document"`
	Terms    []store.DocumentLexicon `json:"terms"`
}

type statsResponse struct {
	Documents int `json:"documents"`
	Terms     int `json:"terms"`
}

type errorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

// IndexDocument handles POST /api/v1/documents.
func (h *Handler) IndexDocument(w http.ResponseWriter, r *http.Request) {
	var req ingest.DocumentRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		h.writeError(w, r, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "malformed JSON body: %v", err))
		return
	}

	async, _ := strconv.ParseBool(r.URL.Query().Get("async"))
	if async {
		if h.queue == nil {
			h.writeError(w, r, apperrors.New(apperrors.ErrUnavailable, http.StatusServiceUnavailable, "asynchronous indexing is disabled"))
			return
		}
		accepted, err := h.queue.Publish(r.Context(), req)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		h.writeJSON(w, http.StatusAccepted, accepted)
		return
	}

	if err := ingest.ValidateDocumentRequest(&req); err != nil {
		h.writeError(w, r, err)
		return
	}
	result, err := h.indexer.Index(r.Context(), req.IndexRequest())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	h.writeJSON(w, status, result)
}

// GetDocument handles GET /api/v1/documents?url=.
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	url, ok := h.requireURL(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	doc, found, err := h.reader.FindDocument(ctx, url)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !found {
		h.writeError(w, r, apperrors.Newf(apperrors.ErrDocumentNotFound, http.StatusNotFound, "no document indexed at %q", url))
		return
	}
	rows, err := h.reader.ListDocTerms(ctx, doc.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if rows == nil {
		rows = []store.DocumentLexicon{}
	}
	h.writeJSON(w, http.StatusOK, documentResponse{Document: doc, Terms: rows})
}

// DeleteDocument handles DELETE /api/v1/documents?url=.
func (h *Handler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	url, ok := h.requireURL(w, r)
	if !ok {
		return
	}
	if err := h.indexer.Delete(r.Context(), url); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Search handles GET /api/v1/search?q=&limit=.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if strings.TrimSpace(query) == "" {
		h.writeError(w, r, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "query parameter 'q' is required"))
		return
	}
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			h.writeError(w, r, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "limit must be a positive integer"))
			return
		}
		limit = n
	}

	result, err := h.searcher.Search(r.Context(), query, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	logger.FromContext(r.Context()).Info("search completed",
		"query", query,
		"total", result.Total,
		"returned", len(result.Results),
		"cache_hit", result.CacheHit,
		"took_ms", result.TookMs,
	)
	h.writeJSON(w, http.StatusOK, result)
}

// InvalidateCache handles POST /api/v1/cache/invalidate.
func (h *Handler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	if err := h.searcher.InvalidateCache(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

// Stats handles GET /api/v1/stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	docs, err := h.reader.CountDocuments(ctx)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	terms, err := h.reader.ListAllTerms(ctx)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, statsResponse{Documents: docs, Terms: len(terms)})
}

func (h *Handler) requireURL(w http.ResponseWriter, r *http.Request) (string, bool) {
	url := strings.TrimSpace(r.URL.Query().Get("url"))
	if url == "" {
		h.writeError(w, r, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "query parameter 'url' is required"))
		return "", false
	}
	return url, true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

// writeError maps err to a status code. Server-side failures are logged and
// their detail withheld from the client.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	if errors.Is(err, context.DeadlineExceeded) {
		status = http.StatusGatewayTimeout
	}
	resp := errorResponse{Error: err.Error()}
	var verr *apperrors.ValidationError
	if errors.As(err, &verr) {
		resp.Fields = verr.Fields
	}
	log := logger.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
		resp.Error = serverErrorMessage(status, err)
	} else {
		log.Debug("request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	h.writeJSON(w, status, resp)
}

// serverErrorMessage picks the client-facing text for a 5xx. Only the
// message of an AppError raised with a 503 or 504 is passed through; wrapped
// causes never are.
func serverErrorMessage(status int, err error) string {
	if status == http.StatusInternalServerError {
		return "internal error"
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && appErr.StatusCode == status && appErr.Message != "" {
		return appErr.Message
	}
	return strings.ToLower(http.StatusText(status))
}
