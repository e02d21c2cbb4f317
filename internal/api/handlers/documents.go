package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/onnwee/matchcache/internal/apierr"
	"github.com/onnwee/matchcache/internal/cache"
	"github.com/onnwee/matchcache/internal/docsync"
	"github.com/onnwee/matchcache/internal/errorreporting"
	"github.com/onnwee/matchcache/internal/logger"
	"github.com/onnwee/matchcache/internal/remote"
)

// MaxResolveRefs bounds the number of refs accepted by one resolve call.
const MaxResolveRefs = 500

// Document is an opaque JSON document as stored by the remote service.
type Document = json.RawMessage

// DocumentResolver is the part of docsync.Resolver the handlers use.
type DocumentResolver interface {
	Get(ctx context.Context, id string) (docsync.Resolved[Document], error)
	Resolve(ctx context.Context, refs []cache.DocumentRef) ([]docsync.Resolved[Document], error)
	Reset()
	Stats() docsync.Stats
}

// DocumentHandler serves document lookups.
type DocumentHandler struct {
	resolver DocumentResolver
}

// NewDocumentHandler creates a new document handler.
func NewDocumentHandler(r DocumentResolver) *DocumentHandler {
	return &DocumentHandler{resolver: r}
}

// GetDocument returns one document, refreshing it from the remote store when
// its remembered lookup has expired.
// GET /api/documents/{id}
func (h *DocumentHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if strings.TrimSpace(id) == "" {
		apierr.WriteErrorWithContext(w, r, apierr.ValidationMissingField("id"))
		return
	}

	res, err := h.resolver.Get(r.Context(), id)
	if err != nil {
		writeLookupError(w, r, err)
		return
	}
	if !res.Exists {
		apierr.WriteErrorWithContext(w, r, apierr.DocumentNotFound(id))
		return
	}
	w.Header().Set("X-Cache-Source", string(res.Source))
	writeJSON(w, http.StatusOK, res)
}

type resolveRequest struct {
	Refs []cache.DocumentRef `json:"refs"`
}

type resolveResponse struct {
	Documents []docsync.Resolved[Document] `json:"documents"`
}

// Resolve resolves a batch of dated references, newest first.
// POST /api/documents/resolve
func (h *DocumentHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			apierr.WriteErrorWithContext(w, r, apierr.ValidationTooLarge(tooLarge.Limit))
			return
		}
		apierr.WriteErrorWithContext(w, r, apierr.ValidationInvalidJSON())
		return
	}
	if req.Refs == nil {
		apierr.WriteErrorWithContext(w, r, apierr.ValidationMissingField("refs"))
		return
	}
	if len(req.Refs) > MaxResolveRefs {
		apierr.WriteErrorWithContext(w, r, apierr.ValidationInvalidValue("refs",
			fmt.Sprintf("at most %d refs per request", MaxResolveRefs)))
		return
	}
	for i, ref := range req.Refs {
		if strings.TrimSpace(ref.ID) == "" {
			apierr.WriteErrorWithContext(w, r, apierr.ValidationInvalidValue(
				fmt.Sprintf("refs[%d].id", i), "ref id must not be empty"))
			return
		}
	}

	docs, err := h.resolver.Resolve(r.Context(), req.Refs)
	if err != nil {
		writeLookupError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resolveResponse{Documents: docs})
}

// writeLookupError maps resolver failures onto the error envelope.
func writeLookupError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		logger.WarnContext(r.Context(), "document lookup timed out", "error", err)
		apierr.WriteErrorWithContext(w, r, apierr.SystemTimeout(""))
	case errors.Is(err, context.Canceled):
		// client went away; nothing useful to send
		logger.InfoContext(r.Context(), "document lookup canceled", "error", err)
	case errors.Is(err, remote.ErrTransient):
		logger.WarnContext(r.Context(), "document store unavailable", "error", err)
		apierr.WriteErrorWithContext(w, r, apierr.RemoteUnavailable(""))
	default:
		logger.ErrorContext(r.Context(), "document lookup failed", "error", err)
		errorreporting.CaptureErrorWithContext(err,
			map[string]string{"component": "api", "path": r.URL.Path},
			map[string]interface{}{"request_id": apierr.GetRequestID(r.Context())})
		apierr.WriteErrorWithContext(w, r, apierr.RemoteFailed(""))
	}
}
