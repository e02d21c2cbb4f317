package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onnwee/matchcache/internal/api/handlers"
	"github.com/onnwee/matchcache/internal/apierr"
	"github.com/onnwee/matchcache/internal/metrics"
	"github.com/onnwee/matchcache/internal/middleware"
)

// Deps are the services the HTTP surface is built on.
type Deps struct {
	Resolver handlers.DocumentResolver
	// Persistent reports the persistent tier size; nil when there is none.
	Persistent metrics.SizeFunc
	// MaxBodyBytes limits request bodies; <= 0 uses the middleware default.
	MaxBodyBytes int64
}

// NewRouter registers every route on a gorilla/mux router.
func NewRouter(d Deps) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.Instrument, middleware.LimitBody(d.MaxBodyBytes))

	docs := handlers.NewDocumentHandler(d.Resolver)
	admin := handlers.NewCacheAdminHandler(d.Resolver, d.Persistent)

	// Documents
	r.HandleFunc("/api/documents/resolve", docs.Resolve).Methods(http.MethodPost)
	r.HandleFunc("/api/documents/{id}", docs.GetDocument).Methods(http.MethodGet)

	// Cache administration
	r.HandleFunc("/api/cache/reset", admin.ResetCache).Methods(http.MethodPost)
	r.HandleFunc("/api/cache/stats", admin.GetCacheStats).Methods(http.MethodGet)

	// Operations
	r.HandleFunc("/health", handlers.Health).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		apierr.WriteErrorWithContext(w, req, apierr.New("ROUTE_NOT_FOUND", "No such endpoint", http.StatusNotFound))
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		apierr.WriteErrorWithContext(w, req, apierr.New("METHOD_NOT_ALLOWED", "Method not allowed", http.StatusMethodNotAllowed))
	})
	return r
}

// NewHandler wraps the router with the request-wide middleware chain.
func NewHandler(d Deps) http.Handler {
	return middleware.RequestID(middleware.RecoverWithSentry(middleware.Compress(NewRouter(d))))
}
