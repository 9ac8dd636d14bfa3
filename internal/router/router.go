// Package router sets up the HTTP routes of the relocation service.
package router

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/libops/relocation/internal/middleware"
	"github.com/libops/relocation/internal/orchestrator"
	"github.com/libops/relocation/internal/relocation"
)

// DefaultMaxUploadBytes caps an export upload.
const DefaultMaxUploadBytes = 512 << 20

// Relocations is the pipeline front door; *orchestrator.Orchestrator
// implements it.
type Relocations interface {
	PublicKey(ctx context.Context) ([]byte, error)
	Upload(ctx context.Context, req orchestrator.UploadRequest) (*relocation.Relocation, error)
	Get(ctx context.Context, id uuid.UUID) (*relocation.Relocation, error)
	List(ctx context.Context, limit int) ([]*relocation.Relocation, error)
}

// Dependencies holds everything the routes need.
type Dependencies struct {
	Relocations    Relocations
	AllowedOrigins []string
	// MaxUploadBytes defaults to DefaultMaxUploadBytes.
	MaxUploadBytes int64
}

// New creates the HTTP handler with all routes and middleware.
func New(deps *Dependencies) http.Handler {
	mux := http.NewServeMux()

	maxUpload := deps.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = DefaultMaxUploadBytes
	}
	h := &handlers{relocations: deps.Relocations, maxUploadBytes: maxUpload}

	// Uploads start a pipeline run each, so they get a much tighter budget
	// on top of the global limiter.
	uploadLimiter := NewRateLimiter(rate.Every(6*time.Second), 5)
	globalLimiter := NewRateLimiter(rate.Limit(20), 50)

	mux.HandleFunc("GET /health", handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /relocations/public-key", h.publicKey)
	mux.Handle("POST /relocations", uploadLimiter.LimitByIP(http.HandlerFunc(h.upload)))
	mux.HandleFunc("GET /relocations", h.list)
	mux.HandleFunc("GET /relocations/{uuid}", h.get)

	var handler http.Handler = mux
	handler = middleware.Recoverer(handler)
	handler = globalLimiter.LimitByIP(handler)
	handler = middleware.SecurityHeaders(handler)
	handler = middleware.AccessLogger(handler)
	handler = middleware.RequestID(handler)
	handler = middleware.Cors(handler, deps.AllowedOrigins)
	handler = otelhttp.NewHandler(handler, "relocation")

	return handler
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
