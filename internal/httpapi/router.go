package httpapi

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/adriancantero-stack/onepagebook-insight-sub001/internal/metrics"
	"github.com/adriancantero-stack/onepagebook-insight-sub001/internal/narration"
	"github.com/adriancantero-stack/onepagebook-insight-sub001/internal/notifications"
)

const defaultMaxBodyBytes = 4 << 20

type RouterConfig struct {
	PublicBaseURL string

	// JWT Authentication
	JWTSecret string

	// MaxBodyBytes bounds narration request bodies (default 4 MiB).
	MaxBodyBytes int64
}

// Narrator produces narrations; *narration.Pipeline implements it.
type Narrator interface {
	Narrate(ctx context.Context, req narration.Request) (*narration.Response, error)
}

// MediaStore serves objects of the local storage backend.
type MediaStore interface {
	Verify(token, key string) error
	Path(key string) (string, error)
}

// ReadyNotifier pushes a "narration ready" notification to a device.
type ReadyNotifier interface {
	SendNarrationReady(deviceToken string, n notifications.NarrationReady) error
}

type Router struct {
	cfg      RouterConfig
	logger   *log.Logger
	narrator Narrator
	media    MediaStore
	push     ReadyNotifier
	metrics  *metrics.Metrics
	mux      *http.ServeMux
}

// NewRouter builds the HTTP handler. media is nil unless objects are stored
// locally; push may be nil.
func NewRouter(cfg RouterConfig, logger *log.Logger, narrator Narrator, media MediaStore, push ReadyNotifier, m *metrics.Metrics) http.Handler {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	r := &Router{
		cfg:      cfg,
		logger:   logger,
		narrator: narrator,
		media:    media,
		push:     push,
		metrics:  m,
		mux:      http.NewServeMux(),
	}

	r.routes()
	return withSentryRecovery(withCORS(r.mux))
}

func (r *Router) routes() {
	// Health check
	r.mux.HandleFunc("GET /healthz", r.handleHealthz)
	r.mux.Handle("GET /metrics", r.metrics.Handler())

	// Narrations (protected)
	r.mux.HandleFunc("POST /api/narrations", r.withAuth(r.handleCreateNarration))
	r.mux.HandleFunc("GET /api/narrations/ws", r.withAuth(r.handleNarrationWS))

	// Signed media (token verified per object)
	r.mux.HandleFunc("GET /media/{path...}", r.handleMedia)
}

func (r *Router) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func withSentryRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				hub := sentry.CurrentHub().Clone()
				hub.Scope().SetRequest(req)
				hub.RecoverWithContext(req.Context(), err)
				hub.Flush(2 * time.Second)
				http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, req)
	})
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization,Range")
		if req.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, req)
	})
}

// captureError sends an error to Sentry with request context
func captureError(req *http.Request, err error, msg string) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetRequest(req)
		scope.SetExtra("message", msg)
		sentry.CaptureException(err)
	})
}
