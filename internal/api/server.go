package api

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/banshee-data/impact.report/internal/db"
	"github.com/banshee-data/impact.report/internal/httputil"
	"github.com/banshee-data/impact.report/internal/impact/l7serving"
	"github.com/banshee-data/impact.report/internal/timeutil"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Options configures a Server. Handle is required; DB and Gatherer are
// optional.
type Options struct {
	Handle *l7serving.Handle
	DB     *db.DB // nil disables the run registry and detection log

	Policy l7serving.Policy // default for requests that do not name one
	Stream l7serving.ArenaConfig

	// Gatherer backs /metrics; nil uses the default registry.
	Gatherer prometheus.Gatherer
}

// Server exposes the serving contract over HTTP and websockets.
type Server struct {
	handle   *l7serving.Handle
	db       *db.DB
	policy   l7serving.Policy
	stream   l7serving.ArenaConfig
	gatherer prometheus.Gatherer
	upgrader websocket.Upgrader
}

func NewServer(opts Options) *Server {
	if opts.Policy.Mode == "" {
		opts.Policy = l7serving.Policy{Mode: l7serving.PolicyBalanced}
	}
	if opts.Stream.Clock == nil {
		opts.Stream.Clock = timeutil.RealClock{}
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		handle:   opts.Handle,
		db:       opts.DB,
		policy:   opts.Policy,
		stream:   opts.Stream,
		gatherer: opts.Gatherer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Unwrap lets http.ResponseController and the websocket upgrader reach
// the underlying writer's Hijacker.
func (lrw *loggingResponseWriter) Unwrap() http.ResponseWriter {
	return lrw.ResponseWriter
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.healthz)
	mux.HandleFunc("POST /api/v1/classify", s.classify)
	mux.HandleFunc("POST /api/v1/predict", s.predict)
	mux.HandleFunc("GET /api/v1/model", s.showModel)
	mux.HandleFunc("POST /api/v1/model/reload", s.reloadModel)
	mux.HandleFunc("GET /api/v1/stream", s.streamHandler)
	mux.HandleFunc("GET /api/v1/runs", s.listRuns)
	mux.HandleFunc("GET /api/v1/runs/{id}", s.showRun)
	mux.HandleFunc("GET /api/v1/runs/{id}/report", s.showReport)
	mux.HandleFunc("GET /api/v1/runs/{id}/dashboard", s.showDashboard)
	mux.HandleFunc("GET /api/v1/detections", s.listDetections)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	if s.db != nil {
		s.db.AttachAdminRoutes(mux)
	}
	return mux
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{"status": "ok", "model_loaded": false}
	if m, err := s.handle.Current(); err == nil {
		status["model_loaded"] = true
		status["model_version"] = m.Version()
	}
	httputil.WriteJSONOK(w, status)
}
