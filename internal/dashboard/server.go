// Package dashboard serves the churn-risk form and its JSON API.
package dashboard

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/churnops/internal/config"
	"github.com/sells-group/churnops/internal/predict"
)

//go:embed templates/*.html
var templateFS embed.FS

var funcs = template.FuncMap{
	"percent": func(p float64) string { return fmt.Sprintf("%.2f%%", p*100) },
}

const shutdownTimeout = 10 * time.Second

// Server is the prediction dashboard.
type Server struct {
	pred    *predict.Predictor
	cfg     config.DashboardConfig
	metrics *Metrics
	limiter *rate.Limiter
	page    *template.Template
	log     *zap.Logger
}

// New builds a server around a loaded predictor.
func New(pred *predict.Predictor, cfg config.DashboardConfig) (*Server, error) {
	page, err := template.New("index.html").Funcs(funcs).ParseFS(templateFS, "templates/index.html")
	if err != nil {
		return nil, eris.Wrap(err, "dashboard: parse templates")
	}
	return &Server{
		pred:    pred,
		cfg:     cfg,
		metrics: NewMetrics(),
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.RateBurst),
		page:    page,
		log:     zap.L().With(zap.String("component", "dashboard")),
	}, nil
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/", s.timed("index", s.handleIndex))
	r.With(s.rateLimit).Post("/predict", s.timed("form_predict", s.handleFormPredict))
	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.cfg.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
			ExposedHeaders: []string{"X-Request-Id"},
			MaxAge:         300,
		}))
		r.Get("/schema", s.timed("api_schema", s.handleSchema))
		r.With(s.rateLimit).Post("/predict", s.timed("api_predict", s.handleAPIPredict))
	})
	return r
}

// Run serves on the configured port until ctx is cancelled, then drains
// in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.log.Info("shutting down dashboard")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("dashboard shutdown", zap.Error(err))
		}
	}()

	h := s.pred.Header()
	s.log.Info("starting dashboard",
		zap.Int("port", s.cfg.Port),
		zap.String("algorithm", h.Algorithm),
		zap.Time("trained_at", h.TrainedAt),
	)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return eris.Wrap(err, "dashboard: listen")
	}
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			s.metrics.limited.Inc()
			w.Header().Set("Retry-After", "1")
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) timed(route string, h http.HandlerFunc) http.HandlerFunc {
	hist := s.metrics.latency.WithLabelValues(route)
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		h(w, r)
		hist.Observe(time.Since(start).Seconds())
	}
}
