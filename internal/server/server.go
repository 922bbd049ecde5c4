package server

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Config holds the HTTP surface settings.
type Config struct {
	ListenAddr string
	AuthToken  string
}

// Server is the HTTP front of the exit engine. All API routes sit behind
// bearer-token auth; an unauthenticated request is rejected before any
// monitoring work starts.
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
}

func New(cfg Config, h *Handlers, logger *zap.Logger) *Server {
	log := logger.Named("server")

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthcheck", func(w http.ResponseWriter, _ *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			log.Error("Healthcheck write failed", zap.Error(err))
		}
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(bearerAuth(cfg.AuthToken))
		r.Post("/monitor", h.Monitor)
		r.Get("/balance/{address}", h.Balance)
		r.Get("/fees", h.Fees)
	})

	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: log,
	}
}

// ListenAndServe blocks until the server stops.
func (s *Server) ListenAndServe() error {
	s.logger.Info("Listening", zap.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// bearerAuth rejects any request whose Authorization header does not carry
// the configured token. The comparison is constant time.
func bearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			presented, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				writeError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
