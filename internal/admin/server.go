// Package admin serves the local HTTP surface of a running client: health,
// connection status and prometheus metrics.
package admin

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/stompctl/internal/auth"
	"github.com/danmuck/stompctl/internal/client"
	"github.com/danmuck/stompctl/internal/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// StatusSource is satisfied by *client.Manager.
type StatusSource interface {
	Status() client.Status
}

type Config struct {
	Addr        string
	CorsOrigins []string
	Version     string
	// Token, when set, is required as a bearer token on every route except
	// /health.
	Token string
}

type Server struct {
	cfg     Config
	status  StatusSource
	router  *gin.Engine
	started time.Time
}

func New(cfg Config, status StatusSource) *Server {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.AdminRequests(log.Logger, "stompctl"))
	if origins := normalizeOrigins(cfg.CorsOrigins); len(origins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins: origins,
			AllowMethods: []string{"GET"},
			AllowHeaders: []string{"Origin", "Content-Type", "Authorization", observability.RequestIDHeader},
			MaxAge:       12 * time.Hour,
		}))
	}
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		cfg:     cfg,
		status:  status,
		router:  r,
		started: time.Now(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.started).String(),
			"service": "stompctl",
			"version": s.cfg.Version,
		})
	})

	routes := s.router.Group("/")
	if token := strings.TrimSpace(s.cfg.Token); token != "" {
		routes.Use(requireToken(auth.StaticToken{Token: token}))
	}

	routes.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.status.Status())
	})

	// ready is 200 only while the broker connection is up.
	routes.GET("/ready", func(c *gin.Context) {
		st := s.status.Status()
		code := http.StatusOK
		if st.State != "connected" {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"ready":    code == http.StatusOK,
			"state":    st.State,
			"endpoint": st.Endpoint,
		})
	})

	routes.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func requireToken(v auth.Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := auth.Authorize(v, c.GetHeader("Authorization")); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Next()
	}
}

// Serve listens on cfg.Addr until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.ServeListener(ctx, ln)
}

func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	log.Info().Str("addr", ln.Addr().String()).Msg("admin.Server listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func normalizeOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, o := range in {
		if v := strings.TrimSpace(o); v != "" {
			out = append(out, v)
		}
	}
	return out
}
