package server

import (
	"context"
	"errors"
	"net/http"
	"path"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"authservice/internal/handler"
	"authservice/internal/metrics"
	"authservice/internal/middleware"
	"authservice/internal/models"
)

// Dependencies are the collaborators the HTTP surface is built from.
type Dependencies struct {
	Auth        handler.AuthService
	Users       handler.UserService
	Authorizer  middleware.Authorizer
	Metrics     *metrics.Metrics
	Gatherer    prometheus.Gatherer
	Log         *logrus.Logger
	CORSOrigins []string
}

type Server struct {
	router   *gin.Engine
	policies *middleware.PolicyTable
	deps     Dependencies
	log      *logrus.Logger

	mu   sync.Mutex
	http *http.Server
}

func NewServer(deps Dependencies) *Server {
	router := gin.New()
	policies := middleware.NewPolicyTable()

	router.Use(
		gin.Recovery(),
		middleware.RequestID(),
		middleware.AccessLog(deps.Log),
		middleware.HTTPMetrics(deps.Metrics),
		middleware.NewAccessGuard(deps.Authorizer, policies, deps.Metrics, deps.Log).Handler(),
	)

	s := &Server{
		router:   router,
		policies: policies,
		deps:     deps,
		log:      deps.Log,
	}

	s.setupRoutes()

	return s
}

// handle registers a route together with its access policy.
func (s *Server) handle(group *gin.RouterGroup, method, relativePath string, policy middleware.Policy, h gin.HandlerFunc) {
	group.Handle(method, relativePath, h)
	s.policies.Set(method, path.Join(group.BasePath(), relativePath), policy)
}

func (s *Server) setupRoutes() {
	authHandler := handler.NewAuthHandler(s.deps.Auth, s.log)
	userHandler := handler.NewUserHandler(s.deps.Users, s.log)
	root := &s.router.RouterGroup

	// Ping route for health check
	s.handle(root, http.MethodGet, "/ping", middleware.Public(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "pong",
		})
	})
	s.handle(root, http.MethodGet, "/metrics", middleware.Public(), gin.WrapH(metrics.Handler(s.deps.Gatherer)))

	// Authentication routes
	authGroup := s.router.Group("/auth")
	s.handle(authGroup, http.MethodPost, "/register", middleware.Public(), authHandler.Register)
	s.handle(authGroup, http.MethodPost, "/login", middleware.Public(), authHandler.Login)
	s.handle(authGroup, http.MethodPost, "/login/admin", middleware.Public(), authHandler.LoginAdmin)
	s.handle(authGroup, http.MethodPost, "/logout", middleware.Roles(models.RoleUser, models.RoleAdmin), authHandler.Logout)
	s.handle(authGroup, http.MethodGet, "/me", middleware.Authenticated(), authHandler.Me)

	// Admin user management
	usersGroup := s.router.Group("/users")
	adminOnly := middleware.Roles(models.RoleAdmin)
	s.handle(usersGroup, http.MethodGet, "/:id", adminOnly, userHandler.GetUser)
	s.handle(usersGroup, http.MethodPatch, "/:id", adminOnly, userHandler.UpdateUser)
	s.handle(usersGroup, http.MethodDelete, "/:id", adminOnly, userHandler.DeleteUser)
}

// Handler is the router wrapped with CORS when origins are configured.
func (s *Server) Handler() http.Handler {
	if len(s.deps.CORSOrigins) == 0 {
		return s.router
	}
	return cors.New(cors.Options{
		AllowedOrigins:   s.deps.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
		ExposedHeaders:   []string{middleware.RequestIDHeader},
		AllowCredentials: true,
	}).Handler(s.router)
}

// Run serves until Shutdown is called. It returns nil on a clean shutdown.
func (s *Server) Run(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.http = srv
	s.mu.Unlock()

	s.log.Infof("Server starting on %s...", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.http
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	s.log.Info("Server shutting down...")
	return srv.Shutdown(ctx)
}
