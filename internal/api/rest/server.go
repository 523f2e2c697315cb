package rest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/KevinKickass/OpenPanelCore/internal/api/websocket"
	"github.com/KevinKickass/OpenPanelCore/internal/auth"
	"github.com/KevinKickass/OpenPanelCore/internal/config"
	"github.com/KevinKickass/OpenPanelCore/internal/interfaces"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Server struct {
	router      *gin.Engine
	lm          interfaces.LifecycleManager
	logger      *zap.Logger
	server      *http.Server
	wsHub       *websocket.Hub
	authService *auth.AuthService
}

func NewServer(cfg *config.Config, lm interfaces.LifecycleManager, logger *zap.Logger, wsHub *websocket.Hub, authService *auth.AuthService) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		router:      gin.New(),
		lm:          lm,
		logger:      logger,
		wsHub:       wsHub,
		authService: authService,
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler exposes the router for httptest.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) Start() error {
	s.logger.Info("Starting REST API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Fatal("REST server failed", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down REST API server")
	return s.server.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	// Middleware
	s.router.Use(gin.Recovery())
	s.router.Use(LoggerMiddleware(s.logger))
	s.router.Use(CORSMiddleware())

	// Public routes (no auth required)
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.router.Group("/api/v1")
	{
		// ==================== AUTH ====================
		v1.POST("/auth/login", s.login)

		authProtected := v1.Group("/auth")
		authProtected.Use(s.authService.AuthMiddleware())
		{
			authProtected.GET("/me", s.getCurrentRole)
		}

		// ==================== SYSTEM ====================
		system := v1.Group("/system")
		system.Use(s.authService.AuthMiddleware())
		{
			system.GET("/status", auth.RequirePermission(auth.PermView), s.getSystemStatus)
			system.POST("/shutdown", auth.RequirePermission(auth.PermEdit), s.shutdown)
		}

		// ==================== COMPONENTS ====================
		comps := v1.Group("/components")
		comps.Use(s.authService.AuthMiddleware())
		{
			// Read & operate: presenter+
			comps.GET("", auth.RequirePermission(auth.PermView), s.listComponents)
			comps.GET("/:id", auth.RequirePermission(auth.PermView), s.getComponent)
			comps.GET("/:id/overlaps", auth.RequirePermission(auth.PermView), s.getOverlaps)
			comps.POST("/:id/trigger", auth.RequirePermission(auth.PermOperate), s.triggerComponent)
			comps.POST("/:id/value", auth.RequirePermission(auth.PermOperate), s.setComponentValue)
			comps.POST("/:id/flight", auth.RequirePermission(auth.PermOperate), s.sendFlightInput)

			// Layout changes: editor only
			comps.POST("", auth.RequirePermission(auth.PermEdit), s.createComponent)
			comps.PATCH("/:id", auth.RequirePermission(auth.PermEdit), s.updateComponent)
			comps.DELETE("/:id", auth.RequirePermission(auth.PermEdit), s.deleteComponent)
			comps.PUT("/:id/geometry", auth.RequirePermission(auth.PermEdit), s.moveComponent)
		}

		selection := v1.Group("/selection")
		selection.Use(s.authService.AuthMiddleware())
		selection.Use(auth.RequirePermission(auth.PermEdit))
		{
			selection.GET("", s.getSelection)
			selection.PUT("", s.setSelection)
			selection.POST("/move", s.moveSelection)
		}

		// ==================== PAGES ====================
		pages := v1.Group("/pages")
		pages.Use(s.authService.AuthMiddleware())
		{
			pages.GET("", auth.RequirePermission(auth.PermView), s.listPages)
			pages.GET("/current", auth.RequirePermission(auth.PermView), s.getCurrentPage)
			pages.PUT("/current", auth.RequirePermission(auth.PermOperate), s.goToPage)
			pages.GET("/:id/components", auth.RequirePermission(auth.PermView), s.getPageComponents)
			pages.POST("", auth.RequirePermission(auth.PermEdit), s.addPage)
			pages.DELETE("/:id", auth.RequirePermission(auth.PermEdit), s.removePage)
		}

		// ==================== MULTI EDIT SESSION (EDITOR) ====================
		edit := v1.Group("/multi/edit")
		edit.Use(s.authService.AuthMiddleware())
		edit.Use(auth.RequirePermission(auth.PermEdit))
		{
			edit.GET("", s.getDraft)
			edit.POST("", s.beginEdit)
			edit.POST("/new", s.beginCreate)
			edit.POST("/members", s.addMember)
			edit.DELETE("/members/:id", s.removeMember)
			edit.PUT("/steps", s.setSteps)
			edit.PUT("/steps/:index", s.updateStep)
			edit.POST("/steps/move", s.moveStep)
			edit.POST("/commit", s.commitEdit)
			edit.POST("/rollback", s.rollbackEdit)
		}

		// ==================== SEQUENCER RUNS (PRESENTER+) ====================
		runs := v1.Group("/runs")
		runs.Use(s.authService.AuthMiddleware())
		{
			runs.GET("", auth.RequirePermission(auth.PermView), s.listRuns)
			runs.POST("", auth.RequirePermission(auth.PermOperate), s.startRun)
			runs.GET("/:id", auth.RequirePermission(auth.PermView), s.getRun)
			runs.GET("/:id/steps/:index/in-flight", auth.RequirePermission(auth.PermView), s.stepInFlight)
			runs.POST("/:id/cancel", auth.RequirePermission(auth.PermOperate), s.cancelRun)
		}

		// ==================== ENGINE CONNECTION ====================
		eng := v1.Group("/engine")
		eng.Use(s.authService.AuthMiddleware())
		{
			eng.GET("/status", auth.RequirePermission(auth.PermView), s.getEngineStatus)
			eng.GET("/properties", auth.RequirePermission(auth.PermView), s.getProperties)
			eng.GET("/subscriptions", auth.RequirePermission(auth.PermView), s.getSubscriptions)
			eng.POST("/connect", auth.RequirePermission(auth.PermOperate), s.connectEngine)
			eng.POST("/disconnect", auth.RequirePermission(auth.PermOperate), s.disconnectEngine)
			eng.POST("/friction/:which", auth.RequirePermission(auth.PermOperate), s.toggleFriction)
		}

		// ==================== PROJECTS ====================
		projects := v1.Group("/projects")
		projects.Use(s.authService.AuthMiddleware())
		{
			projects.GET("", auth.RequirePermission(auth.PermView), s.listProjects)
			projects.GET("/export", auth.RequirePermission(auth.PermView), s.exportProject)
			projects.POST("/import", auth.RequirePermission(auth.PermEdit), s.importProject)
			projects.POST("/:name/save", auth.RequirePermission(auth.PermEdit), s.saveProject)
			projects.POST("/:name/load", auth.RequirePermission(auth.PermEdit), s.loadProject)
			projects.DELETE("/:name", auth.RequirePermission(auth.PermEdit), s.deleteProject)
		}

		// ==================== WEBSOCKET (PUBLIC - Auth via first message) ====================
		ws := v1.Group("/ws")
		{
			ws.GET("/live", s.wsLiveConnection)
			ws.GET("/status", s.authService.AuthMiddleware(), auth.RequirePermission(auth.PermView), s.wsStatus)
		}
	}
}

// WebSocket handlers
func (s *Server) wsLiveConnection(c *gin.Context) {
	websocket.ServeWs(s.wsHub, c.Writer, c.Request)
}

func (s *Server) wsStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connected_clients": s.wsHub.GetClientCount(),
	})
}

// Health check (public)
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"engine":    s.lm.Session().State(),
		"timestamp": time.Now().Unix(),
	})
}
