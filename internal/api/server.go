package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"trading-journal/config"
	"trading-journal/internal/auth"
	"trading-journal/internal/daysync"
	"trading-journal/internal/discipline"
	"trading-journal/internal/events"
	"trading-journal/internal/logging"
	"trading-journal/internal/rewards"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// RateLimiter hands out a token bucket per key
type RateLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
}

// NewRateLimiter creates a limiter allowing perMinute requests per key
func NewRateLimiter(perMinute int) *RateLimiter {
	if perMinute <= 0 {
		return nil
	}
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(float64(perMinute) / 60),
		burst:    perMinute,
	}
}

// Allow checks if a request is allowed for the given key
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	l, ok := r.limiters[key]
	if !ok {
		l = rate.NewLimiter(r.limit, r.burst)
		r.limiters[key] = l
	}
	r.mu.Unlock()
	return l.Allow()
}

// HealthCheck reports whether a dependency is usable
type HealthCheck func(ctx context.Context) error

// Deps are the collaborators the server routes to
type Deps struct {
	Service *discipline.Service
	Rewards *rewards.Ledger // optional
	Feed    discipline.Subscriber
	Bus     *events.EventBus
	Gates   *daysync.Gates
	JWT     *auth.JWTManager // nil disables token auth
	Checks  map[string]HealthCheck
	Stats   map[string]func() interface{} // reported as-is by /health
	Logger  zerolog.Logger
}

// Server represents the HTTP API server
type Server struct {
	router      *gin.Engine
	httpServer  *http.Server
	config      config.ServerConfig
	discipline  config.DisciplineConfig
	svc         *discipline.Service
	ledger      *rewards.Ledger
	feed        discipline.Subscriber
	gates       *daysync.Gates
	bus         *events.EventBus
	hub         *UserWSHub
	checks      map[string]HealthCheck
	stats       map[string]func() interface{}
	authMW      gin.HandlerFunc
	rateLimiter *RateLimiter
	logger      zerolog.Logger
	started     time.Time
}

// NewServer creates a new API server
func NewServer(cfg *config.Config, deps Deps) *Server {
	switch strings.ToLower(cfg.ServerConfig.GinMode) {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(logging.GinMiddleware(deps.Logger))

	// CORS middleware
	corsConfig := cors.DefaultConfig()
	origins := splitOrigins(cfg.ServerConfig.AllowedOrigins)
	if len(origins) == 0 || origins[0] == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = origins
		corsConfig.AllowCredentials = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", TimezoneHeader, logging.TraceHeader}
	corsConfig.ExposeHeaders = []string{"Content-Length", logging.TraceHeader}
	router.Use(cors.New(corsConfig))

	gates := deps.Gates
	if gates == nil {
		gates = daysync.NewGates(cfg.DisciplineConfig.OverrideHold, deps.Service.Clock())
	}

	authMW := auth.DevMiddleware(cfg.AuthConfig.DevUserID)
	if deps.JWT != nil {
		authMW = auth.Middleware(deps.JWT)
	}

	s := &Server{
		router:      router,
		config:      cfg.ServerConfig,
		discipline:  cfg.DisciplineConfig,
		svc:         deps.Service,
		ledger:      deps.Rewards,
		feed:        deps.Feed,
		gates:       gates,
		bus:         deps.Bus,
		checks:      deps.Checks,
		stats:       deps.Stats,
		authMW:      authMW,
		rateLimiter: NewRateLimiter(cfg.ServerConfig.RateLimitPerMin),
		logger:      deps.Logger.With().Str("component", "api").Logger(),
		started:     time.Now(),
	}

	s.hub = NewUserWSHub(s.logger)
	s.hub.Attach(deps.Bus)
	if deps.Bus != nil {
		deps.Bus.Subscribe(events.EventUserLogout, func(e events.Event) {
			if uid := e.UserID(); uid != "" {
				s.endSessions(uid)
			}
		})
	}

	s.setupRoutes()
	return s
}

func splitOrigins(s string) []string {
	var out []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// rateLimitMiddleware limits each user independently
func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.rateLimiter == nil {
			c.Next()
			return
		}
		key := auth.GetUserID(c)
		if key == "" {
			key = c.ClientIP()
		}
		if !s.rateLimiter.Allow(key) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   auth.ErrRateLimited.Code,
				"message": auth.ErrRateLimited.Message,
			})
			return
		}
		c.Next()
	}
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.router.Group("/api")
	api.Use(s.authMW, s.rateLimitMiddleware(), timezoneMiddleware())
	{
		d := api.Group("/discipline")
		d.GET("/settings", s.handleGetSettings)
		d.PUT("/settings", s.handleUpdateSettings)
		d.PUT("/timezone", s.handleSetTimezone)
		d.GET("/today", s.handleGetToday)
		d.GET("/days/:date", s.handleGetDay)
		d.GET("/week", s.handleGetWeek)
		d.POST("/check-in", s.handleCheckIn)
		d.POST("/quick-log", s.handleQuickLog)
		d.POST("/override/arm", s.handleArmOverride)
		d.DELETE("/override/arm", s.handleCancelOverride)
		d.POST("/override", s.handleConfirmOverride)
		d.POST("/eod", s.handleSubmitEOD)

		api.GET("/rewards", s.handleGetRewards)
		api.POST("/auth/logout", s.handleLogout)
	}

	s.router.GET("/ws", s.authMW, timezoneMiddleware(), s.handleUserWebSocket)

	s.router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   string(discipline.CodeNotFound),
			"message": "This API endpoint does not exist. Check your request path and HTTP method.",
			"path":    c.Request.URL.Path,
			"method":  c.Request.Method,
		})
	})
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub returns the websocket hub
func (s *Server) Hub() *UserWSHub {
	return s.hub
}

// Start starts the HTTP server and the websocket hub. It blocks until the
// server stops.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go s.hub.Run(ctx)

	s.logger.Info().Str("addr", addr).Bool("tls", s.config.TLSEnabled).Msg("Starting HTTP server")

	var err error
	if s.config.TLSEnabled {
		err = s.httpServer.ListenAndServeTLS(s.config.TLSCertFile, s.config.TLSKeyFile)
	} else {
		err = s.httpServer.ListenAndServe()
	}
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down HTTP server...")

	s.hub.DisconnectAll()
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}

	return nil
}

// endSessions drops a user's override gate and closes their websocket
// sessions, which tears down each session cache.
func (s *Server) endSessions(userID string) {
	s.gates.Forget(userID)
	s.hub.DisconnectUser(userID)
}

// handleLogout signs the caller out of every live session. Other components
// (the Redis cache) clear their per-user state from the bus event.
func (s *Server) handleLogout(c *gin.Context) {
	userID := auth.GetUserID(c)
	if s.bus != nil {
		s.bus.PublishUserLogout(userID)
	} else {
		s.endSessions(userID)
	}
	successResponse(c, gin.H{"signed_out": true})
}

// handleHealth returns server health status
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := "healthy"
	code := http.StatusOK
	deps := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			deps[name] = "unhealthy"
			status = "unhealthy"
			code = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "healthy"
	}

	resp := gin.H{
		"status":       status,
		"dependencies": deps,
		"sessions":     s.hub.GetTotalClientCount(),
		"uptime":       time.Since(s.started).Round(time.Second).String(),
	}
	if len(s.stats) > 0 {
		stats := make(map[string]interface{}, len(s.stats))
		for name, fn := range s.stats {
			stats[name] = fn()
		}
		resp["stats"] = stats
	}
	c.JSON(code, resp)
}

// errorResponse sends a coded error, mapping discipline codes to statuses
func errorResponse(c *gin.Context, err error) {
	code := discipline.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case discipline.CodeValidation:
		status = http.StatusBadRequest
	case discipline.CodeMaxReached:
		status = http.StatusConflict
	case discipline.CodeUnauthenticated:
		status = http.StatusUnauthorized
	case discipline.CodeNotFound:
		status = http.StatusNotFound
	case discipline.CodeStoreUnavailable:
		status = http.StatusServiceUnavailable
	default:
		code = "INTERNAL_ERROR"
	}

	message := err.Error()
	if status >= 500 {
		logger := logging.FromContext(c.Request.Context())
		logger.Error().Err(err).Str("code", string(code)).Msg("Request failed")
		var coded *discipline.Error
		if errors.As(err, &coded) {
			message = coded.Message
		} else {
			message = "internal error"
		}
	}

	c.JSON(status, gin.H{
		"error":   string(code),
		"message": message,
	})
}

// successResponse is a helper to send success responses
func successResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}

// badRequest rejects a malformed body before it reaches the service
func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   string(discipline.CodeValidation),
		"message": message,
	})
}
