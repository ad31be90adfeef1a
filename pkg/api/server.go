// Package api exposes the engine over HTTP with gin.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/daviddao/virtualoffice/pkg/engine"
	"github.com/daviddao/virtualoffice/pkg/planner"
	"github.com/daviddao/virtualoffice/pkg/store"
)

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// Server wires routes to an engine and its store.
type Server struct {
	Router *gin.Engine
	engine *engine.Engine
	store  store.StoreInterface
	log    zerolog.Logger
}

// New builds the router.
func New(e *engine.Engine, s store.StoreInterface, log zerolog.Logger) *Server {
	srv := &Server{
		Router: gin.New(),
		engine: e,
		store:  s,
		log:    log.With().Str("component", "api").Logger(),
	}
	srv.Router.Use(gin.Recovery(), srv.requestLogger())
	srv.routes()
	return srv
}

func (s *Server) routes() {
	r := s.Router
	r.GET("/healthz", s.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")
	{
		v1.GET("/status", s.status)

		sim := v1.Group("/simulation")
		sim.POST("/start", s.start)
		sim.POST("/stop", s.stop)
		sim.POST("/reset", s.reset)
		sim.POST("/advance", s.advance)
		sim.POST("/auto-tick", s.autoTick)

		people := v1.Group("/people")
		people.GET("", s.listPeople)
		people.POST("", s.createPerson)
		people.GET("/:id", s.getPerson)
		people.DELETE("/:id", s.deletePerson)
		people.GET("/:id/inbox", s.inbox)
		people.GET("/:id/plans", s.plans)
		people.POST("/:id/daily-plan", s.dailyPlan)
		people.GET("/:id/hourly-summaries", s.hourlySummaries)
		people.GET("/:id/daily-reports", s.dailyReports)
		people.PUT("/:id/override", s.setOverride)
		people.DELETE("/:id/override", s.clearOverride)

		v1.GET("/overrides", s.overrides)
		v1.GET("/schedule", s.schedule)
		v1.GET("/events", s.simEvents)
		v1.POST("/events", s.injectEvent)
		v1.GET("/log", s.eventLog)
		v1.GET("/mail", s.mail)
		v1.GET("/chats", s.chats)
		v1.GET("/project-plan", s.projectPlan)
		v1.GET("/reports/simulation", s.simulationReports)
		v1.GET("/planner/metrics", s.plannerMetrics)
		v1.GET("/token-usage", s.tokenUsage)
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		ev := s.log.Debug()
		if c.Writer.Status() >= http.StatusInternalServerError {
			ev = s.log.Warn()
		}
		ev.Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}

func (s *Server) health(c *gin.Context) {
	checks := gin.H{}
	healthy := true
	if _, err := s.store.LoadState(); err != nil {
		checks["storage"] = gin.H{"status": "unhealthy", "message": err.Error()}
		healthy = false
	} else {
		checks["storage"] = gin.H{"status": "healthy"}
	}
	status, code := "healthy", http.StatusOK
	if !healthy {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"tick":      s.engine.Status().CurrentTick,
		"checks":    checks,
	})
}

// fail maps err onto an HTTP status and writes the error body.
func (s *Server) fail(c *gin.Context, err error) {
	code, kind := errorStatus(err)
	if code >= http.StatusInternalServerError {
		s.log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	}
	c.AbortWithStatusJSON(code, ErrorResponse{Error: kind, Message: err.Error(), Code: code})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{
		Error: "invalid_request", Message: msg, Code: http.StatusBadRequest,
	})
}

func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, engine.ErrInvalidTicks),
		errors.Is(err, engine.ErrInvalidStatus),
		errors.Is(err, engine.ErrInvalidEvent),
		errors.Is(err, engine.ErrNoPersonas):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, engine.ErrPersonaNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, engine.ErrNotRunning),
		errors.Is(err, engine.ErrAdvanceInProgress),
		errors.Is(err, engine.ErrDuplicatePersona):
		return http.StatusConflict, "conflict"
	case errors.Is(err, planner.ErrStrictPlanning):
		return http.StatusBadGateway, "planner_error"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	}
	return http.StatusInternalServerError, "internal_error"
}

// Serve runs the HTTP server until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	hs := &http.Server{
		Addr:              addr,
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- hs.ListenAndServe() }()
	s.log.Info().Str("addr", addr).Msg("listening")

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return hs.Shutdown(shutdownCtx)
	}
}
