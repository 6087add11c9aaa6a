// Package api serves the latest analysis to ATT&CK Navigator and dashboards
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/CodeMonkeyCybersecurity/attackmap/internal/config"
	"github.com/CodeMonkeyCybersecurity/attackmap/internal/core"
	"github.com/CodeMonkeyCybersecurity/attackmap/internal/logger"
	"github.com/CodeMonkeyCybersecurity/attackmap/internal/output"
	"github.com/CodeMonkeyCybersecurity/attackmap/internal/pipeline"
	"github.com/CodeMonkeyCybersecurity/attackmap/pkg/attack"
)

// ReloadFunc produces a fresh analysis
type ReloadFunc func(ctx context.Context) (*pipeline.Result, error)

type Server struct {
	cfg     config.ServerConfig
	engine  *gin.Engine
	metrics *metrics
	logger  *logger.Logger
	reload  ReloadFunc
	store   core.RunStore

	mu       sync.RWMutex
	result   *pipeline.Result
	loadedAt time.Time
}

type ServerOption func(*Server)

// WithReload sets how Reload obtains a new analysis
func WithReload(fn ReloadFunc) ServerOption {
	return func(s *Server) { s.reload = fn }
}

// WithRunStore exposes run history under /api/v1/runs
func WithRunStore(store core.RunStore) ServerOption {
	return func(s *Server) { s.store = store }
}

// WithRateLimit limits requests per client IP
func WithRateLimit(cfg config.RateLimitConfig) ServerOption {
	return func(s *Server) { s.engine.Use(RateLimitMiddleware(cfg)) }
}

func NewServer(cfg config.ServerConfig, log *logger.Logger, opts ...ServerOption) *Server {
	if log == nil {
		log = logger.NewNop()
	}
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		cfg:     cfg,
		engine:  gin.New(),
		metrics: newMetrics(),
		logger:  log.WithComponent("api"),
	}

	s.engine.Use(gin.Recovery(), LoggingMiddleware(s.logger), MetricsMiddleware(s.metrics))
	if cfg.EnableCORS {
		s.engine.Use(CORSMiddleware(config.NavigatorOrigin))
	}
	for _, opt := range opts {
		opt(s)
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{})))

	v1 := s.engine.Group("/api/v1")
	v1.GET("/layers", s.handleLayers)
	v1.GET("/layers/:dimension", s.handleLayer)
	v1.GET("/layers/:dimension/thresholds", s.handleThresholds)
	v1.GET("/stats", s.handleStats)
	v1.GET("/techniques/:id", s.handleTechnique)
	v1.GET("/runs", s.handleRuns)
	v1.GET("/runs/:id", s.handleRun)
	v1.POST("/reload", s.handleReload)
}

// Handler exposes the router for tests and custom listeners
func (s *Server) Handler() http.Handler {
	return s.engine
}

// SetResult swaps the served analysis
func (s *Server) SetResult(res *pipeline.Result) {
	s.mu.Lock()
	s.result = res
	s.loadedAt = time.Now()
	s.mu.Unlock()

	if res != nil && res.Summary != nil {
		s.metrics.techniques.Set(float64(len(res.Techniques)))
		s.metrics.coverage.Set(res.Summary.CoveragePercent)
	}
}

func (s *Server) current() (*pipeline.Result, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.result, s.loadedAt
}

// Reload runs the reload function and serves its result. The previous analysis
// stays in place when it fails.
func (s *Server) Reload(ctx context.Context) error {
	if s.reload == nil {
		return errors.New("reload is not configured")
	}

	start := time.Now()
	res, err := s.reload(ctx)
	if err != nil {
		s.metrics.reloads.WithLabelValues("error").Inc()
		s.logger.LogError(ctx, err, "api.Reload")
		return err
	}

	s.SetResult(res)
	s.metrics.reloads.WithLabelValues("success").Inc()
	s.logger.LogDuration(ctx, "api.Reload", start, "techniques", len(res.Techniques))
	return nil
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Address(),
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Infow("API server listening", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.logger.Infow("Shutting down API server")
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(c *gin.Context) {
	res, loadedAt := s.current()
	body := gin.H{
		"status":  "ok",
		"version": logger.Version,
		"loaded":  res != nil,
	}
	if res != nil {
		body["techniques"] = len(res.Techniques)
		body["loaded_at"] = loadedAt.UTC().Format(time.RFC3339)
	}
	c.JSON(http.StatusOK, body)
}

// loaded writes 503 and returns nil when no analysis is available yet
func (s *Server) loaded(c *gin.Context) *pipeline.Result {
	res, _ := s.current()
	if res == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "analysis not loaded yet"})
		return nil
	}
	return res
}

func dimensionParam(c *gin.Context) (attack.Dimension, bool) {
	dim, err := attack.ParseDimension(c.Param("dimension"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return "", false
	}
	return dim, true
}

type layerInfo struct {
	Dimension  attack.Dimension `json:"dimension"`
	Name       string           `json:"name"`
	URL        string           `json:"url"`
	Techniques int              `json:"techniques"`
	File       string           `json:"file"`
}

func (s *Server) handleLayers(c *gin.Context) {
	res := s.loaded(c)
	if res == nil {
		return
	}

	layers := make([]layerInfo, 0, len(res.Layers))
	for _, dim := range attack.AllDimensions() {
		layer := res.Layer(dim)
		if layer == nil {
			continue
		}
		layers = append(layers, layerInfo{
			Dimension:  dim,
			Name:       layer.Name,
			URL:        "/api/v1/layers/" + string(dim),
			Techniques: len(layer.Techniques),
			File:       output.LayerFileName(dim),
		})
	}
	c.JSON(http.StatusOK, gin.H{"layers": layers})
}

func (s *Server) handleLayer(c *gin.Context) {
	dim, ok := dimensionParam(c)
	if !ok {
		return
	}
	res := s.loaded(c)
	if res == nil {
		return
	}

	layer := res.Layer(dim)
	if layer == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "layer not built"})
		return
	}
	if c.Query("download") != "" {
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", output.LayerFileName(dim)))
	}
	c.JSON(http.StatusOK, layer)
}

func (s *Server) handleThresholds(c *gin.Context) {
	dim, ok := dimensionParam(c)
	if !ok {
		return
	}
	res := s.loaded(c)
	if res == nil {
		return
	}

	scheme, ok := res.Schemes[dim]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "layer not built"})
		return
	}
	c.JSON(http.StatusOK, scheme)
}

func (s *Server) handleStats(c *gin.Context) {
	res := s.loaded(c)
	if res == nil {
		return
	}
	c.JSON(http.StatusOK, res.Summary.Flatten())
}

func (s *Server) handleTechnique(c *gin.Context) {
	res := s.loaded(c)
	if res == nil {
		return
	}

	id := c.Param("id")
	tech, ok := res.Technique(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("technique %s not found", id)})
		return
	}

	colors := make(map[attack.Dimension]string, len(res.Schemes))
	for dim, scheme := range res.Schemes {
		colors[dim] = scheme.ColorFor(tech.Stats.For(dim))
	}

	c.JSON(http.StatusOK, gin.H{
		"technique": tech,
		"colors":    colors,
	})
}

func (s *Server) handleRuns(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "run history is disabled"})
		return
	}

	limit := 20
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	runs, err := s.store.ListRuns(c.Request.Context(), limit)
	if err != nil {
		s.logger.LogError(c.Request.Context(), err, "api.ListRuns")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list runs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) handleRun(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "run history is disabled"})
		return
	}

	run, err := s.store.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, run)
}

func (s *Server) handleReload(c *gin.Context) {
	if err := s.Reload(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	res, loadedAt := s.current()
	c.JSON(http.StatusOK, gin.H{
		"techniques": len(res.Techniques),
		"loaded_at":  loadedAt.UTC().Format(time.RFC3339),
	})
}
