package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"vidpipe/internal/hls"
	"vidpipe/internal/logging"
	"vidpipe/internal/metrics"
	"vidpipe/internal/records"
	"vidpipe/internal/services"
	"vidpipe/internal/stage"
	"vidpipe/internal/trigger"
	"vidpipe/internal/video"
)

const (
	requestIDHeader = "X-Request-ID"
	shutdownTimeout = 10 * time.Second
	maxListLimit    = 500
)

// Dispatcher schedules worker invocations.
type Dispatcher interface {
	RecordCreated(ctx context.Context, ev video.RecordCreated) error
	ObjectFinalized(ctx context.Context, ev video.ObjectFinalized) error
	Go(ctx context.Context, fn func(context.Context) error) error
	Health(ctx context.Context) []stage.Health
	InFlight() int
}

// Options configures the server.
type Options struct {
	Bind       string
	JWTSecret  string
	Dispatcher Dispatcher
	Records    records.Store
	Metrics    *metrics.Set
	// MediaRoot, when set, is served under /media.
	MediaRoot string
}

// Server is the HTTP API.
type Server struct {
	opts    Options
	engine  *gin.Engine
	logger  *slog.Logger
	baseCtx context.Context
}

// NewServer builds the router. baseCtx bounds background invocations started
// by trigger requests; it should be the process lifetime context.
func NewServer(baseCtx context.Context, opts Options, logger *slog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		opts:    opts,
		engine:  gin.New(),
		logger:  logging.NewComponentLogger(logger, "api"),
		baseCtx: baseCtx,
	}
	s.engine.Use(gin.Recovery(), s.requestContext())
	s.routes()
	return s
}

// Handler exposes the router for tests and custom listeners.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes() {
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.engine.GET("/readyz", s.ready)
	s.engine.GET("/metrics", gin.WrapH(s.opts.Metrics.Handler()))

	v1 := s.engine.Group("/v1")
	triggers := v1.Group("/triggers", authMiddleware(s.opts.JWTSecret))
	triggers.POST("/record-created", s.recordCreated)
	triggers.POST("/object-finalized", s.objectFinalized)
	v1.GET("/videos", s.listVideos)
	v1.GET("/videos/:id", s.getVideo)

	if root := strings.TrimSpace(s.opts.MediaRoot); root != "" {
		s.engine.GET("/media/*path", s.media(root))
	}
}

// requestContext tags the request with a correlation ID and logs it.
func (s *Server) requestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(requestIDHeader, id)
		c.Request = c.Request.WithContext(services.WithRequestID(c.Request.Context(), id))
		started := time.Now()
		c.Next()
		s.logger.Debug("http request",
			logging.String(logging.FieldCorrelationID, id),
			logging.String("method", c.Request.Method),
			logging.String("path", c.FullPath()),
			logging.Int("status", c.Writer.Status()),
			logging.Duration("elapsed", time.Since(started)),
		)
	}
}

func (s *Server) ready(c *gin.Context) {
	health := s.opts.Dispatcher.Health(c.Request.Context())
	resp := ReadyResponse{Ready: true, InFlight: s.opts.Dispatcher.InFlight(), Workers: FromHealth(health)}
	for _, h := range health {
		if !h.Ready {
			resp.Ready = false
		}
	}
	status := http.StatusOK
	if !resp.Ready {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, resp)
}

func (s *Server) recordCreated(c *gin.Context) {
	var ev video.RecordCreated
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	if !ev.Status.Valid() {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: fmt.Sprintf("unknown status %q", ev.Status)})
		return
	}
	if err := video.ValidateID(ev.ID); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	s.schedule(c, trigger.KindRecordCreated, ev.ID, func(ctx context.Context) error {
		return s.opts.Dispatcher.RecordCreated(ctx, ev)
	})
}

func (s *Server) objectFinalized(c *gin.Context) {
	var ev video.ObjectFinalized
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	s.schedule(c, trigger.KindObjectFinalized, ev.Name, func(ctx context.Context) error {
		return s.opts.Dispatcher.ObjectFinalized(ctx, ev)
	})
}

func (s *Server) schedule(c *gin.Context, kind trigger.Kind, subject string, run func(context.Context) error) {
	requestID, _ := services.RequestIDFromContext(c.Request.Context())
	ctx := services.WithRequestID(s.baseCtx, requestID)
	if err := s.opts.Dispatcher.Go(ctx, run); err != nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, TriggerResponse{Accepted: true, Kind: string(kind), Subject: subject, RequestID: requestID})
}

func (s *Server) getVideo(c *gin.Context) {
	id := c.Param("id")
	if err := video.ValidateID(id); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	rec, err := s.opts.Records.Get(c.Request.Context(), id)
	if errors.Is(err, records.ErrNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "video not found"})
		return
	}
	if err != nil {
		s.internalError(c, "load video", err)
		return
	}
	c.JSON(http.StatusOK, FromRecord(rec))
}

func (s *Server) listVideos(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "limit must be a non-negative integer"})
			return
		}
		limit = min(n, maxListLimit)
	}
	recs, err := s.opts.Records.List(c.Request.Context(), limit)
	if err != nil {
		s.internalError(c, "list videos", err)
		return
	}
	c.JSON(http.StatusOK, VideoListResponse{Items: FromRecords(recs)})
}

func (s *Server) media(root string) gin.HandlerFunc {
	return func(c *gin.Context) {
		rel := filepath.Clean("/" + c.Param("path"))
		if strings.HasPrefix(rel, "/.meta") {
			c.Status(http.StatusNotFound)
			return
		}
		if hls.IsArtifact(rel) {
			c.Header("Content-Type", hls.ContentType(rel))
			c.Header("Cache-Control", hls.CacheControl(rel))
		}
		c.File(filepath.Join(root, filepath.FromSlash(rel)))
	}
}

func (s *Server) internalError(c *gin.Context, op string, err error) {
	logging.ErrorWithContext(logging.WithContext(c.Request.Context(), s.logger), "api request failed", "api_error",
		logging.String("operation", op),
		logging.Error(err),
	)
	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
}

// Run serves on opts.Bind until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.opts.Bind)
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "api", "listen", s.opts.Bind, err)
	}
	return s.Serve(ctx, listener)
}

// Serve serves on listener until ctx is done.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", logging.String("addr", listener.Addr().String()))
		errc <- srv.Serve(listener)
	}()
	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("api shutdown: %w", err)
		}
		return nil
	}
}
