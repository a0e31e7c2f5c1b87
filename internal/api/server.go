// Package api serves the read side of the keeper over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vietddude/perpkeeper/internal/core/domain"
	"github.com/vietddude/perpkeeper/internal/indexing/gateway"
	"github.com/vietddude/perpkeeper/internal/indexing/health"
	"github.com/vietddude/perpkeeper/internal/indexing/metrics"
)

// PriceReader is the read path of the persistence gateway.
type PriceReader interface {
	RangeQuery(ctx context.Context, count, skipMultiplier int64) ([]domain.PricePoint, error)
	Latest(ctx context.Context) (domain.PricePoint, bool, error)
}

// HealthChecker builds health reports.
type HealthChecker interface {
	CheckHealth(ctx context.Context) health.HealthReport
}

// Server is the HTTP query server.
type Server struct {
	prices  PriceReader
	monitor HealthChecker
	log     *slog.Logger

	Router     *gin.Engine
	httpServer *http.Server
}

// NewServer builds the router. monitor may be nil, in which case the health
// routes always report healthy.
func NewServer(port int, prices PriceReader, monitor HealthChecker, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		prices:  prices,
		monitor: monitor,
		log:     log.With("component", "api"),
		Router:  gin.New(),
	}
	s.Router.Use(gin.Recovery(), s.observe)

	s.Router.GET("/getPerpPriceData", s.getPerpPriceData)
	s.Router.GET("/latest", s.getLatest)
	s.Router.GET("/health", s.getHealth)
	s.Router.GET("/health/detailed", s.getHealthDetailed)
	s.Router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		s.log.Info("HTTP server listening", "addr", s.httpServer.Addr)
		errc <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.log.Error("Failed to gracefully shutdown HTTP server", "error", err)
		return err
	}
	return nil
}

// observe records request metrics and logs failed requests.
func (s *Server) observe(c *gin.Context) {
	start := time.Now()
	c.Next()

	route := c.FullPath()
	if route == "" {
		route = "unmatched"
	}
	status := c.Writer.Status()
	metrics.APIRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()

	if status >= http.StatusInternalServerError {
		s.log.Error("Request failed", "route", route, "status", status, "duration", time.Since(start))
	} else {
		s.log.Debug("Request served", "route", route, "status", status, "duration", time.Since(start))
	}
}

// rangeQuery accepts both the descriptive parameter names and the short
// x/y aliases.
type rangeQuery struct {
	Count          *int64 `form:"count"`
	X              *int64 `form:"x"`
	SkipMultiplier *int64 `form:"skipMultiplier"`
	Y              *int64 `form:"y"`
}

func (q rangeQuery) values() (count, skipMultiplier int64, err error) {
	c, k := q.Count, q.SkipMultiplier
	if c == nil {
		c = q.X
	}
	if k == nil {
		k = q.Y
	}
	if c == nil || k == nil {
		return 0, 0, errors.New("count (x) and skipMultiplier (y) are required")
	}
	return *c, *k, nil
}

type priceDataResponse struct {
	DataPoints []domain.PriceSample `json:"dataPoints"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) getPerpPriceData(c *gin.Context) {
	var q rangeQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "count and skipMultiplier must be integers"})
		return
	}
	count, skip, err := q.values()
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	rows, err := s.prices.RangeQuery(c.Request.Context(), count, skip)
	if errors.Is(err, gateway.ErrInvalidRange) {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to fetch perp price data"})
		return
	}

	resp := priceDataResponse{DataPoints: make([]domain.PriceSample, 0, len(rows))}
	for _, p := range rows {
		resp.DataPoints = append(resp.DataPoints, p.Sample())
	}
	c.JSON(http.StatusOK, resp)
}

type latestResponse struct {
	domain.PriceSample
	BlockNumber string `json:"blockNumber"`
}

func (s *Server) getLatest(c *gin.Context) {
	p, ok, err := s.prices.Latest(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to fetch latest price"})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, errorResponse{Error: "no price data yet"})
		return
	}
	c.JSON(http.StatusOK, latestResponse{PriceSample: p.Sample(), BlockNumber: p.BlockNumber.String()})
}

func (s *Server) getHealth(c *gin.Context) {
	status := health.StatusHealthy
	if s.monitor != nil {
		status = s.monitor.CheckHealth(c.Request.Context()).SystemStatus
	}

	code := http.StatusOK
	if status == health.StatusCritical {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"status": status})
}

func (s *Server) getHealthDetailed(c *gin.Context) {
	if s.monitor == nil {
		c.JSON(http.StatusOK, gin.H{"system_status": health.StatusHealthy})
		return
	}
	c.JSON(http.StatusOK, s.monitor.CheckHealth(c.Request.Context()))
}
