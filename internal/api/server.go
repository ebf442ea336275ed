// Package api exposes the secret-gated admin operations, health and metrics
// over HTTP.
package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"TierTrader/internal/logger"
	"TierTrader/internal/model"
)

const secretHeader = "X-API-Secret"

// Trader is the subset of the trading service exposed to operators.
type Trader interface {
	RunCycle(ctx context.Context) *model.CycleReport
	ForceSellAll(ctx context.Context) *model.CycleReport
	ForceBuy(ctx context.Context) *model.CycleReport
	Status(ctx context.Context) (*model.StatusReport, error)
	DailyReport(ctx context.Context, day time.Time) (*model.DailyReport, error)
	SourceStats(ctx context.Context) ([]model.SourceStat, error)
}

type Server struct {
	trader   Trader
	secret   string
	gatherer prometheus.Gatherer
	loc      *time.Location
	log      *logrus.Entry
	now      func() time.Time
}

// New creates the admin server. A nil gatherer disables /metrics.
func New(tr Trader, secret string, gatherer prometheus.Gatherer, loc *time.Location) (*Server, error) {
	if secret == "" {
		return nil, errors.New("api secret is required")
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Server{
		trader:   tr,
		secret:   secret,
		gatherer: gatherer,
		loc:      loc,
		log:      logger.WithComponent("api"),
		now:      time.Now,
	}, nil
}

func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	if s.gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	api := r.Group("/api", s.requireSecret)
	api.POST("/cycle/run", s.cycleAction(s.trader.RunCycle))
	api.POST("/force-sell-all", s.cycleAction(s.trader.ForceSellAll))
	api.POST("/force-buy", s.cycleAction(s.trader.ForceBuy))
	api.GET("/status", s.handleStatus)
	api.GET("/report", s.handleReport)
	api.GET("/sources", s.handleSources)
	return r
}

func (s *Server) requireSecret(c *gin.Context) {
	got := c.GetHeader(secretHeader)
	if got == "" {
		got = c.Query("secret")
	}
	if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(s.secret)) != 1 {
		s.log.WithField("path", c.FullPath()).Warn("rejected request without valid secret")
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"success": false, "error": "API secret required"})
		return
	}
	c.Next()
}

func (s *Server) cycleAction(run func(context.Context) *model.CycleReport) gin.HandlerFunc {
	return func(c *gin.Context) {
		rep := run(c.Request.Context())
		status := http.StatusOK
		if !rep.Success {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"success": rep.Success, "data": rep})
	}
}

func (s *Server) handleStatus(c *gin.Context) {
	st, err := s.trader.Status(c.Request.Context())
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": st})
}

// handleReport serves ?date=YYYY-MM-DD, today by default.
func (s *Server) handleReport(c *gin.Context) {
	day := s.now().In(s.loc)
	if v := c.Query("date"); v != "" {
		d, err := time.ParseInLocation(time.DateOnly, v, s.loc)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "date must be YYYY-MM-DD"})
			return
		}
		day = d
	}
	rep, err := s.trader.DailyReport(c.Request.Context(), day)
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": rep})
}

func (s *Server) handleSources(c *gin.Context) {
	stats, err := s.trader.SourceStats(c.Request.Context())
	if err != nil {
		s.internalError(c, err)
		return
	}
	if len(stats) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "no source statistics yet"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": stats})
}

func (s *Server) internalError(c *gin.Context, err error) {
	s.log.WithError(err).WithField("path", c.FullPath()).Error("request failed")
	c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", addr).Info("admin api listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
