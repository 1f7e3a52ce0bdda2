package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"backoffkit/internal/journal"
)

const defaultFailuresLimit = 50

type failuresQuery struct {
	Limit int `form:"limit" binding:"omitempty,min=1,max=1000"`
}

// reasonCounter is implemented by stores that keep per-reason totals (Redis).
type reasonCounter interface {
	ReasonCounts(ctx context.Context) (map[string]int64, error)
}

// Router builds the admin API: /healthz, /failures, /failures/reasons and /metrics.
func (a *App) Router() *gin.Engine {
	if a.cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", a.handleHealth)
	r.GET("/failures", a.handleFailures)
	r.GET("/failures/reasons", a.handleReasons)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{Registry: a.registry})))
	return r
}

func (a *App) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	if err := a.store.Ping(ctx); err != nil {
		a.log.Warn("health check failed", "journal", a.store.driver, slog.Any("err", err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "journal": a.store.driver, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "journal": a.store.driver})
}

func (a *App) handleFailures(c *gin.Context) {
	var q failuresQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if q.Limit == 0 {
		q.Limit = defaultFailuresLimit
	}
	entries, err := a.journal.List(c.Request.Context(), q.Limit)
	if err != nil {
		a.log.Error("list failures", slog.Any("err", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "journal unavailable"})
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	c.JSON(http.StatusOK, entries)
}

func (a *App) handleReasons(c *gin.Context) {
	ctx := c.Request.Context()
	if rc, ok := a.store.Store.(reasonCounter); ok {
		counts, err := rc.ReasonCounts(ctx)
		if err != nil {
			a.log.Error("reason counts", slog.Any("err", err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "journal unavailable"})
			return
		}
		c.JSON(http.StatusOK, counts)
		return
	}

	// Other stores only know the entries they still hold.
	entries, err := a.journal.List(ctx, 0)
	if err != nil {
		a.log.Error("list failures", slog.Any("err", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "journal unavailable"})
		return
	}
	counts := make(map[string]int64)
	for _, e := range entries {
		counts[e.Reason]++
	}
	c.JSON(http.StatusOK, counts)
}
