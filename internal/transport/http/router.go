package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tempmail/bot/internal/health"
	"tempmail/bot/internal/monitoring"
	"tempmail/bot/internal/storage"
)

// WatcherRegistry 暴露监听器数量（Watch Supervisor 的只读视图）。
type WatcherRegistry interface {
	Count() int
}

// RouterDependencies 路由依赖集合。
type RouterDependencies struct {
	Store    storage.Store
	Watchers WatcherRegistry
	Health   *health.HealthChecker
	Metrics  *monitoring.Metrics
	Logger   *zap.Logger
	Version  string
}

// NewRouter 创建状态/指标 HTTP 路由。
func NewRouter(deps RouterDependencies) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(deps.Logger))

	startedAt := time.Now()

	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "Bot is running!",
			"timestamp":   time.Now().UTC().Format(time.RFC3339),
			"uptime":      time.Since(startedAt).Seconds(),
			"connections": deps.Watchers.Count(),
			"version":     deps.Version,
		})
	})

	router.GET("/stats", func(c *gin.Context) {
		mailboxCount, err := deps.Store.CountMailboxes()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		messageCount, err := deps.Store.CountMessages()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"total_emails":       mailboxCount,
			"total_messages":     messageCount,
			"active_connections": deps.Watchers.Count(),
			"uptime":             time.Since(startedAt).Seconds(),
		})
	})

	router.GET("/health/live", gin.WrapH(deps.Health.LiveHandler()))
	router.GET("/health/ready", gin.WrapH(deps.Health.ReadyHandler()))
	router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))

	return router
}

// requestLogger 结构化记录每个请求。
func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	}
}
