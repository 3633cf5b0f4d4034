package health

import (
	"context"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"

	"tempmail/bot/internal/storage"
)

// ProviderPinger 探测上游服务商可达性。
type ProviderPinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker 健康检查器
type HealthChecker struct {
	health healthcheck.Handler
}

// NewHealthChecker 创建健康检查器。
//
// 存活检查：数据库连接、协程数量。
// 就绪检查：上游服务商可达性（异步探测，避免每次探活都打上游）。
func NewHealthChecker(store storage.Store, pinger ProviderPinger, log *zap.Logger) *HealthChecker {
	hc := &HealthChecker{health: healthcheck.NewHandler()}

	hc.health.AddLivenessCheck("database", func() error {
		return store.Health()
	})
	hc.health.AddLivenessCheck("goroutine-count", healthcheck.GoroutineCountCheck(500))

	hc.health.AddReadinessCheck("provider", healthcheck.Async(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return pinger.Ping(ctx)
	}, 30*time.Second))

	return hc
}

// LiveHandler 返回存活检查处理器。
func (hc *HealthChecker) LiveHandler() http.Handler {
	return http.HandlerFunc(hc.health.LiveEndpoint)
}

// ReadyHandler 返回就绪检查处理器。
func (hc *HealthChecker) ReadyHandler() http.Handler {
	return http.HandlerFunc(hc.health.ReadyEndpoint)
}
