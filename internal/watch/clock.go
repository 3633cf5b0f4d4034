package watch

import (
	"context"
	"time"
)

// Clock 抽象时间操作，让退避与启动错峰可以在测试中脱离真实计时器。
type Clock interface {
	Now() time.Time
	// Sleep 等待指定时长；ctx 取消时提前返回 ctx.Err()。
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

// NewClock 返回真实时钟。
func NewClock() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
