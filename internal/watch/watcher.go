package watch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"tempmail/bot/internal/monitoring"
	"tempmail/bot/internal/provider"
)

// Fact 表示一次新邮件事件，由监听器产出、投递器消费，产出后不可变。
type Fact struct {
	Address    string
	MessageID  string
	Sender     string
	Subject    string
	TextBody   string
	HTMLBody   string
	ReceivedAt time.Time
}

// State 监听器状态机。
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "closed"
	}
}

// MessageFetcher 拉取邮件详情（Provider Client 的子集）。
type MessageFetcher interface {
	GetMessage(ctx context.Context, token, id string) *provider.MessageDetail
}

// TokenRefresher 由监督器实现：换取新令牌并落库，密钥被拒时停用邮箱。
type TokenRefresher interface {
	RefreshToken(ctx context.Context, address string) (string, error)
	// Deactivate 在监听器耗尽认证重试后标记邮箱停用，
	// 之后的启动恢复不再拉起这个邮箱。
	Deactivate(address string)
}

// FactSink 接收新邮件事实；必须立即返回，不得阻塞监听器的接收循环。
type FactSink interface {
	Enqueue(fact Fact) bool
}

// WatcherConfig 监听器行为参数。
type WatcherConfig struct {
	KeepaliveInterval time.Duration // 保活探测间隔
	BackoffInitial    time.Duration // 重连退避起始值
	BackoffMax        time.Duration // 重连退避上限
	AuthRetryLimit    int           // 连续令牌刷新上限，超过后放弃
}

// Watcher 为单个邮箱维持一条推送订阅：
// Connecting → Open → (Reconnecting | Closed)。
//
// token 只在 run 协程内读写；sub 由 mu 保护，Stop 需要在另一个
// 协程里强制关闭当前连接以打断阻塞中的读取。
type Watcher struct {
	address   string
	accountID string
	token     string

	cfg        WatcherConfig
	subscriber provider.Subscriber
	fetcher    MessageFetcher
	refresher  TokenRefresher
	sink       FactSink
	clock      Clock
	metrics    *monitoring.Metrics
	log        *zap.Logger

	state  atomic.Int32
	closed atomic.Bool

	mu     sync.Mutex
	sub    provider.Subscription
	cancel context.CancelFunc
	done   chan struct{}
}

func newWatcher(
	address, accountID, token string,
	cfg WatcherConfig,
	subscriber provider.Subscriber,
	fetcher MessageFetcher,
	refresher TokenRefresher,
	sink FactSink,
	clock Clock,
	metrics *monitoring.Metrics,
	log *zap.Logger,
) *Watcher {
	if cfg.KeepaliveInterval <= 0 {
		cfg.KeepaliveInterval = 30 * time.Second
	}
	return &Watcher{
		address:    address,
		accountID:  accountID,
		token:      token,
		cfg:        cfg,
		subscriber: subscriber,
		fetcher:    fetcher,
		refresher:  refresher,
		sink:       sink,
		clock:      clock,
		metrics:    metrics,
		log:        log.With(zap.String("mailbox", address)),
		done:       make(chan struct{}),
	}
}

// Address 返回监听的邮箱地址。
func (w *Watcher) Address() string { return w.address }

// State 返回当前状态。
func (w *Watcher) State() State { return State(w.state.Load()) }

// Stop 关闭监听器并等待接收循环退出。
// 返回后保证不再产出任何事实：closed 标记先于连接关闭写入，
// 接收循环在每次产出前都会检查该标记。
func (w *Watcher) Stop() {
	if w.closed.Swap(true) {
		<-w.done
		return
	}

	w.mu.Lock()
	if w.cancel != nil {
		w.cancel()
	}
	if w.sub != nil {
		_ = w.sub.Close()
	}
	w.mu.Unlock()

	<-w.done
}

// run 是监听器的主循环，在独立协程中执行直到 Closed。
func (w *Watcher) run(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	w.mu.Lock()
	w.cancel = cancel
	w.mu.Unlock()

	w.metrics.WatchersActive.Inc()
	defer func() {
		w.metrics.WatchersActive.Dec()
		w.state.Store(int32(StateClosed))
		cancel()
		close(w.done)
	}()

	backoff := NewBackoff(w.cfg.BackoffInitial, w.cfg.BackoffMax)
	authAttempts := 0

	for {
		if w.closed.Load() || ctx.Err() != nil {
			return
		}

		w.state.Store(int32(StateConnecting))
		sub, err := w.subscriber.Subscribe(ctx, w.accountID, w.token)
		if err != nil {
			if provider.IsAuth(err) {
				authAttempts++
				if authAttempts > w.cfg.AuthRetryLimit {
					w.metrics.AuthGiveups.Inc()
					// 刷新过的令牌也一直被拒：停用邮箱，否则每次
					// 进程重启的恢复都会重新拉起这条注定失败的订阅
					w.refresher.Deactivate(w.address)
					w.log.Error("mailbox unreachable after exhausting auth retries, deactivated",
						zap.Int("attempts", authAttempts-1))
					return
				}
				token, rerr := w.refresher.RefreshToken(ctx, w.address)
				if rerr != nil {
					if provider.IsAuth(rerr) {
						// 密钥被上游拒绝，监督器已停用邮箱
						w.log.Error("provider rejected mailbox secret, closing watcher", zap.Error(rerr))
						return
					}
					// 刷新本身遇到传输故障：按传输失败退避重试
					if !w.waitReconnect(ctx, backoff) {
						return
					}
					continue
				}
				w.token = token
				continue
			}

			if !w.waitReconnect(ctx, backoff) {
				return
			}
			continue
		}

		w.mu.Lock()
		if w.closed.Load() {
			w.mu.Unlock()
			_ = sub.Close()
			return
		}
		w.sub = sub
		w.mu.Unlock()

		w.state.Store(int32(StateOpen))
		backoff.Reset()
		authAttempts = 0
		w.log.Info("push subscription open")

		err = w.consume(ctx, sub)

		w.mu.Lock()
		w.sub = nil
		w.mu.Unlock()
		_ = sub.Close()

		if w.closed.Load() || ctx.Err() != nil {
			return
		}
		w.log.Warn("push subscription lost", zap.Error(err))
		if !w.waitReconnect(ctx, backoff) {
			return
		}
	}
}

// waitReconnect 进入 Reconnecting 状态并等待退避时长。
// 返回 false 表示上下文已取消。
func (w *Watcher) waitReconnect(ctx context.Context, backoff *Backoff) bool {
	w.state.Store(int32(StateReconnecting))
	w.metrics.WatcherReconnects.Inc()
	delay := backoff.Next()
	w.log.Info("reconnecting", zap.Duration("delay", delay), zap.Int("attempt", backoff.Attempts()))
	return w.clock.Sleep(ctx, delay) == nil
}

// consume 驱动一条已打开订阅的接收循环，直到传输出错。
func (w *Watcher) consume(ctx context.Context, sub provider.Subscription) error {
	stop := make(chan struct{})
	defer close(stop)

	// 保活协程：探测失败时关闭连接，迫使接收循环以传输错误退出
	go func() {
		ticker := time.NewTicker(w.cfg.KeepaliveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := sub.Ping(); err != nil {
					w.log.Warn("keepalive probe failed", zap.Error(err))
					_ = sub.Close()
					return
				}
			}
		}
	}()

	for {
		event, err := sub.Next()
		if err != nil {
			return err
		}
		if w.closed.Load() {
			return nil
		}
		if event.Type != provider.EventNewMessage || event.Data.ID == "" {
			continue
		}
		w.handleEvent(ctx, event.Data.ID)
	}
}

// handleEvent 拉取邮件详情并产出事实。详情拉取允许阻塞本邮箱的
// 接收循环（单个邮箱的延迟不影响其他邮箱），产出则只入队不等待。
func (w *Watcher) handleEvent(ctx context.Context, messageID string) {
	detail := w.fetcher.GetMessage(ctx, w.token, messageID)
	if detail == nil {
		w.log.Warn("message detail unavailable, skipping event", zap.String("message_id", messageID))
		return
	}
	if w.closed.Load() {
		return
	}

	receivedAt := detail.CreatedAt
	if receivedAt.IsZero() {
		receivedAt = w.clock.Now().UTC()
	}

	fact := Fact{
		Address:    w.address,
		MessageID:  detail.ID,
		Sender:     detail.From.Address,
		Subject:    detail.Subject,
		TextBody:   detail.Text,
		HTMLBody:   detail.HTMLBody(),
		ReceivedAt: receivedAt,
	}
	if !w.sink.Enqueue(fact) {
		w.metrics.FactQueueDrops.Inc()
		w.log.Warn("fact queue full, dropping event", zap.String("message_id", detail.ID))
	}
}
