package watch

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"tempmail/bot/internal/domain"
	"tempmail/bot/internal/monitoring"
	"tempmail/bot/internal/provider"
)

// CredentialStore 监督器所需的凭证存取能力（Credential Store 的子集）。
type CredentialStore interface {
	GetMailboxByAddress(address string) (*domain.Mailbox, error)
	ListActiveMailboxes(updatedSince time.Time) ([]domain.Mailbox, error)
	UpdateToken(address, token string) error
	SetActive(address string, active bool) error
}

// TokenSource 用账户密钥换取新令牌（Provider Client 的子集）。
type TokenSource interface {
	GetToken(ctx context.Context, address, secret string) (string, error)
}

// SupervisorConfig 监督器行为参数。
type SupervisorConfig struct {
	Watcher        WatcherConfig
	RestoreWindow  time.Duration // 进程启动恢复时只认这个窗口内有活动的邮箱
	RestoreStagger time.Duration // 恢复时相邻监听器的启动间隔
}

// Supervisor 维护 address → 监听器 的注册表，保证任一时刻每个地址
// 至多一个活动监听器。替换监听器时先同步停掉旧的再创建新的，
// 避免同一邮箱的两条并发订阅产生重复通知（地址找回时真实存在的隐患）。
type Supervisor struct {
	cfg        SupervisorConfig
	store      CredentialStore
	tokens     TokenSource
	subscriber provider.Subscriber
	fetcher    MessageFetcher
	sink       FactSink
	clock      Clock
	metrics    *monitoring.Metrics
	log        *zap.Logger

	baseCtx context.Context
	cancel  context.CancelFunc

	mu      sync.Mutex
	entries map[string]*entry
}

// entry 的互斥锁把同一地址上的 Start/Stop 序列化；
// 不同地址互不阻塞，全局锁只保护注册表本身。
type entry struct {
	mu      sync.Mutex
	watcher *Watcher
}

// NewSupervisor 创建监督器。
func NewSupervisor(
	cfg SupervisorConfig,
	store CredentialStore,
	tokens TokenSource,
	subscriber provider.Subscriber,
	fetcher MessageFetcher,
	sink FactSink,
	clock Clock,
	metrics *monitoring.Metrics,
	log *zap.Logger,
) *Supervisor {
	baseCtx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		cfg:        cfg,
		store:      store,
		tokens:     tokens,
		subscriber: subscriber,
		fetcher:    fetcher,
		sink:       sink,
		clock:      clock,
		metrics:    metrics,
		log:        log,
		baseCtx:    baseCtx,
		cancel:     cancel,
		entries:    make(map[string]*entry),
	}
}

func (s *Supervisor) entry(address string) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[address]
	if !ok {
		e = &entry{}
		s.entries[address] = e
	}
	return e
}

// Start 为邮箱启动监听器，幂等：已有监听器时先同步停掉再替换。
// 返回时新监听器已开始连接；连接本身是异步的。
func (s *Supervisor) Start(mailbox *domain.Mailbox) {
	e := s.entry(mailbox.Address)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.watcher != nil {
		e.watcher.Stop()
		e.watcher = nil
	}
	if s.baseCtx.Err() != nil {
		return
	}

	w := newWatcher(
		mailbox.Address,
		mailbox.AccountID,
		mailbox.Token,
		s.cfg.Watcher,
		s.subscriber,
		s.fetcher,
		s,
		s.sink,
		s.clock,
		s.metrics,
		s.log,
	)
	e.watcher = w
	go w.run(s.baseCtx)

	s.log.Info("watcher started", zap.String("mailbox", mailbox.Address))
}

// Stop 停掉地址上的监听器；不存在时为空操作。
func (s *Supervisor) Stop(address string) {
	s.mu.Lock()
	e, ok := s.entries[address]
	s.mu.Unlock()
	if !ok {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.watcher != nil {
		e.watcher.Stop()
		e.watcher = nil
		s.log.Info("watcher stopped", zap.String("mailbox", address))
	}
}

// RefreshToken 在监听器报告认证失效时换取新令牌并落库。
// 密钥本身被上游拒绝（账户已在上游删除）时停用邮箱并返回 AuthError，
// 监听器据此永久关闭而不再重试。
func (s *Supervisor) RefreshToken(ctx context.Context, address string) (string, error) {
	mailbox, err := s.store.GetMailboxByAddress(address)
	if err != nil {
		return "", err
	}

	token, err := s.tokens.GetToken(ctx, address, mailbox.Secret)
	if err != nil {
		if provider.IsAuth(err) {
			s.log.Warn("mailbox secret rejected upstream, deactivating",
				zap.String("mailbox", address), zap.Error(err))
			if derr := s.store.SetActive(address, false); derr != nil {
				s.log.Error("failed to deactivate mailbox", zap.String("mailbox", address), zap.Error(derr))
			}
		}
		return "", err
	}

	if err := s.store.UpdateToken(address, token); err != nil {
		s.log.Error("failed to persist refreshed token", zap.String("mailbox", address), zap.Error(err))
	}
	s.metrics.TokenRefreshes.Inc()
	s.log.Info("provider token refreshed", zap.String("mailbox", address))
	return token, nil
}

// Deactivate 停用邮箱，监听器在耗尽认证重试后调用。
// 停用后 RestoreAll 不再恢复这个地址的监听。
func (s *Supervisor) Deactivate(address string) {
	if err := s.store.SetActive(address, false); err != nil {
		s.log.Error("failed to deactivate mailbox", zap.String("mailbox", address), zap.Error(err))
		return
	}
	s.log.Warn("mailbox deactivated after exhausting auth retries", zap.String("mailbox", address))
}

// RestoreAll 在进程启动时为窗口内有活动的全部活跃邮箱恢复监听，
// 相邻启动之间错峰固定间隔，避免对上游和消息前端的惊群。
func (s *Supervisor) RestoreAll(ctx context.Context) error {
	since := s.clock.Now().Add(-s.cfg.RestoreWindow)
	mailboxes, err := s.store.ListActiveMailboxes(since)
	if err != nil {
		return err
	}

	s.log.Info("restoring mailbox watchers", zap.Int("count", len(mailboxes)))
	for i := range mailboxes {
		if i > 0 {
			if err := s.clock.Sleep(ctx, s.cfg.RestoreStagger); err != nil {
				return err
			}
		}
		s.Start(&mailboxes[i])
	}
	return nil
}

// Count 返回注册表中仍在运行的监听器数量。
func (s *Supervisor) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, e := range s.entries {
		e.mu.Lock()
		if e.watcher != nil && e.watcher.State() != StateClosed {
			count++
		}
		e.mu.Unlock()
	}
	return count
}

// Shutdown 停掉全部监听器并等待退出。
func (s *Supervisor) Shutdown() {
	s.cancel()

	s.mu.Lock()
	entries := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	for _, e := range entries {
		e.mu.Lock()
		if e.watcher != nil {
			e.watcher.Stop()
			e.watcher = nil
		}
		e.mu.Unlock()
	}
	s.log.Info("all watchers stopped")
}
