package watch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"tempmail/bot/internal/monitoring"
	"tempmail/bot/internal/provider"
)

// 本文件集中放置 watch 包测试共用的测试替身。

func testMetrics() *monitoring.Metrics {
	return monitoring.NewMetricsWithRegistry(prometheus.NewRegistry())
}

func testWatcherConfig() WatcherConfig {
	return WatcherConfig{
		KeepaliveInterval: 50 * time.Millisecond,
		BackoffInitial:    time.Second,
		BackoffMax:        30 * time.Second,
		AuthRetryLimit:    3,
	}
}

// fakeClock 立即返回的时钟，记录全部等待请求。
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return ctx.Err()
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.sleeps))
	copy(out, c.sleeps)
	return out
}

// fakeSubscription 用通道模拟一条推送连接。
type fakeSubscription struct {
	events    chan *provider.Event
	closed    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	pingErr error
}

func newFakeSubscription() *fakeSubscription {
	return &fakeSubscription{
		events: make(chan *provider.Event, 16),
		closed: make(chan struct{}),
	}
}

func (s *fakeSubscription) push(eventType, messageID string) {
	event := &provider.Event{Type: eventType}
	event.Data.ID = messageID
	s.events <- event
}

func (s *fakeSubscription) failPing(err error) {
	s.mu.Lock()
	s.pingErr = err
	s.mu.Unlock()
}

func (s *fakeSubscription) Next() (*provider.Event, error) {
	select {
	case event := <-s.events:
		return event, nil
	case <-s.closed:
		return nil, &provider.TransportError{Op: "read", Err: errors.New("connection closed")}
	}
}

func (s *fakeSubscription) Ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pingErr
}

func (s *fakeSubscription) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

// fakeSubscriber 按脚本应答 Subscribe 调用。
type fakeSubscriber struct {
	mu     sync.Mutex
	script func(call int, accountID, token string) (provider.Subscription, error)
	calls  int
	tokens []string
}

func (s *fakeSubscriber) Subscribe(_ context.Context, accountID, token string) (provider.Subscription, error) {
	s.mu.Lock()
	call := s.calls
	s.calls++
	s.tokens = append(s.tokens, token)
	script := s.script
	s.mu.Unlock()
	return script(call, accountID, token)
}

func (s *fakeSubscriber) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *fakeSubscriber) seenTokens() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.tokens))
	copy(out, s.tokens)
	return out
}

// fakeFetcher 按 messageID 返回预置的邮件详情。
type fakeFetcher struct {
	mu      sync.Mutex
	details map[string]*provider.MessageDetail
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{details: make(map[string]*provider.MessageDetail)}
}

func (f *fakeFetcher) add(detail *provider.MessageDetail) {
	f.mu.Lock()
	f.details[detail.ID] = detail
	f.mu.Unlock()
}

func (f *fakeFetcher) GetMessage(_ context.Context, _ string, id string) *provider.MessageDetail {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.details[id]
}

// fakeRefresher 记录令牌刷新与停用请求并按脚本应答。
type fakeRefresher struct {
	mu          sync.Mutex
	tokens      []string
	err         error
	calls       int
	deactivated []string
}

func (r *fakeRefresher) RefreshToken(_ context.Context, _ string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return "", r.err
	}
	if len(r.tokens) == 0 {
		return "refreshed-token", nil
	}
	token := r.tokens[0]
	if len(r.tokens) > 1 {
		r.tokens = r.tokens[1:]
	}
	return token, nil
}

func (r *fakeRefresher) Deactivate(address string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deactivated = append(r.deactivated, address)
}

func (r *fakeRefresher) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func (r *fakeRefresher) deactivatedAddresses() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.deactivated...)
}

// fakeSink 收集产出的事实。
type fakeSink struct {
	mu    sync.Mutex
	facts []Fact
}

func (s *fakeSink) Enqueue(fact Fact) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.facts = append(s.facts, fact)
	return true
}

func (s *fakeSink) all() []Fact {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Fact, len(s.facts))
	copy(out, s.facts)
	return out
}

func testLogger() *zap.Logger { return zap.NewNop() }
