package service

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tempmail/bot/internal/domain"
	"tempmail/bot/internal/monitoring"
	"tempmail/bot/internal/provider"
	"tempmail/bot/internal/storage"
	"tempmail/bot/internal/storage/memory"
)

type fakeProvider struct {
	domain       string
	createErr    error
	tokenErr     error
	messages     []provider.MessageSummary
	lastAddress  string
	lastSecret   string
	tokensIssued int
}

func (p *fakeProvider) ListDomains(_ context.Context) string {
	if p.domain == "" {
		return "x.example"
	}
	return p.domain
}

func (p *fakeProvider) CreateAccount(_ context.Context, address, secret string) (*provider.Account, error) {
	if p.createErr != nil {
		return nil, p.createErr
	}
	p.lastAddress = address
	p.lastSecret = secret
	return &provider.Account{ID: "acct-1", Address: address}, nil
}

func (p *fakeProvider) GetToken(_ context.Context, _, _ string) (string, error) {
	if p.tokenErr != nil {
		return "", p.tokenErr
	}
	p.tokensIssued++
	return "jwt-token", nil
}

func (p *fakeProvider) ListMessages(_ context.Context, _ string) []provider.MessageSummary {
	return p.messages
}

type fakeStarter struct {
	started []string
}

func (f *fakeStarter) Start(mailbox *domain.Mailbox) {
	f.started = append(f.started, mailbox.Address)
}

func newService(store storage.Store, api ProviderAPI, starter WatchStarter) *MailboxService {
	metrics := monitoring.NewMetricsWithRegistry(prometheus.NewRegistry())
	return NewMailboxService(store, api, starter, metrics, zap.NewNop())
}

func TestProvisionCreatesAndStartsWatch(t *testing.T) {
	store := memory.NewStore()
	api := &fakeProvider{}
	starter := &fakeStarter{}
	s := newService(store, api, starter)

	mb, err := s.Provision(context.Background(), 42)
	require.NoError(t, err)

	assert.True(t, strings.HasSuffix(mb.Address, "@x.example"))
	assert.Equal(t, "jwt-token", mb.Token)
	assert.Equal(t, "acct-1", mb.AccountID)
	assert.Equal(t, int64(42), mb.OwnerID)
	assert.True(t, mb.Active)
	assert.Len(t, mb.Secret, 16)

	stored, err := store.GetMailboxByAddress(mb.Address)
	require.NoError(t, err)
	assert.Equal(t, mb.Secret, stored.Secret)

	require.Len(t, starter.started, 1)
	assert.Equal(t, mb.Address, starter.started[0])
}

func TestProvisionPropagatesProvisionError(t *testing.T) {
	api := &fakeProvider{createErr: &provider.ProvisionError{Status: 422, Detail: "address already used"}}
	starter := &fakeStarter{}
	s := newService(memory.NewStore(), api, starter)

	_, err := s.Provision(context.Background(), 42)
	var perr *provider.ProvisionError
	require.ErrorAs(t, err, &perr)
	assert.Empty(t, starter.started)
}

func TestProvisionFailsWhenTokenUnavailable(t *testing.T) {
	api := &fakeProvider{tokenErr: &provider.AuthError{Op: "get_token", Status: 401}}
	starter := &fakeStarter{}
	store := memory.NewStore()
	s := newService(store, api, starter)

	_, err := s.Provision(context.Background(), 42)
	require.Error(t, err)
	assert.Empty(t, starter.started)

	count, err := store.CountMailboxes()
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestRecoverRepointsOwner(t *testing.T) {
	store := memory.NewStore()
	require.NoError(t, store.UpsertMailbox(&domain.Mailbox{
		Address:   "abc@x.example",
		Secret:    "old-secret",
		Token:     "old-token",
		AccountID: "acct-1",
		OwnerID:   42,
		Active:    false,
	}))
	api := &fakeProvider{}
	starter := &fakeStarter{}
	s := newService(store, api, starter)

	mb, err := s.Recover(context.Background(), "  ABC@X.EXAMPLE ", 77)
	require.NoError(t, err)
	assert.Equal(t, int64(77), mb.OwnerID)
	assert.True(t, mb.Active)
	assert.Equal(t, "jwt-token", mb.Token)

	stored, err := store.GetMailboxByAddress("abc@x.example")
	require.NoError(t, err)
	assert.Equal(t, int64(77), stored.OwnerID)
	assert.True(t, stored.Active)
	assert.Equal(t, "jwt-token", stored.Token)

	// 找回绝不新建记录
	count, err := store.CountMailboxes()
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	require.Len(t, starter.started, 1)
}

func TestRecoverRejectsMalformedAddress(t *testing.T) {
	s := newService(memory.NewStore(), &fakeProvider{}, &fakeStarter{})

	for _, address := range []string{"", "no-at-sign", "a@b", "two @spaces.tld", "@x.tld"} {
		_, err := s.Recover(context.Background(), address, 77)
		assert.ErrorIs(t, err, ErrInvalidAddress, "address %q", address)
	}
}

func TestRecoverUnknownAddress(t *testing.T) {
	s := newService(memory.NewStore(), &fakeProvider{}, &fakeStarter{})

	_, err := s.Recover(context.Background(), "ghost@x.example", 77)
	assert.ErrorIs(t, err, storage.ErrMailboxNotFound)
}

func TestRecoverSucceedsWhenTokenRefreshFails(t *testing.T) {
	store := memory.NewStore()
	require.NoError(t, store.UpsertMailbox(&domain.Mailbox{
		Address:   "abc@x.example",
		Secret:    "secret",
		Token:     "old-token",
		AccountID: "acct-1",
		OwnerID:   42,
		Active:    true,
	}))
	api := &fakeProvider{tokenErr: &provider.TransportError{Op: "get_token"}}
	starter := &fakeStarter{}
	s := newService(store, api, starter)

	mb, err := s.Recover(context.Background(), "abc@x.example", 77)
	require.NoError(t, err)
	assert.Equal(t, int64(77), mb.OwnerID)

	// 令牌没刷成就不重启监听，等下次认证失效再续
	assert.Empty(t, starter.started)
}

func TestInboxReturnsActiveMailboxMessages(t *testing.T) {
	store := memory.NewStore()
	require.NoError(t, store.UpsertMailbox(&domain.Mailbox{
		Address: "abc@x.example",
		Token:   "jwt-token",
		OwnerID: 42,
		Active:  true,
	}))
	api := &fakeProvider{messages: []provider.MessageSummary{{ID: "m1", Subject: "hi"}}}
	s := newService(store, api, &fakeStarter{})

	address, messages, err := s.Inbox(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, "abc@x.example", address)
	require.Len(t, messages, 1)
	assert.Equal(t, "m1", messages[0].ID)
}

func TestInboxWithoutActiveMailbox(t *testing.T) {
	s := newService(memory.NewStore(), &fakeProvider{}, &fakeStarter{})

	_, _, err := s.Inbox(context.Background(), 42)
	assert.ErrorIs(t, err, ErrNoActiveMailbox)
}
