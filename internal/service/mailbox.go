package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"tempmail/bot/internal/domain"
	"tempmail/bot/internal/monitoring"
	"tempmail/bot/internal/provider"
	"tempmail/bot/internal/storage"
)

var (
	// ErrInvalidAddress 地址格式非法
	ErrInvalidAddress = errors.New("invalid email address")
	// ErrNoActiveMailbox 用户没有活跃邮箱
	ErrNoActiveMailbox = errors.New("no active mailbox")
)

var addressPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ProviderAPI 服务层依赖的上游客户端能力。
type ProviderAPI interface {
	ListDomains(ctx context.Context) string
	CreateAccount(ctx context.Context, address, secret string) (*provider.Account, error)
	GetToken(ctx context.Context, address, secret string) (string, error)
	ListMessages(ctx context.Context, token string) []provider.MessageSummary
}

// WatchStarter 由监督器实现，服务层只负责触发。
type WatchStarter interface {
	Start(mailbox *domain.Mailbox)
}

// MailboxService 封装邮箱的开通、找回与收件箱查询。
type MailboxService struct {
	store   storage.Store
	api     ProviderAPI
	watch   WatchStarter
	metrics *monitoring.Metrics
	log     *zap.Logger

	randMu   sync.Mutex
	random   *rand.Rand
	alphabet []rune
}

// NewMailboxService 创建邮箱业务服务。
func NewMailboxService(store storage.Store, api ProviderAPI, watch WatchStarter, metrics *monitoring.Metrics, log *zap.Logger) *MailboxService {
	return &MailboxService{
		store:    store,
		api:      api,
		watch:    watch,
		metrics:  metrics,
		log:      log,
		random:   rand.New(rand.NewSource(time.Now().UnixNano())),
		alphabet: []rune("abcdefghijklmnopqrstuvwxyz0123456789"),
	}
}

// Provision 开通一个新邮箱：上游建号、换取令牌、落库、启动监听。
// 上游拒绝开通（ProvisionError）原样上抛给调用方，不自动重试。
func (s *MailboxService) Provision(ctx context.Context, ownerID int64) (*domain.Mailbox, error) {
	domainName := s.api.ListDomains(ctx)
	address := fmt.Sprintf("%s@%s", s.randomString(12), domainName)
	secret := s.randomString(16)

	account, err := s.api.CreateAccount(ctx, address, secret)
	if err != nil {
		return nil, err
	}
	if account.Address != "" {
		address = account.Address
	}

	token, err := s.api.GetToken(ctx, address, secret)
	if err != nil {
		return nil, err
	}

	mailbox := &domain.Mailbox{
		Address:   address,
		Secret:    secret,
		Token:     token,
		AccountID: account.ID,
		OwnerID:   ownerID,
		Active:    true,
	}
	if err := s.store.UpsertMailbox(mailbox); err != nil {
		return nil, err
	}

	s.watch.Start(mailbox)
	s.metrics.MailboxesProvisioned.Inc()
	s.log.Info("mailbox provisioned",
		zap.String("mailbox", address),
		zap.Int64("owner_id", ownerID))
	return mailbox, nil
}

// Recover 把既有邮箱的通知归属转移给新用户，并刷新令牌、重启监听。
// 只改写既有记录——address 唯一且不可变，找回绝不新建行。
// 令牌刷新失败不阻断找回本身，监听会在下一次认证失效时再尝试。
func (s *MailboxService) Recover(ctx context.Context, address string, newOwnerID int64) (*domain.Mailbox, error) {
	address = strings.ToLower(strings.TrimSpace(address))
	if !addressPattern.MatchString(address) {
		return nil, ErrInvalidAddress
	}

	mailbox, err := s.store.GetMailboxByAddress(address)
	if err != nil {
		return nil, err
	}

	if err := s.store.UpdateOwner(address, newOwnerID); err != nil {
		return nil, err
	}
	if err := s.store.SetActive(address, true); err != nil {
		return nil, err
	}
	mailbox.OwnerID = newOwnerID
	mailbox.Active = true

	token, err := s.api.GetToken(ctx, address, mailbox.Secret)
	if err != nil {
		s.log.Warn("token refresh failed during recovery",
			zap.String("mailbox", address), zap.Error(err))
	} else {
		if err := s.store.UpdateToken(address, token); err != nil {
			s.log.Error("failed to persist token after recovery",
				zap.String("mailbox", address), zap.Error(err))
		}
		mailbox.Token = token
		if mailbox.AccountID != "" {
			s.watch.Start(mailbox)
		}
	}

	s.metrics.MailboxesRecovered.Inc()
	s.log.Info("mailbox recovered",
		zap.String("mailbox", address),
		zap.Int64("owner_id", newOwnerID))
	return mailbox, nil
}

// Inbox 查询用户当前活跃邮箱的收件箱（尽力而为，走上游实时列表）。
func (s *MailboxService) Inbox(ctx context.Context, ownerID int64) (string, []provider.MessageSummary, error) {
	mailbox, err := s.store.GetActiveMailboxByOwner(ownerID)
	if err != nil {
		if errors.Is(err, storage.ErrMailboxNotFound) {
			return "", nil, ErrNoActiveMailbox
		}
		return "", nil, err
	}
	return mailbox.Address, s.api.ListMessages(ctx, mailbox.Token), nil
}

// ListOwned 返回用户名下的邮箱列表。
func (s *MailboxService) ListOwned(ownerID int64, limit int) ([]domain.Mailbox, error) {
	return s.store.ListMailboxesByOwner(ownerID, limit)
}

// randomString 生成小写字母数字随机串，用于邮箱前缀与密码。
func (s *MailboxService) randomString(length int) string {
	s.randMu.Lock()
	defer s.randMu.Unlock()

	out := make([]rune, length)
	for i := range out {
		out[i] = s.alphabet[s.random.Intn(len(s.alphabet))]
	}
	return string(out)
}
