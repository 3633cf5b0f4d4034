package memory

import (
	"sort"
	"strings"
	"sync"
	"time"

	"tempmail/bot/internal/domain"
	"tempmail/bot/internal/storage"
)

// Store 基于内存的存储实现，用于开发环境与测试。
type Store struct {
	mu        sync.RWMutex
	mailboxes map[string]*domain.Mailbox          // address -> mailbox
	messages  map[string][]domain.Message         // address -> messages（按入库顺序）
	seen      map[string]map[string]struct{}      // address -> messageId 集合
}

// NewStore 创建内存存储实例。
func NewStore() *Store {
	return &Store{
		mailboxes: make(map[string]*domain.Mailbox),
		messages:  make(map[string][]domain.Message),
		seen:      make(map[string]map[string]struct{}),
	}
}

// ========== MailboxRepository ==========

// UpsertMailbox 按 address 写入或更新邮箱记录。
func (s *Store) UpsertMailbox(mailbox *domain.Mailbox) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	key := normalize(mailbox.Address)

	if existing, ok := s.mailboxes[key]; ok {
		// address 不可变：只覆盖可变字段
		existing.Secret = mailbox.Secret
		existing.Token = mailbox.Token
		existing.AccountID = mailbox.AccountID
		existing.OwnerID = mailbox.OwnerID
		existing.Active = mailbox.Active
		existing.UpdatedAt = now
		return nil
	}

	clone := *mailbox
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = now
	}
	clone.UpdatedAt = now
	s.mailboxes[key] = &clone
	return nil
}

// GetMailboxByAddress 按地址查询邮箱。
func (s *Store) GetMailboxByAddress(address string) (*domain.Mailbox, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mailbox, ok := s.mailboxes[normalize(address)]
	if !ok {
		return nil, storage.ErrMailboxNotFound
	}
	clone := *mailbox
	return &clone, nil
}

// GetActiveMailboxByOwner 返回用户最近更新的活跃邮箱。
func (s *Store) GetActiveMailboxByOwner(ownerID int64) (*domain.Mailbox, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *domain.Mailbox
	for _, mailbox := range s.mailboxes {
		if mailbox.OwnerID != ownerID || !mailbox.Active {
			continue
		}
		if latest == nil || mailbox.UpdatedAt.After(latest.UpdatedAt) {
			latest = mailbox
		}
	}
	if latest == nil {
		return nil, storage.ErrMailboxNotFound
	}
	clone := *latest
	return &clone, nil
}

// ListMailboxesByOwner 返回用户的邮箱列表，按创建时间倒序。
func (s *Store) ListMailboxesByOwner(ownerID int64, limit int) ([]domain.Mailbox, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Mailbox, 0)
	for _, mailbox := range s.mailboxes {
		if mailbox.OwnerID == ownerID {
			out = append(out, *mailbox)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListActiveMailboxes 返回指定时间之后仍有活动的活跃邮箱。
func (s *Store) ListActiveMailboxes(updatedSince time.Time) ([]domain.Mailbox, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Mailbox, 0)
	for _, mailbox := range s.mailboxes {
		if mailbox.Active && mailbox.Token != "" && !mailbox.UpdatedAt.Before(updatedSince) {
			out = append(out, *mailbox)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// UpdateToken 更新邮箱的访问令牌。
func (s *Store) UpdateToken(address, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mailbox, ok := s.mailboxes[normalize(address)]
	if !ok {
		return storage.ErrMailboxNotFound
	}
	mailbox.Token = token
	mailbox.UpdatedAt = time.Now().UTC()
	return nil
}

// UpdateOwner 把邮箱的通知归属转移给新用户。
func (s *Store) UpdateOwner(address string, ownerID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mailbox, ok := s.mailboxes[normalize(address)]
	if !ok {
		return storage.ErrMailboxNotFound
	}
	mailbox.OwnerID = ownerID
	mailbox.UpdatedAt = time.Now().UTC()
	return nil
}

// SetActive 切换邮箱的活跃标记。
func (s *Store) SetActive(address string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mailbox, ok := s.mailboxes[normalize(address)]
	if !ok {
		return storage.ErrMailboxNotFound
	}
	mailbox.Active = active
	mailbox.UpdatedAt = time.Now().UTC()
	return nil
}

// CountMailboxes 返回邮箱总数。
func (s *Store) CountMailboxes() (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.mailboxes)), nil
}

// ========== MessageRepository ==========

// InsertMessage 插入一封邮件，重复时返回 ErrDuplicateMessage。
func (s *Store) InsertMessage(message *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := normalize(message.MailboxAddress)
	ids, ok := s.seen[key]
	if !ok {
		ids = make(map[string]struct{})
		s.seen[key] = ids
	}
	if _, dup := ids[message.MessageID]; dup {
		return storage.ErrDuplicateMessage
	}

	clone := *message
	if clone.ReceivedAt.IsZero() {
		clone.ReceivedAt = time.Now().UTC()
	}
	ids[message.MessageID] = struct{}{}
	s.messages[key] = append(s.messages[key], clone)
	return nil
}

// ListMessages 返回邮箱的邮件列表，按接收时间倒序。
func (s *Store) ListMessages(address string, limit int) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.messages[normalize(address)]
	out := make([]domain.Message, len(stored))
	copy(out, stored)
	sort.Slice(out, func(i, j int) bool {
		return out[i].ReceivedAt.After(out[j].ReceivedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DeleteMessagesBefore 删除早于指定时间的邮件，返回删除数量。
func (s *Store) DeleteMessagesBefore(before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for key, stored := range s.messages {
		kept := stored[:0]
		for _, message := range stored {
			if message.ReceivedAt.Before(before) {
				delete(s.seen[key], message.MessageID)
				deleted++
				continue
			}
			kept = append(kept, message)
		}
		s.messages[key] = kept
	}
	return deleted, nil
}

// CountMessages 返回邮件总数。
func (s *Store) CountMessages() (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total int64
	for _, stored := range s.messages {
		total += int64(len(stored))
	}
	return total, nil
}

// Health 检查存储可用性，内存实现恒为健康。
func (s *Store) Health() error { return nil }

// Close 关闭存储。
func (s *Store) Close() error { return nil }

func normalize(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}
