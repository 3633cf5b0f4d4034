package storage

import (
	"errors"
	"time"

	"tempmail/bot/internal/domain"
)

var (
	// ErrMailboxNotFound 邮箱记录不存在
	ErrMailboxNotFound = errors.New("mailbox not found")
	// ErrDuplicateMessage 同一邮箱下的 messageId 已存在，属于正常的去重结果而非故障
	ErrDuplicateMessage = errors.New("duplicate message")
)

// MailboxRepository 定义邮箱凭证数据存取操作。
//
// 令牌刷新与 Active 开关都是按 address 的单行原子更新，
// 核心的全部不变式都以单个邮箱为粒度，不需要跨行事务。
type MailboxRepository interface {
	UpsertMailbox(mailbox *domain.Mailbox) error
	GetMailboxByAddress(address string) (*domain.Mailbox, error)
	GetActiveMailboxByOwner(ownerID int64) (*domain.Mailbox, error)
	ListMailboxesByOwner(ownerID int64, limit int) ([]domain.Mailbox, error)
	ListActiveMailboxes(updatedSince time.Time) ([]domain.Mailbox, error) // 进程重启后恢复监听时使用
	UpdateToken(address, token string) error
	UpdateOwner(address string, ownerID int64) error
	SetActive(address string, active bool) error
	CountMailboxes() (int64, error)
}

// MessageRepository 定义邮件数据存取操作。
type MessageRepository interface {
	// InsertMessage 插入一封邮件；(mailboxAddress, messageId) 已存在时返回 ErrDuplicateMessage。
	InsertMessage(message *domain.Message) error
	ListMessages(address string, limit int) ([]domain.Message, error)
	DeleteMessagesBefore(before time.Time) (int, error) // 留存清理，返回删除数量
	CountMessages() (int64, error)
}

// SessionRepository 定义用户会话状态操作（找回流程的“等待输入”状态）。
type SessionRepository interface {
	SetUserState(userID int64, state string, ttl time.Duration) error
	GetUserState(userID int64) (string, error) // 无状态或已过期时返回空串
	ClearUserState(userID int64) error
}

// Store 聚合核心所需的全部持久化能力。
type Store interface {
	MailboxRepository
	MessageRepository
	Health() error
	Close() error
}
