package postgres

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"tempmail/bot/internal/domain"
	"tempmail/bot/internal/storage"
)

// Store 基于 GORM 的关系型存储实现，同时支持 PostgreSQL 与 MySQL。
type Store struct {
	db *gorm.DB
}

// NewStore 创建 PostgreSQL 存储实例。
func NewStore(dsn string, maxOpen, maxIdle int, connMaxLifetime time.Duration) (*Store, error) {
	return NewStoreWithDialector(postgres.Open(dsn), maxOpen, maxIdle, connMaxLifetime)
}

// NewMySQLStore 创建 MySQL 存储实例。
func NewMySQLStore(dsn string, maxOpen, maxIdle int, connMaxLifetime time.Duration) (*Store, error) {
	return NewStoreWithDialector(mysql.Open(dsn), maxOpen, maxIdle, connMaxLifetime)
}

// NewStoreWithDialector 使用指定的 GORM dialector 创建存储实例。
func NewStoreWithDialector(dialector gorm.Dialector, maxOpen, maxIdle int, connMaxLifetime time.Duration) (*Store, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)

	store := &Store{db: db}
	if err := store.Migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Migrate 自动迁移数据库表结构。
func (s *Store) Migrate() error {
	return s.db.AutoMigrate(
		&domain.Mailbox{},
		&domain.Message{},
	)
}

// ========== MailboxRepository ==========

// UpsertMailbox 按 address 写入或更新邮箱记录。
func (s *Store) UpsertMailbox(mailbox *domain.Mailbox) error {
	mailbox.Address = normalize(mailbox.Address)
	return s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "address"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"secret", "token", "account_id", "owner_id", "active", "updated_at",
		}),
	}).Create(mailbox).Error
}

// GetMailboxByAddress 按地址查询邮箱。
func (s *Store) GetMailboxByAddress(address string) (*domain.Mailbox, error) {
	var mailbox domain.Mailbox
	err := s.db.Where("address = ?", normalize(address)).First(&mailbox).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storage.ErrMailboxNotFound
	}
	if err != nil {
		return nil, err
	}
	return &mailbox, nil
}

// GetActiveMailboxByOwner 返回用户最近更新的活跃邮箱。
func (s *Store) GetActiveMailboxByOwner(ownerID int64) (*domain.Mailbox, error) {
	var mailbox domain.Mailbox
	err := s.db.
		Where("owner_id = ? AND active = ?", ownerID, true).
		Order("updated_at DESC").
		First(&mailbox).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storage.ErrMailboxNotFound
	}
	if err != nil {
		return nil, err
	}
	return &mailbox, nil
}

// ListMailboxesByOwner 返回用户的邮箱列表，按创建时间倒序。
func (s *Store) ListMailboxesByOwner(ownerID int64, limit int) ([]domain.Mailbox, error) {
	var mailboxes []domain.Mailbox
	query := s.db.Where("owner_id = ?", ownerID).Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&mailboxes).Error; err != nil {
		return nil, err
	}
	return mailboxes, nil
}

// ListActiveMailboxes 返回指定时间之后仍有活动、且持有令牌的活跃邮箱。
func (s *Store) ListActiveMailboxes(updatedSince time.Time) ([]domain.Mailbox, error) {
	var mailboxes []domain.Mailbox
	err := s.db.
		Where("active = ? AND token <> '' AND updated_at >= ?", true, updatedSince).
		Order("updated_at DESC").
		Find(&mailboxes).Error
	if err != nil {
		return nil, err
	}
	return mailboxes, nil
}

// UpdateToken 以单行原子更新写入新令牌。
func (s *Store) UpdateToken(address, token string) error {
	result := s.db.Model(&domain.Mailbox{}).
		Where("address = ?", normalize(address)).
		Update("token", token)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return storage.ErrMailboxNotFound
	}
	return nil
}

// UpdateOwner 以单行原子更新转移邮箱归属。
func (s *Store) UpdateOwner(address string, ownerID int64) error {
	result := s.db.Model(&domain.Mailbox{}).
		Where("address = ?", normalize(address)).
		Update("owner_id", ownerID)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return storage.ErrMailboxNotFound
	}
	return nil
}

// SetActive 以单行原子更新切换活跃标记。
func (s *Store) SetActive(address string, active bool) error {
	result := s.db.Model(&domain.Mailbox{}).
		Where("address = ?", normalize(address)).
		Update("active", active)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return storage.ErrMailboxNotFound
	}
	return nil
}

// CountMailboxes 返回邮箱总数。
func (s *Store) CountMailboxes() (int64, error) {
	var count int64
	err := s.db.Model(&domain.Mailbox{}).Count(&count).Error
	return count, err
}

// ========== MessageRepository ==========

// InsertMessage 插入一封邮件。依赖 (mailbox_address, message_id) 唯一索引，
// 冲突时不落盘并返回 ErrDuplicateMessage。
func (s *Store) InsertMessage(message *domain.Message) error {
	message.MailboxAddress = normalize(message.MailboxAddress)
	if message.ReceivedAt.IsZero() {
		message.ReceivedAt = time.Now().UTC()
	}

	result := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "mailbox_address"}, {Name: "message_id"}},
		DoNothing: true,
	}).Create(message)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return storage.ErrDuplicateMessage
	}
	return nil
}

// ListMessages 返回邮箱的邮件列表，按接收时间倒序。
func (s *Store) ListMessages(address string, limit int) ([]domain.Message, error) {
	var messages []domain.Message
	query := s.db.Where("mailbox_address = ?", normalize(address)).Order("received_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&messages).Error; err != nil {
		return nil, err
	}
	return messages, nil
}

// DeleteMessagesBefore 删除早于指定时间的邮件，返回删除数量。
func (s *Store) DeleteMessagesBefore(before time.Time) (int, error) {
	result := s.db.Where("received_at < ?", before).Delete(&domain.Message{})
	return int(result.RowsAffected), result.Error
}

// CountMessages 返回邮件总数。
func (s *Store) CountMessages() (int64, error) {
	var count int64
	err := s.db.Model(&domain.Message{}).Count(&count).Error
	return count, err
}

// Health 检查数据库连接。
func (s *Store) Health() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// Close 关闭数据库连接池。
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func normalize(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}
