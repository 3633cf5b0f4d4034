package domain

import "time"

// Message 表示某个邮箱收到的一封邮件，首次入库后不再变更。
//
// (MailboxAddress, MessageID) 上的唯一索引是通知去重的唯一依据：
// 监听器重连或两个监听器竞争时，重复事件会在插入阶段被拒绝。
type Message struct {
	ID             string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	MailboxAddress string    `json:"mailboxAddress" gorm:"type:varchar(255);uniqueIndex:idx_mailbox_message;not null"`
	MessageID      string    `json:"messageId" gorm:"type:varchar(255);uniqueIndex:idx_mailbox_message;not null"` // 服务商下发的邮件标识
	Sender         string    `json:"sender" gorm:"type:varchar(255)"`
	Subject        string    `json:"subject" gorm:"type:varchar(500)"`
	TextBody       string    `json:"textBody" gorm:"type:text"`
	HTMLBody       string    `json:"htmlBody" gorm:"type:text"`
	ReceivedAt     time.Time `json:"receivedAt" gorm:"index"`
}
