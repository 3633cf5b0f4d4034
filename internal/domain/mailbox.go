package domain

import "time"

// Mailbox 表示一个通过上游服务商开通的临时邮箱账户。
//
// Address 全局唯一且创建后不可变；找回流程只会改写既有记录的
// OwnerID / Token / Active，不会新建记录。
type Mailbox struct {
	Address   string    `json:"address" gorm:"primaryKey;type:varchar(255)"`
	Secret    string    `json:"-" gorm:"type:varchar(255);not null"`                // 服务商账户密码，创建后不可变
	Token     string    `json:"-" gorm:"type:text"`                                 // 当前 Bearer 令牌，过期后刷新
	AccountID string    `json:"accountId" gorm:"type:varchar(255);index"`           // 服务商账户句柄，打开推送订阅时使用
	OwnerID   int64     `json:"ownerId" gorm:"index;not null"`                      // 当前接收通知的 Telegram 用户
	Active    bool      `json:"active" gorm:"default:true;index"`                   // false 表示不应再运行监听器
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
