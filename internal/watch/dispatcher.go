package watch

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tempmail/bot/internal/domain"
	"tempmail/bot/internal/monitoring"
	"tempmail/bot/internal/notify"
	"tempmail/bot/internal/storage"
)

// Notifier 负责把格式化好的通知送达消息前端（外部协作方）。
type Notifier interface {
	SendNotification(ctx context.Context, ownerID int64, text string) error
}

// DispatcherStore 投递器所需的存储能力。
type DispatcherStore interface {
	InsertMessage(message *domain.Message) error
	GetMailboxByAddress(address string) (*domain.Mailbox, error)
}

// SeenCache 可选的去重快速路径；去重的最终依据始终是存储层的唯一约束。
type SeenCache interface {
	Seen(ctx context.Context, address, messageID string) (bool, error)
	MarkSeen(ctx context.Context, address, messageID string) error
}

// Dispatcher 把 NewMessage 事实变成恰好一行持久化记录和至多一次通知。
//
// 单协程顺序消费缓冲队列：队列让监听器的接收循环永不被慢通知拖住，
// 单协程保证同一邮箱内通知按首见顺序送达（跨邮箱无顺序承诺）。
type Dispatcher struct {
	queue     chan Fact
	store     DispatcherStore
	cache     SeenCache // 可为 nil
	formatter *notify.Formatter
	metrics   *monitoring.Metrics
	log       *zap.Logger

	notifier Notifier
}

// NewDispatcher 创建通知投递器。
func NewDispatcher(queueSize int, store DispatcherStore, cache SeenCache, formatter *notify.Formatter, metrics *monitoring.Metrics, log *zap.Logger) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Dispatcher{
		queue:     make(chan Fact, queueSize),
		store:     store,
		cache:     cache,
		formatter: formatter,
		metrics:   metrics,
		log:       log,
	}
}

// SetNotifier 注入消息前端（构造顺序上前端依赖业务层，用 setter 断开环）。
func (d *Dispatcher) SetNotifier(notifier Notifier) {
	d.notifier = notifier
}

// Enqueue 把事实放入队列，队列满时返回 false，绝不阻塞调用方。
func (d *Dispatcher) Enqueue(fact Fact) bool {
	select {
	case d.queue <- fact:
		return true
	default:
		return false
	}
}

// Run 顺序消费队列直到上下文取消。
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case fact := <-d.queue:
			d.deliver(ctx, fact)
		}
	}
}

// deliver 处理一条事实：先插入（唯一约束即去重），被拒时静默返回；
// 插入成功后才格式化并外发通知。通知失败只记日志——邮件已经落盘，
// 持久化至少一次，通知尽力而为。
func (d *Dispatcher) deliver(ctx context.Context, fact Fact) {
	if d.cache != nil {
		if seen, err := d.cache.Seen(ctx, fact.Address, fact.MessageID); err == nil && seen {
			d.metrics.DuplicateMessages.Inc()
			return
		}
	}

	message := &domain.Message{
		ID:             uuid.NewString(),
		MailboxAddress: fact.Address,
		MessageID:      fact.MessageID,
		Sender:         fact.Sender,
		Subject:        fact.Subject,
		TextBody:       fact.TextBody,
		HTMLBody:       fact.HTMLBody,
		ReceivedAt:     fact.ReceivedAt,
	}
	if err := d.store.InsertMessage(message); err != nil {
		if errors.Is(err, storage.ErrDuplicateMessage) {
			d.metrics.DuplicateMessages.Inc()
			d.log.Debug("duplicate message suppressed",
				zap.String("mailbox", fact.Address),
				zap.String("message_id", fact.MessageID))
			return
		}
		d.log.Error("failed to persist message",
			zap.String("mailbox", fact.Address),
			zap.String("message_id", fact.MessageID),
			zap.Error(err))
		return
	}
	d.metrics.MessagesPersisted.Inc()

	if d.cache != nil {
		if err := d.cache.MarkSeen(ctx, fact.Address, fact.MessageID); err != nil {
			d.log.Debug("failed to update seen cache", zap.Error(err))
		}
	}

	// 发送时重新读取归属：找回流程改写 ownerId 后，
	// 后续通知必须送达新主人而不是旧主人
	mailbox, err := d.store.GetMailboxByAddress(fact.Address)
	if err != nil {
		d.log.Error("failed to resolve mailbox owner",
			zap.String("mailbox", fact.Address), zap.Error(err))
		return
	}

	if d.notifier == nil {
		return
	}
	text := d.formatter.Format(fact.Sender, fact.Subject, fact.TextBody, fact.HTMLBody)
	if err := d.notifier.SendNotification(ctx, mailbox.OwnerID, text); err != nil {
		d.metrics.NotificationFailures.Inc()
		d.log.Warn("failed to send notification",
			zap.String("mailbox", fact.Address),
			zap.Int64("owner_id", mailbox.OwnerID),
			zap.Error(err))
		return
	}
	d.metrics.NotificationsSent.Inc()
}
