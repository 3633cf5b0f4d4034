package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"tempmail/bot/internal/pool"
	"tempmail/bot/internal/service"
	"tempmail/bot/internal/storage"
)

// 主菜单按钮
const (
	menuGenerate = "🌀 Generate New"
	menuInbox    = "📥 Inbox"
	menuRecovery = "🔄 Email Recovery"
	menuMyEmails = "📧 My Emails"
)

const (
	callbackVerify = "verify"

	// stateAwaitingRecovery 找回流程的会话状态：等待用户输入邮箱地址
	stateAwaitingRecovery = "awaiting_recovery_email"
	recoverySessionTTL    = 5 * time.Minute
)

// Config Telegram 前端配置。
type Config struct {
	Token           string
	ChannelUsername string // 强制关注的频道（不带 @），留空则不校验
	ChannelURL      string
	PollTimeout     int
}

// Bot 封装 Telegram 前端：菜单交互、找回会话、出站通知。
// 更新处理通过协程池限流，逐条处理互不阻塞。
type Bot struct {
	api      *tgbotapi.BotAPI
	cfg      Config
	mailbox  *service.MailboxService
	sessions storage.SessionRepository
	workers  *pool.WorkerPool
	log      *zap.Logger
}

// NewBot 创建 Telegram 前端。
func NewBot(cfg Config, mailbox *service.MailboxService, sessions storage.SessionRepository, workers *pool.WorkerPool, log *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 30
	}

	log.Info("telegram bot authorized", zap.String("username", api.Self.UserName))
	return &Bot{
		api:      api,
		cfg:      cfg,
		mailbox:  mailbox,
		sessions: sessions,
		workers:  workers,
		log:      log,
	}, nil
}

// SendNotification 把一条通知发给用户，核心对外的唯一调用。
func (b *Bot) SendNotification(_ context.Context, ownerID int64, text string) error {
	if _, err := b.api.Send(tgbotapi.NewMessage(ownerID, text)); err != nil {
		return fmt.Errorf("telegram send failed: %w", err)
	}
	return nil
}

// Run 以长轮询消费更新，直到上下文取消。
func (b *Bot) Run(ctx context.Context) error {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = b.cfg.PollTimeout
	updates := b.api.GetUpdatesChan(updateConfig)

	b.log.Info("telegram bot polling started")
	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			// 队列满时丢弃更新而不是阻塞长轮询循环
			if !b.workers.TrySubmit(func() { b.handleUpdate(ctx, update) }) {
				b.log.Warn("worker queue full, dropping update", zap.Int("update_id", update.UpdateID))
			}
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		b.handleCallback(update.CallbackQuery)
	case update.Message != nil:
		b.handleMessage(ctx, update.Message)
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	userID := msg.From.ID
	text := strings.TrimSpace(msg.Text)

	if msg.IsCommand() {
		if msg.Command() == "start" {
			b.sendWelcome(userID, msg.From.FirstName)
		}
		return
	}
	if text == "" {
		return
	}

	// 找回流程进行中：本条输入是待找回的邮箱地址
	state, err := b.sessions.GetUserState(userID)
	if err != nil {
		b.log.Warn("failed to read user session", zap.Int64("user_id", userID), zap.Error(err))
	}
	if state == stateAwaitingRecovery {
		b.handleRecoveryInput(ctx, userID, text)
		return
	}

	if !b.isChannelMember(userID) {
		b.sendJoinPrompt(userID, "❌ Please join our channel first and verify!")
		return
	}

	switch text {
	case menuGenerate:
		b.handleGenerate(ctx, userID)
	case menuInbox:
		b.handleInbox(ctx, userID)
	case menuRecovery:
		b.handleRecoveryStart(userID)
	case menuMyEmails:
		b.handleMyEmails(userID)
	default:
		b.reply(userID, "❌ Please use the menu buttons below.")
	}
}

func (b *Bot) handleCallback(query *tgbotapi.CallbackQuery) {
	if query.Data != callbackVerify {
		return
	}
	userID := query.From.ID

	if !b.isChannelMember(userID) {
		callback := tgbotapi.NewCallbackWithAlert(query.ID, "❌ Please join the channel first!")
		if _, err := b.api.Request(callback); err != nil {
			b.log.Warn("failed to answer callback", zap.Error(err))
		}
		return
	}

	callback := tgbotapi.NewCallback(query.ID, "✅ Verification successful!")
	if _, err := b.api.Request(callback); err != nil {
		b.log.Warn("failed to answer callback", zap.Error(err))
	}

	menu := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(menuGenerate),
			tgbotapi.NewKeyboardButton(menuInbox),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(menuRecovery),
			tgbotapi.NewKeyboardButton(menuMyEmails),
		),
	)
	menu.ResizeKeyboard = true

	welcome := tgbotapi.NewMessage(userID, "🎉 Welcome! You can now use all features:")
	welcome.ReplyMarkup = menu
	if _, err := b.api.Send(welcome); err != nil {
		b.log.Warn("failed to send menu", zap.Int64("user_id", userID), zap.Error(err))
	}
}

func (b *Bot) handleGenerate(ctx context.Context, userID int64) {
	b.reply(userID, "⏳ Generating new email...")

	mailbox, err := b.mailbox.Provision(ctx, userID)
	if err != nil {
		b.log.Error("mailbox provisioning failed", zap.Int64("user_id", userID), zap.Error(err))
		b.reply(userID, "❌ Failed to generate email. Please try again.")
		return
	}

	b.reply(userID, fmt.Sprintf("♻️ New Email Generated Successfully ✅\n\n📬 Email ID : %s 👈", mailbox.Address))
}

func (b *Bot) handleInbox(ctx context.Context, userID int64) {
	address, messages, err := b.mailbox.Inbox(ctx, userID)
	if err != nil {
		if errors.Is(err, service.ErrNoActiveMailbox) {
			b.reply(userID, "❌ No active email found. Please generate one first!")
			return
		}
		b.log.Error("inbox lookup failed", zap.Int64("user_id", userID), zap.Error(err))
		b.reply(userID, "❌ Failed to fetch inbox. Please try again.")
		return
	}

	if len(messages) == 0 {
		b.reply(userID, fmt.Sprintf("📭 No messages in %s", address))
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "📥 Inbox for %s\n\n", address)
	if len(messages) > 5 {
		messages = messages[:5]
	}
	for i, msg := range messages {
		sender := msg.From.Address
		if sender == "" {
			sender = "Unknown"
		}
		subject := msg.Subject
		if subject == "" {
			subject = "No Subject"
		}
		fmt.Fprintf(&sb, "%d. 📧 From: %s\n   📋 Subject: %s\n   📅 Date: %s\n\n",
			i+1, sender, subject, msg.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	}
	b.reply(userID, sb.String())
}

func (b *Bot) handleRecoveryStart(userID int64) {
	if err := b.sessions.SetUserState(userID, stateAwaitingRecovery, recoverySessionTTL); err != nil {
		b.log.Error("failed to start recovery session", zap.Int64("user_id", userID), zap.Error(err))
		b.reply(userID, "❌ Failed to start recovery process.")
		return
	}

	prompt := tgbotapi.NewMessage(userID, "📧 Send me the email address you want to recover:")
	prompt.ReplyMarkup = tgbotapi.ForceReply{ForceReply: true}
	if _, err := b.api.Send(prompt); err != nil {
		b.log.Warn("failed to send recovery prompt", zap.Int64("user_id", userID), zap.Error(err))
	}
}

func (b *Bot) handleRecoveryInput(ctx context.Context, userID int64, address string) {
	if err := b.sessions.ClearUserState(userID); err != nil {
		b.log.Warn("failed to clear user session", zap.Int64("user_id", userID), zap.Error(err))
	}

	mailbox, err := b.mailbox.Recover(ctx, address, userID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidAddress):
			b.reply(userID, "❌ Please enter a valid email address.")
		case errors.Is(err, storage.ErrMailboxNotFound):
			b.reply(userID, "❌ Email not found in our database.")
		default:
			b.log.Error("mailbox recovery failed", zap.Int64("user_id", userID), zap.Error(err))
			b.reply(userID, "❌ Failed to recover email.")
		}
		return
	}

	b.reply(userID, fmt.Sprintf("✅ Email %s recovered successfully!", mailbox.Address))
}

func (b *Bot) handleMyEmails(userID int64) {
	mailboxes, err := b.mailbox.ListOwned(userID, 10)
	if err != nil {
		b.log.Error("failed to list mailboxes", zap.Int64("user_id", userID), zap.Error(err))
		b.reply(userID, "❌ Failed to fetch emails.")
		return
	}
	if len(mailboxes) == 0 {
		b.reply(userID, "❌ No emails found. Generate one first!")
		return
	}

	var sb strings.Builder
	sb.WriteString("📧 Your Emails:\n\n")
	for i, mailbox := range mailboxes {
		status := "🔴 Inactive"
		if mailbox.Active {
			status = "🟢 Active"
		}
		fmt.Fprintf(&sb, "%d. %s\n   📅 Created: %s\n   📊 Status: %s\n\n",
			i+1, mailbox.Address, mailbox.CreatedAt.Local().Format("2006-01-02 15:04:05"), status)
	}
	b.reply(userID, sb.String())
}

func (b *Bot) sendWelcome(userID int64, firstName string) {
	if firstName == "" {
		firstName = "User"
	}
	text := fmt.Sprintf("👑 Hey %s! Welcome To Temp Email Bot!!\n\n⚪️ Join All The Channels Below\n\n🤩 After Joining Click Verify", firstName)
	b.sendJoinPrompt(userID, text)
}

func (b *Bot) sendJoinPrompt(userID int64, text string) {
	msg := tgbotapi.NewMessage(userID, text)
	rows := [][]tgbotapi.InlineKeyboardButton{}
	if b.cfg.ChannelURL != "" {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonURL("📢 Join Channel", b.cfg.ChannelURL),
		))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("✅ Verify", callbackVerify),
	))
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Warn("failed to send welcome", zap.Int64("user_id", userID), zap.Error(err))
	}
}

// isChannelMember 校验用户是否已关注频道；未配置频道时直接放行。
// 查询失败按未关注处理。
func (b *Bot) isChannelMember(userID int64) bool {
	if b.cfg.ChannelUsername == "" {
		return true
	}

	member, err := b.api.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{
			SuperGroupUsername: "@" + b.cfg.ChannelUsername,
			UserID:             userID,
		},
	})
	if err != nil {
		b.log.Warn("channel membership check failed", zap.Int64("user_id", userID), zap.Error(err))
		return false
	}

	switch member.Status {
	case "member", "administrator", "creator":
		return true
	default:
		return false
	}
}

func (b *Bot) reply(userID int64, text string) {
	if _, err := b.api.Send(tgbotapi.NewMessage(userID, text)); err != nil {
		b.log.Warn("failed to send reply", zap.Int64("user_id", userID), zap.Error(err))
	}
}
