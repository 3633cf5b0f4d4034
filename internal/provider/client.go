package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"tempmail/bot/internal/monitoring"
)

const (
	// DefaultBaseURL 上游 REST API 默认地址
	DefaultBaseURL = "https://api.mail.tm"
	// FallbackDomain 域名列表接口不可用时的兜底域名
	FallbackDomain = "mail.tm"

	userAgent = "TempEmailBot/1.0"
)

// Account 表示上游创建的邮箱账户。
type Account struct {
	ID      string `json:"id"`
	Address string `json:"address"`
}

// EmailAddress 表示邮件地址字段。
type EmailAddress struct {
	Address string `json:"address"`
	Name    string `json:"name"`
}

// MessageSummary 表示收件箱列表中的一封邮件概要。
type MessageSummary struct {
	ID        string       `json:"id"`
	From      EmailAddress `json:"from"`
	Subject   string       `json:"subject"`
	Intro     string       `json:"intro"`
	CreatedAt time.Time    `json:"createdAt"`
}

// MessageDetail 表示一封邮件的完整内容。
type MessageDetail struct {
	ID        string       `json:"id"`
	From      EmailAddress `json:"from"`
	Subject   string       `json:"subject"`
	Text      string       `json:"text"`
	HTML      []string     `json:"html"`
	CreatedAt time.Time    `json:"createdAt"`
}

// HTMLBody 拼接 HTML 片段。
func (d *MessageDetail) HTMLBody() string {
	return strings.Join(d.HTML, "")
}

// hydraList 上游列表响应的外层包装。
type hydraList[T any] struct {
	Member []T `json:"hydra:member"`
}

// Client 上游邮件服务商的无状态 REST 客户端。
//
// 出站请求统一经过速率限制器，避免批量恢复监听时压垮上游。
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	metrics    *monitoring.Metrics
	log        *zap.Logger
}

// NewClient 创建服务商客户端。metrics 可为 nil。
func NewClient(baseURL string, timeout time.Duration, rps float64, burst int, metrics *monitoring.Metrics, log *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 12 * time.Second
	}
	if rps <= 0 {
		rps = 5
	}
	if burst <= 0 {
		burst = 10
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		metrics:    metrics,
		log:        log,
	}
}

// ListDomains 返回一个可用的邮箱域名。
// 接口失败时回退到 FallbackDomain，域名获取不是关键路径。
func (c *Client) ListDomains(ctx context.Context) string {
	var list hydraList[struct {
		Domain string `json:"domain"`
	}]
	if err := c.get(ctx, "domains", "/domains", "", &list); err != nil {
		c.log.Warn("failed to list provider domains, using fallback", zap.Error(err))
		return FallbackDomain
	}
	if len(list.Member) == 0 {
		return FallbackDomain
	}
	return list.Member[0].Domain
}

// CreateAccount 在上游开通邮箱账户。非 2xx 响应返回 ProvisionError。
func (c *Client) CreateAccount(ctx context.Context, address, secret string) (*Account, error) {
	body, status, err := c.post(ctx, "create_account", "/accounts", map[string]string{
		"address":  address,
		"password": secret,
	})
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, &ProvisionError{Status: status, Detail: truncate(string(body), 200)}
	}

	var account Account
	if err := json.Unmarshal(body, &account); err != nil {
		return nil, &TransportError{Op: "create_account", Err: err}
	}
	return &account, nil
}

// GetToken 用账户密码换取 Bearer 令牌。凭证被拒时返回 AuthError。
func (c *Client) GetToken(ctx context.Context, address, secret string) (string, error) {
	body, status, err := c.post(ctx, "get_token", "/token", map[string]string{
		"address":  address,
		"password": secret,
	})
	if err != nil {
		return "", err
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden || status == http.StatusNotFound {
		return "", &AuthError{Op: "get_token", Status: status}
	}
	if status < 200 || status >= 300 {
		return "", &TransportError{Op: "get_token", Err: fmt.Errorf("unexpected status %d", status)}
	}

	var payload struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", &TransportError{Op: "get_token", Err: err}
	}
	if payload.Token == "" {
		return "", &AuthError{Op: "get_token", Status: status, Err: fmt.Errorf("empty token in response")}
	}
	return payload.Token, nil
}

// ListMessages 拉取收件箱概要。收件箱是尽力而为的功能，失败时返回空列表。
func (c *Client) ListMessages(ctx context.Context, token string) []MessageSummary {
	var list hydraList[MessageSummary]
	if err := c.get(ctx, "list_messages", "/messages", token, &list); err != nil {
		c.log.Warn("failed to list messages", zap.Error(err))
		return nil
	}
	return list.Member
}

// GetMessage 拉取邮件详情，失败时返回 nil 而非报错。
func (c *Client) GetMessage(ctx context.Context, token, id string) *MessageDetail {
	var detail MessageDetail
	if err := c.get(ctx, "get_message", "/messages/"+id, token, &detail); err != nil {
		c.log.Warn("failed to get message detail", zap.String("message_id", id), zap.Error(err))
		return nil
	}
	return &detail
}

// Ping 探测上游可达性，就绪检查使用。
func (c *Client) Ping(ctx context.Context) error {
	var list hydraList[json.RawMessage]
	return c.get(ctx, "ping", "/domains", "", &list)
}

// get 执行 GET 请求并解析 JSON 响应。鉴权失败归类为 AuthError，
// 其余失败一律归类为 TransportError。
func (c *Client) get(ctx context.Context, endpoint, path, token string, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &TransportError{Op: endpoint, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return &TransportError{Op: endpoint, Err: err}
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.observe(endpoint, start, err == nil)
	if err != nil {
		return &TransportError{Op: endpoint, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return &AuthError{Op: endpoint, Status: resp.StatusCode}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &TransportError{Op: endpoint, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return &TransportError{Op: endpoint, Err: err}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &TransportError{Op: endpoint, Err: err}
	}
	return nil
}

// post 执行 POST 请求，返回响应体与状态码；网络失败归类为 TransportError。
func (c *Client) post(ctx context.Context, endpoint, path string, payload interface{}) ([]byte, int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, 0, &TransportError{Op: endpoint, Err: err}
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, &TransportError{Op: endpoint, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return nil, 0, &TransportError{Op: endpoint, Err: err}
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.observe(endpoint, start, err == nil)
	if err != nil {
		return nil, 0, &TransportError{Op: endpoint, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, 0, &TransportError{Op: endpoint, Err: err}
	}
	return body, resp.StatusCode, nil
}

func (c *Client) observe(endpoint string, start time.Time, ok bool) {
	if c.metrics == nil {
		return
	}
	outcome := "success"
	if !ok {
		outcome = "error"
	}
	c.metrics.ProviderRequests.WithLabelValues(endpoint, outcome).Inc()
	c.metrics.ProviderRequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
