package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// DefaultWSBaseURL 上游推送通道默认地址
	DefaultWSBaseURL = "wss://api.mail.tm"

	// EventNewMessage 新邮件事件类型；其余类型一律忽略
	EventNewMessage = "message"

	handshakeTimeout = 15 * time.Second
	pongWait         = 90 * time.Second
	writeWait        = 10 * time.Second
)

// Event 表示推送通道下发的一条事件。
type Event struct {
	Type string `json:"type"`
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}

// Subscription 表示一条到上游推送通道的活动连接。
type Subscription interface {
	// Next 阻塞读取下一条事件；连接中断时返回 TransportError。
	Next() (*Event, error)
	// Ping 发送保活探测；失败视为传输故障。
	Ping() error
	Close() error
}

// Subscriber 负责为指定账户建立推送订阅。
type Subscriber interface {
	Subscribe(ctx context.Context, accountID, token string) (Subscription, error)
}

// WSSubscriber 基于 WebSocket 的推送订阅实现。
type WSSubscriber struct {
	wsBaseURL string
	dialer    *websocket.Dialer
}

// NewWSSubscriber 创建 WebSocket 订阅器。
func NewWSSubscriber(wsBaseURL string) *WSSubscriber {
	if wsBaseURL == "" {
		wsBaseURL = DefaultWSBaseURL
	}
	return &WSSubscriber{
		wsBaseURL: wsBaseURL,
		dialer: &websocket.Dialer{
			HandshakeTimeout: handshakeTimeout,
		},
	}
}

// Subscribe 打开账户的推送订阅。握手被拒为 401/403 时返回 AuthError，
// 其余失败返回 TransportError。
func (s *WSSubscriber) Subscribe(ctx context.Context, accountID, token string) (Subscription, error) {
	url := fmt.Sprintf("%s/mercure?topic=/accounts/%s/messages", s.wsBaseURL, accountID)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	header.Set("User-Agent", userAgent)

	conn, resp, err := s.dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, &AuthError{Op: "subscribe", Status: resp.StatusCode, Err: err}
		}
		return nil, &TransportError{Op: "subscribe", Err: err}
	}

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	return &wsSubscription{conn: conn}, nil
}

type wsSubscription struct {
	conn *websocket.Conn
}

func (s *wsSubscription) Next() (*Event, error) {
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		return nil, &TransportError{Op: "read", Err: err}
	}
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))

	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		// 无法解析的帧按未知事件处理，不中断订阅
		return &Event{}, nil
	}
	return &event, nil
}

func (s *wsSubscription) Ping() error {
	if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
		return &TransportError{Op: "ping", Err: err}
	}
	return nil
}

func (s *wsSubscription) Close() error {
	return s.conn.Close()
}
