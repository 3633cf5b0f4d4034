package provider

import (
	"errors"
	"fmt"
)

// TransportError 表示网络层面的临时故障（超时、连接中断、5xx），
// 监听器总是以退避重试应对，绝不视为致命错误。
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("provider transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// AuthError 表示令牌过期或凭证被上游拒绝。
type AuthError struct {
	Op     string
	Status int
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider auth error during %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("provider auth error during %s: status %d", e.Op, e.Status)
}

func (e *AuthError) Unwrap() error { return e.Err }

// ProvisionError 表示账户开通被上游拒绝，直接上抛给发起创建的调用方，不自动重试。
type ProvisionError struct {
	Status int
	Detail string
}

func (e *ProvisionError) Error() string {
	return fmt.Sprintf("provider rejected account creation: status %d %s", e.Status, e.Detail)
}

// IsAuth 判断是否为认证类错误。
func IsAuth(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// IsTransport 判断是否为传输类错误。
func IsTransport(err error) bool {
	var transportErr *TransportError
	return errors.As(err, &transportErr)
}
