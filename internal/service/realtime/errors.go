package realtime

import (
	"errors"
	"fmt"
)

// 会话失败的原因分类。调用方通过 errors.Is / errors.As 判断，核心内部从不重试。
var (
	// ErrSessionActive 协议实例已有会话在跑，Start 被拒绝。
	ErrSessionActive = errors.New("realtime: session already active")
	// ErrDeviceUnavailable 麦克风权限被拒或没有可用的采集设备。
	ErrDeviceUnavailable = errors.New("realtime: audio device unavailable")
	// ErrCredential 临时凭证签发失败。
	ErrCredential = errors.New("realtime: credential request failed")
	// ErrCredentialRejected 远端在协商阶段拒绝了凭证（401/403）。
	ErrCredentialRejected = errors.New("realtime: credential rejected")
	// ErrNegotiationFailed 传输协商失败（信令交换返回非 2xx）。
	ErrNegotiationFailed = errors.New("realtime: negotiation failed")
	// ErrNoConversationRecorded 会话结束但没有任何用户发言。
	ErrNoConversationRecorded = errors.New("realtime: no conversation recorded")
)

// ProtocolError 远端通过控制通道下发的 error 事件，携带远端的原始描述。
type ProtocolError struct {
	Code    string
	Message string
}

func (e *ProtocolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("realtime: protocol error %s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("realtime: protocol error: %s", e.Message)
}
