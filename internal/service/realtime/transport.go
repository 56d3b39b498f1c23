package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn 一条已经协商成功的实时会话连接。
type Conn interface {
	// Send 序列化并发送一个客户端事件。
	Send(event any) error
	// SendAudio 发送一段 PCM16 音频（内部做 base64 封装）。
	SendAudio(pcm []byte) error
	// Events 服务端事件流。连接关闭后通道被关闭。
	Events() <-chan *ServerEvent
	// Errors 传输层错误（读失败、对端异常断开）。容量为 1。
	Errors() <-chan error
	// Close 关闭连接，幂等。
	Close()
}

// Transport 用凭据建立实时连接。
type Transport interface {
	Negotiate(ctx context.Context, cred *Credential) (Conn, error)
}

// WebSocketTransport 通过 WebSocket 接入实时语音端点，
// 凭据放在 Authorization 头里随握手一起提交。
type WebSocketTransport struct {
	// BaseURL 形如 wss://api.openai.com/v1/realtime，model 以查询参数附加。
	BaseURL string

	// HandshakeTimeout 握手超时，零值时用 10s。
	HandshakeTimeout time.Duration
}

// NewWebSocketTransport 创建默认的 WebSocket 传输。
func NewWebSocketTransport(baseURL string) *WebSocketTransport {
	return &WebSocketTransport{BaseURL: baseURL}
}

// Negotiate 对实时端点发起认证握手。凭据被拒（401/403）返回
// ErrCredentialRejected，其余失败返回 ErrNegotiationFailed。
func (t *WebSocketTransport) Negotiate(ctx context.Context, cred *Credential) (Conn, error) {
	if cred == nil || cred.Secret == "" {
		return nil, fmt.Errorf("%w: empty credential", ErrNegotiationFailed)
	}
	if cred.Expired(time.Now()) {
		return nil, fmt.Errorf("%w: credential expired", ErrCredentialRejected)
	}

	u, err := url.Parse(t.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: bad endpoint %q: %v", ErrNegotiationFailed, t.BaseURL, err)
	}
	q := u.Query()
	q.Set("model", cred.Model)
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+cred.Secret)
	header.Set("OpenAI-Beta", "realtime=v1")

	timeout := t.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dialer := websocket.Dialer{HandshakeTimeout: timeout}

	ws, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
				return nil, fmt.Errorf("%w: handshake status %d", ErrCredentialRejected, resp.StatusCode)
			}
			return nil, fmt.Errorf("%w: handshake status %d: %v", ErrNegotiationFailed, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrNegotiationFailed, err)
	}

	c := &wsConn{
		ws:     ws,
		events: make(chan *ServerEvent, 32),
		errs:   make(chan error, 1),
		closed: make(chan struct{}),
	}
	go c.readLoop()
	go c.pingLoop()
	return c, nil
}

// wsConn gorilla 连接的包装：写端用互斥锁串行化，读端由单独
// goroutine 泵入事件通道。
type wsConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	events  chan *ServerEvent
	errs    chan error
	once    sync.Once
	closed  chan struct{}
}

func (c *wsConn) Send(event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal client event: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) SendAudio(pcm []byte) error {
	return c.Send(NewAudioAppend(pcm))
}

func (c *wsConn) Events() <-chan *ServerEvent { return c.events }

func (c *wsConn) Errors() <-chan error { return c.errs }

// pingLoop 周期性发送 ping 保持长连接，Close 之后退出。
func (c *wsConn) pingLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (c *wsConn) Close() {
	c.once.Do(func() {
		close(c.closed)
		// 尽力发一个关闭帧，失败也直接断开
		c.writeMu.Lock()
		c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		c.ws.Close()
	})
}

func (c *wsConn) readLoop() {
	defer close(c.events)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				select {
				case c.errs <- fmt.Errorf("read realtime event: %w", err):
				default:
				}
			}
			return
		}

		event, err := ParseServerEvent(data)
		if err != nil {
			log.Printf("[realtime] 丢弃无法解析的事件: %v", err)
			continue
		}
		// 消费方可能已经退出，Close 之后不再往缓冲里塞
		select {
		case c.events <- event:
		case <-c.closed:
			return
		}
	}
}
