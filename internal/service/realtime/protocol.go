package realtime

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cheqin-app/backend/internal/model/checkin"
)

// State 会话生命周期状态。状态只在协议自己的事件循环里变更，
// 外部读取得到的是某一时刻的快照。
type State string

const (
	StateIdle          State = "idle"
	StateInitializing  State = "initializing"
	StateNegotiating   State = "negotiating"
	StateAwaitingReady State = "awaiting_ready"
	StateConfiguring   State = "configuring"
	StateActive        State = "active"
	StateFinalizing    State = "finalizing"
	StateClosed        State = "closed"
	StateFailed        State = "failed"
)

// EventKind 协议对外广播的事件类别。
type EventKind string

const (
	EventConnected           EventKind = "connected"
	EventSpeakingStarted     EventKind = "speaking_started"
	EventSpeakingStopped     EventKind = "speaking_stopped"
	EventUserTranscript      EventKind = "user_transcript"
	EventAssistantDelta      EventKind = "assistant_delta"
	EventAssistantTranscript EventKind = "assistant_transcript"
	EventAssistantAudio      EventKind = "assistant_audio"
	EventClosed              EventKind = "closed"
	EventFailed              EventKind = "failed"
)

// Event 协议向上层广播的归一化事件。Text 对转写类事件有效，
// Audio 只在 assistant_audio 时携带 PCM16 数据。
type Event struct {
	Kind  EventKind
	Text  string
	Audio []byte
	Err   error
}

const (
	// DefaultIdleTimeout 无用户活动的默认截止时长。
	DefaultIdleTimeout = 15 * time.Second
	// DefaultMaxTurns 配置层未显式设置时采用的用户发言轮数上限，
	// 到达后在当前回复结束时收尾。
	DefaultMaxTurns = 6

	// readyTimeout 等待远端就绪/确认配置的上限。
	readyTimeout = 10 * time.Second
)

// errStopRequested 建立阶段收到 Stop，走正常收尾而不是报错。
var errStopRequested = errors.New("realtime: stop requested")

// Options 一次会话需要的全部协作方与参数。
type Options struct {
	Broker    TokenBroker
	Transport Transport
	Capture   Capture

	Model        string
	Voice        string
	Instructions string
	// Greeting 配置确认后注入的开场种子，让助手先开口。空串则不注入。
	Greeting string

	// IdleTimeout 零值时用 DefaultIdleTimeout。
	IdleTimeout time.Duration
	// MaxTurns <= 0 表示不限轮数。默认值由配置层填入。
	MaxTurns int

	// OnEvent 事件回调。由协议的事件循环串行调用，回调内不要阻塞。
	OnEvent func(Event)
}

// Protocol 一次端到端语音会话的驱动器：拿凭证、协商传输、配置会话、
// 泵音频、累积转写，并保证无论怎么结束都只清理一次。
// 一个实例只能跑一次会话，Start 第二次调用返回 ErrSessionActive。
type Protocol struct {
	opts       Options
	transcript *Accumulator

	mu      sync.Mutex
	state   State
	err     error
	started bool
	conn    Conn
	stream  AudioStream

	// speaking 助手是否正在说话，只在事件循环里读写。
	speaking bool

	stopOnce sync.Once
	stopCh   chan struct{}

	closeOnce sync.Once
	done      chan struct{}
}

// New 创建协议实例。
func New(opts Options) *Protocol {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	return &Protocol{
		opts:       opts,
		transcript: NewAccumulator(),
		state:      StateIdle,
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// State 当前状态快照。
func (p *Protocol) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Err 会话的最终错误。正常收尾返回 nil，done 关闭之前返回值未定。
func (p *Protocol) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Done 会话彻底结束（closed 或 failed）后关闭。
func (p *Protocol) Done() <-chan struct{} { return p.done }

// Transcript 转写累加器，会话进行中也可以读快照。
func (p *Protocol) Transcript() *Accumulator { return p.transcript }

// Stop 请求优雅收尾。幂等，可在任意 goroutine 调用；
// 会话尚未建立时也会让建立流程尽快退出。
func (p *Protocol) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
}

// Start 依次走完凭证、设备、协商、配置四个阶段，进入 active 后
// 返回 nil 并把事件循环留在后台，直到 Done 关闭。
// ctx 只约束建立阶段：active 之后会话以自身生命周期运行，
// 由 Stop、空闲超时或传输故障终结（HTTP 触发的启动在响应写回后
// 请求上下文就没了，不能让它拖垮已建立的会话）。
// 任何一个阶段失败都会完整清理已持有的资源再返回错误。
func (p *Protocol) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return ErrSessionActive
	}
	p.started = true
	p.state = StateInitializing
	p.mu.Unlock()

	log.Printf("[realtime] 会话启动: model=%s voice=%s", p.opts.Model, p.opts.Voice)

	cred, err := p.opts.Broker.Issue(ctx, TokenRequest{
		Model:        p.opts.Model,
		Voice:        p.opts.Voice,
		Instructions: p.opts.Instructions,
	})
	if err != nil {
		return p.fail(err)
	}

	stream, err := p.opts.Capture.Acquire(ctx)
	if err != nil {
		return p.fail(err)
	}
	p.mu.Lock()
	p.stream = stream
	p.mu.Unlock()

	p.setState(StateNegotiating)
	conn, err := p.opts.Transport.Negotiate(ctx, cred)
	if err != nil {
		return p.fail(err)
	}
	p.mu.Lock()
	p.conn = conn
	p.mu.Unlock()

	p.setState(StateAwaitingReady)
	if err := p.awaitEvent(ctx, conn, TypeSessionCreated); err != nil {
		if errors.Is(err, errStopRequested) {
			p.finalize(nil)
			return nil
		}
		return p.fail(err)
	}

	// 远端就绪后才下发配置，配置被确认之前不触发任何回复
	p.setState(StateConfiguring)
	if err := conn.Send(NewSessionUpdate(cred.Session)); err != nil {
		return p.fail(fmt.Errorf("send session config: %w", err))
	}
	if err := p.awaitEvent(ctx, conn, TypeSessionUpdated); err != nil {
		if errors.Is(err, errStopRequested) {
			p.finalize(nil)
			return nil
		}
		return p.fail(err)
	}

	p.setState(StateActive)
	p.emit(Event{Kind: EventConnected})

	if p.opts.Greeting != "" {
		if err := conn.Send(NewUserMessage(p.opts.Greeting)); err != nil {
			return p.fail(fmt.Errorf("send greeting: %w", err))
		}
		if err := conn.Send(NewResponseCreate()); err != nil {
			return p.fail(fmt.Errorf("request first response: %w", err))
		}
	}

	pumpErr := make(chan error, 1)
	go p.pumpAudio(stream, conn, pumpErr)
	go p.run(conn, pumpErr)
	return nil
}

// awaitEvent 在建立阶段等待某个控制事件，期间出现 error 事件、
// 传输错误、取消或 Stop 都会中断等待。
func (p *Protocol) awaitEvent(ctx context.Context, conn Conn, want string) error {
	timer := time.NewTimer(readyTimeout)
	defer timer.Stop()

	for {
		select {
		case ev, ok := <-conn.Events():
			if !ok {
				return fmt.Errorf("%w: connection closed while waiting for %s", ErrNegotiationFailed, want)
			}
			switch ev.Type {
			case want:
				return nil
			case TypeError:
				return protocolErrorFrom(ev)
			default:
				// 建立阶段其余事件直接忽略
			}
		case err := <-conn.Errors():
			return fmt.Errorf("%w: %v", ErrNegotiationFailed, err)
		case <-timer.C:
			return fmt.Errorf("%w: timed out waiting for %s", ErrNegotiationFailed, want)
		case <-p.stopCh:
			return errStopRequested
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// pumpAudio 持续把麦克风数据推到连接。流结束（Release 或设备拔出）后退出，
// active 状态下的读错误交给事件循环定性。
func (p *Protocol) pumpAudio(stream AudioStream, conn Conn, pumpErr chan<- error) {
	buf := make([]byte, 4096)
	for {
		n, err := stream.Read(buf)
		if n > 0 {
			if sendErr := conn.SendAudio(buf[:n]); sendErr != nil {
				pumpErr <- fmt.Errorf("send audio frame: %w", sendErr)
				return
			}
		}
		if err != nil {
			pumpErr <- fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
			return
		}
	}
}

// run active 状态的事件循环。所有状态变更、转写追加和事件广播
// 都发生在这一个 goroutine 里。循环不看启动方的 context，
// 只由 Stop、空闲计时和传输层事件驱动退出。
func (p *Protocol) run(conn Conn, pumpErr <-chan error) {
	idle := time.NewTimer(p.opts.IdleTimeout)
	defer idle.Stop()

	resetIdle := func() {
		if !idle.Stop() {
			select {
			case <-idle.C:
			default:
			}
		}
		idle.Reset(p.opts.IdleTimeout)
	}

	for {
		select {
		case ev, ok := <-conn.Events():
			if !ok {
				// 远端主动断开，当作正常收尾
				log.Printf("[realtime] 远端关闭连接，收尾")
				p.finalize(nil)
				return
			}
			if done := p.handleEvent(ev, resetIdle); done {
				return
			}

		case err := <-conn.Errors():
			p.finalize(err)
			return

		case err := <-pumpErr:
			// Release 引起的读结束只会出现在收尾路径，这里一定是真故障
			p.finalize(err)
			return

		case <-idle.C:
			log.Printf("[realtime] 空闲超过 %s，自动收尾", p.opts.IdleTimeout)
			p.finalize(nil)
			return

		case <-p.stopCh:
			p.finalize(nil)
			return
		}
	}
}

// handleEvent 处理一个 active 状态的控制事件，返回 true 表示循环应当退出。
func (p *Protocol) handleEvent(ev *ServerEvent, resetIdle func()) bool {
	switch ev.Type {
	case TypeSpeechStarted, TypeSpeechStopped:
		// 用户开口/停顿只影响空闲计时
		resetIdle()

	case TypeInputTranscriptionCompleted:
		resetIdle()
		if ev.Transcript == "" {
			return false
		}
		p.transcript.Append(checkin.SpeakerUser, ev.Transcript)
		p.emit(Event{Kind: EventUserTranscript, Text: ev.Transcript})

	case TypeResponseAudioTranscriptDelta:
		if !p.speaking {
			p.speaking = true
			p.emit(Event{Kind: EventSpeakingStarted})
		}
		p.emit(Event{Kind: EventAssistantDelta, Text: ev.Delta})

	case TypeResponseAudioTranscriptDone:
		resetIdle()
		if ev.Transcript != "" {
			p.transcript.Append(checkin.SpeakerAssistant, ev.Transcript)
			p.emit(Event{Kind: EventAssistantTranscript, Text: ev.Transcript})
		}

	case TypeResponseAudioDelta:
		pcm, err := ev.AudioBytes()
		if err != nil {
			log.Printf("[realtime] 音频帧解码失败: %v", err)
			return false
		}
		if len(pcm) > 0 {
			p.emit(Event{Kind: EventAssistantAudio, Audio: pcm})
		}

	case TypeResponseAudioDone:
		if p.speaking {
			p.speaking = false
			p.emit(Event{Kind: EventSpeakingStopped})
		}

	case TypeResponseDone:
		resetIdle()
		if p.opts.MaxTurns > 0 && p.transcript.UserTurns() >= p.opts.MaxTurns {
			log.Printf("[realtime] 达到 %d 轮上限，收尾", p.opts.MaxTurns)
			p.finalize(nil)
			return true
		}

	case TypeError:
		p.finalize(protocolErrorFrom(ev))
		return true
	}
	return false
}

// fail 建立阶段失败：清理已持有的资源，进入 failed 并返回原错误。
func (p *Protocol) fail(err error) error {
	p.teardown(StateFailed, err)
	return err
}

// finalize 收尾：err 为 nil 走 finalizing→closed，否则进入 failed。
func (p *Protocol) finalize(err error) {
	if err == nil {
		p.setState(StateFinalizing)
		p.teardown(StateClosed, nil)
		return
	}
	p.teardown(StateFailed, err)
}

// teardown 释放媒体与连接，落入终态并关闭 done。只有第一次调用生效。
func (p *Protocol) teardown(final State, err error) {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		stream, conn := p.stream, p.conn
		p.state = final
		p.err = err
		p.mu.Unlock()

		if stream != nil {
			stream.Release()
		}
		if conn != nil {
			conn.Close()
		}

		if err != nil {
			log.Printf("[realtime] 会话失败: %v", err)
			p.emit(Event{Kind: EventFailed, Err: err})
		} else {
			log.Printf("[realtime] 会话结束: %d 条用户发言", p.transcript.UserTurns())
			p.emit(Event{Kind: EventClosed})
		}
		close(p.done)
	})
}

func (p *Protocol) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

func (p *Protocol) emit(ev Event) {
	if p.opts.OnEvent != nil {
		p.opts.OnEvent(ev)
	}
}

func protocolErrorFrom(ev *ServerEvent) *ProtocolError {
	pe := &ProtocolError{}
	if ev.Error != nil {
		pe.Code = ev.Error.Code
		pe.Message = ev.Error.Message
	}
	if pe.Message == "" {
		pe.Message = "remote error event"
	}
	return pe
}
