package realtime

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// 控制通道入站事件类型。协议只关心下面这些，其余类型原样忽略。
const (
	TypeSessionCreated               = "session.created"
	TypeSessionUpdated               = "session.updated"
	TypeInputTranscriptionCompleted  = "conversation.item.input_audio_transcription.completed"
	TypeSpeechStarted                = "input_audio_buffer.speech_started"
	TypeSpeechStopped                = "input_audio_buffer.speech_stopped"
	TypeResponseAudioTranscriptDelta = "response.audio_transcript.delta"
	TypeResponseAudioTranscriptDone  = "response.audio_transcript.done"
	TypeResponseAudioDelta           = "response.audio.delta"
	TypeResponseAudioDone            = "response.audio.done"
	TypeResponseDone                 = "response.done"
	TypeError                        = "error"
)

// ServerEvent 远端下发的控制事件。按 type 区分，未用到的字段留空。
type ServerEvent struct {
	Type       string       `json:"type"`
	EventID    string       `json:"event_id,omitempty"`
	Delta      string       `json:"delta,omitempty"`
	Transcript string       `json:"transcript,omitempty"`
	Error      *ServerError `json:"error,omitempty"`
}

// ServerError error 事件里的远端错误描述。
type ServerError struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// ParseServerEvent 解析一帧控制消息。
func ParseServerEvent(data []byte) (*ServerEvent, error) {
	var ev ServerEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("decode server event: %w", err)
	}
	if ev.Type == "" {
		return nil, fmt.Errorf("server event missing type")
	}
	return &ev, nil
}

// AudioBytes 解码 response.audio.delta 携带的 base64 PCM 数据。
func (e *ServerEvent) AudioBytes() ([]byte, error) {
	if e.Delta == "" {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(e.Delta)
}

// SessionConfig session.update 下发的会话配置，字段与远端协议一致。
type SessionConfig struct {
	Modalities              []string             `json:"modalities,omitempty"`
	Instructions            string               `json:"instructions,omitempty"`
	Voice                   string               `json:"voice,omitempty"`
	InputAudioFormat        string               `json:"input_audio_format,omitempty"`
	OutputAudioFormat       string               `json:"output_audio_format,omitempty"`
	InputAudioTranscription *TranscriptionConfig `json:"input_audio_transcription,omitempty"`
	TurnDetection           *TurnDetection       `json:"turn_detection,omitempty"`
	Temperature             float64              `json:"temperature,omitempty"`
}

// TranscriptionConfig 用户语音转写配置。
type TranscriptionConfig struct {
	Model string `json:"model"`
}

// TurnDetection 服务端 VAD 的断句参数。
type TurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold,omitempty"`
	PrefixPaddingMS   int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMS int     `json:"silence_duration_ms,omitempty"`
}

// DefaultTurnDetection 与签发凭证时使用的断句参数保持一致。
func DefaultTurnDetection() *TurnDetection {
	return &TurnDetection{
		Type:              "server_vad",
		Threshold:         0.5,
		PrefixPaddingMS:   300,
		SilenceDurationMS: 1000,
	}
}

type sessionUpdateEvent struct {
	Type    string        `json:"type"`
	Session SessionConfig `json:"session"`
}

type conversationItemCreateEvent struct {
	Type string           `json:"type"`
	Item conversationItem `json:"item"`
}

type conversationItem struct {
	Type    string                    `json:"type"`
	Role    string                    `json:"role"`
	Content []conversationItemContent `json:"content"`
}

type conversationItemContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type responseCreateEvent struct {
	Type string `json:"type"`
}

type inputAudioAppendEvent struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

// NewSessionUpdate 构建配置握手消息。
func NewSessionUpdate(cfg SessionConfig) any {
	return sessionUpdateEvent{Type: "session.update", Session: cfg}
}

// NewUserMessage 构建一条合成的用户文本消息（用于开场种子）。
func NewUserMessage(text string) any {
	return conversationItemCreateEvent{
		Type: "conversation.item.create",
		Item: conversationItem{
			Type: "message",
			Role: "user",
			Content: []conversationItemContent{
				{Type: "input_text", Text: text},
			},
		},
	}
}

// NewResponseCreate 构建触发助手生成回复的消息。
func NewResponseCreate() any {
	return responseCreateEvent{Type: "response.create"}
}

// NewAudioAppend 构建一帧上行音频消息。
func NewAudioAppend(pcm []byte) any {
	return inputAudioAppendEvent{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(pcm),
	}
}
