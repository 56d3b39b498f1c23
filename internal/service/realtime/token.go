package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// TokenRequest 描述一次会话想要的模型、声音与行为设定。
type TokenRequest struct {
	Model        string
	Voice        string
	Instructions string
}

// Credential 签发得到的临时凭证。一次性，仅在协商期间由协议持有，从不落盘。
type Credential struct {
	Secret    string
	ExpiresAt time.Time
	Model     string
	Session   SessionConfig
}

// Expired 判断凭证是否已过期。
func (c *Credential) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}

// TokenBroker 为一次会话签发临时凭证。
type TokenBroker interface {
	Issue(ctx context.Context, req TokenRequest) (*Credential, error)
}

// OpenAITokenBroker 调用远端的临时会话签发接口换取凭证。
type OpenAITokenBroker struct {
	apiKey     string
	sessionURL string
	httpClient *http.Client
}

// NewOpenAITokenBroker 创建凭证签发客户端。
func NewOpenAITokenBroker(apiKey, sessionURL string) *OpenAITokenBroker {
	return &OpenAITokenBroker{
		apiKey:     apiKey,
		sessionURL: sessionURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

type sessionTokenRequest struct {
	Model                   string               `json:"model"`
	Voice                   string               `json:"voice,omitempty"`
	Instructions            string               `json:"instructions,omitempty"`
	Modalities              []string             `json:"modalities,omitempty"`
	Temperature             float64              `json:"temperature,omitempty"`
	InputAudioTranscription *TranscriptionConfig `json:"input_audio_transcription,omitempty"`
	TurnDetection           *TurnDetection       `json:"turn_detection,omitempty"`
}

type sessionTokenResponse struct {
	ID           string `json:"id"`
	Model        string `json:"model"`
	Voice        string `json:"voice"`
	ClientSecret struct {
		Value     string `json:"value"`
		ExpiresAt int64  `json:"expires_at"`
	} `json:"client_secret"`
}

// Issue 请求一枚临时凭证。失败不在内部重试，统一包装为 ErrCredential。
func (b *OpenAITokenBroker) Issue(ctx context.Context, req TokenRequest) (*Credential, error) {
	cfg := SessionConfig{
		Modalities:              []string{"audio", "text"},
		Instructions:            req.Instructions,
		Voice:                   req.Voice,
		InputAudioFormat:        "pcm16",
		OutputAudioFormat:       "pcm16",
		InputAudioTranscription: &TranscriptionConfig{Model: "whisper-1"},
		TurnDetection:           DefaultTurnDetection(),
		Temperature:             0.8,
	}

	body, err := json.Marshal(sessionTokenRequest{
		Model:                   req.Model,
		Voice:                   req.Voice,
		Instructions:            req.Instructions,
		Modalities:              cfg.Modalities,
		Temperature:             cfg.Temperature,
		InputAudioTranscription: cfg.InputAudioTranscription,
		TurnDetection:           cfg.TurnDetection,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %v", ErrCredential, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.sessionURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCredential, err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+b.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCredential, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("%w: status %d: %s", ErrCredential, resp.StatusCode, bytes.TrimSpace(detail))
	}

	var tokenResp sessionTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrCredential, err)
	}
	if tokenResp.ClientSecret.Value == "" {
		return nil, fmt.Errorf("%w: response missing client secret", ErrCredential)
	}

	model := tokenResp.Model
	if model == "" {
		model = req.Model
	}
	if voice := tokenResp.Voice; voice != "" {
		cfg.Voice = voice
	}

	var expires time.Time
	if tokenResp.ClientSecret.ExpiresAt > 0 {
		expires = time.Unix(tokenResp.ClientSecret.ExpiresAt, 0)
	}

	return &Credential{
		Secret:    tokenResp.ClientSecret.Value,
		ExpiresAt: expires,
		Model:     model,
		Session:   cfg,
	}, nil
}
