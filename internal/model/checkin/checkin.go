package checkin

import (
	"time"

	"github.com/cheqin-app/backend/internal/model/wellness"
)

// Speaker 转写行的归属方。
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// TranscriptLine 一条按到达顺序追加的转写记录，追加后不可变。
type TranscriptLine struct {
	Speaker Speaker   `json:"speaker"`
	Text    string    `json:"text"`
	At      time.Time `json:"at"`
}

// Status 打卡记录的处理状态。
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	// StatusEmpty 会话正常结束但没有录到任何用户发言。
	StatusEmpty Status = "empty"
)

// CheckIn 一次完整的健康打卡结果。
type CheckIn struct {
	ID          string           `json:"id"`
	CompanionID string           `json:"companionId"`
	Timestamp   time.Time        `json:"timestamp"`
	Transcript  string           `json:"transcript"`
	Scores      *wellness.Scores `json:"scores,omitempty"`
	Status      Status           `json:"status"`
}
