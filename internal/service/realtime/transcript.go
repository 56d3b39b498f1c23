package realtime

import (
	"strings"
	"sync"
	"time"

	"github.com/cheqin-app/backend/internal/model/checkin"
)

// Accumulator 维护一次会话的转写序列。追加只发生在协议事件循环里，
// 读取（包括会话进行中的快照）可以来自任意 goroutine。
type Accumulator struct {
	mu        sync.Mutex
	lines     []checkin.TranscriptLine
	userLines int
}

// NewAccumulator 创建空的转写累加器。
func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// Append 按到达顺序追加一条转写记录。
func (a *Accumulator) Append(speaker checkin.Speaker, text string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.lines = append(a.lines, checkin.TranscriptLine{
		Speaker: speaker,
		Text:    text,
		At:      time.Now().UTC(),
	})
	if speaker == checkin.SpeakerUser {
		a.userLines++
	}
}

// Lines 返回当前时刻的快照，后续追加不影响返回值。
func (a *Accumulator) Lines() []checkin.TranscriptLine {
	a.mu.Lock()
	defer a.mu.Unlock()

	snapshot := make([]checkin.TranscriptLine, len(a.lines))
	copy(snapshot, a.lines)
	return snapshot
}

// Compile 输出带说话人前缀、按行拼接的完整转写文本。
func (a *Accumulator) Compile() string {
	lines := a.Lines()

	var builder strings.Builder
	for i, line := range lines {
		builder.WriteString(string(line.Speaker))
		builder.WriteString(": ")
		builder.WriteString(line.Text)
		if i < len(lines)-1 {
			builder.WriteString("\n")
		}
	}
	return builder.String()
}

// UserText 只取用户发言，按到达顺序用空格拼接，供打分服务使用。
func (a *Accumulator) UserText() string {
	lines := a.Lines()

	parts := make([]string, 0, len(lines))
	for _, line := range lines {
		if line.Speaker == checkin.SpeakerUser {
			parts = append(parts, line.Text)
		}
	}
	return strings.Join(parts, " ")
}

// UserTurns 返回已追加的用户发言条数。
func (a *Accumulator) UserTurns() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.userLines
}

// IsEmpty 只要从未出现过用户发言就视为空会话，助手独白不算。
func (a *Accumulator) IsEmpty() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.userLines == 0
}
