package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	analysis "github.com/cheqin-app/backend/internal/analysis/wellness"
	"github.com/cheqin-app/backend/internal/model/wellness"
)

// Config 控制打分服务的行为。
type Config struct {
	Enabled bool
}

// Service 使用大模型对签到转写做身心健康评分，模型不可用或输出
// 不合法时回退到关键词启发式，保证每次签到都能出分。
type Service struct {
	enabled  bool
	scorer   compose.Runnable[map[string]any, *schema.Message]
	fallback func(userText string) *wellness.Scores
}

// NewService 创建打分服务。chatModel 为 nil 时服务只走启发式兜底。
func NewService(ctx context.Context, chatModel model.ChatModel, cfg Config) (*Service, error) {
	svc := &Service{
		enabled:  cfg.Enabled && chatModel != nil,
		fallback: analysis.Analyze,
	}

	if !svc.enabled {
		return svc, nil
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage(scoringSystemPrompt),
		schema.UserMessage(scoringUserPrompt),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile wellness scorer chain: %w", err)
	}

	svc.scorer = runnable
	return svc, nil
}

// Enabled 返回是否有可用的大模型打分链。
func (s *Service) Enabled() bool {
	return s != nil && s.enabled && s.scorer != nil
}

// Score 对用户发言文本打分。userText 只含用户侧发言，助手的话
// 不参与评分，避免助手的关怀措辞抬高情绪分。
func (s *Service) Score(ctx context.Context, userText string) *wellness.Scores {
	trimmed := strings.TrimSpace(userText)
	if trimmed == "" {
		return s.fallback("")
	}
	if !s.Enabled() {
		return s.fallback(trimmed)
	}

	msg, err := s.scorer.Invoke(ctx, map[string]any{"transcript": trimmed})
	if err != nil {
		log.Printf("[scoring] scorer invoke failed, use fallback: %v", err)
		return s.fallback(trimmed)
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return s.fallback(trimmed)
	}

	scores, err := parseScorerOutput(msg.Content)
	if err != nil {
		log.Printf("[scoring] scorer output parse failed, use fallback: %v", err)
		return s.fallback(trimmed)
	}

	normalize(scores)
	return scores
}

// parseScorerOutput 从模型输出里抠出 JSON 对象并解析。
func parseScorerOutput(content string) (*wellness.Scores, error) {
	trimmed := strings.TrimSpace(content)
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("missing json object")
	}

	scores := &wellness.Scores{}
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), scores); err != nil {
		return nil, err
	}
	return scores, nil
}

// normalize 把模型给出的数值夹回合法区间，补全缺失字段。
func normalize(s *wellness.Scores) {
	s.SentimentScore = clamp(s.SentimentScore, -1, 1)
	s.MoodRating = clampScore(s.MoodRating)
	s.MentalHealthScore = clampScore(s.MentalHealthScore)
	s.PhysicalHealthScore = clampScore(s.PhysicalHealthScore)

	if s.OverallScore == 0 {
		s.OverallScore = (s.MentalHealthScore + s.PhysicalHealthScore) / 2
	}
	s.OverallScore = clampScore(s.OverallScore)

	if !wellness.ValidLabel(s.SentimentLabel) {
		switch {
		case s.SentimentScore <= -0.6:
			s.SentimentLabel = "very_negative"
		case s.SentimentScore <= -0.2:
			s.SentimentLabel = "negative"
		case s.SentimentScore < 0.2:
			s.SentimentLabel = "neutral"
		case s.SentimentScore < 0.6:
			s.SentimentLabel = "positive"
		default:
			s.SentimentLabel = "very_positive"
		}
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampScore(v float64) float64 {
	if v == 0 {
		return 3
	}
	return clamp(v, 1, 5)
}

const scoringSystemPrompt = "You are a compassionate wellness analyst reviewing what an elderly person said during a voice check-in. Assess their emotional and physical wellbeing from their own words only.\nOutput requirements: return exactly one JSON object with these fields: sentiment_score (-1 to 1), sentiment_label (one of very_negative/negative/neutral/positive/very_positive), emotions (object mapping emotion names to 0-1 intensities), highlights (array of positive moments mentioned), concerns (array of worries or symptoms mentioned), mood_rating (1-5), mental_health_score (1-5), physical_health_score (1-5), overall_score (1-5), mental_indicators (array of short phrases), physical_indicators (array of short phrases). Do not output anything else."

const scoringUserPrompt = "What the person said during today's check-in:\n{transcript}\n\nProduce the JSON assessment."
