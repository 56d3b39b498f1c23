package wellness

import (
	"strings"

	model "github.com/cheqin-app/backend/internal/model/wellness"
)

// 维度标签，身心各自一组关键词桶。
type dimension string

const (
	mentalPositive   dimension = "mental_positive"
	mentalNegative   dimension = "mental_negative"
	physicalPositive dimension = "physical_positive"
	physicalNegative dimension = "physical_negative"
)

var keywordBuckets = map[dimension][]string{
	mentalPositive: {
		"happy", "good", "great", "wonderful", "enjoyed", "fun", "laughed", "grateful",
		"excited", "peaceful", "calm", "relaxed", "content", "lovely", "blessed",
		"looking forward", "visited", "friends", "family", "grandkids", "grandchildren",
	},
	mentalNegative: {
		"sad", "lonely", "alone", "depressed", "anxious", "worried", "scared", "afraid",
		"upset", "crying", "cried", "hopeless", "miss", "missing", "stressed", "confused",
		"forgot", "forget", "nobody", "no one", "tired of", "can't sleep", "nightmare",
	},
	physicalPositive: {
		"walk", "walked", "walking", "exercise", "gardening", "slept well", "appetite",
		"energetic", "energy", "strong", "active", "swimming", "stretching", "ate well",
	},
	physicalNegative: {
		"pain", "hurts", "hurt", "ache", "aching", "dizzy", "fell", "fall", "fatigue",
		"exhausted", "nauseous", "sick", "fever", "cough", "breathless", "short of breath",
		"swollen", "numb", "headache", "can't walk", "chest", "blood pressure", "medication",
		"didn't sleep", "couldn't sleep", "no appetite", "lost weight",
	},
}

// Analyze 纯关键词打分的兜底版本：模型不可用或输出无法解析时，
// 用它保证每次签到都有一份结构完整的评分。
func Analyze(userText string) *model.Scores {
	normalized := strings.ToLower(strings.TrimSpace(userText))

	hits := make(map[dimension][]string)
	for dim, keywords := range keywordBuckets {
		for _, word := range keywords {
			if strings.Contains(normalized, word) {
				hits[dim] = append(hits[dim], word)
			}
		}
	}

	mental := bandScore(len(hits[mentalPositive]), len(hits[mentalNegative]))
	physical := bandScore(len(hits[physicalPositive]), len(hits[physicalNegative]))
	overall := (mental + physical) / 2

	sentiment := clamp((mental-3)/2, -1, 1)

	return &model.Scores{
		SentimentScore:      sentiment,
		SentimentLabel:      labelFor(sentiment),
		Highlights:          hits[mentalPositive],
		Concerns:            append(hits[mentalNegative], hits[physicalNegative]...),
		MoodRating:          mental,
		MentalHealthScore:   mental,
		PhysicalHealthScore: physical,
		OverallScore:        overall,
		MentalIndicators:    append(hits[mentalPositive], hits[mentalNegative]...),
		PhysicalIndicators:  append(hits[physicalPositive], hits[physicalNegative]...),
	}
}

// bandScore 正负命中数换算到 1~5。没有任何命中时取中间值。
func bandScore(positive, negative int) float64 {
	if positive == 0 && negative == 0 {
		return 3
	}
	score := 3 + float64(positive)*0.5 - float64(negative)*0.75
	return clamp(score, 1, 5)
}

func labelFor(sentiment float64) string {
	switch {
	case sentiment <= -0.6:
		return "very_negative"
	case sentiment <= -0.2:
		return "negative"
	case sentiment < 0.2:
		return "neutral"
	case sentiment < 0.6:
		return "positive"
	default:
		return "very_positive"
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
