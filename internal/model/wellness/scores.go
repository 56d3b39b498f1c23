package wellness

// Scores 情感与身心健康评分结果，字段与打分服务返回的 JSON 保持一致。
// mental/physical/overall 采用 1~5 区间，sentiment_score 保留 -1~1 的旧口径。
type Scores struct {
	SentimentScore      float64            `json:"sentiment_score"`
	SentimentLabel      string             `json:"sentiment_label"`
	Emotions            map[string]float64 `json:"emotions,omitempty"`
	Highlights          []string           `json:"highlights,omitempty"`
	Concerns            []string           `json:"concerns,omitempty"`
	MoodRating          float64            `json:"mood_rating"`
	MentalHealthScore   float64            `json:"mental_health_score"`
	PhysicalHealthScore float64            `json:"physical_health_score"`
	OverallScore        float64            `json:"overall_score"`
	MentalIndicators    []string           `json:"mental_indicators,omitempty"`
	PhysicalIndicators  []string           `json:"physical_indicators,omitempty"`
}

// Labels 合法的 sentiment_label 取值。
var Labels = []string{"very_negative", "negative", "neutral", "positive", "very_positive"}

// ValidLabel 判断标签是否在允许的取值内。
func ValidLabel(label string) bool {
	for _, l := range Labels {
		if l == label {
			return true
		}
	}
	return false
}
