package wellness

import "testing"

func TestAnalyzePositiveDay(t *testing.T) {
	scores := Analyze("I had a wonderful day, went for a walk and visited my grandkids")
	if scores.MentalHealthScore <= 3 {
		t.Fatalf("expected upbeat mental score, got %f", scores.MentalHealthScore)
	}
	if scores.PhysicalHealthScore <= 3 {
		t.Fatalf("expected good physical score, got %f", scores.PhysicalHealthScore)
	}
	if scores.SentimentScore <= 0 {
		t.Fatalf("expected positive sentiment, got %f", scores.SentimentScore)
	}
	if len(scores.Highlights) == 0 {
		t.Fatal("expected highlights for a positive transcript")
	}
}

func TestAnalyzePhysicalComplaints(t *testing.T) {
	scores := Analyze("my back hurts and I feel dizzy, I couldn't sleep")
	if scores.PhysicalHealthScore >= 3 {
		t.Fatalf("expected low physical score, got %f", scores.PhysicalHealthScore)
	}
	if len(scores.Concerns) == 0 {
		t.Fatal("expected concerns for complaints")
	}
	if len(scores.PhysicalIndicators) == 0 {
		t.Fatal("expected physical indicators")
	}
}

func TestAnalyzeNeutralFallsBackToMidline(t *testing.T) {
	scores := Analyze("the weather report said rain tomorrow")
	if scores.MentalHealthScore != 3 || scores.PhysicalHealthScore != 3 {
		t.Fatalf("expected midline scores, got mental=%f physical=%f",
			scores.MentalHealthScore, scores.PhysicalHealthScore)
	}
	if scores.SentimentLabel != "neutral" {
		t.Fatalf("expected neutral label, got %s", scores.SentimentLabel)
	}
}

func TestAnalyzeScoresStayInRange(t *testing.T) {
	scores := Analyze("sad lonely depressed anxious worried scared hopeless pain hurts dizzy fell sick")
	if scores.MentalHealthScore < 1 || scores.OverallScore < 1 {
		t.Fatalf("scores below range: %+v", scores)
	}
	if scores.SentimentScore < -1 {
		t.Fatalf("sentiment below range: %f", scores.SentimentScore)
	}
}
