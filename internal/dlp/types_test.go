package dlp

import "testing"

func TestFindingsToHits(t *testing.T) {
	findings := []Finding{
		{Type: TypeEmail, Category: CategoryPII, Count: 2, Confidence: ConfidenceHigh},
		{Type: TypeName, Category: CategoryPII, Count: 1, Confidence: ConfidenceMedium},
		{Type: TypeSecretBearer, Category: CategorySecret, Count: 1, Confidence: ConfidenceHigh},
	}

	hits := FindingsToHits(findings)

	want := []DetectorHit{
		{Type: "PII_EMAIL", Count: 2, Confidence: 90},
		{Type: "PII_NAME", Count: 1, Confidence: 70},
		{Type: "SECRET_BEARER", Count: 1, Confidence: 90},
		{Type: "PII", Count: 3, Confidence: 90},
		{Type: "Secrets", Count: 1, Confidence: 90},
	}
	if len(hits) != len(want) {
		t.Fatalf("len = %d, want %d: %+v", len(hits), len(want), hits)
	}
	for i := range want {
		if hits[i] != want[i] {
			t.Errorf("hits[%d] = %+v, want %+v", i, hits[i], want[i])
		}
	}
}

func TestCategoryHits(t *testing.T) {
	findings := []Finding{
		{Type: TypeEmail, Category: CategoryPII, Count: 2, Confidence: ConfidenceHigh},
		{Type: TypeName, Category: CategoryPII, Count: 1, Confidence: ConfidenceMedium},
		{Type: TypeSecretBearer, Category: CategorySecret, Count: 1, Confidence: ConfidenceHigh},
	}

	hits := CategoryHits(findings)

	want := []DetectorHit{
		{Type: "PII", Count: 3, Confidence: 90},
		{Type: "Secrets", Count: 1, Confidence: 90},
	}
	if len(hits) != len(want) {
		t.Fatalf("len = %d, want %d: %+v", len(hits), len(want), hits)
	}
	for i := range want {
		if hits[i] != want[i] {
			t.Errorf("hits[%d] = %+v, want %+v", i, hits[i], want[i])
		}
	}
}

func TestConfidenceScores(t *testing.T) {
	if ConfidenceHigh.Score() != 90 || ConfidenceMedium.Score() != 70 || ConfidenceLow.Score() != 40 {
		t.Error("confidence score mapping changed")
	}
	if ScoreToConfidence(85) != ConfidenceHigh ||
		ScoreToConfidence(65) != ConfidenceMedium ||
		ScoreToConfidence(10) != ConfidenceLow {
		t.Error("score to confidence mapping changed")
	}
}

func TestNewMaskConfig(t *testing.T) {
	t.Run("valid types accepted", func(t *testing.T) {
		cfg, err := NewMaskConfig(map[string]string{"PII_EMAIL": "first_char_only"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg[TypeEmail] != "first_char_only" {
			t.Errorf("cfg = %v", cfg)
		}
	})

	t.Run("unknown type rejected", func(t *testing.T) {
		if _, err := NewMaskConfig(map[string]string{"PII_BOGUS": "x"}); err == nil {
			t.Error("unknown type accepted")
		}
	})

	t.Run("empty map is nil config", func(t *testing.T) {
		cfg, err := NewMaskConfig(nil)
		if err != nil || cfg != nil {
			t.Errorf("cfg = %v, err = %v", cfg, err)
		}
	})
}

func TestIsValidType(t *testing.T) {
	for _, ft := range AllTypes() {
		if !IsValidType(ft) {
			t.Errorf("%s not valid", ft)
		}
	}
	if IsValidType("PII_BOGUS") {
		t.Error("bogus type valid")
	}
}
