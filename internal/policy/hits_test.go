package policy

import (
	"testing"

	"github.com/promptgate/promptgate/internal/dlp"
)

func TestNormalizeDetectorType(t *testing.T) {
	tests := []struct{ in, want string }{
		{"pii", "PII"},
		{"Secrets", "SECRETS"},
		{"code", "CODE"},
		{"PII_EMAIL", "PII_EMAIL"},
		{"custom_detector", "custom_detector"},
	}
	for _, tt := range tests {
		if got := NormalizeDetectorType(tt.in); got != tt.want {
			t.Errorf("NormalizeDetectorType(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMergeHits(t *testing.T) {
	local := []dlp.DetectorHit{
		{Type: "pii", Count: 2, Confidence: 70},
		{Type: "PII_EMAIL", Count: 2, Confidence: 90},
	}
	server := []dlp.DetectorHit{
		{Type: "PII", Count: 1, Confidence: 90},
		{Type: "Secrets", Count: 1, Confidence: 90},
	}

	got := MergeHits(local, server)

	want := []dlp.DetectorHit{
		{Type: "PII", Count: 3, Confidence: 90},
		{Type: "PII_EMAIL", Count: 2, Confidence: 90},
		{Type: "SECRETS", Count: 1, Confidence: 90},
	}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("merged[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestMergeHitsEmptyInputs(t *testing.T) {
	if got := MergeHits(nil, nil); len(got) != 0 {
		t.Errorf("MergeHits(nil, nil) = %+v", got)
	}

	server := []dlp.DetectorHit{{Type: "CODE", Count: 5, Confidence: 90}}
	got := MergeHits(nil, server)
	if len(got) != 1 || got[0].Type != "CODE" || got[0].Count != 5 {
		t.Errorf("server-only merge = %+v", got)
	}
}
