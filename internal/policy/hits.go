package policy

import (
	"strings"

	"github.com/promptgate/promptgate/internal/dlp"
)

// NormalizeDetectorType upper-cases the category aggregate names so client
// and server hits line up with the type names policies reference. Specific
// type names (PII_EMAIL, SECRET_BEARER) pass through unchanged.
func NormalizeDetectorType(t string) string {
	u := strings.ToUpper(t)
	if u == "SECRETS" || u == "PII" || u == "CODE" {
		return u
	}
	return t
}

// MergeHits combines client-reported and server-computed detector hits by
// normalized type: counts are summed and confidence keeps the maximum. The
// result preserves first-seen order, client hits first.
func MergeHits(local, server []dlp.DetectorHit) []dlp.DetectorHit {
	byType := make(map[string]int)
	var merged []dlp.DetectorHit

	add := func(h dlp.DetectorHit) {
		t := NormalizeDetectorType(h.Type)
		if i, ok := byType[t]; ok {
			merged[i].Count += h.Count
			if h.Confidence > merged[i].Confidence {
				merged[i].Confidence = h.Confidence
			}
			return
		}
		byType[t] = len(merged)
		merged = append(merged, dlp.DetectorHit{Type: t, Count: h.Count, Confidence: h.Confidence})
	}

	for _, h := range local {
		add(h)
	}
	for _, h := range server {
		add(h)
	}
	return merged
}
