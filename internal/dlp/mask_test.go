package dlp

import (
	"regexp"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func detectNormalized(t *testing.T, text string) []Finding {
	t.Helper()
	c := NewClassifier(NewProfileRegistry(), zap.NewNop())
	return c.Detect(text, DetectOptions{})
}

func TestMaskDefaults(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{
			name: "mobile middle masked",
			text: "번호 010-1234-5678 입니다",
			want: "번호 010-****-5678 입니다",
		},
		{
			name: "email domain hidden",
			text: "메일 john@example.com 으로",
			want: "메일 john@***.*** 으로",
		},
		{
			name: "rrn back masked",
			text: "번호 880101-2345678 확인",
			want: "번호 880101-******* 확인",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text := Normalize(tt.text, 0)
			findings := detectNormalized(t, text)
			got := Mask(text, findings, nil)
			if got.MaskedText != tt.want {
				t.Errorf("MaskedText = %q, want %q", got.MaskedText, tt.want)
			}
			if got.AppliedCount != 1 {
				t.Errorf("AppliedCount = %d, want 1", got.AppliedCount)
			}
		})
	}
}

func TestMaskMultipleSpans(t *testing.T) {
	text := "a@b.com 다음 c@d.net 끝"
	findings := detectNormalized(t, text)
	got := Mask(text, findings, nil)

	want := "a@***.*** 다음 c@***.*** 끝"
	if got.MaskedText != want {
		t.Errorf("MaskedText = %q, want %q", got.MaskedText, want)
	}
	if got.AppliedCount != 2 {
		t.Errorf("AppliedCount = %d, want 2", got.AppliedCount)
	}
	if len(got.AppliedTypes) != 1 || got.AppliedTypes[0] != TypeEmail {
		t.Errorf("AppliedTypes = %v, want [PII_EMAIL]", got.AppliedTypes)
	}
}

// Overlapping spans keep the rightmost span and drop anything that crosses
// into it. Replacement then cannot corrupt offsets of untouched text.
func TestMaskOverlapKeepsRightmost(t *testing.T) {
	text := "abcdefghij"
	findings := []Finding{
		{
			Type: TypeSecretHexKey, Category: CategorySecret, Count: 1,
			Matches: []MatchSpan{{Start: 0, End: 5, Text: "abcde"}},
		},
		{
			Type: TypeSecretAWS, Category: CategorySecret, Count: 1,
			Matches: []MatchSpan{{Start: 3, End: 8, Text: "defgh"}},
		},
	}

	got := Mask(text, findings, nil)
	want := "abcd****ij"
	if got.MaskedText != want {
		t.Errorf("MaskedText = %q, want %q", got.MaskedText, want)
	}
	if got.AppliedCount != 1 {
		t.Errorf("AppliedCount = %d, want 1", got.AppliedCount)
	}
	if len(got.AppliedTypes) != 1 || got.AppliedTypes[0] != TypeSecretAWS {
		t.Errorf("AppliedTypes = %v, want rightmost type only", got.AppliedTypes)
	}
}

func TestMaskUnknownMethodSkipsSpan(t *testing.T) {
	text := "메일 john@example.com 으로"
	findings := detectNormalized(t, text)

	got := Mask(text, findings, MaskConfig{TypeEmail: "no_such_method"})
	if got.MaskedText != text {
		t.Errorf("text changed despite unknown method: %q", got.MaskedText)
	}
	if got.AppliedCount != 0 || len(got.AppliedTypes) != 0 {
		t.Errorf("AppliedCount = %d, AppliedTypes = %v, want zero", got.AppliedCount, got.AppliedTypes)
	}
}

func TestMaskMethodOverride(t *testing.T) {
	text := "메일 john@example.com 으로"
	findings := detectNormalized(t, text)

	got := Mask(text, findings, MaskConfig{TypeEmail: "first_char_only"})
	want := "메일 j*************** 으로"
	if got.MaskedText != want {
		t.Errorf("MaskedText = %q, want %q", got.MaskedText, want)
	}
}

func TestAnonymize(t *testing.T) {
	t.Run("rrn replaced with format-valid value", func(t *testing.T) {
		text := "등록번호 880101-1234567 확인"
		findings := detectNormalized(t, text)

		got := Anonymize(text, findings, nil)
		if got.AppliedCount != 1 {
			t.Fatalf("AppliedCount = %d, want 1", got.AppliedCount)
		}
		if !regexp.MustCompile(`등록번호 \d{6}-\d{7} 확인`).MatchString(got.MaskedText) {
			t.Errorf("result not format-valid: %q", got.MaskedText)
		}
	})

	t.Run("mobile replaced with 010 number", func(t *testing.T) {
		text := "번호 010-1234-5678 입니다"
		findings := detectNormalized(t, text)

		got := Anonymize(text, findings, nil)
		if !regexp.MustCompile(`번호 010-\d{4}-\d{4} 입니다`).MatchString(got.MaskedText) {
			t.Errorf("result not format-valid: %q", got.MaskedText)
		}
	})

	t.Run("type without substitute left intact", func(t *testing.T) {
		text := "여권 M12345678 재발급"
		findings := detectNormalized(t, text)
		if findingOf(findings, TypePassport) == nil {
			t.Fatal("passport not detected")
		}

		got := Anonymize(text, findings, nil)
		if got.MaskedText != text {
			t.Errorf("passport should be untouched: %q", got.MaskedText)
		}
		if got.AppliedCount != 0 {
			t.Errorf("AppliedCount = %d, want 0", got.AppliedCount)
		}
	})

	t.Run("name drawn from substitute pool", func(t *testing.T) {
		text := "이름: 박재현"
		findings := detectNormalized(t, text)
		if findingOf(findings, TypeName) == nil {
			t.Fatal("name not detected")
		}

		got := Anonymize(text, findings, nil)
		replaced := strings.TrimPrefix(got.MaskedText, "이름: ")
		found := false
		for _, n := range anonNames {
			if replaced == n {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("replacement %q not from the substitute pool", replaced)
		}
	})
}

func TestMaskFunctionLookup(t *testing.T) {
	fn, ok := MaskFunction("first_char_only")
	if !ok {
		t.Fatal("first_char_only missing")
	}
	if got := fn("김철수"); got != "김**" {
		t.Errorf("first_char_only(김철수) = %q, want 김**", got)
	}
	if _, ok := MaskFunction("bogus"); ok {
		t.Error("bogus method resolved")
	}
}
