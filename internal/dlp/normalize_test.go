package dlp

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		maxLength int
		want      string
	}{
		{
			name:  "plain text unchanged",
			input: "hello 안녕하세요",
			want:  "hello 안녕하세요",
		},
		{
			name:  "zero-width space stripped",
			input: "안\u200b녕",
			want:  "안녕",
		},
		{
			name:  "zero-width joiners and bom stripped",
			input: "\ufeff010\u200c-1234\u200d-5678\u2060",
			want:  "010-1234-5678",
		},
		{
			name:  "directional marks stripped",
			input: "a\u200eb\u200fc",
			want:  "abc",
		},
		{
			name:  "decomposed hangul recomposed",
			input: "\u1100\u1161",
			want:  "가",
		},
		{
			name:      "truncated at rune boundary",
			input:     "가나다라마바사",
			maxLength: 3,
			want:      "가나다",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.input, tt.maxLength)
			if got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	input := "\ufeff이름: 김\u200b철수 \u1100\u1161나다"
	once := Normalize(input, 0)
	twice := Normalize(once, 0)
	if once != twice {
		t.Errorf("Normalize not idempotent: %q != %q", once, twice)
	}
}

func TestNormalizeDefaultLimit(t *testing.T) {
	long := make([]byte, 0, DefaultMaxLength+100)
	for i := 0; i < DefaultMaxLength+100; i++ {
		long = append(long, 'a')
	}
	got := Normalize(string(long), 0)
	if len(got) != DefaultMaxLength {
		t.Errorf("len = %d, want %d", len(got), DefaultMaxLength)
	}
}
