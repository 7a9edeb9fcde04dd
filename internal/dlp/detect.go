package dlp

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
)

// Classifier runs the pattern catalog plus the code heuristic over
// normalized text. It is stateless after construction and safe for
// concurrent use.
type Classifier struct {
	catalog  []Pattern
	profiles *ProfileRegistry
	logger   *zap.Logger
}

// NewClassifier builds a classifier over the default catalog. profiles may be
// nil, in which case DetectOptions.Profile is ignored.
func NewClassifier(profiles *ProfileRegistry, logger *zap.Logger) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{
		catalog:  DefaultCatalog(),
		profiles: profiles,
		logger:   logger,
	}
}

// Detect normalizes rawText and returns one Finding per detected type, in
// catalog order with CODE last. Span offsets are byte offsets into the
// normalized text, so callers must mask the normalized text, not rawText.
func (c *Classifier) Detect(rawText string, opts DetectOptions) []Finding {
	text := Normalize(rawText, opts.MaxLength)
	if strings.TrimSpace(text) == "" {
		return nil
	}

	enabled := c.enabledSet(opts)

	var findings []Finding
	for i := range c.catalog {
		p := &c.catalog[i]
		if enabled != nil && !enabled[p.Type] {
			continue
		}
		if matches := c.runPattern(p, text); len(matches) > 0 {
			findings = append(findings, Finding{
				Type:       p.Type,
				Category:   p.Category,
				Count:      len(matches),
				Confidence: p.Confidence,
				Matches:    matches,
			})
		}
	}

	if enabled == nil || enabled[TypeCode] {
		if f, ok := codeFinding(text); ok {
			findings = append(findings, f)
		}
	}

	if len(findings) > 0 {
		c.logger.Debug("classification complete",
			zap.Int("findings", len(findings)),
			zap.Int("total_count", TotalCount(findings)))
	}
	return findings
}

func (c *Classifier) enabledSet(opts DetectOptions) map[FindingType]bool {
	if opts.EnabledTypes != nil {
		set := make(map[FindingType]bool, len(opts.EnabledTypes))
		for _, t := range opts.EnabledTypes {
			set[t] = true
		}
		return set
	}
	if opts.Profile != "" && c.profiles != nil {
		if profile, ok := c.profiles.Get(opts.Profile); ok {
			set := make(map[FindingType]bool, len(profile.EnabledTypes))
			for _, t := range profile.EnabledTypes {
				set[t] = true
			}
			return set
		}
		c.logger.Warn("unknown detection profile, detecting all types",
			zap.String("profile", opts.Profile))
	}
	return nil
}

func (c *Classifier) runPattern(p *Pattern, text string) []MatchSpan {
	idxs := p.Regex.FindAllStringSubmatchIndex(text, -1)
	if len(idxs) == 0 {
		return nil
	}

	var matches []MatchSpan
	for _, idx := range idxs {
		start, end := idx[2*p.Group], idx[2*p.Group+1]
		if start < 0 {
			continue
		}
		matchText := text[start:end]

		ctx := &MatchContext{
			Before:   runesBefore(text, start, 30),
			After:    runesAfter(text, end, 10),
			Nearby:   runesBefore(text, start, 100) + matchText + runesAfter(text, end, 100),
			FullText: text,
			Offset:   start,
		}
		if p.Validate != nil && !p.Validate(matchText, ctx) {
			continue
		}

		matches = append(matches, MatchSpan{
			Start:        start,
			End:          end,
			Text:         matchText,
			MaskedSample: p.PreMask(matchText),
			Reason:       p.ReasonLabel,
		})
	}
	return matches
}

func codeFinding(text string) (Finding, bool) {
	score := ScoreCodeSignals(text)
	if score == 0 {
		return Finding{}, false
	}
	confidence := ConfidenceLow
	switch {
	case score >= 4:
		confidence = ConfidenceHigh
	case score >= 2:
		confidence = ConfidenceMedium
	}

	end := byteOffsetOfRune(text, CodeSpanLimit)
	return Finding{
		Type:       TypeCode,
		Category:   CategoryCode,
		Count:      score,
		Confidence: confidence,
		Matches: []MatchSpan{{
			Start:        0,
			End:          end,
			Text:         text[:end],
			MaskedSample: "[code detected]",
			Reason:       "signals=" + strconv.Itoa(score),
		}},
	}, true
}

// runesBefore returns up to n runes of s ending at byte offset off.
func runesBefore(s string, off, n int) string {
	start := off
	for i := 0; i < n && start > 0; i++ {
		_, size := utf8.DecodeLastRuneInString(s[:start])
		start -= size
	}
	return s[start:off]
}

// runesAfter returns up to n runes of s starting at byte offset off.
func runesAfter(s string, off, n int) string {
	end := off
	for i := 0; i < n && end < len(s); i++ {
		_, size := utf8.DecodeRuneInString(s[end:])
		end += size
	}
	return s[off:end]
}

// byteOffsetOfRune returns the byte offset of the n-th rune of s, or len(s)
// when s has fewer than n runes.
func byteOffsetOfRune(s string, n int) int {
	count := 0
	for i := range s {
		if count == n {
			return i
		}
		count++
	}
	return len(s)
}
