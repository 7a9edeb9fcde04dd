package dlp

import (
	"regexp"
	"strings"
)

// MatchContext carries the text windows surrounding one regex match. Windows
// are computed once per match and shared by every validator that needs them.
type MatchContext struct {
	Before   string // 30 runes before the match
	After    string // 10 runes after the match
	Nearby   string // match plus 100 runes on each side
	FullText string
	Offset   int
}

// Pattern is one typed matcher in the catalog: a regex plus an optional
// contextual validator and a pre-mask renderer for audit samples.
type Pattern struct {
	Type       FindingType
	Category   Category
	Confidence Confidence
	Regex      *regexp.Regexp
	// Group selects the submatch reported as the span. Zero means the whole
	// match; catalog entries that emulate lookahead by consuming a boundary
	// set this to the candidate subgroup.
	Group       int
	Validate    func(match string, ctx *MatchContext) bool
	PreMask     func(match string) string
	ReasonLabel string
}

var sepRe = regexp.MustCompile(`[- ]`)

func stripSeps(s string) string {
	return strings.NewReplacer("-", "", " ", "").Replace(s)
}

// ──────────────────────────────────────────────
// Korean name validation
// ──────────────────────────────────────────────

// Surnames covering 99%+ of the population. Candidates whose first syllable
// is not listed here can still be accepted via the label/honorific gates.
const surnameSyllables = "김이박최정강조윤장임한오서신권" +
	"황안송류전홍고문양손배백허유남" +
	"심노하곽성차주우구민진지엄채원" +
	"천방공현감변여추도소석선설마길" +
	"연위표명기반라왕금옥육인맹제탁" +
	"봉편경복피범승태함빈상모"

var koreanSurnames = func() map[rune]bool {
	m := make(map[rune]bool)
	for _, r := range surnameSyllables {
		m[r] = true
	}
	return m
}()

// Common nouns that satisfy the 2-4 syllable shape but are never names.
var nameStopWords = map[string]bool{
	"현실": true, "고객": true, "인형": true, "방송": true, "연산": true,
	"고성": true, "인사": true, "주문": true, "배송": true, "설정": true,
	"변경": true, "추가": true, "삭제": true, "수정": true, "감사": true,
	"성공": true, "실장": true, "원장": true, "우리": true, "방법": true,
	"현재": true, "가능": true, "경우": true, "기본": true, "반복": true,
	"정보": true, "문의": true, "안내": true, "확인": true, "처리": true,
	"진행": true, "완료": true, "요청": true, "승인": true, "거절": true,
	"취소": true, "등록": true, "검색": true, "조회": true, "사용": true,
}

// Honorifics and job titles that can immediately follow a name.
var nameSuffixRe = regexp.MustCompile(`^\s*(?:님|씨|과장|대리|부장|사원|팀장|선생|교수|박사|의원|이사|차장|실장|원장|센터장|소장|주임|대표|사장|회장|위원|간사|기자|작가|감독|판사|검사|변호사|약사|간호사|기사|경위|경감|경정|서기|주무관)`)

// Labels that can immediately precede a name, e.g. "이름:" or "담당자 =".
var namePrefixRe = regexp.MustCompile(`(?:이름|성명|담당자|작성자|신고자|수신자|발신자|보호자|환자|고객명?|수취인|피보험자|계약자|대리인|의뢰인|신청인|대표자|연락처\s*담당|참석자)\s*[:=]\s*$`)

// Hard PII (mobile number, email, resident ID) whose presence near a
// surname-led candidate upgrades it to a name.
var hardPIIRe = regexp.MustCompile(`01[0-9]-?[0-9]{3,4}-?[0-9]{4}|[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}|\b[0-9]{6}-?[0-9]{7}\b`)

var verbEndingRe = regexp.MustCompile(`[다요]$`)

// likelyKoreanName applies the three-tier gate: explicit label before,
// honorific/title after, or known surname with hard PII nearby. Verb-like
// endings and common nouns are rejected before the gates run. Surname-only
// matching is deliberately insufficient; it false-positives on ordinary
// nouns.
func likelyKoreanName(candidate string, ctx *MatchContext) bool {
	if verbEndingRe.MatchString(candidate) {
		return false
	}
	if nameStopWords[candidate] {
		return false
	}
	if namePrefixRe.MatchString(ctx.Before) {
		return true
	}
	if nameSuffixRe.MatchString(ctx.After) {
		return true
	}
	first, _ := firstRune(candidate)
	return koreanSurnames[first] && hardPIIRe.MatchString(ctx.Nearby)
}

func firstRune(s string) (rune, bool) {
	for _, r := range s {
		return r, true
	}
	return 0, false
}

// luhnValid runs the Luhn checksum over exactly 16 digits, doubling from the
// leftmost digit. This is the only PII validator with a checksum; it exists
// to suppress the false-positive rate of bare 4-4-4-4 digit groups.
func luhnValid(digits string) bool {
	if len(digits) != 16 {
		return false
	}
	sum := 0
	for i := 0; i < 16; i++ {
		d := int(digits[i] - '0')
		if d < 0 || d > 9 {
			return false
		}
		if i%2 == 0 {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
	}
	return sum%10 == 0
}

// ──────────────────────────────────────────────
// PII patterns
// ──────────────────────────────────────────────

var mobilePrefixRe = regexp.MustCompile(`^01[016789]`)
var passportKeywordRe = regexp.MustCompile(`(?i)여권|passport`)
var accountKeywordRe = regexp.MustCompile(`(?i)계좌|은행|송금|입금|이체|출금|국민|신한|우리|하나|농협|기업|SC|씨티`)
var hexKeywordRe = regexp.MustCompile(`(?i)key|secret|token|hash|api`)

var addressCityRe = regexp.MustCompile(`^(서울|부산|대구|인천|광주|대전|울산|세종|경기|강원|충북|충남|전북|전남|경북|경남|제주)(?:특별시|광역시|특별자치시|특별자치도|도)?`)

func piiPatterns() []Pattern {
	return []Pattern{
		{
			// Resident registration number: YYMMDD with a valid month/day,
			// then a sign digit 1-4. Format validity only, no checksum.
			Type:       TypeResidentID,
			Category:   CategoryPII,
			Confidence: ConfidenceHigh,
			Regex:      regexp.MustCompile(`\b(\d{2}(?:0[1-9]|1[0-2])(?:0[1-9]|[12]\d|3[01]))[- ]?([1-4]\d{6})\b`),
			PreMask: func(m string) string {
				d := stripSeps(m)
				return d[:6] + "-*******"
			},
		},
		{
			Type:       TypeMobile,
			Category:   CategoryPII,
			Confidence: ConfidenceHigh,
			Regex:      regexp.MustCompile(`\b01[016789][- ]?\d{3,4}[- ]?\d{4}\b`),
			PreMask: func(m string) string {
				d := stripSeps(m)
				return d[:3] + "-****-" + d[len(d)-4:]
			},
		},
		{
			// Landlines share the leading-zero shape with mobiles; 01x
			// prefixes are excluded so mobiles keep their own type.
			Type:       TypeLandline,
			Category:   CategoryPII,
			Confidence: ConfidenceMedium,
			Regex:      regexp.MustCompile(`\b0\d{1,2}[- ]?\d{3,4}[- ]?\d{4}\b`),
			Validate: func(m string, _ *MatchContext) bool {
				return !mobilePrefixRe.MatchString(m)
			},
			PreMask: func(m string) string {
				d := stripSeps(m)
				areaLen := len(d) - 8
				if areaLen < 2 {
					areaLen = 2
				}
				return d[:areaLen] + "-****-" + d[len(d)-4:]
			},
		},
		{
			Type:       TypeEmail,
			Category:   CategoryPII,
			Confidence: ConfidenceHigh,
			Regex:      regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
			PreMask: func(m string) string {
				at := strings.IndexByte(m, '@')
				return m[:at] + "@***.***"
			},
		},
		{
			// Passport numbers collide with arbitrary letter+digit strings,
			// so a domain keyword anywhere in the text is required.
			Type:        TypePassport,
			Category:    CategoryPII,
			Confidence:  ConfidenceMedium,
			Regex:       regexp.MustCompile(`\b[MSROD]\d{8}\b`),
			ReasonLabel: "keyword_passport",
			Validate: func(_ string, ctx *MatchContext) bool {
				return passportKeywordRe.MatchString(ctx.FullText)
			},
			PreMask: func(m string) string {
				return m[:1] + "********"
			},
		},
		{
			Type:       TypeDriverLicense,
			Category:   CategoryPII,
			Confidence: ConfidenceHigh,
			Regex:      regexp.MustCompile(`\b\d{2}-\d{2}-\d{6}-\d{2}\b`),
			PreMask: func(m string) string {
				return m[:2] + "-**-******-**"
			},
		},
		{
			Type:       TypeBizRegNo,
			Category:   CategoryPII,
			Confidence: ConfidenceHigh,
			Regex:      regexp.MustCompile(`\b\d{3}-\d{2}-\d{5}\b`),
			PreMask: func(m string) string {
				return m[:3] + "-**-*****"
			},
		},
		{
			Type:       TypeCard,
			Category:   CategoryPII,
			Confidence: ConfidenceHigh,
			Regex:      regexp.MustCompile(`\b(\d{4})[- ]?(\d{4})[- ]?(\d{4})[- ]?(\d{4})\b`),
			Validate: func(m string, _ *MatchContext) bool {
				return luhnValid(stripSeps(m))
			},
			PreMask: func(m string) string {
				d := stripSeps(m)
				return d[:4] + "-****-****-" + d[len(d)-4:]
			},
		},
		{
			// Account numbers are just digit groups; require a banking
			// keyword in the nearby window.
			Type:        TypeAccount,
			Category:    CategoryPII,
			Confidence:  ConfidenceMedium,
			Regex:       regexp.MustCompile(`\b\d{2,6}[- ]\d{2,6}[- ]\d{2,8}\b`),
			ReasonLabel: "keyword_account",
			Validate: func(_ string, ctx *MatchContext) bool {
				return accountKeywordRe.MatchString(ctx.Nearby)
			},
			PreMask: func(m string) string {
				parts := sepRe.Split(m, -1)
				if len(parts) >= 3 {
					return parts[0] + "-***-" + strings.Repeat("*", len(parts[len(parts)-1]))
				}
				return digitRe.ReplaceAllString(m, "*")
			},
		},
		{
			Type:       TypeAddress,
			Category:   CategoryPII,
			Confidence: ConfidenceMedium,
			Regex:      regexp.MustCompile(`(?:서울|부산|대구|인천|광주|대전|울산|세종|경기|강원|충북|충남|전북|전남|경북|경남|제주)(?:특별시|광역시|특별자치시|특별자치도|도)?\s*[^\n,]{3,30}(?:구|군|시)\s*[^\n,]{2,20}(?:동|읍|면|로|길|번지|호|층)`),
			PreMask: func(m string) string {
				if city := addressCityRe.FindString(m); city != "" {
					return city + " ***"
				}
				return "*** ***"
			},
		},
		{
			// 2-4 Hangul syllables followed by a boundary. The boundary is
			// consumed as a second group since RE2 has no lookahead; the
			// reported span is the candidate only.
			Type:        TypeName,
			Category:    CategoryPII,
			Confidence:  ConfidenceMedium,
			Regex:       regexp.MustCompile(`([가-힣]{2,4})(\s|,|\.|[0-9]|\)|\]|"|'|입니다|이에요|이라고|$)`),
			Group:       1,
			ReasonLabel: "context_required",
			Validate: likelyKoreanName,
			PreMask: func(m string) string {
				r := []rune(m)
				if len(r) <= 1 {
					return m
				}
				return string(r[0]) + strings.Repeat("*", len(r)-1)
			},
		},
		{
			Type:       TypeDateOfBirth,
			Category:   CategoryPII,
			Confidence: ConfidenceMedium,
			Regex:      regexp.MustCompile(`\b(19|20)\d{2}[.-](0[1-9]|1[0-2])[.-](0[1-9]|[12]\d|3[01])\b`),
			PreMask: func(m string) string {
				return m[:4] + "-**-**"
			},
		},
	}
}

// ──────────────────────────────────────────────
// Secret patterns
// ──────────────────────────────────────────────

func secretPatterns() []Pattern {
	return []Pattern{
		{
			Type:       TypeSecretBearer,
			Category:   CategorySecret,
			Confidence: ConfidenceHigh,
			Regex:      regexp.MustCompile(`(?i)\bBearer\s+[A-Za-z0-9_-]{20,}`),
			PreMask: func(string) string {
				return "Bearer ***..."
			},
		},
		{
			Type:       TypeSecretAPIKey,
			Category:   CategorySecret,
			Confidence: ConfidenceHigh,
			Regex:      regexp.MustCompile(`(?i)(?:api[_-]?key|apikey|secret|password|passwd|token|credentials?)\s*[:=]\s*['"]?[A-Za-z0-9_/+=-]{8,}['"]?`),
			PreMask: func(string) string {
				return "***=***"
			},
		},
		{
			Type:       TypeSecretOpenAI,
			Category:   CategorySecret,
			Confidence: ConfidenceHigh,
			Regex:      regexp.MustCompile(`\b(?:sk-[A-Za-z0-9_-]{20,}|sk_proj-[A-Za-z0-9_-]+)\b`),
			PreMask: func(m string) string {
				return m[:5] + "***..."
			},
		},
		{
			Type:       TypeSecretAWS,
			Category:   CategorySecret,
			Confidence: ConfidenceHigh,
			Regex:      regexp.MustCompile(`(?:AKIA|ABIA|ACCA|ASIA)[A-Z0-9]{16}`),
			PreMask: func(m string) string {
				return m[:4] + "****************"
			},
		},
		{
			// Bare hex blobs are usually hashes or IDs; only report them
			// when key-ish vocabulary appears nearby.
			Type:        TypeSecretHexKey,
			Category:    CategorySecret,
			Confidence:  ConfidenceMedium,
			Regex:       regexp.MustCompile(`\b[a-fA-F0-9]{32,64}\b`),
			ReasonLabel: "keyword_key",
			Validate: func(_ string, ctx *MatchContext) bool {
				return hexKeywordRe.MatchString(ctx.Nearby)
			},
			PreMask: func(m string) string {
				return m[:6] + "***..."
			},
		},
	}
}

// DefaultCatalog returns the full PII + secret pattern list in catalog
// order. Code detection is score-based and handled separately by the
// classifier.
func DefaultCatalog() []Pattern {
	catalog := piiPatterns()
	return append(catalog, secretPatterns()...)
}
