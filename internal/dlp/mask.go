package dlp

import (
	"fmt"
	"math/rand"
	"regexp"
	"sort"
	"strings"
)

// maskFunctions rewrite one matched value into its masked form. Each keeps
// enough of the original shape to stay recognizable in logs and UI.
var maskFunctions = map[string]func(string) string{
	"first_char_only": func(m string) string {
		r := []rune(m)
		if len(r) <= 1 {
			return m
		}
		return string(r[0]) + strings.Repeat("*", len(r)-1)
	},
	"year_only": func(m string) string {
		parts := dateSepRe.Split(m, -1)
		return parts[0] + "-**-**"
	},
	"middle_masked": func(m string) string {
		d := stripSeps(m)
		return d[:3] + "-****-" + d[len(d)-4:]
	},
	"landline_masked": func(m string) string {
		d := stripSeps(m)
		areaLen := len(d) - 8
		if areaLen < 2 {
			areaLen = 2
		}
		return d[:areaLen] + "-****-" + d[len(d)-4:]
	},
	"domain_hidden": func(m string) string {
		at := strings.IndexByte(m, '@')
		if at == -1 {
			return m
		}
		return m[:at] + "@***.***"
	},
	"back_masked": func(m string) string {
		d := stripSeps(m)
		if len(d) == 13 {
			return d[:6] + "-*******"
		}
		return m[:6] + "-*******"
	},
	"driver_masked": func(m string) string {
		return m[:2] + "-**-******-**"
	},
	"bizno_masked": func(m string) string {
		return m[:3] + "-**-*****"
	},
	"card_masked": func(m string) string {
		d := stripSeps(m)
		if len(d) >= 16 {
			return d[:4] + "-****-****-" + d[len(d)-4:]
		}
		return m
	},
	"account_masked": func(m string) string {
		parts := sepRe.Split(m, -1)
		if len(parts) >= 3 {
			return parts[0] + "-***-" + strings.Repeat("*", len(parts[len(parts)-1]))
		}
		return digitRe.ReplaceAllString(m, "*")
	},
	"passport_masked": func(m string) string {
		return m[:1] + "********"
	},
	"address_masked": func(m string) string {
		if city := addressCityRe.FindString(m); city != "" {
			return city + " ***"
		}
		return "*** ***"
	},
}

// defaultMaskMethods selects the rewrite method per type when the caller
// supplies no override. Secrets and code fall back to first_char_only so the
// value is destroyed but its presence stays visible.
var defaultMaskMethods = map[FindingType]string{
	TypeName:          "first_char_only",
	TypeDateOfBirth:   "year_only",
	TypeMobile:        "middle_masked",
	TypeLandline:      "landline_masked",
	TypeEmail:         "domain_hidden",
	TypeResidentID:    "back_masked",
	TypeDriverLicense: "driver_masked",
	TypeBizRegNo:      "bizno_masked",
	TypeCard:          "card_masked",
	TypeAccount:       "account_masked",
	TypePassport:      "passport_masked",
	TypeAddress:       "address_masked",
	TypeSecretBearer:  "first_char_only",
	TypeSecretAPIKey:  "first_char_only",
	TypeSecretOpenAI:  "first_char_only",
	TypeSecretAWS:     "first_char_only",
	TypeSecretHexKey:  "first_char_only",
	TypeCode:          "first_char_only",
}

// Substitute names used by random_name. Deliberately common so the
// replacement reads naturally in Korean text.
var anonNames = []string{"김철수", "이영희", "박민수", "정수진", "최동훈", "강서연", "조현우", "윤지혜"}

var anonymizeFunctions = map[string]func(string) string{
	"random_name": func(string) string {
		return anonNames[rand.Intn(len(anonNames))]
	},
	"random_date": func(string) string {
		y := 1970 + rand.Intn(40)
		return fmt.Sprintf("%d-%02d-%02d", y, 1+rand.Intn(12), 1+rand.Intn(28))
	},
	"random_phone": func(string) string {
		return fmt.Sprintf("010-%04d-%04d", 1000+rand.Intn(9000), 1000+rand.Intn(9000))
	},
	"random_email": func(string) string {
		locals := []string{"user", "contact", "admin", "support", "info"}
		return locals[rand.Intn(len(locals))] + "@***.***"
	},
	"random_rrn": func(string) string {
		return fmt.Sprintf("%02d%02d%02d-%07d",
			70+rand.Intn(30), 1+rand.Intn(12), 1+rand.Intn(28),
			1000000+rand.Intn(8999999))
	},
}

// defaultAnonMethods lists the types that have a format-valid substitute.
// Types absent here are left untouched by Anonymize unless a config names a
// method for them.
var defaultAnonMethods = map[FindingType]string{
	TypeName:        "random_name",
	TypeDateOfBirth: "random_date",
	TypeMobile:      "random_phone",
	TypeLandline:    "random_phone",
	TypeEmail:       "random_email",
	TypeResidentID:  "random_rrn",
}

var dateSepRe = regexp.MustCompile(`[.-]`)
var digitRe = regexp.MustCompile(`\d`)

type flatSpan struct {
	start, end int
	typ        FindingType
}

// collectSpans flattens findings into spans sorted by descending start, then
// drops overlaps keeping the rightmost span. Replacement then runs back to
// front so earlier offsets stay valid.
func collectSpans(findings []Finding) []flatSpan {
	var spans []flatSpan
	for _, f := range findings {
		for _, m := range f.Matches {
			spans = append(spans, flatSpan{start: m.Start, end: m.End, typ: f.Type})
		}
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start > spans[j].start })

	deduped := spans[:0]
	lastStart := int(^uint(0) >> 1)
	for _, s := range spans {
		if s.end <= lastStart {
			deduped = append(deduped, s)
			lastStart = s.start
		}
	}
	return deduped
}

func applySpans(text string, spans []flatSpan, resolve func(FindingType) func(string) string) MaskResult {
	result := text
	var appliedTypes []FindingType
	seen := make(map[FindingType]bool)
	appliedCount := 0

	for _, span := range spans {
		fn := resolve(span.typ)
		if fn == nil {
			continue
		}
		result = result[:span.start] + fn(result[span.start:span.end]) + result[span.end:]
		if !seen[span.typ] {
			seen[span.typ] = true
			appliedTypes = append(appliedTypes, span.typ)
		}
		appliedCount++
	}

	return MaskResult{
		MaskedText:   result,
		AppliedCount: appliedCount,
		AppliedTypes: appliedTypes,
	}
}

// Mask rewrites every matched span of text using the per-type mask method.
// text must be the same normalized text the findings were produced from.
// config overrides the default method per type; an unknown method name skips
// that span.
func Mask(text string, findings []Finding, config MaskConfig) MaskResult {
	return applySpans(text, collectSpans(findings), func(t FindingType) func(string) string {
		name, ok := config[t]
		if !ok {
			name = defaultMaskMethods[t]
		}
		return maskFunctions[name]
	})
}

// Anonymize replaces matched spans with format-valid fake values. Types with
// no substitute method are left intact.
func Anonymize(text string, findings []Finding, config AnonymizeConfig) MaskResult {
	return applySpans(text, collectSpans(findings), func(t FindingType) func(string) string {
		name, ok := config[t]
		if !ok {
			name = defaultAnonMethods[t]
		}
		if name == "" {
			return nil
		}
		return anonymizeFunctions[name]
	})
}

// MaskFunction exposes one named mask method for callers that rewrite values
// outside the span machinery (audit samples, previews).
func MaskFunction(name string) (func(string) string, bool) {
	fn, ok := maskFunctions[name]
	return fn, ok
}
