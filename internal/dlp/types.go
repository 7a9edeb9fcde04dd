package dlp

import "fmt"

// Category groups finding types into the three top-level classes.
type Category string

const (
	CategoryPII    Category = "PII"
	CategorySecret Category = "SECRET"
	CategoryCode   Category = "CODE"
)

// FindingType is the closed enumeration of everything the classifier can
// report. Adding a type requires a catalog pattern, a default mask method,
// and profile updates together.
type FindingType string

const (
	TypeResidentID    FindingType = "PII_RRN"
	TypeMobile        FindingType = "PII_MOBILE"
	TypeLandline      FindingType = "PII_PHONE"
	TypeEmail         FindingType = "PII_EMAIL"
	TypePassport      FindingType = "PII_PASSPORT"
	TypeDriverLicense FindingType = "PII_DRIVER"
	TypeBizRegNo      FindingType = "PII_BIZNO"
	TypeCard          FindingType = "PII_CARD"
	TypeAccount       FindingType = "PII_ACCOUNT"
	TypeAddress       FindingType = "PII_ADDRESS"
	TypeName          FindingType = "PII_NAME"
	TypeDateOfBirth   FindingType = "PII_DOB"

	TypeSecretBearer FindingType = "SECRET_BEARER"
	TypeSecretAPIKey FindingType = "SECRET_API_KEY"
	TypeSecretOpenAI FindingType = "SECRET_OPENAI"
	TypeSecretAWS    FindingType = "SECRET_AWS"
	TypeSecretHexKey FindingType = "SECRET_HEX_KEY"

	TypeCode FindingType = "CODE"
)

// PIITypes lists the 12 personal-data finding types.
var PIITypes = []FindingType{
	TypeResidentID, TypeMobile, TypeLandline, TypeEmail,
	TypePassport, TypeDriverLicense, TypeBizRegNo, TypeCard,
	TypeAccount, TypeAddress, TypeName, TypeDateOfBirth,
}

// SecretTypes lists the credential/secret finding types.
var SecretTypes = []FindingType{
	TypeSecretBearer, TypeSecretAPIKey, TypeSecretOpenAI,
	TypeSecretAWS, TypeSecretHexKey,
}

// CodeTypes lists the source-code finding types.
var CodeTypes = []FindingType{TypeCode}

// AllTypes returns every finding type in catalog order.
func AllTypes() []FindingType {
	all := make([]FindingType, 0, len(PIITypes)+len(SecretTypes)+len(CodeTypes))
	all = append(all, PIITypes...)
	all = append(all, SecretTypes...)
	all = append(all, CodeTypes...)
	return all
}

var validTypes = func() map[FindingType]Category {
	m := make(map[FindingType]Category)
	for _, t := range PIITypes {
		m[t] = CategoryPII
	}
	for _, t := range SecretTypes {
		m[t] = CategorySecret
	}
	for _, t := range CodeTypes {
		m[t] = CategoryCode
	}
	return m
}()

// IsValidType reports whether t is a member of the closed enumeration.
func IsValidType(t FindingType) bool {
	_, ok := validTypes[t]
	return ok
}

// Confidence is the coarse detection confidence attached to each pattern.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// Score maps a confidence level to the numeric scale used by legacy
// aggregation and policy score_gte rules.
func (c Confidence) Score() int {
	switch c {
	case ConfidenceHigh:
		return 90
	case ConfidenceMedium:
		return 70
	default:
		return 40
	}
}

// ScoreToConfidence is the inverse mapping used when importing external hits.
func ScoreToConfidence(score int) Confidence {
	switch {
	case score >= 80:
		return ConfidenceHigh
	case score >= 60:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// MatchSpan locates one match inside the normalized text. Offsets are byte
// offsets, half-open: Text == normalized[Start:End].
type MatchSpan struct {
	Start        int    `json:"start"`
	End          int    `json:"end"`
	Text         string `json:"text"`
	MaskedSample string `json:"maskedSample"`
	Reason       string `json:"reason,omitempty"`
}

// Finding is one detected type with all of its match locations. Count equals
// len(Matches) for PII and secrets; for CODE it is the heuristic signal count.
type Finding struct {
	Type       FindingType `json:"type"`
	Category   Category    `json:"category"`
	Count      int         `json:"count"`
	Confidence Confidence  `json:"confidence"`
	Matches    []MatchSpan `json:"matches"`
}

// DetectOptions controls one classifier run.
type DetectOptions struct {
	// Profile names a registered detection profile. Unknown names fall back
	// to detecting all types.
	Profile string
	// EnabledTypes, when non-nil, overrides the profile and runs only the
	// listed types.
	EnabledTypes []FindingType
	// MaxLength caps the normalized input in runes. Zero means the default
	// of 50,000.
	MaxLength int
}

// MaskConfig maps a finding type to the name of the rewrite method applied to
// its spans. It is a sparse override: types absent here use the built-in
// per-type default.
type MaskConfig map[FindingType]string

// AnonymizeConfig is structurally identical to MaskConfig but resolves
// against the anonymization method table.
type AnonymizeConfig = MaskConfig

// NewMaskConfig validates the keys of a loosely-typed method map (as decoded
// from JSON policy actions) and rejects unknown finding types instead of
// silently ignoring them later.
func NewMaskConfig(methods map[string]string) (MaskConfig, error) {
	if len(methods) == 0 {
		return nil, nil
	}
	cfg := make(MaskConfig, len(methods))
	for k, v := range methods {
		t := FindingType(k)
		if !IsValidType(t) {
			return nil, fmt.Errorf("unknown finding type in mask config: %q", k)
		}
		cfg[t] = v
	}
	return cfg, nil
}

// MaskResult is the output of Mask and Anonymize.
type MaskResult struct {
	MaskedText   string        `json:"maskedText"`
	AppliedCount int           `json:"appliedCount"`
	AppliedTypes []FindingType `json:"appliedTypes"`
}

// DetectionProfile is a named bundle restricting which finding types are
// active and which rewrite method each type defaults to.
type DetectionProfile struct {
	Name              string        `json:"name"`
	Label             string        `json:"label"`
	Description       string        `json:"description"`
	EnabledTypes      []FindingType `json:"enabledTypes"`
	DefaultMaskConfig MaskConfig    `json:"defaultMaskConfig"`
}

// DetectorHit is the flattened, legacy-compatible shape consumed by the
// policy engine: one row per finding type plus per-category aggregates.
type DetectorHit struct {
	Type       string `json:"type"`
	Count      int    `json:"count"`
	Confidence int    `json:"confidence,omitempty"`
}

// Category display names kept for consumers that predate the typed findings.
var categoryHitNames = map[Category]string{
	CategoryPII:    "PII",
	CategorySecret: "Secrets",
	CategoryCode:   "Code",
}

// FindingsToHits converts typed findings into detector hits: one hit per
// type, followed by one aggregate hit per category (count summed, confidence
// is the category max).
func FindingsToHits(findings []Finding) []DetectorHit {
	hits := make([]DetectorHit, 0, len(findings)+3)
	for _, f := range findings {
		hits = append(hits, DetectorHit{
			Type:       string(f.Type),
			Count:      f.Count,
			Confidence: f.Confidence.Score(),
		})
	}
	return append(hits, CategoryHits(findings)...)
}

// CategoryHits aggregates findings into one hit per category (count summed,
// confidence is the category max). This is the shape server-side detection
// reports into policy evaluation, so each finding is counted once.
func CategoryHits(findings []Finding) []DetectorHit {
	type agg struct {
		count   int
		maxConf int
	}
	order := make([]Category, 0, 3)
	byCat := make(map[Category]*agg)
	for _, f := range findings {
		a, ok := byCat[f.Category]
		if !ok {
			a = &agg{}
			byCat[f.Category] = a
			order = append(order, f.Category)
		}
		a.count += f.Count
		if s := f.Confidence.Score(); s > a.maxConf {
			a.maxConf = s
		}
	}
	hits := make([]DetectorHit, 0, len(order))
	for _, cat := range order {
		name, ok := categoryHitNames[cat]
		if !ok {
			name = string(cat)
		}
		a := byCat[cat]
		hits = append(hits, DetectorHit{Type: name, Count: a.count, Confidence: a.maxConf})
	}
	return hits
}

// TotalCount sums the counts across all findings.
func TotalCount(findings []Finding) int {
	total := 0
	for _, f := range findings {
		total += f.Count
	}
	return total
}
