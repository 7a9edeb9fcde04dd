package dlp

import (
	"strings"
	"sync"
)

// ProfileRegistry holds named detection profiles. The zero value is not
// usable; construct with NewProfileRegistry, which seeds the built-in
// industry profiles. Lookup is case-insensitive. Safe for concurrent use.
type ProfileRegistry struct {
	mu       sync.RWMutex
	profiles map[string]DetectionProfile
	order    []string
}

func defaultPIIMaskConfig() MaskConfig {
	return MaskConfig{
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
	}
}

func builtinProfiles() []DetectionProfile {
	devTypes := []FindingType{TypeResidentID, TypeCard}
	devTypes = append(devTypes, SecretTypes...)
	devTypes = append(devTypes, CodeTypes...)

	return []DetectionProfile{
		{
			Name:              "DEFAULT",
			Label:             "일반 기업",
			Description:       "Standard corporate baseline. All 12 PII types plus secrets and code.",
			EnabledTypes:      AllTypes(),
			DefaultMaskConfig: defaultPIIMaskConfig(),
		},
		{
			Name:              "FINANCIAL",
			Label:             "금융권",
			Description:       "Banks, insurance, securities. Card, account and resident ID always masked.",
			EnabledTypes:      AllTypes(),
			DefaultMaskConfig: defaultPIIMaskConfig(),
		},
		{
			Name:              "GOVERNMENT",
			Label:             "정부기관",
			Description:       "Public institutions. Identity data (resident ID, address, passport) emphasized.",
			EnabledTypes:      AllTypes(),
			DefaultMaskConfig: defaultPIIMaskConfig(),
		},
		{
			Name:              "NIS",
			Label:             "국정원 지침",
			Description:       "National intelligence guideline compliance. Strictest profile, everything on.",
			EnabledTypes:      AllTypes(),
			DefaultMaskConfig: defaultPIIMaskConfig(),
		},
		{
			Name:              "HEALTHCARE",
			Label:             "의료기관",
			Description:       "Hospitals, clinics, pharmacies. Patient identity and contact data emphasized.",
			EnabledTypes:      AllTypes(),
			DefaultMaskConfig: defaultPIIMaskConfig(),
		},
		{
			Name:         "DEV_ONLY",
			Label:        "개발팀 전용",
			Description:  "Development teams. Secrets and code focused; PII limited to resident ID and card.",
			EnabledTypes: devTypes,
			DefaultMaskConfig: MaskConfig{
				TypeResidentID: "back_masked",
				TypeCard:       "card_masked",
			},
		},
	}
}

// NewProfileRegistry returns a registry seeded with the six built-in
// profiles in their canonical order.
func NewProfileRegistry() *ProfileRegistry {
	r := &ProfileRegistry{profiles: make(map[string]DetectionProfile)}
	for _, p := range builtinProfiles() {
		r.Register(p)
	}
	return r
}

// Get looks up a profile by name, ignoring case.
func (r *ProfileRegistry) Get(name string) (DetectionProfile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[strings.ToUpper(name)]
	return p, ok
}

// List returns all profiles in registration order.
func (r *ProfileRegistry) List() []DetectionProfile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]DetectionProfile, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, r.profiles[key])
	}
	return out
}

// Register adds or replaces a profile. Names are stored upper-cased, so
// registering "financial" overwrites FINANCIAL.
func (r *ProfileRegistry) Register(p DetectionProfile) {
	key := strings.ToUpper(p.Name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.profiles[key]; !exists {
		r.order = append(r.order, key)
	}
	r.profiles[key] = p
}
