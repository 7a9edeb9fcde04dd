package policy

import (
	"encoding/json"
	"fmt"

	"github.com/promptgate/promptgate/internal/dlp"
)

// Outcome is the decision a policy action produces.
type Outcome string

const (
	OutcomeAllow           Outcome = "ALLOW"
	OutcomeWarn            Outcome = "WARN"
	OutcomeBlock           Outcome = "BLOCK"
	OutcomeMask            Outcome = "MASK"
	OutcomeAnonymize       Outcome = "ANONYMIZE"
	OutcomeRequireApproval Outcome = "REQUIRE_APPROVAL"
)

// Scope limits which events a policy applies to. Empty or missing fields
// match everything.
type Scope struct {
	Apps       []string `json:"apps,omitempty"`
	Groups     []string `json:"groups,omitempty"`
	EventTypes []string `json:"event_types,omitempty"`
}

// RuleValue is either a numeric threshold or a string list, depending on the
// rule operator. Stored policies carry it as untyped JSON.
type RuleValue struct {
	Number   float64
	IsNumber bool
	Strings  []string
}

func (v *RuleValue) UnmarshalJSON(data []byte) error {
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		v.Number = n
		v.IsNumber = true
		v.Strings = nil
		return nil
	}
	var s []string
	if err := json.Unmarshal(data, &s); err == nil {
		v.Number = 0
		v.IsNumber = false
		v.Strings = s
		return nil
	}
	return fmt.Errorf("rule value must be a number or a string array: %s", data)
}

func (v RuleValue) MarshalJSON() ([]byte, error) {
	if v.IsNumber {
		return json.Marshal(v.Number)
	}
	if v.Strings != nil {
		return json.Marshal(v.Strings)
	}
	return []byte("null"), nil
}

// Rule is one predicate inside a condition. Exactly one of the detector,
// content, or file forms is expected; anything else never matches.
type Rule struct {
	Detector string    `json:"detector,omitempty"`
	Op       string    `json:"op,omitempty"`
	Value    RuleValue `json:"value,omitempty"`
	Content  string    `json:"content,omitempty"`
	File     string    `json:"file,omitempty"`
}

// Condition combines rules. A present `any` array takes precedence over
// `all`; a present-but-empty `any` matches nothing, while an empty `all`
// matches everything. Both absent means the policy is unconditional.
type Condition struct {
	Any []Rule `json:"any,omitempty"`
	All []Rule `json:"all,omitempty"`
}

// Action is the stored action payload of a policy.
type Action struct {
	Type                 string            `json:"type,omitempty"`
	Message              *string           `json:"message,omitempty"`
	AllowApprovalRequest bool              `json:"allow_approval_request,omitempty"`
	Mask                 map[string]string `json:"mask,omitempty"`
	Anonymize            map[string]string `json:"anonymize,omitempty"`
}

// PolicyRecord is one tenant policy as loaded from storage.
type PolicyRecord struct {
	PolicyID  string    `json:"policy_id"`
	TenantID  string    `json:"tenant_id"`
	Name      string    `json:"name"`
	Priority  int       `json:"priority"`
	Version   int       `json:"version"`
	Scope     Scope     `json:"scope_json"`
	Condition Condition `json:"condition_json"`
	Action    Action    `json:"action_json"`
}

// FileMeta describes an uploaded file for file-scoped rules.
type FileMeta struct {
	Name      string `json:"name"`
	SizeBytes int64  `json:"size_bytes"`
	Mime      string `json:"mime,omitempty"`
	Ext       string `json:"ext,omitempty"`
}

// EvalContext is everything known about one event at evaluation time. AppID
// is nil when the event's domain is not registered to an app; app-scoped
// policies then pass their app check rather than excluding the event.
type EvalContext struct {
	TenantID      string
	AppID         *string
	Domain        string
	EventType     string
	UserGroups    []string
	ContentKind   string
	ContentLength int
	DetectorHits  []dlp.DetectorHit
	File          *FileMeta
}

// ResultAction is the resolved action returned to the caller, with every
// field populated even when the stored action omitted it.
type ResultAction struct {
	Type                 string            `json:"type"`
	Message              *string           `json:"message"`
	AllowApprovalRequest bool              `json:"allow_approval_request"`
	Mask                 map[string]string `json:"mask"`
	Anonymize            map[string]string `json:"anonymize,omitempty"`
}

// Explanation is the operator-safe account of why the outcome was chosen.
// SafeDetails never contains matched content, only policy names.
type Explanation struct {
	Summary     string   `json:"summary"`
	SafeDetails []string `json:"safe_details"`
}

// HitRow is one detector hit echoed back with the decision. Evidence is
// reserved for future server-side sampling and is always null today.
type HitRow struct {
	Type     string  `json:"type"`
	Count    int     `json:"count"`
	Evidence *string `json:"evidence"`
}

// EvalResult is the outcome of evaluating one event against a policy
// snapshot.
type EvalResult struct {
	Outcome       Outcome       `json:"outcome"`
	MatchedPolicy *PolicyRecord `json:"matchedPolicy"`
	RiskScore     int           `json:"riskScore"`
	Action        ResultAction  `json:"action"`
	Explanation   Explanation   `json:"explanation"`
	DetectorHits  []HitRow      `json:"detectorHits"`
}
