package policy

import (
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/promptgate/promptgate/internal/dlp"
)

// Engine evaluates tenant policies against event contexts. Evaluation is
// pure: the engine never touches storage, so a cached policy snapshot and a
// context always produce the same result.
type Engine struct {
	logger *zap.Logger
}

func NewEngine(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{logger: logger}
}

// Evaluate walks the snapshot in ascending priority and returns the first
// policy whose scope and condition both match. Ties keep snapshot order.
// When nothing matches the default is ALLOW with approval requests enabled.
func (e *Engine) Evaluate(policies []PolicyRecord, ctx EvalContext) EvalResult {
	sorted := make([]PolicyRecord, len(policies))
	copy(sorted, policies)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority < sorted[j].Priority
	})

	hits := make([]HitRow, 0, len(ctx.DetectorHits))
	for _, d := range ctx.DetectorHits {
		hits = append(hits, HitRow{Type: d.Type, Count: d.Count})
	}

	for i := range sorted {
		p := &sorted[i]
		if !scopeMatches(p.Scope, &ctx) {
			continue
		}
		if !conditionMatches(p.Condition, &ctx) {
			continue
		}

		outcome := Outcome(p.Action.Type)
		if outcome == "" {
			outcome = OutcomeAllow
		}

		e.logger.Debug("policy matched",
			zap.String("policy_id", p.PolicyID),
			zap.String("policy", p.Name),
			zap.Int("priority", p.Priority),
			zap.String("outcome", string(outcome)))

		return EvalResult{
			Outcome:       outcome,
			MatchedPolicy: p,
			RiskScore:     riskScore(ctx.DetectorHits),
			Action: ResultAction{
				Type:                 string(outcome),
				Message:              p.Action.Message,
				AllowApprovalRequest: p.Action.AllowApprovalRequest,
				Mask:                 p.Action.Mask,
				Anonymize:            p.Action.Anonymize,
			},
			Explanation: Explanation{
				Summary:     "Matched policy: " + p.Name + ".",
				SafeDetails: []string{p.Name},
			},
			DetectorHits: hits,
		}
	}

	return EvalResult{
		Outcome:       OutcomeAllow,
		MatchedPolicy: nil,
		RiskScore:     0,
		Action: ResultAction{
			Type:                 string(OutcomeAllow),
			Message:              nil,
			AllowApprovalRequest: true,
			Mask:                 nil,
		},
		Explanation: Explanation{
			Summary:     "No policy matched; default allow.",
			SafeDetails: []string{},
		},
		DetectorHits: hits,
	}
}

func scopeMatches(scope Scope, ctx *EvalContext) bool {
	// An unresolved app (nil AppID) passes app scoping rather than being
	// excluded from app-scoped policies.
	if len(scope.Apps) > 0 && ctx.AppID != nil && !contains(scope.Apps, *ctx.AppID) {
		return false
	}
	if len(scope.EventTypes) > 0 && !contains(scope.EventTypes, ctx.EventType) {
		return false
	}
	if len(scope.Groups) > 0 {
		hasGroup := false
		for _, g := range scope.Groups {
			if contains(ctx.UserGroups, g) {
				hasGroup = true
				break
			}
		}
		if !hasGroup {
			return false
		}
	}
	return true
}

func conditionMatches(c Condition, ctx *EvalContext) bool {
	// `any` takes precedence when both are present. An empty `any` array
	// matches nothing; an empty `all` matches everything.
	if c.Any != nil {
		for _, r := range c.Any {
			if matchRule(r, ctx) {
				return true
			}
		}
		return false
	}
	if c.All != nil {
		for _, r := range c.All {
			if !matchRule(r, ctx) {
				return false
			}
		}
		return true
	}
	return true
}

func matchRule(r Rule, ctx *EvalContext) bool {
	if r.Detector != "" && (r.Op == "count_gte" || r.Op == "score_gte") {
		count, confidence := 0, 0
		for _, d := range ctx.DetectorHits {
			if d.Type == r.Detector {
				count, confidence = d.Count, d.Confidence
				break
			}
		}
		threshold := 0.0
		if r.Value.IsNumber {
			threshold = r.Value.Number
		}
		if r.Op == "count_gte" {
			return float64(count) >= threshold
		}
		return float64(confidence) >= threshold
	}

	if r.Content == "length_gte" && r.Value.IsNumber {
		return float64(ctx.ContentLength) >= r.Value.Number
	}

	if r.File == "ext_in" && r.Value.Strings != nil && ctx.File != nil && ctx.File.Ext != "" {
		ext := strings.ToLower(strings.TrimPrefix(ctx.File.Ext, "."))
		for _, v := range r.Value.Strings {
			if strings.ToLower(v) == ext {
				return true
			}
		}
		return false
	}

	if r.File == "mime_in" && r.Value.Strings != nil && ctx.File != nil && ctx.File.Mime != "" {
		return contains(r.Value.Strings, ctx.File.Mime)
	}

	return false
}

// riskScore is a coarse signal for dashboards, 20 points per hit capped at
// 100. It never influences the outcome.
func riskScore(hits []dlp.DetectorHit) int {
	sum := 0
	for _, d := range hits {
		sum += d.Count * 20
	}
	if sum > 100 {
		return 100
	}
	return sum
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
