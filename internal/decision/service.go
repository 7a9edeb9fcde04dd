package decision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx/types"
	"go.uber.org/zap"

	"github.com/promptgate/promptgate/internal/dlp"
	"github.com/promptgate/promptgate/internal/policy"
	"github.com/promptgate/promptgate/internal/store"
	"github.com/promptgate/promptgate/internal/websocket"
)

// Version is reported by the extension health check.
const Version = "0.1.0"

// maxContentLength is the int4 ceiling for the stored content length.
const maxContentLength = 2147483647

// ErrPayloadInvalid marks requests that reference rows that do not exist.
var ErrPayloadInvalid = errors.New("decision: payload invalid")

// Storage is the persistence surface the service depends on.
type Storage interface {
	ResolveTenantID(ctx context.Context, name string) (string, error)
	FetchEnabledPolicies(ctx context.Context, tenantID string) ([]policy.PolicyRecord, error)
	ResolveAppID(ctx context.Context, tenantID, domain string) (*string, error)
	ResolveUserGroups(ctx context.Context, tenantID, email string) ([]string, error)
	InsertEvent(ctx context.Context, event *store.EventRecord) error
	InsertDecision(ctx context.Context, decision *store.DecisionRecord) error
	AppendAudit(ctx context.Context, entry *store.AuditEntry) error
	EventExists(ctx context.Context, tenantID, eventID string) (bool, error)
	DecisionExists(ctx context.Context, tenantID, decisionID, eventID string) (bool, error)
	FindActiveException(ctx context.Context, tenantID, actorEmail, policyID string) (*store.PolicyException, error)
	FindApprovalCase(ctx context.Context, tenantID, caseID string) (*store.ApprovalCase, error)
	GetApprovalCase(ctx context.Context, caseID string) (*store.ApprovalCase, error)
	CreateApprovalCase(ctx context.Context, ac *store.ApprovalCase) error
	MarkApprovalCaseConsumed(ctx context.Context, caseID string, consumedAt time.Time) error
	UpdateApprovalStatus(ctx context.Context, caseID, status string) error
}

// PolicySource loads the enabled-policy snapshot, usually through the Redis
// cache in front of the store.
type PolicySource func(ctx context.Context, tenantID string) ([]policy.PolicyRecord, error)

// EventFeed publishes decision and detection summaries to the live feed.
// *websocket.Hub satisfies it; a nil feed disables broadcasting.
type EventFeed interface {
	BroadcastDecision(event websocket.DecisionEvent)
	BroadcastDetection(event websocket.DetectionEvent)
}

// Config contains decision service configuration.
type Config struct {
	TenantName      string
	SampleMaxLength int
	ApprovalTTL     time.Duration
	DefaultProfile  string
}

// Service orchestrates one decision: persist the event, classify the masked
// sample, evaluate policies and record the outcome.
type Service struct {
	store      Storage
	policies   PolicySource
	engine     *policy.Engine
	classifier *dlp.Classifier
	feed       EventFeed
	logger     *zap.Logger
	config     Config
}

// New creates the decision service. When policies is nil the snapshot is
// loaded straight from the store on every decision.
func New(storage Storage, policies PolicySource, engine *policy.Engine, classifier *dlp.Classifier, feed EventFeed, config Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policies == nil {
		policies = storage.FetchEnabledPolicies
	}
	return &Service{
		store:      storage,
		policies:   policies,
		engine:     engine,
		classifier: classifier,
		feed:       feed,
		logger:     logger,
		config:     config,
	}
}

// Evaluate runs the full decision flow for one event.
func (s *Service) Evaluate(ctx context.Context, req *Request) (*Response, error) {
	s.logger.Info("Decision request",
		zap.String("event_type", req.Event.Type),
		zap.String("trace_id", req.TraceID))

	tenantID, err := s.store.ResolveTenantID(ctx, s.config.TenantName)
	if err != nil {
		return nil, err
	}

	// Post-approval one-time bypass.
	if req.ApprovedCaseID != "" {
		resp, err := s.tryAllowByApprovedCase(ctx, tenantID, req)
		if err != nil {
			return nil, err
		}
		if resp != nil {
			return resp, nil
		}
	}

	domain := req.Event.App.Domain
	appID, err := s.store.ResolveAppID(ctx, tenantID, domain)
	if err != nil {
		return nil, err
	}

	eventType := normalizeEventType(req.Event.Type)

	event := s.buildEvent(tenantID, appID, eventType, req, s.clientMeta(req))
	if err := s.store.InsertEvent(ctx, event); err != nil {
		return nil, err
	}

	policies, err := s.policies(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	serverFindings := s.classifier.Detect(req.Content.SampleMasked,
		dlp.DetectOptions{Profile: s.config.DefaultProfile})
	detectMS := float64(time.Since(started).Microseconds()) / 1000
	// Server-side detection reports category aggregates only, so a finding
	// never counts twice through its per-type row.
	serverHits := dlp.CategoryHits(serverFindings)
	mergedHits := policy.MergeHits(req.Content.LocalDetectors, serverHits)

	// Registered users get their directory groups; everyone else keeps the
	// client-reported snapshot.
	userGroups := req.hintGroups()
	actorEmail := req.actorEmail()
	if actorEmail != "" {
		dbGroups, err := s.store.ResolveUserGroups(ctx, tenantID, actorEmail)
		if err != nil {
			return nil, err
		}
		if len(dbGroups) > 0 {
			userGroups = dbGroups
		}
	}

	evalCtx := policy.EvalContext{
		TenantID:      tenantID,
		AppID:         appID,
		Domain:        domain,
		EventType:     eventType,
		UserGroups:    userGroups,
		ContentKind:   req.Content.Kind,
		ContentLength: req.Content.Length,
		DetectorHits:  mergedHits,
		File:          req.fileMeta(),
	}

	result := s.engine.Evaluate(policies, evalCtx)

	// An unexpired user exception downgrades a blocking outcome to ALLOW.
	if (result.Outcome == policy.OutcomeBlock || result.Outcome == policy.OutcomeRequireApproval) &&
		result.MatchedPolicy != nil && actorEmail != "" {
		exc, err := s.store.FindActiveException(ctx, tenantID, actorEmail, result.MatchedPolicy.PolicyID)
		if err != nil {
			return nil, err
		}
		if exc != nil {
			return s.allowByException(ctx, tenantID, event.EventID, exc, &result)
		}
	}

	decision := &store.DecisionRecord{
		TenantID:        tenantID,
		EventID:         event.EventID,
		Outcome:         string(result.Outcome),
		Action:          mustJSON(result.Action),
		RiskScore:       result.RiskScore,
		DetectorHits:    mustJSON(result.DetectorHits),
		ExplanationText: result.Explanation.Summary,
	}
	if result.MatchedPolicy != nil {
		decision.MatchedPolicyID = &result.MatchedPolicy.PolicyID
		version := result.MatchedPolicy.Version
		decision.MatchedPolicyVersion = &version
	}
	if err := s.store.InsertDecision(ctx, decision); err != nil {
		return nil, err
	}

	audit := &store.AuditEntry{
		TenantID:   tenantID,
		ActorEmail: event.ActorEmail,
		Action:     "decision_created",
		TargetType: "decision",
		TargetID:   decision.DecisionID,
		Details: mustJSON(map[string]interface{}{
			"event_id": event.EventID,
			"outcome":  string(result.Outcome),
			"trace_id": req.TraceID,
		}),
	}
	if err := s.store.AppendAudit(ctx, audit); err != nil {
		return nil, err
	}

	s.broadcast(tenantID, domain, eventType, decision, &result, serverFindings, detectMS)

	return s.response(decision.DecisionID, event.EventID, &result), nil
}

// tryAllowByApprovedCase allows the request without evaluation when the
// referenced case is APPROVED and unspent. The bypass is consumed only on an
// actual send, so a paste followed by one submit costs a single use.
func (s *Service) tryAllowByApprovedCase(ctx context.Context, tenantID string, req *Request) (*Response, error) {
	ac, err := s.store.FindApprovalCase(ctx, tenantID, req.ApprovedCaseID)
	if err != nil {
		return nil, err
	}
	if ac == nil || ac.Status != store.ApprovalApproved {
		return nil, nil
	}
	var payload struct {
		ConsumedAt string `json:"consumed_at"`
	}
	if len(ac.DecisionPayload) > 0 {
		if err := json.Unmarshal(ac.DecisionPayload, &payload); err != nil {
			return nil, fmt.Errorf("approval case %s: bad decision payload: %w", ac.CaseID, err)
		}
	}
	if payload.ConsumedAt != "" {
		return nil, nil
	}

	appID, err := s.store.ResolveAppID(ctx, tenantID, req.Event.App.Domain)
	if err != nil {
		return nil, err
	}
	eventType := normalizeEventType(req.Event.Type)

	event := s.buildEvent(tenantID, appID, eventType, req,
		mustJSON(map[string]string{"approved_case_id": req.ApprovedCaseID}))
	if err := s.store.InsertEvent(ctx, event); err != nil {
		return nil, err
	}

	allowAction := policy.ResultAction{Type: string(policy.OutcomeAllow), AllowApprovalRequest: true}
	decision := &store.DecisionRecord{
		TenantID:        tenantID,
		EventID:         event.EventID,
		Outcome:         string(policy.OutcomeAllow),
		Action:          mustJSON(allowAction),
		RiskScore:       0,
		DetectorHits:    types.JSONText("[]"),
		ExplanationText: "Approved case one-time bypass.",
	}
	if err := s.store.InsertDecision(ctx, decision); err != nil {
		return nil, err
	}

	if eventType == "SUBMIT" || eventType == "UPLOAD_SUBMIT" {
		if err := s.store.MarkApprovalCaseConsumed(ctx, ac.CaseID, time.Now()); err != nil {
			return nil, err
		}
		s.logger.Info("Approved case consumed",
			zap.String("case_id", ac.CaseID),
			zap.String("event_id", event.EventID),
			zap.String("event_type", eventType))
	} else {
		s.logger.Info("Approved case bypass without consume",
			zap.String("case_id", ac.CaseID),
			zap.String("event_id", event.EventID),
			zap.String("event_type", eventType))
	}

	return &Response{
		DecisionID:   decision.DecisionID,
		EventID:      event.EventID,
		Outcome:      string(policy.OutcomeAllow),
		Action:       allowAction,
		RiskScore:    0,
		DetectorHits: []policy.HitRow{},
		Explanation: policy.Explanation{
			Summary:     "Approved case one-time bypass.",
			SafeDetails: []string{},
		},
		Next: s.next(),
	}, nil
}

// allowByException records and returns an ALLOW decision carrying the
// matched policy, in place of its blocking outcome.
func (s *Service) allowByException(ctx context.Context, tenantID, eventID string, exc *store.PolicyException, result *policy.EvalResult) (*Response, error) {
	allowAction := policy.ResultAction{Type: string(policy.OutcomeAllow), AllowApprovalRequest: true}
	version := result.MatchedPolicy.Version
	decision := &store.DecisionRecord{
		TenantID:             tenantID,
		EventID:              eventID,
		Outcome:              string(policy.OutcomeAllow),
		Action:               mustJSON(allowAction),
		RiskScore:            0,
		MatchedPolicyID:      &result.MatchedPolicy.PolicyID,
		MatchedPolicyVersion: &version,
		DetectorHits:         mustJSON(result.DetectorHits),
		ExplanationText:      fmt.Sprintf("User exception applied (exception_id: %s).", exc.ExceptionID),
	}
	if err := s.store.InsertDecision(ctx, decision); err != nil {
		return nil, err
	}

	s.logger.Info("User exception applied",
		zap.String("exception_id", exc.ExceptionID),
		zap.String("event_id", eventID))

	return &Response{
		DecisionID:   decision.DecisionID,
		EventID:      eventID,
		Outcome:      string(policy.OutcomeAllow),
		Action:       allowAction,
		RiskScore:    0,
		MatchedPolicy: &MatchedPolicy{
			PolicyID: result.MatchedPolicy.PolicyID,
			Name:     result.MatchedPolicy.Name,
			Priority: result.MatchedPolicy.Priority,
			Version:  result.MatchedPolicy.Version,
		},
		DetectorHits: result.DetectorHits,
		Explanation: policy.Explanation{
			Summary:     "User exception applied.",
			SafeDetails: []string{},
		},
		Next: s.next(),
	}, nil
}

// CreateApprovalCase opens a PENDING case for an existing event/decision
// pair. The case expires after the configured approval TTL.
func (s *Service) CreateApprovalCase(ctx context.Context, req *CreateApprovalRequest) (*ApprovalCaseInfo, error) {
	tenantID, err := s.store.ResolveTenantID(ctx, s.config.TenantName)
	if err != nil {
		return nil, err
	}

	ok, err := s.store.EventExists(ctx, tenantID, req.EventID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("event %s: %w", req.EventID, ErrPayloadInvalid)
	}
	ok, err = s.store.DecisionExists(ctx, tenantID, req.DecisionID, req.EventID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("decision %s: %w", req.DecisionID, ErrPayloadInvalid)
	}

	expiresAt := time.Now().Add(s.config.ApprovalTTL)
	ac := &store.ApprovalCase{
		TenantID:         tenantID,
		EventID:          req.EventID,
		DecisionID:       req.DecisionID,
		RequestReason:    nilIfEmpty(req.RequestReason),
		RequestedByEmail: nilIfEmpty(req.RequestedByEmail),
		ExpiresAt:        &expiresAt,
	}
	if err := s.store.CreateApprovalCase(ctx, ac); err != nil {
		return nil, err
	}

	s.logger.Info("Approval case created",
		zap.String("case_id", ac.CaseID),
		zap.String("decision_id", req.DecisionID))

	return &ApprovalCaseInfo{CaseID: ac.CaseID, Status: ac.Status, ExpiresAt: ac.ExpiresAt}, nil
}

// GetApprovalCaseStatus polls one case, lazily expiring a PENDING case whose
// deadline has passed.
func (s *Service) GetApprovalCaseStatus(ctx context.Context, caseID string) (*ApprovalStatus, error) {
	ac, err := s.store.GetApprovalCase(ctx, caseID)
	if err != nil {
		return nil, err
	}

	status := ac.Status
	if status == store.ApprovalPending && ac.ExpiresAt != nil && ac.ExpiresAt.Before(time.Now()) {
		if err := s.store.UpdateApprovalStatus(ctx, caseID, store.ApprovalExpired); err != nil {
			return nil, err
		}
		status = store.ApprovalExpired
	}

	var decision *ApprovalDecision
	if status != store.ApprovalPending && status != store.ApprovalExpired {
		var payload struct {
			Conditions   interface{} `json:"conditions"`
			ApprovalKind string      `json:"approval_kind"`
		}
		if len(ac.DecisionPayload) > 0 {
			if err := json.Unmarshal(ac.DecisionPayload, &payload); err != nil {
				return nil, fmt.Errorf("approval case %s: bad decision payload: %w", caseID, err)
			}
		}
		kind := payload.ApprovalKind
		if kind == "" {
			kind = "one_time"
		}
		decision = &ApprovalDecision{
			Type:         approvalDecisionType(status),
			Conditions:   payload.Conditions,
			Comment:      ac.DecisionComment,
			ApprovalKind: kind,
		}
	}

	return &ApprovalStatus{
		CaseID:    ac.CaseID,
		Status:    status,
		Decision:  decision,
		UpdatedAt: ac.UpdatedAt,
	}, nil
}

// RecordUserAction acknowledges a client-side action report. Reports are
// accepted for forward compatibility and not persisted.
func (s *Service) RecordUserAction(_ map[string]interface{}) Ack {
	return Ack{OK: true}
}

// Ping is the extension health check.
func (s *Service) Ping() Ping {
	return Ping{
		OK:         true,
		ServerTime: time.Now().UTC().Format(time.RFC3339),
		Version:    Version,
	}
}

func (s *Service) buildEvent(tenantID string, appID *string, eventType string, req *Request, clientMeta types.JSONText) *store.EventRecord {
	contentKind := "TEXT"
	if req.Content.Kind == "FILE_META" {
		contentKind = "FILE_META"
	}
	contentLength := req.Content.Length
	if contentLength < 0 {
		contentLength = 0
	}
	if contentLength > maxContentLength {
		contentLength = maxContentLength
	}

	schemaVersion := req.SchemaVersion
	if schemaVersion == 0 {
		schemaVersion = 1
	}

	event := &store.EventRecord{
		TenantID:            tenantID,
		ActorEmail:          nilIfEmpty(req.actorEmail()),
		GroupSnapshot:       mustJSON(req.hintGroups()),
		AppID:               appID,
		Domain:              req.Event.App.Domain,
		URL:                 nilIfEmpty(req.Event.App.URL),
		EventType:           eventType,
		TraceID:             req.TraceID,
		ContentKind:         contentKind,
		ContentLength:       contentLength,
		ContentSampleMasked: s.truncateSample(req.Content.SampleMasked),
		ClientMeta:          clientMeta,
		SchemaVersion:       schemaVersion,
	}
	if req.Content.Hashes != nil {
		event.ContentSHA256 = nilIfEmpty(req.Content.Hashes.SHA256)
	}
	if req.File != nil {
		event.FileName = nilIfEmpty(req.File.Name)
		event.FileSizeBytes = req.File.SizeBytes
		event.FileMime = nilIfEmpty(req.File.Mime)
		event.FileExt = nilIfEmpty(req.File.Ext)
		if req.File.Hashes != nil {
			event.FileSHA256 = nilIfEmpty(req.File.Hashes.SHA256)
		}
	}
	return event
}

// clientMeta merges the device report with the page-level submit kind.
func (s *Service) clientMeta(req *Request) types.JSONText {
	meta := make(map[string]interface{})
	if req.Actor != nil {
		for k, v := range req.Actor.Device {
			meta[k] = v
		}
	}
	if req.Event.PageContext != nil && req.Event.PageContext.SubmitKind != "" {
		meta["submit_kind"] = req.Event.PageContext.SubmitKind
	}
	return mustJSON(meta)
}

// truncateSample caps the stored sample; detection still sees the full text.
func (s *Service) truncateSample(sample string) *string {
	if sample == "" {
		return nil
	}
	limit := s.config.SampleMaxLength
	if limit <= 0 {
		limit = 512
	}
	runes := []rune(sample)
	if len(runes) > limit {
		sample = string(runes[:limit])
	}
	return &sample
}

func (s *Service) broadcast(tenantID, domain, eventType string, decision *store.DecisionRecord, result *policy.EvalResult, findings []dlp.Finding, detectMS float64) {
	if s.feed == nil {
		return
	}

	matchedName := ""
	if result.MatchedPolicy != nil {
		matchedName = result.MatchedPolicy.Name
	}
	s.feed.BroadcastDecision(websocket.DecisionEvent{
		DecisionID:    decision.DecisionID,
		EventID:       decision.EventID,
		TenantID:      tenantID,
		Domain:        domain,
		EventType:     eventType,
		Outcome:       decision.Outcome,
		RiskScore:     decision.RiskScore,
		MatchedPolicy: matchedName,
		HitCount:      len(result.DetectorHits),
	})

	if len(findings) > 0 {
		types := make([]string, 0, len(findings))
		for _, f := range findings {
			types = append(types, string(f.Type))
		}
		s.feed.BroadcastDetection(websocket.DetectionEvent{
			EventID:      decision.EventID,
			Domain:       domain,
			Profile:      s.config.DefaultProfile,
			FindingTypes: types,
			TotalCount:   dlp.TotalCount(findings),
			ProcessingMS: detectMS,
		})
	}
}

func (s *Service) response(decisionID, eventID string, result *policy.EvalResult) *Response {
	resp := &Response{
		DecisionID:   decisionID,
		EventID:      eventID,
		Outcome:      string(result.Outcome),
		Action:       result.Action,
		RiskScore:    result.RiskScore,
		DetectorHits: result.DetectorHits,
		Explanation:  result.Explanation,
		Next:         s.next(),
	}
	if result.MatchedPolicy != nil {
		resp.MatchedPolicy = &MatchedPolicy{
			PolicyID: result.MatchedPolicy.PolicyID,
			Name:     result.MatchedPolicy.Name,
			Priority: result.MatchedPolicy.Priority,
			Version:  result.MatchedPolicy.Version,
		}
	}
	return resp
}

func (s *Service) next() Next {
	ttl := int(s.config.ApprovalTTL.Seconds())
	if ttl <= 0 {
		ttl = 7200
	}
	return Next{Approval: ApprovalHint{Supported: true, ApproverGroup: nil, TTLSeconds: ttl}}
}

func (r *Request) actorEmail() string {
	if r.Actor != nil && r.Actor.UserHint != nil {
		return r.Actor.UserHint.Email
	}
	return ""
}

func (r *Request) hintGroups() []string {
	if r.Actor != nil && r.Actor.UserHint != nil && r.Actor.UserHint.Groups != nil {
		return r.Actor.UserHint.Groups
	}
	return []string{}
}

func (r *Request) fileMeta() *policy.FileMeta {
	if r.File == nil {
		return nil
	}
	meta := &policy.FileMeta{Name: r.File.Name, Mime: r.File.Mime, Ext: r.File.Ext}
	if r.File.SizeBytes != nil {
		meta.SizeBytes = *r.File.SizeBytes
	}
	return meta
}

func normalizeEventType(t string) string {
	switch u := strings.ToUpper(t); u {
	case "TYPE", "PASTE", "SUBMIT", "UPLOAD_SELECT", "UPLOAD_SUBMIT":
		return u
	default:
		return "PASTE"
	}
}

func approvalDecisionType(status string) string {
	switch status {
	case store.ApprovalApproved:
		return "APPROVE"
	case store.ApprovalRejected:
		return "REJECT"
	default:
		return "CONDITIONAL_APPROVAL"
	}
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func mustJSON(v interface{}) types.JSONText {
	data, err := json.Marshal(v)
	if err != nil {
		return types.JSONText("null")
	}
	return data
}
