package decision

import (
	"time"

	"github.com/promptgate/promptgate/internal/dlp"
	"github.com/promptgate/promptgate/internal/policy"
)

// Request is one decision request from a browser extension or gateway
// client. SampleMasked is the only content field; raw text never reaches
// the server.
type Request struct {
	SchemaVersion  int       `json:"schema_version"`
	TraceID        string    `json:"trace_id"`
	ApprovedCaseID string    `json:"approved_case_id,omitempty"`
	Actor          *Actor    `json:"actor,omitempty"`
	Event          EventInfo `json:"event"`
	Content        Content   `json:"content"`
	File           *FileInfo `json:"file,omitempty"`
}

// Actor identifies the person and device behind an event, as reported by
// the client. The server treats it as a hint and re-resolves groups from
// the directory when the email is registered.
type Actor struct {
	UserHint *UserHint              `json:"user_hint,omitempty"`
	Device   map[string]interface{} `json:"device,omitempty"`
}

// UserHint carries the client-reported identity.
type UserHint struct {
	Email  string   `json:"email,omitempty"`
	Groups []string `json:"groups,omitempty"`
}

// EventInfo describes what the user did and where.
type EventInfo struct {
	Type        string       `json:"type"`
	App         AppInfo      `json:"app"`
	PageContext *PageContext `json:"page_context,omitempty"`
}

// AppInfo names the destination service.
type AppInfo struct {
	Domain string `json:"domain"`
	URL    string `json:"url,omitempty"`
}

// PageContext carries optional page-level hints from the extension.
type PageContext struct {
	SubmitKind string `json:"submit_kind,omitempty"`
}

// Content is the event payload metadata plus the masked sample.
type Content struct {
	Kind           string            `json:"kind"`
	Length         int               `json:"length"`
	SampleMasked   string            `json:"sample_masked,omitempty"`
	Hashes         *Hashes           `json:"hashes,omitempty"`
	LocalDetectors []dlp.DetectorHit `json:"local_detectors,omitempty"`
}

// Hashes carries content digests computed client-side.
type Hashes struct {
	SHA256 string `json:"sha256,omitempty"`
}

// FileInfo describes an uploaded file. Only metadata crosses the wire.
type FileInfo struct {
	Name      string  `json:"name"`
	SizeBytes *int64  `json:"size_bytes,omitempty"`
	Mime      string  `json:"mime,omitempty"`
	Ext       string  `json:"ext,omitempty"`
	Hashes    *Hashes `json:"hashes,omitempty"`
}

// MatchedPolicy is the policy summary echoed back with a decision.
type MatchedPolicy struct {
	PolicyID string `json:"policy_id"`
	Name     string `json:"name"`
	Priority int    `json:"priority"`
	Version  int    `json:"version"`
}

// ApprovalHint tells the client whether and how it can escalate.
type ApprovalHint struct {
	Supported     bool    `json:"supported"`
	ApproverGroup *string `json:"approver_group"`
	TTLSeconds    int     `json:"ttl_seconds"`
}

// Next describes the follow-up actions available after a decision.
type Next struct {
	Approval ApprovalHint `json:"approval"`
}

// Response is the full decision returned to the client.
type Response struct {
	DecisionID    string              `json:"decision_id"`
	EventID       string              `json:"event_id"`
	Outcome       string              `json:"outcome"`
	Action        policy.ResultAction `json:"action"`
	RiskScore     int                 `json:"risk_score"`
	MatchedPolicy *MatchedPolicy      `json:"matched_policy"`
	DetectorHits  []policy.HitRow     `json:"detector_hits"`
	Explanation   policy.Explanation  `json:"explanation"`
	Next          Next                `json:"next"`
}

// CreateApprovalRequest opens an approval case for a blocked decision.
type CreateApprovalRequest struct {
	EventID          string `json:"event_id"`
	DecisionID       string `json:"decision_id"`
	RequestReason    string `json:"request_reason,omitempty"`
	RequestedAt      string `json:"requested_at"`
	RequestedByEmail string `json:"requested_by_email,omitempty"`
}

// ApprovalCaseInfo is the summary returned when a case is opened.
type ApprovalCaseInfo struct {
	CaseID    string     `json:"case_id"`
	Status    string     `json:"status"`
	ExpiresAt *time.Time `json:"expires_at"`
}

// ApprovalDecision is the approver's verdict on a case.
type ApprovalDecision struct {
	Type         string      `json:"type"`
	Conditions   interface{} `json:"conditions"`
	Comment      *string     `json:"comment"`
	ApprovalKind string      `json:"approval_kind"`
}

// ApprovalStatus is the polled state of one approval case.
type ApprovalStatus struct {
	CaseID    string            `json:"case_id"`
	Status    string            `json:"status"`
	Decision  *ApprovalDecision `json:"decision"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Ack is the trivial acknowledgement for fire-and-forget endpoints.
type Ack struct {
	OK bool `json:"ok"`
}

// Ping is the extension health check response.
type Ping struct {
	OK         bool   `json:"ok"`
	ServerTime string `json:"server_time"`
	Version    string `json:"version"`
}
