package store

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// Config contains database configuration
type Config struct {
	DSN             string        `yaml:"dsn" mapstructure:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
}

// EventRecord is one captured browser event. Samples stored here are already
// masked and truncated by the decision service; raw content never reaches
// the database.
type EventRecord struct {
	EventID             string         `db:"event_id"`
	TenantID            string         `db:"tenant_id"`
	ActorEmail          *string        `db:"actor_email"`
	GroupSnapshot       types.JSONText `db:"group_snapshot"`
	AppID               *string        `db:"app_id"`
	Domain              string         `db:"domain"`
	URL                 *string        `db:"url"`
	EventType           string         `db:"event_type"`
	TraceID             string         `db:"trace_id"`
	ContentKind         string         `db:"content_kind"`
	ContentLength       int            `db:"content_length"`
	ContentSHA256       *string        `db:"content_sha256"`
	ContentSampleMasked *string        `db:"content_sample_masked"`
	FileName            *string        `db:"file_name"`
	FileSizeBytes       *int64         `db:"file_size_bytes"`
	FileMime            *string        `db:"file_mime"`
	FileExt             *string        `db:"file_ext"`
	FileSHA256          *string        `db:"file_sha256"`
	ClientMeta          types.JSONText `db:"client_meta_json"`
	SchemaVersion       int            `db:"schema_version"`
	CreatedAt           time.Time      `db:"created_at"`
}

// DecisionRecord is the persisted outcome for one event.
type DecisionRecord struct {
	DecisionID           string         `db:"decision_id"`
	TenantID             string         `db:"tenant_id"`
	EventID              string         `db:"event_id"`
	Outcome              string         `db:"outcome"`
	Action               types.JSONText `db:"action_json"`
	RiskScore            int            `db:"risk_score"`
	MatchedPolicyID      *string        `db:"matched_policy_id"`
	MatchedPolicyVersion *int           `db:"matched_policy_version"`
	DetectorHits         types.JSONText `db:"detector_hits_json"`
	ExplanationText      string         `db:"explanation_text"`
	CreatedAt            time.Time      `db:"created_at"`
}

// AuditEntry is one append-only audit trail row.
type AuditEntry struct {
	AuditID    string         `db:"audit_id"`
	TenantID   string         `db:"tenant_id"`
	ActorEmail *string        `db:"actor_email"`
	Action     string         `db:"action"`
	TargetType string         `db:"target_type"`
	TargetID   string         `db:"target_id"`
	Details    types.JSONText `db:"details_json"`
	CreatedAt  time.Time      `db:"created_at"`
}

// PolicyException grants one user relief from one policy until it expires.
type PolicyException struct {
	ExceptionID string    `db:"exception_id"`
	TenantID    string    `db:"tenant_id"`
	ActorEmail  string    `db:"actor_email"`
	PolicyID    string    `db:"policy_id"`
	Reason      *string   `db:"reason"`
	ExpiresAt   time.Time `db:"expires_at"`
	CreatedAt   time.Time `db:"created_at"`
}

// Approval case status values.
const (
	ApprovalPending     = "PENDING"
	ApprovalApproved    = "APPROVED"
	ApprovalRejected    = "REJECTED"
	ApprovalConditional = "CONDITIONAL"
	ApprovalExpired     = "EXPIRED"
)

// ApprovalCase tracks one request to override a blocking decision. An
// APPROVED case allows exactly one submit; DecisionPayload records the
// consumed_at timestamp once spent.
type ApprovalCase struct {
	CaseID           string         `db:"case_id"`
	TenantID         string         `db:"tenant_id"`
	EventID          string         `db:"event_id"`
	DecisionID       string         `db:"decision_id"`
	Status           string         `db:"status"`
	RequestReason    *string        `db:"request_reason"`
	RequestedByEmail *string        `db:"requested_by_email"`
	DecisionComment  *string        `db:"decision_comment"`
	DecisionPayload  types.JSONText `db:"decision_payload_json"`
	ExpiresAt        *time.Time     `db:"expires_at"`
	CreatedAt        time.Time      `db:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at"`
}

// DecisionEvent is the flattened event+decision row consumed by the Parquet
// exporter.
type DecisionEvent struct {
	DecisionID    string    `db:"decision_id"`
	EventID       string    `db:"event_id"`
	TenantID      string    `db:"tenant_id"`
	Domain        string    `db:"domain"`
	EventType     string    `db:"event_type"`
	ContentKind   string    `db:"content_kind"`
	ContentLength int       `db:"content_length"`
	Outcome       string    `db:"outcome"`
	RiskScore     int       `db:"risk_score"`
	CreatedAt     time.Time `db:"created_at"`
}

// policyRow is the raw policies row before the JSONB columns are decoded.
type policyRow struct {
	PolicyID      string         `db:"policy_id"`
	TenantID      string         `db:"tenant_id"`
	Name          string         `db:"name"`
	Priority      int            `db:"priority"`
	Version       int            `db:"version"`
	ScopeJSON     types.JSONText `db:"scope_json"`
	ConditionJSON types.JSONText `db:"condition_json"`
	ActionJSON    types.JSONText `db:"action_json"`
}
