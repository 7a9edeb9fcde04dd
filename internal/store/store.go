package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/promptgate/promptgate/internal/policy"
)

// ErrNotFound is returned when a required row does not exist.
var ErrNotFound = errors.New("store: not found")

// Store handles tenant, policy, event and decision persistence on
// PostgreSQL.
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// New connects to the database and verifies the connection.
func New(config *Config, logger *zap.Logger) (*Store, error) {
	db, err := sqlx.Connect("postgres", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	s := &Store{db: db, logger: logger}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	logger.Info("Store initialized",
		zap.String("dsn", maskDSN(config.DSN)),
		zap.Int("max_open_conns", config.MaxOpenConns),
		zap.Int("max_idle_conns", config.MaxIdleConns))

	return s, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// ResolveTenantID looks up a tenant by name.
func (s *Store) ResolveTenantID(ctx context.Context, name string) (string, error) {
	var id string
	err := s.db.GetContext(ctx, &id,
		`SELECT tenant_id FROM tenants WHERE name = $1`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("tenant %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve tenant: %w", err)
	}
	return id, nil
}

// FetchEnabledPolicies loads the enabled policies of one tenant, decoding
// the JSONB scope, condition and action columns.
func (s *Store) FetchEnabledPolicies(ctx context.Context, tenantID string) ([]policy.PolicyRecord, error) {
	var rows []policyRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT policy_id, tenant_id, name, priority, version,
		       scope_json, condition_json, action_json
		FROM policies
		WHERE tenant_id = $1 AND enabled = true
		ORDER BY priority ASC, created_at ASC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch policies: %w", err)
	}

	records := make([]policy.PolicyRecord, 0, len(rows))
	for _, r := range rows {
		rec := policy.PolicyRecord{
			PolicyID: r.PolicyID,
			TenantID: r.TenantID,
			Name:     r.Name,
			Priority: r.Priority,
			Version:  r.Version,
		}
		if len(r.ScopeJSON) > 0 {
			if err := json.Unmarshal(r.ScopeJSON, &rec.Scope); err != nil {
				return nil, fmt.Errorf("policy %s: bad scope_json: %w", r.PolicyID, err)
			}
		}
		if len(r.ConditionJSON) > 0 {
			if err := json.Unmarshal(r.ConditionJSON, &rec.Condition); err != nil {
				return nil, fmt.Errorf("policy %s: bad condition_json: %w", r.PolicyID, err)
			}
		}
		if len(r.ActionJSON) > 0 {
			if err := json.Unmarshal(r.ActionJSON, &rec.Action); err != nil {
				return nil, fmt.Errorf("policy %s: bad action_json: %w", r.PolicyID, err)
			}
		}
		records = append(records, rec)
	}

	s.logger.Debug("Policies loaded",
		zap.String("tenant_id", tenantID),
		zap.Int("count", len(records)))
	return records, nil
}

// ResolveAppID maps a domain to its registered app, or nil when the domain
// is unknown to the tenant.
func (s *Store) ResolveAppID(ctx context.Context, tenantID, domain string) (*string, error) {
	var appID string
	err := s.db.GetContext(ctx, &appID,
		`SELECT app_id FROM app_domains WHERE tenant_id = $1 AND domain = $2`,
		tenantID, domain)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve app: %w", err)
	}
	return &appID, nil
}

// ResolveUserGroups returns the group names of a registered user, or nil
// when the user is unknown. Callers fall back to client-reported groups.
func (s *Store) ResolveUserGroups(ctx context.Context, tenantID, email string) ([]string, error) {
	var groups []string
	err := s.db.SelectContext(ctx, &groups, `
		SELECT g.name
		FROM users u
		JOIN user_groups ug ON ug.user_id = u.user_id
		JOIN groups g ON g.group_id = ug.group_id
		WHERE u.tenant_id = $1 AND u.email = $2
		ORDER BY g.name`, tenantID, email)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve user groups: %w", err)
	}
	return groups, nil
}

// InsertEvent persists one event and fills in its generated ID and
// timestamp.
func (s *Store) InsertEvent(ctx context.Context, event *EventRecord) error {
	event.EventID = uuid.NewString()
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO events (
			event_id, tenant_id, actor_email, group_snapshot, app_id, domain,
			url, event_type, trace_id, content_kind, content_length,
			content_sha256, content_sample_masked, file_name, file_size_bytes,
			file_mime, file_ext, file_sha256, client_meta_json, schema_version
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
		RETURNING created_at`,
		event.EventID, event.TenantID, event.ActorEmail, event.GroupSnapshot,
		event.AppID, event.Domain, event.URL, event.EventType, event.TraceID,
		event.ContentKind, event.ContentLength, event.ContentSHA256,
		event.ContentSampleMasked, event.FileName, event.FileSizeBytes,
		event.FileMime, event.FileExt, event.FileSHA256, event.ClientMeta,
		event.SchemaVersion,
	).Scan(&event.CreatedAt)
	if err != nil {
		s.logger.Error("Failed to insert event",
			zap.Error(err),
			zap.String("trace_id", event.TraceID))
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// InsertDecision persists one decision and fills in its generated ID and
// timestamp.
func (s *Store) InsertDecision(ctx context.Context, decision *DecisionRecord) error {
	decision.DecisionID = uuid.NewString()
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO decisions (
			decision_id, tenant_id, event_id, outcome, action_json, risk_score,
			matched_policy_id, matched_policy_version, detector_hits_json,
			explanation_text
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at`,
		decision.DecisionID, decision.TenantID, decision.EventID,
		decision.Outcome, decision.Action, decision.RiskScore,
		decision.MatchedPolicyID, decision.MatchedPolicyVersion,
		decision.DetectorHits, decision.ExplanationText,
	).Scan(&decision.CreatedAt)
	if err != nil {
		s.logger.Error("Failed to insert decision",
			zap.Error(err),
			zap.String("event_id", decision.EventID))
		return fmt.Errorf("failed to insert decision: %w", err)
	}
	return nil
}

// AppendAudit writes one audit trail row.
func (s *Store) AppendAudit(ctx context.Context, entry *AuditEntry) error {
	entry.AuditID = uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_trail (
			audit_id, tenant_id, actor_email, action, target_type, target_id,
			details_json
		) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		entry.AuditID, entry.TenantID, entry.ActorEmail, entry.Action,
		entry.TargetType, entry.TargetID, entry.Details)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// EventExists reports whether an event belongs to the tenant.
func (s *Store) EventExists(ctx context.Context, tenantID, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM events WHERE event_id = $1 AND tenant_id = $2)`,
		eventID, tenantID)
	if err != nil {
		return false, fmt.Errorf("failed to check event: %w", err)
	}
	return exists, nil
}

// DecisionExists reports whether a decision belongs to the tenant and event.
func (s *Store) DecisionExists(ctx context.Context, tenantID, decisionID, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, `
		SELECT EXISTS (
			SELECT 1 FROM decisions
			WHERE decision_id = $1 AND tenant_id = $2 AND event_id = $3)`,
		decisionID, tenantID, eventID)
	if err != nil {
		return false, fmt.Errorf("failed to check decision: %w", err)
	}
	return exists, nil
}

// FindActiveException returns the unexpired exception for one user and
// policy, or nil when none exists.
func (s *Store) FindActiveException(ctx context.Context, tenantID, actorEmail, policyID string) (*PolicyException, error) {
	var exc PolicyException
	err := s.db.GetContext(ctx, &exc, `
		SELECT exception_id, tenant_id, actor_email, policy_id, reason,
		       expires_at, created_at
		FROM policy_exceptions
		WHERE tenant_id = $1 AND actor_email = $2 AND policy_id = $3
		  AND expires_at > now()
		ORDER BY expires_at DESC
		LIMIT 1`, tenantID, actorEmail, policyID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find exception: %w", err)
	}
	return &exc, nil
}

// FindApprovalCase loads one approval case scoped to a tenant, or nil when
// it does not exist.
func (s *Store) FindApprovalCase(ctx context.Context, tenantID, caseID string) (*ApprovalCase, error) {
	var ac ApprovalCase
	err := s.db.GetContext(ctx, &ac, `
		SELECT case_id, tenant_id, event_id, decision_id, status,
		       request_reason, requested_by_email, decision_comment,
		       decision_payload_json, expires_at, created_at, updated_at
		FROM approval_cases
		WHERE case_id = $1 AND tenant_id = $2`, caseID, tenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find approval case: %w", err)
	}
	return &ac, nil
}

// GetApprovalCase loads one approval case by ID.
func (s *Store) GetApprovalCase(ctx context.Context, caseID string) (*ApprovalCase, error) {
	var ac ApprovalCase
	err := s.db.GetContext(ctx, &ac, `
		SELECT case_id, tenant_id, event_id, decision_id, status,
		       request_reason, requested_by_email, decision_comment,
		       decision_payload_json, expires_at, created_at, updated_at
		FROM approval_cases
		WHERE case_id = $1`, caseID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("approval case %s: %w", caseID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get approval case: %w", err)
	}
	return &ac, nil
}

// CreateApprovalCase opens a PENDING case for an event/decision pair.
func (s *Store) CreateApprovalCase(ctx context.Context, ac *ApprovalCase) error {
	ac.CaseID = uuid.NewString()
	ac.Status = ApprovalPending
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO approval_cases (
			case_id, tenant_id, event_id, decision_id, status, request_reason,
			requested_by_email, expires_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at, updated_at`,
		ac.CaseID, ac.TenantID, ac.EventID, ac.DecisionID, ac.Status,
		ac.RequestReason, ac.RequestedByEmail, ac.ExpiresAt,
	).Scan(&ac.CreatedAt, &ac.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create approval case: %w", err)
	}
	return nil
}

// MarkApprovalCaseConsumed records the one-time bypass as spent by writing
// consumed_at into the decision payload.
func (s *Store) MarkApprovalCaseConsumed(ctx context.Context, caseID string, consumedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE approval_cases
		SET decision_payload_json = jsonb_set(
			COALESCE(decision_payload_json, '{}'::jsonb),
			'{consumed_at}', to_jsonb($2::text)),
		    updated_at = now()
		WHERE case_id = $1`, caseID, consumedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to consume approval case: %w", err)
	}
	return nil
}

// UpdateApprovalStatus transitions a case to a new status.
func (s *Store) UpdateApprovalStatus(ctx context.Context, caseID, status string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE approval_cases SET status = $2, updated_at = now()
		WHERE case_id = $1`, caseID, status)
	if err != nil {
		return fmt.Errorf("failed to update approval case: %w", err)
	}
	return nil
}

// FetchDecisionEvents returns flattened decision rows created after `since`,
// oldest first, for the Parquet exporter.
func (s *Store) FetchDecisionEvents(ctx context.Context, tenantID string, since time.Time, limit int) ([]DecisionEvent, error) {
	var rows []DecisionEvent
	err := s.db.SelectContext(ctx, &rows, `
		SELECT d.decision_id, d.event_id, d.tenant_id, e.domain, e.event_type,
		       e.content_kind, e.content_length, d.outcome, d.risk_score,
		       d.created_at
		FROM decisions d
		JOIN events e ON e.event_id = d.event_id
		WHERE d.tenant_id = $1 AND d.created_at > $2
		ORDER BY d.created_at ASC
		LIMIT $3`, tenantID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch decision events: %w", err)
	}
	return rows, nil
}

func maskDSN(dsn string) string {
	if !strings.Contains(dsn, "@") {
		return dsn
	}
	parts := strings.SplitN(dsn, "@", 2)
	userPart := parts[0]
	if i := strings.LastIndex(userPart, ":"); i > strings.Index(userPart, "//") {
		userPart = userPart[:i] + ":***"
	}
	return userPart + "@" + parts[1]
}
