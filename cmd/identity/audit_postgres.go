package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// AuditEntry is one row of the audit_log table.
type AuditEntry struct {
	Action    string
	UserID    string
	IP        string
	UserAgent string
	Meta      map[string]any
}

// EnsureAuditSchema creates the audit_log table when missing.
func (s *PostgresStore) EnsureAuditSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
  id BIGSERIAL PRIMARY KEY,
  action TEXT NOT NULL,
  user_id TEXT NULL,
  ip TEXT NULL,
  user_agent TEXT NULL,
  meta JSONB NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_audit_log_user_created ON %s (user_id, created_at);`,
		pgIdent(s.schema, "audit_log"), pgIdent(s.schema, "audit_log"))

	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("identity: ensure audit schema: %w", err)
	}
	return nil
}

// RecordAudit appends e to audit_log.
func (s *PostgresStore) RecordAudit(ctx context.Context, e AuditEntry) error {
	action := strings.TrimSpace(e.Action)
	if action == "" {
		return invalid("identity.RecordAudit", "empty action")
	}

	var meta *string
	if len(e.Meta) > 0 {
		b, err := json.Marshal(e.Meta)
		if err != nil {
			return fmt.Errorf("identity.RecordAudit: meta: %w", err)
		}
		m := string(b)
		meta = &m
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+pgIdent(s.schema, "audit_log")+` (action, user_id, ip, user_agent, meta)
		 VALUES ($1, $2, $3, $4, $5::jsonb)`,
		action, nullIfBlank(e.UserID), nullIfBlank(e.IP), nullIfBlank(e.UserAgent), meta,
	)
	if err != nil {
		return fmt.Errorf("identity.RecordAudit: %w", err)
	}
	return nil
}

func nullIfBlank(s string) any {
	v := strings.TrimSpace(s)
	if v == "" {
		return nil
	}
	return v
}
