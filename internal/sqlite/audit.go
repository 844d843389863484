package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/weeargh/kiwi/internal/domain/audit"
)

// AuditRepository implements audit.Repository for SQLite
type AuditRepository struct {
	db *DB
}

// NewAuditRepository creates a new AuditRepository
func NewAuditRepository(db *DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Log inserts a new audit entry
func (r *AuditRepository) Log(ctx context.Context, entry *audit.Entry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = nowUTC()
	}

	query := `
		INSERT INTO audit_log (
			tenant_id, actor_id, action, entity_type, entity_id,
			before_state, after_state, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		entry.TenantID,
		entry.ActorID,
		entry.Action,
		entry.EntityType,
		entry.EntityID,
		nullJSON(entry.Before),
		nullJSON(entry.After),
		formatTime(entry.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to log audit entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err == nil {
		entry.ID = id
	}

	return nil
}

// List returns audit entries matching the given filters, newest first
func (r *AuditRepository) List(ctx context.Context, tenantID string, opts audit.ListOptions) ([]audit.Entry, error) {
	query := `
		SELECT
			id, tenant_id, actor_id, action, entity_type, entity_id,
			before_state, after_state, created_at
		FROM audit_log
		WHERE tenant_id = ?
	`

	args := []any{tenantID}
	conditions := []string{}

	if opts.EntityID != "" {
		conditions = append(conditions, "entity_id = ?")
		args = append(args, opts.EntityID)
	}
	if opts.Action != nil {
		conditions = append(conditions, "action = ?")
		args = append(args, *opts.Action)
	}

	if len(conditions) > 0 {
		query += " AND " + joinConditions(conditions)
	}

	query += " ORDER BY created_at DESC, id DESC"

	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	} else if opts.Offset > 0 {
		query += " LIMIT -1"
	}
	if opts.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, opts.Offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []audit.Entry
	for rows.Next() {
		var (
			entry         audit.Entry
			before, after sql.NullString
			createdAt     string
		)
		if err := rows.Scan(
			&entry.ID,
			&entry.TenantID,
			&entry.ActorID,
			&entry.Action,
			&entry.EntityType,
			&entry.EntityID,
			&before,
			&after,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		if before.Valid {
			entry.Before = []byte(before.String)
		}
		if after.Valid {
			entry.After = []byte(after.String)
		}
		if entry.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit rows: %w", err)
	}

	return entries, nil
}

func nullJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
