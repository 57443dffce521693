package repo

import (
	"context"
	"database/sql"
	"strings"

	"dispatchline/internal/domain"
)

const auditColumns = `id,request_id,item_type,rule_id,step,outcome,reason,chosen_id,candidate_ids_json,snapshot_json,created_at`

func insertAuditEntry(ctx context.Context, tx *sql.Tx, e domain.AuditLogEntry) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO audit_log(request_id,item_type,rule_id,step,outcome,reason,chosen_id,candidate_ids_json,snapshot_json,created_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		e.RequestID, e.ItemType, nullableStringPtr(e.RuleID), e.Step, e.Outcome, nullable(e.Reason),
		nullableStringPtr(e.ChosenID), marshalStrings(e.CandidateIDs), nullableStringPtr(e.SnapshotJSON), e.CreatedAt)
	return err
}

func scanAuditEntry(scan func(dest ...any) error) (domain.AuditLogEntry, error) {
	var e domain.AuditLogEntry
	var ruleID, reason, chosen, candidates, snapshot sql.NullString
	err := scan(&e.ID, &e.RequestID, &e.ItemType, &ruleID, &e.Step, &e.Outcome, &reason, &chosen, &candidates, &snapshot, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	if err != nil {
		return e, err
	}
	if ruleID.Valid {
		e.RuleID = &ruleID.String
	}
	if reason.Valid {
		e.Reason = reason.String
	}
	if chosen.Valid {
		e.ChosenID = &chosen.String
	}
	e.CandidateIDs = unmarshalStrings(candidates)
	if snapshot.Valid {
		e.SnapshotJSON = &snapshot.String
	}
	return e, nil
}

// ListAuditEntries returns the audit trail for a request in insertion order.
func (r Repo) ListAuditEntries(ctx context.Context, requestID string) ([]domain.AuditLogEntry, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+auditColumns+` FROM audit_log WHERE request_id=? ORDER BY id ASC`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAuditEntries(rows)
}

// AuditEntriesAfter returns entries with IDs greater than the cursor in
// ascending order, optionally filtered by outcome. Used by the webhook
// dispatcher.
func (r Repo) AuditEntriesAfter(ctx context.Context, limit int, cursor int64, outcomes []string) ([]domain.AuditLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"1=1"}
	var args []any
	if cursor > 0 {
		clauses = append(clauses, "id>?")
		args = append(args, cursor)
	}
	if len(outcomes) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(outcomes)), ",")
		clauses = append(clauses, "outcome IN ("+placeholders+")")
		for _, o := range outcomes {
			args = append(args, o)
		}
	}
	query := `SELECT ` + auditColumns + ` FROM audit_log WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY id ASC LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAuditEntries(rows)
}

// LatestAuditID returns the most recent audit log ID.
func (r Repo) LatestAuditID(ctx context.Context) (int64, error) {
	var id int64
	if err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM audit_log`).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func collectAuditEntries(rows *sql.Rows) ([]domain.AuditLogEntry, error) {
	var res []domain.AuditLogEntry
	for rows.Next() {
		e, err := scanAuditEntry(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
