package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"dispatchline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// ErrAlreadyAssigned reports that the conditional assignment update matched
// no row: the request was assigned or locked between Route and Apply.
var ErrAlreadyAssigned = errors.New("request already assigned or locked")

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func marshalStrings(in []string) any {
	if len(in) == 0 {
		return nil
	}
	b, err := json.Marshal(in)
	if err != nil {
		return nil
	}
	return string(b)
}

func unmarshalStrings(in sql.NullString) []string {
	if !in.Valid || in.String == "" {
		return nil
	}
	var out []string
	_ = json.Unmarshal([]byte(in.String), &out)
	return out
}

const requestColumns = `id,service_id,client_id,title,status,vendor_id,designer_id,assignment_locked,vendor_assigned_at,designer_assigned_at,auto_assign_status,last_auto_run_at,last_auto_note,created_at,updated_at`

func scanRequest(scan func(dest ...any) error) (domain.ServiceRequest, error) {
	var r domain.ServiceRequest
	var vendorID, designerID, vendorAt, designerAt, runAt, note sql.NullString
	var locked int
	err := scan(&r.ID, &r.ServiceID, &r.ClientID, &r.Title, &r.Status, &vendorID, &designerID, &locked,
		&vendorAt, &designerAt, &r.AutoAssignStatus, &runAt, &note, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return r, ErrNotFound
	}
	if err != nil {
		return r, err
	}
	r.AssignmentLocked = locked != 0
	if vendorID.Valid {
		r.VendorID = &vendorID.String
	}
	if designerID.Valid {
		r.DesignerID = &designerID.String
	}
	if vendorAt.Valid {
		r.VendorAssignedAt = &vendorAt.String
	}
	if designerAt.Valid {
		r.DesignerAssignedAt = &designerAt.String
	}
	if runAt.Valid {
		r.LastAutoRunAt = &runAt.String
	}
	if note.Valid {
		r.LastAutoNote = note.String
	}
	return r, nil
}

func (r Repo) InsertRequest(ctx context.Context, req domain.ServiceRequest) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO service_requests(`+requestColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		req.ID, req.ServiceID, req.ClientID, req.Title, req.Status,
		nullableStringPtr(req.VendorID), nullableStringPtr(req.DesignerID), boolInt(req.AssignmentLocked),
		nullableStringPtr(req.VendorAssignedAt), nullableStringPtr(req.DesignerAssignedAt),
		req.AutoAssignStatus, nullableStringPtr(req.LastAutoRunAt), nullable(req.LastAutoNote),
		req.CreatedAt, req.UpdatedAt)
	return err
}

func (r Repo) GetRequest(ctx context.Context, id string) (domain.ServiceRequest, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM service_requests WHERE id=?`, id)
	return scanRequest(row.Scan)
}

type RequestFilters struct {
	ServiceID  string
	ClientID   string
	VendorID   string
	DesignerID string
	Status     string
	Limit      int
}

func (r Repo) ListRequests(ctx context.Context, f RequestFilters) ([]domain.ServiceRequest, error) {
	var clauses []string
	var args []any
	if f.ServiceID != "" {
		clauses = append(clauses, "service_id=?")
		args = append(args, f.ServiceID)
	}
	if f.ClientID != "" {
		clauses = append(clauses, "client_id=?")
		args = append(args, f.ClientID)
	}
	if f.VendorID != "" {
		clauses = append(clauses, "vendor_id=?")
		args = append(args, f.VendorID)
	}
	if f.DesignerID != "" {
		clauses = append(clauses, "designer_id=?")
		args = append(args, f.DesignerID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + requestColumns + ` FROM service_requests ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ServiceRequest
	for rows.Next() {
		req, err := scanRequest(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, req)
	}
	return res, rows.Err()
}

// CountVendorAssignments counts requests assigned to a vendor for a service
// with a vendor assignment timestamp inside [from, to).
func (r Repo) CountVendorAssignments(ctx context.Context, vendorID, serviceID string, from, to time.Time) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx,
		`SELECT count(*) FROM service_requests WHERE vendor_id=? AND service_id=? AND vendor_assigned_at>=? AND vendor_assigned_at<?`,
		vendorID, serviceID, from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339)).Scan(&n)
	return n, err
}

// CountDesignerAssignments is the designer-tier counterpart of
// CountVendorAssignments.
func (r Repo) CountDesignerAssignments(ctx context.Context, designerID, serviceID string, from, to time.Time) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx,
		`SELECT count(*) FROM service_requests WHERE designer_id=? AND service_id=? AND designer_assigned_at>=? AND designer_assigned_at<?`,
		designerID, serviceID, from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339)).Scan(&n)
	return n, err
}

// ApplyAssignment persists one routing run: the audit batch first, in
// order, then the request's automation fields. Assignee columns are only
// written when the request is still unassigned and unlocked, so a routing
// run that raced a concurrent assignment loses cleanly instead of
// double-assigning.
func (r Repo) ApplyAssignment(ctx context.Context, requestID string, upd domain.AssignmentUpdate) (domain.ServiceRequest, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ServiceRequest{}, err
	}
	defer tx.Rollback()

	for _, entry := range upd.Logs {
		if err := insertAuditEntry(ctx, tx, entry); err != nil {
			return domain.ServiceRequest{}, fmt.Errorf("append audit log: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE service_requests SET auto_assign_status=?, last_auto_run_at=?, last_auto_note=?, updated_at=? WHERE id=?`,
		upd.AutoAssignStatus, upd.RunAt, nullable(upd.Note), upd.RunAt, requestID); err != nil {
		return domain.ServiceRequest{}, err
	}

	if upd.VendorID != nil {
		res, err := tx.ExecContext(ctx,
			`UPDATE service_requests SET vendor_id=?, vendor_assigned_at=? WHERE id=? AND vendor_id IS NULL AND designer_id IS NULL AND assignment_locked=0`,
			*upd.VendorID, nullableStringPtr(upd.VendorAssignedAt), requestID)
		if err != nil {
			return domain.ServiceRequest{}, err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return domain.ServiceRequest{}, ErrAlreadyAssigned
		}
		if upd.DesignerID != nil {
			if _, err := tx.ExecContext(ctx,
				`UPDATE service_requests SET designer_id=?, designer_assigned_at=?, status=? WHERE id=?`,
				*upd.DesignerID, nullableStringPtr(upd.DesignerAt), domain.RequestStatusInProgress, requestID); err != nil {
				return domain.ServiceRequest{}, err
			}
		}
	}

	row := tx.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM service_requests WHERE id=?`, requestID)
	req, err := scanRequest(row.Scan)
	if err != nil {
		return domain.ServiceRequest{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ServiceRequest{}, err
	}
	return req, nil
}

// ManualAssign sets assignees directly, bypassing the routing pipeline. It
// is the fallback path when automation returned failed_no_vendor.
func (r Repo) ManualAssign(ctx context.Context, requestID string, vendorID, designerID *string, now string) (domain.ServiceRequest, error) {
	var (
		fields []string
		args   []any
	)
	if vendorID != nil {
		fields = append(fields, "vendor_id=?", "vendor_assigned_at=?")
		args = append(args, nullableStringPtr(vendorID), now)
	}
	if designerID != nil {
		fields = append(fields, "designer_id=?", "designer_assigned_at=?", "status=?")
		args = append(args, nullableStringPtr(designerID), now, domain.RequestStatusInProgress)
	}
	if len(fields) == 0 {
		return r.GetRequest(ctx, requestID)
	}
	fields = append(fields, "updated_at=?")
	args = append(args, now, requestID)
	res, err := r.DB.ExecContext(ctx, fmt.Sprintf(`UPDATE service_requests SET %s WHERE id=?`, strings.Join(fields, ", ")), args...)
	if err != nil {
		return domain.ServiceRequest{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ServiceRequest{}, ErrNotFound
	}
	return r.GetRequest(ctx, requestID)
}

// SetRequestLock toggles the assignment lock flag.
func (r Repo) SetRequestLock(ctx context.Context, requestID string, locked bool, now string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE service_requests SET assignment_locked=?, updated_at=? WHERE id=?`,
		boolInt(locked), now, requestID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
