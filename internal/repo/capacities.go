package repo

import (
	"context"
	"database/sql"

	"dispatchline/internal/domain"
)

func (r Repo) UpsertVendorCapacity(ctx context.Context, c domain.VendorCapacity) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO vendor_capacities(vendor_id,service_id,daily_capacity,auto_assign,created_at,updated_at) VALUES (?,?,?,?,?,?)
ON CONFLICT(vendor_id,service_id) DO UPDATE SET daily_capacity=excluded.daily_capacity, auto_assign=excluded.auto_assign, updated_at=excluded.updated_at`,
		c.VendorID, c.ServiceID, c.DailyCapacity, boolInt(c.AutoAssign), c.CreatedAt, c.UpdatedAt)
	return err
}

func (r Repo) GetVendorCapacity(ctx context.Context, vendorID, serviceID string) (domain.VendorCapacity, error) {
	var c domain.VendorCapacity
	var auto int
	err := r.DB.QueryRowContext(ctx, `SELECT vendor_id,service_id,daily_capacity,auto_assign,created_at,updated_at FROM vendor_capacities WHERE vendor_id=? AND service_id=?`,
		vendorID, serviceID).Scan(&c.VendorID, &c.ServiceID, &c.DailyCapacity, &auto, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	c.AutoAssign = auto != 0
	return c, err
}

func (r Repo) ListVendorCapacities(ctx context.Context, vendorID string) ([]domain.VendorCapacity, error) {
	query := `SELECT vendor_id,service_id,daily_capacity,auto_assign,created_at,updated_at FROM vendor_capacities`
	var args []any
	if vendorID != "" {
		query += ` WHERE vendor_id=?`
		args = append(args, vendorID)
	}
	query += ` ORDER BY vendor_id, service_id`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.VendorCapacity
	for rows.Next() {
		var c domain.VendorCapacity
		var auto int
		if err := rows.Scan(&c.VendorID, &c.ServiceID, &c.DailyCapacity, &auto, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		c.AutoAssign = auto != 0
		res = append(res, c)
	}
	return res, rows.Err()
}

// ListVendorCandidates returns auto-assign enabled capacity records for a
// service, restricted to active vendors. This is the vendor-tier discovery
// query of the routing pipeline.
func (r Repo) ListVendorCandidates(ctx context.Context, serviceID string) ([]domain.VendorCapacity, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT c.vendor_id,c.service_id,c.daily_capacity,c.auto_assign,c.created_at,c.updated_at
FROM vendor_capacities c JOIN vendors v ON v.id=c.vendor_id
WHERE c.service_id=? AND c.auto_assign=1 AND v.active=1
ORDER BY c.vendor_id`, serviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.VendorCapacity
	for rows.Next() {
		var c domain.VendorCapacity
		var auto int
		if err := rows.Scan(&c.VendorID, &c.ServiceID, &c.DailyCapacity, &auto, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		c.AutoAssign = auto != 0
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) UpsertDesignerCapacity(ctx context.Context, c domain.DesignerCapacity) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO designer_capacities(designer_id,service_id,daily_capacity,auto_assign,is_primary,priority,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?)
ON CONFLICT(designer_id,service_id) DO UPDATE SET daily_capacity=excluded.daily_capacity, auto_assign=excluded.auto_assign, is_primary=excluded.is_primary, priority=excluded.priority, updated_at=excluded.updated_at`,
		c.DesignerID, c.ServiceID, c.DailyCapacity, boolInt(c.AutoAssign), boolInt(c.IsPrimary), c.Priority, c.CreatedAt, c.UpdatedAt)
	return err
}

func (r Repo) ListDesignerCapacities(ctx context.Context, designerID string) ([]domain.DesignerCapacity, error) {
	query := `SELECT designer_id,service_id,daily_capacity,auto_assign,is_primary,priority,created_at,updated_at FROM designer_capacities`
	var args []any
	if designerID != "" {
		query += ` WHERE designer_id=?`
		args = append(args, designerID)
	}
	query += ` ORDER BY designer_id, service_id`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDesignerCapacities(rows)
}

// ListDesignerCandidates returns auto-assign enabled designer capacity
// records for a service, restricted to active designers belonging to the
// given vendor, pre-sorted by (is_primary desc, priority desc). The
// strategy only distributes within this order.
func (r Repo) ListDesignerCandidates(ctx context.Context, vendorID, serviceID string) ([]domain.DesignerCapacity, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT c.designer_id,c.service_id,c.daily_capacity,c.auto_assign,c.is_primary,c.priority,c.created_at,c.updated_at
FROM designer_capacities c JOIN designers d ON d.id=c.designer_id
WHERE d.vendor_id=? AND c.service_id=? AND c.auto_assign=1 AND d.active=1
ORDER BY c.is_primary DESC, c.priority DESC, c.designer_id ASC`, vendorID, serviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDesignerCapacities(rows)
}

func collectDesignerCapacities(rows *sql.Rows) ([]domain.DesignerCapacity, error) {
	var res []domain.DesignerCapacity
	for rows.Next() {
		var c domain.DesignerCapacity
		var auto, primary int
		if err := rows.Scan(&c.DesignerID, &c.ServiceID, &c.DailyCapacity, &auto, &primary, &c.Priority, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		c.AutoAssign = auto != 0
		c.IsPrimary = primary != 0
		res = append(res, c)
	}
	return res, rows.Err()
}
