package repo

import (
	"context"
	"database/sql"

	"dispatchline/internal/domain"
)

func (r Repo) InsertVendor(ctx context.Context, v domain.Vendor) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO vendors(id,name,active,created_at) VALUES (?,?,?,?)`,
		v.ID, v.Name, boolInt(v.Active), v.CreatedAt)
	return err
}

func (r Repo) GetVendor(ctx context.Context, id string) (domain.Vendor, error) {
	var v domain.Vendor
	var active int
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,active,created_at FROM vendors WHERE id=?`, id).
		Scan(&v.ID, &v.Name, &active, &v.CreatedAt)
	if err == sql.ErrNoRows {
		return v, ErrNotFound
	}
	v.Active = active != 0
	return v, err
}

func (r Repo) ListVendors(ctx context.Context) ([]domain.Vendor, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,active,created_at FROM vendors ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Vendor
	for rows.Next() {
		var v domain.Vendor
		var active int
		if err := rows.Scan(&v.ID, &v.Name, &active, &v.CreatedAt); err != nil {
			return nil, err
		}
		v.Active = active != 0
		res = append(res, v)
	}
	return res, rows.Err()
}

func (r Repo) SetVendorActive(ctx context.Context, id string, active bool) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE vendors SET active=? WHERE id=?`, boolInt(active), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) InsertDesigner(ctx context.Context, d domain.Designer) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO designers(id,vendor_id,name,active,created_at) VALUES (?,?,?,?,?)`,
		d.ID, d.VendorID, d.Name, boolInt(d.Active), d.CreatedAt)
	return err
}

func (r Repo) GetDesigner(ctx context.Context, id string) (domain.Designer, error) {
	var d domain.Designer
	var active int
	err := r.DB.QueryRowContext(ctx, `SELECT id,vendor_id,name,active,created_at FROM designers WHERE id=?`, id).
		Scan(&d.ID, &d.VendorID, &d.Name, &active, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	d.Active = active != 0
	return d, err
}

func (r Repo) ListDesigners(ctx context.Context, vendorID string) ([]domain.Designer, error) {
	query := `SELECT id,vendor_id,name,active,created_at FROM designers`
	var args []any
	if vendorID != "" {
		query += ` WHERE vendor_id=?`
		args = append(args, vendorID)
	}
	query += ` ORDER BY created_at DESC, id`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Designer
	for rows.Next() {
		var d domain.Designer
		var active int
		if err := rows.Scan(&d.ID, &d.VendorID, &d.Name, &active, &d.CreatedAt); err != nil {
			return nil, err
		}
		d.Active = active != 0
		res = append(res, d)
	}
	return res, rows.Err()
}

func (r Repo) SetDesignerActive(ctx context.Context, id string, active bool) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE designers SET active=? WHERE id=?`, boolInt(active), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpsertServicePrice(ctx context.Context, p domain.ServicePrice) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO service_prices(vendor_id,service_id,price_cents,active,created_at,updated_at) VALUES (?,?,?,?,?,?)
ON CONFLICT(vendor_id,service_id) DO UPDATE SET price_cents=excluded.price_cents, active=excluded.active, updated_at=excluded.updated_at`,
		p.VendorID, p.ServiceID, p.PriceCents, boolInt(p.Active), p.CreatedAt, p.UpdatedAt)
	return err
}

func (r Repo) GetServicePrice(ctx context.Context, vendorID, serviceID string) (domain.ServicePrice, error) {
	var p domain.ServicePrice
	var active int
	err := r.DB.QueryRowContext(ctx, `SELECT vendor_id,service_id,price_cents,active,created_at,updated_at FROM service_prices WHERE vendor_id=? AND service_id=?`,
		vendorID, serviceID).Scan(&p.VendorID, &p.ServiceID, &p.PriceCents, &active, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	p.Active = active != 0
	return p, err
}

func (r Repo) ListServicePrices(ctx context.Context, vendorID string) ([]domain.ServicePrice, error) {
	query := `SELECT vendor_id,service_id,price_cents,active,created_at,updated_at FROM service_prices`
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
	var res []domain.ServicePrice
	for rows.Next() {
		var p domain.ServicePrice
		var active int
		if err := rows.Scan(&p.VendorID, &p.ServiceID, &p.PriceCents, &active, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.Active = active != 0
		res = append(res, p)
	}
	return res, rows.Err()
}

// VendorHasActivePrice reports whether the vendor has a positive, active
// price agreement for the service.
func (r Repo) VendorHasActivePrice(ctx context.Context, vendorID, serviceID string) (bool, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT 1 FROM service_prices WHERE vendor_id=? AND service_id=? AND active=1 AND price_cents>0 LIMIT 1`,
		vendorID, serviceID)
	var one int
	err := row.Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
