package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"dispatchline/internal/domain"
)

const ruleColumns = `id,name,scope,owner_vendor_id,active,service_ids_json,criteria_json,target,strategy,allow_vendors_json,deny_vendors_json,priority,created_at,updated_at`

func marshalCriteria(in []domain.Criterion) any {
	if len(in) == 0 {
		return nil
	}
	b, err := json.Marshal(in)
	if err != nil {
		return nil
	}
	return string(b)
}

func scanRule(scan func(dest ...any) error) (domain.RoutingRule, error) {
	var r domain.RoutingRule
	var owner, serviceIDs, criteria, strategy, allow, deny sql.NullString
	var active int
	err := scan(&r.ID, &r.Name, &r.Scope, &owner, &active, &serviceIDs, &criteria, &r.Target, &strategy,
		&allow, &deny, &r.Priority, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return r, ErrNotFound
	}
	if err != nil {
		return r, err
	}
	r.Active = active != 0
	if owner.Valid {
		r.OwnerVendorID = &owner.String
	}
	if strategy.Valid {
		r.Strategy = strategy.String
	}
	r.ServiceIDs = unmarshalStrings(serviceIDs)
	r.AllowVendors = unmarshalStrings(allow)
	r.DenyVendors = unmarshalStrings(deny)
	if criteria.Valid && criteria.String != "" {
		_ = json.Unmarshal([]byte(criteria.String), &r.Criteria)
	}
	return r, nil
}

func (r Repo) InsertRule(ctx context.Context, rule domain.RoutingRule) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO routing_rules(`+ruleColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		rule.ID, rule.Name, rule.Scope, nullableStringPtr(rule.OwnerVendorID), boolInt(rule.Active),
		marshalStrings(rule.ServiceIDs), marshalCriteria(rule.Criteria), rule.Target, nullable(rule.Strategy),
		marshalStrings(rule.AllowVendors), marshalStrings(rule.DenyVendors), rule.Priority,
		rule.CreatedAt, rule.UpdatedAt)
	return err
}

func (r Repo) UpdateRule(ctx context.Context, rule domain.RoutingRule) error {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE routing_rules SET name=?, scope=?, owner_vendor_id=?, active=?, service_ids_json=?, criteria_json=?, target=?, strategy=?, allow_vendors_json=?, deny_vendors_json=?, priority=?, updated_at=? WHERE id=?`,
		rule.Name, rule.Scope, nullableStringPtr(rule.OwnerVendorID), boolInt(rule.Active),
		marshalStrings(rule.ServiceIDs), marshalCriteria(rule.Criteria), rule.Target, nullable(rule.Strategy),
		marshalStrings(rule.AllowVendors), marshalStrings(rule.DenyVendors), rule.Priority,
		rule.UpdatedAt, rule.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetRuleActive(ctx context.Context, id string, active bool, now string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE routing_rules SET active=?, updated_at=? WHERE id=?`,
		boolInt(active), now, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteRule(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM routing_rules WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetRule(ctx context.Context, id string) (domain.RoutingRule, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM routing_rules WHERE id=?`, id)
	return scanRule(row.Scan)
}

func (r Repo) ListRules(ctx context.Context) ([]domain.RoutingRule, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+ruleColumns+` FROM routing_rules ORDER BY priority DESC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.RoutingRule
	for rows.Next() {
		rule, err := scanRule(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, rule)
	}
	return res, rows.Err()
}

// ListActiveRules returns active rules applicable to a service, ordered by
// priority descending. Equal priorities tie-break by rule id ascending so
// the evaluation order is stable across stores.
func (r Repo) ListActiveRules(ctx context.Context, serviceID string) ([]domain.RoutingRule, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+ruleColumns+` FROM routing_rules WHERE active=1 ORDER BY priority DESC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.RoutingRule
	for rows.Next() {
		rule, err := scanRule(rows.Scan)
		if err != nil {
			return nil, err
		}
		if !rule.AppliesToService(serviceID) {
			continue
		}
		res = append(res, rule)
	}
	return res, rows.Err()
}
