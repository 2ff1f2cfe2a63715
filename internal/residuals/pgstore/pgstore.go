// Package pgstore is the PostgreSQL Store backing the reconciliation engine.
// All list queries are single batched statements, not row-by-row round trips.
package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"IsoHubResiduals/internal/residuals"
)

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx so every method runs
// against the ambient transaction when one is open.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txKey struct{}

func (s *Store) q(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return s.pool
}

// WithTx opens one transaction for a compound engine operation. Nested calls
// reuse the outer transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)
	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (s *Store) ListProcessors(ctx context.Context, activeOnly bool) ([]residuals.Processor, error) {
	sql := `SELECT processor_id, name, active FROM processors ORDER BY processor_id`
	if activeOnly {
		sql = `SELECT processor_id, name, active FROM processors WHERE active ORDER BY processor_id`
	}
	rows, err := s.q(ctx).Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []residuals.Processor
	for rows.Next() {
		var p residuals.Processor
		if err := rows.Scan(&p.ID, &p.Name, &p.Active); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) GetProcessor(ctx context.Context, id int64) (*residuals.Processor, error) {
	var p residuals.Processor
	err := s.q(ctx).QueryRow(ctx,
		`SELECT processor_id, name, active FROM processors WHERE processor_id = $1`, id).
		Scan(&p.ID, &p.Name, &p.Active)
	if err == pgx.ErrNoRows {
		return nil, residuals.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) FieldMappings(ctx context.Context) (map[int64]map[string]string, error) {
	rows, err := s.q(ctx).Query(ctx,
		`SELECT processor_id, source_column_name, target_field_name FROM processor_field_mappings`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64]map[string]string)
	for rows.Next() {
		var id int64
		var src, tgt string
		if err := rows.Scan(&id, &src, &tgt); err != nil {
			return nil, err
		}
		if out[id] == nil {
			out[id] = make(map[string]string)
		}
		out[id][src] = tgt
	}
	return out, rows.Err()
}

func (s *Store) GetMerchant(ctx context.Context, mid string) (*residuals.Merchant, error) {
	var m residuals.Merchant
	err := s.q(ctx).QueryRow(ctx, `
		SELECT mid, COALESCE(legal_name,''), COALESCE(dba,''), COALESCE(processor_of_record,''),
		       COALESCE(branch_id,''), COALESCE(partner_type,''), created_at, updated_at
		FROM merchants WHERE mid = $1`, mid).
		Scan(&m.MID, &m.LegalName, &m.DBA, &m.ProcessorOfRecord, &m.BranchID, &m.PartnerType, &m.CreatedAt, &m.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, residuals.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// UpsertMerchant enriches additively: NULLIF keeps incoming blanks from
// erasing stored values.
func (s *Store) UpsertMerchant(ctx context.Context, m residuals.Merchant) error {
	_, err := s.q(ctx).Exec(ctx, `
		INSERT INTO merchants (mid, legal_name, dba, processor_of_record, branch_id, partner_type, created_at, updated_at)
		VALUES ($1, NULLIF($2,''), NULLIF($3,''), NULLIF($4,''), NULLIF($5,''), NULLIF($6,''), now(), now())
		ON CONFLICT (mid) DO UPDATE SET
			legal_name          = COALESCE(NULLIF(EXCLUDED.legal_name,''), merchants.legal_name),
			dba                 = COALESCE(NULLIF(EXCLUDED.dba,''), merchants.dba),
			processor_of_record = COALESCE(NULLIF(EXCLUDED.processor_of_record,''), merchants.processor_of_record),
			branch_id           = COALESCE(NULLIF(EXCLUDED.branch_id,''), merchants.branch_id),
			partner_type        = COALESCE(NULLIF(EXCLUDED.partner_type,''), merchants.partner_type),
			updated_at          = now()`,
		m.MID, m.LegalName, m.DBA, m.ProcessorOfRecord, m.BranchID, m.PartnerType)
	return err
}

func (s *Store) SetMerchantBranch(ctx context.Context, mid, branchID string) error {
	tag, err := s.q(ctx).Exec(ctx,
		`UPDATE merchants SET branch_id = $2, updated_at = now() WHERE mid = $1 AND branch_id IS NULL`,
		mid, branchID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Either unknown MID or branch already set; both are fine for the
		// monotonic backfill.
		return nil
	}
	return nil
}

func (s *Store) UpsertMonthlyData(ctx context.Context, rec residuals.MonthlyDataRecord) error {
	_, err := s.q(ctx).Exec(ctx, `
		INSERT INTO monthly_data
			(mid, processor_id, month, batch_id, transactions, sales_volume, gross_income,
			 expenses, net_revenue, basis_points, rep_net, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11, now(), now())
		ON CONFLICT (mid, processor_id, month) DO UPDATE SET
			batch_id     = EXCLUDED.batch_id,
			transactions = EXCLUDED.transactions,
			sales_volume = EXCLUDED.sales_volume,
			gross_income = EXCLUDED.gross_income,
			expenses     = EXCLUDED.expenses,
			net_revenue  = EXCLUDED.net_revenue,
			basis_points = EXCLUDED.basis_points,
			rep_net      = EXCLUDED.rep_net,
			updated_at   = now()`,
		rec.MID, rec.ProcessorID, rec.Month, rec.BatchID, rec.Transactions, rec.SalesVolume,
		rec.GrossIncome, rec.Expenses, rec.NetRevenue, rec.BasisPoints, rec.RepNet)
	return err
}

const monthlyColumns = `id, mid, processor_id, month, COALESCE(batch_id,''), transactions, sales_volume,
	gross_income, expenses, net_revenue, basis_points, rep_net, created_at, updated_at`

func scanMonthly(rows pgx.Rows) ([]residuals.MonthlyDataRecord, error) {
	var out []residuals.MonthlyDataRecord
	for rows.Next() {
		var rec residuals.MonthlyDataRecord
		if err := rows.Scan(&rec.ID, &rec.MID, &rec.ProcessorID, &rec.Month, &rec.BatchID,
			&rec.Transactions, &rec.SalesVolume, &rec.GrossIncome, &rec.Expenses,
			&rec.NetRevenue, &rec.BasisPoints, &rec.RepNet, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) ListMonthlyData(ctx context.Context, month string) ([]residuals.MonthlyDataRecord, error) {
	rows, err := s.q(ctx).Query(ctx,
		`SELECT `+monthlyColumns+` FROM monthly_data WHERE month = $1 ORDER BY mid, processor_id, id`, month)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMonthly(rows)
}

func (s *Store) CountMonthlyData(ctx context.Context, month string, processorID int64) (int, error) {
	var n int
	err := s.q(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM monthly_data WHERE month = $1 AND processor_id = $2`, month, processorID).Scan(&n)
	return n, err
}

func (s *Store) DeleteMonthlyData(ctx context.Context, id int64) error {
	tag, err := s.q(ctx).Exec(ctx, `DELETE FROM monthly_data WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return residuals.ErrNotFound
	}
	return nil
}

func (s *Store) UpsertMasterRecord(ctx context.Context, rec residuals.MasterDatasetRecord) error {
	_, err := s.q(ctx).Exec(ctx, `
		INSERT INTO master_dataset
			(mid, month, merchant_name, dba, processor_name, branch_id, partner_type,
			 sales_volume, net_revenue, assignment_status, compiled_at)
		VALUES ($1,$2,NULLIF($3,''),NULLIF($4,''),NULLIF($5,''),NULLIF($6,''),NULLIF($7,''),$8,$9,$10, now())
		ON CONFLICT (mid, month) DO UPDATE SET
			merchant_name     = COALESCE(NULLIF(EXCLUDED.merchant_name,''), master_dataset.merchant_name),
			dba               = COALESCE(NULLIF(EXCLUDED.dba,''), master_dataset.dba),
			processor_name    = EXCLUDED.processor_name,
			branch_id         = COALESCE(NULLIF(EXCLUDED.branch_id,''), master_dataset.branch_id),
			partner_type      = COALESCE(NULLIF(EXCLUDED.partner_type,''), master_dataset.partner_type),
			sales_volume      = EXCLUDED.sales_volume,
			net_revenue       = EXCLUDED.net_revenue,
			assignment_status = EXCLUDED.assignment_status,
			compiled_at       = now()`,
		rec.MID, rec.Month, rec.MerchantName, rec.DBA, rec.ProcessorName, rec.BranchID,
		rec.PartnerType, rec.SalesVolume, rec.NetRevenue, rec.AssignmentStatus)
	return err
}

func (s *Store) ListMasterRecords(ctx context.Context, month string) ([]residuals.MasterDatasetRecord, error) {
	rows, err := s.q(ctx).Query(ctx, `
		SELECT mid, month, COALESCE(merchant_name,''), COALESCE(dba,''), COALESCE(processor_name,''),
		       COALESCE(branch_id,''), COALESCE(partner_type,''), sales_volume, net_revenue,
		       assignment_status, compiled_at
		FROM master_dataset WHERE month = $1 ORDER BY mid`, month)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []residuals.MasterDatasetRecord
	for rows.Next() {
		var rec residuals.MasterDatasetRecord
		if err := rows.Scan(&rec.MID, &rec.Month, &rec.MerchantName, &rec.DBA, &rec.ProcessorName,
			&rec.BranchID, &rec.PartnerType, &rec.SalesVolume, &rec.NetRevenue,
			&rec.AssignmentStatus, &rec.CompiledAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) SetMasterStatus(ctx context.Context, mid, month, status string) error {
	tag, err := s.q(ctx).Exec(ctx,
		`UPDATE master_dataset SET assignment_status = $3 WHERE mid = $1 AND month = $2`, mid, month, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return residuals.ErrNotFound
	}
	return nil
}

func (s *Store) SetMasterStatusForMonth(ctx context.Context, month, status string) (int, error) {
	tag, err := s.q(ctx).Exec(ctx,
		`UPDATE master_dataset SET assignment_status = $2 WHERE month = $1`, month, status)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

const assignmentColumns = `id, mid, month,
	rep_name, rep_pct, partner_name, partner_pct, sales_manager_name, sales_manager_pct,
	company_name, company_pct, association_name, association_pct,
	COALESCE(original_column_i,''), COALESCE(first_assigned_month,''), assignment_status,
	created_at, last_updated`

func scanAssignment(row pgx.Row) (*residuals.RoleAssignment, error) {
	var a residuals.RoleAssignment
	var repName, partnerName, mgrName, coName, assocName *string
	var repPct, partnerPct, mgrPct, coPct, assocPct *float64
	err := row.Scan(&a.ID, &a.MID, &a.Month,
		&repName, &repPct, &partnerName, &partnerPct, &mgrName, &mgrPct,
		&coName, &coPct, &assocName, &assocPct,
		&a.OriginalColumnI, &a.FirstAssignedMonth, &a.AssignmentStatus,
		&a.CreatedAt, &a.LastUpdated)
	if err != nil {
		return nil, err
	}
	slot := func(name *string, pct *float64) *residuals.RoleSlot {
		if name == nil && pct == nil {
			return nil
		}
		s := residuals.RoleSlot{}
		if name != nil {
			s.UserName = *name
		}
		if pct != nil {
			s.Percentage = *pct
		}
		return &s
	}
	a.Rep = slot(repName, repPct)
	a.Partner = slot(partnerName, partnerPct)
	a.SalesManager = slot(mgrName, mgrPct)
	a.Company = slot(coName, coPct)
	a.Association = slot(assocName, assocPct)
	return &a, nil
}

func (s *Store) GetAssignment(ctx context.Context, mid, month string) (*residuals.RoleAssignment, error) {
	row := s.q(ctx).QueryRow(ctx,
		`SELECT `+assignmentColumns+` FROM role_assignments WHERE mid = $1 AND month = $2 ORDER BY id DESC LIMIT 1`,
		mid, month)
	a, err := scanAssignment(row)
	if err == pgx.ErrNoRows {
		return nil, residuals.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Store) listAssignments(ctx context.Context, sql string, args ...any) ([]residuals.RoleAssignment, error) {
	rows, err := s.q(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []residuals.RoleAssignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (s *Store) ListAssignments(ctx context.Context, month string) ([]residuals.RoleAssignment, error) {
	return s.listAssignments(ctx,
		`SELECT `+assignmentColumns+` FROM role_assignments WHERE month = $1 ORDER BY mid, id`, month)
}

func (s *Store) ListAllAssignments(ctx context.Context) ([]residuals.RoleAssignment, error) {
	return s.listAssignments(ctx,
		`SELECT `+assignmentColumns+` FROM role_assignments ORDER BY mid, month, id`)
}

func (s *Store) CreateAssignment(ctx context.Context, a residuals.RoleAssignment) error {
	slot := func(s *residuals.RoleSlot) (*string, *float64) {
		if s == nil {
			return nil, nil
		}
		return &s.UserName, &s.Percentage
	}
	repName, repPct := slot(a.Rep)
	partnerName, partnerPct := slot(a.Partner)
	mgrName, mgrPct := slot(a.SalesManager)
	coName, coPct := slot(a.Company)
	assocName, assocPct := slot(a.Association)
	_, err := s.q(ctx).Exec(ctx, `
		INSERT INTO role_assignments
			(mid, month, rep_name, rep_pct, partner_name, partner_pct,
			 sales_manager_name, sales_manager_pct, company_name, company_pct,
			 association_name, association_pct, original_column_i, first_assigned_month,
			 assignment_status, created_at, last_updated)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,NULLIF($13,''),NULLIF($14,''),$15, now(), now())`,
		a.MID, a.Month, repName, repPct, partnerName, partnerPct, mgrName, mgrPct,
		coName, coPct, assocName, assocPct, a.OriginalColumnI, a.FirstAssignedMonth, a.AssignmentStatus)
	if isUniqueViolation(err) {
		return residuals.ErrDuplicate
	}
	return err
}

func (s *Store) SetAssignmentStatus(ctx context.Context, mid, month, status string) error {
	tag, err := s.q(ctx).Exec(ctx,
		`UPDATE role_assignments SET assignment_status = $3, last_updated = now() WHERE mid = $1 AND month = $2`,
		mid, month, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return residuals.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteAssignment(ctx context.Context, id int64) error {
	tag, err := s.q(ctx).Exec(ctx, `DELETE FROM role_assignments WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return residuals.ErrNotFound
	}
	return nil
}

func (s *Store) EnsureAssignmentUniqueness(ctx context.Context) error {
	_, err := s.q(ctx).Exec(ctx,
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_role_assignments_mid_month ON role_assignments (mid, month)`)
	return err
}

func (s *Store) GetAuditIssue(ctx context.Context, month, entityID, issueType string) (*residuals.AuditIssue, error) {
	var issue residuals.AuditIssue
	err := s.q(ctx).QueryRow(ctx, `
		SELECT issue_id, month, entity_id, issue_type, severity, COALESCE(description,''), status, created_at
		FROM audit_issues WHERE month = $1 AND entity_id = $2 AND issue_type = $3`,
		month, entityID, issueType).
		Scan(&issue.ID, &issue.Month, &issue.EntityID, &issue.IssueType, &issue.Severity,
			&issue.Description, &issue.Status, &issue.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, residuals.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &issue, nil
}

func (s *Store) CreateAuditIssue(ctx context.Context, issue residuals.AuditIssue) error {
	_, err := s.q(ctx).Exec(ctx, `
		INSERT INTO audit_issues (issue_id, month, entity_id, issue_type, severity, description, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7, now())`,
		issue.ID, issue.Month, issue.EntityID, issue.IssueType, issue.Severity, issue.Description, issue.Status)
	if isUniqueViolation(err) {
		return residuals.ErrDuplicate
	}
	return err
}

func (s *Store) DeleteAuditIssue(ctx context.Context, month, entityID, issueType string) error {
	tag, err := s.q(ctx).Exec(ctx,
		`DELETE FROM audit_issues WHERE month = $1 AND entity_id = $2 AND issue_type = $3`,
		month, entityID, issueType)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return residuals.ErrNotFound
	}
	return nil
}

func (s *Store) GetProgress(ctx context.Context, month string, processorID int64) (*residuals.UploadProgress, error) {
	var p residuals.UploadProgress
	err := s.q(ctx).QueryRow(ctx, `
		SELECT month, processor_id, upload_status, lead_sheet_status, compilation_status,
		       assignment_status, audit_status, updated_at
		FROM upload_progress WHERE month = $1 AND processor_id = $2`, month, processorID).
		Scan(&p.Month, &p.ProcessorID, &p.UploadStatus, &p.LeadSheetStatus, &p.CompilationStatus,
			&p.AssignmentStatus, &p.AuditStatus, &p.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, residuals.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) UpsertProgress(ctx context.Context, p residuals.UploadProgress) error {
	_, err := s.q(ctx).Exec(ctx, `
		INSERT INTO upload_progress
			(month, processor_id, upload_status, lead_sheet_status, compilation_status,
			 assignment_status, audit_status, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7, now())
		ON CONFLICT (month, processor_id) DO UPDATE SET
			upload_status      = EXCLUDED.upload_status,
			lead_sheet_status  = EXCLUDED.lead_sheet_status,
			compilation_status = EXCLUDED.compilation_status,
			assignment_status  = EXCLUDED.assignment_status,
			audit_status       = EXCLUDED.audit_status,
			updated_at         = now()`,
		p.Month, p.ProcessorID, p.UploadStatus, p.LeadSheetStatus, p.CompilationStatus,
		p.AssignmentStatus, p.AuditStatus)
	return err
}

func (s *Store) ListProgress(ctx context.Context, month string) ([]residuals.UploadProgress, error) {
	rows, err := s.q(ctx).Query(ctx, `
		SELECT month, processor_id, upload_status, lead_sheet_status, compilation_status,
		       assignment_status, audit_status, updated_at
		FROM upload_progress WHERE month = $1 ORDER BY processor_id`, month)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []residuals.UploadProgress
	for rows.Next() {
		var p residuals.UploadProgress
		if err := rows.Scan(&p.Month, &p.ProcessorID, &p.UploadStatus, &p.LeadSheetStatus,
			&p.CompilationStatus, &p.AssignmentStatus, &p.AuditStatus, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
