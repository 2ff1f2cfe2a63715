package residuals

import (
	"context"
	"errors"
)

// Sentinel errors shared by all Store implementations.
var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("record already exists")
)

// Store is the persistence contract for the reconciliation engine. The
// production implementation is pgstore (PostgreSQL via pgx); tests use
// memstore. Every method is safe to call inside WithTx.
type Store interface {
	// WithTx runs fn inside a single transaction. Compound engine operations
	// (assign + audit resweep, ingest batches) use this so a partial failure
	// cannot leave assignments and audit issues inconsistent.
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error

	// Processors (static reference data).
	ListProcessors(ctx context.Context, activeOnly bool) ([]Processor, error)
	GetProcessor(ctx context.Context, id int64) (*Processor, error)

	// Field mappings: processor id → (source header → standard field).
	FieldMappings(ctx context.Context) (map[int64]map[string]string, error)

	// Merchants. UpsertMerchant is additive: blank fields on m never
	// overwrite non-blank stored values.
	GetMerchant(ctx context.Context, mid string) (*Merchant, error)
	UpsertMerchant(ctx context.Context, m Merchant) error
	SetMerchantBranch(ctx context.Context, mid, branchID string) error

	// Monthly data. Upsert keys on (mid, processor, month).
	UpsertMonthlyData(ctx context.Context, rec MonthlyDataRecord) error
	ListMonthlyData(ctx context.Context, month string) ([]MonthlyDataRecord, error)
	CountMonthlyData(ctx context.Context, month string, processorID int64) (int, error)
	DeleteMonthlyData(ctx context.Context, id int64) error

	// Master dataset (derived). Upsert keys on (mid, month).
	UpsertMasterRecord(ctx context.Context, rec MasterDatasetRecord) error
	ListMasterRecords(ctx context.Context, month string) ([]MasterDatasetRecord, error)
	SetMasterStatus(ctx context.Context, mid, month, status string) error
	SetMasterStatusForMonth(ctx context.Context, month, status string) (int, error)

	// Role assignments, keyed by (mid, month). CreateAssignment returns
	// ErrDuplicate when a row for the pair already exists.
	GetAssignment(ctx context.Context, mid, month string) (*RoleAssignment, error)
	ListAssignments(ctx context.Context, month string) ([]RoleAssignment, error)
	ListAllAssignments(ctx context.Context) ([]RoleAssignment, error)
	CreateAssignment(ctx context.Context, a RoleAssignment) error
	SetAssignmentStatus(ctx context.Context, mid, month, status string) error
	DeleteAssignment(ctx context.Context, id int64) error
	// EnsureAssignmentUniqueness installs the UNIQUE (mid, month) constraint.
	// Best effort: "already exists" is not an error.
	EnsureAssignmentUniqueness(ctx context.Context) error

	// Audit issues, keyed by (month, entityID, issueType).
	GetAuditIssue(ctx context.Context, month, entityID, issueType string) (*AuditIssue, error)
	CreateAuditIssue(ctx context.Context, issue AuditIssue) error
	DeleteAuditIssue(ctx context.Context, month, entityID, issueType string) error

	// Upload progress, keyed by (month, processorID).
	GetProgress(ctx context.Context, month string, processorID int64) (*UploadProgress, error)
	UpsertProgress(ctx context.Context, p UploadProgress) error
	ListProgress(ctx context.Context, month string) ([]UploadProgress, error)
}
