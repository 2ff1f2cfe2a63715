package residuals

import (
	"fmt"
	"time"
)

// Assignment statuses for master dataset and role assignment rows.
const (
	StatusPending          = "pending"
	StatusAssigned         = "assigned"
	StatusApproved         = "approved"
	StatusNeedsRevision    = "needs_revision"
	StatusValidationFailed = "validation_failed"
	StatusAutoPopulated    = "auto_populated"
)

// Role types for the five split slots.
const (
	RoleRep          = "rep"
	RolePartner      = "partner"
	RoleSalesManager = "sales_manager"
	RoleCompany      = "company"
	RoleAssociation  = "association"
)

// Upload/stage tracker statuses.
const (
	StageNeedsUpload = "needs_upload"
	StageUploaded    = "uploaded"
	StageValidated   = "validated"
	StagePending     = "pending"
	StageCompiled    = "compiled"
	StageAssigned    = "assigned"
	StagePassed      = "passed"
	StageFailed      = "failed"
	StageError       = "error"
)

// AuditIssue types and severities.
const (
	IssueInvalidSplit = "invalid_split"

	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// SplitTolerance is the allowed deviation from a 100% split total.
const SplitTolerance = 0.01

// Processor is static reference data describing an upstream residual source.
type Processor struct {
	ID     int64
	Name   string
	Active bool
}

// Merchant is one payment-processing account, keyed by MID.
// Fields are enriched additively: blanks never overwrite known values.
type Merchant struct {
	MID               string
	LegalName         string
	DBA               string
	ProcessorOfRecord string
	BranchID          string
	PartnerType       string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// MonthlyDataRecord is one processor's revenue line for one merchant in one
// month. (MID, ProcessorID, Month) is the natural key; re-uploads upsert.
type MonthlyDataRecord struct {
	ID           int64
	MID          string
	ProcessorID  int64
	Month        string // YYYY-MM
	BatchID      string
	Transactions float64
	SalesVolume  float64
	GrossIncome  float64
	Expenses     float64
	NetRevenue   float64
	BasisPoints  float64
	RepNet       float64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// MasterDatasetRecord is the derived canonical row per (MID, month). It is
// rebuilt by the cross-reference compiler and is always safe to recompute.
type MasterDatasetRecord struct {
	MID              string
	Month            string
	MerchantName     string
	DBA              string
	ProcessorName    string
	BranchID         string
	PartnerType      string
	SalesVolume      float64
	NetRevenue       float64
	AssignmentStatus string
	CompiledAt       time.Time
}

// RoleSlot is one optional (username, percentage) pair on an assignment.
type RoleSlot struct {
	UserName   string
	Percentage float64
}

// RoleAssignment holds the split for one MID in one month. Up to five slots;
// a nil slot means the role is not part of the split.
type RoleAssignment struct {
	ID                 int64
	MID                string
	Month              string
	Rep                *RoleSlot
	Partner            *RoleSlot
	SalesManager       *RoleSlot
	Company            *RoleSlot
	Association        *RoleSlot
	OriginalColumnI    string
	FirstAssignedMonth string
	AssignmentStatus   string
	CreatedAt          time.Time
	LastUpdated        time.Time
}

// Slot returns the slot for a role type, or nil.
func (a *RoleAssignment) Slot(roleType string) *RoleSlot {
	switch roleType {
	case RoleRep:
		return a.Rep
	case RolePartner:
		return a.Partner
	case RoleSalesManager:
		return a.SalesManager
	case RoleCompany:
		return a.Company
	case RoleAssociation:
		return a.Association
	}
	return nil
}

// SetSlot installs a slot for a role type.
func (a *RoleAssignment) SetSlot(roleType string, slot RoleSlot) error {
	switch roleType {
	case RoleRep:
		a.Rep = &slot
	case RolePartner:
		a.Partner = &slot
	case RoleSalesManager:
		a.SalesManager = &slot
	case RoleCompany:
		a.Company = &slot
	case RoleAssociation:
		a.Association = &slot
	default:
		return fmt.Errorf("unknown role type %q", roleType)
	}
	return nil
}

// Slots returns the populated slots keyed by role type.
func (a *RoleAssignment) Slots() map[string]RoleSlot {
	out := make(map[string]RoleSlot, 5)
	for _, rt := range []string{RoleRep, RolePartner, RoleSalesManager, RoleCompany, RoleAssociation} {
		if s := a.Slot(rt); s != nil {
			out[rt] = *s
		}
	}
	return out
}

// UploadProgress tracks how far a (month, processor) pair has moved through
// the pipeline. Each field is an independent stage status.
type UploadProgress struct {
	Month             string
	ProcessorID       int64
	UploadStatus      string // needs_upload → uploaded → validated | error
	LeadSheetStatus   string // needs_upload → uploaded → validated | error
	CompilationStatus string // pending → compiled | error
	AssignmentStatus  string // pending → assigned | error
	AuditStatus       string // pending → passed | failed
	UpdatedAt         time.Time
}

// AuditIssue records an integrity violation for asynchronous human review.
// (Month, EntityID, IssueType) is the natural key.
type AuditIssue struct {
	ID          string // uuid
	Month       string
	EntityID    string // MID
	IssueType   string
	Severity    string
	Description string
	Status      string
	CreatedAt   time.Time
}

// ValidMonth reports whether s is a YYYY-MM month key.
func ValidMonth(s string) bool {
	_, err := time.Parse("2006-01", s)
	return err == nil
}

// PrevMonth returns the month immediately before m (both YYYY-MM).
func PrevMonth(m string) (string, error) {
	t, err := time.Parse("2006-01", m)
	if err != nil {
		return "", fmt.Errorf("invalid month %q: %w", m, err)
	}
	return t.AddDate(0, -1, 0).Format("2006-01"), nil
}
