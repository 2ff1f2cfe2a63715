package residuals

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Engine is the reconciliation-and-assignment service. It holds only a
// storage handle plus the stateless components built on it, so tests can
// substitute an in-memory store.
type Engine struct {
	store    Store
	tracker  *Tracker
	compiler *Compiler
}

func NewEngine(store Store) *Engine {
	return &Engine{
		store:    store,
		tracker:  NewTracker(store),
		compiler: NewCompiler(store),
	}
}

// Store exposes the underlying store (jobs and handlers occasionally need it).
func (e *Engine) Store() Store { return e.store }

// ErrAlreadyAssigned is returned when a MID already has an assignment for the
// target month; the existing row must be deleted first.
var ErrAlreadyAssigned = errors.New("assignment already exists for this MID and month")

// ErrInvalidMonth is returned for month keys that are not YYYY-MM.
var ErrInvalidMonth = errors.New("month must be formatted YYYY-MM")

// ErrUnknownAction is returned for a QC action other than approve/reject.
var ErrUnknownAction = errors.New("unknown qc action (want approve or reject)")

// SplitTotalError reports a rejected assignment whose percentages do not sum
// to 100 within tolerance.
type SplitTotalError struct {
	Total decimal.Decimal
}

func (e *SplitTotalError) Error() string {
	return fmt.Sprintf("percentages sum to %s, expected 100 (±%.2f)", e.Total.StringFixed(2), SplitTolerance)
}

// UploadResult is the outcome of ingesting one processor file.
type UploadResult struct {
	FileName    string     `json:"fileName"`
	BatchID     string     `json:"batchId"`
	ProcessorID int64      `json:"processorId"`
	RecordCount int        `json:"recordCount"`
	Status      string     `json:"status"`
	RowErrors   []RowError `json:"rowErrors,omitempty"`
	Warnings    []string   `json:"warnings,omitempty"`
}

// LeadSheetResult is the outcome of ingesting the roster file.
type LeadSheetResult struct {
	FileName    string     `json:"fileName"`
	Merchants   int        `json:"merchants"`
	Parsed      int        `json:"parsedAssignments"`
	Unparseable int        `json:"unparseable"`
	RowErrors   []RowError `json:"rowErrors,omitempty"`
}

// RoleInput is one requested role slot on a manual assignment.
type RoleInput struct {
	RoleType   string  `json:"roleType"`
	UserName   string  `json:"userName"`
	Percentage float64 `json:"percentage"`
}

// AutoPopulateResult combines carry-forward counts with the validation sweep
// that always follows it.
type AutoPopulateResult struct {
	CarryForwardResult
	Validation ValidationSummary `json:"validation"`
}

// MIDAssignment annotates a MID with its current role slots, if any.
type MIDAssignment struct {
	MID          string              `json:"mid"`
	MerchantName string              `json:"merchantName"`
	Status       string              `json:"status,omitempty"`
	Slots        map[string]RoleSlot `json:"slots,omitempty"`
	SourceMonth  string              `json:"sourceMonth,omitempty"`
}

// UnassignedResult partitions a month's unassigned MIDs.
type UnassignedResult struct {
	NewUnassigned      []MIDAssignment `json:"newUnassigned"`
	PreviouslyAssigned []MIDAssignment `json:"previouslyAssigned"`
}

// InitializeMonth seeds or refreshes the stage tracker for every active
// processor.
func (e *Engine) InitializeMonth(ctx context.Context, month string) (int, error) {
	if !ValidMonth(month) {
		return 0, ErrInvalidMonth
	}
	return e.tracker.InitializeMonth(ctx, month)
}

// Progress returns refreshed tracker rows for the month.
func (e *Engine) Progress(ctx context.Context, month string) ([]UploadProgress, error) {
	if !ValidMonth(month) {
		return nil, ErrInvalidMonth
	}
	return e.tracker.Progress(ctx, month)
}

// IngestProcessorFile field-maps and stores one processor's monthly export.
// rows[0] must be the header row. Bad rows are reported, not fatal.
func (e *Engine) IngestProcessorFile(ctx context.Context, month string, processorID int64, fileName string, rows [][]string) (*UploadResult, error) {
	if !ValidMonth(month) {
		return nil, ErrInvalidMonth
	}
	proc, err := e.store.GetProcessor(ctx, processorID)
	if err != nil {
		return nil, fmt.Errorf("processor %d: %w", processorID, err)
	}
	if len(rows) < 2 {
		return nil, errors.New("file has no data rows (header row required)")
	}
	mappings, err := e.store.FieldMappings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load field mappings: %w", err)
	}
	mapped := NewFieldMapper(mappings).MapRows(processorID, rows[0], rows[1:])

	batchID := uuid.New().String()
	res := &UploadResult{
		FileName:    fileName,
		BatchID:     batchID,
		ProcessorID: mapped.ProcessorID,
		RowErrors:   mapped.RowErrors,
		Warnings:    mapped.Warnings,
	}
	err = e.store.WithTx(ctx, func(ctx context.Context) error {
		now := time.Now()
		for _, rec := range mapped.Records {
			merchant := Merchant{
				MID:               rec.MID,
				LegalName:         rec.MerchantName,
				DBA:               rec.MerchantDBA,
				ProcessorOfRecord: proc.Name,
				BranchID:          rec.BranchID,
				PartnerType:       rec.PartnerID,
				CreatedAt:         now,
				UpdatedAt:         now,
			}
			if err := e.store.UpsertMerchant(ctx, merchant); err != nil {
				return fmt.Errorf("upsert merchant %s: %w", rec.MID, err)
			}
			expenses := rec.Interchange + rec.ProcessingFees + rec.OtherFees
			net := rec.NetRevenue
			if net == 0 && rec.GrossRevenue != 0 {
				net = rec.GrossRevenue - expenses
			}
			monthly := MonthlyDataRecord{
				MID:          rec.MID,
				ProcessorID:  mapped.ProcessorID,
				Month:        month,
				BatchID:      batchID,
				Transactions: rec.Transactions,
				SalesVolume:  rec.Volume,
				GrossIncome:  rec.GrossRevenue,
				Expenses:     expenses,
				NetRevenue:   net,
				BasisPoints:  basisPoints(net, rec.Volume),
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			if err := e.store.UpsertMonthlyData(ctx, monthly); err != nil {
				return fmt.Errorf("upsert monthly data %s: %w", rec.MID, err)
			}
			res.RecordCount++
		}
		return nil
	})
	if err != nil {
		res.Status = StageError
		if terr := e.tracker.MarkStage(ctx, month, mapped.ProcessorID, "upload", StageError); terr != nil {
			return res, terr
		}
		return res, err
	}
	res.Status = StageValidated
	if err := e.tracker.MarkStage(ctx, month, mapped.ProcessorID, "upload", StageValidated); err != nil {
		return res, err
	}
	return res, nil
}

// leadSheetFields maps normalized roster headers to roster fields.
var leadSheetFields = map[string]string{
	"mid":           "mid",
	"merchant id":   "mid",
	"merchant name": "name",
	"legal name":    "name",
	"dba":           "dba",
	"dba name":      "dba",
	"processor":     "processor",
	"branch":        "branch",
	"branch id":     "branch",
	"partner type":  "partnerType",
	"column i":      "columnI",
	"splits":        "columnI",
	"split notes":   "columnI",
}

// IngestLeadSheet ingests the roster: merchants are enriched additively, and
// rows carrying Column I text for a MID with no assignment yet this month are
// parsed into an assignment with the original text preserved.
func (e *Engine) IngestLeadSheet(ctx context.Context, month, fileName string, rows [][]string) (*LeadSheetResult, error) {
	if !ValidMonth(month) {
		return nil, ErrInvalidMonth
	}
	if len(rows) < 2 {
		return nil, errors.New("file has no data rows (header row required)")
	}
	cols := make(map[string]int)
	for i, h := range rows[0] {
		key := strings.ToLower(strings.TrimSpace(h))
		if f, ok := leadSheetFields[key]; ok {
			cols[f] = i
		}
	}
	if _, ok := cols["mid"]; !ok {
		return nil, errors.New("lead sheet is missing a MID column")
	}
	cell := func(row []string, field string) string {
		i, ok := cols[field]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	res := &LeadSheetResult{FileName: fileName}
	err := e.store.WithTx(ctx, func(ctx context.Context) error {
		now := time.Now()
		for i, row := range rows[1:] {
			mid := cell(row, "mid")
			if mid == "" {
				res.RowErrors = append(res.RowErrors, RowError{Row: i + 2, Error: "missing MID"})
				continue
			}
			merchant := Merchant{
				MID:               mid,
				LegalName:         cell(row, "name"),
				DBA:               cell(row, "dba"),
				ProcessorOfRecord: cell(row, "processor"),
				BranchID:          cell(row, "branch"),
				PartnerType:       cell(row, "partnerType"),
				CreatedAt:         now,
				UpdatedAt:         now,
			}
			if err := e.store.UpsertMerchant(ctx, merchant); err != nil {
				return fmt.Errorf("upsert merchant %s: %w", mid, err)
			}
			res.Merchants++

			columnI := cell(row, "columnI")
			if columnI == "" {
				continue
			}
			if existing, err := e.store.GetAssignment(ctx, mid, month); err == nil && existing != nil {
				continue
			} else if err != nil && err != ErrNotFound {
				return err
			}
			parsed := ParseColumnI(columnI)
			if len(parsed) == 0 {
				res.Unparseable++
				continue
			}
			assignment := RoleAssignment{
				MID:                mid,
				Month:              month,
				OriginalColumnI:    columnI,
				FirstAssignedMonth: month,
				AssignmentStatus:   StatusAssigned,
				CreatedAt:          now,
				LastUpdated:        now,
			}
			for _, p := range parsed {
				if err := assignment.SetSlot(p.RoleType, RoleSlot{UserName: p.UserName, Percentage: p.Percentage}); err != nil {
					return err
				}
			}
			if err := e.store.CreateAssignment(ctx, assignment); err != nil {
				return fmt.Errorf("assignment %s: %w", mid, err)
			}
			res.Parsed++
		}
		return nil
	})
	if err != nil {
		if terr := e.tracker.MarkMonthStage(ctx, month, "lead_sheet", StageError); terr != nil {
			return res, terr
		}
		return res, err
	}
	if err := e.tracker.MarkMonthStage(ctx, month, "lead_sheet", StageValidated); err != nil {
		return res, err
	}
	return res, nil
}

// CompileMonth runs the cross-reference compiler and records the stage.
func (e *Engine) CompileMonth(ctx context.Context, month string) (*CompileResult, error) {
	if !ValidMonth(month) {
		return nil, ErrInvalidMonth
	}
	res, err := e.compiler.CompileMonth(ctx, month)
	if err != nil {
		if terr := e.tracker.MarkMonthStage(ctx, month, "compilation", StageError); terr != nil {
			return res, terr
		}
		return res, err
	}
	if err := e.tracker.MarkMonthStage(ctx, month, "compilation", StageCompiled); err != nil {
		return res, err
	}
	return res, nil
}

// AutoPopulate carries prior-month assignments forward, then re-validates.
func (e *Engine) AutoPopulate(ctx context.Context, month string) (*AutoPopulateResult, error) {
	if !ValidMonth(month) {
		return nil, ErrInvalidMonth
	}
	res := &AutoPopulateResult{}
	err := e.store.WithTx(ctx, func(ctx context.Context) error {
		cf, err := CarryForward(ctx, e.store, month)
		if err != nil {
			return err
		}
		res.CarryForwardResult = *cf
		summary, err := ValidateSplits(ctx, e.store, month)
		if err != nil {
			return err
		}
		res.Validation = *summary
		return nil
	})
	if err != nil {
		return res, err
	}
	if err := e.tracker.MarkMonthStage(ctx, month, "assignment", StageAssigned); err != nil {
		return res, err
	}
	return res, e.markAuditStage(ctx, month, res.Validation)
}

// ValidateSplits runs the split validator sweep alone.
func (e *Engine) ValidateSplits(ctx context.Context, month string) (*ValidationSummary, error) {
	if !ValidMonth(month) {
		return nil, ErrInvalidMonth
	}
	var summary *ValidationSummary
	err := e.store.WithTx(ctx, func(ctx context.Context) error {
		s, err := ValidateSplits(ctx, e.store, month)
		summary = s
		return err
	})
	if err != nil {
		return summary, err
	}
	return summary, e.markAuditStage(ctx, month, *summary)
}

func (e *Engine) markAuditStage(ctx context.Context, month string, summary ValidationSummary) error {
	status := StagePassed
	if summary.Failed > 0 {
		status = StageFailed
	}
	return e.tracker.MarkMonthStage(ctx, month, "audit", status)
}

// AssignRoles creates the manual assignment for a MID. The split must total
// 100 within tolerance, and the MID must not already be assigned for the
// month; there is no update-in-place on this path.
func (e *Engine) AssignRoles(ctx context.Context, mid, month string, inputs []RoleInput) error {
	if !ValidMonth(month) {
		return ErrInvalidMonth
	}
	if mid == "" || len(inputs) == 0 {
		return errors.New("mid and at least one role assignment are required")
	}
	total := decimal.Zero
	for _, in := range inputs {
		total = total.Add(decimal.NewFromFloat(in.Percentage))
	}
	if !SplitTotalOK(total) {
		return &SplitTotalError{Total: total}
	}
	return e.store.WithTx(ctx, func(ctx context.Context) error {
		existing, err := e.store.GetAssignment(ctx, mid, month)
		if err != nil && err != ErrNotFound {
			return err
		}
		if existing != nil {
			return ErrAlreadyAssigned
		}
		now := time.Now()
		assignment := RoleAssignment{
			MID:                mid,
			Month:              month,
			FirstAssignedMonth: month,
			AssignmentStatus:   StatusAssigned,
			CreatedAt:          now,
			LastUpdated:        now,
		}
		for _, in := range inputs {
			if err := assignment.SetSlot(in.RoleType, RoleSlot{UserName: in.UserName, Percentage: in.Percentage}); err != nil {
				return err
			}
		}
		if err := e.store.CreateAssignment(ctx, assignment); err != nil {
			if err == ErrDuplicate {
				return ErrAlreadyAssigned
			}
			return err
		}
		if err := e.store.SetMasterStatus(ctx, mid, month, StatusAssigned); err != nil && err != ErrNotFound {
			return err
		}
		// Resweep so the audit ledger reflects the write immediately.
		_, err = ValidateSplits(ctx, e.store, month)
		return err
	})
}

// UnassignedMIDs partitions the month's unassigned MIDs into those never
// assigned in any month and those with a prior-month assignment (annotated
// with the most recent prior slots).
func (e *Engine) UnassignedMIDs(ctx context.Context, month string) (*UnassignedResult, error) {
	if !ValidMonth(month) {
		return nil, ErrInvalidMonth
	}
	masters, err := e.store.ListMasterRecords(ctx, month)
	if err != nil {
		return nil, err
	}
	all, err := e.store.ListAllAssignments(ctx)
	if err != nil {
		return nil, err
	}
	current := make(map[string]bool)
	latestPrior := make(map[string]*RoleAssignment)
	for i := range all {
		a := &all[i]
		if a.Month == month {
			current[a.MID] = true
			continue
		}
		if a.Month > month {
			continue
		}
		if best, ok := latestPrior[a.MID]; !ok || a.Month > best.Month {
			latestPrior[a.MID] = a
		}
	}

	res := &UnassignedResult{}
	for _, m := range masters {
		if current[m.MID] {
			continue
		}
		entry := MIDAssignment{MID: m.MID, MerchantName: m.MerchantName, Status: m.AssignmentStatus}
		if prior, ok := latestPrior[m.MID]; ok {
			entry.Slots = prior.Slots()
			entry.SourceMonth = prior.Month
			res.PreviouslyAssigned = append(res.PreviouslyAssigned, entry)
		} else {
			res.NewUnassigned = append(res.NewUnassigned, entry)
		}
	}
	sort.Slice(res.NewUnassigned, func(i, j int) bool { return res.NewUnassigned[i].MID < res.NewUnassigned[j].MID })
	sort.Slice(res.PreviouslyAssigned, func(i, j int) bool { return res.PreviouslyAssigned[i].MID < res.PreviouslyAssigned[j].MID })
	return res, nil
}

// CompletedMIDs returns MIDs whose assignment for the month totals 100.
func (e *Engine) CompletedMIDs(ctx context.Context, month string) ([]MIDAssignment, error) {
	if !ValidMonth(month) {
		return nil, ErrInvalidMonth
	}
	assignments, err := e.store.ListAssignments(ctx, month)
	if err != nil {
		return nil, err
	}
	var out []MIDAssignment
	for i := range assignments {
		a := &assignments[i]
		if !SplitTotalOK(SplitTotal(a)) {
			continue
		}
		entry := MIDAssignment{MID: a.MID, Status: a.AssignmentStatus, Slots: a.Slots(), SourceMonth: a.Month}
		if merchant, err := e.store.GetMerchant(ctx, a.MID); err == nil {
			entry.MerchantName = merchant.LegalName
		}
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MID < out[j].MID })
	return out, nil
}

// CleanupDuplicates collapses duplicate rows and installs the uniqueness
// constraint.
func (e *Engine) CleanupDuplicates(ctx context.Context, month string) (*CleanupReport, error) {
	if !ValidMonth(month) {
		return nil, ErrInvalidMonth
	}
	return CleanupDuplicates(ctx, e.store, month)
}

// DuplicateReport lists remaining same-processor duplicate monthly rows.
func (e *Engine) DuplicateReport(ctx context.Context, month string) ([]DuplicateGroup, error) {
	if !ValidMonth(month) {
		return nil, ErrInvalidMonth
	}
	return DuplicateReport(ctx, e.store, month)
}

// QCMonth bulk-approves or bulk-rejects the month's assignments.
func (e *Engine) QCMonth(ctx context.Context, month, action string) (int, error) {
	if !ValidMonth(month) {
		return 0, ErrInvalidMonth
	}
	var status string
	switch action {
	case "approve":
		status = StatusApproved
	case "reject":
		status = StatusNeedsRevision
	default:
		return 0, fmt.Errorf("%q: %w", action, ErrUnknownAction)
	}
	flipped := 0
	err := e.store.WithTx(ctx, func(ctx context.Context) error {
		n, err := e.store.SetMasterStatusForMonth(ctx, month, status)
		if err != nil {
			return err
		}
		flipped = n
		assignments, err := e.store.ListAssignments(ctx, month)
		if err != nil {
			return err
		}
		for _, a := range assignments {
			if err := e.store.SetAssignmentStatus(ctx, a.MID, month, status); err != nil {
				return err
			}
		}
		return nil
	})
	return flipped, err
}

// basisPoints expresses net revenue as basis points of sales volume.
func basisPoints(net, volume float64) float64 {
	if volume == 0 {
		return 0
	}
	return decimal.NewFromFloat(net).Div(decimal.NewFromFloat(volume)).
		Mul(decimal.NewFromInt(10000)).Round(2).InexactFloat64()
}
