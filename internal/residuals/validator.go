package residuals

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ValidationSummary reports one split-validation sweep.
type ValidationSummary struct {
	Checked       int `json:"checked"`
	Passed        int `json:"passed"`
	Failed        int `json:"failed"`
	IssuesOpened  int `json:"issuesOpened"`
	IssuesCleared int `json:"issuesCleared"`
}

// SplitTotal sums the populated percentage slots of an assignment.
func SplitTotal(a *RoleAssignment) decimal.Decimal {
	total := decimal.Zero
	for _, slot := range a.Slots() {
		total = total.Add(decimal.NewFromFloat(slot.Percentage))
	}
	return total
}

// SplitTotalOK reports whether total is within tolerance of 100.
func SplitTotalOK(total decimal.Decimal) bool {
	return total.Sub(decimal.NewFromInt(100)).Abs().
		LessThanOrEqual(decimal.NewFromFloat(SplitTolerance))
}

// ValidateSplits is the full reconciliation sweep over a month's assignments.
// A failing MID is flipped to validation_failed with exactly one open
// invalid_split issue; a passing MID clears its issue and, if it had failed
// before, is promoted back to assigned. Re-running after every write is safe.
func ValidateSplits(ctx context.Context, store Store, month string) (*ValidationSummary, error) {
	assignments, err := store.ListAssignments(ctx, month)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	summary := &ValidationSummary{}
	for i := range assignments {
		a := &assignments[i]
		summary.Checked++
		total := SplitTotal(a)
		if !SplitTotalOK(total) {
			summary.Failed++
			if a.AssignmentStatus != StatusValidationFailed {
				if err := setAssignmentAndMasterStatus(ctx, store, a.MID, month, StatusValidationFailed); err != nil {
					return summary, err
				}
			}
			opened, err := openSplitIssue(ctx, store, month, a.MID, total)
			if err != nil {
				return summary, err
			}
			if opened {
				summary.IssuesOpened++
			}
			continue
		}
		summary.Passed++
		existing, err := store.GetAuditIssue(ctx, month, a.MID, IssueInvalidSplit)
		if err != nil && err != ErrNotFound {
			return summary, err
		}
		if existing != nil {
			if err := store.DeleteAuditIssue(ctx, month, a.MID, IssueInvalidSplit); err != nil {
				return summary, err
			}
			summary.IssuesCleared++
		}
		if a.AssignmentStatus == StatusValidationFailed {
			if err := setAssignmentAndMasterStatus(ctx, store, a.MID, month, StatusAssigned); err != nil {
				return summary, err
			}
		}
	}
	return summary, nil
}

// openSplitIssue ensures exactly one invalid_split issue exists for the
// (month, MID) pair. An already-open issue is left untouched.
func openSplitIssue(ctx context.Context, store Store, month, mid string, total decimal.Decimal) (bool, error) {
	existing, err := store.GetAuditIssue(ctx, month, mid, IssueInvalidSplit)
	if err != nil && err != ErrNotFound {
		return false, err
	}
	if existing != nil {
		return false, nil
	}
	issue := AuditIssue{
		ID:          uuid.New().String(),
		Month:       month,
		EntityID:    mid,
		IssueType:   IssueInvalidSplit,
		Severity:    SeverityCritical,
		Description: fmt.Sprintf("role split totals %s%%, expected 100%%", total.StringFixed(2)),
		Status:      StatusPending,
		CreatedAt:   time.Now(),
	}
	if err := store.CreateAuditIssue(ctx, issue); err != nil {
		return false, err
	}
	return true, nil
}

func setAssignmentAndMasterStatus(ctx context.Context, store Store, mid, month, status string) error {
	if err := store.SetAssignmentStatus(ctx, mid, month, status); err != nil {
		return err
	}
	// The master row may not exist yet when assignments land before compile.
	if err := store.SetMasterStatus(ctx, mid, month, status); err != nil && err != ErrNotFound {
		return err
	}
	return nil
}
