package residuals

import (
	"context"
	"fmt"
	"sort"
)

// CleanupReport summarizes one duplicate-prevention run.
type CleanupReport struct {
	AssignmentsRemoved int      `json:"assignmentsRemoved"`
	AssignmentsKept    int      `json:"assignmentsKept"`
	MonthlyRemoved     int      `json:"monthlyRemoved"`
	MonthlyKept        int      `json:"monthlyKept"`
	ConstraintApplied  bool     `json:"constraintApplied"`
	Errors             []string `json:"errors,omitempty"`
}

// DuplicateGroup is one MID with more than one monthly data row in a month.
type DuplicateGroup struct {
	MID      string  `json:"mid"`
	Count    int     `json:"count"`
	KeptNet  float64 `json:"keptNet"`
	TotalNet float64 `json:"totalNet"`
}

// CleanupDuplicates collapses duplicate role-assignment and monthly-data rows
// and then installs the (mid, month) uniqueness constraint so duplicates fail
// at the store layer from then on. Rows are fixed independently; an error on
// one group is recorded and the rest proceed.
func CleanupDuplicates(ctx context.Context, store Store, month string) (*CleanupReport, error) {
	report := &CleanupReport{}

	if err := cleanupAssignmentDuplicates(ctx, store, report); err != nil {
		return report, err
	}
	if err := cleanupMonthlyDuplicates(ctx, store, month, report); err != nil {
		return report, err
	}

	// Best effort: the constraint may already exist.
	if err := store.EnsureAssignmentUniqueness(ctx); err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("uniqueness constraint: %v", err))
	} else {
		report.ConstraintApplied = true
	}
	return report, nil
}

// cleanupAssignmentDuplicates groups assignments by (mid, month) and keeps
// the most recently created row of each group.
func cleanupAssignmentDuplicates(ctx context.Context, store Store, report *CleanupReport) error {
	all, err := store.ListAllAssignments(ctx)
	if err != nil {
		return fmt.Errorf("list assignments: %w", err)
	}
	groups := make(map[string][]RoleAssignment)
	for _, a := range all {
		key := a.MID + "|" + a.Month
		groups[key] = append(groups[key], a)
	}
	for _, group := range groups {
		if len(group) < 2 {
			continue
		}
		sort.Slice(group, func(i, j int) bool {
			if !group[i].CreatedAt.Equal(group[j].CreatedAt) {
				return group[i].CreatedAt.After(group[j].CreatedAt)
			}
			return group[i].ID > group[j].ID
		})
		report.AssignmentsKept++
		for _, dup := range group[1:] {
			if err := store.DeleteAssignment(ctx, dup.ID); err != nil {
				report.Errors = append(report.Errors, fmt.Sprintf("assignment %s/%s: %v", dup.MID, dup.Month, err))
				continue
			}
			report.AssignmentsRemoved++
		}
	}
	return nil
}

// cleanupMonthlyDuplicates groups a month's data rows by (mid, processor) and
// keeps the row with the highest net revenue, ties broken by most recent.
// Rows from different processors are legitimate multi-processor accounts and
// left alone.
func cleanupMonthlyDuplicates(ctx context.Context, store Store, month string, report *CleanupReport) error {
	records, err := store.ListMonthlyData(ctx, month)
	if err != nil {
		return fmt.Errorf("list monthly data: %w", err)
	}
	groups := make(map[string][]MonthlyDataRecord)
	for _, rec := range records {
		key := fmt.Sprintf("%s|%d", rec.MID, rec.ProcessorID)
		groups[key] = append(groups[key], rec)
	}
	for _, group := range groups {
		if len(group) < 2 {
			continue
		}
		sort.Slice(group, func(i, j int) bool {
			if group[i].NetRevenue != group[j].NetRevenue {
				return group[i].NetRevenue > group[j].NetRevenue
			}
			return group[i].CreatedAt.After(group[j].CreatedAt)
		})
		report.MonthlyKept++
		for _, dup := range group[1:] {
			if err := store.DeleteMonthlyData(ctx, dup.ID); err != nil {
				report.Errors = append(report.Errors, fmt.Sprintf("monthly %s: %v", dup.MID, err))
				continue
			}
			report.MonthlyRemoved++
		}
	}
	return nil
}

// DuplicateReport lists MIDs with more than one monthly data row for the
// same processor in the month. A MID fed by two different processors is a
// legitimate multi-processor account, not a duplicate, and is excluded so the
// report matches what CleanupDuplicates would actually remove.
func DuplicateReport(ctx context.Context, store Store, month string) ([]DuplicateGroup, error) {
	records, err := store.ListMonthlyData(ctx, month)
	if err != nil {
		return nil, err
	}
	byKey := make(map[string][]MonthlyDataRecord)
	for _, rec := range records {
		key := fmt.Sprintf("%s|%d", rec.MID, rec.ProcessorID)
		byKey[key] = append(byKey[key], rec)
	}
	var out []DuplicateGroup
	for _, group := range byKey {
		if len(group) < 2 {
			continue
		}
		g := DuplicateGroup{MID: group[0].MID, Count: len(group)}
		best := group[0]
		for _, rec := range group {
			g.TotalNet += rec.NetRevenue
			if rec.NetRevenue > best.NetRevenue {
				best = rec
			}
		}
		g.KeptNet = best.NetRevenue
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MID < out[j].MID })
	return out, nil
}
