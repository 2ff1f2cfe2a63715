package residuals

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// CarryForwardResult reports one carry-forward run.
type CarryForwardResult struct {
	Carried int      `json:"carried"`
	NewMIDs []string `json:"newMids"`
}

// CarryForward copies the prior month's role assignments onto MIDs that have
// monthly activity this month but no assignment yet. It never touches an
// assignment already entered for the target month; MIDs with no prior-month
// assignment are reported as new and left pending.
func CarryForward(ctx context.Context, store Store, month string) (*CarryForwardResult, error) {
	prev, err := PrevMonth(month)
	if err != nil {
		return nil, err
	}
	prior, err := store.ListAssignments(ctx, prev)
	if err != nil {
		return nil, fmt.Errorf("list prior assignments: %w", err)
	}
	priorByMID := make(map[string]RoleAssignment, len(prior))
	for _, a := range prior {
		priorByMID[a.MID] = a
	}

	masters, err := store.ListMasterRecords(ctx, month)
	if err != nil {
		return nil, fmt.Errorf("list master records: %w", err)
	}

	res := &CarryForwardResult{}
	for _, m := range masters {
		existing, err := store.GetAssignment(ctx, m.MID, month)
		if err != nil && err != ErrNotFound {
			return res, err
		}
		if existing != nil {
			continue
		}
		src, ok := priorByMID[m.MID]
		if !ok {
			res.NewMIDs = append(res.NewMIDs, m.MID)
			continue
		}
		clone := src
		clone.ID = 0
		clone.Month = month
		clone.AssignmentStatus = StatusAutoPopulated
		clone.CreatedAt = time.Now()
		clone.LastUpdated = time.Now()
		if clone.FirstAssignedMonth == "" {
			clone.FirstAssignedMonth = src.Month
		}
		if err := store.CreateAssignment(ctx, clone); err != nil {
			if err == ErrDuplicate {
				// Raced with a manual assignment; the user's row wins.
				continue
			}
			return res, fmt.Errorf("carry forward %s: %w", m.MID, err)
		}
		if err := store.SetMasterStatus(ctx, m.MID, month, StatusAutoPopulated); err != nil {
			return res, err
		}
		res.Carried++
	}
	sort.Strings(res.NewMIDs)
	return res, nil
}
