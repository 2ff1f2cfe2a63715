package residuals

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Compiler builds the master dataset: one canonical row per (MID, month),
// derived from monthly data joined to merchants and processors. Always safe
// to recompute; it never carries independent state.
type Compiler struct {
	store Store
}

func NewCompiler(store Store) *Compiler {
	return &Compiler{store: store}
}

// CompileResult summarizes one compiler run.
type CompileResult struct {
	MatchedRecords   int      `json:"matchedRecords"`
	UnmatchedRecords int      `json:"unmatchedRecords"`
	BranchBackfills  int      `json:"branchBackfills"`
	Errors           []string `json:"errors,omitempty"`
}

// CompileMonth upserts a MasterDatasetRecord for every monthly data row in
// the month. Multiple processors feeding the same MID overwrite in turn: last
// writer wins on financial totals and processor attribution; this is a
// replace, not an aggregation. Rows are processed independently, so one bad
// row is reported and the rest continue.
func (c *Compiler) CompileMonth(ctx context.Context, month string) (*CompileResult, error) {
	records, err := c.store.ListMonthlyData(ctx, month)
	if err != nil {
		return nil, fmt.Errorf("list monthly data: %w", err)
	}
	procs, err := c.store.ListProcessors(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("list processors: %w", err)
	}
	procNames := make(map[int64]string, len(procs))
	for _, p := range procs {
		procNames[p.ID] = p.Name
	}

	res := &CompileResult{}
	for _, rec := range records {
		merchant, err := c.store.GetMerchant(ctx, rec.MID)
		if err == ErrNotFound {
			res.UnmatchedRecords++
			res.Errors = append(res.Errors, fmt.Sprintf("mid %s: no merchant on roster", rec.MID))
			continue
		}
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("mid %s: %v", rec.MID, err))
			continue
		}

		status := StatusPending
		var assignment *RoleAssignment
		if existing, err := c.store.GetAssignment(ctx, rec.MID, month); err == nil && existing != nil {
			assignment = existing
			status = existing.AssignmentStatus
		}

		// rep_net is derived: the rep slot's share of the row's net revenue,
		// recomputed on every compile so it tracks assignment changes.
		repNet := 0.0
		if assignment != nil && assignment.Rep != nil {
			repNet = decimal.NewFromFloat(rec.NetRevenue).
				Mul(decimal.NewFromFloat(assignment.Rep.Percentage)).
				Div(decimal.NewFromInt(100)).Round(2).InexactFloat64()
		}
		if rec.RepNet != repNet {
			rec.RepNet = repNet
			if err := c.store.UpsertMonthlyData(ctx, rec); err != nil {
				res.Errors = append(res.Errors, fmt.Sprintf("mid %s: rep net: %v", rec.MID, err))
			}
		}

		master := MasterDatasetRecord{
			MID:              rec.MID,
			Month:            month,
			MerchantName:     merchant.LegalName,
			DBA:              merchant.DBA,
			ProcessorName:    procNames[rec.ProcessorID],
			BranchID:         merchant.BranchID,
			PartnerType:      merchant.PartnerType,
			SalesVolume:      roundMoney(rec.SalesVolume),
			NetRevenue:       roundMoney(rec.NetRevenue),
			AssignmentStatus: status,
			CompiledAt:       time.Now(),
		}
		if err := c.store.UpsertMasterRecord(ctx, master); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("mid %s: upsert master: %v", rec.MID, err))
			continue
		}
		res.MatchedRecords++
	}

	n, err := c.backfillBranches(ctx, month)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("branch backfill: %v", err))
	}
	res.BranchBackfills = n
	return res, nil
}

// backfillBranches copies a branch id from master rows onto merchants that
// have none. Monotonic enrichment only: a merchant with a branch id is never
// overwritten.
func (c *Compiler) backfillBranches(ctx context.Context, month string) (int, error) {
	masters, err := c.store.ListMasterRecords(ctx, month)
	if err != nil {
		return 0, err
	}
	filled := 0
	for _, m := range masters {
		if m.BranchID == "" {
			continue
		}
		merchant, err := c.store.GetMerchant(ctx, m.MID)
		if err != nil {
			continue
		}
		if merchant.BranchID != "" {
			continue
		}
		if err := c.store.SetMerchantBranch(ctx, m.MID, m.BranchID); err != nil {
			return filled, err
		}
		filled++
	}
	return filled, nil
}

// roundMoney normalizes a financial amount to cents so repeated compiles of
// identical input stay byte-identical.
func roundMoney(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}
