package residuals

import (
	"context"
	"fmt"
	"time"
)

// Tracker maintains the per-(processor, month) stage state machine. Reads are
// refreshed against live record counts so displayed status cannot drift from
// the data actually in the store.
type Tracker struct {
	store Store
}

func NewTracker(store Store) *Tracker {
	return &Tracker{store: store}
}

// InitializeMonth seeds an UploadProgress row for every active processor not
// yet tracked for the month. Processors that already have monthly data are
// backfilled as validated/compiled/passed rather than needs_upload: the
// tracker reflects data state, not event history.
func (t *Tracker) InitializeMonth(ctx context.Context, month string) (int, error) {
	procs, err := t.store.ListProcessors(ctx, true)
	if err != nil {
		return 0, fmt.Errorf("list processors: %w", err)
	}
	seeded := 0
	for _, p := range procs {
		existing, err := t.store.GetProgress(ctx, month, p.ID)
		if err != nil && err != ErrNotFound {
			return seeded, err
		}
		if existing != nil {
			if err := t.refresh(ctx, existing); err != nil {
				return seeded, err
			}
			continue
		}
		prog := UploadProgress{
			Month:             month,
			ProcessorID:       p.ID,
			UploadStatus:      StageNeedsUpload,
			LeadSheetStatus:   StageNeedsUpload,
			CompilationStatus: StagePending,
			AssignmentStatus:  StagePending,
			AuditStatus:       StagePending,
			UpdatedAt:         time.Now(),
		}
		if err := t.backfillFromData(ctx, &prog); err != nil {
			return seeded, err
		}
		if err := t.store.UpsertProgress(ctx, prog); err != nil {
			return seeded, err
		}
		seeded++
	}
	return seeded, nil
}

// backfillFromData upgrades a fresh progress row when monthly data already
// exists for the (processor, month) pair.
func (t *Tracker) backfillFromData(ctx context.Context, prog *UploadProgress) error {
	n, err := t.store.CountMonthlyData(ctx, prog.Month, prog.ProcessorID)
	if err != nil {
		return fmt.Errorf("count monthly data: %w", err)
	}
	if n == 0 {
		return nil
	}
	prog.UploadStatus = StageValidated
	prog.CompilationStatus = StageCompiled
	prog.AuditStatus = StagePassed
	return nil
}

// refresh re-derives the upload stage from live counts. A row marked
// needs_upload while data exists is promoted. Demotion is not needed: the only
// delete path is duplicate cleanup, which always keeps one row per group, so a
// (processor, month) with data never drops back to zero.
func (t *Tracker) refresh(ctx context.Context, prog *UploadProgress) error {
	n, err := t.store.CountMonthlyData(ctx, prog.Month, prog.ProcessorID)
	if err != nil {
		return err
	}
	if n > 0 && prog.UploadStatus == StageNeedsUpload {
		prog.UploadStatus = StageValidated
		prog.UpdatedAt = time.Now()
		return t.store.UpsertProgress(ctx, *prog)
	}
	return nil
}

// MarkStage transitions one stage field for a (month, processor) pair.
func (t *Tracker) MarkStage(ctx context.Context, month string, processorID int64, stage, status string) error {
	prog, err := t.store.GetProgress(ctx, month, processorID)
	if err == ErrNotFound {
		prog = &UploadProgress{
			Month:             month,
			ProcessorID:       processorID,
			UploadStatus:      StageNeedsUpload,
			LeadSheetStatus:   StageNeedsUpload,
			CompilationStatus: StagePending,
			AssignmentStatus:  StagePending,
			AuditStatus:       StagePending,
		}
	} else if err != nil {
		return err
	}
	switch stage {
	case "upload":
		prog.UploadStatus = status
	case "lead_sheet":
		prog.LeadSheetStatus = status
	case "compilation":
		prog.CompilationStatus = status
	case "assignment":
		prog.AssignmentStatus = status
	case "audit":
		prog.AuditStatus = status
	default:
		return fmt.Errorf("unknown stage %q", stage)
	}
	prog.UpdatedAt = time.Now()
	return t.store.UpsertProgress(ctx, *prog)
}

// MarkMonthStage applies a stage transition to every tracked processor for
// the month (used by month-wide stages: compilation, assignment, audit).
func (t *Tracker) MarkMonthStage(ctx context.Context, month, stage, status string) error {
	rows, err := t.store.ListProgress(ctx, month)
	if err != nil {
		return err
	}
	for _, prog := range rows {
		if err := t.MarkStage(ctx, month, prog.ProcessorID, stage, status); err != nil {
			return err
		}
	}
	return nil
}

// Progress returns the refreshed tracker rows for a month.
func (t *Tracker) Progress(ctx context.Context, month string) ([]UploadProgress, error) {
	rows, err := t.store.ListProgress(ctx, month)
	if err != nil {
		return nil, err
	}
	for i := range rows {
		if err := t.refresh(ctx, &rows[i]); err != nil {
			return nil, err
		}
	}
	return rows, nil
}
