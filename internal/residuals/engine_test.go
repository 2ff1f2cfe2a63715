package residuals_test

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"IsoHubResiduals/internal/residuals"
	"IsoHubResiduals/internal/residuals/memstore"
)

var tsysMapping = map[string]string{
	"Merchant ID":   residuals.FieldMID,
	"Merchant Name": residuals.FieldMerchantName,
	"Volume":        residuals.FieldVolume,
	"Gross Revenue": residuals.FieldGrossRevenue,
	"Net Revenue":   residuals.FieldNetRevenue,
	"Branch":        residuals.FieldBranchID,
}

func newTestEngine() (*residuals.Engine, *memstore.Store) {
	st := memstore.New()
	st.SeedProcessor(residuals.Processor{ID: 1, Name: "TSYS", Active: true}, tsysMapping)
	st.SeedProcessor(residuals.Processor{ID: 2, Name: "Fiserv", Active: true}, map[string]string{
		"MID":        residuals.FieldMID,
		"Legal Name": residuals.FieldMerchantName,
		"Proc Vol":   residuals.FieldVolume,
		"Net Res":    residuals.FieldNetRevenue,
	})
	return residuals.NewEngine(st), st
}

func TestIngestProcessorFile(t *testing.T) {
	ctx := context.Background()
	eng, st := newTestEngine()
	month := "2025-04"

	rows := [][]string{
		{"Merchant ID", "Merchant Name", "Volume", "Gross Revenue", "Net Revenue"},
		{"M100", "Acme Vending", "1000", "", "50"},
		{"M101", "Beta Mart", "2000", "80", ""},
	}
	res, err := eng.IngestProcessorFile(ctx, month, 1, "tsys-april.csv", rows)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if res.RecordCount != 2 || res.Status != residuals.StageValidated || res.BatchID == "" {
		t.Fatalf("unexpected upload result: %+v", res)
	}

	merchant, err := st.GetMerchant(ctx, "M100")
	if err != nil || merchant.LegalName != "Acme Vending" || merchant.ProcessorOfRecord != "TSYS" {
		t.Errorf("merchant not enriched: %+v (%v)", merchant, err)
	}

	data, err := st.ListMonthlyData(ctx, month)
	if err != nil || len(data) != 2 {
		t.Fatalf("expected 2 monthly rows, got %d (%v)", len(data), err)
	}
	if data[0].MID != "M100" || data[0].NetRevenue != 50 || data[0].BasisPoints != 500 {
		t.Errorf("unexpected first row: %+v", data[0])
	}
	// Net falls back to gross minus expenses when the net column is blank.
	if data[1].MID != "M101" || data[1].NetRevenue != 80 {
		t.Errorf("unexpected net fallback: %+v", data[1])
	}

	prog, err := st.GetProgress(ctx, month, 1)
	if err != nil || prog.UploadStatus != residuals.StageValidated {
		t.Errorf("tracker not advanced: %+v (%v)", prog, err)
	}
}

func TestIngestLeadSheet(t *testing.T) {
	ctx := context.Background()
	eng, st := newTestEngine()
	month := "2025-04"

	if err := st.UpsertMerchant(ctx, residuals.Merchant{MID: "M2", LegalName: "Kept Name", BranchID: "BR-1"}); err != nil {
		t.Fatal(err)
	}
	rows := [][]string{
		{"MID", "Merchant Name", "Branch", "Column I"},
		{"M1", "Acme Vending", "BR-2", "Agent: Tom Brown 60%, Partner: Jane Smith 40%"},
		{"M2", "", "", "???"},
		{"M3", "Gamma Stop", "", ""},
	}
	res, err := eng.IngestLeadSheet(ctx, month, "leads.xlsx", rows)
	if err != nil {
		t.Fatal(err)
	}
	if res.Merchants != 3 || res.Parsed != 1 || res.Unparseable != 1 {
		t.Fatalf("unexpected lead sheet result: %+v", res)
	}

	a, err := st.GetAssignment(ctx, "M1", month)
	if err != nil {
		t.Fatal(err)
	}
	if a.AssignmentStatus != residuals.StatusAssigned || a.OriginalColumnI != "Agent: Tom Brown 60%, Partner: Jane Smith 40%" {
		t.Errorf("parsed assignment wrong: %+v", a)
	}
	if a.Rep.Percentage != 60 || a.Partner.Percentage != 40 {
		t.Errorf("slots wrong: %+v", a)
	}

	// Blank roster cells never erase known merchant fields.
	m2, err := st.GetMerchant(ctx, "M2")
	if err != nil || m2.LegalName != "Kept Name" || m2.BranchID != "BR-1" {
		t.Errorf("additive upsert violated: %+v (%v)", m2, err)
	}
}

func TestIngestRejectsInvalidMonth(t *testing.T) {
	eng, _ := newTestEngine()
	_, err := eng.IngestProcessorFile(context.Background(), "April 2025", 1, "f.csv", nil)
	if !errors.Is(err, residuals.ErrInvalidMonth) {
		t.Fatalf("expected ErrInvalidMonth, got %v", err)
	}
}

func TestInitializeMonthBackfillsFromData(t *testing.T) {
	ctx := context.Background()
	eng, st := newTestEngine()
	month := "2025-04"

	st.InsertMonthlyRaw(residuals.MonthlyDataRecord{MID: "M1", ProcessorID: 1, Month: month, NetRevenue: 10})

	seeded, err := eng.InitializeMonth(ctx, month)
	if err != nil || seeded != 2 {
		t.Fatalf("expected 2 seeded rows, got %d (%v)", seeded, err)
	}
	p1, err := st.GetProgress(ctx, month, 1)
	if err != nil {
		t.Fatal(err)
	}
	if p1.UploadStatus != residuals.StageValidated || p1.CompilationStatus != residuals.StageCompiled || p1.AuditStatus != residuals.StagePassed {
		t.Errorf("processor with data not backfilled: %+v", p1)
	}
	p2, err := st.GetProgress(ctx, month, 2)
	if err != nil {
		t.Fatal(err)
	}
	if p2.UploadStatus != residuals.StageNeedsUpload {
		t.Errorf("processor without data should start fresh: %+v", p2)
	}
}

func TestCompileMonthIdempotent(t *testing.T) {
	ctx := context.Background()
	eng, st := newTestEngine()
	month := "2025-04"

	rows := [][]string{
		{"Merchant ID", "Merchant Name", "Volume", "Gross Revenue", "Net Revenue"},
		{"M100", "Acme Vending", "1000", "", "50.005"},
		{"M101", "Beta Mart", "2000", "", "75.10"},
	}
	if _, err := eng.IngestProcessorFile(ctx, month, 1, "f.csv", rows); err != nil {
		t.Fatal(err)
	}
	if _, err := eng.CompileMonth(ctx, month); err != nil {
		t.Fatal(err)
	}
	first, err := st.ListMasterRecords(ctx, month)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := eng.CompileMonth(ctx, month); err != nil {
		t.Fatal(err)
	}
	second, err := st.ListMasterRecords(ctx, month)
	if err != nil {
		t.Fatal(err)
	}
	for i := range first {
		first[i].CompiledAt = time.Time{}
		second[i].CompiledAt = time.Time{}
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("recompile changed the master dataset:\n%+v\n%+v", first, second)
	}
}

func TestCompileMonthLastWriterWins(t *testing.T) {
	ctx := context.Background()
	eng, st := newTestEngine()
	month := "2025-04"

	if err := st.UpsertMerchant(ctx, residuals.Merchant{MID: "M1", LegalName: "Dual Feed Inc"}); err != nil {
		t.Fatal(err)
	}
	st.InsertMonthlyRaw(residuals.MonthlyDataRecord{MID: "M1", ProcessorID: 1, Month: month, NetRevenue: 100})
	st.InsertMonthlyRaw(residuals.MonthlyDataRecord{MID: "M1", ProcessorID: 2, Month: month, NetRevenue: 40})
	st.InsertMonthlyRaw(residuals.MonthlyDataRecord{MID: "M404", ProcessorID: 1, Month: month, NetRevenue: 5})

	res, err := eng.CompileMonth(ctx, month)
	if err != nil {
		t.Fatal(err)
	}
	if res.MatchedRecords != 2 || res.UnmatchedRecords != 1 {
		t.Fatalf("unexpected compile counts: %+v", res)
	}
	masters, err := st.ListMasterRecords(ctx, month)
	if err != nil || len(masters) != 1 {
		t.Fatalf("expected 1 master row, got %d (%v)", len(masters), err)
	}
	if masters[0].NetRevenue != 40 || masters[0].ProcessorName != "Fiserv" {
		t.Errorf("expected the later processor's row to win: %+v", masters[0])
	}

	// Two processors feeding one MID is legitimate: cleanup must not collapse
	// it and the duplicate report must not list it.
	report, err := eng.CleanupDuplicates(ctx, month)
	if err != nil || report.MonthlyRemoved != 0 {
		t.Fatalf("cross-processor rows should survive cleanup: %+v (%v)", report, err)
	}
	dups, err := eng.DuplicateReport(ctx, month)
	if err != nil || len(dups) != 0 {
		t.Errorf("cross-processor rows are not duplicates: %+v (%v)", dups, err)
	}
}

func TestCompileMonthDerivesRepNet(t *testing.T) {
	ctx := context.Background()
	eng, st := newTestEngine()
	month := "2025-04"

	if err := st.UpsertMerchant(ctx, residuals.Merchant{MID: "M1", LegalName: "Acme Vending"}); err != nil {
		t.Fatal(err)
	}
	st.InsertMonthlyRaw(residuals.MonthlyDataRecord{MID: "M1", ProcessorID: 1, Month: month, NetRevenue: 100})
	if err := st.CreateAssignment(ctx, residuals.RoleAssignment{
		MID: "M1", Month: month,
		Rep:              &residuals.RoleSlot{UserName: "Tom", Percentage: 60},
		Partner:          &residuals.RoleSlot{UserName: "Jane", Percentage: 40},
		AssignmentStatus: residuals.StatusAssigned,
	}); err != nil {
		t.Fatal(err)
	}

	if _, err := eng.CompileMonth(ctx, month); err != nil {
		t.Fatal(err)
	}
	data, err := st.ListMonthlyData(ctx, month)
	if err != nil || len(data) != 1 {
		t.Fatalf("expected 1 monthly row, got %d (%v)", len(data), err)
	}
	if data[0].RepNet != 60 {
		t.Fatalf("expected rep net 60 (60%% of 100), got %v", data[0].RepNet)
	}

	// Removing the assignment zeroes the derived value on the next compile.
	a, err := st.GetAssignment(ctx, "M1", month)
	if err != nil {
		t.Fatal(err)
	}
	if err := st.DeleteAssignment(ctx, a.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := eng.CompileMonth(ctx, month); err != nil {
		t.Fatal(err)
	}
	data, _ = st.ListMonthlyData(ctx, month)
	if data[0].RepNet != 0 {
		t.Errorf("expected rep net cleared without an assignment, got %v", data[0].RepNet)
	}
}

func TestAutoPopulateCarriesForward(t *testing.T) {
	ctx := context.Background()
	eng, st := newTestEngine()
	month, prev := "2025-04", "2025-03"

	prior := residuals.RoleAssignment{
		MID: "M1", Month: prev,
		Rep:                &residuals.RoleSlot{UserName: "Tom Brown", Percentage: 100},
		FirstAssignedMonth: "2025-01",
		AssignmentStatus:   residuals.StatusAssigned,
	}
	if err := st.CreateAssignment(ctx, prior); err != nil {
		t.Fatal(err)
	}
	manual := residuals.RoleAssignment{
		MID: "M3", Month: month,
		Rep:                &residuals.RoleSlot{UserName: "Manual Entry", Percentage: 100},
		FirstAssignedMonth: month,
		AssignmentStatus:   residuals.StatusAssigned,
	}
	if err := st.CreateAssignment(ctx, manual); err != nil {
		t.Fatal(err)
	}
	for _, mid := range []string{"M1", "M2", "M3"} {
		if err := st.UpsertMasterRecord(ctx, residuals.MasterDatasetRecord{MID: mid, Month: month, AssignmentStatus: residuals.StatusPending}); err != nil {
			t.Fatal(err)
		}
	}

	res, err := eng.AutoPopulate(ctx, month)
	if err != nil {
		t.Fatal(err)
	}
	if res.Carried != 1 {
		t.Errorf("expected 1 carried assignment, got %d", res.Carried)
	}
	if !reflect.DeepEqual(res.NewMIDs, []string{"M2"}) {
		t.Errorf("expected M2 reported as new, got %v", res.NewMIDs)
	}
	if res.Validation.Checked != 2 || res.Validation.Passed != 2 {
		t.Errorf("unexpected validation sweep: %+v", res.Validation)
	}

	carried, err := st.GetAssignment(ctx, "M1", month)
	if err != nil {
		t.Fatal(err)
	}
	if carried.AssignmentStatus != residuals.StatusAutoPopulated {
		t.Errorf("carried row should be auto_populated, got %q", carried.AssignmentStatus)
	}
	if carried.FirstAssignedMonth != "2025-01" {
		t.Errorf("first-assigned month must survive carry-forward, got %q", carried.FirstAssignedMonth)
	}
	if carried.Rep == nil || carried.Rep.UserName != "Tom Brown" || carried.Rep.Percentage != 100 {
		t.Errorf("slots not cloned: %+v", carried.Rep)
	}

	// The manual row for M3 is never overwritten.
	kept, err := st.GetAssignment(ctx, "M3", month)
	if err != nil {
		t.Fatal(err)
	}
	if kept.Rep.UserName != "Manual Entry" || kept.AssignmentStatus != residuals.StatusAssigned {
		t.Errorf("existing assignment was touched: %+v", kept)
	}

	// Re-running is a no-op.
	again, err := eng.AutoPopulate(ctx, month)
	if err != nil || again.Carried != 0 {
		t.Errorf("second run should carry nothing: %+v (%v)", again, err)
	}
}

func TestValidateSplitsSweep(t *testing.T) {
	ctx := context.Background()
	eng, st := newTestEngine()
	month := "2025-04"

	st.InsertAssignmentRaw(residuals.RoleAssignment{
		MID: "M1", Month: month,
		Rep:              &residuals.RoleSlot{UserName: "Tom", Percentage: 90},
		AssignmentStatus: residuals.StatusAssigned,
	})
	// M2 failed a previous sweep but its split has since been fixed.
	st.InsertAssignmentRaw(residuals.RoleAssignment{
		MID: "M2", Month: month,
		Rep:              &residuals.RoleSlot{UserName: "Jane", Percentage: 100},
		AssignmentStatus: residuals.StatusValidationFailed,
	})
	if err := st.CreateAuditIssue(ctx, residuals.AuditIssue{
		ID: "stale", Month: month, EntityID: "M2",
		IssueType: residuals.IssueInvalidSplit, Severity: residuals.SeverityCritical,
	}); err != nil {
		t.Fatal(err)
	}

	summary, err := eng.ValidateSplits(ctx, month)
	if err != nil {
		t.Fatal(err)
	}
	want := residuals.ValidationSummary{Checked: 2, Passed: 1, Failed: 1, IssuesOpened: 1, IssuesCleared: 1}
	if *summary != want {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	failed, _ := st.GetAssignment(ctx, "M1", month)
	if failed.AssignmentStatus != residuals.StatusValidationFailed {
		t.Errorf("expected M1 flipped to validation_failed, got %q", failed.AssignmentStatus)
	}
	issue, err := st.GetAuditIssue(ctx, month, "M1", residuals.IssueInvalidSplit)
	if err != nil || issue.Severity != residuals.SeverityCritical {
		t.Errorf("expected a critical invalid_split issue for M1: %+v (%v)", issue, err)
	}

	promoted, _ := st.GetAssignment(ctx, "M2", month)
	if promoted.AssignmentStatus != residuals.StatusAssigned {
		t.Errorf("expected M2 promoted back to assigned, got %q", promoted.AssignmentStatus)
	}
	if _, err := st.GetAuditIssue(ctx, month, "M2", residuals.IssueInvalidSplit); err != residuals.ErrNotFound {
		t.Errorf("expected M2's stale issue cleared, got %v", err)
	}

	// A second sweep finds the same failure but opens nothing new.
	again, err := eng.ValidateSplits(ctx, month)
	if err != nil {
		t.Fatal(err)
	}
	if again.Failed != 1 || again.IssuesOpened != 0 {
		t.Errorf("resweep must not duplicate issues: %+v", again)
	}
}

func TestCleanupDuplicates(t *testing.T) {
	ctx := context.Background()
	eng, st := newTestEngine()
	month := "2025-04"
	base := time.Date(2025, 4, 10, 0, 0, 0, 0, time.UTC)

	st.InsertAssignmentRaw(residuals.RoleAssignment{
		MID: "M1", Month: month, CreatedAt: base,
		Rep: &residuals.RoleSlot{UserName: "Old", Percentage: 100},
	})
	st.InsertAssignmentRaw(residuals.RoleAssignment{
		MID: "M1", Month: month, CreatedAt: base.Add(time.Hour),
		Rep: &residuals.RoleSlot{UserName: "New", Percentage: 100},
	})
	st.InsertMonthlyRaw(residuals.MonthlyDataRecord{MID: "M1", ProcessorID: 1, Month: month, NetRevenue: 100, CreatedAt: base})
	st.InsertMonthlyRaw(residuals.MonthlyDataRecord{MID: "M1", ProcessorID: 1, Month: month, NetRevenue: 40, CreatedAt: base.Add(time.Hour)})

	dups, err := eng.DuplicateReport(ctx, month)
	if err != nil || len(dups) != 1 {
		t.Fatalf("expected 1 duplicate group before cleanup, got %+v (%v)", dups, err)
	}
	if dups[0].Count != 2 || dups[0].KeptNet != 100 || dups[0].TotalNet != 140 {
		t.Errorf("unexpected duplicate group: %+v", dups[0])
	}

	report, err := eng.CleanupDuplicates(ctx, month)
	if err != nil {
		t.Fatal(err)
	}
	if report.AssignmentsRemoved != 1 || report.MonthlyRemoved != 1 || !report.ConstraintApplied {
		t.Fatalf("unexpected cleanup report: %+v", report)
	}
	survivor, err := st.GetAssignment(ctx, "M1", month)
	if err != nil || survivor.Rep.UserName != "New" {
		t.Errorf("expected the newest assignment kept, got %+v (%v)", survivor, err)
	}
	data, _ := st.ListMonthlyData(ctx, month)
	if len(data) != 1 || data[0].NetRevenue != 100 {
		t.Errorf("expected the highest-net monthly row kept, got %+v", data)
	}

	dups, err = eng.DuplicateReport(ctx, month)
	if err != nil || len(dups) != 0 {
		t.Errorf("report must be empty after cleanup, got %+v (%v)", dups, err)
	}

	// Idempotent, and the store now rejects duplicates outright.
	report, err = eng.CleanupDuplicates(ctx, month)
	if err != nil || report.AssignmentsRemoved != 0 || report.MonthlyRemoved != 0 {
		t.Errorf("second cleanup should be a no-op: %+v (%v)", report, err)
	}
	err = st.CreateAssignment(ctx, residuals.RoleAssignment{MID: "M1", Month: month})
	if err != residuals.ErrDuplicate {
		t.Errorf("expected ErrDuplicate once the constraint is installed, got %v", err)
	}
}

func TestAssignRoles(t *testing.T) {
	ctx := context.Background()
	eng, st := newTestEngine()
	month := "2025-04"

	err := eng.AssignRoles(ctx, "M9", month, []residuals.RoleInput{
		{RoleType: residuals.RoleRep, UserName: "Tom", Percentage: 99.5},
	})
	var ste *residuals.SplitTotalError
	if !errors.As(err, &ste) {
		t.Fatalf("expected SplitTotalError for 99.5%%, got %v", err)
	}
	if _, err := st.GetAssignment(ctx, "M9", month); err != residuals.ErrNotFound {
		t.Fatalf("rejected assignment must not be written, got %v", err)
	}

	err = eng.AssignRoles(ctx, "M9", month, []residuals.RoleInput{
		{RoleType: residuals.RoleRep, UserName: "Tom", Percentage: 60},
		{RoleType: residuals.RolePartner, UserName: "Jane", Percentage: 40},
	})
	if err != nil {
		t.Fatal(err)
	}
	a, err := st.GetAssignment(ctx, "M9", month)
	if err != nil || a.AssignmentStatus != residuals.StatusAssigned {
		t.Fatalf("assignment not created: %+v (%v)", a, err)
	}
	if a.Rep.Percentage != 60 || a.Partner.Percentage != 40 {
		t.Errorf("slots not stored: %+v", a)
	}

	err = eng.AssignRoles(ctx, "M9", month, []residuals.RoleInput{
		{RoleType: residuals.RoleRep, UserName: "Other", Percentage: 100},
	})
	if !errors.Is(err, residuals.ErrAlreadyAssigned) {
		t.Fatalf("expected ErrAlreadyAssigned, got %v", err)
	}
	unchanged, _ := st.GetAssignment(ctx, "M9", month)
	if unchanged.Rep.UserName != "Tom" {
		t.Errorf("conflicting assign must not mutate the existing row: %+v", unchanged)
	}
}

func TestUnassignedMIDs(t *testing.T) {
	ctx := context.Background()
	eng, st := newTestEngine()
	month, prev := "2025-04", "2025-03"

	for _, mid := range []string{"M1", "M2", "M3"} {
		if err := st.UpsertMasterRecord(ctx, residuals.MasterDatasetRecord{MID: mid, Month: month, MerchantName: mid + " Inc"}); err != nil {
			t.Fatal(err)
		}
	}
	if err := st.CreateAssignment(ctx, residuals.RoleAssignment{
		MID: "M1", Month: month,
		Rep: &residuals.RoleSlot{UserName: "Tom", Percentage: 100},
	}); err != nil {
		t.Fatal(err)
	}
	if err := st.CreateAssignment(ctx, residuals.RoleAssignment{
		MID: "M2", Month: prev,
		Partner: &residuals.RoleSlot{UserName: "Jane", Percentage: 100},
	}); err != nil {
		t.Fatal(err)
	}

	res, err := eng.UnassignedMIDs(ctx, month)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.NewUnassigned) != 1 || res.NewUnassigned[0].MID != "M3" {
		t.Errorf("expected only M3 never-assigned, got %+v", res.NewUnassigned)
	}
	if len(res.PreviouslyAssigned) != 1 {
		t.Fatalf("expected only M2 previously assigned, got %+v", res.PreviouslyAssigned)
	}
	pa := res.PreviouslyAssigned[0]
	if pa.MID != "M2" || pa.SourceMonth != prev {
		t.Errorf("unexpected previously-assigned entry: %+v", pa)
	}
	if slot, ok := pa.Slots[residuals.RolePartner]; !ok || slot.UserName != "Jane" {
		t.Errorf("prior slots not annotated: %+v", pa.Slots)
	}
}

func TestCompletedMIDs(t *testing.T) {
	ctx := context.Background()
	eng, st := newTestEngine()
	month := "2025-04"

	if err := st.UpsertMerchant(ctx, residuals.Merchant{MID: "M1", LegalName: "Done Deal LLC"}); err != nil {
		t.Fatal(err)
	}
	st.InsertAssignmentRaw(residuals.RoleAssignment{
		MID: "M1", Month: month,
		Rep:     &residuals.RoleSlot{UserName: "Tom", Percentage: 60},
		Partner: &residuals.RoleSlot{UserName: "Jane", Percentage: 40},
	})
	st.InsertAssignmentRaw(residuals.RoleAssignment{
		MID: "M2", Month: month,
		Rep: &residuals.RoleSlot{UserName: "Tom", Percentage: 90},
	})

	out, err := eng.CompletedMIDs(ctx, month)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0].MID != "M1" {
		t.Fatalf("expected only the 100%% split listed, got %+v", out)
	}
	if out[0].MerchantName != "Done Deal LLC" {
		t.Errorf("merchant name not resolved: %+v", out[0])
	}
}

func TestQCMonth(t *testing.T) {
	ctx := context.Background()
	eng, st := newTestEngine()
	month := "2025-04"

	for _, mid := range []string{"M1", "M2"} {
		if err := st.UpsertMasterRecord(ctx, residuals.MasterDatasetRecord{MID: mid, Month: month, AssignmentStatus: residuals.StatusAssigned}); err != nil {
			t.Fatal(err)
		}
	}
	st.InsertAssignmentRaw(residuals.RoleAssignment{
		MID: "M1", Month: month,
		Rep:              &residuals.RoleSlot{UserName: "Tom", Percentage: 100},
		AssignmentStatus: residuals.StatusAssigned,
	})

	flipped, err := eng.QCMonth(ctx, month, "approve")
	if err != nil || flipped != 2 {
		t.Fatalf("expected 2 master rows approved, got %d (%v)", flipped, err)
	}
	masters, _ := st.ListMasterRecords(ctx, month)
	for _, m := range masters {
		if m.AssignmentStatus != residuals.StatusApproved {
			t.Errorf("master %s not approved: %+v", m.MID, m)
		}
	}
	a, _ := st.GetAssignment(ctx, "M1", month)
	if a.AssignmentStatus != residuals.StatusApproved {
		t.Errorf("assignment not approved: %+v", a)
	}

	if _, err := eng.QCMonth(ctx, month, "reject"); err != nil {
		t.Fatal(err)
	}
	a, _ = st.GetAssignment(ctx, "M1", month)
	if a.AssignmentStatus != residuals.StatusNeedsRevision {
		t.Errorf("assignment not flipped to needs_revision: %+v", a)
	}

	if _, err := eng.QCMonth(ctx, month, "purge"); !errors.Is(err, residuals.ErrUnknownAction) {
		t.Errorf("expected ErrUnknownAction, got %v", err)
	}
}
