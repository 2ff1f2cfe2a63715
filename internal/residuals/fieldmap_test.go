package residuals

import (
	"strings"
	"testing"
)

func testMappings() map[int64]map[string]string {
	return map[int64]map[string]string{
		1: {
			"Merchant ID":   FieldMID,
			"Merchant Name": FieldMerchantName,
			"DBA":           FieldMerchantDBA,
			"Volume":        FieldVolume,
			"Transactions":  FieldTransactions,
			"Net Revenue":   FieldNetRevenue,
			"Branch":        FieldBranchID,
		},
		2: {
			"MID":        FieldMID,
			"Legal Name": FieldMerchantName,
			"Proc Vol":   FieldVolume,
			"Txn Count":  FieldTransactions,
			"Net Res":    FieldNetRevenue,
		},
	}
}

func TestMapRowsStandardizesAndCleansNumbers(t *testing.T) {
	fm := NewFieldMapper(testMappings())
	headers := []string{"Merchant ID", "Merchant Name", "Volume", "Net Revenue", "Branch"}
	rows := [][]string{
		{"M100", "Acme Vending", "$12,345.67", "$1,234.50", "BR-7"},
		{"M101", "Negative Net", "1000", "(25.00)", ""},
	}
	res := fm.MapRows(1, headers, rows)
	if len(res.RowErrors) != 0 || len(res.Warnings) != 0 {
		t.Fatalf("unexpected diagnostics: %+v %+v", res.RowErrors, res.Warnings)
	}
	if len(res.Records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(res.Records))
	}
	first := res.Records[0]
	if first.MID != "M100" || first.MerchantName != "Acme Vending" || first.BranchID != "BR-7" {
		t.Errorf("unexpected text fields: %+v", first)
	}
	if first.Volume != 12345.67 || first.NetRevenue != 1234.50 {
		t.Errorf("currency not cleaned: %+v", first)
	}
	if res.Records[1].NetRevenue != -25 {
		t.Errorf("accounting negative not parsed: %+v", res.Records[1])
	}
}

func TestMapRowsRejectsRowsWithoutMID(t *testing.T) {
	fm := NewFieldMapper(testMappings())
	headers := []string{"Merchant ID", "Merchant Name", "Volume"}
	rows := [][]string{
		{"", "No MID Here", "100"},
		{"M1", "Fine", "200"},
	}
	res := fm.MapRows(1, headers, rows)
	if len(res.Records) != 1 || res.Records[0].MID != "M1" {
		t.Fatalf("expected only the valid row, got %+v", res.Records)
	}
	if len(res.RowErrors) != 1 || res.RowErrors[0].Row != 2 {
		t.Fatalf("expected a row error for row 2, got %+v", res.RowErrors)
	}
}

func TestMapRowsReportsUnparseableNumbers(t *testing.T) {
	fm := NewFieldMapper(testMappings())
	headers := []string{"Merchant ID", "Volume"}
	res := fm.MapRows(1, headers, [][]string{{"M1", "not-a-number"}})
	if len(res.Records) != 0 {
		t.Fatalf("expected bad row excluded, got %+v", res.Records)
	}
	if len(res.RowErrors) != 1 || !strings.Contains(res.RowErrors[0].Error, "unparseable") {
		t.Fatalf("expected unparseable-number diagnostic, got %+v", res.RowErrors)
	}
}

func TestMapRowsAutoDetectsWrongProcessor(t *testing.T) {
	fm := NewFieldMapper(testMappings())
	// Processor 2's headers uploaded under processor 1.
	headers := []string{"MID", "Legal Name", "Proc Vol", "Txn Count", "Net Res"}
	rows := [][]string{{"M200", "Detected Corp", "500", "10", "50"}}
	res := fm.MapRows(1, headers, rows)
	if res.ProcessorID != 2 {
		t.Fatalf("expected auto-detected processor 2, got %d", res.ProcessorID)
	}
	if len(res.Warnings) < 2 {
		t.Fatalf("expected wrong-processor and auto-detect warnings, got %+v", res.Warnings)
	}
	if len(res.Records) != 1 || res.Records[0].MID != "M200" {
		t.Fatalf("expected row mapped with detected mapping, got %+v", res.Records)
	}
}

func TestMapRowsEmptyMappingTable(t *testing.T) {
	fm := NewFieldMapper(map[int64]map[string]string{})
	headers := []string{"Merchant ID", "Merchant Name", "Volume"}
	res := fm.MapRows(1, headers, [][]string{{"M1", "Acme", "100"}})
	if len(res.Records) != 0 {
		t.Fatalf("expected nothing stored without mappings, got %+v", res.Records)
	}
	var sawNoMapping bool
	for _, w := range res.Warnings {
		if strings.Contains(w, "no field mapping defined") {
			sawNoMapping = true
		}
	}
	if !sawNoMapping {
		t.Fatalf("expected a no-mapping-defined warning, got %+v", res.Warnings)
	}
}

func TestMapRowsNoQualifyingMapping(t *testing.T) {
	fm := NewFieldMapper(testMappings())
	headers := []string{"Colonne A", "Colonne B"}
	res := fm.MapRows(1, headers, [][]string{{"x", "y"}})
	if len(res.Records) != 0 {
		t.Fatalf("expected no records, got %+v", res.Records)
	}
	if len(res.Warnings) == 0 {
		t.Fatal("expected wrong-processor warning")
	}
	if res.ProcessorID != 1 {
		t.Fatalf("expected processor unchanged when nothing qualifies, got %d", res.ProcessorID)
	}
}
