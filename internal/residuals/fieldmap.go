package residuals

import (
	"fmt"
	"strconv"
	"strings"
)

// Standard field names every processor file is normalized into.
const (
	FieldMID            = "mid"
	FieldMerchantName   = "merchantName"
	FieldMerchantDBA    = "merchantDba"
	FieldVolume         = "volume"
	FieldTransactions   = "transactions"
	FieldGrossRevenue   = "grossRevenue"
	FieldNetRevenue     = "netRevenue"
	FieldInterchange    = "interchange"
	FieldProcessingFees = "processingFees"
	FieldOtherFees      = "otherFees"
	FieldBranchID       = "branchId"
	FieldAgentID        = "agentId"
	FieldPartnerID      = "partnerId"
	FieldStatus         = "status"
)

var numericFields = map[string]bool{
	FieldVolume:         true,
	FieldTransactions:   true,
	FieldGrossRevenue:   true,
	FieldNetRevenue:     true,
	FieldInterchange:    true,
	FieldProcessingFees: true,
	FieldOtherFees:      true,
}

// minHeaderMatches is the qualification floor for both the "wrong processor"
// warning and auto-detection scoring.
const minHeaderMatches = 3

// StandardRecord is one processor row normalized into the common shape.
type StandardRecord struct {
	MID            string
	MerchantName   string
	MerchantDBA    string
	Volume         float64
	Transactions   float64
	GrossRevenue   float64
	NetRevenue     float64
	Interchange    float64
	ProcessingFees float64
	OtherFees      float64
	BranchID       string
	AgentID        string
	PartnerID      string
	Status         string
}

// RowError is a per-row diagnostic; bad rows never abort the batch.
type RowError struct {
	Row   int    `json:"row"`
	Error string `json:"error"`
}

// MapResult is the outcome of mapping one uploaded file.
type MapResult struct {
	Records     []StandardRecord
	RowErrors   []RowError
	Warnings    []string
	ProcessorID int64 // the mapping actually used (may differ after auto-detect)
}

// FieldMapper translates processor-specific column headers into the standard
// field set using per-processor mapping tables.
type FieldMapper struct {
	// mappings: processor id → source header → standard field.
	mappings map[int64]map[string]string
}

func NewFieldMapper(mappings map[int64]map[string]string) *FieldMapper {
	return &FieldMapper{mappings: mappings}
}

// matchCount counts how many of a processor's declared source headers appear
// in the file header row. Header matching is case-sensitive.
func (fm *FieldMapper) matchCount(processorID int64, headers []string) int {
	mapping := fm.mappings[processorID]
	if mapping == nil {
		return 0
	}
	present := make(map[string]bool, len(headers))
	for _, h := range headers {
		present[strings.TrimSpace(h)] = true
	}
	n := 0
	for src := range mapping {
		if present[src] {
			n++
		}
	}
	return n
}

// detectProcessor scores every known mapping table against the headers and
// returns the best-scoring processor with at least minHeaderMatches matches.
func (fm *FieldMapper) detectProcessor(headers []string) (int64, int) {
	bestID, bestScore := int64(0), 0
	for id := range fm.mappings {
		if score := fm.matchCount(id, headers); score > bestScore {
			bestID, bestScore = id, score
		}
	}
	if bestScore < minHeaderMatches {
		return 0, bestScore
	}
	return bestID, bestScore
}

// cleanNumber strips currency symbols, commas, spaces and surrounding
// parentheses (accounting negatives) before parsing.
func cleanNumber(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	neg := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		neg = true
		s = s[1 : len(s)-1]
	}
	s = strings.NewReplacer("$", "", ",", "", "%", "", " ", "").Replace(s)
	if s == "" || s == "-" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if neg {
		v = -v
	}
	return v, nil
}

// MapRows maps a header row plus data rows for the selected processor. If the
// header overlap with the selected processor's mapping is below the floor, it
// emits a "wrong processor selected" warning and falls back to the best
// auto-detected mapping when one qualifies.
func (fm *FieldMapper) MapRows(processorID int64, headers []string, rows [][]string) MapResult {
	res := MapResult{ProcessorID: processorID}

	score := fm.matchCount(processorID, headers)
	if score < minHeaderMatches {
		res.Warnings = append(res.Warnings, fmt.Sprintf(
			"wrong processor selected: only %d of processor %d's expected headers matched", score, processorID))
		if detected, detScore := fm.detectProcessor(headers); detected != 0 && detected != processorID {
			res.Warnings = append(res.Warnings, fmt.Sprintf(
				"auto-detected processor %d (%d matching headers); using its mapping", detected, detScore))
			res.ProcessorID = detected
		}
	}
	mapping := fm.mappings[res.ProcessorID]
	if mapping == nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("no field mapping defined for processor %d", res.ProcessorID))
		return res
	}

	// Resolve each column index to a standard field once.
	targets := make([]string, len(headers))
	for i, h := range headers {
		targets[i] = mapping[strings.TrimSpace(h)]
	}

	for i, row := range rows {
		rowNum := i + 2 // 1-based, after the header row
		rec := StandardRecord{}
		rowErr := ""
		for j, target := range targets {
			if target == "" || j >= len(row) {
				continue
			}
			cell := strings.TrimSpace(row[j])
			if numericFields[target] {
				v, err := cleanNumber(cell)
				if err != nil {
					rowErr = fmt.Sprintf("column %q: unparseable number %q", headers[j], cell)
					continue
				}
				rec.setNumeric(target, v)
			} else {
				rec.setText(target, cell)
			}
		}
		if rec.MID == "" {
			res.RowErrors = append(res.RowErrors, RowError{Row: rowNum, Error: "missing MID"})
			continue
		}
		if rowErr != "" {
			res.RowErrors = append(res.RowErrors, RowError{Row: rowNum, Error: rowErr})
			continue
		}
		res.Records = append(res.Records, rec)
	}
	return res
}

func (r *StandardRecord) setNumeric(field string, v float64) {
	switch field {
	case FieldVolume:
		r.Volume = v
	case FieldTransactions:
		r.Transactions = v
	case FieldGrossRevenue:
		r.GrossRevenue = v
	case FieldNetRevenue:
		r.NetRevenue = v
	case FieldInterchange:
		r.Interchange = v
	case FieldProcessingFees:
		r.ProcessingFees = v
	case FieldOtherFees:
		r.OtherFees = v
	}
}

func (r *StandardRecord) setText(field, v string) {
	switch field {
	case FieldMID:
		r.MID = v
	case FieldMerchantName:
		r.MerchantName = v
	case FieldMerchantDBA:
		r.MerchantDBA = v
	case FieldBranchID:
		r.BranchID = v
	case FieldAgentID:
		r.AgentID = v
	case FieldPartnerID:
		r.PartnerID = v
	case FieldStatus:
		r.Status = v
	}
}
