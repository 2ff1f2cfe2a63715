package residualsapi

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"

	"IsoHubResiduals/internal/residuals"
	"IsoHubResiduals/internal/residuals/memstore"
)

func newTestServer() (*mux.Router, *memstore.Store) {
	st := memstore.New()
	st.SeedProcessor(residuals.Processor{ID: 1, Name: "TSYS", Active: true}, map[string]string{
		"Merchant ID":   residuals.FieldMID,
		"Merchant Name": residuals.FieldMerchantName,
		"Volume":        residuals.FieldVolume,
		"Net Revenue":   residuals.FieldNetRevenue,
	})
	return NewRouter(residuals.NewEngine(st)), st
}

func doRequest(t *testing.T, router *mux.Router, method, path string, body *bytes.Buffer, contentType string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	var payload map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("%s %s: non-JSON response %q", method, path, rec.Body.String())
	}
	return rec, payload
}

func doJSON(t *testing.T, router *mux.Router, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	buf := &bytes.Buffer{}
	if body != nil {
		if err := json.NewEncoder(buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	return doRequest(t, router, method, path, buf, "application/json")
}

func multipartCSV(t *testing.T, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf, mw.FormDataContentType()
}

func TestUploadProcessorFileCSV(t *testing.T) {
	router, st := newTestServer()
	csvBody := strings.Join([]string{
		"Merchant ID,Merchant Name,Volume,Net Revenue",
		"M100,Acme Vending,1000,50",
		"M101,Beta Mart,2000,75",
	}, "\n")
	body, contentType := multipartCSV(t, "tsys-april.csv", csvBody)

	rec, payload := doRequest(t, router, http.MethodPost, "/upload/2025-04/1", body, contentType)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %v", rec.Code, payload)
	}
	if payload["recordCount"] != float64(2) || payload["status"] != residuals.StageValidated {
		t.Errorf("unexpected upload payload: %v", payload)
	}
	if data, _ := st.ListMonthlyData(context.Background(), "2025-04"); len(data) != 2 {
		t.Errorf("expected 2 stored rows, got %d", len(data))
	}
}

func TestUploadMissingFile(t *testing.T) {
	router, _ := newTestServer()
	rec, payload := doJSON(t, router, http.MethodPost, "/upload/2025-04/1", nil)
	if rec.Code != http.StatusBadRequest || payload["success"] != false {
		t.Fatalf("expected 400 for missing multipart file, got %d: %v", rec.Code, payload)
	}
}

func TestAssignRolesHandler(t *testing.T) {
	router, st := newTestServer()

	// Percentages short of 100 are rejected and nothing is written.
	rec, payload := doJSON(t, router, http.MethodPost, "/role-assignment/assign", map[string]interface{}{
		"mid": "M9", "month": "2025-04",
		"assignments": []map[string]interface{}{
			{"roleType": residuals.RoleRep, "userName": "Tom", "percentage": 99.5},
		},
	})
	if rec.Code != http.StatusBadRequest || payload["success"] != false {
		t.Fatalf("expected 400 for 99.5%%, got %d: %v", rec.Code, payload)
	}
	if _, err := st.GetAssignment(context.Background(), "M9", "2025-04"); err != residuals.ErrNotFound {
		t.Fatalf("rejected assignment must not be stored, got %v", err)
	}

	rec, _ = doJSON(t, router, http.MethodPost, "/role-assignment/assign", map[string]interface{}{
		"mid": "M9", "month": "2025-04",
		"assignments": []map[string]interface{}{
			{"roleType": residuals.RoleRep, "userName": "Tom", "percentage": 60},
			{"roleType": residuals.RolePartner, "userName": "Jane", "percentage": 40},
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for a valid split, got %d", rec.Code)
	}

	rec, payload = doJSON(t, router, http.MethodGet, "/role-assignment/completed/2025-04", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("completed list failed: %d", rec.Code)
	}
	completed, _ := payload["completed"].([]interface{})
	if len(completed) != 1 {
		t.Fatalf("expected M9 in the completed list, got %v", payload)
	}

	// Assigning the same MID again conflicts and leaves the row alone.
	rec, _ = doJSON(t, router, http.MethodPost, "/role-assignment/assign", map[string]interface{}{
		"mid": "M9", "month": "2025-04",
		"assignments": []map[string]interface{}{
			{"roleType": residuals.RoleRep, "userName": "Other", "percentage": 100},
		},
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 on re-assign, got %d", rec.Code)
	}
	a, err := st.GetAssignment(context.Background(), "M9", "2025-04")
	if err != nil || a.Rep.UserName != "Tom" {
		t.Errorf("conflicting assign mutated the row: %+v (%v)", a, err)
	}
}

func TestCleanupThenEmptyReport(t *testing.T) {
	router, st := newTestServer()
	month := "2025-04"
	st.InsertMonthlyRaw(residuals.MonthlyDataRecord{MID: "M1", ProcessorID: 1, Month: month, NetRevenue: 100})
	st.InsertMonthlyRaw(residuals.MonthlyDataRecord{MID: "M1", ProcessorID: 1, Month: month, NetRevenue: 40})

	rec, payload := doJSON(t, router, http.MethodPost, "/cleanup-duplicates/"+month, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("cleanup failed: %d %v", rec.Code, payload)
	}

	rec, payload = doJSON(t, router, http.MethodGet, "/duplicate-report/"+month, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("report failed: %d", rec.Code)
	}
	dups, ok := payload["duplicates"].([]interface{})
	if !ok || len(dups) != 0 {
		t.Errorf("expected an empty duplicates array after cleanup, got %v", payload["duplicates"])
	}
}

func TestMasterDataQC(t *testing.T) {
	router, st := newTestServer()
	month := "2025-04"
	if err := st.UpsertMasterRecord(context.Background(), residuals.MasterDatasetRecord{
		MID: "M1", Month: month, AssignmentStatus: residuals.StatusAssigned,
	}); err != nil {
		t.Fatal(err)
	}

	rec, payload := doJSON(t, router, http.MethodPost, "/master-data-qc/"+month, map[string]string{"action": "approve"})
	if rec.Code != http.StatusOK || payload["flipped"] != float64(1) {
		t.Fatalf("expected 1 row approved, got %d: %v", rec.Code, payload)
	}

	rec, _ = doJSON(t, router, http.MethodPost, "/master-data-qc/"+month, map[string]string{"action": "purge"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for an unknown action, got %d", rec.Code)
	}
}

func TestInvalidMonthRejected(t *testing.T) {
	router, _ := newTestServer()
	rec, payload := doJSON(t, router, http.MethodPost, "/initialize/April-2025", nil)
	if rec.Code != http.StatusBadRequest || payload["success"] != false {
		t.Errorf("initialize: expected 400, got %d: %v", rec.Code, payload)
	}
	rec, payload = doJSON(t, router, http.MethodGet, "/progress/2025-4", nil)
	if rec.Code != http.StatusBadRequest || payload["success"] != false {
		t.Errorf("progress: expected 400, got %d: %v", rec.Code, payload)
	}
}
