package residualsapi

import (
	"encoding/csv"
	"errors"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/extrame/xls"
	"github.com/gorilla/mux"
	"github.com/xuri/excelize/v2"

	"IsoHubResiduals/api"
	"IsoHubResiduals/internal/config"
	"IsoHubResiduals/internal/residuals"
)

// parseUploadFile reads an uploaded CSV/XLSX/XLS into rows; the first row is
// expected to be the header.
func parseUploadFile(file multipart.File, filename string) ([][]string, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		r := csv.NewReader(file)
		r.FieldsPerRecord = -1
		return r.ReadAll()
	case ".xlsx":
		f, err := excelize.OpenReader(file)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return f.GetRows(f.GetSheetName(0))
	case ".xls":
		wb, err := xls.OpenReader(file, "utf-8")
		if err != nil {
			return nil, err
		}
		sheet := wb.GetSheet(0)
		if sheet == nil {
			return nil, errors.New("xls file has no sheets")
		}
		rows := make([][]string, 0, int(sheet.MaxRow)+1)
		for i := 0; i <= int(sheet.MaxRow); i++ {
			row := sheet.Row(i)
			if row == nil {
				continue
			}
			cells := make([]string, 0, row.LastCol()+1)
			for j := 0; j <= row.LastCol(); j++ {
				cells = append(cells, row.Col(j))
			}
			rows = append(rows, cells)
		}
		return rows, nil
	}
	return nil, errors.New("unsupported file type (want .csv, .xlsx or .xls)")
}

// readMultipartRows pulls the single uploaded file out of the request.
func readMultipartRows(r *http.Request) (string, [][]string, error) {
	if err := r.ParseMultipartForm(config.UploadMaxBytes); err != nil {
		return "", nil, errors.New("failed to parse multipart form")
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return "", nil, errors.New("file is required (multipart field \"file\")")
	}
	defer file.Close()
	rows, err := parseUploadFile(file, header.Filename)
	if err != nil {
		return header.Filename, nil, err
	}
	return header.Filename, rows, nil
}

// InitializeMonth seeds/refreshes the stage tracker for all active processors.
func InitializeMonth(engine *residuals.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		month := mux.Vars(r)["month"]
		seeded, err := engine.InitializeMonth(r.Context(), month)
		if err != nil {
			respondEngineError(w, err)
			return
		}
		api.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"month":   month,
			"seeded":  seeded,
		})
	}
}

// GetProgress returns the refreshed stage tracker rows for a month.
func GetProgress(engine *residuals.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		month := mux.Vars(r)["month"]
		rows, err := engine.Progress(r.Context(), month)
		if err != nil {
			respondEngineError(w, err)
			return
		}
		api.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
			"success":  true,
			"month":    month,
			"progress": rows,
		})
	}
}

// UploadProcessorFile ingests one processor's monthly export.
func UploadProcessorFile(engine *residuals.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		month := vars["month"]
		processorID, err := strconv.ParseInt(vars["processorId"], 10, 64)
		if err != nil {
			api.RespondWithError(w, http.StatusBadRequest, "processorId must be numeric")
			return
		}
		fileName, rows, err := readMultipartRows(r)
		if err != nil {
			api.RespondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		res, err := engine.IngestProcessorFile(r.Context(), month, processorID, fileName, rows)
		if err != nil {
			respondEngineError(w, err)
			return
		}
		api.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
			"success":     true,
			"fileName":    res.FileName,
			"recordCount": res.RecordCount,
			"status":      res.Status,
			"batchId":     res.BatchID,
			"processorId": res.ProcessorID,
			"rowErrors":   res.RowErrors,
			"warnings":    res.Warnings,
		})
	}
}

// UploadLeadSheet ingests the merchant roster for a month.
func UploadLeadSheet(engine *residuals.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		month := mux.Vars(r)["month"]
		fileName, rows, err := readMultipartRows(r)
		if err != nil {
			api.RespondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		res, err := engine.IngestLeadSheet(r.Context(), month, fileName, rows)
		if err != nil {
			respondEngineError(w, err)
			return
		}
		api.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
			"success":           true,
			"fileName":          res.FileName,
			"merchants":         res.Merchants,
			"parsedAssignments": res.Parsed,
			"unparseable":       res.Unparseable,
			"rowErrors":         res.RowErrors,
		})
	}
}
