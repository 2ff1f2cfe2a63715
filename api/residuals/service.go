package residualsapi

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"IsoHubResiduals/internal/config"
	"IsoHubResiduals/internal/residuals"
	"IsoHubResiduals/internal/serviceiface"
)

// ResidualsService hosts the reconciliation engine's HTTP surface.
type ResidualsService struct {
	config map[string]interface{}
	engine *residuals.Engine
	server *http.Server
}

func NewResidualsService(cfg map[string]interface{}, store residuals.Store) serviceiface.Service {
	return &ResidualsService{
		config: cfg,
		engine: residuals.NewEngine(store),
	}
}

func (s *ResidualsService) Name() string {
	return "residuals"
}

func (s *ResidualsService) Engine() *residuals.Engine {
	return s.engine
}

func (s *ResidualsService) port() int {
	if s.config != nil {
		switch v := s.config["port"].(type) {
		case int:
			if v > 0 {
				return v
			}
		case float64:
			if v > 0 {
				return int(v)
			}
		}
	}
	return config.DefaultResidualsPort
}

func (s *ResidualsService) Start() error {
	addr := fmt.Sprintf(":%d", s.port())
	s.server = &http.Server{
		Addr:         addr,
		Handler:      NewRouter(s.engine),
		ReadTimeout:  120 * time.Second,
		WriteTimeout: 120 * time.Second,
	}
	go func() {
		log.Println("Residuals Service started on", addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Residuals Service failed: %v", err)
		}
	}()
	return nil
}

func (s *ResidualsService) Stop() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// NewRouter wires the monthly-cycle routes. Auth/session gating lives in the
// gateway layer, outside this service.
func NewRouter(engine *residuals.Engine) *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/initialize/{month}", InitializeMonth(engine)).Methods("POST")
	router.HandleFunc("/progress/{month}", GetProgress(engine)).Methods("GET")
	router.HandleFunc("/upload/{month}/{processorId}", UploadProcessorFile(engine)).Methods("POST")
	router.HandleFunc("/upload-lead-sheet/{month}", UploadLeadSheet(engine)).Methods("POST")
	router.HandleFunc("/cross-reference/{month}", CrossReference(engine)).Methods("POST")
	router.HandleFunc("/auto-populate-assignments/{month}", AutoPopulateAssignments(engine)).Methods("POST")
	router.HandleFunc("/validate-splits/{month}", ValidateSplits(engine)).Methods("POST")
	router.HandleFunc("/role-assignment/unassigned/{month}", UnassignedMIDs(engine)).Methods("GET")
	router.HandleFunc("/role-assignment/completed/{month}", CompletedMIDs(engine)).Methods("GET")
	router.HandleFunc("/role-assignment/assign", AssignRoles(engine)).Methods("POST")
	router.HandleFunc("/cleanup-duplicates/{month}", CleanupDuplicates(engine)).Methods("POST")
	router.HandleFunc("/duplicate-report/{month}", DuplicateReport(engine)).Methods("GET")
	router.HandleFunc("/master-data-qc/{month}", MasterDataQC(engine)).Methods("POST")

	return router
}
