package jobs

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"IsoHubResiduals/internal/config"
	"IsoHubResiduals/internal/logger"
	"IsoHubResiduals/internal/residuals"
	"IsoHubResiduals/internal/serviceiface"
)

// RevalidationConfig drives the nightly split-revalidation sweep.
type RevalidationConfig struct {
	Schedule string
	TimeZone string
}

// CronService re-runs the split validator for the current month on a
// schedule. The sweep is a full reconciliation and idempotent, so an extra
// run can only converge the audit ledger, never corrupt it.
type CronService struct {
	config map[string]interface{}
	engine *residuals.Engine
	cron   *cron.Cron
}

func NewCronService(cfg map[string]interface{}, engine *residuals.Engine) serviceiface.Service {
	return &CronService{config: cfg, engine: engine}
}

func (s *CronService) Name() string {
	return "cron"
}

func (s *CronService) Start() error {
	revalCfg := &RevalidationConfig{}
	if s.config != nil {
		if schedule, ok := s.config["revalidation_schedule"].(string); ok {
			revalCfg.Schedule = schedule
		}
		if tz, ok := s.config["time_zone"].(string); ok {
			revalCfg.TimeZone = tz
		}
	}
	c, err := RunRevalidationScheduler(revalCfg, s.engine)
	if err != nil {
		return fmt.Errorf("failed to start revalidation scheduler: %v", err)
	}
	s.cron = c
	log.Println("Cron service started — revalidation sweep scheduled")
	return nil
}

func (s *CronService) Stop() error {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	log.Println("Cron service stopped.")
	return nil
}

// RunRevalidationScheduler schedules the sweep and returns the running cron.
func RunRevalidationScheduler(cfg *RevalidationConfig, engine *residuals.Engine) (*cron.Cron, error) {
	if cfg.Schedule == "" {
		cfg.Schedule = config.DefaultRevalidationSchedule
	}
	if cfg.TimeZone == "" {
		cfg.TimeZone = config.DefaultTimeZone
	}
	loc, err := time.LoadLocation(cfg.TimeZone)
	if err != nil {
		loc = time.UTC
	}

	c := cron.New(cron.WithLocation(loc))
	_, err = c.AddFunc(cfg.Schedule, func() {
		month := time.Now().In(loc).Format("2006-01")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		summary, err := engine.ValidateSplits(ctx, month)
		if err != nil {
			logger.Audit(fmt.Sprintf("Revalidation sweep for %s failed: %v", month, err))
			return
		}
		logger.Audit(fmt.Sprintf("Revalidation sweep for %s: %d checked, %d failed, %d issues opened, %d cleared",
			month, summary.Checked, summary.Failed, summary.IssuesOpened, summary.IssuesCleared))
	})
	if err != nil {
		return nil, fmt.Errorf("unable to schedule revalidation sweep: %v", err)
	}
	c.Start()
	logger.Audit("Revalidation scheduler started")
	return c, nil
}
