/*
scheduler.go - Nightly end-of-day report export

PURPOSE:
  Builds the previous local day's end-of-day report on a cron schedule and
  writes it as an .xlsx workbook into the export directory. Every mismatch
  flag on the report is logged at warn level for whoever watches the logs.

DESIGN:
  - robfig/cron with the till's fixed zone, so "5 0 * * *" means five past
    local midnight
  - Start and Stop are idempotent
  - A failed build is logged and skipped; the next run builds its own day

USAGE:
  s, err := NewReportScheduler(builder, zone, SchedulerConfig{...})
  s.Start()
  defer s.Stop()

SEE ALSO:
  - report/builder.go: Build
  - report/export.go: Export
*/
package api

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/warp/till-engine/recon"
	"github.com/warp/till-engine/report"
)

// ExportFileName is the workbook name for a report date.
func ExportFileName(date string) string {
	return "eod-" + date + ".xlsx"
}

// ReportBuilder is the part of report.Builder the scheduler needs.
type ReportBuilder interface {
	Build(ctx context.Context, date string) (*report.EndOfDay, error)
}

type SchedulerConfig struct {
	Schedule  string
	ExportDir string
	Logger    *zap.Logger
	Clock     func() time.Time

	// Timeout bounds one run. Zero means one minute.
	Timeout time.Duration
}

// ReportScheduler exports the end-of-day report on a schedule.
type ReportScheduler struct {
	reports ReportBuilder
	zone    recon.Zone
	cfg     SchedulerConfig
	log     *zap.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewReportScheduler validates the schedule and returns a stopped scheduler.
func NewReportScheduler(reports ReportBuilder, zone recon.Zone, cfg SchedulerConfig) (*ReportScheduler, error) {
	if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
		return nil, fmt.Errorf("invalid report schedule %q: %w", cfg.Schedule, err)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Minute
	}

	s := &ReportScheduler{
		reports: reports,
		zone:    zone,
		cfg:     cfg,
		log:     cfg.Logger.Named("scheduler"),
		cron:    cron.New(cron.WithLocation(zone.Location())),
	}
	if _, err := s.cron.AddFunc(cfg.Schedule, s.tick); err != nil {
		return nil, fmt.Errorf("unable to schedule report export: %w", err)
	}
	return s, nil
}

// Start begins the scheduler.
func (s *ReportScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.cron.Start()
	s.running = true
	s.log.Info("report scheduler started",
		zap.String("schedule", s.cfg.Schedule),
		zap.String("zone", s.zone.Offset()),
		zap.String("dir", s.cfg.ExportDir))
}

// Stop stops the scheduler and waits for a running export to finish.
func (s *ReportScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	s.log.Info("report scheduler stopped")
}

func (s *ReportScheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
	defer cancel()

	if _, err := s.RunOnce(ctx); err != nil {
		s.log.Error("end-of-day export failed", zap.Error(err))
	}
}

// RunOnce builds yesterday's report (local date) and writes it into the
// export directory. It returns the written path.
func (s *ReportScheduler) RunOnce(ctx context.Context) (string, error) {
	date := s.zone.DayOf(s.cfg.Clock()).AddDays(-1).Date

	eod, err := s.reports.Build(ctx, date)
	if err != nil {
		return "", fmt.Errorf("build %s: %w", date, err)
	}

	if err := os.MkdirAll(s.cfg.ExportDir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}
	path := filepath.Join(s.cfg.ExportDir, ExportFileName(date))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", path, err)
	}
	if err := report.Export(f, eod); err != nil {
		f.Close()
		return "", fmt.Errorf("export %s: %w", date, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", path, err)
	}

	for _, m := range eod.Mismatches() {
		s.log.Warn("end-of-day mismatch", zap.String("date", date), zap.String("check", m))
	}
	s.log.Info("end-of-day report exported", zap.String("date", date), zap.String("path", path))
	return path, nil
}
