// scheduler.go - Periodic ledger audit
//
// PURPOSE:
//   Runs Auditor.AuditAll on a cron schedule so a balance that drifted from
//   its ledger is noticed without anyone calling /api/admin/audit.
//
// SCHEDULE:
//   robfig/cron/v3 spec, with descriptors ("@every 1h", "@daily") and an
//   optional seconds field ("0 */30 * * * *"). Overlapping runs are skipped.
//
// USAGE:
//   scheduler := NewAuditScheduler(auditor, "@every 1h", log)
//   if err := scheduler.Start(); err != nil { ... }
//   defer scheduler.Stop()
//
// SEE ALSO:
//   - points/audit.go: Auditor
//   - handlers.go: Audit endpoint (manual run)
package api

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/warp/recycle-points/points"
)

// AuditScheduler runs the ledger audit periodically.
type AuditScheduler struct {
	Auditor  *points.Auditor
	Schedule string
	Timeout  time.Duration
	Log      logrus.FieldLogger

	cron *cron.Cron

	mu          sync.Mutex
	lastRun     time.Time
	lastSummary *points.AuditSummary
}

// NewAuditScheduler creates a scheduler; call Start to begin.
func NewAuditScheduler(auditor *points.Auditor, schedule string, log logrus.FieldLogger) *AuditScheduler {
	return &AuditScheduler{
		Auditor:  auditor,
		Schedule: schedule,
		Timeout:  5 * time.Minute,
		Log:      log,
	}
}

// Start registers the job and starts the cron loop.
func (s *AuditScheduler) Start() error {
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	s.cron = cron.New(
		cron.WithParser(parser),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := s.cron.AddFunc(s.Schedule, func() { s.RunNow(context.Background()) }); err != nil {
		return err
	}

	s.cron.Start()
	s.Log.WithField("schedule", s.Schedule).Info("audit scheduler started")
	return nil
}

// Stop waits for a running audit to finish.
func (s *AuditScheduler) Stop() {
	if s.cron == nil {
		return
	}
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.Log.Info("audit scheduler stopped")
}

// RunNow performs one audit immediately.
func (s *AuditScheduler) RunNow(ctx context.Context) {
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	start := time.Now()
	summary, err := s.Auditor.AuditAll(ctx)
	if err != nil {
		s.Log.WithError(err).Error("scheduled audit failed")
		return
	}

	s.mu.Lock()
	s.lastRun = start
	s.lastSummary = &summary
	s.mu.Unlock()
}

// Last returns the most recent successful run, if any.
func (s *AuditScheduler) Last() (time.Time, *points.AuditSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun, s.lastSummary
}
