package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"TierTrader/internal/config"
	"TierTrader/internal/logger"
	"TierTrader/internal/model"
	"TierTrader/internal/notifier"
)

// Trader is the subset of the trading service driven by cron and chat.
type Trader interface {
	RunCycle(ctx context.Context) *model.CycleReport
	Status(ctx context.Context) (*model.StatusReport, error)
	DailyReport(ctx context.Context, day time.Time) (*model.DailyReport, error)
	Snapshot(ctx context.Context) (*model.Snapshot, error)
	PruneSnapshots(ctx context.Context, retention time.Duration) (int64, error)
}

// Sender delivers chat messages.
type Sender interface {
	SendWithRetry(ctx context.Context, text string, maxRetries int) error
}

// Scheduler manages all cron tasks.
type Scheduler struct {
	cron   *cron.Cron
	trader Trader
	sender Sender
	cfg    config.Schedule
	loc    *time.Location
	ctx    context.Context
	log    *logrus.Entry
	now    func() time.Time
}

// NewScheduler creates a Scheduler whose jobs run in the configured timezone.
func NewScheduler(ctx context.Context, tr Trader, sender Sender, cfg config.Schedule) (*Scheduler, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load schedule timezone: %w", err)
	}
	return &Scheduler{
		cron:   cron.New(cron.WithSeconds(), cron.WithLocation(loc)),
		trader: tr,
		sender: sender,
		cfg:    cfg,
		loc:    loc,
		ctx:    ctx,
		log:    logger.WithComponent("scheduler"),
		now:    time.Now,
	}, nil
}

// RegisterAll registers the trading cycle, hourly snapshot, daily report
// and snapshot pruning. An empty expression disables its job.
func (s *Scheduler) RegisterAll() error {
	jobs := []struct {
		name string
		spec string
		fn   func()
	}{
		{"cycle", s.cfg.CycleCron, s.cycleTask},
		{"snapshot", s.cfg.SnapshotCron, s.snapshotTask},
		{"report", s.cfg.ReportCron, s.reportTask},
		{"prune", s.cfg.PruneCron, s.pruneTask},
	}
	for _, j := range jobs {
		if j.spec == "" {
			continue
		}
		if _, err := s.cron.AddFunc(j.spec, j.fn); err != nil {
			return fmt.Errorf("register %s task: %w", j.name, err)
		}
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("scheduler started")
}

// Stop stops the scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info("scheduler stopped")
}

// RunCycleNow executes one trading cycle immediately (RUN_ON_START).
func (s *Scheduler) RunCycleNow() *model.CycleReport {
	return s.runCycle()
}

func (s *Scheduler) cycleTask() {
	s.runCycle()
}

func (s *Scheduler) runCycle() *model.CycleReport {
	rep := s.trader.RunCycle(s.ctx)
	// quiet cycles are only logged
	if !rep.Success || rep.Action != model.ActionNone {
		s.trySend(notifier.FormatCycleReport(rep))
	}
	return rep
}

func (s *Scheduler) snapshotTask() {
	if _, err := s.trader.Snapshot(s.ctx); err != nil {
		s.log.WithError(err).Error("snapshot")
	}
}

// reportTask reports the previous day when it runs shortly after midnight,
// the current day otherwise.
func (s *Scheduler) reportTask() {
	day := s.now().In(s.loc)
	if day.Hour() < 6 {
		day = day.AddDate(0, 0, -1)
	}
	rep, err := s.trader.DailyReport(s.ctx, day)
	if err != nil {
		s.log.WithError(err).Error("daily report")
		return
	}
	s.trySend(notifier.FormatDailyReport(rep))
}

func (s *Scheduler) pruneTask() {
	n, err := s.trader.PruneSnapshots(s.ctx, s.cfg.SnapshotRetention)
	if err != nil {
		s.log.WithError(err).Error("prune snapshots")
		return
	}
	s.log.WithField("deleted", n).Info("snapshots pruned")
}

// HandleCommand processes a chat command and returns a reply.
func (s *Scheduler) HandleCommand(ctx context.Context, command string) string {
	cmd, _, _ := strings.Cut(strings.TrimSpace(command), "@")
	switch cmd {
	case "/status":
		st, err := s.trader.Status(ctx)
		if err != nil {
			return notifier.FormatAlert("status unavailable: " + err.Error())
		}
		return notifier.FormatStatus(st)
	case "/report":
		rep, err := s.trader.DailyReport(ctx, s.now().In(s.loc))
		if err != nil {
			return notifier.FormatAlert("report unavailable: " + err.Error())
		}
		return notifier.FormatDailyReport(rep)
	case "/run":
		return notifier.FormatCycleReport(s.trader.RunCycle(ctx))
	default:
		return notifier.Help
	}
}

func (s *Scheduler) trySend(text string) {
	if s.sender == nil {
		return
	}
	if err := s.sender.SendWithRetry(s.ctx, text, 3); err != nil {
		s.log.WithError(err).Error("send notification")
	}
}
