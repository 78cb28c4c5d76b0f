package keeper

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/elys-network/cellar/internal/logger"
)

// Scheduler runs keeper jobs on cron specs next to the main loop.
type Scheduler struct {
	cron    *cron.Cron
	logger  zerolog.Logger
	baseCtx context.Context
}

func NewScheduler(baseCtx context.Context) *Scheduler {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	l := logger.GetForComponent("keeper_cron")
	return &Scheduler{
		// SkipIfStillRunning keeps a slow job from stacking behind itself
		cron: cron.New(cron.WithChain(
			cron.Recover(cron.PrintfLogger(&l)),
			cron.SkipIfStillRunning(cron.PrintfLogger(&l)),
		)),
		logger:  l,
		baseCtx: baseCtx,
	}
}

func (s *Scheduler) Add(spec string, job func(context.Context)) (cron.EntryID, error) {
	return s.cron.AddFunc(spec, func() { job(s.baseCtx) })
}

// Entries reports how many jobs are scheduled.
func (s *Scheduler) Entries() int { return len(s.cron.Entries()) }

func (s *Scheduler) Start() {
	s.logger.Info().Int("jobs", s.Entries()).Msg("Cron started")
	s.cron.Start()
}

// Stop waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info().Msg("Cron stopped")
}

// Schedule registers the keeper's upkeep jobs on s using the cron specs from the
// keeper parameters. An empty spec disables that job.
func (k *Keeper) Schedule(s *Scheduler) error {
	jobs := []struct {
		name string
		spec string
		run  func(context.Context)
	}{
		{UpkeepOracle, k.params.OracleUpkeepCron, k.OracleJob},
		{UpkeepFees, k.params.FeeUpkeepCron, k.FeeJob},
		{UpkeepSweep, k.params.SweepCron, k.QueueJob},
		{"snapshot", k.params.SnapshotCron, k.SnapshotJob},
	}
	for _, j := range jobs {
		if j.spec == "" {
			continue
		}
		if _, err := s.Add(j.spec, j.run); err != nil {
			return fmt.Errorf("schedule %s job with spec %q: %w", j.name, j.spec, err)
		}
		k.logger.Info().Str("job", j.name).Str("spec", j.spec).Msg("Keeper job scheduled")
	}
	return nil
}

func (k *Keeper) jobLogger(job string) zerolog.Logger {
	return k.logger.With().Str("job", job).Str("run_id", uuid.New().String()).Logger()
}

// OracleJob runs oracle upkeep and retries pending share listings, which depend on it.
func (k *Keeper) OracleJob(context.Context) {
	k.mu.Lock()
	defer k.mu.Unlock()
	log := k.jobLogger(UpkeepOracle)
	var report CycleReport
	report.Oracles = k.upkeepOracles(log, &report)
	report.Listed = k.listShares(log)
	log.Debug().Int("updated", len(report.Oracles)).Int("listed", len(report.Listed)).Msg("Oracle job done")
}

func (k *Keeper) FeeJob(context.Context) {
	k.mu.Lock()
	defer k.mu.Unlock()
	log := k.jobLogger(UpkeepFees)
	var report CycleReport
	report.Fees = k.upkeepFees(log, &report)
	log.Debug().Int("accrued", len(report.Fees)).Msg("Fee job done")
}

func (k *Keeper) QueueJob(context.Context) {
	k.mu.Lock()
	defer k.mu.Unlock()
	log := k.jobLogger(UpkeepSweep)
	var report CycleReport
	report.Swept, report.Solves = k.serviceQueue(log, &report)
	log.Debug().Int("swept", report.Swept).Int("solves", len(report.Solves)).Msg("Queue job done")
}

// SnapshotJob records snapshots under the current cycle number without starting a cycle.
func (k *Keeper) SnapshotJob(ctx context.Context) {
	k.mu.Lock()
	defer k.mu.Unlock()
	log := k.jobLogger("snapshot")
	report := CycleReport{CycleID: uuid.New(), CycleNumber: k.cycleCount}
	snaps := k.snapshotVaults(ctx, log, &report)
	log.Debug().Int("snapshots", len(snaps)).Msg("Snapshot job done")
}
