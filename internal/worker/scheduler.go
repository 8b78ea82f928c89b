package worker

import (
	"context"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/makeasinger/mediagen/internal/service"
)

const (
	RecoverySchedule = "@every 1m"
	SnapshotSchedule = "@every 5m"
)

// Scheduler runs stale-task recovery and the video status refresh on cron.
type Scheduler struct {
	cron     *cron.Cron
	recovery *Recovery
	status   *service.StatusCache
	log      zerolog.Logger
}

func NewScheduler(recovery *Recovery, status *service.StatusCache, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:     cron.New(),
		recovery: recovery,
		status:   status,
		log:      log.With().Str("component", "scheduler").Logger(),
	}
}

// Start registers the jobs and refreshes the snapshots once right away.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(RecoverySchedule, func() { s.runRecovery(ctx) }); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(SnapshotSchedule, func() { s.refreshSnapshots(ctx) }); err != nil {
		return err
	}
	s.cron.Start()
	go s.refreshSnapshots(ctx)
	return nil
}

// Stop waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) runRecovery(ctx context.Context) {
	n, err := s.recovery.Run(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("Recovery run failed")
		return
	}
	if n > 0 {
		s.log.Info().Int("requeued", n).Msg("Recovery run finished")
	}
}

func (s *Scheduler) refreshSnapshots(ctx context.Context) {
	n, err := s.status.RefreshActive(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("Status snapshot refresh failed")
		return
	}
	s.log.Debug().Int("users", n).Msg("Status snapshots refreshed")
}
