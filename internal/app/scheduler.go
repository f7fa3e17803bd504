/**
 * @description
 * Cron scheduler for the service's maintenance jobs: stamping expired verification
 * challenges and reporting transfers abandoned in AwaitingVerification.
 */
package app

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const jobTimeout = 30 * time.Second

// SchedulerConfig holds the cron specs for the maintenance jobs.
type SchedulerConfig struct {
	ChallengeSweepSchedule    string
	AbandonedTransferSchedule string
	AbandonedTransferAge      time.Duration
}

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron    *cron.Cron
	service *Service
	logger  zerolog.Logger
	config  SchedulerConfig
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(service *Service, logger zerolog.Logger, cfg SchedulerConfig) *Scheduler {
	cronLogger := cron.PrintfLogger(&logger)
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))

	return &Scheduler{
		cron:    c,
		service: service,
		logger:  logger,
		config:  cfg,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() {
	if _, err := s.cron.AddFunc(s.config.ChallengeSweepSchedule, s.SweepExpiredChallenges); err != nil {
		s.logger.Error().Err(err).Msg("failed to schedule challenge sweep job")
	} else {
		s.logger.Info().Str("schedule", s.config.ChallengeSweepSchedule).Msg("scheduled challenge sweep job")
	}

	if _, err := s.cron.AddFunc(s.config.AbandonedTransferSchedule, s.ReportAbandonedTransfers); err != nil {
		s.logger.Error().Err(err).Msg("failed to schedule abandoned transfer report job")
	} else {
		s.logger.Info().Str("schedule", s.config.AbandonedTransferSchedule).Msg("scheduled abandoned transfer report job")
	}

	s.cron.Start()
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// SweepExpiredChallenges stamps challenges whose window closed unconfirmed.
func (s *Scheduler) SweepExpiredChallenges() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	expired, err := s.service.SweepExpiredChallenges(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("challenge sweep failed")
		return
	}
	if expired > 0 {
		s.logger.Info().Int64("expired", expired).Msg("expired verification challenges swept")
	}
}

// ReportAbandonedTransfers logs transfers that have waited for verification longer than
// the configured age. They are left untouched.
func (s *Scheduler) ReportAbandonedTransfers() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	transfers, err := s.service.AbandonedTransfers(ctx, s.config.AbandonedTransferAge)
	if err != nil {
		s.logger.Error().Err(err).Msg("abandoned transfer report failed")
		return
	}
	for _, t := range transfers {
		s.logger.Info().
			Str("transfer_id", t.ID.String()).
			Str("owner_id", t.OwnerID).
			Str("kind", string(t.Kind)).
			Time("awaiting_since", t.UpdatedAt).
			Msg("transfer abandoned in verification")
	}
	s.logger.Info().Int("count", len(transfers)).Msg("abandoned transfer report complete")
}
