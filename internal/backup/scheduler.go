package backup

import (
	"context"
	"path/filepath"

	"github.com/assetcorp/sirannon/internal/pool"
	"github.com/assetcorp/sirannon/internal/sirannonerr"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

const defaultMaxFiles = 5

// ScheduleOptions configures a cron-driven recurring backup — spec §4.7.
type ScheduleOptions struct {
	Cron     string
	DestDir  string
	MaxFiles int // defaults to 5
	OnError  func(error)
}

// Scheduler runs a Manager's Backup+Rotate on a cron schedule. The
// underlying cron goroutine does not keep the host process alive on its
// own — spec §4.7.
type Scheduler struct {
	manager *Manager
	cron    *cron.Cron
}

// NewScheduler builds a Scheduler bound to manager.
func NewScheduler(manager *Manager) *Scheduler {
	return &Scheduler{manager: manager}
}

// Schedule registers the recurring backup and starts the cron runner.
// Invalid cron strings fail synchronously with BACKUP_ERROR before anything
// is scheduled. The returned cancel function stops future ticks — spec
// §4.7.
func (s *Scheduler) Schedule(writer *pool.Conn, opts ScheduleOptions) (cancel func(), err error) {
	if opts.MaxFiles <= 0 {
		opts.MaxFiles = defaultMaxFiles
	}

	c := cron.New()
	_, err = c.AddFunc(opts.Cron, func() {
		s.tick(writer, opts)
	})
	if err != nil {
		return nil, sirannonerr.Wrap(sirannonerr.CodeBackupError, "invalid backup cron schedule", err)
	}

	s.cron = c
	c.Start()

	return func() { c.Stop() }, nil
}

func (s *Scheduler) tick(writer *pool.Conn, opts ScheduleOptions) {
	ctx := context.Background()
	destPath := filepath.Join(opts.DestDir, s.manager.GenerateFilename())

	if err := s.manager.Backup(ctx, writer, destPath); err != nil {
		s.fail(opts, err)
		return
	}
	if _, err := s.manager.Rotate(opts.DestDir, opts.MaxFiles); err != nil {
		s.fail(opts, err)
	}
}

func (s *Scheduler) fail(opts ScheduleOptions, err error) {
	if opts.OnError != nil {
		opts.OnError(err)
		return
	}
	log.Error().Err(err).Msg("scheduled backup failed")
}
