package indexer

import (
	"context"
	"fmt"

	"swap-metrics-indexer/logger"

	"github.com/robfig/cron/v3"
)

// Scheduler runs incremental scans on a cron spec such as "@every 1m".
// A tick that fires while the previous scan is still running is skipped.
type Scheduler struct {
	cron    *cron.Cron
	indexer *BlockIndexer
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewScheduler(ci *BlockIndexer, spec string) (*Scheduler, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron: cron.New(
			cron.WithLogger(cronLogger{}),
			cron.WithChain(cron.Recover(cronLogger{}), cron.SkipIfStillRunning(cronLogger{})),
		),
		indexer: ci,
		ctx:     ctx,
		cancel:  cancel,
	}

	_, err := s.cron.AddFunc(spec, s.runScan)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("NewScheduler: invalid scan schedule %q: %w", spec, err)
	}

	return s, nil
}

func (s *Scheduler) runScan() {
	res, err := s.indexer.Scan(s.ctx, true)
	if err != nil {
		logger.Error("Scheduled scan failed: %s", err)
		return
	}
	if res.UpToDate {
		logger.Debug("Scheduled scan: already up to date at block %d", res.ToBlock)
	}
}

func (s *Scheduler) Start() {
	s.cron.Start()
	logger.Info("Scan scheduler started")
}

// Stop cancels a running scan and waits for it to return.
func (s *Scheduler) Stop() {
	s.cancel()
	ctx := s.cron.Stop()
	<-ctx.Done()
	logger.Info("Scan scheduler stopped")
}

type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logger.Debug("cron: %s %v", msg, keysAndValues)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logger.Error("cron: %s: %s %v", msg, err, keysAndValues)
}
