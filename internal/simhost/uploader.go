package simhost

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/harun/passivebridge/internal/metrics"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Trace().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}

// Uploader runs the collect-and-upload cycle on a cron schedule.
type Uploader struct {
	host    *SessionHost
	records int
	cron    *cron.Cron
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewUploader schedules a cycle that collects records per topic from every
// connected plugin and uploads the caches. m may be nil.
func NewUploader(spec string, host *SessionHost, records int, m *metrics.Metrics, logger zerolog.Logger) (*Uploader, error) {
	u := &Uploader{
		host:    host,
		records: records,
		metrics: m,
		logger:  logger.With().Str("component", "uploader").Logger(),
	}

	cl := cronLogger{logger: u.logger}
	u.cron = cron.New(
		cron.WithParser(scheduleParser),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := u.cron.AddFunc(spec, u.Cycle); err != nil {
		return nil, fmt.Errorf("invalid upload schedule %q: %w", spec, err)
	}
	return u, nil
}

// Cycle runs one collect-and-upload pass.
func (u *Uploader) Cycle() {
	started := time.Now()
	collected := u.host.Collect(u.records)

	var uploaded int64
	err := u.host.Upload(func(_, total int64) { uploaded = total })

	outcome := metrics.OutcomeUploaded
	switch {
	case errors.Is(err, ErrUnauthorized):
		outcome = metrics.OutcomeUnauthorized
		u.logger.Debug().Int64("collected", collected).Msg("Upload skipped, not authorized")
	case err != nil:
		outcome = metrics.OutcomeFailed
		u.logger.Warn().Err(err).Msg("Upload failed")
	case uploaded == 0:
		outcome = metrics.OutcomeEmpty
	default:
		u.logger.Trace().Int64("collected", collected).Int64("uploaded", uploaded).Msg("Upload cycle done")
	}

	if u.metrics != nil {
		u.metrics.RecordsCollected.Add(float64(collected))
		u.metrics.ObserveUpload(outcome, uploaded, time.Since(started))
		u.metrics.PluginsConnected.Set(float64(len(u.host.Connections())))
		cached := make(map[string]int64)
		if caches, ok := u.host.Caches(); ok {
			for _, c := range caches {
				cached[c.Topic] = c.Records
			}
		}
		u.metrics.SetCached(cached)
	}
}

func (u *Uploader) Start() {
	u.cron.Start()
	u.logger.Info().Msg("Uploader started")
}

// Stop stops scheduling and waits up to timeout for a running cycle.
func (u *Uploader) Stop(timeout time.Duration) error {
	ctx := u.cron.Stop()
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		u.logger.Info().Msg("Uploader stopped")
		return nil
	case <-timer.C:
		return context.DeadlineExceeded
	}
}
