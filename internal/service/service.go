package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"lst-yield/internal/alerting"
	"lst-yield/internal/config"
	"lst-yield/internal/fetcher"
	"lst-yield/internal/metrics"
	"lst-yield/internal/scheduler"
	"lst-yield/internal/storage"
	"lst-yield/internal/yield"
)

// ErrWindowUnderflow is returned when the requested window starts before genesis.
var ErrWindowUnderflow = errors.New("window starts before genesis")

// Service orchestrates fetching, caching, computation, persistence and alerting.
type Service struct {
	scheduler *scheduler.Scheduler
	fetcher   fetcher.BackingFetcher
	cache     storage.ObservationStore
	reports   storage.ReportStore
	notifier  alerting.Notifier
	metrics   *metrics.Metrics
	logger    zerolog.Logger

	windowDays    int
	stride        int
	verifyLinkage bool
	alertsOn      bool
	minYield      float64
	maxYield      float64
	channels      []string
	locker        storage.AdvisoryLocker
	lockKey       int64
	now           func() time.Time
}

// New constructs the yield service. Every collaborator except the fetcher may be nil.
func New(cfg *config.Config, sched *scheduler.Scheduler, backing fetcher.BackingFetcher, cache storage.ObservationStore, reports storage.ReportStore, notifier alerting.Notifier, m *metrics.Metrics, logger zerolog.Logger) *Service {
	var locker storage.AdvisoryLocker
	if l, ok := reports.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		scheduler:     sched,
		fetcher:       backing,
		cache:         cache,
		reports:       reports,
		notifier:      notifier,
		metrics:       m,
		logger:        logger.With().Str("component", "service").Logger(),
		windowDays:    cfg.Yield.WindowDays,
		stride:        cfg.Yield.Stride,
		verifyLinkage: cfg.Ethereum.VerifyLinkage,
		alertsOn:      cfg.Alerting.Enabled,
		minYield:      cfg.Alerting.MinYield,
		maxYield:      cfg.Alerting.MaxYield,
		channels:      cfg.Alerting.Channels,
		locker:        locker,
		lockKey:       cfg.Scheduler.AdvisoryLockKey,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Run begins the aligned computation loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessTick)
}

// ProcessTick computes a report at the current head under the advisory lock.
func (s *Service) ProcessTick(ctx context.Context, bucket time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("bucket", bucket).Msg("skip tick because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	_, err = s.ComputeAt(ctx, 0, 0)
	return err
}

// ComputeAt computes the base yield for the window ending at endBlock, or at
// the current head when endBlock is zero. A zero stride uses the configured one.
func (s *Service) ComputeAt(ctx context.Context, endBlock uint64, stride int) (storage.Report, error) {
	started := time.Now()
	report, err := s.compute(ctx, endBlock, stride)
	if s.metrics != nil {
		s.metrics.ObserveComputation(time.Since(started), report.BaseYield, report.EndBlock, err)
	}
	if err != nil {
		return storage.Report{}, err
	}

	if s.reports != nil {
		if err := s.reports.UpsertReport(ctx, report); err != nil {
			s.logger.Error().Err(err).Uint64("end_block", report.EndBlock).Msg("failed to persist report")
		}
	}

	s.logger.Info().
		Uint64("end_block", report.EndBlock).
		Str("end_block_hash", report.EndBlockHash).
		Int("samples", report.Samples).
		Int("stride", report.Stride).
		Float64("base_yield", report.BaseYield).
		Dur("took", time.Since(started)).
		Msg("base yield computed")

	s.maybeAlert(ctx, report)
	return report, nil
}

func (s *Service) compute(ctx context.Context, endBlock uint64, stride int) (storage.Report, error) {
	if stride <= 0 {
		stride = s.stride
	}

	if endBlock == 0 {
		head, err := s.fetcher.HeadBlock(ctx)
		if err != nil {
			return storage.Report{}, err
		}
		endBlock = head
	}

	span := uint64(s.windowDays) * yield.BlockGranularity
	if endBlock < span {
		return storage.Report{}, fmt.Errorf("%w: end block %d, window %d blocks", ErrWindowUnderflow, endBlock, span)
	}
	startBlock := endBlock - span

	phase := time.Now()
	series, hashes, err := s.collect(ctx, startBlock, endBlock)
	if err != nil {
		return storage.Report{}, err
	}
	endHash := hashes[len(hashes)-1]
	s.logger.Debug().Int("observations", len(series)).Dur("took", time.Since(phase)).Msg("observations collected")

	if s.verifyLinkage {
		phase = time.Now()
		if err := s.verify(ctx, series, hashes, startBlock, endBlock); err != nil {
			return storage.Report{}, err
		}
		s.logger.Debug().Dur("took", time.Since(phase)).Msg("header linkage verified")
	}

	res, err := yield.Compute(series, stride)
	if err != nil {
		return storage.Report{}, fmt.Errorf("compute base yield: %w", err)
	}

	return storage.Report{
		Contract:     s.fetcher.Contract(),
		EndBlock:     endBlock,
		EndBlockHash: endHash,
		StartBlock:   startBlock,
		Stride:       stride,
		Samples:      res.Intervals + 1,
		BaseYield:    res.BaseYield,
		ComputedAt:   s.now(),
	}, nil
}

// collect returns one observation per BlockGranularity step from start to
// end inclusive, reading through the cache, together with the block hash
// recorded for each observation.
func (s *Service) collect(ctx context.Context, start, end uint64) (yield.Series, []string, error) {
	contract := s.fetcher.Contract()

	var blocks []uint64
	for b := start; b <= end; b += yield.BlockGranularity {
		blocks = append(blocks, b)
	}

	cached := map[uint64]storage.CachedObservation{}
	if s.cache != nil {
		found, err := s.cache.GetObservations(ctx, contract, blocks)
		if err != nil {
			s.logger.Warn().Err(err).Msg("observation cache unavailable; fetching from node")
		} else {
			cached = found
		}
	}

	series := make(yield.Series, 0, len(blocks))
	hashes := make([]string, 0, len(blocks))
	for _, block := range blocks {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		if hit, ok := cached[block]; ok && hit.Backing != nil {
			s.observeCache(true)
			series = append(series, hit.Observation())
			hashes = append(hashes, hit.BlockHash)
			continue
		}
		s.observeCache(false)

		obs, hash, err := s.fetcher.FetchObservation(ctx, block)
		if err != nil {
			return nil, nil, fmt.Errorf("fetch observation: %w", err)
		}
		series = append(series, obs)
		hashes = append(hashes, hash.Hex())

		if s.cache != nil {
			row := storage.CachedObservation{
				Contract:    contract,
				BlockNumber: obs.BlockNumber,
				BlockHash:   hash.Hex(),
				Timestamp:   obs.Timestamp,
				Backing:     obs.Backing,
			}
			if err := s.cache.UpsertObservation(ctx, row); err != nil {
				s.logger.Error().Err(err).Uint64("block", block).Msg("failed to cache observation")
			}
		}
	}
	return series, hashes, nil
}

// verify checks the header chain over the window and binds every observation,
// cached or fresh, to its header by timestamp and hash.
func (s *Service) verify(ctx context.Context, series yield.Series, hashes []string, start, end uint64) error {
	headers, err := s.fetcher.FetchHeaders(ctx, start, end)
	if err != nil {
		return fmt.Errorf("fetch headers: %w", err)
	}
	if err := fetcher.VerifyLinkage(headers); err != nil {
		return err
	}
	return fetcher.VerifyObservations(series, hashes, headers)
}

func (s *Service) maybeAlert(ctx context.Context, report storage.Report) {
	if !s.alertsOn || s.notifier == nil {
		return
	}
	direction, breached := alerting.Classify(report.BaseYield, s.minYield, s.maxYield)
	if !breached {
		return
	}

	note := alerting.Notification{
		Contract:     report.Contract,
		EndBlock:     report.EndBlock,
		EndBlockHash: report.EndBlockHash,
		ComputedAt:   report.ComputedAt,
		BaseYield:    report.BaseYield,
		MinYield:     s.minYield,
		MaxYield:     s.maxYield,
		Direction:    direction,
		Channels:     s.channels,
	}
	if err := s.notifier.Notify(ctx, note); err != nil {
		s.logger.Error().Err(err).Uint64("end_block", report.EndBlock).Msg("failed to dispatch alert")
		return
	}
	if s.metrics != nil {
		s.metrics.AlertsSent.Inc()
	}
}

func (s *Service) observeCache(hit bool) {
	if s.metrics != nil && s.cache != nil {
		s.metrics.ObserveCache(hit)
	}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
