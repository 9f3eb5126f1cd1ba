package storage

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	upsertObservationSQL = `INSERT INTO observations (
        contract,
        block_number,
        block_hash,
        block_ts,
        backing
    ) VALUES (
        $1,$2,$3,$4,$5::numeric
    )
    ON CONFLICT (contract, block_number) DO UPDATE
    SET
        block_hash = EXCLUDED.block_hash,
        block_ts   = EXCLUDED.block_ts,
        backing    = EXCLUDED.backing;`

	getObservationsSQL = `SELECT
        contract,
        block_number,
        block_hash,
        block_ts,
        backing::text,
        created_at
    FROM observations
    WHERE contract = $1
      AND block_number = ANY($2)
    ORDER BY block_number;`

	upsertReportSQL = `INSERT INTO yield_reports (
        contract,
        end_block,
        end_block_hash,
        start_block,
        stride,
        samples,
        base_yield,
        computed_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    )
    ON CONFLICT (contract, end_block, stride) DO UPDATE
    SET
        end_block_hash = EXCLUDED.end_block_hash,
        start_block    = EXCLUDED.start_block,
        samples        = EXCLUDED.samples,
        base_yield     = EXCLUDED.base_yield,
        computed_at    = EXCLUDED.computed_at;`

	reportColumns = `contract,
        end_block,
        end_block_hash,
        start_block,
        stride,
        samples,
        base_yield,
        computed_at`

	listRecentReportsSQL = `SELECT ` + reportColumns + `
    FROM yield_reports
    ORDER BY end_block DESC, computed_at DESC
    LIMIT $1;`

	listReportsBetweenSQL = `SELECT ` + reportColumns + `
    FROM yield_reports
    WHERE computed_at >= $1
      AND computed_at < $2
    ORDER BY computed_at;`

	countReportsSQL = `SELECT COUNT(*) FROM yield_reports;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// ObservationStore caches backing reads per contract and block.
type ObservationStore interface {
	UpsertObservation(ctx context.Context, obs CachedObservation) error
	GetObservations(ctx context.Context, contract string, blocks []uint64) (map[uint64]CachedObservation, error)
}

// ReportStore defines operations for yield report persistence.
type ReportStore interface {
	UpsertReport(ctx context.Context, report Report) error
	ListRecentReports(ctx context.Context, limit int) ([]Report, error)
	ListReportsBetween(ctx context.Context, from, to time.Time) ([]Report, error)
	CountReports(ctx context.Context) (int64, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to cached observations and reports.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// best effort; the session ends with the connection anyway
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// UpsertObservation persists or refreshes a cached backing read.
func (s *Store) UpsertObservation(ctx context.Context, obs CachedObservation) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if obs.Backing == nil {
		return fmt.Errorf("upsert observation %d: nil backing", obs.BlockNumber)
	}

	_, execErr := pool.Exec(ctx, upsertObservationSQL,
		obs.Contract,
		int64(obs.BlockNumber),
		obs.BlockHash,
		int64(obs.Timestamp),
		obs.Backing.String(),
	)
	if execErr != nil {
		return fmt.Errorf("upsert observation: %w", execErr)
	}
	return nil
}

// GetObservations returns the cached reads among blocks, keyed by block number.
func (s *Store) GetObservations(ctx context.Context, contract string, blocks []uint64) (map[uint64]CachedObservation, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(blocks))
	for _, b := range blocks {
		ids = append(ids, int64(b))
	}

	rows, queryErr := pool.Query(ctx, getObservationsSQL, contract, ids)
	if queryErr != nil {
		return nil, fmt.Errorf("get observations: %w", queryErr)
	}
	defer rows.Close()

	found := make(map[uint64]CachedObservation, len(blocks))
	for rows.Next() {
		var (
			obs        CachedObservation
			block, ts  int64
			backingStr string
		)
		if err := rows.Scan(&obs.Contract, &block, &obs.BlockHash, &ts, &backingStr, &obs.CreatedAt); err != nil {
			return nil, err
		}
		backing, ok := new(big.Int).SetString(backingStr, 10)
		if !ok {
			return nil, fmt.Errorf("parse backing %q", backingStr)
		}
		obs.BlockNumber = uint64(block)
		obs.Timestamp = uint64(ts)
		obs.Backing = backing
		found[obs.BlockNumber] = obs
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return found, nil
}

// UpsertReport persists or updates a computed report.
func (s *Store) UpsertReport(ctx context.Context, report Report) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, upsertReportSQL,
		report.Contract,
		int64(report.EndBlock),
		report.EndBlockHash,
		int64(report.StartBlock),
		report.Stride,
		report.Samples,
		report.BaseYield,
		report.ComputedAt,
	)
	if execErr != nil {
		return fmt.Errorf("upsert report: %w", execErr)
	}
	return nil
}

// ListRecentReports lists the most recent reports ordered by descending end block.
func (s *Store) ListRecentReports(ctx context.Context, limit int) ([]Report, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentReportsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent reports: %w", queryErr)
	}
	defer rows.Close()

	return collectReports(rows, limit)
}

// ListReportsBetween lists reports computed within a time window.
func (s *Store) ListReportsBetween(ctx context.Context, from, to time.Time) ([]Report, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listReportsBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list reports between: %w", queryErr)
	}
	defer rows.Close()

	return collectReports(rows, 0)
}

// CountReports counts stored reports.
func (s *Store) CountReports(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countReportsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count reports: %w", scanErr)
	}
	return count, nil
}

func collectReports(rows pgx.Rows, capacity int) ([]Report, error) {
	reports := make([]Report, 0, capacity)
	for rows.Next() {
		report, scanErr := scanReport(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		reports = append(reports, report)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return reports, nil
}

func scanReport(rows pgx.Rows) (Report, error) {
	var (
		report          Report
		endBlock, start int64
	)

	if err := rows.Scan(
		&report.Contract,
		&endBlock,
		&report.EndBlockHash,
		&start,
		&report.Stride,
		&report.Samples,
		&report.BaseYield,
		&report.ComputedAt,
	); err != nil {
		return Report{}, err
	}

	report.EndBlock = uint64(endBlock)
	report.StartBlock = uint64(start)
	return report, nil
}

var (
	_ ObservationStore = (*Store)(nil)
	_ ReportStore      = (*Store)(nil)
	_ AdvisoryLocker   = (*Store)(nil)
)
