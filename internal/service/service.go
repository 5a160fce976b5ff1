package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/darren-sm/crypto-data-pipeline/internal/fetcher"
	"github.com/darren-sm/crypto-data-pipeline/internal/normalizer"
	"github.com/darren-sm/crypto-data-pipeline/internal/storage"
)

//go:generate mockgen -destination=mock_fetcher_test.go -package=service github.com/darren-sm/crypto-data-pipeline/internal/fetcher MarketFetcher
//go:generate mockgen -destination=mock_storage_test.go -package=service github.com/darren-sm/crypto-data-pipeline/internal/storage AdvisoryLocker,Store

// ErrRunInProgress is returned when another process holds the snapshot lock.
var ErrRunInProgress = errors.New("service: snapshot run already in progress")

// Result summarises one snapshot run.
type Result struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Fetched    int
	Outcome    storage.InsertOutcome
}

// Duration reports the wall time of the run.
func (r Result) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Options tune the snapshot service.
type Options struct {
	// LockKey enables a store-level advisory lock when non-zero and the
	// store supports it.
	LockKey int64
}

// StoreOpener connects to the destination store. It is called once per run,
// at the start of the load stage.
type StoreOpener func(ctx context.Context) (storage.Store, error)

// Service runs the fetch, normalize and load stages of one snapshot.
type Service struct {
	fetcher    fetcher.MarketFetcher
	normalizer *normalizer.Normalizer
	openStore  StoreOpener
	lockKey    int64
	logger     zerolog.Logger
	now        func() time.Time
}

// New constructs the snapshot service.
func New(opts Options, f fetcher.MarketFetcher, n *normalizer.Normalizer, open StoreOpener, logger zerolog.Logger) *Service {
	return &Service{
		fetcher:    f,
		normalizer: n,
		openStore:  open,
		lockKey:    opts.LockKey,
		logger:     logger.With().Str("component", "service").Logger(),
		now:        time.Now,
	}
}

// RunSnapshot executes one full fetch → normalize → load pass. Any stage
// error aborts the run and is returned unchanged in its chain.
func (s *Service) RunSnapshot(ctx context.Context) (Result, error) {
	res := Result{RunID: uuid.NewString(), StartedAt: s.now()}
	logger := s.logger.With().Str("run_id", res.RunID).Logger()
	logger.Info().Time("session_start", res.StartedAt).Msg("starting new session")

	err := s.run(ctx, logger, &res)
	res.FinishedAt = s.now()

	if err != nil {
		logger.Error().Err(err).Dur("duration", res.Duration()).Msg("session aborted")
		return res, err
	}
	logger.Info().
		Time("session_end", res.FinishedAt).
		Dur("duration", res.Duration()).
		Msg("end of session")
	return res, nil
}

func (s *Service) run(ctx context.Context, logger zerolog.Logger, res *Result) error {
	raw, err := s.fetcher.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}

	records, err := s.normalizer.Normalize(raw)
	if err != nil {
		return fmt.Errorf("normalize: %w", err)
	}
	res.Fetched = len(records)

	return s.load(ctx, logger, records, res)
}

// load holds one store connection for the schema check and the batch insert.
func (s *Service) load(ctx context.Context, logger zerolog.Logger, records []storage.MarketSnapshot, res *Result) error {
	store, err := s.openStore(ctx)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn().Err(err).Msg("closing store")
		}
	}()

	unlock, err := s.acquireLock(ctx, store)
	if err != nil {
		return err
	}
	if unlock != nil {
		defer unlock()
	}

	if err := store.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	outcome, err := store.InsertBatch(ctx, records)
	res.Outcome = outcome
	if err != nil {
		return fmt.Errorf("load: %w", err)
	}

	if len(outcome.Rejected) > 0 {
		logger.Error().
			Int("rejected", len(outcome.Rejected)).
			Int("inserted", outcome.Inserted).
			Msg("encountered errors while inserting rows")
	} else {
		logger.Info().
			Int("inserted", outcome.Inserted).
			Int("skipped", outcome.Skipped).
			Msg("rows have been added")
	}
	return nil
}

func (s *Service) acquireLock(ctx context.Context, store storage.Store) (func(), error) {
	locker, ok := store.(storage.AdvisoryLocker)
	if s.lockKey == 0 || !ok {
		return nil, nil
	}
	unlock, acquired, err := locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, ErrRunInProgress
	}
	return unlock, nil
}
