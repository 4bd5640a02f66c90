package liquidator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mselser95/blue-liquidator/internal/lock"
	"github.com/mselser95/blue-liquidator/internal/storage"
	"github.com/mselser95/blue-liquidator/pkg/types"
	"go.uber.org/zap"
)

// ErrCycleInProgress is returned when a cycle is already running.
var ErrCycleInProgress = errors.New("cycle already in progress")

// SnapshotSource yields the positions of one poll cycle.
type SnapshotSource interface {
	Fetch(ctx context.Context) (*types.Snapshot, error)
}

// Locker serializes cycles across replicas.
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (func(), error)
}

// Cycler runs one cycle over a snapshot.
type Cycler interface {
	RunCycle(ctx context.Context, snapshot *types.Snapshot) []types.PositionResult
}

// ServiceConfig holds service configuration.
type ServiceConfig struct {
	Engine  Cycler
	Source  SnapshotSource
	Storage storage.Storage

	// Locker is optional.
	Locker   Locker
	LockTTL  time.Duration
	Interval time.Duration

	// RequireNativePrice skips cycles whose snapshot has no native price.
	RequireNativePrice bool

	// OnCycle, if set, is called with every report the poll loop produces.
	OnCycle func(*CycleReport)
	Logger  *zap.Logger
}

// CycleReport summarizes a finished cycle.
type CycleReport struct {
	ID         string                 `json:"id"`
	StartedAt  time.Time              `json:"started_at"`
	FinishedAt time.Time              `json:"finished_at"`
	Skipped    string                 `json:"skipped,omitempty"`
	Results    []types.PositionResult `json:"results"`
}

// Service triggers a cycle on every tick.
type Service struct {
	engine             Cycler
	source             SnapshotSource
	storage            storage.Storage
	locker             Locker
	lockTTL            time.Duration
	interval           time.Duration
	requireNativePrice bool
	onCycle            func(*CycleReport)
	logger             *zap.Logger

	running atomic.Bool

	mu   sync.RWMutex
	last *CycleReport
}

// NewService creates a service.
func NewService(cfg *ServiceConfig) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}

	if cfg.Engine == nil {
		return nil, errors.New("engine cannot be nil")
	}

	if cfg.Source == nil {
		return nil, errors.New("source cannot be nil")
	}

	if cfg.Storage == nil {
		return nil, errors.New("storage cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.Interval <= 0 {
		return nil, errors.New("interval must be positive")
	}

	lockTTL := cfg.LockTTL
	if lockTTL <= 0 {
		lockTTL = 2 * cfg.Interval
	}

	return &Service{
		engine:             cfg.Engine,
		source:             cfg.Source,
		storage:            cfg.Storage,
		locker:             cfg.Locker,
		lockTTL:            lockTTL,
		interval:           cfg.Interval,
		requireNativePrice: cfg.RequireNativePrice,
		onCycle:            cfg.OnCycle,
		logger:             cfg.Logger,
	}, nil
}

// Run cycles on every tick until ctx is done. A tick that arrives while the
// previous cycle is still running is skipped.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info("liquidator-service-starting",
		zap.Duration("interval", s.interval),
		zap.Bool("distributed-lock", s.locker != nil))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	trigger := func() {
		if !s.running.CompareAndSwap(false, true) {
			CyclesSkippedTotal.WithLabelValues("overlap").Inc()
			s.logger.Warn("cycle-skipped-overlap")
			return
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer s.running.Store(false)

			report, err := s.cycle(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("cycle-failed", zap.Error(err))
			}
			if report != nil && s.onCycle != nil {
				s.onCycle(report)
			}
		}()
	}

	trigger()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("liquidator-service-stopping")
			return ctx.Err()
		case <-ticker.C:
			trigger()
		}
	}
}

// RunOnce runs a single cycle and returns its report.
func (s *Service) RunOnce(ctx context.Context) (*CycleReport, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrCycleInProgress
	}
	defer s.running.Store(false)

	return s.cycle(ctx)
}

// LastReport returns the most recent cycle report, or nil.
func (s *Service) LastReport() *CycleReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// Results returns the results of the most recent cycle.
func (s *Service) Results() []types.PositionResult {
	report := s.LastReport()
	if report == nil {
		return nil
	}
	return report.Results
}

func (s *Service) cycle(ctx context.Context) (*CycleReport, error) {
	start := time.Now()
	report := &CycleReport{ID: uuid.New().String(), StartedAt: start}
	logger := s.logger.With(zap.String("cycle-id", report.ID))

	defer func() {
		CycleDuration.Observe(time.Since(start).Seconds())
	}()

	if s.locker != nil {
		release, err := s.locker.Acquire(ctx, "cycle", s.lockTTL)
		if errors.Is(err, lock.ErrHeld) {
			CyclesSkippedTotal.WithLabelValues("locked").Inc()
			logger.Debug("cycle-skipped-locked")
			report.Skipped = "lock held by another replica"
			report.FinishedAt = time.Now()
			return report, nil
		}
		if err != nil {
			return nil, fmt.Errorf("acquire cycle lock: %w", err)
		}
		defer release()
	}

	snapshot, err := s.source.Fetch(ctx)
	if err != nil {
		CyclesSkippedTotal.WithLabelValues("discovery").Inc()
		return nil, fmt.Errorf("fetch snapshot: %w", err)
	}

	if s.requireNativePrice && snapshot.NativePriceUSD == nil {
		CyclesSkippedTotal.WithLabelValues("native-price").Inc()
		logger.Warn("cycle-skipped-native-price-unknown")
		report.Skipped = "native asset price unknown"
		report.FinishedAt = time.Now()
		return report, nil
	}

	results := s.engine.RunCycle(ctx, snapshot)

	counts := make(map[types.PositionStatus]int)
	for i := range results {
		counts[results[i].Status]++

		storeErr := s.storage.StoreResult(ctx, report.ID, &results[i])
		if storeErr != nil {
			logger.Error("result-store-failed",
				zap.String("borrower", results[i].Borrower.Hex()),
				zap.Error(storeErr))
		}
	}

	report.Results = results
	report.FinishedAt = time.Now()

	s.mu.Lock()
	s.last = report
	s.mu.Unlock()

	CyclesTotal.Inc()
	LastCycleTimestamp.Set(float64(report.FinishedAt.Unix()))

	logger.Info("cycle-complete",
		zap.Int("positions", len(results)),
		zap.Int("liquidated", counts[types.StatusLiquidated]),
		zap.Int("not-profitable", counts[types.StatusNotProfitable]),
		zap.Int("failed", counts[types.StatusFailed]),
		zap.Duration("duration", time.Since(start)))

	return report, nil
}
