package core

import (
	"log/slog"
	"time"

	"expirycore/internal/blob"
	"expirycore/internal/infra/persistence/memory"
	"expirycore/pkg/domain"
)

// Clock supplies the current time to service operations, overridable in tests.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a plain function to the Clock interface.
type ClockFunc func() time.Time

// Now returns the current time from the wrapped function.
func (f ClockFunc) Now() time.Time { return f() }

// Service exposes the transactional repository operations consumed by the
// presentation layer: product and batch CRUD with merge-by-code semantics,
// the store registry, categories and photo resolution.
type Service struct {
	store   domain.PersistentStore
	photos  blob.Store
	logger  *slog.Logger
	metrics MetricsRecorder
	clock   Clock
}

// ServiceOption customizes a Service during construction.
type ServiceOption func(*Service)

// WithLogger installs a structured logger for operation telemetry.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics installs an operation metrics recorder.
func WithMetrics(rec MetricsRecorder) ServiceOption {
	return func(s *Service) { s.metrics = rec }
}

// WithClock overrides the service time source.
func WithClock(clock Clock) ServiceOption {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithPhotoStore installs the blob store holding product photos and backup
// artifacts. Defaults to an in-memory store when unset.
func WithPhotoStore(store blob.Store) ServiceOption {
	return func(s *Service) {
		if store != nil {
			s.photos = store
		}
	}
}

// NewService constructs a service backed by the supplied persistent store.
func NewService(store domain.PersistentStore, opts ...ServiceOption) *Service {
	s := &Service{
		store:  store,
		photos: blob.NewMemory(),
		logger: slog.New(slog.DiscardHandler),
		clock:  ClockFunc(func() time.Time { return time.Now().UTC() }),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewInMemoryService creates a service and in-memory store with the given
// rules engine.
func NewInMemoryService(engine *domain.RulesEngine, opts ...ServiceOption) *Service {
	return NewService(memory.NewStore(engine), opts...)
}

// Store returns the underlying storage implementation.
func (s *Service) Store() domain.PersistentStore { return s.store }

// Photos returns the configured blob store.
func (s *Service) Photos() blob.Store { return s.photos }

// observe records duration and outcome for one service operation.
func (s *Service) observe(op string, start time.Time, err error) {
	elapsed := time.Since(start)
	if s.metrics != nil {
		s.metrics.RecordOperation(op, elapsed, err)
	}
	if err != nil {
		s.logger.Warn("operation failed", "op", op, "elapsed", elapsed, "err", err)
		return
	}
	s.logger.Debug("operation complete", "op", op, "elapsed", elapsed)
}
