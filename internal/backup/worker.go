package backup

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"expirycore/internal/blob"
)

// JobStatus describes the lifecycle stage of a backup request.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// JobRecord tracks a backup export request and its resulting artifact.
type JobRecord struct {
	ID          string     `json:"id"`
	Status      JobStatus  `json:"status"`
	Error       string     `json:"error,omitempty"`
	Artifact    *blob.Info `json:"artifact,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func (r *JobRecord) copy() JobRecord {
	out := *r
	if r.Artifact != nil {
		artifact := *r.Artifact
		out.Artifact = &artifact
	}
	if r.CompletedAt != nil {
		completed := *r.CompletedAt
		out.CompletedAt = &completed
	}
	return out
}

// Worker executes backup exports asynchronously so callers are not blocked
// on archive assembly and artifact upload.
type Worker struct {
	exchange *Exchange
	logger   *slog.Logger

	queue chan string
	mu    sync.RWMutex
	jobs  map[string]*JobRecord

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorker constructs a backup worker around an exchange.
func NewWorker(exchange *Exchange, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		exchange: exchange,
		logger:   logger,
		queue:    make(chan string, 16),
		jobs:     make(map[string]*JobRecord),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins processing backup requests.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.loop()
}

// Stop signals the worker to halt and waits for completion.
func (w *Worker) Stop(ctx context.Context) error {
	w.cancel()
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case id := <-w.queue:
			w.process(id)
		}
	}
}

// Enqueue schedules a backup export and returns the queued record.
func (w *Worker) Enqueue() (JobRecord, error) {
	id := uuid.NewString()
	now := time.Now().UTC()
	record := JobRecord{ID: id, Status: JobStatusQueued, CreatedAt: now, UpdatedAt: now}

	w.mu.Lock()
	w.jobs[id] = &record
	queued := record.copy()
	w.mu.Unlock()

	select {
	case w.queue <- id:
	default:
		w.mu.Lock()
		delete(w.jobs, id)
		w.mu.Unlock()
		return JobRecord{}, fmt.Errorf("backup queue full")
	}
	return queued, nil
}

// GetJob returns a snapshot of the job record.
func (w *Worker) GetJob(id string) (JobRecord, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	record, ok := w.jobs[id]
	if !ok {
		return JobRecord{}, false
	}
	return record.copy(), true
}

func (w *Worker) process(id string) {
	w.update(id, func(r *JobRecord) {
		r.Status = JobStatusRunning
	})
	info, err := w.exchange.Export(w.ctx)
	now := time.Now().UTC()
	if err != nil {
		w.logger.Warn("backup job failed", "job", id, "err", err)
		w.update(id, func(r *JobRecord) {
			r.Status = JobStatusFailed
			r.Error = err.Error()
			r.CompletedAt = &now
		})
		return
	}
	w.update(id, func(r *JobRecord) {
		r.Status = JobStatusSucceeded
		r.Artifact = &info
		r.CompletedAt = &now
	})
}

func (w *Worker) update(id string, mutate func(*JobRecord)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	record, ok := w.jobs[id]
	if !ok {
		return
	}
	mutate(record)
	record.UpdatedAt = time.Now().UTC()
}
