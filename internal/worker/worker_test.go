package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/docflow/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memStore is an in-memory JobStore applying the domain transitions
type memStore struct {
	mu       sync.Mutex
	jobs     map[uuid.UUID]*domain.Job
	leaseErr error
	markErr  error
	stolen   map[uuid.UUID]bool
	leases   int
	stale    []domain.Job
}

func newMemStore() *memStore {
	return &memStore{
		jobs:   make(map[uuid.UUID]*domain.Job),
		stolen: make(map[uuid.UUID]bool),
	}
}

func (m *memStore) add(job *domain.Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *job
	m.jobs[job.ID] = &cp
}

func (m *memStore) get(id uuid.UUID) domain.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.jobs[id]
}

func (m *memStore) LeaseNext(_ context.Context, limit int) ([]domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leases++
	if m.leaseErr != nil {
		return nil, m.leaseErr
	}

	now := time.Now().UTC()
	var out []domain.Job
	for _, j := range m.jobs {
		if j.Status == domain.JobStatusPending && !j.AvailableAt.After(now) {
			out = append(out, *j)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) MarkRunning(_ context.Context, job *domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := m.jobs[job.ID]
	if m.stolen[job.ID] {
		// another worker claimed it between lease and claim
		stored.Status = domain.JobStatusRunning
		return domain.ErrJobAlreadyClaimed
	}
	if err := stored.Start(time.Now().UTC()); err != nil {
		return domain.ErrJobAlreadyClaimed
	}
	*job = *stored
	return nil
}

func (m *memStore) MarkSuccess(_ context.Context, job *domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markErr != nil {
		return m.markErr
	}
	if err := job.Succeed(time.Now().UTC()); err != nil {
		return err
	}
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

func (m *memStore) MarkFailed(_ context.Context, job *domain.Job, cause error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markErr != nil {
		return m.markErr
	}
	if err := job.Fail(cause.Error(), domain.IsPermanent(cause), time.Now().UTC(), 0); err != nil {
		return err
	}
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

// RecoverStale reopens the jobs queued in m.stale
func (m *memStore) RecoverStale(context.Context, time.Duration) ([]domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Job
	for _, j := range m.stale {
		stored := m.jobs[j.ID]
		stored.Status = domain.JobStatusPending
		stored.Attempts++
		out = append(out, *stored)
	}
	m.stale = nil
	return out, nil
}

// statusRecorder captures cache writes
type statusRecorder struct {
	mu       sync.Mutex
	statuses []string
}

func (r *statusRecorder) SetJobStatus(_ context.Context, _ uuid.UUID, status string, _ time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, status)
	return nil
}

func (r *statusRecorder) GetJobStatus(context.Context, uuid.UUID) (string, bool, error) {
	return "", false, nil
}
func (r *statusRecorder) Ping(context.Context) error { return nil }
func (r *statusRecorder) Close() error               { return nil }

func newJob(t *testing.T, jobType domain.JobType, createdAt time.Time) *domain.Job {
	t.Helper()
	target := domain.Target{Type: domain.TargetDocumentVersion, ID: uuid.New()}
	if jobType == domain.JobTypeAIRun {
		target.Type = domain.TargetAIRun
	}
	job, err := domain.NewJob(uuid.New(), jobType, target, map[string]string{}, 3)
	require.NoError(t, err)
	job.CreatedAt = createdAt
	job.AvailableAt = createdAt
	return job
}

func alwaysExists(context.Context, uuid.UUID) (bool, error) { return true, nil }

func newTestWorker(store JobStore, d *Dispatcher, cache *statusRecorder) *Worker {
	cfg := &Config{
		Logger:       testLogger(),
		Store:        store,
		Dispatcher:   d,
		WorkerID:     "test-worker",
		PollInterval: 10 * time.Millisecond,
		JobTimeout:   time.Second,
	}
	if cache != nil {
		cfg.Cache = cache
	}
	return NewWorker(cfg)
}

func newTestDispatcher(h Handler) *Dispatcher {
	d := NewDispatcher(testLogger())
	d.Register(domain.JobTypeDocumentIngest, h)
	d.Register(domain.JobTypeAIRun, h)
	d.RegisterTarget(domain.TargetDocumentVersion, alwaysExists)
	d.RegisterTarget(domain.TargetAIRun, alwaysExists)
	return d
}

func TestRunOnce_Success(t *testing.T) {
	store := newMemStore()
	job := newJob(t, domain.JobTypeDocumentIngest, time.Now().UTC())
	store.add(job)

	var handled []uuid.UUID
	cache := &statusRecorder{}
	w := newTestWorker(store, newTestDispatcher(HandlerFunc(func(_ context.Context, j *domain.Job) error {
		handled = append(handled, j.ID)
		return nil
	})), cache)

	processed, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)
	assert.Equal(t, []uuid.UUID{job.ID}, handled)

	stored := store.get(job.ID)
	assert.Equal(t, domain.JobStatusSuccess, stored.Status)
	assert.NotNil(t, stored.CompletedAt)
	assert.Equal(t, []string{"RUNNING", "SUCCESS"}, cache.statuses)

	processed, err = w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestRunOnce_UnknownJobType(t *testing.T) {
	store := newMemStore()
	job := newJob(t, domain.JobTypeDocumentIngest, time.Now().UTC())
	job.Type = "UNKNOWN_TYPE"
	store.add(job)

	w := newTestWorker(store, newTestDispatcher(HandlerFunc(func(context.Context, *domain.Job) error {
		t.Fatal("handler must not run")
		return nil
	})), nil)

	processed, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)

	stored := store.get(job.ID)
	assert.Equal(t, domain.JobStatusFailed, stored.Status)
	assert.Equal(t, stored.MaxAttempts, stored.Attempts)
	require.NotNil(t, stored.LastError)
	assert.Contains(t, *stored.LastError, "Unknown job type")
	assert.Contains(t, *stored.LastError, "UNKNOWN_TYPE")
}

func TestRunOnce_RetriesUntilExhausted(t *testing.T) {
	store := newMemStore()
	job := newJob(t, domain.JobTypeDocumentIngest, time.Now().UTC())
	store.add(job)

	calls := 0
	w := newTestWorker(store, newTestDispatcher(HandlerFunc(func(context.Context, *domain.Job) error {
		calls++
		return fmt.Errorf("%w: disk unavailable", domain.ErrTransientIO)
	})), nil)

	for i := 1; i <= 3; i++ {
		processed, err := w.RunOnce(context.Background())
		require.NoError(t, err)
		require.True(t, processed)

		stored := store.get(job.ID)
		assert.Equal(t, i, stored.Attempts)
		if i < 3 {
			assert.Equal(t, domain.JobStatusPending, stored.Status)
		}
	}

	stored := store.get(job.ID)
	assert.Equal(t, domain.JobStatusFailed, stored.Status)
	assert.Contains(t, *stored.LastError, "disk unavailable")

	// never returns to PENDING a fourth time
	processed, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, processed)
	assert.Equal(t, 3, calls)
}

func TestRunOnce_ClaimedElsewhere(t *testing.T) {
	store := newMemStore()
	job := newJob(t, domain.JobTypeDocumentIngest, time.Now().UTC())
	store.add(job)
	store.stolen[job.ID] = true

	w := newTestWorker(store, newTestDispatcher(HandlerFunc(func(context.Context, *domain.Job) error {
		t.Fatal("handler must not run")
		return nil
	})), nil)

	processed, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)
	assert.Equal(t, 0, store.get(job.ID).Attempts)
}

func TestRunOnce_FIFO(t *testing.T) {
	store := newMemStore()
	base := time.Now().UTC().Add(-time.Minute)
	second := newJob(t, domain.JobTypeDocumentIngest, base.Add(time.Second))
	first := newJob(t, domain.JobTypeDocumentIngest, base)
	store.add(second)
	store.add(first)

	var order []uuid.UUID
	w := newTestWorker(store, newTestDispatcher(HandlerFunc(func(_ context.Context, j *domain.Job) error {
		order = append(order, j.ID)
		return nil
	})), nil)

	for range 2 {
		_, err := w.RunOnce(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, []uuid.UUID{first.ID, second.ID}, order)
}

func TestRunOnce_HandlerTimeout(t *testing.T) {
	store := newMemStore()
	job := newJob(t, domain.JobTypeAIRun, time.Now().UTC())
	store.add(job)

	w := newTestWorker(store, newTestDispatcher(HandlerFunc(func(ctx context.Context, _ *domain.Job) error {
		<-ctx.Done()
		return ctx.Err()
	})), nil)
	w.jobTimeout = 20 * time.Millisecond

	_, err := w.RunOnce(context.Background())
	require.NoError(t, err)

	stored := store.get(job.ID)
	assert.Equal(t, domain.JobStatusPending, stored.Status)
	assert.Equal(t, 1, stored.Attempts)
	assert.Contains(t, *stored.LastError, "timed out")
}

func TestRunOnce_ShutdownLetsJobFinish(t *testing.T) {
	store := newMemStore()
	job := newJob(t, domain.JobTypeDocumentIngest, time.Now().UTC())
	store.add(job)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := newTestWorker(store, newTestDispatcher(HandlerFunc(func(jobCtx context.Context, _ *domain.Job) error {
		cancel()
		select {
		case <-jobCtx.Done():
			return jobCtx.Err()
		case <-time.After(50 * time.Millisecond):
			return nil
		}
	})), nil)

	processed, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, processed)

	stored := store.get(job.ID)
	assert.Equal(t, domain.JobStatusSuccess, stored.Status)
	assert.Zero(t, stored.Attempts)
	assert.Nil(t, stored.LastError)
}

func TestRunOnce_TimeoutAppliesAfterShutdown(t *testing.T) {
	store := newMemStore()
	job := newJob(t, domain.JobTypeAIRun, time.Now().UTC())
	store.add(job)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := newTestWorker(store, newTestDispatcher(HandlerFunc(func(jobCtx context.Context, _ *domain.Job) error {
		cancel()
		<-jobCtx.Done()
		return jobCtx.Err()
	})), nil)
	w.jobTimeout = 20 * time.Millisecond

	_, err := w.RunOnce(ctx)
	require.NoError(t, err)

	stored := store.get(job.ID)
	assert.Equal(t, domain.JobStatusPending, stored.Status)
	assert.Equal(t, 1, stored.Attempts)
	assert.Contains(t, *stored.LastError, "timed out")
}

func TestRunOnce_HandlerPanic(t *testing.T) {
	store := newMemStore()
	job := newJob(t, domain.JobTypeDocumentIngest, time.Now().UTC())
	store.add(job)

	w := newTestWorker(store, newTestDispatcher(HandlerFunc(func(context.Context, *domain.Job) error {
		panic("nil map")
	})), nil)

	_, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Contains(t, *store.get(job.ID).LastError, "handler panic: nil map")
}

func TestRunOnce_MarkFailureIsReturned(t *testing.T) {
	store := newMemStore()
	store.add(newJob(t, domain.JobTypeDocumentIngest, time.Now().UTC()))
	store.markErr = errors.New("connection refused")

	w := newTestWorker(store, newTestDispatcher(HandlerFunc(func(context.Context, *domain.Job) error {
		return nil
	})), nil)

	_, err := w.RunOnce(context.Background())
	assert.ErrorContains(t, err, "connection refused")
}

func TestRun_RecoveredJobsRefreshCache(t *testing.T) {
	store := newMemStore()
	job := newJob(t, domain.JobTypeDocumentIngest, time.Now().UTC())
	job.Status = domain.JobStatusRunning
	store.add(job)
	store.stale = []domain.Job{*job}
	// the lease fails so Run stops right after recovery
	store.leaseErr = errors.New("database is down")

	cache := &statusRecorder{}
	w := newTestWorker(store, newTestDispatcher(HandlerFunc(func(context.Context, *domain.Job) error {
		return nil
	})), cache)

	require.Error(t, w.Run(context.Background()))
	assert.Equal(t, []string{string(domain.JobStatusPending)}, cache.statuses)
}

func TestRun_StopsOnStoreError(t *testing.T) {
	store := newMemStore()
	store.leaseErr = errors.New("database is down")

	w := newTestWorker(store, newTestDispatcher(HandlerFunc(func(context.Context, *domain.Job) error {
		return nil
	})), nil)

	err := w.Run(context.Background())
	assert.EqualError(t, err, "database is down")
	assert.Equal(t, 1, store.leases)
}

func TestRun_ContinuesAfterHandlerErrorsAndStopsOnCancel(t *testing.T) {
	store := newMemStore()
	failing := newJob(t, domain.JobTypeDocumentIngest, time.Now().UTC().Add(-time.Second))
	passing := newJob(t, domain.JobTypeAIRun, time.Now().UTC())
	failing.MaxAttempts = 1
	store.add(failing)
	store.add(passing)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	w := newTestWorker(store, newTestDispatcher(HandlerFunc(func(_ context.Context, j *domain.Job) error {
		if j.ID == failing.ID {
			return errors.New("boom")
		}
		close(done)
		return nil
	})), nil)

	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("second job was never processed")
	}
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after cancel")
	}

	assert.Equal(t, domain.JobStatusFailed, store.get(failing.ID).Status)
	assert.Equal(t, domain.JobStatusSuccess, store.get(passing.ID).Status)
}

func TestRun_WakeShortensIdleWait(t *testing.T) {
	store := newMemStore()
	processed := make(chan uuid.UUID, 1)
	w := newTestWorker(store, newTestDispatcher(HandlerFunc(func(_ context.Context, j *domain.Job) error {
		processed <- j.ID
		return nil
	})), nil)
	w.pollInterval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	// let the loop reach its idle wait
	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return store.leases >= 1
	}, time.Second, 5*time.Millisecond)

	job := newJob(t, domain.JobTypeDocumentIngest, time.Now().UTC())
	store.add(job)
	w.Wake()

	select {
	case id := <-processed:
		assert.Equal(t, job.ID, id)
	case <-time.After(2 * time.Second):
		t.Fatal("wake did not trigger a lease")
	}
}
