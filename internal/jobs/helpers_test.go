package jobs_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sdqueue/internal/events"
	"sdqueue/internal/jobs"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type memPersister struct {
	mu     sync.Mutex
	loaded []jobs.Job
	last   []jobs.Job
	saves  int
	err    error
}

func (p *memPersister) Load(context.Context) ([]jobs.Job, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]jobs.Job(nil), p.loaded...), nil
}

func (p *memPersister) Save(_ context.Context, snapshot []jobs.Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.saves++
	p.last = snapshot
	return nil
}

func (p *memPersister) Saves() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.saves
}

func (p *memPersister) Last() []jobs.Job {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

func (p *memPersister) lastByID(id string) (jobs.Job, bool) {
	for _, job := range p.Last() {
		if job.ID == id {
			return job, true
		}
	}
	return jobs.Job{}, false
}

// gatedPersister blocks its first Save until release is closed.
type gatedPersister struct {
	memPersister
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedPersister() *gatedPersister {
	return &gatedPersister{entered: make(chan struct{}), release: make(chan struct{})}
}

func (p *gatedPersister) Save(ctx context.Context, snapshot []jobs.Job) error {
	p.once.Do(func() {
		close(p.entered)
		<-p.release
	})
	return p.memPersister.Save(ctx, snapshot)
}

type fakeProgress struct {
	id   string
	info jobs.ProgressInfo
}

func (p fakeProgress) Current() (string, jobs.ProgressInfo, bool) {
	return p.id, p.info, p.id != ""
}

type harness struct {
	store     *jobs.Store
	clock     *fakeClock
	persister *memPersister
	events    *events.Recorder
}

var baseTime = time.Date(2026, 10, 15, 15, 0, 0, 0, time.UTC)

func newHarness(t *testing.T, mutate func(*jobs.Options)) *harness {
	t.Helper()
	h := &harness{
		clock:     newFakeClock(baseTime),
		persister: &memPersister{},
		events:    events.NewRecorder(),
	}
	opts := jobs.Options{
		Persister:  h.persister,
		Events:     h.events,
		SoftDelete: true,
		Retention:  24 * time.Hour,
		Clock:      h.clock.Now,
		Location:   time.UTC,
	}
	if mutate != nil {
		mutate(&opts)
	}
	store, err := jobs.Open(context.Background(), opts)
	require.NoError(t, err)
	h.store = store
	return h
}

func imageParams(prompt string) json.RawMessage {
	raw, _ := json.Marshal(map[string]any{"prompt": prompt})
	return raw
}

func (h *harness) createImage(t *testing.T, prompt string) string {
	t.Helper()
	id, err := h.store.Create(context.Background(), jobs.KindGenerateImage, imageParams(prompt), jobs.ModelSnapshot{
		Name:         "sd-v1-5",
		Architecture: "SD1",
		Loaded:       true,
	})
	require.NoError(t, err)
	return id
}

func (h *harness) get(t *testing.T, id string) jobs.Job {
	t.Helper()
	job, ok := h.store.Get(id)
	require.True(t, ok, "job %s not found", id)
	return job
}

// finishAs drives a fresh job to the requested finished status.
func (h *harness) finishAs(t *testing.T, status jobs.Status) string {
	t.Helper()
	ctx := context.Background()
	id := h.createImage(t, "finish as "+string(status))
	switch status {
	case jobs.StatusPending:
	case jobs.StatusCancelled:
		require.True(t, h.store.Cancel(ctx, id))
	case jobs.StatusCompleted, jobs.StatusFailed:
		claimed, ok := h.store.ClaimNext(ctx)
		require.True(t, ok)
		require.Equal(t, id, claimed.ID)
		h.clock.Advance(time.Second)
		if status == jobs.StatusCompleted {
			_, ok = h.store.Complete(ctx, id, []string{"/out/" + id + ".png"})
		} else {
			_, ok = h.store.Fail(ctx, id, "engine exploded")
		}
		require.True(t, ok)
	default:
		t.Fatalf("unsupported status %s", status)
	}
	return id
}

var errDiskFull = errors.New("disk full")
